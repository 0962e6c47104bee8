package auth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/camsrv/rtspd/pkg/base"
	"github.com/camsrv/rtspd/pkg/headers"
)

func md5Hex(in string) string {
	h := md5.New()
	h.Write([]byte(in))
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateNonce generates a nonce that can be used in a digest challenge.
func GenerateNonce() (string, error) {
	byts := make([]byte, 16)
	_, err := rand.Read(byts)
	if err != nil {
		return "", fmt.Errorf("unable to generate nonce: %w", err)
	}

	return hex.EncodeToString(byts), nil
}

// GenerateWWWAuthenticate generates a WWW-Authenticate header
// for the given method, realm and nonce.
func GenerateWWWAuthenticate(method headers.AuthMethod, realm string, nonce string) base.HeaderValue {
	h := headers.Authenticate{
		Method: method,
		Realm:  realm,
	}
	if method == headers.AuthDigestMD5 {
		h.Nonce = nonce
	}
	return h.Marshal()
}

// Validate validates the credentials of a request against a user store.
// nonce is the nonce of the challenge previously sent to the client;
// it is checked only when the request uses digest authentication.
func Validate(
	req *base.Request,
	store *UserStore,
	nonce string,
) error {
	v, ok := req.Header["Authorization"]
	if !ok {
		return ErrAuthorizationMissing{}
	}

	var h headers.Authorization
	err := h.Unmarshal(v)
	if err != nil {
		return err
	}

	if h.Method == headers.AuthBasic {
		storedPass, ok := store.password(h.BasicUser)
		if !ok {
			return ErrUnknownUser{User: h.BasicUser}
		}

		if h.BasicPass != storedPass {
			return ErrCredentialsInvalid{}
		}

		return nil
	}

	// digest
	if h.Realm != store.Realm() {
		return ErrRealmMismatch{}
	}

	if h.Nonce != nonce {
		return ErrNonceMismatch{}
	}

	if h.URI != req.URL.String() {
		return ErrURIMismatch{}
	}

	storedPass, ok := store.password(h.Username)
	if !ok {
		return ErrUnknownUser{User: h.Username}
	}

	ha1 := md5Hex(h.Username + ":" + store.Realm() + ":" + storedPass)
	ha2 := md5Hex(string(req.Method) + ":" + h.URI)

	if md5Hex(ha1+":"+nonce+":"+ha2) != h.Response {
		return ErrCredentialsInvalid{}
	}

	return nil
}
