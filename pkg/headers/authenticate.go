package headers

import (
	"fmt"
	"strings"

	"github.com/camsrv/rtspd/pkg/base"
)

// Authenticate is a WWW-Authenticate header.
type Authenticate struct {
	// authentication method
	Method AuthMethod

	// realm
	Realm string

	// nonce (digest only)
	Nonce string

	// stale (digest only)
	Stale *string

	// opaque (digest only)
	Opaque *string
}

// Unmarshal decodes a WWW-Authenticate header.
func (h *Authenticate) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	v0 := v[0]

	i := strings.IndexByte(v0, ' ')
	if i < 0 {
		return fmt.Errorf("unable to split between method and keys (%v)", v0)
	}
	method, v0 := v0[:i], v0[i+1:]

	switch method {
	case "Basic":
		h.Method = AuthBasic

	case "Digest":
		h.Method = AuthDigestMD5

	default:
		return fmt.Errorf("invalid method (%s)", method)
	}

	kvs, err := keyValParse(v0, ',')
	if err != nil {
		return err
	}

	realmReceived := false

	for k, rv := range kvs {
		v := rv

		switch k {
		case "realm":
			h.Realm = v
			realmReceived = true

		case "nonce":
			h.Nonce = v

		case "stale":
			h.Stale = &v

		case "opaque":
			h.Opaque = &v

		case "algorithm":
			if h.Method == AuthDigestMD5 && v != "MD5" {
				return fmt.Errorf("unsupported algorithm (%s)", v)
			}
		}
	}

	if !realmReceived {
		return fmt.Errorf("realm is missing")
	}

	if h.Method == AuthDigestMD5 && h.Nonce == "" {
		return fmt.Errorf("nonce is missing")
	}

	return nil
}

// Marshal encodes a WWW-Authenticate header.
func (h Authenticate) Marshal() base.HeaderValue {
	if h.Method == AuthBasic {
		return base.HeaderValue{"Basic realm=\"" + h.Realm + "\""}
	}

	ret := "Digest realm=\"" + h.Realm + "\", nonce=\"" + h.Nonce + "\""

	if h.Stale != nil {
		ret += ", stale=\"" + *h.Stale + "\""
	}

	if h.Opaque != nil {
		ret += ", opaque=\"" + *h.Opaque + "\""
	}

	return base.HeaderValue{ret}
}
