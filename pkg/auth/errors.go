package auth

import (
	"fmt"
)

// ErrUnknownUser is returned when credentials reference a user
// that is not in the store.
type ErrUnknownUser struct {
	User string
}

// Error implements the error interface.
func (e ErrUnknownUser) Error() string {
	return fmt.Sprintf("unknown user '%s'", e.User)
}

// ErrCredentialsInvalid is returned when credentials do not match.
type ErrCredentialsInvalid struct{}

// Error implements the error interface.
func (e ErrCredentialsInvalid) Error() string {
	return "invalid credentials"
}

// ErrNonceMismatch is returned when the nonce of a digest request
// does not match the nonce of the challenge.
type ErrNonceMismatch struct{}

// Error implements the error interface.
func (e ErrNonceMismatch) Error() string {
	return "wrong nonce"
}

// ErrRealmMismatch is returned when the realm of a digest request
// does not match the realm of the server.
type ErrRealmMismatch struct{}

// Error implements the error interface.
func (e ErrRealmMismatch) Error() string {
	return "wrong realm"
}

// ErrURIMismatch is returned when the uri of a digest request
// does not match the request URI.
type ErrURIMismatch struct{}

// Error implements the error interface.
func (e ErrURIMismatch) Error() string {
	return "wrong URI"
}

// ErrAuthorizationMissing is returned when a request carries
// no Authorization header.
type ErrAuthorizationMissing struct{}

// Error implements the error interface.
func (e ErrAuthorizationMissing) Error() string {
	return "authorization header is missing"
}
