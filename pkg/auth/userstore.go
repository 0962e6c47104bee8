// Package auth contains utilities to perform authentication.
package auth

import (
	"fmt"
	"sync"
)

// DefaultRealm is the realm used when none is configured.
const DefaultRealm = "RTSP Server"

// UserStore is a set of credentials, associated with a realm.
// It is safe for concurrent use.
type UserStore struct {
	realm string

	mutex sync.RWMutex
	users map[string]string
}

// NewUserStore allocates a UserStore.
func NewUserStore(realm string) *UserStore {
	if realm == "" {
		realm = DefaultRealm
	}

	return &UserStore{
		realm: realm,
		users: make(map[string]string),
	}
}

// Realm returns the realm of the store.
func (s *UserStore) Realm() string {
	return s.realm
}

// AddUser adds or replaces a user.
// Adding an existing user replaces its password.
func (s *UserStore) AddUser(user string, pass string) error {
	if user == "" {
		return fmt.Errorf("empty username")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.users[user] = pass
	return nil
}

// RemoveUser removes a user.
func (s *UserStore) RemoveUser(user string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.users[user]; !ok {
		return ErrUnknownUser{User: user}
	}

	delete(s.users, user)
	return nil
}

// UserCount returns the number of stored users.
func (s *UserStore) UserCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.users)
}

func (s *UserStore) password(user string) (string, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	pass, ok := s.users[user]
	return pass, ok
}
