package services

import (
	"strings"
	"sync"

	pkgauth "github.com/bastionsec/bastion/pkg/auth"
)

// CredentialService is the in-memory credential verifier fronted by the
// guard. Accounts are seeded at startup; there is no registration surface.
type CredentialService struct {
	mu    sync.RWMutex
	users map[string]string // username -> bcrypt hash
}

// NewCredentialService creates an empty credential store.
func NewCredentialService() *CredentialService {
	return &CredentialService{
		users: make(map[string]string),
	}
}

// AddUser hashes and stores a credential. Usernames are case-insensitive.
func (s *CredentialService) AddUser(username, password string) error {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[normalizeUsername(username)] = hash
	return nil
}

// Verify checks a credential. The unknown-account path burns a bcrypt
// comparison of the same cost as a real one, so callers cannot distinguish
// "no such user" from "wrong password" by timing.
func (s *CredentialService) Verify(username, password string) bool {
	s.mu.RLock()
	hash, ok := s.users[normalizeUsername(username)]
	s.mu.RUnlock()

	if !ok {
		pkgauth.DummyCompare(password)
		return false
	}

	return pkgauth.ComparePassword(hash, password) == nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
