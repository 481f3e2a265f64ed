package auth

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Credential-store errors surfaced to the signup/login handlers.
var (
	ErrNotAllowed       = errors.New("auth: email is not on the allow list")
	ErrAlreadyExists    = errors.New("auth: account already exists")
	ErrUnknownAccount   = errors.New("auth: no account for this email")
	ErrBadCredentials   = errors.New("auth: incorrect password")
	ErrWeakPassword     = errors.New("auth: password must be at least 6 characters")
	ErrMissingArguments = errors.New("auth: email and password are required")
)

// CredentialStore maps lower-cased operator emails to bcrypt hashes,
// gated by a fixed allow-list of permitted identities. It decides only
// whether an admin operator is present; the ledger never consults it.
type CredentialStore struct {
	mu      sync.Mutex
	allowed map[string]bool
	users   map[string]string
}

// NewCredentialStore builds a store from the configured allow-list.
func NewCredentialStore(allowedEmails []string) *CredentialStore {
	allowed := make(map[string]bool, len(allowedEmails))
	for _, e := range allowedEmails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			allowed[e] = true
		}
	}
	return &CredentialStore{allowed: allowed, users: make(map[string]string)}
}

// Register creates an account for an allow-listed email.
func (s *CredentialStore) Register(email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return ErrMissingArguments
	}
	if len(password) < 6 {
		return ErrWeakPassword
	}
	if !s.allowed[email] {
		return ErrNotAllowed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; ok {
		return ErrAlreadyExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s.users[email] = string(hash)
	return nil
}

// Verify checks a login attempt.
func (s *CredentialStore) Verify(email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return ErrMissingArguments
	}

	s.mu.Lock()
	hash, ok := s.users[email]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownAccount
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrBadCredentials
	}
	return nil
}
