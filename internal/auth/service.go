package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sitestock/sitestock/internal/shared"
)

// Service checks the single shared password that guards the intake page.
type Service struct {
	hash []byte
}

// NewService constructs a Service from a bcrypt hash. An empty hash disables login.
func NewService(passwordHash string) (*Service, error) {
	if passwordHash == "" {
		return &Service{}, nil
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, fmt.Errorf("auth: invalid password hash: %w", err)
	}
	return &Service{hash: []byte(passwordHash)}, nil
}

// Enabled reports whether a password is configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.hash) > 0
}

// Authenticate validates the password.
func (s *Service) Authenticate(password string) error {
	if !s.Enabled() {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return shared.ErrInvalidCredentials
		}
		return fmt.Errorf("auth: compare password: %w", err)
	}
	return nil
}

// HashPassword produces the value for APP_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("auth: password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
