package apikit

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordService hashes and verifies passwords with bcrypt.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService. A cost outside bcrypt's range uses bcrypt.DefaultCost.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordService{cost: cost}
}

// Hash returns the bcrypt hash of plain.
func (s *PasswordService) Hash(plain string) (string, error) {
	if plain == "" {
		return "", NewError(ErrValidation, "password is required").WithField("password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", NewError(ErrValidation, "password is too long").WithField("password")
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether plain matches hash.
func (s *PasswordService) Verify(hash, plain string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
