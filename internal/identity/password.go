package identity

import (
	"errors"
	"fmt"

	"classroom-qa/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is enforced on sign-up.
const MinPasswordLength = 6

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", domain.Invalid("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares password with hash. Any mismatch, including an
// empty hash, yields domain.ErrInvalidCredentials.
func CheckPassword(hash, password string) error {
	if hash == "" {
		return domain.ErrInvalidCredentials
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return domain.ErrInvalidCredentials
	default:
		return fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
	}
}
