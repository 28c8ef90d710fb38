package domain

import (
	"errors"
	"strings"
	"time"
)

// Account is a locally managed identity. PasswordHash is a bcrypt digest and
// never leaves the storage layer in responses.
type Account struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// NormalizeEmail canonicalizes an address for use as a lookup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateCredentials checks signup input before any hashing happens.
func ValidateCredentials(email, password string) error {
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return errors.New("a valid email address is required")
	}
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}
