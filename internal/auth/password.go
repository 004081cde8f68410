package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost is the default cost for bcrypt hashing.
	bcryptCost = 10
)

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword compares a bcrypt hashed password with its plaintext version.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// MatchPassword reports whether supplied matches stored. Stored values that
// are not bcrypt hashes come from rows written before hashing was introduced
// and are compared in constant time.
func MatchPassword(stored, supplied string) bool {
	if IsHashed(stored) {
		return ComparePassword(stored, supplied) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}

// IsHashed reports whether s looks like a bcrypt hash.
func IsHashed(s string) bool {
	return strings.HasPrefix(s, "$2") && len(s) == 60
}
