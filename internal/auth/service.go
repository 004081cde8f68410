package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when the admin password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAdminDisabled is returned when no admin password is configured.
	ErrAdminDisabled = errors.New("admin login disabled")
	// ErrForbidden is returned when a valid token lacks the admin role.
	ErrForbidden = errors.New("forbidden")
)

// Service issues and checks admin tokens.
type Service struct {
	adminPassword string
	jwtConfig     *JWTConfig
}

// NewService creates a new authentication service. adminPassword may be a
// bcrypt hash or a plain secret; an empty value disables admin login.
func NewService(adminPassword string, jwtConfig *JWTConfig) *Service {
	return &Service{
		adminPassword: adminPassword,
		jwtConfig:     jwtConfig,
	}
}

// Login validates the admin password and returns a JWT token.
func (s *Service) Login(password string) (string, error) {
	if s.adminPassword == "" {
		return "", ErrAdminDisabled
	}
	if !MatchPassword(s.adminPassword, password) {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, RoleAdmin)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// ValidateToken validates a JWT token and requires the admin role.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := ValidateToken(s.jwtConfig, tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleAdmin {
		return nil, ErrForbidden
	}
	return claims, nil
}
