package services

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// AccessService guards the HTTP API with an optional shared PIN. Only the
// bcrypt hash of the PIN is kept in memory.
type AccessService struct {
	pinHash []byte
}

// NewAccessService hashes pin. An empty pin disables the check.
func NewAccessService(pin string) (*AccessService, error) {
	if pin == "" {
		return &AccessService{}, nil
	}
	hashedPIN, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash PIN: %w", err)
	}
	return &AccessService{pinHash: hashedPIN}, nil
}

// Enabled reports whether a PIN is required
func (s *AccessService) Enabled() bool {
	return s != nil && len(s.pinHash) > 0
}

// VerifyPIN reports whether pin matches. It always succeeds when disabled.
func (s *AccessService) VerifyPIN(pin string) bool {
	if !s.Enabled() {
		return true
	}
	return bcrypt.CompareHashAndPassword(s.pinHash, []byte(pin)) == nil
}
