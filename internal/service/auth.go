package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// AuthService guards operational endpoints with a token derived from a shared secret.
type AuthService struct {
	secretKey string
}

func NewAuthService(secretKey string) *AuthService {
	return &AuthService{secretKey: secretKey}
}

// GenerateAuthToken derives the admin token from the secret.
func (a *AuthService) GenerateAuthToken() string {
	hash := sha256.Sum256([]byte(a.secretKey))
	return hex.EncodeToString(hash[:])
}

// ValidateAuthToken checks token against the derived admin token.
func (a *AuthService) ValidateAuthToken(token string) error {
	if token == "" {
		return errors.New("missing admin token")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.GenerateAuthToken())) != 1 {
		return errors.New("admin token mismatch")
	}
	return nil
}
