package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agora-server/internal/model"
)

// ErrAuthenticationFailed is the single error every verification failure maps to.
var ErrAuthenticationFailed = errors.New("authentication failed")

// IdentityVerifier turns a bearer credential into a verified identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*model.Identity, error)
}

type JWTService struct {
	secret          string
	issuer          string
	expirationHours int
}

func NewJWTService(secret, issuer string, expirationHours int) *JWTService {
	return &JWTService{
		secret:          secret,
		issuer:          issuer,
		expirationHours: expirationHours,
	}
}

// GenerateToken issues a signed token for identity.
func (j *JWTService) GenerateToken(identity model.Identity) (string, error) {
	if !ValidUserID(identity.ID) {
		return "", fmt.Errorf("user id %q is not addressable", identity.ID)
	}
	now := time.Now()
	level := identity.AccountLevel
	if level == "" {
		level = model.LevelFree
	}

	claims := jwt.MapClaims{
		"user_id":       identity.ID,
		"role":          string(identity.Role),
		"account_level": string(level),
		"active":        identity.IsActive,
		"iat":           now.Unix(),
		"exp":           now.Add(time.Duration(j.expirationHours) * time.Hour).Unix(),
	}
	if j.issuer != "" {
		claims["iss"] = j.issuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.secret))
}

// Verify implements IdentityVerifier. Every failure wraps ErrAuthenticationFailed.
func (j *JWTService) Verify(_ context.Context, tokenString string) (*model.Identity, error) {
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	identity := &model.Identity{
		ID:           claims.UserID,
		Role:         claims.Role,
		AccountLevel: claims.AccountLevel,
		IsActive:     claims.Active,
		LastSeen:     time.Now(),
	}
	if !identity.IsActive {
		return nil, fmt.Errorf("%w: account inactive", ErrAuthenticationFailed)
	}
	return identity, nil
}

// ValidateToken parses and checks a token, returning its claims.
func (j *JWTService) ValidateToken(tokenString string) (*model.JWTClaims, error) {
	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(j.secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}

	out := &model.JWTClaims{}
	if userID, ok := claims["user_id"].(string); ok {
		out.UserID = userID
	}
	if role, ok := claims["role"].(string); ok {
		out.Role = model.Role(role)
	}
	if level, ok := claims["account_level"].(string); ok {
		out.AccountLevel = model.AccountLevel(level)
	}
	if active, ok := claims["active"].(bool); ok {
		out.Active = active
	}
	if iat, ok := claims["iat"].(float64); ok {
		out.IssuedAt = int64(iat)
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = int64(exp)
	}

	if out.UserID == "" {
		return nil, errors.New("token has no user_id")
	}
	if !ValidUserID(out.UserID) {
		return nil, fmt.Errorf("user_id %q is not addressable", out.UserID)
	}
	if !out.Role.Valid() {
		return nil, fmt.Errorf("unknown role %q", out.Role)
	}
	if !out.AccountLevel.Valid() {
		out.AccountLevel = model.LevelFree
	}
	return out, nil
}
