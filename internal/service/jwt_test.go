package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora-server/internal/model"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "agora", 1)
	token, err := svc.GenerateToken(model.Identity{
		ID:           "seller-1",
		Role:         model.RoleSeller,
		AccountLevel: model.LevelEnterprise,
		IsActive:     true,
	})
	require.NoError(t, err)

	identity, err := svc.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "seller-1", identity.ID)
	assert.Equal(t, model.RoleSeller, identity.Role)
	assert.Equal(t, model.LevelEnterprise, identity.AccountLevel)
}

func TestJWTService_DefaultsAccountLevel(t *testing.T) {
	svc := NewJWTService("secret", "", 1)
	token, err := svc.GenerateToken(model.Identity{ID: "u1", Role: model.RoleUser, IsActive: true})
	require.NoError(t, err)

	identity, err := svc.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, model.LevelFree, identity.AccountLevel)
}

func TestJWTService_RefusesUnaddressableUserID(t *testing.T) {
	svc := NewJWTService("secret", "agora", 1)
	_, err := svc.GenerateToken(model.Identity{ID: "a/b", Role: model.RoleUser, IsActive: true})
	assert.Error(t, err)

	token, err := svc.GenerateToken(model.Identity{ID: "ada@example.org", Role: model.RoleUser, IsActive: true})
	require.NoError(t, err)
	identity, err := svc.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.org", identity.ID)
}

func signed(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestJWTService_Rejections(t *testing.T) {
	svc := NewJWTService("secret", "agora", 1)
	now := time.Now()
	valid := func() jwt.MapClaims {
		return jwt.MapClaims{
			"user_id": "u1",
			"role":    "USER",
			"active":  true,
			"iss":     "agora",
			"iat":     now.Unix(),
			"exp":     now.Add(time.Hour).Unix(),
		}
	}

	expired := valid()
	expired["exp"] = now.Add(-time.Minute).Unix()
	noUser := valid()
	delete(noUser, "user_id")
	badRole := valid()
	badRole["role"] = "ROOT"
	inactive := valid()
	inactive["active"] = false
	wrongIssuer := valid()
	wrongIssuer["iss"] = "someone-else"
	noExpiry := valid()
	delete(noExpiry, "exp")
	spacedUser := valid()
	spacedUser["user_id"] = "has space"
	longUser := valid()
	longUser["user_id"] = strings.Repeat("u", 129)

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"bad secret":   signed(t, jwt.SigningMethodHS256, []byte("other"), valid()),
		"wrong alg":    signed(t, jwt.SigningMethodHS512, []byte("secret"), valid()),
		"expired":      signed(t, jwt.SigningMethodHS256, []byte("secret"), expired),
		"no user":      signed(t, jwt.SigningMethodHS256, []byte("secret"), noUser),
		"bad role":     signed(t, jwt.SigningMethodHS256, []byte("secret"), badRole),
		"inactive":     signed(t, jwt.SigningMethodHS256, []byte("secret"), inactive),
		"wrong issuer": signed(t, jwt.SigningMethodHS256, []byte("secret"), wrongIssuer),
		"no expiry":    signed(t, jwt.SigningMethodHS256, []byte("secret"), noExpiry),
		"spaced user":  signed(t, jwt.SigningMethodHS256, []byte("secret"), spacedUser),
		"long user":    signed(t, jwt.SigningMethodHS256, []byte("secret"), longUser),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			identity, err := svc.Verify(context.Background(), token)
			assert.Nil(t, identity)
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
		})
	}
}

func TestAuthService(t *testing.T) {
	auth := NewAuthService("ops-secret")
	token := auth.GenerateAuthToken()

	assert.Len(t, token, 64)
	assert.NoError(t, auth.ValidateAuthToken(token))
	assert.Error(t, auth.ValidateAuthToken(""))
	assert.Error(t, auth.ValidateAuthToken("nope"))
	assert.Error(t, NewAuthService("other").ValidateAuthToken(token))
}
