package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora-server/internal/config"
	"agora-server/internal/service"
	"agora-server/internal/store/memory"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MODE", "test-missing")
	t.Setenv("AGORA_JWT_SECRET", "cli-secret")
	t.Setenv("AGORA_ADMIN_SECRET", "cli-admin")

	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, "token", "--user", "seller-1", "--role", "SELLER", "--level", "PREMIUM")
	require.NoError(t, err)

	var token string
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "token:"); ok {
			token = strings.TrimSpace(v)
		}
	}
	require.NotEmpty(t, token)

	identity, err := service.NewJWTService("cli-secret", "agora", 1).Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "seller-1", identity.ID)
	assert.EqualValues(t, "SELLER", identity.Role)
	assert.EqualValues(t, "PREMIUM", identity.AccountLevel)
}

func TestTokenCommand_Rejects(t *testing.T) {
	_, err := run(t, "token", "--user", "u1", "--role", "ROOT")
	assert.ErrorContains(t, err, "ROOT")

	_, err = run(t, "token")
	assert.Error(t, err)
}

func TestAdminTokenCommand(t *testing.T) {
	out, err := run(t, "admin-token")
	require.NoError(t, err)
	assert.NoError(t, service.NewAuthService("cli-admin").ValidateAuthToken(strings.TrimSpace(out)))
}

func TestMigrateCommand_RequiresDSN(t *testing.T) {
	_, err := run(t, "migrate")
	assert.ErrorContains(t, err, "dsn")
}

func TestOpenStore_Memory(t *testing.T) {
	st, err := openStore(context.Background(), config.Store{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, st)
	assert.NoError(t, st.Close())
}
