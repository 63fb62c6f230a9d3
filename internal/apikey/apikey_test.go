package apikey_test

import (
	"context"
	"strings"
	"testing"

	"github.com/kiranshivaraju/errhub/internal/apikey"
	"github.com/kiranshivaraju/errhub/internal/store"
	"github.com/kiranshivaraju/errhub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	a, err := apikey.Generate()
	require.NoError(t, err)
	b, err := apikey.Generate()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "ehk_"))
	assert.Len(t, a, 4+48)
	assert.NotEqual(t, a, b)
}

func TestNew_HashesAndMatches(t *testing.T) {
	raw, err := apikey.Generate()
	require.NoError(t, err)

	key, err := apikey.New(" flows ", []string{models.ScopeIngest}, raw)
	require.NoError(t, err)
	assert.Equal(t, "flows", key.Name)
	assert.Equal(t, raw[:apikey.PrefixLen], key.KeyPrefix)
	assert.NotContains(t, key.KeyHash, raw)
	assert.True(t, apikey.Matches(key, raw))
	assert.False(t, apikey.Matches(key, raw+"x"))
}

func TestNew_Invalid(t *testing.T) {
	raw := "ehk_0123456789abcdef"
	tests := []struct {
		name   string
		key    string
		scopes []string
		raw    string
	}{
		{"empty name", " ", []string{"read"}, raw},
		{"no scopes", "k", nil, raw},
		{"unknown scope", "k", []string{"write"}, raw},
		{"short key", "k", []string{"read"}, "ehk_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := apikey.New(tt.key, tt.scopes, tt.raw)
			assert.ErrorIs(t, err, apikey.ErrInvalidKey)
		})
	}
}

func TestBootstrap(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	raw := "bootstrap-admin-secret-key"

	created, err := apikey.Bootstrap(ctx, st, raw)
	require.NoError(t, err)
	assert.True(t, created)

	keys, err := st.GetAPIKeyByPrefix(ctx, raw[:apikey.PrefixLen])
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, apikey.BootstrapName, keys[0].Name)
	assert.Equal(t, []string{models.ScopeAdmin}, keys[0].Scopes)

	created, err = apikey.Bootstrap(ctx, st, "another-admin-secret-key")
	require.NoError(t, err)
	assert.False(t, created, "only an empty key table is bootstrapped")
}

func TestBootstrap_NoKeyConfigured(t *testing.T) {
	created, err := apikey.Bootstrap(context.Background(), store.NewMemoryStore(), "")
	require.NoError(t, err)
	assert.False(t, created)
}
