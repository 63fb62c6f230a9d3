// Package apikey issues and hashes the bearer keys used by producers, operators
// and admins.
package apikey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errhub/internal/store"
	"github.com/kiranshivaraju/errhub/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// PrefixLen is the number of leading characters stored in clear for lookup.
const PrefixLen = 8

const (
	rawPrefix     = "ehk_"
	BootstrapName = "bootstrap-admin"
)

var ErrInvalidKey = errors.New("invalid api key")

// Generate returns a new random raw key.
func Generate() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return rawPrefix + hex.EncodeToString(buf), nil
}

// New builds the stored form of raw. The raw key itself is never kept.
func New(name string, scopes []string, raw string) (*models.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidKey)
	}
	if len(raw) < PrefixLen*2 {
		return nil, fmt.Errorf("%w: key must be at least %d characters", ErrInvalidKey, PrefixLen*2)
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("%w: at least one scope is required", ErrInvalidKey)
	}
	for _, s := range scopes {
		if !models.ValidScope(s) {
			return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidKey, s)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing key: %w", err)
	}

	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:PrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Matches reports whether raw is the key behind k.
func Matches(k *models.APIKey, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) == nil
}

// Bootstrap stores raw as an admin key when no live key exists yet. It reports
// whether a key was created.
func Bootstrap(ctx context.Context, st store.Store, raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	n, err := st.CountAPIKeys(ctx)
	if err != nil {
		return false, fmt.Errorf("counting api keys: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	key, err := New(BootstrapName, []string{models.ScopeAdmin}, raw)
	if err != nil {
		return false, err
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return false, nil
		}
		return false, fmt.Errorf("creating bootstrap key: %w", err)
	}
	return true, nil
}
