package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/errhub/internal/store"
	"github.com/kiranshivaraju/errhub/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("errhub_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	// Applying twice is a no-op
	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func pgRecord(fp string) *models.ErrorRecord {
	return &models.ErrorRecord{
		ID:             uuid.New(),
		Fingerprint:    fp,
		Type:           models.ErrorTypeFlow,
		Source:         "Account_Update_Flow",
		Message:        "NullPointer at step 3",
		Details:        "fault path element Update_Records",
		BusinessImpact: models.ImpactHigh,
		Environment:    "Production",
		SubmittedBy:    "flows",
	}
}

// --- Error Record Tests ---

func TestErrorRecord_UpsertInsert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	res, err := s.UpsertErrorRecord(ctx, pgRecord("fp-insert"), store.UpsertOptions{Now: now})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Reopened)
	assert.Equal(t, 1, res.Record.OccurrenceCount)
	assert.True(t, now.Equal(res.Record.FirstOccurrence))
	assert.True(t, now.Equal(res.Record.LastOccurrence))
	assert.Equal(t, models.StatusNew, res.Record.ResolutionStatus)
	assert.Equal(t, models.ErrorTypeFlow, res.Record.Type)
	assert.Nil(t, res.Record.AssignedTo)
}

func TestErrorRecord_UpsertMerge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Microsecond)

	first, err := s.UpsertErrorRecord(ctx, pgRecord("fp-merge"), store.UpsertOptions{Now: t0})
	require.NoError(t, err)

	again := pgRecord("fp-merge")
	again.Details = "second stack"
	again.Context = "retry 2"
	again.BusinessImpact = models.ImpactLow
	res, err := s.UpsertErrorRecord(ctx, again, store.UpsertOptions{Now: t0.Add(time.Second)})
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, first.Record.ID, res.Record.ID)
	assert.Equal(t, 2, res.Record.OccurrenceCount)
	assert.True(t, t0.Equal(res.Record.FirstOccurrence))
	assert.True(t, t0.Add(time.Second).Equal(res.Record.LastOccurrence))
	assert.Equal(t, "second stack", res.Record.Details)
	assert.Equal(t, "retry 2", res.Record.Context)
	assert.Equal(t, models.ImpactHigh, res.Record.BusinessImpact)
}

func TestErrorRecord_ConcurrentUpserts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.UpsertErrorRecord(ctx, pgRecord("fp-hot"), store.UpsertOptions{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	fp := "fp-hot"
	records, total, err := s.ListErrorRecords(ctx, store.RecordFilter{Fingerprint: &fp})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, n, records[0].OccurrenceCount)
}

func TestErrorRecord_ReopenOnNewOccurrence(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	opts := store.UpsertOptions{Reopen: []models.ResolutionStatus{models.StatusResolved}}

	res, err := s.UpsertErrorRecord(ctx, pgRecord("fp-reopen"), opts)
	require.NoError(t, err)
	_, err = s.TransitionErrorRecord(ctx, res.Record.ID, store.Transition{Action: store.ActionResolve, Actor: "ops"})
	require.NoError(t, err)

	res, err = s.UpsertErrorRecord(ctx, pgRecord("fp-reopen"), opts)
	require.NoError(t, err)
	assert.True(t, res.Reopened)
	assert.Equal(t, models.StatusNew, res.Record.ResolutionStatus)

	history, err := s.ListStatusChanges(ctx, res.Record.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.StatusResolved, history[0].ToStatus)
	assert.Equal(t, models.StatusResolved, history[1].FromStatus)
	assert.Equal(t, models.StatusNew, history[1].ToStatus)
	assert.Equal(t, models.ActorSystem, history[1].Actor)
}

func TestErrorRecord_ReopenIgnoredUnderTerminalPolicy(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	opts := store.UpsertOptions{Reopen: []models.ResolutionStatus{models.StatusResolved, models.StatusIgnored}}

	res, err := s.UpsertErrorRecord(ctx, pgRecord("fp-terminal"), opts)
	require.NoError(t, err)
	_, err = s.TransitionErrorRecord(ctx, res.Record.ID, store.Transition{Action: store.ActionIgnore, Actor: "ops"})
	require.NoError(t, err)

	res, err = s.UpsertErrorRecord(ctx, pgRecord("fp-terminal"), opts)
	require.NoError(t, err)
	assert.True(t, res.Reopened)
	assert.Equal(t, models.StatusNew, res.Record.ResolutionStatus)

	got, err := s.GetErrorRecord(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, got.ResolutionStatus)

	history, err := s.ListStatusChanges(ctx, res.Record.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.StatusIgnored, history[1].FromStatus)
	assert.Equal(t, models.StatusNew, history[1].ToStatus)
	assert.Equal(t, models.ActorSystem, history[1].Actor)
}

func TestErrorRecord_NULMessageIsPermanent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	rec := pgRecord("fp-nul")
	rec.Message = "boom\x00tail"
	_, err := s.UpsertErrorRecord(context.Background(), rec, store.UpsertOptions{})
	require.Error(t, err)
	assert.True(t, store.IsPermanent(err))
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"data exception", &pgconn.PgError{Code: "22021"}, true},
		{"wrapped integrity violation", fmt.Errorf("upsert: %w", &pgconn.PgError{Code: "23514"}), true},
		{"program limit", &pgconn.PgError{Code: "54000"}, true},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, false},
		{"connection failure", &pgconn.PgError{Code: "08006"}, false},
		{"plain error", errors.New("connection refused"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, store.IsPermanent(tt.err))
		})
	}
}

func TestErrorRecord_NoReopenWhenPolicyEmpty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	res, err := s.UpsertErrorRecord(ctx, pgRecord("fp-never"), store.UpsertOptions{})
	require.NoError(t, err)
	_, err = s.TransitionErrorRecord(ctx, res.Record.ID, store.Transition{Action: store.ActionResolve, Actor: "ops"})
	require.NoError(t, err)

	res, err = s.UpsertErrorRecord(ctx, pgRecord("fp-never"), store.UpsertOptions{})
	require.NoError(t, err)
	assert.False(t, res.Reopened)
	assert.Equal(t, models.StatusResolved, res.Record.ResolutionStatus)
}

func TestErrorRecord_AutoAssignOnlyOnCreate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := pgRecord("fp-assign")
	first := "flows"
	rec.AssignedTo = &first
	_, err := s.UpsertErrorRecord(ctx, rec, store.UpsertOptions{})
	require.NoError(t, err)

	rec2 := pgRecord("fp-assign")
	second := "someone-else"
	rec2.AssignedTo = &second
	res, err := s.UpsertErrorRecord(ctx, rec2, store.UpsertOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Record.AssignedTo)
	assert.Equal(t, "flows", *res.Record.AssignedTo)
}

func TestErrorRecord_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetErrorRecord(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.ListStatusChanges(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestErrorRecord_ListWithFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	t0 := time.Now().UTC().Truncate(time.Microsecond).Add(-time.Hour)

	apex := pgRecord("fp-apex")
	apex.Type = models.ErrorTypeApex
	apex.BusinessImpact = models.ImpactCritical
	_, err := s.UpsertErrorRecord(ctx, apex, store.UpsertOptions{Now: t0})
	require.NoError(t, err)

	for i, fp := range []string{"fp-flow-1", "fp-flow-2"} {
		_, err := s.UpsertErrorRecord(ctx, pgRecord(fp), store.UpsertOptions{Now: t0.Add(time.Duration(i+1) * time.Minute)})
		require.NoError(t, err)
	}

	all, total, err := s.ListErrorRecords(ctx, store.RecordFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "fp-flow-2", all[0].Fingerprint, "ordered by last occurrence desc")

	_, total, err = s.ListErrorRecords(ctx, store.RecordFilter{Type: models.ErrorTypeFlow})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	crit, total, err := s.ListErrorRecords(ctx, store.RecordFilter{Impact: models.ImpactCritical})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "fp-apex", crit[0].Fingerprint)

	_, total, err = s.ListErrorRecords(ctx, store.RecordFilter{Since: t0.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, total, err = s.ListErrorRecords(ctx, store.RecordFilter{Until: t0.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	page, total, err := s.ListErrorRecords(ctx, store.RecordFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 1)

	_, err = s.TransitionErrorRecord(ctx, crit[0].ID, store.Transition{Action: store.ActionAssign, Assignee: "alice", Actor: "lead"})
	require.NoError(t, err)
	mine, total, err := s.ListErrorRecords(ctx, store.RecordFilter{AssignedTo: "alice", Status: models.StatusAssigned})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, crit[0].ID, mine[0].ID)
}

func TestErrorRecord_LongFingerprintUniqueIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	fp := strings.Repeat("x", 255)
	_, err := s.UpsertErrorRecord(ctx, pgRecord(fp), store.UpsertOptions{})
	require.NoError(t, err)
	res, err := s.UpsertErrorRecord(ctx, pgRecord(fp), store.UpsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Record.OccurrenceCount)
}

func TestErrorRecord_Summary(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.UpsertErrorRecord(ctx, pgRecord("fp-sum-a"), store.UpsertOptions{})
		require.NoError(t, err)
	}
	lwc := pgRecord("fp-sum-b")
	lwc.Type = models.ErrorTypeLWC
	lwc.BusinessImpact = models.ImpactCritical
	_, err := s.UpsertErrorRecord(ctx, lwc, store.UpsertOptions{})
	require.NoError(t, err)

	sum, err := s.SummarizeErrorRecords(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.RecordSummary{Records: 2, Occurrences: 4}, sum.Totals)
	assert.Equal(t, models.RecordSummary{Records: 1, Occurrences: 3}, sum.ByType["Flow"])
	assert.Equal(t, models.RecordSummary{Records: 1, Occurrences: 1}, sum.ByImpact["Critical"])
	assert.Equal(t, models.RecordSummary{Records: 2, Occurrences: 4}, sum.ByStatus["New"])
}

func TestErrorRecord_TransitionInvalid(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	res, err := s.UpsertErrorRecord(ctx, pgRecord("fp-invalid"), store.UpsertOptions{})
	require.NoError(t, err)
	_, err = s.TransitionErrorRecord(ctx, res.Record.ID, store.Transition{Action: store.ActionIgnore, Actor: "ops"})
	require.NoError(t, err)

	_, err = s.TransitionErrorRecord(ctx, res.Record.ID, store.Transition{Action: store.ActionStart, Actor: "ops"})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = s.TransitionErrorRecord(ctx, uuid.New(), store.Transition{Action: store.ActionStart})
	assert.ErrorIs(t, err, store.ErrNotFound)

	history, err := s.ListStatusChanges(ctx, res.Record.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "rejected transitions leave no trace")
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "ehk_abcd",
		Scopes:    []string{"ingest", "read"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.CreateAPIKey(ctx, key)
	require.NoError(t, err)

	keys, err := s.GetAPIKeyByPrefix(ctx, "ehk_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{"ingest", "read"}, keys[0].Scopes)

	n, err := s.CountAPIKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAPIKey_DuplicateName(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	newKey := func() *models.APIKey {
		return &models.APIKey{ID: uuid.New(), Name: "dup", KeyHash: "h", KeyPrefix: "ehk_dupe", Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now}
	}
	require.NoError(t, s.CreateAPIKey(ctx, newKey()))
	assert.ErrorIs(t, s.CreateAPIKey(ctx, newKey()), store.ErrDuplicateKey)
}

func TestAPIKey_Revoke(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "revoke-me",
		KeyHash:   "hash",
		KeyPrefix: "ehk_revk",
		Scopes:    []string{"read"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	err := s.RevokeAPIKey(ctx, key.ID)
	require.NoError(t, err)

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = s.GetAPIKeyByPrefix(ctx, "ehk_revk")
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	assert.NoError(t, s.Ping(context.Background()))
}
