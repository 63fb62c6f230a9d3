package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Error Records ---

const recordColumns = `id, fingerprint, type, source, message, details, context, affected_user,
	business_impact, environment, api_endpoint, external_system, record_object, record_id,
	submitted_by, occurrence_count, first_occurrence, last_occurrence, assigned_to,
	resolution_status, status_changed_at, created_at, updated_at`

func scanRecord(row pgx.Row, extra ...any) (*models.ErrorRecord, error) {
	var r models.ErrorRecord
	dest := []any{&r.ID, &r.Fingerprint, &r.Type, &r.Source, &r.Message, &r.Details, &r.Context,
		&r.AffectedUser, &r.BusinessImpact, &r.Environment, &r.APIEndpoint, &r.ExternalSystem,
		&r.RecordObject, &r.RecordID, &r.SubmittedBy, &r.OccurrenceCount, &r.FirstOccurrence,
		&r.LastOccurrence, &r.AssignedTo, &r.ResolutionStatus, &r.StatusChangedAt,
		&r.CreatedAt, &r.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &r, nil
}

// upsertRecordSQL merges on the unique fingerprint index. The prev CTE locks the
// existing row, if any, so the caller learns which status the occurrence reopened.
const upsertRecordSQL = `
WITH prev AS (
	SELECT resolution_status FROM error_records WHERE fingerprint = $2 FOR UPDATE
)
INSERT INTO error_records (id, fingerprint, type, source, message, details, context, affected_user,
	business_impact, environment, api_endpoint, external_system, record_object, record_id,
	submitted_by, occurrence_count, first_occurrence, last_occurrence, assigned_to,
	resolution_status, status_changed_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1, $16, $16, $17, 'New', $16, $16, $16)
ON CONFLICT (fingerprint) DO UPDATE SET
	occurrence_count = error_records.occurrence_count + 1,
	last_occurrence = GREATEST(error_records.last_occurrence, EXCLUDED.last_occurrence),
	message = EXCLUDED.message,
	details = EXCLUDED.details,
	context = EXCLUDED.context,
	resolution_status = CASE WHEN error_records.resolution_status = ANY($18::text[])
		THEN 'New' ELSE error_records.resolution_status END,
	status_changed_at = CASE WHEN error_records.resolution_status = ANY($18::text[])
		THEN EXCLUDED.status_changed_at ELSE error_records.status_changed_at END,
	updated_at = EXCLUDED.updated_at
RETURNING ` + recordColumns + `, (xmax = 0) AS inserted, (SELECT resolution_status FROM prev)`

func (s *PostgresStore) UpsertErrorRecord(ctx context.Context, rec *models.ErrorRecord, opts UpsertOptions) (*UpsertResult, error) {
	now := opts.now()
	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var result *UpsertResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var inserted bool
		var prevStatus *string
		row := tx.QueryRow(ctx, upsertRecordSQL,
			id, rec.Fingerprint, rec.Type, rec.Source, rec.Message, rec.Details, rec.Context,
			rec.AffectedUser, rec.BusinessImpact, rec.Environment, rec.APIEndpoint, rec.ExternalSystem,
			rec.RecordObject, rec.RecordID, rec.SubmittedBy, now, rec.AssignedTo, opts.reopenStrings())
		stored, err := scanRecord(row, &inserted, &prevStatus)
		if err != nil {
			return fmt.Errorf("upsert error record: %w", err)
		}

		reopened := !inserted && prevStatus != nil && opts.reopens(models.ResolutionStatus(*prevStatus))
		if reopened {
			change := &models.StatusChange{
				ID:         uuid.New(),
				RecordID:   stored.ID,
				FromStatus: models.ResolutionStatus(*prevStatus),
				ToStatus:   models.StatusNew,
				Actor:      models.ActorSystem,
				AssignedTo: stored.AssignedTo,
				CreatedAt:  now,
			}
			if err := insertStatusChange(ctx, tx, change); err != nil {
				return err
			}
		}

		result = &UpsertResult{Record: stored, Created: inserted, Reopened: reopened}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) GetErrorRecord(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM error_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get error record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListErrorRecords(ctx context.Context, filter RecordFilter) ([]*models.ErrorRecord, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	add := func(cond string, v any) {
		conditions = append(conditions, fmt.Sprintf(cond, argIdx))
		args = append(args, v)
		argIdx++
	}

	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if filter.Impact != "" {
		add("business_impact = $%d", filter.Impact)
	}
	if filter.Status != "" {
		add("resolution_status = $%d", filter.Status)
	}
	if filter.AssignedTo != "" {
		add("assigned_to = $%d", filter.AssignedTo)
	}
	if filter.Environment != "" {
		add("environment = $%d", filter.Environment)
	}
	if filter.Fingerprint != nil {
		add("fingerprint = $%d", *filter.Fingerprint)
	}
	if !filter.Since.IsZero() {
		add("last_occurrence >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("last_occurrence <= $%d", filter.Until)
	}

	where := strings.Join(conditions, " AND ")

	// Count query
	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM error_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count error records: %w", err)
	}

	_, limit, offset := Pagination(filter.Page, filter.Limit)

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM error_records WHERE %s ORDER BY last_occurrence DESC, id LIMIT $%d OFFSET $%d`,
		recordColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list error records: %w", err)
	}
	defer rows.Close()

	records := []*models.ErrorRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan error record: %w", err)
		}
		records = append(records, r)
	}
	return records, total, rows.Err()
}

// summarySQL groups once per dimension. GROUPING() yields a bitmask of the
// columns that are NOT part of the current grouping set (type is the high bit).
const summarySQL = `
SELECT GROUPING(type, business_impact, resolution_status), type, business_impact, resolution_status,
	COUNT(*), COALESCE(SUM(occurrence_count), 0)
FROM error_records
WHERE last_occurrence >= $1
GROUP BY GROUPING SETS ((type), (business_impact), (resolution_status), ())`

func (s *PostgresStore) SummarizeErrorRecords(ctx context.Context, since time.Time) (*models.Summary, error) {
	rows, err := s.pool.Query(ctx, summarySQL, since)
	if err != nil {
		return nil, fmt.Errorf("summarize error records: %w", err)
	}
	defer rows.Close()

	sum := newSummary(since)
	for rows.Next() {
		var grouping int
		var typ, impact, status *string
		var records, occurrences int
		if err := rows.Scan(&grouping, &typ, &impact, &status, &records, &occurrences); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		switch grouping {
		case 0b011:
			addTo(sum.ByType, *typ, records, occurrences)
		case 0b101:
			addTo(sum.ByImpact, *impact, records, occurrences)
		case 0b110:
			addTo(sum.ByStatus, *status, records, occurrences)
		case 0b111:
			sum.Totals = models.RecordSummary{Records: records, Occurrences: occurrences}
		}
	}
	return sum, rows.Err()
}

func (s *PostgresStore) TransitionErrorRecord(ctx context.Context, id uuid.UUID, t Transition) (*models.ErrorRecord, error) {
	at := t.at()

	var updated *models.ErrorRecord
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM error_records WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get error record: %w", err)
		}

		next, err := NextStatus(current.ResolutionStatus, t)
		if err != nil {
			return err
		}
		assignee := t.assignee(current.AssignedTo)

		updated, err = scanRecord(tx.QueryRow(ctx,
			`UPDATE error_records SET resolution_status = $2, assigned_to = $3, status_changed_at = $4, updated_at = $4
			 WHERE id = $1 RETURNING `+recordColumns,
			id, next, assignee, at))
		if err != nil {
			return fmt.Errorf("update error record status: %w", err)
		}

		return insertStatusChange(ctx, tx, &models.StatusChange{
			ID:         uuid.New(),
			RecordID:   id,
			FromStatus: current.ResolutionStatus,
			ToStatus:   next,
			Actor:      t.Actor,
			AssignedTo: assignee,
			CreatedAt:  at,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func insertStatusChange(ctx context.Context, tx pgx.Tx, c *models.StatusChange) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO status_changes (id, record_id, from_status, to_status, actor, assigned_to, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.RecordID, c.FromStatus, c.ToStatus, c.Actor, c.AssignedTo, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert status change: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStatusChanges(ctx context.Context, recordID uuid.UUID) ([]*models.StatusChange, error) {
	if _, err := s.GetErrorRecord(ctx, recordID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, record_id, from_status, to_status, actor, assigned_to, created_at
		 FROM status_changes WHERE record_id = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list status changes: %w", err)
	}
	defer rows.Close()

	changes := []*models.StatusChange{}
	for rows.Next() {
		var c models.StatusChange
		if err := rows.Scan(&c.ID, &c.RecordID, &c.FromStatus, &c.ToStatus, &c.Actor, &c.AssignedTo, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		changes = append(changes, &c)
	}
	return changes, rows.Err()
}

// --- API Keys ---

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func (s *PostgresStore) queryAPIKeys(ctx context.Context, query string, args ...any) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	keys, err := s.queryAPIKeys(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	keys, err := s.queryAPIKeys(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountAPIKeys(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys WHERE deleted_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return n, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// IsPermanent reports whether err is a database error that fails the same way on
// every attempt: data exceptions (22), integrity violations (23) and program
// limits (54).
func IsPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23", "54":
		return true
	}
	return false
}
