package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid status transition")

// Store is the data access interface. All database operations go through here.
// It is the only component allowed to mutate error records.
type Store interface {
	Ping(ctx context.Context) error

	// UpsertErrorRecord creates the record for rec.Fingerprint or merges rec into the
	// existing one. The find-or-create-then-update step is atomic per fingerprint.
	UpsertErrorRecord(ctx context.Context, rec *models.ErrorRecord, opts UpsertOptions) (*UpsertResult, error)
	GetErrorRecord(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error)
	ListErrorRecords(ctx context.Context, filter RecordFilter) ([]*models.ErrorRecord, int, error)
	SummarizeErrorRecords(ctx context.Context, since time.Time) (*models.Summary, error)
	TransitionErrorRecord(ctx context.Context, id uuid.UUID, t Transition) (*models.ErrorRecord, error)
	ListStatusChanges(ctx context.Context, recordID uuid.UUID) ([]*models.StatusChange, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
	CountAPIKeys(ctx context.Context) (int, error)
}

// UpsertOptions controls how an occurrence is merged into an existing record.
type UpsertOptions struct {
	// Now is the occurrence time. Zero means time.Now().UTC().
	Now time.Time
	// Reopen lists the statuses that move back to New on a new occurrence.
	Reopen []models.ResolutionStatus
}

// UpsertResult is the stored record after an upsert plus what happened to it.
type UpsertResult struct {
	Record   *models.ErrorRecord
	Created  bool
	Reopened bool
}

type RecordFilter struct {
	Type        models.ErrorType
	Impact      models.Impact
	Status      models.ResolutionStatus
	AssignedTo  string
	Environment string
	Fingerprint *string
	Since       time.Time
	Until       time.Time
	Page        int
	Limit       int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Pagination clamps page and limit to their allowed ranges and returns the row offset.
func Pagination(page, limit int) (int, int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if page <= 0 {
		page = 1
	}
	return page, limit, (page - 1) * limit
}

func (o UpsertOptions) now() time.Time {
	if o.Now.IsZero() {
		return time.Now().UTC()
	}
	return o.Now.UTC()
}

func (o UpsertOptions) reopens(s models.ResolutionStatus) bool {
	for _, r := range o.Reopen {
		if r == s {
			return true
		}
	}
	return false
}

func (o UpsertOptions) reopenStrings() []string {
	out := make([]string, 0, len(o.Reopen))
	for _, r := range o.Reopen {
		out = append(out, string(r))
	}
	return out
}
