// Package query is the read path over error records consumed by dashboards,
// reports and the CLI.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errhub/internal/store"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

// Page is one page of records plus the pagination it was cut with.
type Page struct {
	Records []*models.ErrorRecord
	Page    int
	Limit   int
	Total   int
}

// HasNext reports whether another page follows this one.
func (p *Page) HasNext() bool {
	return p.Page*p.Limit < p.Total
}

type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// List returns records matching filter, most recently seen first.
func (s *Service) List(ctx context.Context, filter store.RecordFilter) (*Page, error) {
	if !filter.Since.IsZero() && !filter.Until.IsZero() && filter.Until.Before(filter.Since) {
		return nil, fmt.Errorf("%w: until is before since", ErrInvalidFilter)
	}
	page, limit, _ := store.Pagination(filter.Page, filter.Limit)
	filter.Page, filter.Limit = page, limit

	records, total, err := s.store.ListErrorRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing error records: %w", err)
	}
	return &Page{Records: records, Page: page, Limit: limit, Total: total}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error) {
	return s.store.GetErrorRecord(ctx, id)
}

// History returns the status changes of a record, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*models.StatusChange, error) {
	return s.store.ListStatusChanges(ctx, id)
}

// Summary aggregates records seen at or after since. A zero since covers everything.
func (s *Service) Summary(ctx context.Context, since time.Time) (*models.Summary, error) {
	sum, err := s.store.SummarizeErrorRecords(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("summarizing error records: %w", err)
	}
	return sum, nil
}
