// Package triage implements the operator actions that move an error record
// through its resolution lifecycle.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errhub/internal/metrics"
	"github.com/kiranshivaraju/errhub/internal/store"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

type Service struct {
	store store.Store
}

func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Assign hands the record to assignee. Open records only.
func (s *Service) Assign(ctx context.Context, id uuid.UUID, assignee, actor string) (*models.ErrorRecord, error) {
	return s.apply(ctx, id, store.Transition{Action: store.ActionAssign, Assignee: strings.TrimSpace(assignee), Actor: actor})
}

func (s *Service) Start(ctx context.Context, id uuid.UUID, actor string) (*models.ErrorRecord, error) {
	return s.apply(ctx, id, store.Transition{Action: store.ActionStart, Actor: actor})
}

func (s *Service) Resolve(ctx context.Context, id uuid.UUID, actor string) (*models.ErrorRecord, error) {
	return s.apply(ctx, id, store.Transition{Action: store.ActionResolve, Actor: actor})
}

func (s *Service) Ignore(ctx context.Context, id uuid.UUID, actor string) (*models.ErrorRecord, error) {
	return s.apply(ctx, id, store.Transition{Action: store.ActionIgnore, Actor: actor})
}

func (s *Service) apply(ctx context.Context, id uuid.UUID, t store.Transition) (*models.ErrorRecord, error) {
	if t.Actor == "" {
		return nil, fmt.Errorf("%w: actor is required", store.ErrInvalidTransition)
	}

	rec, err := s.store.TransitionErrorRecord(ctx, id, t)
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, store.ErrInvalidTransition):
			result = "rejected"
		case errors.Is(err, store.ErrNotFound):
			result = "not_found"
		}
		metrics.TransitionsTotal.WithLabelValues(string(t.Action), result).Inc()
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(t.Action), "ok").Inc()
	slog.Info("error record transitioned",
		"record_id", id,
		"action", t.Action,
		"status", rec.ResolutionStatus,
		"actor", t.Actor,
	)
	return rec, nil
}
