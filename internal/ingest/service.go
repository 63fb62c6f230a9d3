// Package ingest accepts error events from producers and folds them into error
// records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/errhub/internal/config"
	"github.com/kiranshivaraju/errhub/internal/fingerprint"
	"github.com/kiranshivaraju/errhub/internal/metrics"
	"github.com/kiranshivaraju/errhub/internal/store"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

const maxRetryElapsed = 5 * time.Second

// Outcome is what happened to an ingested event.
type Outcome struct {
	Record   *models.ErrorRecord
	Created  bool
	Reopened bool
}

// Service validates, normalizes and fingerprints events, then upserts them.
type Service struct {
	store  store.Store
	fp     *fingerprint.Generator
	cfg    config.IngestConfig
	reopen []models.ResolutionStatus
}

// NewService creates a Service. Zero limits in cfg fall back to the documented defaults.
func NewService(st store.Store, fp *fingerprint.Generator, cfg config.IngestConfig) *Service {
	if cfg.MaxDetailLength <= 0 {
		cfg.MaxDetailLength = 32768
	}
	if cfg.MaxFieldLength <= 0 {
		cfg.MaxFieldLength = 255
	}
	if cfg.DefaultEnvironment == "" {
		cfg.DefaultEnvironment = "Production"
	}
	if _, ok := models.ParseImpact(cfg.DefaultImpact); !ok {
		cfg.DefaultImpact = string(models.ImpactMedium)
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 50 * time.Millisecond
	}
	return &Service{
		store:  st,
		fp:     fp,
		cfg:    cfg,
		reopen: ReopenStatuses(cfg.ReopenPolicy),
	}
}

// ReopenStatuses maps a reopen policy to the statuses a new occurrence moves back to New.
func ReopenStatuses(policy string) []models.ResolutionStatus {
	switch policy {
	case config.ReopenNever:
		return nil
	case config.ReopenTerminal:
		return []models.ResolutionStatus{models.StatusResolved, models.StatusIgnored}
	default:
		return []models.ResolutionStatus{models.StatusResolved}
	}
}

// Ingest records one occurrence. It returns a *ValidationError for malformed events
// and ErrStoreUnavailable once the retry budget is spent.
func (s *Service) Ingest(ctx context.Context, event models.ErrorEvent) (*Outcome, error) {
	start := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()

	rec, err := s.normalize(event)
	if err != nil {
		metrics.EventsIngestedTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return nil, err
	}

	opts := store.UpsertOptions{Now: time.Now().UTC(), Reopen: s.reopen}
	res, err := s.upsert(ctx, rec, opts)
	if err != nil {
		outcome := metrics.OutcomeUnavailable
		if errors.Is(err, ErrRejected) {
			outcome = metrics.OutcomeRejected
		}
		metrics.EventsIngestedTotal.WithLabelValues(outcome).Inc()
		slog.Error("error event not stored",
			"fingerprint", rec.Fingerprint,
			"type", rec.Type,
			"source", rec.Source,
			"error", err,
		)
		return nil, err
	}

	switch {
	case res.Created:
		metrics.EventsIngestedTotal.WithLabelValues(metrics.OutcomeCreated).Inc()
	case res.Reopened:
		metrics.EventsIngestedTotal.WithLabelValues(metrics.OutcomeReopened).Inc()
		slog.Info("error record reopened", "record_id", res.Record.ID, "fingerprint", rec.Fingerprint)
	default:
		metrics.EventsIngestedTotal.WithLabelValues(metrics.OutcomeMerged).Inc()
	}

	return &Outcome{Record: res.Record, Created: res.Created, Reopened: res.Reopened}, nil
}

// upsert runs the store call detached from ctx cancellation, retrying transient
// failures with exponential backoff. Errors the store reports as permanent are
// returned at once as ErrRejected.
func (s *Service) upsert(ctx context.Context, rec *models.ErrorRecord, opts store.UpsertOptions) (*store.UpsertResult, error) {
	storeCtx := context.WithoutCancel(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitialInterval
	b.MaxElapsedTime = maxRetryElapsed
	b.Reset()

	var res *store.UpsertResult
	attempt := 0
	permanent := false
	op := func() error {
		attempt++
		r, err := s.store.UpsertErrorRecord(storeCtx, rec, opts)
		if err != nil {
			if store.IsPermanent(err) {
				permanent = true
				return backoff.Permanent(err)
			}
			return err
		}
		res = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		metrics.StoreRetriesTotal.Inc()
		slog.Warn("upsert failed, retrying",
			"fingerprint", rec.Fingerprint,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, backoff.WithMaxRetries(b, uint64(s.cfg.RetryAttempts-1)), notify)
	if permanent {
		return nil, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: after %d attempts: %w", ErrStoreUnavailable, attempt, err)
	}
	return res, nil
}

// normalize validates event and builds the record candidate for it.
func (s *Service) normalize(e models.ErrorEvent) (*models.ErrorRecord, error) {
	verr := &ValidationError{}

	typ, ok := models.ParseErrorType(strings.TrimSpace(e.Type))
	if strings.TrimSpace(e.Type) == "" {
		verr.add("type", "is required")
	} else if !ok {
		verr.add("type", "must be one of Apex, Flow, LWC, Integration")
	}

	source := strings.TrimSpace(e.Source)
	if source == "" {
		verr.add("source", "is required")
	}
	message := strings.TrimSpace(e.Message)
	if message == "" {
		verr.add("message", "is required")
	}

	for _, f := range []struct{ name, value string }{
		{"type", e.Type}, {"source", e.Source}, {"message", e.Message},
		{"details", e.Details}, {"context", e.Context}, {"affected_user", e.AffectedUser},
		{"business_impact", e.BusinessImpact}, {"environment", e.Environment},
		{"api_endpoint", e.APIEndpoint}, {"external_system", e.ExternalSystem},
		{"record_object", e.RecordObject}, {"record_id", e.RecordID},
	} {
		if !storableText(f.value) && !verr.has(f.name) {
			verr.add(f.name, "must be valid UTF-8 without NUL characters")
		}
	}

	impact, _ := models.ParseImpact(s.cfg.DefaultImpact)
	if raw := strings.TrimSpace(e.BusinessImpact); raw != "" {
		parsed, ok := models.ParseImpact(raw)
		if !ok {
			verr.add("business_impact", "must be one of Critical, High, Medium, Low")
		}
		impact = parsed
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}

	env := s.short(e.Environment)
	if env == "" {
		env = s.cfg.DefaultEnvironment
	}

	rec := &models.ErrorRecord{
		ID:             uuid.New(),
		Fingerprint:    s.fp.Fingerprint(&models.ErrorEvent{Message: message, Source: source}),
		Type:           typ,
		Source:         capRunes(source, s.cfg.MaxFieldLength),
		Message:        capRunes(message, s.cfg.MaxDetailLength),
		Details:        capRunes(strings.TrimSpace(e.Details), s.cfg.MaxDetailLength),
		Context:        capRunes(strings.TrimSpace(e.Context), s.cfg.MaxDetailLength),
		AffectedUser:   s.short(e.AffectedUser),
		BusinessImpact: impact,
		Environment:    env,
		APIEndpoint:    s.short(e.APIEndpoint),
		ExternalSystem: s.short(e.ExternalSystem),
		RecordObject:   s.short(e.RecordObject),
		RecordID:       s.short(e.RecordID),
		SubmittedBy:    s.short(e.SubmittedBy),
	}
	if s.cfg.AutoAssign && rec.SubmittedBy != "" {
		assignee := rec.SubmittedBy
		rec.AssignedTo = &assignee
	}
	return rec, nil
}

func (s *Service) short(v string) string {
	return capRunes(strings.TrimSpace(v), s.cfg.MaxFieldLength)
}

// storableText reports whether v can be kept in a text column.
func storableText(v string) bool {
	return utf8.ValidString(v) && !strings.ContainsRune(v, 0)
}

func capRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
