// Package notify publishes a signal for critical-impact error records so that
// downstream alerting or ticketing consumers can react to them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errhub/internal/ingest"
	"github.com/kiranshivaraju/errhub/internal/metrics"
	"github.com/kiranshivaraju/errhub/pkg/models"
	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// Reasons a signal is emitted.
const (
	ReasonCreated  = "created"
	ReasonReopened = "reopened"
)

// Signal describes one critical record that needs attention.
type Signal struct {
	RecordID        uuid.UUID
	Fingerprint     string
	Type            models.ErrorType
	Source          string
	BusinessImpact  models.Impact
	OccurrenceCount int
	Reason          string
}

type Publisher interface {
	Publish(ctx context.Context, sig Signal) error
}

type redisPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisPublisher appends signals to a Redis stream with XADD.
func NewRedisPublisher(client *redis.Client, stream string) Publisher {
	return &redisPublisher{client: client, stream: stream}
}

func (p *redisPublisher) Publish(ctx context.Context, sig Signal) error {
	fields := map[string]any{
		"record_id":        sig.RecordID.String(),
		"fingerprint":      sig.Fingerprint,
		"type":             string(sig.Type),
		"source":           sig.Source,
		"business_impact":  string(sig.BusinessImpact),
		"occurrence_count": sig.OccurrenceCount,
		"reason":           sig.Reason,
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("publish critical signal: %w", err)
	}
	return nil
}

// Dispatcher decides whether an ingestion outcome warrants a signal.
type Dispatcher struct {
	pub     Publisher
	enabled bool
}

// NewDispatcher returns a Dispatcher. With enabled false or a nil publisher it does nothing.
func NewDispatcher(pub Publisher, enabled bool) *Dispatcher {
	return &Dispatcher{pub: pub, enabled: enabled && pub != nil}
}

// Enabled reports whether signals are published at all.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.enabled
}

// OnIngested publishes a signal when a Critical record was just created or reopened.
// Failures are logged and never surface to the producer.
func (d *Dispatcher) OnIngested(ctx context.Context, out *ingest.Outcome) {
	if !d.Enabled() || out == nil || out.Record == nil {
		return
	}
	rec := out.Record
	if rec.BusinessImpact != models.ImpactCritical {
		return
	}

	var reason string
	switch {
	case out.Created:
		reason = ReasonCreated
	case out.Reopened:
		reason = ReasonReopened
	default:
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := d.pub.Publish(pubCtx, Signal{
		RecordID:        rec.ID,
		Fingerprint:     rec.Fingerprint,
		Type:            rec.Type,
		Source:          rec.Source,
		BusinessImpact:  rec.BusinessImpact,
		OccurrenceCount: rec.OccurrenceCount,
		Reason:          reason,
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		slog.Error("critical signal not published", "record_id", rec.ID, "reason", reason, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("published").Inc()
	slog.Info("critical signal published", "record_id", rec.ID, "reason", reason)
}
