package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/errhub/internal/api/middleware"
	"github.com/kiranshivaraju/errhub/internal/api/response"
	"github.com/kiranshivaraju/errhub/internal/ingest"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

const maxEventBytes = 1 << 20

// Ingester defines the ingestion interface the handler depends on.
type Ingester interface {
	Ingest(ctx context.Context, event models.ErrorEvent) (*ingest.Outcome, error)
}

// Notifier is told about every stored occurrence.
type Notifier interface {
	OnIngested(ctx context.Context, out *ingest.Outcome)
}

type ingestResponse struct {
	ID               uuid.UUID               `json:"id"`
	Fingerprint      string                  `json:"fingerprint"`
	OccurrenceCount  int                     `json:"occurrence_count"`
	ResolutionStatus models.ResolutionStatus `json:"resolution_status"`
	Created          bool                    `json:"created"`
	Reopened         bool                    `json:"reopened"`
}

// NewIngestHandler returns an http.HandlerFunc for POST /api/v1/errors.
// It answers 201 for a new record and 200 when the event merged into one.
func NewIngestHandler(svc Ingester, n Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event models.ErrorEvent
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
		if err := dec.Decode(&event); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if principal, ok := mw.GetPrincipal(r); ok {
			event.SubmittedBy = principal
		}

		out, err := svc.Ingest(r.Context(), event)
		if err != nil {
			var verr *ingest.ValidationError
			switch {
			case errors.As(err, &verr):
				response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED",
					"Invalid error event", verr.Fields)
			case errors.Is(err, ingest.ErrStoreUnavailable):
				w.Header().Set("Retry-After", "5")
				response.Error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE",
					"Error store is unavailable, retry later", nil)
			case errors.Is(err, ingest.ErrRejected):
				response.Error(w, http.StatusUnprocessableEntity, "EVENT_REJECTED",
					"Error store rejected the event", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		if n != nil {
			n.OnIngested(r.Context(), out)
		}

		status := http.StatusOK
		if out.Created {
			status = http.StatusCreated
		}
		response.Write(w, status, ingestResponse{
			ID:               out.Record.ID,
			Fingerprint:      out.Record.Fingerprint,
			OccurrenceCount:  out.Record.OccurrenceCount,
			ResolutionStatus: out.Record.ResolutionStatus,
			Created:          out.Created,
			Reopened:         out.Reopened,
		})
	}
}
