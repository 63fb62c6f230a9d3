package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errhub/internal/api/response"
	"github.com/kiranshivaraju/errhub/internal/query"
	"github.com/kiranshivaraju/errhub/internal/store"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

// RecordReader defines the read interface the record handlers depend on.
type RecordReader interface {
	List(ctx context.Context, filter store.RecordFilter) (*query.Page, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error)
	History(ctx context.Context, id uuid.UUID) ([]*models.StatusChange, error)
	Summary(ctx context.Context, since time.Time) (*models.Summary, error)
}

// NewListRecordsHandler returns an http.HandlerFunc for GET /api/v1/errors.
func NewListRecordsHandler(q RecordReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseRecordFilter(r)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
			return
		}

		page, err := q.List(r.Context(), filter)
		if err != nil {
			if errors.Is(err, query.ErrInvalidFilter) {
				response.Error(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list error records", nil)
			return
		}

		response.Collection(w, page.Records, response.PaginationMeta{
			Page:    page.Page,
			Limit:   page.Limit,
			Total:   page.Total,
			HasNext: page.HasNext(),
		})
	}
}

// NewGetRecordHandler returns an http.HandlerFunc for GET /api/v1/errors/{recordID}.
func NewGetRecordHandler(q RecordReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := recordID(w, r)
		if !ok {
			return
		}

		rec, err := q.Get(r.Context(), id)
		if err != nil {
			writeRecordError(w, err)
			return
		}
		response.JSON(w, rec)
	}
}

// NewRecordHistoryHandler returns an http.HandlerFunc for GET /api/v1/errors/{recordID}/history.
func NewRecordHistoryHandler(q RecordReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := recordID(w, r)
		if !ok {
			return
		}

		changes, err := q.History(r.Context(), id)
		if err != nil {
			writeRecordError(w, err)
			return
		}
		response.JSON(w, changes)
	}
}

// NewSummaryHandler returns an http.HandlerFunc for GET /api/v1/errors/summary.
func NewSummaryHandler(q RecordReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, err := parseTime(r.URL.Query().Get("since"), "since")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
			return
		}

		sum, err := q.Summary(r.Context(), since)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to summarize error records", nil)
			return
		}
		response.JSON(w, sum)
	}
}

func writeRecordError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "RECORD_NOT_FOUND", "Error record not found", nil)
	case errors.Is(err, store.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
