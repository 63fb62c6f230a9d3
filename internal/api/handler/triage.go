package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/errhub/internal/api/middleware"
	"github.com/kiranshivaraju/errhub/internal/api/response"
	"github.com/kiranshivaraju/errhub/internal/store"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

// Triager defines the operator actions the transition handlers depend on.
type Triager interface {
	Assign(ctx context.Context, id uuid.UUID, assignee, actor string) (*models.ErrorRecord, error)
	Start(ctx context.Context, id uuid.UUID, actor string) (*models.ErrorRecord, error)
	Resolve(ctx context.Context, id uuid.UUID, actor string) (*models.ErrorRecord, error)
	Ignore(ctx context.Context, id uuid.UUID, actor string) (*models.ErrorRecord, error)
}

// NewTransitionHandler returns an http.HandlerFunc for POST /api/v1/errors/{recordID}/{action}.
func NewTransitionHandler(svc Triager, action store.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := mw.GetPrincipal(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing principal", nil)
			return
		}
		id, ok := recordID(w, r)
		if !ok {
			return
		}

		var rec *models.ErrorRecord
		var err error
		switch action {
		case store.ActionAssign:
			var req struct {
				Assignee string `json:"assignee"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
				return
			}
			if strings.TrimSpace(req.Assignee) == "" {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "assignee is required", nil)
				return
			}
			rec, err = svc.Assign(r.Context(), id, req.Assignee, actor)
		case store.ActionStart:
			rec, err = svc.Start(r.Context(), id, actor)
		case store.ActionResolve:
			rec, err = svc.Resolve(r.Context(), id, actor)
		case store.ActionIgnore:
			rec, err = svc.Ignore(r.Context(), id, actor)
		default:
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Unknown action", nil)
			return
		}
		if err != nil {
			writeRecordError(w, err)
			return
		}
		response.JSON(w, rec)
	}
}
