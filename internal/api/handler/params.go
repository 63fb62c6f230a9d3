package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/errhub/internal/api/response"
	"github.com/kiranshivaraju/errhub/internal/store"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

// recordID parses the {recordID} URL parameter, writing a 400 when malformed.
func recordID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "recordID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_RECORD_ID", "Invalid record ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func parseTime(q string, name string) (time.Time, error) {
	if q == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, q)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a valid RFC3339 timestamp", name)
	}
	return t, nil
}

func parsePositive(q string, name string) (int, error) {
	if q == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(q)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

// parseRecordFilter reads the list query parameters.
func parseRecordFilter(r *http.Request) (store.RecordFilter, error) {
	q := r.URL.Query()
	var f store.RecordFilter
	var err error

	if f.Since, err = parseTime(q.Get("since"), "since"); err != nil {
		return f, err
	}
	if f.Until, err = parseTime(q.Get("until"), "until"); err != nil {
		return f, err
	}
	if f.Page, err = parsePositive(q.Get("page"), "page"); err != nil {
		return f, err
	}
	if f.Limit, err = parsePositive(q.Get("limit"), "limit"); err != nil {
		return f, err
	}

	if v := q.Get("type"); v != "" {
		t, ok := models.ParseErrorType(v)
		if !ok {
			return f, fmt.Errorf("type must be one of Apex, Flow, LWC, Integration")
		}
		f.Type = t
	}
	if v := q.Get("impact"); v != "" {
		i, ok := models.ParseImpact(v)
		if !ok {
			return f, fmt.Errorf("impact must be one of Critical, High, Medium, Low")
		}
		f.Impact = i
	}
	if v := q.Get("status"); v != "" {
		s, ok := models.ParseStatus(v)
		if !ok {
			return f, fmt.Errorf("status must be one of New, Assigned, InProgress, Resolved, Ignored")
		}
		f.Status = s
	}
	f.AssignedTo = strings.TrimSpace(q.Get("assigned_to"))
	f.Environment = strings.TrimSpace(q.Get("environment"))
	if q.Has("fingerprint") {
		fp := q.Get("fingerprint")
		f.Fingerprint = &fp
	}
	return f, nil
}
