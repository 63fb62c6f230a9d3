package store

import (
	"time"

	"github.com/kiranshivaraju/errhub/pkg/models"
)

func newSummary(since time.Time) *models.Summary {
	s := &models.Summary{
		ByType:   map[string]models.RecordSummary{},
		ByImpact: map[string]models.RecordSummary{},
		ByStatus: map[string]models.RecordSummary{},
	}
	if !since.IsZero() {
		t := since.UTC()
		s.Since = &t
	}
	return s
}

func addTo(m map[string]models.RecordSummary, key string, records, occurrences int) {
	cur := m[key]
	cur.Records += records
	cur.Occurrences += occurrences
	m[key] = cur
}

// addRecord folds a single record into every dimension of the summary.
func addRecord(s *models.Summary, r *models.ErrorRecord) {
	s.Totals.Records++
	s.Totals.Occurrences += r.OccurrenceCount
	addTo(s.ByType, string(r.Type), 1, r.OccurrenceCount)
	addTo(s.ByImpact, string(r.BusinessImpact), 1, r.OccurrenceCount)
	addTo(s.ByStatus, string(r.ResolutionStatus), 1, r.OccurrenceCount)
}
