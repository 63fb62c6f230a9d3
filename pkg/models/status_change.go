package models

import (
	"time"

	"github.com/google/uuid"
)

// ActorSystem is recorded as the actor of transitions errhub makes on its own,
// such as reopening a resolved record on a new occurrence.
const ActorSystem = "system"

// StatusChange is one entry in an ErrorRecord's lifecycle audit trail.
type StatusChange struct {
	ID         uuid.UUID        `db:"id"          json:"id"`
	RecordID   uuid.UUID        `db:"record_id"   json:"record_id"`
	FromStatus ResolutionStatus `db:"from_status" json:"from_status"`
	ToStatus   ResolutionStatus `db:"to_status"   json:"to_status"`
	Actor      string           `db:"actor"       json:"actor"`
	AssignedTo *string          `db:"assigned_to" json:"assigned_to,omitempty"`
	CreatedAt  time.Time        `db:"created_at"  json:"created_at"`
}

// RecordSummary aggregates records and occurrences for one dimension value.
type RecordSummary struct {
	Records     int `json:"records"`
	Occurrences int `json:"occurrences"`
}

// Summary is the reporting rollup served to dashboards.
type Summary struct {
	Since    *time.Time               `json:"since,omitempty"`
	Totals   RecordSummary            `json:"totals"`
	ByType   map[string]RecordSummary `json:"by_type"`
	ByImpact map[string]RecordSummary `json:"by_impact"`
	ByStatus map[string]RecordSummary `json:"by_status"`
}
