// Package models contains shared data models used across the errhub codebase.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorType identifies the kind of producer that reported an error.
type ErrorType string

const (
	ErrorTypeApex        ErrorType = "Apex"
	ErrorTypeFlow        ErrorType = "Flow"
	ErrorTypeLWC         ErrorType = "LWC"
	ErrorTypeIntegration ErrorType = "Integration"
)

var errorTypes = []ErrorType{ErrorTypeApex, ErrorTypeFlow, ErrorTypeLWC, ErrorTypeIntegration}

// ParseErrorType matches s case-insensitively against the known error types.
func ParseErrorType(s string) (ErrorType, bool) {
	for _, t := range errorTypes {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// Impact is the business impact a producer assigns to an error.
type Impact string

const (
	ImpactCritical Impact = "Critical"
	ImpactHigh     Impact = "High"
	ImpactMedium   Impact = "Medium"
	ImpactLow      Impact = "Low"
)

var impacts = []Impact{ImpactCritical, ImpactHigh, ImpactMedium, ImpactLow}

// ParseImpact matches s case-insensitively against the known impact levels.
func ParseImpact(s string) (Impact, bool) {
	for _, i := range impacts {
		if strings.EqualFold(s, string(i)) {
			return i, true
		}
	}
	return "", false
}

// ResolutionStatus is the operator-driven lifecycle state of an ErrorRecord.
type ResolutionStatus string

const (
	StatusNew        ResolutionStatus = "New"
	StatusAssigned   ResolutionStatus = "Assigned"
	StatusInProgress ResolutionStatus = "InProgress"
	StatusResolved   ResolutionStatus = "Resolved"
	StatusIgnored    ResolutionStatus = "Ignored"
)

var statuses = []ResolutionStatus{StatusNew, StatusAssigned, StatusInProgress, StatusResolved, StatusIgnored}

// ParseStatus matches s case-insensitively against the lifecycle states.
func ParseStatus(s string) (ResolutionStatus, bool) {
	for _, st := range statuses {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return "", false
}

// ErrorEvent is a single occurrence reported by a producer. It is never stored as-is.
type ErrorEvent struct {
	Type           string `json:"type"`
	Source         string `json:"source"`
	Message        string `json:"message"`
	Details        string `json:"details,omitempty"`
	Context        string `json:"context,omitempty"`
	AffectedUser   string `json:"affected_user,omitempty"`
	BusinessImpact string `json:"business_impact,omitempty"`
	Environment    string `json:"environment,omitempty"`
	APIEndpoint    string `json:"api_endpoint,omitempty"`
	ExternalSystem string `json:"external_system,omitempty"`
	RecordObject   string `json:"record_object,omitempty"`
	RecordID       string `json:"record_id,omitempty"`

	// SubmittedBy is the authenticated producer identity, set by the server.
	SubmittedBy string `json:"-"`
}

// ErrorRecord is the persisted aggregate of every occurrence sharing a fingerprint.
type ErrorRecord struct {
	ID               uuid.UUID        `db:"id"                json:"id"`
	Fingerprint      string           `db:"fingerprint"       json:"fingerprint"`
	Type             ErrorType        `db:"type"              json:"type"`
	Source           string           `db:"source"            json:"source"`
	Message          string           `db:"message"           json:"message"`
	Details          string           `db:"details"           json:"details,omitempty"`
	Context          string           `db:"context"           json:"context,omitempty"`
	AffectedUser     string           `db:"affected_user"     json:"affected_user,omitempty"`
	BusinessImpact   Impact           `db:"business_impact"   json:"business_impact"`
	Environment      string           `db:"environment"       json:"environment"`
	APIEndpoint      string           `db:"api_endpoint"      json:"api_endpoint,omitempty"`
	ExternalSystem   string           `db:"external_system"   json:"external_system,omitempty"`
	RecordObject     string           `db:"record_object"     json:"record_object,omitempty"`
	RecordID         string           `db:"record_id"         json:"record_id,omitempty"`
	SubmittedBy      string           `db:"submitted_by"      json:"submitted_by,omitempty"`
	OccurrenceCount  int              `db:"occurrence_count"  json:"occurrence_count"`
	FirstOccurrence  time.Time        `db:"first_occurrence"  json:"first_occurrence"`
	LastOccurrence   time.Time        `db:"last_occurrence"   json:"last_occurrence"`
	AssignedTo       *string          `db:"assigned_to"       json:"assigned_to,omitempty"`
	ResolutionStatus ResolutionStatus `db:"resolution_status" json:"resolution_status"`
	StatusChangedAt  time.Time        `db:"status_changed_at" json:"status_changed_at"`
	CreatedAt        time.Time        `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at"        json:"updated_at"`
}

// Clone returns a deep copy, so callers can hand records out without sharing AssignedTo.
func (r *ErrorRecord) Clone() *ErrorRecord {
	c := *r
	if r.AssignedTo != nil {
		a := *r.AssignedTo
		c.AssignedTo = &a
	}
	return &c
}
