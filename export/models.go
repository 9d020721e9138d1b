// Package export holds the compliance export job model. Jobs are
// regulated-data artifacts: they are retained indefinitely and every
// state transition is auditable.
package export

import (
	"time"

	"github.com/praxishq/entitle/id"
	"github.com/praxishq/entitle/types"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the job state machine permits from → to.
//
//	queued → processing → completed | failed
//	queued → failed (cancellation before claim)
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted, StatusFailed:
		return false
	}
	return false
}

// Type is a closed set of export scopes.
type Type string

const (
	TypeClientRecords  Type = "client_records"
	TypeAppointments   Type = "appointments"
	TypeBillingHistory Type = "billing_history"
	TypeFullAccount    Type = "full_account"
)

// Valid reports whether t is a known export type.
func (t Type) Valid() bool {
	switch t {
	case TypeClientRecords, TypeAppointments, TypeBillingHistory, TypeFullAccount:
		return true
	}
	return false
}

// Format is a closed set of output formats.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// Valid reports whether f is a known output format.
func (f Format) Valid() bool {
	switch f {
	case FormatCSV, FormatJSON, FormatPDF:
		return true
	}
	return false
}

// Job is one asynchronous export request. Created in queued state;
// mutated only by the pipeline that owns it; completed and failed are
// terminal.
type Job struct {
	types.Entity
	ID      id.ExportJobID `json:"id"`
	UserID  string         `json:"user_id"`
	Type    Type           `json:"type"`
	Format  Format         `json:"format"`
	Filters map[string]string `json:"filters,omitempty"`
	// Fields is an optional custom field selection; empty means all
	// fields for the export type.
	Fields         []string   `json:"fields,omitempty"`
	Status         Status     `json:"status"`
	RequestedAt    time.Time  `json:"requested_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	WorkerID       string     `json:"worker_id,omitempty"`
	ResultLocation string     `json:"result_location,omitempty"`
	ErrorReason    string     `json:"error_reason,omitempty"`
}

// Request is the caller-supplied shape of an export request.
type Request struct {
	Type    Type              `json:"type"`
	Format  Format            `json:"format"`
	Filters map[string]string `json:"filters,omitempty"`
	Fields  []string          `json:"fields,omitempty"`
	// SubjectUserID scopes the export to another user's data. Empty
	// means the requester's own data. Requires Elevated.
	SubjectUserID string `json:"subject_user_id,omitempty"`
	// Elevated marks the request as made with elevated privileges,
	// asserted by the trusted caller after its own authorization check.
	Elevated bool `json:"-"`
}

// Subject returns the user whose data the export covers.
func (r Request) Subject(requester string) string {
	if r.SubjectUserID != "" {
		return r.SubjectUserID
	}
	return requester
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
