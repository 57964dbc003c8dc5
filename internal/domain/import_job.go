package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ImportType enumerates the LEX extract flavours the pipeline accepts.
type ImportType string

const (
	ImportTypeEnquiries ImportType = "enquiries"
	ImportTypeClients   ImportType = "clients"
	ImportTypeMatters   ImportType = "matters"
	ImportTypeFees      ImportType = "fees"
)

// ParseImportType validates a raw import type value.
func ParseImportType(raw string) (ImportType, error) {
	switch ImportType(raw) {
	case ImportTypeEnquiries, ImportTypeClients, ImportTypeMatters, ImportTypeFees:
		return ImportType(raw), nil
	}
	return "", fmt.Errorf("unknown import type %q", raw)
}

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces the forward-only lifecycle
// pending -> processing -> {completed|failed}.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Severity classifies a row diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// RowDiagnostic is one validation error or warning attached to an import job.
// Row numbers are 1-based and include the header row offset. Diagnostics are
// append-only once recorded.
type RowDiagnostic struct {
	Row       int       `json:"row"`
	Field     string    `json:"field"`
	Value     string    `json:"value"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}

// ImportJob tracks one uploaded LEX extract through the pipeline.
type ImportJob struct {
	ID            uuid.UUID       `json:"id"`
	FileName      string          `json:"file_name"`
	Type          ImportType      `json:"type"`
	Status        JobStatus       `json:"status"`
	TotalRows     int             `json:"total_rows"`
	ProcessedRows int             `json:"processed_rows"`
	ErrorRows     int             `json:"error_rows"`
	OwnerID       uuid.UUID       `json:"owner_id"`
	Diagnostics   []RowDiagnostic `json:"diagnostics"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
}

// NewImportJob creates a pending job for an uploaded file. The caller is
// expected to have sanitized the file name already.
func NewImportJob(fileName string, importType ImportType, ownerID uuid.UUID) ImportJob {
	return ImportJob{
		ID:        uuid.New(),
		FileName:  fileName,
		Type:      importType,
		Status:    JobStatusPending,
		OwnerID:   ownerID,
		StartedAt: time.Now(),
	}
}

// WithStatus returns a copy of the job in the requested state, stamping the
// completion time on terminal transitions. Invalid transitions return an error
// so a completed or failed job can never move back to processing.
func (j ImportJob) WithStatus(next JobStatus) (ImportJob, error) {
	if !j.Status.CanTransitionTo(next) {
		return j, fmt.Errorf("invalid job transition %s -> %s", j.Status, next)
	}
	updated := j
	updated.Status = next
	if next.Terminal() {
		now := time.Now()
		updated.CompletedAt = &now
	}
	return updated, nil
}

// BatchResult is the ephemeral outcome of one coordinator batch. It is folded
// into job counters and never persisted on its own.
type BatchResult struct {
	BatchIndex int
	Attempted  int
	Succeeded  int
	Errors     []RowDiagnostic
	Elapsed    time.Duration
}

// Failed returns the number of rows that did not succeed.
func (r BatchResult) Failed() int {
	return r.Attempted - r.Succeeded
}
