package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestJobStatus_ForwardOnlyTransitions(t *testing.T) {
	allowed := map[JobStatus][]JobStatus{
		JobStatusPending:    {JobStatusProcessing, JobStatusFailed},
		JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
		JobStatusCompleted:  {},
		JobStatusFailed:     {},
	}

	all := []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed}
	for from, nexts := range allowed {
		permitted := map[JobStatus]bool{}
		for _, next := range nexts {
			permitted[next] = true
		}
		for _, to := range all {
			if got := from.CanTransitionTo(to); got != permitted[to] {
				t.Fatalf("%s -> %s: got %v, want %v", from, to, got, permitted[to])
			}
		}
	}
}

func TestImportJob_WithStatusStampsCompletion(t *testing.T) {
	job := NewImportJob("extract.csv", ImportTypeMatters, uuid.New())

	processing, err := job.WithStatus(JobStatusProcessing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processing.CompletedAt != nil {
		t.Fatalf("non-terminal transition must not stamp completion")
	}

	completed, err := processing.WithStatus(JobStatusCompleted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completed.CompletedAt == nil {
		t.Fatalf("terminal transition must stamp completion")
	}

	if _, err := completed.WithStatus(JobStatusProcessing); err == nil {
		t.Fatalf("terminal job must reject further transitions")
	}
}

func TestParseImportType(t *testing.T) {
	for _, raw := range []string{"enquiries", "clients", "matters", "fees"} {
		if _, err := ParseImportType(raw); err != nil {
			t.Fatalf("unexpected error for %q: %v", raw, err)
		}
	}
	if _, err := ParseImportType("invoices"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestBatchResult_Failed(t *testing.T) {
	result := BatchResult{Attempted: 50, Succeeded: 47}
	if result.Failed() != 3 {
		t.Fatalf("expected 3 failed, got %d", result.Failed())
	}
}
