package report

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/caseworks/leximport/internal/domain"
)

// ConcernSeverity ranks a security finding.
type ConcernSeverity string

const (
	SeverityLow      ConcernSeverity = "low"
	SeverityMedium   ConcernSeverity = "medium"
	SeverityHigh     ConcernSeverity = "high"
	SeverityCritical ConcernSeverity = "critical"
)

// Concern is one security finding with its remediation hint.
type Concern struct {
	Kind        string          `json:"kind"`
	Severity    ConcernSeverity `json:"severity"`
	Detail      string          `json:"detail"`
	Remediation string          `json:"remediation"`
}

// Alerter receives high and critical concerns as a side-effect distinct from
// the ordinary error report.
type Alerter interface {
	Alert(ctx context.Context, job domain.ImportJob, concern Concern)
}

// LogAlerter writes alerts to the process log. It is the default sink.
type LogAlerter struct{}

// Alert implements Alerter.
func (LogAlerter) Alert(_ context.Context, job domain.ImportJob, concern Concern) {
	log.Printf("[SECURITY] job=%s severity=%s kind=%s detail=%s", job.ID, concern.Severity, concern.Kind, concern.Detail)
}

// SafeFilenamePattern restricts uploads to simple CSV names.
var SafeFilenamePattern = regexp.MustCompile(`(?i)^[A-Za-z0-9._-]+\.csv$`)

var injectionPattern = regexp.MustCompile(`(?i)<script|javascript:|data:text/html|vbscript:|onerror\s*=|onload\s*=`)

const (
	// ErrorRateThreshold is the fraction of failed rows above which an import
	// is flagged as anomalous.
	ErrorRateThreshold = 0.5
	// LargeRowCountThreshold flags unusually large extracts.
	LargeRowCountThreshold = 10_000
)

// CheckFilename scans an upload filename before any parsing happens. Path
// traversal or characters outside the allow-list produce a high-severity
// concern and the upload must be rejected without creating a job.
func CheckFilename(name string) []Concern {
	var concerns []Concern
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		concerns = append(concerns, Concern{
			Kind:        "path_traversal",
			Severity:    SeverityHigh,
			Detail:      "filename contains path traversal characters",
			Remediation: "upload a plain CSV file named with letters, digits, dots, dashes and underscores only",
		})
		return concerns
	}
	if !SafeFilenamePattern.MatchString(name) {
		concerns = append(concerns, Concern{
			Kind:        "unsafe_filename",
			Severity:    SeverityHigh,
			Detail:      "filename does not match the allowed pattern",
			Remediation: "rename the file to match [A-Za-z0-9._-]+.csv",
		})
	}
	return concerns
}

// CheckCellValue scans a raw cell for script or URI-scheme injection patterns.
func CheckCellValue(value string) (Concern, bool) {
	if !injectionPattern.MatchString(value) {
		return Concern{}, false
	}
	return Concern{
		Kind:        "injection_attempt",
		Severity:    SeverityCritical,
		Detail:      "cell value contains a script or URI-scheme injection pattern",
		Remediation: "inspect the source extract; this content will not be imported",
	}, true
}

// ScanJob inspects a finished job for anomalous error rates and unusually
// large row counts, plus any injection patterns retained in diagnostics.
func ScanJob(job domain.ImportJob, diagnostics []domain.RowDiagnostic) []Concern {
	var concerns []Concern

	if job.TotalRows > 0 {
		rate := float64(job.ErrorRows) / float64(job.TotalRows)
		if rate > ErrorRateThreshold {
			concerns = append(concerns, Concern{
				Kind:        "anomalous_error_rate",
				Severity:    SeverityHigh,
				Detail:      "error rate exceeds half the imported rows",
				Remediation: "verify the file is the expected LEX extract type before retrying",
			})
		}
	}

	if job.TotalRows > LargeRowCountThreshold {
		concerns = append(concerns, Concern{
			Kind:        "large_row_count",
			Severity:    SeverityMedium,
			Detail:      "row count is unusually large for a routine extract",
			Remediation: "confirm the export range; split the file if it covers multiple periods",
		})
	}

	seen := false
	for _, diag := range diagnostics {
		if concern, ok := CheckCellValue(diag.Value); ok && !seen {
			concerns = append(concerns, concern)
			seen = true
		}
	}

	return concerns
}
