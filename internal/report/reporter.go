package report

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/caseworks/leximport/internal/domain"
	"github.com/caseworks/leximport/internal/repository"
)

// Category buckets a diagnostic by failure class.
type Category string

const (
	CategoryFormat     Category = "format"
	CategoryValidation Category = "validation"
	CategoryBusiness   Category = "business"
	CategorySystem     Category = "system"
)

// ErrorGroup is one cluster of diagnostics sharing a normalized message.
type ErrorGroup struct {
	Message  string   `json:"message"`
	Category Category `json:"category"`
	Count    int      `json:"count"`
	Samples  []string `json:"samples"`
}

// Report is the aggregate error analysis for one finished job.
type Report struct {
	JobID           string           `json:"jobId"`
	TotalErrors     int              `json:"totalErrors"`
	TotalWarnings   int              `json:"totalWarnings"`
	ByCategory      map[Category]int `json:"byCategory"`
	TopErrors       []ErrorGroup     `json:"topErrors"`
	Concerns        []Concern        `json:"concerns"`
	Recommendations []string         `json:"recommendations"`
}

const (
	maxSamplesPerGroup = 3
	maxTopErrors       = 10
)

// Reporter categorizes diagnostics, surfaces security concerns, and writes
// the audit trail. High and critical concerns additionally fire the alerter.
type Reporter struct {
	audit   repository.AuditRepository
	alerter Alerter
}

// NewReporter wires a reporter. A nil alerter falls back to log output.
func NewReporter(audit repository.AuditRepository, alerter Alerter) *Reporter {
	if alerter == nil {
		alerter = LogAlerter{}
	}
	return &Reporter{audit: audit, alerter: alerter}
}

// Build produces the error report for a job, scans for security concerns,
// fires alerts for high-severity findings, and records the audit trail.
func (r *Reporter) Build(ctx context.Context, job domain.ImportJob, diagnostics []domain.RowDiagnostic) Report {
	rpt := Report{
		JobID:      job.ID.String(),
		ByCategory: make(map[Category]int),
	}

	groups := make(map[string]*ErrorGroup)
	for _, diag := range diagnostics {
		if diag.Severity == domain.SeverityWarning {
			rpt.TotalWarnings++
			continue
		}
		rpt.TotalErrors++

		category := Categorize(diag.Message)
		rpt.ByCategory[category]++

		key := NormalizeMessage(diag.Message)
		group, ok := groups[key]
		if !ok {
			group = &ErrorGroup{Message: key, Category: category}
			groups[key] = group
		}
		group.Count++
		if len(group.Samples) < maxSamplesPerGroup {
			group.Samples = append(group.Samples, Redact(truncate(diag.Value, 80)))
		}
	}

	rpt.TopErrors = rankGroups(groups)
	rpt.Concerns = ScanJob(job, diagnostics)
	rpt.Recommendations = recommend(rpt.ByCategory, rpt.TotalErrors, job.TotalRows)

	for _, concern := range rpt.Concerns {
		if concern.Severity == SeverityHigh || concern.Severity == SeverityCritical {
			r.alerter.Alert(ctx, job, concern)
		}
	}

	if r.audit != nil {
		detail := fmt.Sprintf("errors=%d warnings=%d concerns=%d", rpt.TotalErrors, rpt.TotalWarnings, len(rpt.Concerns))
		entry := domain.NewAuditEntry(job.ID, job.OwnerID, "import.report", detail)
		if err := r.audit.Record(ctx, entry); err != nil {
			log.Printf("[REPORT] failed to record audit entry for job %s: %v", job.ID, err)
		}
	}

	return rpt
}

var (
	formatMessagePattern   = regexp.MustCompile(`(?i)invalid (date|currency|reference|phone|company)|unrecognized|unable to (parse|coerce)`)
	businessMessagePattern = regexp.MustCompile(`(?i)duplicate|future|above £|value above|exceeds cap`)
	systemMessagePattern   = regexp.MustCompile(`(?i)store unavailable|connection|timeout|batch \d+ failed|internal error|cancelled`)
)

// Categorize maps a diagnostic message to its failure class by pattern.
// Anything unrecognized is treated as a validation/constraint failure.
func Categorize(message string) Category {
	switch {
	case systemMessagePattern.MatchString(message):
		return CategorySystem
	case formatMessagePattern.MatchString(message):
		return CategoryFormat
	case businessMessagePattern.MatchString(message):
		return CategoryBusiness
	default:
		return CategoryValidation
	}
}

var (
	numberPattern = regexp.MustCompile(`\d+(\.\d+)?`)
	quotedPattern = regexp.MustCompile(`"[^"]*"|'[^']*'|` + "`[^`]*`")
)

// NormalizeMessage strips numbers and quoted literals so equivalent failures
// group together regardless of the offending value.
func NormalizeMessage(message string) string {
	normalized := quotedPattern.ReplaceAllString(message, "<value>")
	normalized = numberPattern.ReplaceAllString(normalized, "<n>")
	return strings.Join(strings.Fields(normalized), " ")
}

var (
	emailPattern     = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	cardPattern      = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	phoneLikePattern = regexp.MustCompile(`\b(\+44\s?|0)\d[\d\s-]{8,12}\b`)
)

// Redact masks emails, card-like numbers, and phone-like numbers before a
// value sample is surfaced to users.
func Redact(value string) string {
	redacted := emailPattern.ReplaceAllString(value, "<email>")
	redacted = cardPattern.ReplaceAllString(redacted, "<number>")
	redacted = phoneLikePattern.ReplaceAllString(redacted, "<phone>")
	return redacted
}

func rankGroups(groups map[string]*ErrorGroup) []ErrorGroup {
	ranked := make([]ErrorGroup, 0, len(groups))
	for _, group := range groups {
		ranked = append(ranked, *group)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Message < ranked[j].Message
	})
	if len(ranked) > maxTopErrors {
		ranked = ranked[:maxTopErrors]
	}
	return ranked
}

// recommend keys human-readable remediation text off the dominant categories.
func recommend(byCategory map[Category]int, totalErrors, totalRows int) []string {
	var recommendations []string
	if totalErrors == 0 {
		return recommendations
	}

	dominant := Category("")
	var dominantCount int
	for category, count := range byCategory {
		if count > dominantCount {
			dominant, dominantCount = category, count
		}
	}

	switch dominant {
	case CategoryFormat:
		recommendations = append(recommendations,
			"Most failures are format errors. Check that dates use DD/MM/YYYY, values use £0,000.00, and references follow LEXyyyy-nnnn before re-exporting from LEX.")
	case CategoryValidation:
		recommendations = append(recommendations,
			"Most failures are missing or out-of-range fields. Confirm every required column is populated in the source extract.")
	case CategoryBusiness:
		recommendations = append(recommendations,
			"Most failures breach business rules. Review duplicate references and unusually dated or valued matters with the fee earners involved.")
	case CategorySystem:
		recommendations = append(recommendations,
			"System errors dominated this import. Retry the file; if the problem persists contact support with the job id.")
	}

	if totalRows > 0 && totalErrors*2 >= totalRows {
		recommendations = append(recommendations,
			"Over half the rows failed. The file may be the wrong extract type or use an unexpected column layout.")
	}
	return recommendations
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "…"
}
