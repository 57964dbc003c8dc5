package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/caseworks/leximport/internal/domain"
)

// Column names expected in a LEX matter extract.
const (
	ColumnClient        = "Client"
	ColumnDescription   = "Matter Description"
	ColumnFeeEarner     = "Fee Earner"
	ColumnDateReceived  = "Date Received"
	ColumnValue         = "Value"
	ColumnStatus        = "Status"
	ColumnReference     = "Reference"
	ColumnNotes         = "Notes"
	ColumnPhone         = "Client Phone"
	ColumnCompanyNumber = "Company Number"
)

// RequiredColumns lists the columns a matter-import row must carry.
var RequiredColumns = []string{
	ColumnClient,
	ColumnDescription,
	ColumnFeeEarner,
	ColumnDateReceived,
	ColumnValue,
	ColumnStatus,
	ColumnReference,
}

const (
	maxNameLength        = 200
	maxDescriptionLength = 2000
	maxNotesLength       = 2000
)

// HighValueThreshold flags unusually large matter values as warnings rather
// than rejections.
var HighValueThreshold = decimal.NewFromInt(500_000)

// ParsedRow is the typed form of one valid LEX row.
type ParsedRow struct {
	RowNumber     int
	Client        string
	Description   string
	FeeEarner     string
	ReceivedDate  time.Time
	Value         decimal.Decimal
	Status        domain.MatterStatus
	Reference     Reference
	Notes         string
	Phone         string
	CompanyNumber string
}

// RowResult is the outcome of validating one row. A row with zero errors is
// valid even when warnings are present; Parsed is only set for valid rows.
type RowResult struct {
	Valid    bool
	Parsed   *ParsedRow
	Errors   []domain.RowDiagnostic
	Warnings []domain.RowDiagnostic
}

// Summary carries counts only, so upstream callers can make cheap decisions
// without holding row content.
type Summary struct {
	Total    int `json:"total"`
	Valid    int `json:"valid"`
	Invalid  int `json:"invalid"`
	Warnings int `json:"warnings"`
}

// RowValidator validates raw LEX records against schema and business rules.
type RowValidator struct {
	now func() time.Time
}

// NewRowValidator creates a validator using the wall clock.
func NewRowValidator() *RowValidator {
	return &RowValidator{now: time.Now}
}

// ValidateRow checks one raw record. rowNumber is 1-based and includes the
// header row offset, so the first data row of a file is row 2.
func (v *RowValidator) ValidateRow(record map[string]string, rowNumber int) RowResult {
	var (
		errs     []domain.RowDiagnostic
		warnings []domain.RowDiagnostic
	)

	addError := func(field, value, message string) {
		errs = append(errs, diagnostic(rowNumber, field, value, message, domain.SeverityError))
	}
	addWarning := func(field, value, message string) {
		warnings = append(warnings, diagnostic(rowNumber, field, value, message, domain.SeverityWarning))
	}

	// Schema checks run first; business rules only see fields that parsed.
	for _, column := range RequiredColumns {
		if strings.TrimSpace(record[column]) == "" {
			addError(column, "", fmt.Sprintf("required field %s is missing", column))
		}
	}

	parsed := ParsedRow{RowNumber: rowNumber}

	if raw := strings.TrimSpace(record[ColumnClient]); raw != "" {
		if len(raw) > maxNameLength {
			addError(ColumnClient, raw, fmt.Sprintf("client name exceeds %d characters", maxNameLength))
		} else {
			normalized := NormalizeName(raw)
			if normalized != raw {
				addWarning(ColumnClient, raw, fmt.Sprintf("client name normalized to %q", normalized))
			}
			parsed.Client = normalized
		}
	}

	if raw := strings.TrimSpace(record[ColumnFeeEarner]); raw != "" {
		if len(raw) > maxNameLength {
			addError(ColumnFeeEarner, raw, fmt.Sprintf("fee earner name exceeds %d characters", maxNameLength))
		} else {
			normalized := NormalizeName(raw)
			if normalized != raw {
				addWarning(ColumnFeeEarner, raw, fmt.Sprintf("fee earner name normalized to %q", normalized))
			}
			parsed.FeeEarner = normalized
		}
	}

	if raw := strings.TrimSpace(record[ColumnDescription]); raw != "" {
		if len(raw) > maxDescriptionLength {
			addError(ColumnDescription, raw, fmt.Sprintf("description exceeds %d characters", maxDescriptionLength))
		} else {
			parsed.Description = raw
		}
	}

	if raw := strings.TrimSpace(record[ColumnDateReceived]); raw != "" {
		ts, err := ParseDate(raw)
		if err != nil {
			addError(ColumnDateReceived, raw, err.Error())
		} else {
			if ts.After(v.now()) {
				addWarning(ColumnDateReceived, raw, "date received is in the future")
			}
			parsed.ReceivedDate = ts
		}
	}

	if raw := strings.TrimSpace(record[ColumnValue]); raw != "" {
		amount, err := ParseCurrency(raw)
		if err != nil {
			addError(ColumnValue, raw, err.Error())
		} else {
			if amount.GreaterThan(HighValueThreshold) {
				addWarning(ColumnValue, raw, fmt.Sprintf("value above %s", FormatCurrency(HighValueThreshold)))
			}
			parsed.Value = amount
		}
	}

	if raw := strings.TrimSpace(record[ColumnStatus]); raw != "" {
		status, ok := matchStatus(raw)
		if !ok {
			addError(ColumnStatus, raw, fmt.Sprintf("status must be one of %s", statusList()))
		} else {
			parsed.Status = status
		}
	}

	if raw := strings.TrimSpace(record[ColumnReference]); raw != "" {
		ref, err := ParseReference(raw)
		if err != nil {
			addError(ColumnReference, raw, err.Error())
		} else {
			parsed.Reference = ref
		}
	}

	if raw := strings.TrimSpace(record[ColumnNotes]); raw != "" {
		if runes := []rune(raw); len(runes) > maxNotesLength {
			addWarning(ColumnNotes, raw, fmt.Sprintf("notes truncated to %d characters", maxNotesLength))
			raw = string(runes[:maxNotesLength])
		}
		parsed.Notes = raw
	}

	if raw := strings.TrimSpace(record[ColumnPhone]); raw != "" {
		phone, err := ParsePhone(raw)
		if err != nil {
			addWarning(ColumnPhone, raw, err.Error())
		} else {
			parsed.Phone = phone
		}
	}

	if raw := strings.TrimSpace(record[ColumnCompanyNumber]); raw != "" {
		number, err := ParseCompanyNumber(raw)
		if err != nil {
			addWarning(ColumnCompanyNumber, raw, err.Error())
		} else {
			parsed.CompanyNumber = number
		}
	}

	if len(errs) > 0 {
		return RowResult{Valid: false, Errors: errs, Warnings: warnings}
	}
	return RowResult{Valid: true, Parsed: &parsed, Warnings: warnings}
}

// ValidateRecords validates a full record set, partitioning rows into valid
// and invalid groups and collecting every warning emitted along the way. Row
// numbering starts at 2 to account for the header.
func (v *RowValidator) ValidateRecords(records []map[string]string) (valid []ParsedRow, invalid []RowResult, warnings []domain.RowDiagnostic, summary Summary) {
	summary.Total = len(records)
	for idx, record := range records {
		result := v.ValidateRow(record, idx+2)
		summary.Warnings += len(result.Warnings)
		warnings = append(warnings, result.Warnings...)
		if result.Valid {
			summary.Valid++
			valid = append(valid, *result.Parsed)
		} else {
			summary.Invalid++
			invalid = append(invalid, result)
		}
	}
	return valid, invalid, warnings, summary
}

// titleReplacements collapses dotted honorifics the way the canonical store
// records them.
var titleReplacements = strings.NewReplacer(
	"Q.C.", "QC",
	"K.C.", "KC",
	"Mr.", "Mr",
	"Mrs.", "Mrs",
	"Ms.", "Ms",
	"Dr.", "Dr",
	"Prof.", "Prof",
)

// NormalizeName squeezes whitespace and collapses dotted titles, e.g.
// "Jane  Smith Q.C." becomes "Jane Smith QC".
func NormalizeName(raw string) string {
	name := titleReplacements.Replace(strings.TrimSpace(raw))
	return strings.Join(strings.Fields(name), " ")
}

func matchStatus(raw string) (domain.MatterStatus, bool) {
	for _, status := range domain.MatterStatuses() {
		if strings.EqualFold(raw, string(status)) {
			return status, true
		}
	}
	return "", false
}

func statusList() string {
	statuses := domain.MatterStatuses()
	parts := make([]string, len(statuses))
	for i, status := range statuses {
		parts[i] = string(status)
	}
	return strings.Join(parts, ", ")
}

func diagnostic(row int, field, value, message string, severity domain.Severity) domain.RowDiagnostic {
	return domain.RowDiagnostic{
		Row:       row,
		Field:     field,
		Value:     TruncateValue(value),
		Message:   message,
		Severity:  severity,
		Timestamp: time.Now(),
	}
}

const maxStoredValueLength = 120

// TruncateValue bounds the raw value retained on a diagnostic so oversized
// cells cannot bloat the job record. The cut falls on a rune boundary.
func TruncateValue(value string) string {
	runes := []rune(value)
	if len(runes) <= maxStoredValueLength {
		return value
	}
	return string(runes[:maxStoredValueLength]) + "…"
}
