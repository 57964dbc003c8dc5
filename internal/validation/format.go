package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field-level parse failures. Expected-invalid input is reported through these
// sentinels, never panics.
var (
	ErrInvalidDate          = errors.New("invalid date")
	ErrInvalidCurrency      = errors.New("invalid currency amount")
	ErrNegativeCurrency     = errors.New("currency amount must not be negative")
	ErrCurrencyTooLarge     = errors.New("currency amount exceeds cap")
	ErrInvalidPhone         = errors.New("invalid phone number")
	ErrInvalidCompanyNumber = errors.New("invalid company registration number")
	ErrInvalidReference     = errors.New("invalid reference code")
)

const (
	// DateLayout is the primary LEX date format (DD/MM/YYYY).
	DateLayout = "02/01/2006"
	// DateLayoutFallback covers extracts produced with US regional settings
	// (MM/DD/YYYY). It is only consulted when the primary layout rejects.
	DateLayoutFallback = "01/02/2006"
)

// MaxCurrencyAmount caps parsed monetary values.
var MaxCurrencyAmount = decimal.NewFromInt(100_000_000)

var (
	currencyPattern      = regexp.MustCompile(`^£?\s*\d{1,3}(,\d{3})*(\.\d{1,2})?$|^£?\s*\d+(\.\d{1,2})?$`)
	phonePattern         = regexp.MustCompile(`^(\+44\s?|0)\d{3,4}[\s-]?\d{3}[\s-]?\d{3,4}$`)
	companyNumberPattern = regexp.MustCompile(`^([0-9]{8}|[A-Za-z]{2}[0-9]{6})$`)
	referencePattern     = regexp.MustCompile(`^LEX(\d{4})-(\d{4,})$`)
)

// ParseDate parses a LEX date, trying the primary DD/MM/YYYY layout and then
// the documented MM/DD/YYYY fallback. Impossible calendar dates such as
// 31/02/2024 are rejected by both layouts.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDate
	}
	if ts, err := time.Parse(DateLayout, raw); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(DateLayoutFallback, raw); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// FormatDate renders a date back into the primary LEX layout.
func FormatDate(ts time.Time) string {
	return ts.Format(DateLayout)
}

// ParseCurrency parses a monetary amount with optional pound prefix and
// thousands separators, e.g. "£1,250.50". Amounts are non-negative and capped.
func ParseCurrency(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !currencyPattern.MatchString(trimmed) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}

	cleaned := strings.TrimPrefix(trimmed, "£")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, ErrNegativeCurrency
	}
	if amount.GreaterThan(MaxCurrencyAmount) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrCurrencyTooLarge, amount)
	}
	return amount, nil
}

// FormatCurrency renders an amount with two decimal places and a pound prefix.
func FormatCurrency(amount decimal.Decimal) string {
	return "£" + amount.StringFixed(2)
}

// ParsePhone validates a UK phone number and returns it with whitespace and
// dashes collapsed.
func ParsePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !phonePattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	normalized := strings.NewReplacer(" ", "", "-", "").Replace(trimmed)
	return normalized, nil
}

// ParseCompanyNumber validates a Companies House registration number: eight
// digits, or a two-letter prefix followed by six digits.
func ParseCompanyNumber(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !companyNumberPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCompanyNumber, raw)
	}
	return strings.ToUpper(trimmed), nil
}

// Reference is the parsed form of a LEX external reference code such as
// LEX2024-0417. It is the unique business key for a matter.
type Reference struct {
	Year     int
	Sequence string
}

// String renders the reference back into its canonical wire form.
func (r Reference) String() string {
	return fmt.Sprintf("LEX%04d-%s", r.Year, r.Sequence)
}

// ParseReference parses a structured external reference code: the fixed LEX
// prefix, a four-digit year, and a sequence of at least four digits.
func ParseReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	match := referencePattern.FindStringSubmatch(trimmed)
	if match == nil {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}

	var year int
	if _, err := fmt.Sscanf(match[1], "%d", &year); err != nil {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	if year < 1990 || year > time.Now().Year()+1 {
		return Reference{}, fmt.Errorf("%w: year %d out of range", ErrInvalidReference, year)
	}

	return Reference{Year: year, Sequence: match[2]}, nil
}
