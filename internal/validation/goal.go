package validation

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/templui/pledge/internal/apperr"
	"golang.org/x/text/unicode/norm"
)

const (
	TitleMaxLength       = 88
	DescriptionMaxLength = 2000
)

var (
	MinPledge = decimal.RequireFromString("0.50")
	MaxPledge = decimal.NewFromInt(10000)
)

// NormalizeTitle trims surrounding whitespace and applies NFC so visually
// identical titles compare equal during deduplication.
func NormalizeTitle(title string) string {
	return norm.NFC.String(strings.TrimSpace(title))
}

func ValidateTitle(title string) error {
	trimmed := NormalizeTitle(title)

	if trimmed == "" {
		return apperr.Invalid("title", "Goal title cannot be empty")
	}

	if utf8.RuneCountInString(trimmed) > TitleMaxLength {
		return apperr.Invalid("title", "Goal title must be 88 characters or less")
	}

	return nil
}

func ValidateDescription(description string) error {
	if utf8.RuneCountInString(strings.TrimSpace(description)) > DescriptionMaxLength {
		return apperr.Invalid("description", "Goal description must be 2000 characters or less")
	}
	return nil
}

// ValidatePledge checks a pledge amount at creation time.
func ValidatePledge(amount decimal.Decimal) error {
	if amount.LessThan(MinPledge) {
		return apperr.Invalid("pledgeAmount", "Pledge amount must be at least $0.50")
	}
	if amount.GreaterThan(MaxPledge) {
		return apperr.Invalid("pledgeAmount", "Pledge amount cannot exceed $10,000")
	}
	if !amount.Equal(amount.Round(2)) {
		return apperr.Invalid("pledgeAmount", "Pledge amount cannot have more than 2 decimal places")
	}
	return nil
}

// ValidateChargeAmount checks the bounds of a capture request.
func ValidateChargeAmount(amount decimal.Decimal) error {
	if amount.LessThan(MinPledge) || amount.GreaterThan(MaxPledge) {
		return apperr.Invalid("amount", "Invalid amount (must be between $0.50 and $10,000)")
	}
	return nil
}

// ValidateDeadline requires the deadline to fall no earlier than the start of the current UTC day.
func ValidateDeadline(deadline, now time.Time) error {
	if deadline.IsZero() {
		return apperr.Invalid("deadline", "Deadline is required")
	}
	if deadline.Before(StartOfDay(now)) {
		return apperr.Invalid("deadline", "Deadline cannot be in the past")
	}
	return nil
}

func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ToMinorUnits converts a dollar amount to integer cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts integer cents back to dollars.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
