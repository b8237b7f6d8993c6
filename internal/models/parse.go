package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// movementDateFormats lists the date layouts observed across Mexican bank
// statements. Day-first layouts come before year-first ones because OCR
// output from BBVA/Santander/Banorte statements is predominantly dd/mm.
var movementDateFormats = []string{
	"02/01/2006",
	"2006-01-02",
	"02-01-2006",
	"02/01/06",
	"2/1/2006",
	"2006/01/02",
	"02 Jan 2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseAmount parses a statement amount string into an exact decimal. It
// strips currency symbols, thousand separators and surrounding whitespace,
// and understands the "(1,234.56)" accounting notation for negatives.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "MXN", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format '%s': %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParseMovementDate attempts to parse a statement date using the known bank
// layouts, returning the first successful interpretation.
func ParseMovementDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	var lastErr error
	for _, layout := range movementDateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}

// MonthPeriod returns the inclusive [start, end] range for a calendar month.
// The end is set to the last instant of the month's final day so that
// inclusive date comparisons capture same-day movements.
func MonthPeriod(month, year int) (time.Time, time.Time, error) {
	if month < 1 || month > 12 {
		return time.Time{}, time.Time{}, fmt.Errorf("month must be between 1 and 12: %d", month)
	}
	if year < 2000 || year > 2100 {
		return time.Time{}, time.Time{}, fmt.Errorf("year out of range: %d", year)
	}

	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end, nil
}

// DaysBetween returns the absolute whole-day distance between two dates,
// comparing calendar days rather than 24h windows.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)

	diff := int(da.Sub(db).Hours() / 24)
	if diff < 0 {
		diff = -diff
	}
	return diff
}

// WithinDays reports whether two dates are at most tolerance calendar days
// apart.
func WithinDays(a, b time.Time, tolerance int) bool {
	return DaysBetween(a, b) <= tolerance
}
