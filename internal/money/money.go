// Package money parses and formats dollar amounts and percentages. Every
// figure the engine quotes or extracts passes through here, so the grounding
// validator and the evidence lines agree on formatting byte for byte.
//
// Parsing is decimal-based to avoid float artifacts on user-entered text
// like "2,500000" or "$3.5M". Internal plan math stays on float64; decimal
// is a boundary concern.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnparseable wraps any figure that cannot be read as a number.
var ErrUnparseable = errors.New("unparseable figure")

var suffixMultipliers = map[byte]int64{
	'k': 1_000,
	'm': 1_000_000,
	'b': 1_000_000_000,
}

// ParseAmount reads a dollar amount from text. Accepted forms include
// "$3,000,000", "3000000", "$3M", "3.5m", "250k", and malformed grouping
// like "2,500000" (commas are treated as noise, not validated).
func ParseAmount(s string) (float64, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}

	multiplier := int64(1)
	last := cleaned[len(cleaned)-1]
	if m, ok := suffixMultipliers[lowerByte(last)]; ok {
		multiplier = m
		cleaned = cleaned[:len(cleaned)-1]
		if cleaned == "" {
			return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
		}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	d = d.Mul(decimal.NewFromInt(multiplier))
	f, _ := d.Float64()
	return f, nil
}

// ParsePercent reads a percentage from text and returns it as a fraction.
// "6%", "6.5 %", "6 percent", and "6" all return rate values; bare numbers
// greater than 1 are treated as percent points ("7" means 7%, not 700%).
// Fractions like "0.06" pass through unchanged.
func ParsePercent(s string) (float64, error) {
	cleaned := strings.ToLower(strings.TrimSpace(s))
	cleaned = strings.TrimSuffix(cleaned, "percent")
	cleaned = strings.TrimSuffix(cleaned, "pct")
	cleaned = strings.ReplaceAll(cleaned, "%", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	f, _ := d.Float64()
	if f > 1 {
		f = f / 100
	}
	return f, nil
}

// FormatUSD renders a dollar figure with comma grouping: "$2,564,574" or
// "$1,234.50". Whole-dollar amounts drop the cents.
func FormatUSD(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	whole := d.Truncate(0)
	cents := d.Sub(whole).Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	grouped := groupThousands(whole.String())
	if cents == 0 {
		return fmt.Sprintf("%s$%s", sign, grouped)
	}
	return fmt.Sprintf("%s$%s.%02d", sign, grouped, cents)
}

// FormatPercent renders a fraction as percent points: 0.065 becomes "6.5%".
func FormatPercent(v float64) string {
	d := decimal.NewFromFloat(v * 100).Round(2)
	return d.String() + "%"
}

// FormatYears renders a year count with one decimal, trimming ".0".
func FormatYears(v float64) string {
	d := decimal.NewFromFloat(v).Round(1)
	return d.String()
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func lowerByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
