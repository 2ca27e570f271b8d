package parsers

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a statement amount. Both "1234.56" and "1234,56" are accepted;
// when both separators appear the last one is the decimal point and the other is
// treated as a thousands separator.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount is empty")
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return decimal.Zero, fmt.Errorf("invalid amount '%s'", raw)
		}
		s = strings.Replace(s, ",", ".", 1)
	}

	if s == "" || strings.ContainsAny(s, "+-") {
		return decimal.Zero, fmt.Errorf("invalid amount '%s'", raw)
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount '%s': %w", raw, err)
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}

// FormatAmount renders an amount the way statements encode it
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// ofxDatePattern captures the date, optional time, and ignores fraction and timezone suffixes
var ofxDatePattern = regexp.MustCompile(`^(\d{8})(\d{6})?(?:\.\d{1,6})?(?:\[[^\]]*\])?$`)

const (
	ofxDateLayout     = "20060102"
	ofxDateTimeLayout = "20060102150405"
)

// ParseDate parses YYYYMMDD or YYYYMMDDHHMMSS, with an optional fractional part and
// bracketed timezone suffix which are ignored. The result is in UTC.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	m := ofxDatePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid date '%s': expected YYYYMMDD or YYYYMMDDHHMMSS", raw)
	}

	layout, value := ofxDateLayout, m[1]
	if m[2] != "" {
		layout, value = ofxDateTimeLayout, m[1]+m[2]
	}

	t, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s': %w", raw, err)
	}
	return t, nil
}

// FormatDate renders a timestamp in the statement date encoding
func FormatDate(t time.Time) string {
	return t.UTC().Format(ofxDateTimeLayout)
}

// CleanText strips control characters, decodes HTML entities and collapses whitespace
func CleanText(raw string) string {
	if raw == "" {
		return ""
	}
	decoded := html.UnescapeString(raw)
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, decoded)
	return strings.Join(strings.Fields(stripped), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max]))
}

// SynthesizeID builds a stable identifier for a transaction without FITID
func SynthesizeID(date time.Time, amount decimal.Decimal, description string) string {
	var prefix []rune
	for _, r := range description {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			prefix = append(prefix, r)
			if len(prefix) == 20 {
				break
			}
		}
	}
	return fmt.Sprintf("%s_%s_%s", date.UTC().Format(ofxDateLayout), FormatAmount(amount.Abs()), string(prefix))
}
