package store

// convert.go turns preview cells into typed query arguments.
//
// Previews come back from the validation service as JSON, so dates arrive as
// strings in whatever shape the service serialised them, and numbers may be
// strings carrying currency symbols or accounting parentheses. Each column
// is converted according to its stored type:
//   - DATE accepts ISO dates, ISO timestamps and common US/EU layouts
//   - DOUBLE PRECISION accepts JSON numbers or cleaned numeric strings
//   - TEXT accepts anything and stores its display form
//
// Null cells become invalid pgtype values so the database stores NULL.

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/sheetgate/internal/core"
)

// numericRegex matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// twoDigitYearPivot: two-digit years landing more than this many years in
// the future are moved back a century.
const twoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006-01-02T15:04:05", "2006-01-02T15:04:05.000", "2006-01-02 15:04:05",
		time.RFC3339, time.RFC3339Nano,
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
)

// columnArg converts v into the argument for a column of the given type.
func columnArg(col Column, v core.CellValue) (any, error) {
	switch col.Type {
	case TypeDate:
		return dateArg(v)
	case TypeFloat:
		return floatArg(v)
	default:
		return textArg(v), nil
	}
}

func textArg(v core.CellValue) pgtype.Text {
	if v.IsNull() {
		return pgtype.Text{}
	}
	s := strings.TrimSpace(v.String())
	return pgtype.Text{String: s, Valid: s != ""}
}

func dateArg(v core.CellValue) (pgtype.Date, error) {
	s, ok := v.Raw().(string)
	if !ok {
		if v.IsNull() {
			return pgtype.Date{}, nil
		}
		return pgtype.Date{}, fmt.Errorf("expected a date, got %s", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{}, nil
	}
	if t, ok := parseDate(s); ok {
		return pgtype.Date{Time: t, Valid: true}, nil
	}
	return pgtype.Date{}, fmt.Errorf("unrecognised date %q", s)
}

// parseDate tries unambiguous four-digit-year layouts first.
func parseDate(s string) (time.Time, bool) {
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), true
		}
	}

	pivotYear := time.Now().Year() + twoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func floatArg(v core.CellValue) (pgtype.Float8, error) {
	switch raw := v.Raw().(type) {
	case nil:
		return pgtype.Float8{}, nil
	case json.Number:
		f, err := raw.Float64()
		if err != nil {
			return pgtype.Float8{}, fmt.Errorf("number %s out of range", raw)
		}
		return pgtype.Float8{Float64: f, Valid: true}, nil
	case string:
		return parseNumeric(raw)
	default:
		return pgtype.Float8{}, fmt.Errorf("expected a number, got %s", v)
	}
}

// parseNumeric handles currency symbols, thousands separators, and
// accounting format (parentheses for negative).
func parseNumeric(s string) (pgtype.Float8, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Float8{}, nil
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return pgtype.Float8{}, fmt.Errorf("unrecognised number %q", orig)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return pgtype.Float8{}, fmt.Errorf("number %q out of range", orig)
	}
	return pgtype.Float8{Float64: f, Valid: true}, nil
}
