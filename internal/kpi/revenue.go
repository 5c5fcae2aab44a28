package kpi

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrEmptyAmount is returned by ParseAmount for blank input.
var ErrEmptyAmount = errors.New("kpi: empty amount")

// RawValue is a revenue value as received, before validation. Storage and
// uploads supply numbers; the REST backend and spreadsheets may supply
// formatted strings such as "1,200.50" or "$(45)". Normalize coerces it and
// drops the row when it is not a finite number.
type RawValue any

// CoerceRevenue converts a raw revenue value to a float. It reports false for
// nil, non-numeric text, NaN, infinities and unsupported types.
func CoerceRevenue(v RawValue) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case decimal.Decimal:
		f = x.InexactFloat64()
	case json.Number:
		parsed, err := ParseAmount(x.String())
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := ParseAmount(x)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseAmount reads a formatted money string. Currency symbols, thousands
// separators and spaces are ignored; a value in parentheses or with a trailing
// minus is negative. The result is rounded to cents.
func ParseAmount(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSuffix(s, "-")
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', '¥', ',', ' ', '\u00a0':
			return -1
		}
		return r
	}, s)
	s = strings.TrimPrefix(s, "USD")
	if s == "" {
		return 0, ErrEmptyAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if negative {
		d = d.Neg()
	}
	return d.Round(2).InexactFloat64(), nil
}

// sampleSafe returns v in a form encoding/json accepts.
func sampleSafe(v RawValue) RawValue {
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return 0.0
	}
	return v
}
