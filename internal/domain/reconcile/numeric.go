package reconcile

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultNumericFallback is the value malformed numeric input degrades to.
// An invoice is edited interactively, so a half-typed field must never block
// a recompute.
const DefaultNumericFallback = 0.0

// ParseAmount coerces v to a number, returning DefaultNumericFallback when v
// is nil, non-numeric or not finite.
func ParseAmount(v any) float64 {
	return ParseAmountOr(v, DefaultNumericFallback)
}

// ParseAmountOr coerces v to a number, returning fallback when it cannot.
//
// Strings are read leniently: currency signs and grouping spaces are
// dropped, a trailing percent sign divides by 100, and a lone comma is taken
// as the decimal separator ("12,50" is 12.5). When both "," and "." appear,
// the last one is the decimal separator ("1,234.50" and "1.234,50" are both
// 1234.5). Values too large for a float64 also yield fallback.
func ParseAmountOr(v any, fallback float64) float64 {
	d, ok := toDecimal(v)
	if !ok {
		return fallback
	}
	f := d.InexactFloat64()
	if !finite(f) {
		return fallback
	}
	return f
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, false
	case float64:
		if !finite(n) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(n), true
	case float32:
		if !finite(float64(n)) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint8:
		return decimal.NewFromInt(int64(n)), true
	case uint16:
		return decimal.NewFromInt(int64(n)), true
	case uint32:
		return decimal.NewFromInt(int64(n)), true
	case uint:
		return parseText(strconv.FormatUint(uint64(n), 10))
	case uint64:
		return parseText(strconv.FormatUint(n, 10))
	case decimal.Decimal:
		return n, true
	case json.Number:
		return parseText(n.String())
	case string:
		return parseText(n)
	default:
		return decimal.Zero, false
	}
}

var textReplacer = strings.NewReplacer(
	" ", "",
	"\u00a0", "",
	"\u202f", "",
	"€", "",
	"$", "",
	"£", "",
)

func parseText(s string) (decimal.Decimal, bool) {
	s = textReplacer.Replace(strings.TrimSpace(s))
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return decimal.Zero, false
	}
	s, ok := normalizeSeparators(s)
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if percent {
		d = d.Div(hundred)
	}
	return d, true
}

var hundred = decimal.NewFromInt(100)

// isPercentText reports whether v is text carrying a trailing percent sign
func isPercentText(v any) bool {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	default:
		return false
	}
	return strings.HasSuffix(strings.TrimSpace(s), "%")
}

// normalizeSeparators rewrites s so "." is the only decimal separator and no
// grouping separators remain. With both separators present the last one is
// the decimal separator; it must occur once, after every grouping separator.
func normalizeSeparators(s string) (string, bool) {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		decimalSep, groupSep := ".", ","
		if lastComma > lastDot {
			decimalSep, groupSep = ",", "."
		}
		if strings.Count(s, decimalSep) != 1 {
			return "", false
		}
		s = strings.ReplaceAll(s, groupSep, "")
		return strings.Replace(s, decimalSep, ".", 1), true
	case lastComma >= 0 && strings.Count(s, ",") == 1:
		return strings.Replace(s, ",", ".", 1), true
	case lastComma >= 0:
		return strings.ReplaceAll(s, ",", ""), true
	default:
		return s, true
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// dec converts a stored amount to decimal, treating non-finite values as zero
func dec(f float64) decimal.Decimal {
	if !finite(f) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// optionalDec returns the decimal value of an optional amount and whether it
// was present and usable.
func optionalDec(p *float64) (decimal.Decimal, bool) {
	if p == nil || !finite(*p) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(*p), true
}
