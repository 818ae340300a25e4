package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NumberFormat selects how a matched counter string is parsed.
type NumberFormat int

const (
	// Plain reads the first run of digits, ignoring separators.
	Plain NumberFormat = iota
	// WithSuffix additionally honours k (1e3), w (1e4) and m (1e6) suffixes
	// and decimals, e.g. "1.5k" or "3w".
	WithSuffix
)

var (
	plainNumber  = regexp.MustCompile(`\d+`)
	suffixNumber = regexp.MustCompile(`([\d,]+(?:\.[\d,]+)?)([kmwKMW]?)`)
)

var suffixMultipliers = map[string]float64{
	"k": 1_000,
	"w": 10_000,
	"m": 1_000_000,
}

// ParseCount turns a counter string such as "1,234", "2.5k" or "3w" into an
// integer. It reports false when no number is present.
func ParseCount(text string, format NumberFormat) (int64, bool) {
	text = strings.ReplaceAll(strings.TrimSpace(text), " ", "")
	if text == "" {
		return 0, false
	}
	if format == Plain {
		digits := plainNumber.FindString(strings.ReplaceAll(text, ",", ""))
		if digits == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(digits, 10, 64)
		return n, err == nil
	}
	m := suffixNumber.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	if mult, ok := suffixMultipliers[strings.ToLower(m[2])]; ok {
		value *= mult
	}
	return int64(math.Round(value)), true
}
