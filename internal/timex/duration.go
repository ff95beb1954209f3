// Package timex parses the compact lifetime notation used by token settings
// ("30s", "15m", "12h", "7d") and provides a Duration type for config files.
package timex

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidDuration is returned when a lifetime string does not match
// <digits><unit> with unit one of s, m, h, d.
var ErrInvalidDuration = errors.New("invalid duration format")

// MaxSeconds is the longest lifetime that still fits in a time.Duration.
const MaxSeconds = math.MaxInt64 / int64(time.Second)

var durationPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var unitSeconds = map[string]int64{
	"s": 1,
	"m": 60,
	"h": 60 * 60,
	"d": 24 * 60 * 60,
}

// ParseSeconds converts a lifetime string into whole seconds. Values longer
// than MaxSeconds are rejected.
//
//	ParseSeconds("15m") // 900
//	ParseSeconds("7d")  // 604800
func ParseSeconds(s string) (int64, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrInvalidDuration
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, ErrInvalidDuration
	}

	mul := unitSeconds[m[2]]
	if n > MaxSeconds/mul {
		return 0, ErrInvalidDuration
	}

	return n * mul, nil
}

// SecondsOr parses s and falls back to def when s is malformed or not
// positive. The parse error is still returned so the caller can report it.
func SecondsOr(s string, def int64) (int64, error) {
	n, err := ParseSeconds(s)
	if err != nil {
		return def, err
	}
	if n <= 0 {
		return def, ErrInvalidDuration
	}
	return n, nil
}
