package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func IntFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func DurationFromEnvSeconds(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// StrictDecimal parses a wire number into a decimal and fails on anything
// malformed. Upstream payloads must not coalesce garbage into zeros when the
// value ends up in a financial ledger.
func StrictDecimal(num json.Number, field string) (decimal.Decimal, error) {
	s := strings.TrimSpace(num.String())
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%s: amount is empty", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: invalid amount %q: %w", field, s, err)
	}
	return d, nil
}

// OptionalDecimal parses a wire number, treating an absent value as zero but
// still rejecting malformed input.
func OptionalDecimal(num json.Number, field string) (decimal.Decimal, error) {
	if strings.TrimSpace(num.String()) == "" {
		return decimal.Zero, nil
	}
	return StrictDecimal(num, field)
}

var upstreamTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseUpstreamTime parses the timestamp representations Nimbus is known to emit.
func ParseUpstreamTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range upstreamTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// MaxWatermark returns the later of two upstream last-modified strings.
// The stored cursor keeps the verbatim upstream representation; only the
// comparison parses it.
func MaxWatermark(a, b string) string {
	if strings.TrimSpace(a) == "" {
		return b
	}
	if strings.TrimSpace(b) == "" {
		return a
	}
	ta, errA := ParseUpstreamTime(a)
	tb, errB := ParseUpstreamTime(b)
	if errA != nil {
		return b
	}
	if errB != nil {
		return a
	}
	if tb.After(ta) {
		return b
	}
	return a
}

// NormalizeCursorParam renders a cursor as the ISO-8601 subset Nimbus accepts
// for its modified_since query parameter: UTC, seconds precision, no
// fractional seconds.
func NormalizeCursorParam(cursor string) (string, error) {
	t, err := ParseUpstreamTime(cursor)
	if err != nil {
		return "", err
	}
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z"), nil
}
