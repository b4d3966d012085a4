package utils

import (
	"encoding/json"
	"testing"
)

func TestStrictDecimal(t *testing.T) {
	d, err := StrictDecimal(json.Number("1234.56"), "test.amount")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.String() != "1234.56" {
		t.Fatalf("expected 1234.56, got %s", d)
	}

	if _, err := StrictDecimal(json.Number(""), "test.amount"); err == nil {
		t.Fatal("empty amount must not coalesce into zero")
	}
	if _, err := StrictDecimal(json.Number("12,34"), "test.amount"); err == nil {
		t.Fatal("malformed amount must error")
	}
}

func TestOptionalDecimal(t *testing.T) {
	d, err := OptionalDecimal(json.Number(""), "test.amount")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsZero() {
		t.Fatalf("expected zero for absent value, got %s", d)
	}
	if _, err := OptionalDecimal(json.Number("abc"), "test.amount"); err == nil {
		t.Fatal("malformed amount must error even when optional")
	}
}

func TestParseUpstreamTime(t *testing.T) {
	cases := []string{
		"2026-03-05T10:00:00.123456789Z",
		"2026-03-05T10:00:00Z",
		"2026-03-05T10:00:00",
		"2026-03-05",
	}
	for _, in := range cases {
		if _, err := ParseUpstreamTime(in); err != nil {
			t.Fatalf("ParseUpstreamTime(%q) error: %v", in, err)
		}
	}
	for _, in := range []string{"", "not-a-time", "05/03/2026"} {
		if _, err := ParseUpstreamTime(in); err == nil {
			t.Fatalf("ParseUpstreamTime(%q) expected error", in)
		}
	}
}

func TestMaxWatermark(t *testing.T) {
	cases := []struct {
		a, b     string
		expected string
	}{
		{"", "2026-03-05T10:00:00Z", "2026-03-05T10:00:00Z"},
		{"2026-03-05T10:00:00Z", "", "2026-03-05T10:00:00Z"},
		{"2026-03-05T10:00:00Z", "2026-03-06T10:00:00Z", "2026-03-06T10:00:00Z"},
		{"2026-03-06T10:00:00Z", "2026-03-05T10:00:00Z", "2026-03-06T10:00:00Z"},
		// Equal instants keep the first representation.
		{"2026-03-05T10:00:00Z", "2026-03-05T10:00:00.000Z", "2026-03-05T10:00:00Z"},
		// Garbage loses to a parseable watermark.
		{"junk", "2026-03-05T10:00:00Z", "2026-03-05T10:00:00Z"},
		{"2026-03-05T10:00:00Z", "junk", "2026-03-05T10:00:00Z"},
	}
	for _, tc := range cases {
		if got := MaxWatermark(tc.a, tc.b); got != tc.expected {
			t.Fatalf("MaxWatermark(%q, %q) expected %q, got %q", tc.a, tc.b, tc.expected, got)
		}
	}
}

func TestNormalizeCursorParam(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"2026-03-05T10:00:00.987654321Z", "2026-03-05T10:00:00Z"},
		{"2026-03-05T10:00:00+06:30", "2026-03-05T03:30:00Z"},
		{"2026-03-05", "2026-03-05T00:00:00Z"},
	}
	for _, tc := range cases {
		got, err := NormalizeCursorParam(tc.in)
		if err != nil {
			t.Fatalf("NormalizeCursorParam(%q) error: %v", tc.in, err)
		}
		if got != tc.expected {
			t.Fatalf("NormalizeCursorParam(%q) expected %q, got %q", tc.in, tc.expected, got)
		}
	}
	if _, err := NormalizeCursorParam("bogus"); err == nil {
		t.Fatal("expected error for unparseable cursor")
	}
}
