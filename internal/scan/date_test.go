package scan

import (
	"testing"
	"time"
)

var testNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func TestParseDate(t *testing.T) {
	cases := []struct {
		name string
		text string
		out  string
	}{
		{"french day first", "Le 05/03/2024 à 14h", "2024-03-05"},
		{"iso already", "2024-03-05", "2024-03-05"},
		{"dots", "Achat le 5.3.2024", "2024-03-05"},
		{"dashes", "05-03-2024", "2024-03-05"},
		{"two digit year", "05/03/24", "2024-03-05"},
		{"no date falls back to today", "aucune date", "2024-06-15"},
		{"empty falls back to today", "", "2024-06-15"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseDate(tc.text, testNow); got != tc.out {
				t.Fatalf("ParseDate(%q) = %q, want %q", tc.text, got, tc.out)
			}
		})
	}
}

func TestParseDateNoCalendarValidation(t *testing.T) {
	// Pattern matching only: an impossible day is passed through for
	// downstream normalization, not rejected.
	if got := ParseDate("99/99/2024", testNow); got != "2024-99-99" {
		t.Fatalf("got %q, want the raw pattern result", got)
	}
}
