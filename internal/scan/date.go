package scan

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Day-month-year takes priority; year-month-day is the fallback order.
// The digit boundaries keep a "2024-03-05" from being misread as a
// day-first date starting inside the year.
var (
	dmyRe = regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{2,4})\b`)
	ymdRe = regexp.MustCompile(`\b(\d{4})[/.\-](\d{1,2})[/.\-](\d{1,2})\b`)
)

// ParseDate extracts a "YYYY-MM-DD" date from the text, falling back to
// now's date when no pattern matches. Two-digit years are read as 20xx.
//
// Day and month ranges are not validated beyond the pattern: a receipt
// may yield a well-formed but calendrically impossible date, which
// downstream code normalizes through the time package instead of
// rejecting.
func ParseDate(text string, now time.Time) string {
	if m := dmyRe.FindStringSubmatch(text); m != nil {
		return formatISO(m[3], m[2], m[1])
	}
	if m := ymdRe.FindStringSubmatch(text); m != nil {
		return formatISO(m[1], m[2], m[3])
	}
	return now.Format("2006-01-02")
}

func formatISO(y, m, d string) string {
	year, _ := strconv.Atoi(y)
	if len(y) == 2 {
		year += 2000
	}
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}
