// Package scan turns raw OCR output into expense drafts. The three
// extractors (amount, date, merchant) are pure functions over the text
// blob and tolerate the usual OCR noise: mis-read characters, stray
// whitespace, mixed receipt layouts.
package scan

import (
	"regexp"
	"strings"

	"recus/internal/core"
)

// moneyRe matches monetary tokens: an optionally grouped integer part
// (space, dot or comma groups of three) followed by an optional
// two-digit decimal part, or a plain number with a two-digit decimal.
// Plain integers without any separator are not price-like and are
// ignored.
var moneyRe = regexp.MustCompile(`\d{1,3}(?:[ .,]\d{3})+(?:[.,]\d{2})?|\d+[.,]\d{2}`)

// totalLineRe marks lines that carry the amount due. These lines win
// over the global scan below.
var totalLineRe = regexp.MustCompile(`(?i)TOTAL|TTC|MONTANT|A\s*PAYER|À PAYER`)

// Fallback scanning discards implausibly large values (>= 100000 euros).
const maxPlausibleCents = 100000 * 100

// ParseAmountCents extracts the receipt amount in cents.
//
// Lines containing a total keyword are scanned first; the last monetary
// token on such a line wins if it parses to a positive value. Otherwise
// every monetary token in the text is considered and the largest
// plausible one is returned. The boolean is false when nothing parses,
// which is distinct from an amount of zero.
func ParseAmountCents(text string) (int64, bool) {
	for _, line := range splitLines(text) {
		if !totalLineRe.MatchString(line) {
			continue
		}
		tokens := moneyRe.FindAllString(line, -1)
		if len(tokens) == 0 {
			continue
		}
		if cents, err := core.ParseDecimalToCents(normalizeToken(tokens[len(tokens)-1])); err == nil {
			return cents, true
		}
	}

	var best int64
	for _, tok := range moneyRe.FindAllString(text, -1) {
		cents, err := core.ParseDecimalToCents(normalizeToken(tok))
		if err != nil || cents >= maxPlausibleCents {
			continue
		}
		if cents > best {
			best = cents
		}
	}
	if best == 0 {
		return 0, false
	}
	return best, true
}

// normalizeToken resolves the separator roles of a monetary token and
// rewrites it with a dot decimal and no grouping.
//
// With both dot and comma present, the right-most of the two is the
// decimal separator and the other one groups thousands. With a single
// separator type, a comma is always decimal while a dot is decimal only
// when followed by exactly two digits at the end of the token. This
// disambiguation is load-bearing for real receipts; do not simplify it.
func normalizeToken(tok string) string {
	tok = strings.ReplaceAll(tok, " ", "")
	lastDot := strings.LastIndexByte(tok, '.')
	lastComma := strings.LastIndexByte(tok, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			tok = strings.ReplaceAll(tok, ",", "")
		} else {
			tok = strings.ReplaceAll(tok[:lastComma], ".", "") + "." + tok[lastComma+1:]
		}
	case lastComma >= 0:
		tok = strings.ReplaceAll(tok[:lastComma], ",", "") + "." + tok[lastComma+1:]
	case lastDot >= 0:
		if len(tok)-lastDot-1 == 2 {
			tok = strings.ReplaceAll(tok[:lastDot], ".", "") + "." + tok[lastDot+1:]
		} else {
			tok = strings.ReplaceAll(tok, ".", "")
		}
	}
	return tok
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
