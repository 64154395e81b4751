package scan

import (
	"regexp"
	"strings"
	"unicode"

	"recus/internal/core"
)

// Receipt boilerplate that never names the merchant: document markers,
// thanks, card/VAT/registry lines, phone and web noise, French VAT ids.
// Matched against the uppercased line, anywhere in it.
var boilerplateRe = regexp.MustCompile(`TICKET|RECU|REÇU|FACTURE|MERCI|CARTE|CB|TVA|SIRET|RCS|TEL|WWW|HTTP|HTTPS|FR\d{2}`)

var digitsOnlyRe = regexp.MustCompile(`^\d+$`)

const (
	merchantScanLines = 10
	merchantMaxLen    = 50
)

// ParseMerchant returns the first of the leading non-empty lines that
// looks like a merchant name, truncated to 50 characters. Lines that
// match the boilerplate denylist, are purely numeric, are shorter than
// three characters, or carry fewer than three letters are skipped. When
// nothing survives the placeholder name is returned.
func ParseMerchant(text string) string {
	lines := splitLines(text)
	if len(lines) > merchantScanLines {
		lines = lines[:merchantScanLines]
	}
	for _, l := range lines {
		if boilerplateRe.MatchString(strings.ToUpper(l)) {
			continue
		}
		if digitsOnlyRe.MatchString(strings.ReplaceAll(l, " ", "")) {
			continue
		}
		runes := []rune(l)
		if len(runes) < 3 {
			continue
		}
		if letterCount(runes) < 3 {
			continue
		}
		if len(runes) > merchantMaxLen {
			runes = runes[:merchantMaxLen]
		}
		return string(runes)
	}
	return core.UnknownMerchant
}

func letterCount(runes []rune) int {
	n := 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
