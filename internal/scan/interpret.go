package scan

import (
	"time"

	"recus/internal/core"
)

// BuildDraft runs the three extractors over the recognized text and
// assembles a create-mode draft for user review. A missing amount stays
// zero so the review form starts empty instead of pre-filled.
func BuildDraft(text string, now time.Time) core.Draft {
	cents, _ := ParseAmountCents(text)
	return core.Draft{
		Mode:     core.DraftCreate,
		Merchant: ParseMerchant(text),
		Cents:    cents,
		Date:     ParseDate(text, now),
		Note:     core.ScannedNote,
		RawText:  text,
	}
}
