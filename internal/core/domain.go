package core

import (
	"errors"
	"strings"
	"time"
)

const (
	// DefaultBudgetCents is used for any (card, month) without a stored
	// budget entry. It participates in every rollover sum, so unset
	// months must always resolve to this value, never to zero.
	DefaultBudgetCents int64 = 250000

	// UnknownMerchant is the placeholder when no merchant line survives
	// receipt parsing or the user leaves the field empty.
	UnknownMerchant = "Commerçant inconnu"

	// ScannedNote is the default note attached to drafts built from OCR.
	ScannedNote = "Reçu scanné"
)

const (
	DraftCreate DraftMode = "create"
	DraftEdit   DraftMode = "edit"
)

type (
	DraftMode string

	Money struct {
		Cents int64 `json:"cents"`
	}

	// Card is an independent budget ledger with its own start month.
	// StartMonth is fixed at creation; it bounds rollover recursion.
	Card struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		StartMonth string `json:"startMonth"`
	}

	Expense struct {
		ID       string    `json:"id"`
		CardID   string    `json:"cardId"`
		Cents    int64     `json:"amountCents"`
		Date     time.Time `json:"dateISO"`
		Merchant string    `json:"merchant"`
		Note     string    `json:"note"`
		RawText  string    `json:"rawText,omitempty"`
	}

	// Budgets maps cardID -> month token -> budget in cents.
	Budgets map[string]map[string]int64

	// Draft is a candidate expense under user review, never persisted.
	Draft struct {
		Mode      DraftMode `json:"mode"`
		ExpenseID string    `json:"expenseId,omitempty"`
		Merchant  string    `json:"merchant"`
		Cents     int64     `json:"amountCents"` // 0 means no amount was extracted
		Date      string    `json:"date"`        // YYYY-MM-DD
		Note      string    `json:"note"`
		RawText   string    `json:"rawText,omitempty"`
	}
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidBudget  = errors.New("invalid budget")
	ErrInvalidMonth   = errors.New("invalid month token")
	ErrInvalidDate    = errors.New("invalid date")
	ErrEmptyName      = errors.New("empty name")
	ErrUnknownCard    = errors.New("unknown card")
	ErrUnknownExpense = errors.New("unknown expense")
)

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (c Card) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if !ValidMonth(c.StartMonth) {
		return ErrInvalidMonth
	}
	return nil
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.CardID) == "" {
		return ErrUnknownCard
	}
	if err := (Money{Cents: e.Cents}).Validate(); err != nil {
		return err
	}
	if e.Date.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Touch materializes an entry for (cardID, ym), copying the value that
// Get would report so unset months keep resolving identically after
// being viewed. Returns true when the map changed.
func (b Budgets) Touch(cardID, ym string) bool {
	months, ok := b[cardID]
	if !ok {
		months = make(map[string]int64)
		b[cardID] = months
	}
	if _, ok := months[ym]; ok {
		return false
	}
	months[ym] = b.Get(cardID, ym)
	return true
}

// Get returns the stored budget for (cardID, ym), or DefaultBudgetCents
// when no entry exists. Never fails, never mutates.
func (b Budgets) Get(cardID, ym string) int64 {
	if months, ok := b[cardID]; ok {
		if v, ok := months[ym]; ok {
			return v
		}
	}
	return DefaultBudgetCents
}

// Set overwrites the budget for (cardID, ym). Negative values are rejected.
func (b Budgets) Set(cardID, ym string, cents int64) error {
	if cents < 0 {
		return ErrInvalidBudget
	}
	if !ValidMonth(ym) {
		return ErrInvalidMonth
	}
	months, ok := b[cardID]
	if !ok {
		months = make(map[string]int64)
		b[cardID] = months
	}
	months[ym] = cents
	return nil
}
