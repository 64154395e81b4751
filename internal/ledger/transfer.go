package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recus/internal/core"
)

// FormatVersion identifies the export document shape.
const FormatVersion = 2

// ErrMalformedImport rejects documents that fail to parse or lack the
// required card and expense sequences. Import never partially applies.
var ErrMalformedImport = errors.New("malformed import document")

// Payload is the full-state transfer document.
type Payload struct {
	Version       int            `json:"version"`
	ExportedAt    time.Time      `json:"exportedAt"`
	Cards         []core.Card    `json:"cards"`
	Expenses      []core.Expense `json:"expenses"`
	Budgets       core.Budgets   `json:"budgets"`
	CurrentCardID string         `json:"currentCardId"`
	CurrentMonth  string         `json:"currentMonth"`
}

// Export snapshots the whole ledger.
func (l *Ledger) Export() Payload {
	l.mu.Lock()
	defer l.mu.Unlock()

	cards := make([]core.Card, len(l.cards))
	copy(cards, l.cards)
	expenses := make([]core.Expense, len(l.expenses))
	copy(expenses, l.expenses)
	budgets := make(core.Budgets, len(l.budgets))
	for cardID, months := range l.budgets {
		m := make(map[string]int64, len(months))
		for ym, v := range months {
			m[ym] = v
		}
		budgets[cardID] = m
	}

	return Payload{
		Version:       FormatVersion,
		ExportedAt:    l.clock().UTC(),
		Cards:         cards,
		Expenses:      expenses,
		Budgets:       budgets,
		CurrentCardID: l.currentCardID,
		CurrentMonth:  l.currentMonth,
	}
}

// ExportJSON renders the export document.
func (l *Ledger) ExportJSON() ([]byte, error) {
	raw, err := json.MarshalIndent(l.Export(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return raw, nil
}

// Import parses an export document and wholesale-replaces the ledger
// state. Cards and expenses must be present as sequences; anything else
// falls back to a sane default. On any error the state is unchanged.
func (l *Ledger) Import(ctx context.Context, raw []byte) error {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedImport, err)
	}
	if p.Cards == nil || p.Expenses == nil {
		return fmt.Errorf("%w: cards and expenses sequences are required", ErrMalformedImport)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cards = p.Cards
	l.expenses = p.Expenses
	l.budgets = p.Budgets
	if l.budgets == nil {
		l.budgets = core.Budgets{}
	}
	l.currentCardID = p.CurrentCardID
	if _, ok := l.cardByID(l.currentCardID); !ok {
		l.currentCardID = ""
		if len(l.cards) > 0 {
			l.currentCardID = l.cards[0].ID
		}
	}
	l.currentMonth = p.CurrentMonth
	if !core.ValidMonth(l.currentMonth) {
		l.currentMonth = core.NowMonth(l.clock())
	}

	if err := l.persist(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "State imported",
		"cards", len(l.cards), "expenses", len(l.expenses), "version", p.Version)
	return nil
}
