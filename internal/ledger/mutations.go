package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"recus/internal/core"
)

// Mutations validate first, then mutate, then flush every key before
// reporting success. A validation failure leaves the state untouched.

// AddCard creates a card anchored at the currently selected month,
// seeds that month's budget and selects the card.
func (l *Ledger) AddCard(ctx context.Context, name string) (core.Card, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	card := core.Card{
		ID:         l.newID(),
		Name:       strings.TrimSpace(name),
		StartMonth: l.currentMonth,
	}
	if err := card.Validate(); err != nil {
		return core.Card{}, err
	}

	l.cards = append(l.cards, card)
	l.budgets.Touch(card.ID, l.currentMonth)
	l.currentCardID = card.ID

	if err := l.persist(ctx); err != nil {
		return core.Card{}, err
	}
	slog.InfoContext(ctx, "Card added", "card_id", card.ID, "name", card.Name, "start_month", card.StartMonth)
	return card, nil
}

// SetBudget overwrites the budget for (cardID, ym).
func (l *Ledger) SetBudget(ctx context.Context, cardID, ym string, cents int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.cardByID(cardID); !ok {
		return core.ErrUnknownCard
	}
	if err := l.budgets.Set(cardID, ym, cents); err != nil {
		return err
	}
	if err := l.persist(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Budget updated", "card_id", cardID, "month", ym, "budget_cents", cents)
	return nil
}

// SaveDraft commits a reviewed draft: create mode appends a new expense
// on the given card, edit mode patches the referenced expense in place.
// Either way the expense month's budget entry is materialized so the
// rollover chain keeps seeing a stored value for it.
func (l *Ledger) SaveDraft(ctx context.Context, cardID string, d core.Draft) (core.Expense, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	date, err := parseDraftDate(d.Date)
	if err != nil {
		return core.Expense{}, err
	}
	merchant := strings.TrimSpace(d.Merchant)
	if merchant == "" {
		merchant = core.UnknownMerchant
	}

	if d.Mode == core.DraftEdit {
		return l.updateExpenseLocked(ctx, d, date, merchant)
	}

	exp := core.Expense{
		ID:       l.newID(),
		CardID:   cardID,
		Cents:    d.Cents,
		Date:     date,
		Merchant: merchant,
		Note:     strings.TrimSpace(d.Note),
		RawText:  d.RawText,
	}
	if err := exp.Validate(); err != nil {
		return core.Expense{}, err
	}
	if _, ok := l.cardByID(exp.CardID); !ok {
		return core.Expense{}, core.ErrUnknownCard
	}

	l.expenses = append(l.expenses, exp)

	ym := core.MonthKey(exp.Date)
	l.budgets.Touch(exp.CardID, ym)
	if ym != l.currentMonth {
		// A receipt from another month: follow it so the user sees
		// where the expense landed.
		slog.WarnContext(ctx, "Expense month differs from selected month",
			"expense_month", ym, "selected_month", l.currentMonth)
		l.currentMonth = ym
	}

	if err := l.persist(ctx); err != nil {
		return core.Expense{}, err
	}
	slog.InfoContext(ctx, "Expense added",
		"expense_id", exp.ID, "card_id", exp.CardID, "amount_cents", exp.Cents, "month", ym)
	return exp, nil
}

func (l *Ledger) updateExpenseLocked(ctx context.Context, d core.Draft, date time.Time, merchant string) (core.Expense, error) {
	idx := -1
	for i, e := range l.expenses {
		if e.ID == d.ExpenseID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return core.Expense{}, core.ErrUnknownExpense
	}

	patched := l.expenses[idx]
	patched.Cents = d.Cents
	patched.Date = date
	patched.Merchant = merchant
	patched.Note = strings.TrimSpace(d.Note)
	if err := patched.Validate(); err != nil {
		return core.Expense{}, err
	}

	l.expenses[idx] = patched
	l.budgets.Touch(patched.CardID, core.MonthKey(patched.Date))

	if err := l.persist(ctx); err != nil {
		return core.Expense{}, err
	}
	slog.InfoContext(ctx, "Expense updated", "expense_id", patched.ID, "amount_cents", patched.Cents)
	return patched, nil
}

// DeleteExpense removes the expense with the given id.
func (l *Ledger) DeleteExpense(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.expenses[:0:0]
	found := false
	for _, e := range l.expenses {
		if e.ID == id {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return core.ErrUnknownExpense
	}
	l.expenses = kept

	if err := l.persist(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Expense deleted", "expense_id", id)
	return nil
}

// SelectCard switches the current card.
func (l *Ledger) SelectCard(ctx context.Context, cardID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.cardByID(cardID); !ok {
		return core.ErrUnknownCard
	}
	l.currentCardID = cardID
	return l.persist(ctx)
}

// SelectMonth switches the current month and materializes its budget
// entry for the current card (viewing a month counts as touching it).
func (l *Ledger) SelectMonth(ctx context.Context, ym string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !core.ValidMonth(ym) {
		return core.ErrInvalidMonth
	}
	l.currentMonth = ym
	l.budgets.Touch(l.currentCardID, ym)
	return l.persist(ctx)
}

// parseDraftDate reads the review form's date and pins it to noon UTC
// so month attribution is stable across timezones. Out-of-range day or
// month fields (which the receipt date extractor may produce) are
// normalized by time.Date rather than rejected.
func parseDraftDate(s string) (time.Time, error) {
	var y, m, d int
	if _, err := fmt.Sscanf(s, "%d-%d-%d", &y, &m, &d); err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", core.ErrInvalidDate, s)
	}
	return time.Date(y, time.Month(m), d, 12, 0, 0, 0, time.UTC), nil
}
