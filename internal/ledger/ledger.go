// Package ledger owns the application state: cards, expenses, monthly
// budgets and the current selections. One instance is the single
// logical actor of the system; the mutex serializes the HTTP handlers
// so no mutation ever overlaps another.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"recus/internal/core"
	"recus/internal/storage"
)

// maxRolloverDepth caps the carry-forward recursion at ten years of
// months. Malformed or circular month keys then fall back to zero
// silently instead of surfacing an error.
const maxRolloverDepth = 120

// DefaultCardName seeds the first card on an empty store.
const DefaultCardName = "Carte parents"

type Ledger struct {
	mu    sync.Mutex
	store storage.KV

	clock func() time.Time
	newID func() string

	cards         []core.Card
	expenses      []core.Expense
	budgets       core.Budgets
	currentCardID string
	currentMonth  string
}

func New(store storage.KV) *Ledger {
	return &Ledger{
		store:   store,
		clock:   time.Now,
		newID:   uuid.NewString,
		budgets: core.Budgets{},
	}
}

// Hydrate loads the five persisted keys, applying defaults for missing
// ones, and seeds a first card when the store is empty. The selected
// month's budget entry is materialized so later rollover runs see the
// same value the user was shown.
func (l *Ledger) Hydrate(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadKey(ctx, storage.KeyCards, &l.cards); err != nil {
		return err
	}
	if err := l.loadKey(ctx, storage.KeyExpenses, &l.expenses); err != nil {
		return err
	}
	if err := l.loadKey(ctx, storage.KeyBudgets, &l.budgets); err != nil {
		return err
	}
	if err := l.loadKey(ctx, storage.KeyCurrentCardID, &l.currentCardID); err != nil {
		return err
	}
	if err := l.loadKey(ctx, storage.KeyCurrentMonth, &l.currentMonth); err != nil {
		return err
	}

	if l.budgets == nil {
		l.budgets = core.Budgets{}
	}
	if !core.ValidMonth(l.currentMonth) {
		l.currentMonth = core.NowMonth(l.clock())
	}

	dirty := false
	if len(l.cards) == 0 {
		card := core.Card{ID: l.newID(), Name: DefaultCardName, StartMonth: l.currentMonth}
		l.cards = []core.Card{card}
		l.currentCardID = card.ID
		dirty = true
		slog.InfoContext(ctx, "Seeded first card", "card_id", card.ID, "start_month", card.StartMonth)
	}
	if _, ok := l.cardByID(l.currentCardID); !ok {
		l.currentCardID = l.cards[0].ID
		dirty = true
	}
	if l.budgets.Touch(l.currentCardID, l.currentMonth) {
		dirty = true
	}

	if dirty {
		return l.persist(ctx)
	}
	return nil
}

func (l *Ledger) loadKey(ctx context.Context, key string, dst any) error {
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// persist writes all five keys wholesale. Callers hold the mutex. The
// writes are independent; a crash in between leaves a partially updated
// store, which the single-user local setting accepts.
func (l *Ledger) persist(ctx context.Context) error {
	entries := []struct {
		key   string
		value any
	}{
		{storage.KeyCards, l.cards},
		{storage.KeyExpenses, l.expenses},
		{storage.KeyBudgets, l.budgets},
		{storage.KeyCurrentCardID, l.currentCardID},
		{storage.KeyCurrentMonth, l.currentMonth},
	}
	for _, e := range entries {
		raw, err := json.Marshal(e.value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.key, err)
		}
		if err := l.store.Set(ctx, e.key, raw); err != nil {
			return fmt.Errorf("persist %s: %w", e.key, err)
		}
	}
	return nil
}

func (l *Ledger) cardByID(id string) (core.Card, bool) {
	for _, c := range l.cards {
		if c.ID == id {
			return c, true
		}
	}
	return core.Card{}, false
}

// Cards returns a copy of the card list.
func (l *Ledger) Cards() []core.Card {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.Card, len(l.cards))
	copy(out, l.cards)
	return out
}

func (l *Ledger) CurrentCardID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentCardID
}

func (l *Ledger) CurrentMonth() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentMonth
}

// Expense returns the expense with the given id.
func (l *Ledger) Expense(id string) (core.Expense, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.expenses {
		if e.ID == id {
			return e, true
		}
	}
	return core.Expense{}, false
}

// GetBudget returns the stored budget for (cardID, ym) or the system
// default when none is stored. Side-effect free, never fails.
func (l *Ledger) GetBudget(cardID, ym string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.budgets.Get(cardID, ym)
}

// ExpensesFor returns the card's expenses whose date falls in ym, in
// insertion order. Display ordering is the caller's concern.
func (l *Ledger) ExpensesFor(cardID, ym string) []core.Expense {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expensesForLocked(cardID, ym)
}

func (l *Ledger) expensesForLocked(cardID, ym string) []core.Expense {
	var out []core.Expense
	for _, e := range l.expenses {
		if e.CardID == cardID && core.MonthKey(e.Date) == ym {
			out = append(out, e)
		}
	}
	return out
}

// SumExpenses totals the card's expenses for ym in cents.
func (l *Ledger) SumExpenses(cardID, ym string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sumExpensesLocked(cardID, ym)
}

func (l *Ledger) sumExpensesLocked(cardID, ym string) int64 {
	var total int64
	for _, e := range l.expensesForLocked(cardID, ym) {
		total += e.Cents
	}
	return total
}

// Available is the headline metric: this month's budget plus whatever
// the previous month carried over (which may be negative).
func (l *Ledger) Available(cardID, ym string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked(cardID, ym)
}

func (l *Ledger) availableLocked(cardID, ym string) int64 {
	return l.budgets.Get(cardID, ym) + l.rolloverLocked(cardID, core.PrevMonth(ym))
}

// rolloverLocked computes the unspent (or overspent) balance of ym that
// carries into the following month:
//
//	rollover(m) = budget(m) + rollover(m-1) - spent(m)
//
// Months strictly before the card's start month contribute zero, so a
// card's series begins at its start month regardless of stray budget
// entries persisted before it. The memo is rebuilt on every call and
// scoped to this invocation; recomputation is cheap and stays correct
// under mutation.
func (l *Ledger) rolloverLocked(cardID, ym string) int64 {
	memo := make(map[string]int64)
	var startMonth string
	if card, ok := l.cardByID(cardID); ok {
		startMonth = card.StartMonth
	}

	var roll func(ym string, depth int) int64
	roll = func(ym string, depth int) int64 {
		if startMonth != "" && core.MonthBefore(ym, startMonth) {
			return 0
		}
		if depth > maxRolloverDepth {
			return 0
		}
		if v, ok := memo[ym]; ok {
			return v
		}
		out := l.budgets.Get(cardID, ym) + roll(core.PrevMonth(ym), depth+1) - l.sumExpensesLocked(cardID, ym)
		memo[ym] = out
		return out
	}
	return roll(ym, 0)
}

// Summary computes the four KPI figures for one (card, month).
func (l *Ledger) Summary(cardID, ym string) core.MonthSummary {
	l.mu.Lock()
	defer l.mu.Unlock()

	budget := l.budgets.Get(cardID, ym)
	available := l.availableLocked(cardID, ym)
	spent := l.sumExpensesLocked(cardID, ym)
	return core.MonthSummary{
		CardID:    cardID,
		Month:     ym,
		Budget:    core.Money{Cents: budget},
		Available: core.Money{Cents: available},
		Spent:     core.Money{Cents: spent},
		Remaining: core.Money{Cents: available - spent},
	}
}
