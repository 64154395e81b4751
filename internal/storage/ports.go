// Package storage persists the ledger state as a small key-value store.
// Five keys carry the whole state; each one is read at startup and
// rewritten wholesale after every mutation. There is no cross-key
// transaction: a crash between writes can leave the persisted state
// partially updated, which is accepted for a single-user local store.
package storage

import "context"

// Persisted keys.
const (
	KeyCards         = "cards"
	KeyExpenses      = "expenses"
	KeyBudgets       = "budgets"
	KeyCurrentCardID = "currentCardId"
	KeyCurrentMonth  = "currentMonth"
)

// KV is the persistence port the ledger writes through. A missing key
// is not an error; Get reports it through the boolean.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}
