package core

// MonthSummary holds the headline figures for one (card, month).
type MonthSummary struct {
	CardID string `json:"cardId"`
	Month  string `json:"month"` // YYYY-MM token
	Budget Money  `json:"budget"`
	// Available is budget plus the rollover carried in from the
	// previous month, before this month's spending.
	Available Money `json:"available"`
	Spent     Money `json:"spent"`
	// Remaining is Available minus Spent, i.e. what this month would
	// carry into the next one.
	Remaining Money `json:"remaining"`
}
