package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sort"
	"strings"

	"recus/internal/core"
	"recus/internal/ledger"
	applog "recus/internal/log"
	"recus/internal/services"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses. Unrecognized
// errors become an opaque 500 so internals never leak to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, core.ErrUnknownCard), errors.Is(err, core.ErrUnknownExpense):
		status = http.StatusNotFound
		msg = err.Error()
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidBudget),
		errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, ledger.ErrMalformedImport):
		status = http.StatusUnprocessableEntity
		msg = err.Error()
	case errors.Is(err, services.ErrEmptyImage):
		status = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, services.ErrScanUnavailable):
		status = http.StatusServiceUnavailable
		msg = err.Error()
	}

	if status == http.StatusInternalServerError {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Handler failed",
			"url", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// cardAndMonth resolves the card/month query parameters, falling back
// to the current selection.
func (s *Server) cardAndMonth(r *http.Request) (string, string) {
	cardID := strings.TrimSpace(r.URL.Query().Get("card"))
	if cardID == "" {
		cardID = s.ledger.CurrentCardID()
	}
	month := strings.TrimSpace(r.URL.Query().Get("month"))
	if month == "" {
		month = s.ledger.CurrentMonth()
	}
	return cardID, month
}

// purgeSummaries flushes the summary cache after any write. Rollover
// makes summaries depend on every earlier month, so fine-grained
// invalidation would be wrong as often as it is clever.
func (s *Server) purgeSummaries() {
	s.summaryCache.Purge()
}

type stateResponse struct {
	Cards         []core.Card `json:"cards"`
	CurrentCardID string      `json:"currentCardId"`
	CurrentMonth  string      `json:"currentMonth"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		Cards:         s.ledger.Cards(),
		CurrentCardID: s.ledger.CurrentCardID(),
		CurrentMonth:  s.ledger.CurrentMonth(),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	cardID, month := s.cardAndMonth(r)
	if !core.ValidMonth(month) {
		writeError(w, r, core.ErrInvalidMonth)
		return
	}

	key := cardID + "|" + month
	if summary, ok := s.summaryCache.Get(key); ok {
		writeJSON(w, http.StatusOK, summary)
		return
	}

	summary := s.ledger.Summary(cardID, month)
	s.summaryCache.Set(key, summary)
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	cardID, month := s.cardAndMonth(r)
	if !core.ValidMonth(month) {
		writeError(w, r, core.ErrInvalidMonth)
		return
	}

	expenses := s.ledger.ExpensesFor(cardID, month)
	// Newest first, the order the list is read in.
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].Date.After(expenses[j].Date)
	})
	if expenses == nil {
		expenses = []core.Expense{}
	}
	writeJSON(w, http.StatusOK, expenses)
}

type addCardRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAddCard(w http.ResponseWriter, r *http.Request) {
	var req addCardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	card, err := s.ledger.AddCard(r.Context(), sanitizeInput(req.Name))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.purgeSummaries()
	writeJSON(w, http.StatusCreated, card)
}

type selectCardRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSelectCard(w http.ResponseWriter, r *http.Request) {
	var req selectCardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if err := s.ledger.SelectCard(r.Context(), req.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{
		Cards:         s.ledger.Cards(),
		CurrentCardID: s.ledger.CurrentCardID(),
		CurrentMonth:  s.ledger.CurrentMonth(),
	})
}

type selectMonthRequest struct {
	Month string `json:"month"`
}

func (s *Server) handleSelectMonth(w http.ResponseWriter, r *http.Request) {
	var req selectMonthRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if err := s.ledger.SelectMonth(r.Context(), req.Month); err != nil {
		writeError(w, r, err)
		return
	}
	// Selecting a month materializes its budget entry.
	s.purgeSummaries()
	writeJSON(w, http.StatusOK, stateResponse{
		Cards:         s.ledger.Cards(),
		CurrentCardID: s.ledger.CurrentCardID(),
		CurrentMonth:  s.ledger.CurrentMonth(),
	})
}

type setBudgetRequest struct {
	CardID string `json:"cardId"`
	Month  string `json:"month"`
	Amount string `json:"amount"` // decimal euros, e.g. "2500" or "2500,50"
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req setBudgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	cents, err := core.ParseBudgetCents(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cardID := req.CardID
	if cardID == "" {
		cardID = s.ledger.CurrentCardID()
	}
	month := req.Month
	if month == "" {
		month = s.ledger.CurrentMonth()
	}

	if err := s.ledger.SetBudget(r.Context(), cardID, month, cents); err != nil {
		writeError(w, r, err)
		return
	}
	s.purgeSummaries()
	writeJSON(w, http.StatusOK, s.ledger.Summary(cardID, month))
}

type saveExpenseRequest struct {
	Mode      string `json:"mode,omitempty"`
	ExpenseID string `json:"expenseId,omitempty"`
	CardID    string `json:"cardId,omitempty"`
	Merchant  string `json:"merchant"`
	Amount    string `json:"amount"` // decimal euros
	Date      string `json:"date"`   // YYYY-MM-DD
	Note      string `json:"note"`
	RawText   string `json:"rawText,omitempty"`
}

func (s *Server) handleSaveExpense(w http.ResponseWriter, r *http.Request) {
	var req saveExpenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	mode := core.DraftMode(req.Mode)
	if mode == "" {
		mode = core.DraftCreate
	}

	cardID := req.CardID
	if cardID == "" {
		cardID = s.ledger.CurrentCardID()
	}

	draft := core.Draft{
		Mode:      mode,
		ExpenseID: req.ExpenseID,
		Merchant:  sanitizeInput(req.Merchant),
		Cents:     cents,
		Date:      strings.TrimSpace(req.Date),
		Note:      sanitizeInput(req.Note),
		RawText:   req.RawText,
	}

	expense, err := s.ledger.SaveDraft(r.Context(), cardID, draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.purgeSummaries()
	s.structured.LogExpenseSaved(r.Context(), expense.CardID, expense.Merchant, expense.Cents)

	status := http.StatusCreated
	if mode == core.DraftEdit {
		status = http.StatusOK
	}
	writeJSON(w, status, expense)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.ledger.DeleteExpense(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.purgeSummaries()
	w.WriteHeader(http.StatusNoContent)
}

type scanResponse struct {
	JobID string `json:"jobId"`
}

// handleScan accepts a receipt photo, as a multipart "photo" field or
// as the raw request body, and returns the job id to poll.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxImageSize)

	image, err := readImage(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	jobID, err := s.scans.StartScan(r.Context(), image)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, scanResponse{JobID: jobID})
}

func readImage(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("photo")
		if err != nil {
			return nil, fmt.Errorf("read photo field: %w", err)
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

func (s *Server) handleScanJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.scans.Job(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown scan job"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.ledger.ExportJSON()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="recus-export.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read body"})
		return
	}

	if err := s.ledger.Import(r.Context(), raw); err != nil {
		writeError(w, r, err)
		return
	}
	s.purgeSummaries()
	writeJSON(w, http.StatusOK, stateResponse{
		Cards:         s.ledger.Cards(),
		CurrentCardID: s.ledger.CurrentCardID(),
		CurrentMonth:  s.ledger.CurrentMonth(),
	})
}
