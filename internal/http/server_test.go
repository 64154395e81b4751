package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"recus/internal/core"
	"recus/internal/ledger"
	"recus/internal/ocr/memory"
	"recus/internal/scan"
	"recus/internal/services"
	"recus/internal/storage"
)

const scanReceipt = "SUPER MARCHE\nLe 05/03/2024\nTOTAL 12,50 EUR\nMERCI"

func newTestServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()

	store := storage.NewMemoryStore()
	ldg := ledger.New(store)
	if err := ldg.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate() error = %v", err)
	}

	registry := scan.NewRegistry(time.Minute)
	t.Cleanup(registry.Stop)
	scans := services.NewScanService(registry, memory.New(scanReceipt), nil, "fra")

	srv := NewServer("127.0.0.1:0", ldg, scans, 10<<20)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return ts, srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func currentState(t *testing.T, ts *httptest.Server) stateResponse {
	t.Helper()
	var state stateResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/state", nil, &state)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/state status = %d", resp.StatusCode)
	}
	return state
}

func TestStateSeedsFirstCard(t *testing.T) {
	ts, _ := newTestServer(t)

	state := currentState(t, ts)
	if len(state.Cards) != 1 {
		t.Fatalf("cards = %d, want 1 seeded card", len(state.Cards))
	}
	if state.Cards[0].Name != ledger.DefaultCardName {
		t.Errorf("card name = %q, want %q", state.Cards[0].Name, ledger.DefaultCardName)
	}
	if state.CurrentCardID != state.Cards[0].ID {
		t.Errorf("currentCardId = %q, want seeded card", state.CurrentCardID)
	}
	if !core.ValidMonth(state.CurrentMonth) {
		t.Errorf("currentMonth = %q, want YYYY-MM", state.CurrentMonth)
	}
}

func TestSummaryDefaultBudget(t *testing.T) {
	ts, _ := newTestServer(t)

	var summary core.MonthSummary
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/summary", nil, &summary)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if summary.Budget.Cents != core.DefaultBudgetCents {
		t.Errorf("budget = %d, want default %d", summary.Budget.Cents, core.DefaultBudgetCents)
	}
	if summary.Spent.Cents != 0 {
		t.Errorf("spent = %d, want 0", summary.Spent.Cents)
	}
}

func TestSummaryRejectsBadMonth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/summary?month=2024-13", nil, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestExpenseLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	state := currentState(t, ts)
	date := state.CurrentMonth + "-10"

	var created core.Expense
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/expenses", saveExpenseRequest{
		Merchant: "Boulangerie",
		Amount:   "12,50",
		Date:     date,
		Note:     "pain",
	}, &created)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	if created.Cents != 1250 {
		t.Errorf("amount = %d, want 1250", created.Cents)
	}

	// The summary cache must not serve the pre-write figure.
	var summary core.MonthSummary
	doJSON(t, http.MethodGet, ts.URL+"/api/summary", nil, &summary)
	if summary.Spent.Cents != 1250 {
		t.Errorf("spent after create = %d, want 1250", summary.Spent.Cents)
	}

	var expenses []core.Expense
	doJSON(t, http.MethodGet, ts.URL+"/api/expenses", nil, &expenses)
	if len(expenses) != 1 || expenses[0].ID != created.ID {
		t.Fatalf("expenses = %+v, want the created one", expenses)
	}

	var edited core.Expense
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/expenses", saveExpenseRequest{
		Mode:      string(core.DraftEdit),
		ExpenseID: created.ID,
		Merchant:  "Boulangerie Martin",
		Amount:    "13,00",
		Date:      date,
		Note:      "pain",
	}, &edited)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit status = %d", resp.StatusCode)
	}
	if edited.ID != created.ID || edited.Cents != 1300 {
		t.Errorf("edited = %+v, want same id with 1300 cents", edited)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/expenses/"+created.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", delResp.StatusCode)
	}

	doJSON(t, http.MethodGet, ts.URL+"/api/summary", nil, &summary)
	if summary.Spent.Cents != 0 {
		t.Errorf("spent after delete = %d, want 0", summary.Spent.Cents)
	}
}

func TestExpensesSortedNewestFirst(t *testing.T) {
	ts, _ := newTestServer(t)
	state := currentState(t, ts)

	for _, day := range []string{"05", "20", "12"} {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/expenses", saveExpenseRequest{
			Merchant: "Magasin " + day,
			Amount:   "1,00",
			Date:     state.CurrentMonth + "-" + day,
		}, nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create status = %d", resp.StatusCode)
		}
	}

	var expenses []core.Expense
	doJSON(t, http.MethodGet, ts.URL+"/api/expenses", nil, &expenses)
	if len(expenses) != 3 {
		t.Fatalf("got %d expenses, want 3", len(expenses))
	}
	for i := 1; i < len(expenses); i++ {
		if expenses[i].Date.After(expenses[i-1].Date) {
			t.Errorf("expenses out of order at %d: %v after %v", i, expenses[i].Date, expenses[i-1].Date)
		}
	}
}

func TestSetBudget(t *testing.T) {
	ts, _ := newTestServer(t)

	var summary core.MonthSummary
	resp := doJSON(t, http.MethodPut, ts.URL+"/api/budget", setBudgetRequest{Amount: "3000"}, &summary)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if summary.Budget.Cents != 300000 {
		t.Errorf("budget = %d, want 300000", summary.Budget.Cents)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/budget", setBudgetRequest{Amount: "-5"}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("negative budget status = %d, want 422", resp.StatusCode)
	}
}

func TestCardsAndSelection(t *testing.T) {
	ts, _ := newTestServer(t)

	var card core.Card
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/cards", addCardRequest{Name: "Carte pro"}, &card)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add card status = %d", resp.StatusCode)
	}
	if card.Name != "Carte pro" || card.StartMonth == "" {
		t.Errorf("card = %+v, want name and start month set", card)
	}

	state := currentState(t, ts)
	if state.CurrentCardID != card.ID {
		t.Errorf("new card must become current, got %q", state.CurrentCardID)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/cards/select", selectCardRequest{ID: "ghost"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("select unknown card status = %d, want 404", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/cards", addCardRequest{Name: "   "}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("blank card name status = %d, want 422", resp.StatusCode)
	}
}

func TestSelectMonth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/months/select", selectMonthRequest{Month: "2031-02"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := currentState(t, ts).CurrentMonth; got != "2031-02" {
		t.Errorf("currentMonth = %q, want 2031-02", got)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/months/select", selectMonthRequest{Month: "2031-13"}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("bad month status = %d, want 422", resp.StatusCode)
	}
}

func TestScanFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/scan", bytes.NewReader([]byte{0xff, 0xd8}))
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("scan status = %d, want 202", resp.StatusCode)
	}
	var accepted scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode: %v", err)
	}

	var job scan.Job
	deadline := time.Now().Add(2 * time.Second)
	for {
		doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/scan/%s", ts.URL, accepted.JobID), nil, &job)
		if job.State == scan.JobDone || job.State == scan.JobFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in state %s", job.State)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if job.State != scan.JobDone {
		t.Fatalf("job state = %s (error %q), want done", job.State, job.Error)
	}
	if job.Draft == nil || job.Draft.Merchant != "SUPER MARCHE" || job.Draft.Cents != 1250 {
		t.Errorf("draft = %+v, want interpreted receipt", job.Draft)
	}
}

func TestScanUnknownJob(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/scan/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	state := currentState(t, ts)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/expenses", saveExpenseRequest{
		Merchant: "Pharmacie",
		Amount:   "8,20",
		Date:     state.CurrentMonth + "-03",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	exportResp, err := http.Get(ts.URL + "/api/export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer exportResp.Body.Close()
	if exportResp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", exportResp.StatusCode)
	}
	var payload ledger.Payload
	exported := json.NewDecoder(exportResp.Body)
	if err := exported.Decode(&payload); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if payload.Version != ledger.FormatVersion {
		t.Errorf("version = %d, want %d", payload.Version, ledger.FormatVersion)
	}

	// Restore into a fresh instance.
	ts2, _ := newTestServer(t)
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	importResp, err := http.Post(ts2.URL+"/api/import", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	importResp.Body.Close()
	if importResp.StatusCode != http.StatusOK {
		t.Fatalf("import status = %d", importResp.StatusCode)
	}

	var summary core.MonthSummary
	url := fmt.Sprintf("%s/api/summary?card=%s&month=%s", ts2.URL, state.CurrentCardID, state.CurrentMonth)
	doJSON(t, http.MethodGet, url, nil, &summary)
	if summary.Spent.Cents != 820 {
		t.Errorf("spent after import = %d, want 820", summary.Spent.Cents)
	}
}

func TestImportMalformed(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/import", "application/json", bytes.NewReader([]byte(`{"version":2}`)))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d", path, resp.StatusCode)
		}
	}
}
