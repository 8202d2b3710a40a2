package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crebit/backend/src/models"
	"github.com/crebit/backend/src/provider"
	"github.com/crebit/backend/src/services"
	"github.com/go-chi/chi/v5"

	_ "modernc.org/sqlite"
)

// statusRequest builds a request carrying the transactionId route param the
// way the chi router would.
func statusRequest(id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/webhook-status/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("transactionId", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE webhook_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			transaction_id TEXT NOT NULL,
			customer_id TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'unknown',
			amount_usd REAL NOT NULL DEFAULT 0,
			amount_local REAL,
			local_currency TEXT,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// payoutProvider answers the three calls the payin.completed flow makes:
// external-account lookup, off-ramp quote, payout creation.
func payoutProvider(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/external_accounts") && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"external_accounts": []map[string]string{{"id": "ea_1"}},
			})
		case r.URL.Path == "/quote":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "q_off", "quotation": 1.0})
		case r.URL.Path == "/payout":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "po_1", "status": "processing"})
		default:
			t.Errorf("unexpected provider call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newWebhookHandler(t *testing.T, providerURL string) (*WebhookHandler, *sql.DB, *services.StatusTracker) {
	t.Helper()
	db := newTestDB(t)
	tracker := services.NewStatusTracker(time.Hour)
	client := provider.NewClient(providerURL, "tok", 5*time.Second)
	paymentService := services.NewPaymentService(client, tracker, "ea_fallback")
	return NewWebhookHandler(db, tracker, paymentService), db, tracker
}

func postWebhook(t *testing.T, h *WebhookHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/payout-events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandlePayoutEvents(rec, req)
	return rec
}

func TestWebhookRejectsBadJSONOnly(t *testing.T) {
	srv := payoutProvider(t)
	defer srv.Close()
	h, _, _ := newWebhookHandler(t, srv.URL)

	if rec := postWebhook(t, h, "{not json"); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: status %d, want 400", rec.Code)
	}
	// Unknown event types still get acknowledged so the provider stops retrying.
	if rec := postWebhook(t, h, `{"event_type":"payin.reversed","event_resource":{"id":"tx_1"}}`); rec.Code != http.StatusOK {
		t.Errorf("unknown event type: status %d, want 200", rec.Code)
	}
}

func TestWebhookPayinLifecycle(t *testing.T) {
	srv := payoutProvider(t)
	defer srv.Close()
	h, db, tracker := newWebhookHandler(t, srv.URL)

	postWebhook(t, h, `{"event_type":"payin.created","event_resource":{"id":"tx_1","customer_id":"cus_1","status":"awaiting_deposit"}}`)
	postWebhook(t, h, `{"event_type":"payin.processing","event_resource":{"id":"tx_1","customer_id":"cus_1","status":"processing"}}`)

	flags, ok := tracker.Status("tx_1")
	if !ok || !flags.PayinCreated || !flags.PayinProcessing {
		t.Fatalf("tracker after processing: %+v", flags)
	}

	// Completion records amounts and fires the off-ramp payout.
	postWebhook(t, h, `{
		"event_type": "payin.completed",
		"event_resource_status": "completed",
		"event_resource": {
			"id": "tx_1", "customer_id": "cus_1", "status": "completed",
			"sender": {"amount": "18500", "currency": "MXN"},
			"receiver": {"amount": 1000, "currency": "USDC"}
		}
	}`)

	flags, _ = tracker.Status("tx_1")
	if !flags.PayinCompleted || flags.PayinProcessing {
		t.Fatalf("tracker after completion: %+v", flags)
	}
	if flags.PayinAmountLocal != 18500 || flags.PayinAmountUSDC != 1000 {
		t.Fatalf("amounts lost: %+v", flags)
	}
	if flags.OfframpTx == nil || flags.OfframpTx.ID != "po_1" {
		t.Fatalf("off-ramp payout not tracked: %+v", flags)
	}

	// The payout webhook references the payout id, not the pay-in id.
	postWebhook(t, h, `{"event_type":"payout.completed","event_resource":{"id":"po_1","status":"completed"}}`)
	flags, _ = tracker.Status("tx_1")
	if !flags.OfframpCompleted {
		t.Fatalf("payout completion not resolved onto pay-in: %+v", flags)
	}
	if flags.OfframpTx.Status != "completed" {
		t.Errorf("offramp status = %q, want completed", flags.OfframpTx.Status)
	}

	// Every event was persisted for the dashboard.
	events, err := models.GetWebhookEventsByCustomer(db, "cus_1")
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d persisted events for cus_1, want 3", len(events))
	}
	var completed *models.WebhookEvent
	for i := range events {
		if events[i].EventType == "payin.completed" {
			completed = &events[i]
		}
	}
	if completed == nil {
		t.Fatalf("payin.completed not persisted")
	}
	if completed.AmountUSD != 1000 {
		t.Errorf("amount_usd = %v, want receiver amount 1000", completed.AmountUSD)
	}
	if !completed.AmountLocal.Valid || completed.AmountLocal.Float64 != 18500 {
		t.Errorf("amount_local = %+v, want 18500", completed.AmountLocal)
	}
	if completed.LocalCurrency.String != "MXN" {
		t.Errorf("local_currency = %q, want MXN", completed.LocalCurrency.String)
	}
}

func TestWebhookPayoutFailureMarksPayin(t *testing.T) {
	srv := payoutProvider(t)
	defer srv.Close()
	h, _, tracker := newWebhookHandler(t, srv.URL)

	tracker.Merge("tx_9", func(f *models.StatusFlags) {
		f.PayinCompleted = true
		f.OfframpTx = &models.OfframpTransaction{ID: "po_9", Status: "processing"}
	})

	postWebhook(t, h, `{"event_type":"payout.failed","event_resource":{"id":"po_9","status":"failed"}}`)

	flags, _ := tracker.Status("tx_9")
	if !flags.OfframpFailed {
		t.Fatalf("payout failure not recorded: %+v", flags)
	}
	if flags.OfframpTx.Status != "failed" {
		t.Errorf("offramp status = %q, want failed", flags.OfframpTx.Status)
	}
}

func TestWebhookStatusEndpoint(t *testing.T) {
	srv := payoutProvider(t)
	defer srv.Close()
	h, _, tracker := newWebhookHandler(t, srv.URL)

	tracker.Merge("tx_1", func(f *models.StatusFlags) { f.PayinCreated = true })

	rec := httptest.NewRecorder()
	h.HandleWebhookStatus(rec, statusRequest("tx_1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	var flags models.StatusFlags
	if err := json.Unmarshal(rec.Body.Bytes(), &flags); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !flags.PayinCreated || flags.Timestamp == "" {
		t.Fatalf("unexpected flags: %+v", flags)
	}

	// Untracked transactions answer with an empty bag, not an error.
	rec = httptest.NewRecorder()
	h.HandleWebhookStatus(rec, statusRequest("tx_unknown"))
	if rec.Code != http.StatusOK {
		t.Fatalf("untracked: status %d, want 200", rec.Code)
	}
	var empty models.StatusFlags
	if err := json.Unmarshal(rec.Body.Bytes(), &empty); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if empty.PayinCreated || empty.Timestamp != "" {
		t.Fatalf("expected empty bag, got %+v", empty)
	}
}

func TestTriggerMockWebhookTakesProductionPath(t *testing.T) {
	srv := payoutProvider(t)
	defer srv.Close()
	h, _, tracker := newWebhookHandler(t, srv.URL)

	body := `{"event_type":"payin.completed","transaction_id":"tx_demo","customer_id":"cus_1","amount":500}`
	req := httptest.NewRequest(http.MethodPost, "/api/trigger-mock-webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleTriggerMockWebhook(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}

	flags, ok := tracker.Status("tx_demo")
	if !ok || !flags.PayinCompleted {
		t.Fatalf("mock event did not reach the tracker: %+v", flags)
	}
	if flags.OfframpTx == nil {
		t.Fatalf("mock completion did not trigger the payout: %+v", flags)
	}

	rec = httptest.NewRecorder()
	h.HandleTriggerMockWebhook(rec, httptest.NewRequest(http.MethodPost, "/api/trigger-mock-webhook", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing transaction_id: status %d, want 400", rec.Code)
	}
}
