package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crebit/backend/src/provider"
	"github.com/crebit/backend/src/services"
	"github.com/crebit/backend/src/session"
	"github.com/crebit/backend/src/wizard"
	"github.com/go-chi/chi/v5"
)

// onboardingProvider fakes the provider endpoints the wizard flow touches.
func onboardingProvider(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/customers":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "cus_1"})
		case "/wallets":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "w_1", "address": "0xabc"})
		case "/external_accounts":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "ea_1"})
		case "/quote":
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode quote request: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"id":         "q_" + body["type"],
				"quotation":  18.50,
				"expires_at": time.Now().Add(5 * time.Minute).Unix(),
				"symbol":     body["symbol"],
				"type":       body["type"],
			})
		default:
			t.Errorf("unexpected provider call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newOnboardingHandler(t *testing.T, providerURL string, lockSeconds int, cfg session.RuntimeConfig) *WizardHandler {
	t.Helper()
	client := provider.NewClient(providerURL, "tok", 5*time.Second)
	tracker := services.NewStatusTracker(time.Hour)
	return NewWizardHandler(
		context.Background(),
		session.NewStore(time.Hour),
		services.NewQuoteService(client),
		services.NewCustomerService(client),
		services.NewPaymentService(client, tracker, ""),
		tracker,
		cfg,
		lockSeconds,
	)
}

func sessionRequest(method, sessionID, body string) *http.Request {
	req := httptest.NewRequest(method, "/api/session", strings.NewReader(body))
	if sessionID != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("sessionId", sessionID)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	return req
}

func runStep(t *testing.T, h http.HandlerFunc, req *http.Request, wantStatus int) sessionState {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("status = %d, want %d: %s", rec.Code, wantStatus, rec.Body.String())
	}
	var state sessionState
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return state
}

// The quote lock must count down server-side from the moment the quote is
// applied, even if the user never authorizes.
func TestQuoteLockExpiresWithoutAuthorization(t *testing.T) {
	srv := onboardingProvider(t)
	defer srv.Close()

	h := newOnboardingHandler(t, srv.URL, 1, session.RuntimeConfig{
		TickPeriod:   5 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		PollCeiling:  time.Hour,
	})

	created := runStep(t, h.HandleCreateSession, sessionRequest(http.MethodPost, "", ""), http.StatusCreated)
	id := created.SessionID

	personal := `{"firstName":"Maria","lastName":"Garcia","documentType":"curp",` +
		`"taxId":"GARA800101MDFRRN09","email":"maria@example.mx","dateOfBirth":"1998-04-23",` +
		`"phone":"+52 55 1234 5678","country":"MEX","streetAddress":"Av. Reforma 123",` +
		`"city":"Ciudad de Mexico","state":"CDMX","zipCode":"06600"}`
	runStep(t, h.HandlePersonalInfo, sessionRequest(http.MethodPost, id, personal), http.StatusOK)

	delivery := `{"deliveryMethod":"usd-bank-transfer","routingNumber":"021000021",` +
		`"accountNumber":"123456789","accountHolderName":"Maria Garcia","bankName":"Chase",` +
		`"bankStreetAddress":"270 Park Ave","bankCity":"New York","bankState":"NY","bankZipCode":"10017"}`
	state := runStep(t, h.HandleDeliveryMethod, sessionRequest(http.MethodPost, id, delivery), http.StatusOK)
	if state.Step != int(wizard.StepAmount) {
		t.Fatalf("bank transfer should skip to the amount step, got step %d", state.Step)
	}

	state = runStep(t, h.HandleQuote,
		sessionRequest(http.MethodPost, id, `{"amount_usd":"1000","payment_method":"spei"}`), http.StatusOK)
	if state.Step != int(wizard.StepAuthorization) || state.Quote == nil {
		t.Fatalf("quote did not move to authorization: %+v", state)
	}
	if state.CountdownRemaining != 1 {
		t.Fatalf("countdown remaining = %d, want the full lock", state.CountdownRemaining)
	}

	// Sit on the authorization step without authorizing; the lock must run
	// out and raise the expiry modal on its own.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state = runStep(t, h.HandleGetState, sessionRequest(http.MethodGet, id, ""), http.StatusOK)
		if state.ExpiryModal {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !state.ExpiryModal {
		t.Fatalf("expiry modal never raised: countdown_remaining = %d", state.CountdownRemaining)
	}
	if state.CountdownRemaining != 0 {
		t.Errorf("countdown remaining = %d after expiry, want 0", state.CountdownRemaining)
	}

	// Authorizing against the expired lock is rejected.
	rec := httptest.NewRecorder()
	h.HandleAuthorize(rec, sessionRequest(http.MethodPost, id, `{"agreed":true}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("authorize after expiry: status = %d, want %d: %s",
			rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}
