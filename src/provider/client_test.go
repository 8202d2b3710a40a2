package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFlexFloatAcceptsStringAndNumber(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{`{"quotation": 18.5}`, 18.5},
		{`{"quotation": "18.50"}`, 18.5},
		{`{"quotation": null}`, 0},
	}
	for _, tc := range cases {
		var q Quote
		if err := json.Unmarshal([]byte(tc.in), &q); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.in, err)
		}
		if float64(q.Quotation) != tc.want {
			t.Errorf("%s: got %v, want %v", tc.in, float64(q.Quotation), tc.want)
		}
	}

	var q Quote
	if err := json.Unmarshal([]byte(`{"quotation": "not-a-number"}`), &q); err == nil {
		t.Fatalf("non-numeric string should fail to decode")
	}
}

func TestCreateQuoteSendsAuthAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "test-token" {
			t.Errorf("missing auth token, got %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["symbol"] != "USDC/MXN" || body["type"] != QuoteTypeOnRamp {
			t.Errorf("unexpected quote request: %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "q_1", "quotation": "18.50", "expires_at": 1700000300,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", 5*time.Second)
	quote, err := client.CreateQuote(context.Background(), "USDC/MXN", QuoteTypeOnRamp)
	if err != nil {
		t.Fatalf("CreateQuote: %v", err)
	}
	if quote.ID != "q_1" || float64(quote.Quotation) != 18.5 || quote.ExpiresAt != 1700000300 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

func TestErrorBodySurfacesVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "symbol is not supported"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", 5*time.Second)
	_, err := client.CreateQuote(context.Background(), "USDC/XYZ", QuoteTypeOnRamp)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "symbol is not supported") {
		t.Fatalf("provider message lost: %v", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("status code lost: %v", err)
	}
}

func TestDuplicateCustomerConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error":                "customer already exists",
			"existing_customer_id": "cus_42",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", 5*time.Second)
	_, err := client.CreateCustomer(context.Background(), &CreateCustomerRequest{})
	if err == nil {
		t.Fatalf("expected duplicate error")
	}
	if !errors.Is(err, ErrCustomerExists) {
		t.Fatalf("expected ErrCustomerExists, got %v", err)
	}
	var dup *DuplicateCustomerError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateCustomerError, got %T", err)
	}
	if dup.ExistingCustomerID != "cus_42" {
		t.Fatalf("existing id lost: %q", dup.ExistingCustomerID)
	}
}

func TestListResponsesUnwrapEnvelopes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/customers/cus_1/wallets":
			json.NewEncoder(w).Encode(map[string]any{
				"wallets": []map[string]string{{"id": "w_1", "address": "0xabc"}},
			})
		case "/customers/cus_1/external_accounts":
			json.NewEncoder(w).Encode(map[string]any{
				"external_accounts": []map[string]string{{"id": "ea_1", "bank_name": "Chase"}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", 5*time.Second)
	wallets, err := client.GetCustomerWallets(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("GetCustomerWallets: %v", err)
	}
	if len(wallets) != 1 || wallets[0].ID != "w_1" {
		t.Fatalf("unexpected wallets: %+v", wallets)
	}
	accounts, err := client.GetCustomerExternalAccounts(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("GetCustomerExternalAccounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].ID != "ea_1" {
		t.Fatalf("unexpected accounts: %+v", accounts)
	}
}

func TestCreatePayinDecodesDepositInstructions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payin" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "tx_1",
			"status": "awaiting_deposit",
			"sender_deposit_instructions": map[string]any{
				"deposit_address": "646180111812345678",
				"bank_account": map[string]any{
					"bank_name":      "STP",
					"account_number": "646180111812345678",
					"beneficiary":    map[string]any{"name": "Crebit Payments"},
				},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", 5*time.Second)
	payin, err := client.CreatePayin(context.Background(), &CreatePayinRequest{
		Amount: 18500, QuoteID: "q_1", CustomerID: "cus_1",
		Sender:   PayinParty{Currency: "MXN", PaymentRail: "spei", CLABE: "GARA800101MDFRRN09"},
		Receiver: PayinParty{Currency: "USDC", PaymentRail: "polygon", WalletID: "w_1"},
	})
	if err != nil {
		t.Fatalf("CreatePayin: %v", err)
	}
	if payin.ID != "tx_1" || payin.Status != "awaiting_deposit" {
		t.Fatalf("unexpected payin: %+v", payin)
	}
	if payin.SenderDepositInstructions.DepositAddress != "646180111812345678" {
		t.Fatalf("deposit address lost: %+v", payin.SenderDepositInstructions)
	}
	if payin.SenderDepositInstructions.BankAccount.Beneficiary.Name != "Crebit Payments" {
		t.Fatalf("beneficiary lost: %+v", payin.SenderDepositInstructions.BankAccount)
	}
}
