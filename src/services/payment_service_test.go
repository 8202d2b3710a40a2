package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/crebit/backend/src/provider"
)

// payinServer captures the payin request body and returns a canned response.
func payinServer(t *testing.T, captured *map[string]any, depositAddress string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payin":
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Fatalf("decode payin request: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"id":     "tx_1",
				"status": "awaiting_deposit",
				"sender_deposit_instructions": map[string]any{
					"deposit_address": depositAddress,
				},
			})
		case "/customers/cus_1/external_accounts":
			json.NewEncoder(w).Encode(map[string]any{"external_accounts": []map[string]string{}})
		case "/quote":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "q_off", "quotation": 1.0})
		case "/payout":
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Fatalf("decode payout request: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": "po_1", "status": "processing"})
		default:
			t.Errorf("unexpected provider call %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newPaymentService(srvURL, fallback string) (*PaymentService, *StatusTracker) {
	tracker := NewStatusTracker(time.Hour)
	client := provider.NewClient(srvURL, "tok", 5*time.Second)
	return NewPaymentService(client, tracker, fallback), tracker
}

func TestCreateSpeiPaymentAcceptsCLABEOrCURP(t *testing.T) {
	cases := []struct {
		name       string
		sender     string
		wantSender string
	}{
		{"18-digit CLABE", "646180111812345678", "646180111812345678"},
		{"formatted CLABE", "646-180-1118-1234-5678", "646-180-1118-1234-5678"},
		{"CURP in place of CLABE", "gara800101mdfrrn09", "GARA800101MDFRRN09"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var captured map[string]any
			srv := payinServer(t, &captured, "646180111812345678")
			defer srv.Close()
			svc, tracker := newPaymentService(srv.URL, "")

			result, err := svc.CreateSpeiPayment(context.Background(), &SpeiPaymentInput{
				AmountMXN:   18500,
				QuoteID:     "q_on",
				CustomerID:  "cus_1",
				WalletID:    "w_1",
				SenderCLABE: tc.sender,
				SenderName:  "Maria Garcia",
			})
			if err != nil {
				t.Fatalf("CreateSpeiPayment: %v", err)
			}
			if !result.Success || result.TransactionID != "tx_1" {
				t.Fatalf("unexpected result: %+v", result)
			}
			if result.DepositAddress != "646180111812345678" {
				t.Errorf("deposit address lost: %+v", result)
			}

			sender := captured["sender"].(map[string]any)
			if sender["clabe"] != tc.wantSender {
				t.Errorf("sender clabe = %v, want %v", sender["clabe"], tc.wantSender)
			}
			if sender["payment_rail"] != "spei" || sender["currency"] != "MXN" {
				t.Errorf("unexpected sender leg: %v", sender)
			}

			flags, ok := tracker.Status("tx_1")
			if !ok || !flags.PayinCreated || flags.CustomerID != "cus_1" {
				t.Errorf("payin not tracked: %+v", flags)
			}
		})
	}
}

func TestCreateSpeiPaymentRejectsBadSender(t *testing.T) {
	svc, _ := newPaymentService("http://127.0.0.1:0", "")
	_, err := svc.CreateSpeiPayment(context.Background(), &SpeiPaymentInput{
		AmountMXN: 18500, QuoteID: "q", CustomerID: "c", WalletID: "w",
		SenderCLABE: "12345", SenderName: "x",
	})
	if err == nil {
		t.Fatalf("sender neither CLABE nor CURP accepted")
	}
}

func TestCreatePixPaymentRendersQRCode(t *testing.T) {
	var captured map[string]any
	srv := payinServer(t, &captured, "pix-key-abc123")
	defer srv.Close()
	svc, _ := newPaymentService(srv.URL, "")

	result, err := svc.CreatePixPayment(context.Background(), &PixPaymentInput{
		AmountBRL:      5500,
		QuoteID:        "q_on",
		CustomerID:     "cus_1",
		WalletID:       "w_1",
		SenderName:     "Joao Silva",
		SenderDocument: "123.456.789-09",
	})
	if err != nil {
		t.Fatalf("CreatePixPayment: %v", err)
	}

	sender := captured["sender"].(map[string]any)
	if sender["pix_key"] != "12345678909" {
		t.Errorf("pix key = %v, want normalized CPF", sender["pix_key"])
	}
	if sender["payment_rail"] != "pix" || sender["currency"] != "BRL" {
		t.Errorf("unexpected sender leg: %v", sender)
	}

	if result.QRCodePNG == "" {
		t.Fatalf("no QR code rendered")
	}
	raw, err := base64.StdEncoding.DecodeString(result.QRCodePNG)
	if err != nil {
		t.Fatalf("QR code is not valid base64: %v", err)
	}
	if !strings.HasPrefix(string(raw[1:4]), "PNG") {
		t.Errorf("QR payload is not a PNG")
	}
}

func TestCreateOffRampPayoutUsesFallbackAccount(t *testing.T) {
	var captured map[string]any
	srv := payinServer(t, &captured, "")
	defer srv.Close()
	svc, tracker := newPaymentService(srv.URL, "ea_check_delivery")

	payout, err := svc.CreateOffRampPayout(context.Background(), "tx_1", "cus_1", 1000)
	if err != nil {
		t.Fatalf("CreateOffRampPayout: %v", err)
	}
	if payout.ID != "po_1" {
		t.Fatalf("unexpected payout: %+v", payout)
	}
	// The customer has no accounts on file, so the payout goes to the
	// configured check-delivery account under a fresh off-ramp quote.
	if captured["external_account_id"] != "ea_check_delivery" {
		t.Errorf("external account = %v, want fallback", captured["external_account_id"])
	}
	if captured["quote_id"] != "q_off" {
		t.Errorf("quote id = %v, want fresh off-ramp quote", captured["quote_id"])
	}

	flags, _ := tracker.Status("tx_1")
	if flags.OfframpTx == nil || flags.OfframpTx.ID != "po_1" || flags.OfframpTx.Status != "processing" {
		t.Fatalf("payout leg not tracked: %+v", flags)
	}
}

func TestCreateOffRampPayoutWithoutAnyAccount(t *testing.T) {
	var captured map[string]any
	srv := payinServer(t, &captured, "")
	defer srv.Close()
	svc, _ := newPaymentService(srv.URL, "")

	if _, err := svc.CreateOffRampPayout(context.Background(), "tx_1", "cus_1", 1000); err == nil {
		t.Fatalf("payout without any external account accepted")
	}
}
