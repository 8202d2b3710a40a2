package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/models"
	"github.com/crebit/backend/src/provider"
	"github.com/crebit/backend/src/security/validation"
)

// PaymentService creates the pay-in leg (SPEI or PIX) against a locked quote
// and, once the provider confirms the deposit, the off-ramp payout.
type PaymentService struct {
	client  *provider.Client
	tracker *StatusTracker

	// fallbackExternalAccountID receives payouts when a customer has no
	// external account on file (check-delivery flow).
	fallbackExternalAccountID string
}

func NewPaymentService(client *provider.Client, tracker *StatusTracker, fallbackExternalAccountID string) *PaymentService {
	return &PaymentService{
		client:                    client,
		tracker:                   tracker,
		fallbackExternalAccountID: fallbackExternalAccountID,
	}
}

// SpeiPaymentInput is the request for a Mexican SPEI pay-in.
type SpeiPaymentInput struct {
	AmountMXN   float64
	QuoteID     string
	CustomerID  string
	WalletID    string
	SenderCLABE string
	SenderName  string
}

// SpeiPaymentResult is returned to the client and displayed verbatim on the
// execution step.
type SpeiPaymentResult struct {
	Success        bool                  `json:"success"`
	Transaction    *provider.Payin       `json:"transaction"`
	TransactionID  string                `json:"transaction_id"`
	Status         string                `json:"status"`
	AmountMXN      float64               `json:"amount_mxn"`
	WalletID       string                `json:"wallet_id"`
	DepositAddress string                `json:"deposit_address,omitempty"`
	BankAccount    *provider.BankAccount `json:"bank_account,omitempty"`
	Beneficiary    *provider.Beneficiary `json:"beneficiary,omitempty"`
}

func (s *PaymentService) CreateSpeiPayment(ctx context.Context, in *SpeiPaymentInput) (*SpeiPaymentResult, error) {
	if in.AmountMXN <= 0 {
		return nil, fmt.Errorf("a valid amount_mxn is required")
	}
	if in.QuoteID == "" || in.CustomerID == "" || in.WalletID == "" {
		return nil, fmt.Errorf("quote_id, customer_id and wallet_id are required")
	}
	// The provider accepts a CURP in place of a CLABE for sandbox SPEI
	// senders; both are 18 characters.
	clabe := in.SenderCLABE
	if err := validation.ValidateCLABE(clabe); err != nil {
		normalized, curpErr := validation.NormalizeCURP(clabe)
		if curpErr != nil {
			return nil, err
		}
		clabe = normalized
	}

	payin, err := s.client.CreatePayin(ctx, &provider.CreatePayinRequest{
		Amount:     in.AmountMXN,
		QuoteID:    in.QuoteID,
		CustomerID: in.CustomerID,
		Sender: provider.PayinParty{
			Currency:    "MXN",
			PaymentRail: "spei",
			CLABE:       clabe,
		},
		Receiver: provider.PayinParty{
			Currency:    "USDC",
			PaymentRail: "polygon",
			WalletID:    in.WalletID,
		},
	})
	if err != nil {
		return nil, err
	}

	s.trackCreated(payin, in.CustomerID)
	logger.L.Info("SPEI payment created",
		"transactionID", payin.ID, "amountMXN", in.AmountMXN, "customerID", in.CustomerID)

	result := &SpeiPaymentResult{
		Success:       true,
		Transaction:   payin,
		TransactionID: payin.ID,
		Status:        payin.Status,
		AmountMXN:     in.AmountMXN,
		WalletID:      in.WalletID,
	}
	if payin.SenderDepositInstructions.DepositAddress != "" {
		result.DepositAddress = payin.SenderDepositInstructions.DepositAddress
		result.BankAccount = &payin.SenderDepositInstructions.BankAccount
		result.Beneficiary = &payin.SenderDepositInstructions.BankAccount.Beneficiary
	}
	return result, nil
}

// PixPaymentInput is the request for a Brazilian PIX pay-in.
type PixPaymentInput struct {
	AmountBRL      float64
	QuoteID        string
	CustomerID     string
	WalletID       string
	SenderName     string
	SenderDocument string // CPF
}

// PixPaymentResult includes a rendered QR code for the PIX deposit address.
type PixPaymentResult struct {
	Success        bool            `json:"success"`
	Transaction    *provider.Payin `json:"transaction"`
	TransactionID  string          `json:"transaction_id"`
	Status         string          `json:"status"`
	AmountBRL      float64         `json:"amount_brl"`
	WalletID       string          `json:"wallet_id"`
	DepositAddress string          `json:"deposit_address,omitempty"`
	QRCodePNG      string          `json:"qr_code_png,omitempty"` // base64
}

func (s *PaymentService) CreatePixPayment(ctx context.Context, in *PixPaymentInput) (*PixPaymentResult, error) {
	if in.AmountBRL <= 0 {
		return nil, fmt.Errorf("a valid amount_brl is required")
	}
	if in.QuoteID == "" || in.CustomerID == "" || in.WalletID == "" {
		return nil, fmt.Errorf("quote_id, customer_id and wallet_id are required")
	}
	cpf, err := validation.NormalizeCPF(in.SenderDocument)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateStringNotEmpty(in.SenderName, "Sender Name"); err != nil {
		return nil, err
	}

	payin, err := s.client.CreatePayin(ctx, &provider.CreatePayinRequest{
		Amount:     in.AmountBRL,
		QuoteID:    in.QuoteID,
		CustomerID: in.CustomerID,
		Sender: provider.PayinParty{
			Currency:    "BRL",
			PaymentRail: "pix",
			PixKey:      cpf,
		},
		Receiver: provider.PayinParty{
			Currency:    "USDC",
			PaymentRail: "polygon",
			WalletID:    in.WalletID,
		},
	})
	if err != nil {
		return nil, err
	}

	s.trackCreated(payin, in.CustomerID)
	logger.L.Info("PIX payment created",
		"transactionID", payin.ID, "amountBRL", in.AmountBRL, "customerID", in.CustomerID)

	result := &PixPaymentResult{
		Success:        true,
		Transaction:    payin,
		TransactionID:  payin.ID,
		Status:         payin.Status,
		AmountBRL:      in.AmountBRL,
		WalletID:       in.WalletID,
		DepositAddress: payin.SenderDepositInstructions.DepositAddress,
	}
	if result.DepositAddress != "" {
		qrPNG, err := renderQRCode(result.DepositAddress)
		if err != nil {
			// The copy-paste address still works without the QR image.
			logger.L.Warn("Failed to render PIX QR code", "transactionID", payin.ID, "error", err)
		} else {
			result.QRCodePNG = qrPNG
		}
	}
	return result, nil
}

func renderQRCode(content string) (string, error) {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	code, err = barcode.Scale(code, 256, 256)
	if err != nil {
		return "", fmt.Errorf("failed to scale QR code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return "", fmt.Errorf("failed to render QR PNG: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *PaymentService) trackCreated(payin *provider.Payin, customerID string) {
	s.tracker.Merge(payin.ID, func(f *models.StatusFlags) {
		f.PayinCreated = true
		f.CustomerID = customerID
	})
}

// CreateOffRampPayout sends the received settlement amount to the customer's
// external account (or the configured check-delivery fallback) under a fresh
// off-ramp quote, and records the payout leg in the status tracker.
func (s *PaymentService) CreateOffRampPayout(ctx context.Context, payinTransactionID, customerID string, amountUSDC float64) (*provider.Payout, error) {
	if amountUSDC <= 0 {
		return nil, fmt.Errorf("payout amount must be greater than 0")
	}

	externalAccountID := s.fallbackExternalAccountID
	accounts, err := s.client.GetCustomerExternalAccounts(ctx, customerID)
	if err != nil {
		logger.L.Warn("Failed to look up customer external accounts, using fallback",
			"customerID", customerID, "error", err)
	} else if len(accounts) > 0 {
		externalAccountID = accounts[0].ID
	}
	if externalAccountID == "" {
		return nil, fmt.Errorf("no external account available for customer %s", customerID)
	}

	quote, err := s.client.CreateQuote(ctx, "USDC/USD", provider.QuoteTypeOffRamp)
	if err != nil {
		return nil, fmt.Errorf("failed to create off-ramp quote: %w", err)
	}

	payout, err := s.client.CreatePayout(ctx, &provider.CreatePayoutRequest{
		Amount:            amountUSDC,
		QuoteID:           quote.ID,
		CustomerID:        customerID,
		ExternalAccountID: externalAccountID,
	})
	if err != nil {
		return nil, err
	}

	s.tracker.Merge(payinTransactionID, func(f *models.StatusFlags) {
		f.OfframpTx = &models.OfframpTransaction{
			ID:        payout.ID,
			Status:    "processing",
			Amount:    amountUSDC,
			Currency:  "USD",
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
	})

	logger.L.Info("Off-ramp payout created",
		"payinTransactionID", payinTransactionID, "payoutID", payout.ID,
		"amountUSDC", amountUSDC, "externalAccountID", externalAccountID)
	return payout, nil
}
