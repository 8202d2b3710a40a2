package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/provider"
	"github.com/crebit/backend/src/security/validation"
	"github.com/crebit/backend/src/services"
	"github.com/crebit/backend/src/utils"
	"github.com/go-chi/chi/v5"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
	client         *provider.Client
}

func NewPaymentHandler(paymentService *services.PaymentService, client *provider.Client) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService, client: client}
}

type createSpeiPaymentRequest struct {
	AmountMXN   float64 `json:"amount_mxn"`
	QuoteID     string  `json:"quote_id"`
	CustomerID  string  `json:"customer_id"`
	WalletID    string  `json:"wallet_id"`
	SenderCLABE string  `json:"sender_clabe"`
	SenderName  string  `json:"sender_name"`
}

// HandleCreateSpeiPayment initiates the Mexican on-ramp leg and returns the
// SPEI deposit instructions verbatim.
func (h *PaymentHandler) HandleCreateSpeiPayment(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var req createSpeiPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	result, err := h.paymentService.CreateSpeiPayment(r.Context(), &services.SpeiPaymentInput{
		AmountMXN:   req.AmountMXN,
		QuoteID:     req.QuoteID,
		CustomerID:  req.CustomerID,
		WalletID:    req.WalletID,
		SenderCLABE: req.SenderCLABE,
		SenderName:  req.SenderName,
	})
	if err != nil {
		if errors.Is(err, validation.ErrValidationFailed) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctxLogger.Error("Failed to create SPEI payment", "customerID", req.CustomerID, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	utils.SendJSON(w, result, http.StatusCreated)
}

type createPixPaymentRequest struct {
	AmountBRL      float64 `json:"amount_brl"`
	QuoteID        string  `json:"quote_id"`
	CustomerID     string  `json:"customer_id"`
	WalletID       string  `json:"wallet_id"`
	SenderName     string  `json:"sender_name"`
	SenderDocument string  `json:"sender_document"`
}

// HandleCreatePixPayment initiates the Brazilian on-ramp leg; the response
// includes a rendered QR code for the PIX deposit address.
func (h *PaymentHandler) HandleCreatePixPayment(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var req createPixPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	result, err := h.paymentService.CreatePixPayment(r.Context(), &services.PixPaymentInput{
		AmountBRL:      req.AmountBRL,
		QuoteID:        req.QuoteID,
		CustomerID:     req.CustomerID,
		WalletID:       req.WalletID,
		SenderName:     req.SenderName,
		SenderDocument: req.SenderDocument,
	})
	if err != nil {
		if errors.Is(err, validation.ErrValidationFailed) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctxLogger.Error("Failed to create PIX payment", "customerID", req.CustomerID, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	utils.SendJSON(w, result, http.StatusCreated)
}

// HandleGetTransactionStatus passes a transaction lookup through to the
// provider.
func (h *PaymentHandler) HandleGetTransactionStatus(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	transactionID := chi.URLParam(r, "transactionId")
	if transactionID == "" {
		utils.SendJSONError(w, "transaction id is required", http.StatusBadRequest)
		return
	}

	tx, err := h.client.GetTransaction(r.Context(), transactionID)
	if err != nil {
		ctxLogger.Error("Failed to fetch transaction status", "transactionID", transactionID, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	utils.SendJSON(w, tx, http.StatusOK)
}
