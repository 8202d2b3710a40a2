package handlers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/models"
	"github.com/crebit/backend/src/provider"
	"github.com/crebit/backend/src/services"
	"github.com/crebit/backend/src/utils"
	"github.com/go-chi/chi/v5"
)

// WebhookHandler consumes provider events: every event is persisted for the
// dashboard, folded into the status tracker for polling sessions, and
// payin.completed triggers the off-ramp payout.
type WebhookHandler struct {
	db             *sql.DB
	tracker        *services.StatusTracker
	paymentService *services.PaymentService
}

func NewWebhookHandler(db *sql.DB, tracker *services.StatusTracker, paymentService *services.PaymentService) *WebhookHandler {
	return &WebhookHandler{db: db, tracker: tracker, paymentService: paymentService}
}

type webhookParty struct {
	Amount   provider.FlexFloat `json:"amount"`
	Currency string             `json:"currency"`
	Address  string             `json:"address"`
}

type webhookResource struct {
	ID         string       `json:"id"`
	CustomerID string       `json:"customer_id"`
	Status     string       `json:"status"`
	Sender     webhookParty `json:"sender"`
	Receiver   webhookParty `json:"receiver"`
}

type webhookPayload struct {
	Event               string          `json:"event"`
	EventType           string          `json:"event_type"`
	EventResourceStatus string          `json:"event_resource_status"`
	EventResource       webhookResource `json:"event_resource"`
}

// HandlePayoutEvents is the provider-facing receiver. It acknowledges with
// 200 once the payload parses; processing failures are logged, not bounced,
// so the provider does not retry events we already recorded.
func (h *WebhookHandler) HandlePayoutEvents(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		ctxLogger.Warn("Webhook payload is not valid JSON", "error", err)
		utils.SendJSONError(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	ctxLogger.Info("Webhook event received",
		"eventType", payload.EventType,
		"transactionID", payload.EventResource.ID,
		"status", payload.EventResourceStatus)

	h.processPayload(r, &payload)

	utils.SendJSON(w, map[string]string{"status": "success", "event_type": payload.EventType}, http.StatusOK)
}

// processPayload persists one parsed event and folds it into the tracker.
// The mock trigger feeds through here as well, so demo events take the exact
// production path.
func (h *WebhookHandler) processPayload(r *http.Request, payload *webhookPayload) {
	ctxLogger := logger.FromContext(r.Context())
	h.saveEvent(payload)

	switch payload.EventType {
	case "payin.created":
		h.tracker.Merge(payload.EventResource.ID, func(f *models.StatusFlags) {
			f.PayinCreated = true
			if payload.EventResource.CustomerID != "" {
				f.CustomerID = payload.EventResource.CustomerID
			}
		})

	case "payin.processing":
		h.tracker.Merge(payload.EventResource.ID, func(f *models.StatusFlags) {
			f.PayinProcessing = true
		})

	case "payin.completed":
		h.handlePayinCompleted(r, payload)

	case "payout.completed":
		h.resolvePayoutLeg(ctxLogger, payload.EventResource.ID, "completed")

	case "payout.failed":
		h.resolvePayoutLeg(ctxLogger, payload.EventResource.ID, "failed")

	default:
		ctxLogger.Warn("Unknown webhook event type", "eventType", payload.EventType)
	}
}

func (h *WebhookHandler) handlePayinCompleted(r *http.Request, payload *webhookPayload) {
	ctxLogger := logger.FromContext(r.Context())

	transactionID := payload.EventResource.ID
	customerID := payload.EventResource.CustomerID
	amountLocal := float64(payload.EventResource.Sender.Amount)
	amountUSDC := float64(payload.EventResource.Receiver.Amount)

	h.tracker.Merge(transactionID, func(f *models.StatusFlags) {
		f.PayinCompleted = true
		f.PayinProcessing = false
		f.PayinAmountLocal = amountLocal
		f.PayinAmountUSDC = amountUSDC
		f.CustomerID = customerID
	})

	if amountUSDC <= 0 {
		ctxLogger.Warn("payin.completed carried no receiver amount, skipping payout",
			"transactionID", transactionID)
		return
	}

	if _, err := h.paymentService.CreateOffRampPayout(r.Context(), transactionID, customerID, amountUSDC); err != nil {
		ctxLogger.Error("Failed to create off-ramp payout for completed payin",
			"transactionID", transactionID, "customerID", customerID, "error", err)
		h.tracker.Merge(transactionID, func(f *models.StatusFlags) {
			f.OfframpFailed = true
		})
	}
}

// resolvePayoutLeg marks the pay-in whose payout leg matches the given payout
// id. Payout webhooks reference the payout id, not the pay-in id.
func (h *WebhookHandler) resolvePayoutLeg(ctxLogger *slog.Logger, payoutID, outcome string) {
	payinID, ok := h.tracker.FindByOfframpID(payoutID)
	if !ok {
		ctxLogger.Warn("Payout webhook for unknown payout id", "payoutID", payoutID, "outcome", outcome)
		return
	}
	h.tracker.Merge(payinID, func(f *models.StatusFlags) {
		switch outcome {
		case "completed":
			f.OfframpCompleted = true
		case "failed":
			f.OfframpFailed = true
		}
		if f.OfframpTx != nil {
			f.OfframpTx.Status = outcome
		}
	})
}

func (h *WebhookHandler) saveEvent(payload *webhookPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}

	ev := &models.WebhookEvent{
		TransactionID: payload.EventResource.ID,
		CustomerID:    payload.EventResource.CustomerID,
		EventType:     payload.EventType,
		Status:        payload.EventResourceStatus,
		AmountUSD:     float64(payload.EventResource.Receiver.Amount),
		Payload:       string(raw),
	}
	if ev.Status == "" {
		ev.Status = "unknown"
	}
	if amt := float64(payload.EventResource.Sender.Amount); amt > 0 {
		ev.AmountLocal = sql.NullFloat64{Float64: amt, Valid: true}
	}
	if cur := payload.EventResource.Sender.Currency; cur != "" {
		ev.LocalCurrency = sql.NullString{String: cur, Valid: true}
	}

	if err := models.InsertWebhookEvent(h.db, ev); err != nil {
		logger.L.Error("Failed to persist webhook event",
			"transactionID", ev.TransactionID, "eventType", ev.EventType, "error", err)
	}
}

// HandleWebhookStatus serves the per-transaction flag bag polled by sessions
// and the client.
func (h *WebhookHandler) HandleWebhookStatus(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")
	if transactionID == "" {
		utils.SendJSONError(w, "transaction id is required", http.StatusBadRequest)
		return
	}
	flags, ok := h.tracker.Status(transactionID)
	if !ok {
		// An untracked transaction returns an empty bag, not a 404; the
		// poller treats it as "nothing yet".
		utils.SendJSON(w, models.StatusFlags{}, http.StatusOK)
		return
	}
	utils.SendJSON(w, flags, http.StatusOK)
}

type triggerMockWebhookRequest struct {
	EventType     string  `json:"event_type"`
	TransactionID string  `json:"transaction_id"`
	CustomerID    string  `json:"customer_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// HandleTriggerMockWebhook synthesizes a provider event and feeds it through
// the real receiver path. Demo and test tooling only.
func (h *WebhookHandler) HandleTriggerMockWebhook(w http.ResponseWriter, r *http.Request) {
	var req triggerMockWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.TransactionID == "" {
		utils.SendJSONError(w, "transaction_id is required", http.StatusBadRequest)
		return
	}
	if req.EventType == "" {
		req.EventType = "payin.completed"
	}

	status := "processing"
	switch req.EventType {
	case "payin.completed", "payout.completed":
		status = "completed"
	case "payout.failed":
		status = "failed"
	}
	amount := req.Amount
	if amount <= 0 {
		amount = 1000
	}
	currency := req.Currency
	if currency == "" {
		currency = "MXN"
	}

	mock := webhookPayload{
		Event:               "provider.webhook",
		EventType:           req.EventType,
		EventResourceStatus: status,
		EventResource: webhookResource{
			ID:         req.TransactionID,
			CustomerID: req.CustomerID,
			Status:     status,
			Sender:     webhookParty{Amount: provider.FlexFloat(amount), Currency: currency},
			Receiver:   webhookParty{Amount: provider.FlexFloat(amount), Currency: "USDC"},
		},
	}

	logger.FromContext(r.Context()).Info("Triggering mock webhook",
		"eventType", req.EventType, "transactionID", req.TransactionID)
	h.processPayload(r, &mock)

	utils.SendJSON(w, map[string]any{
		"success": true,
		"event":   mock,
		"message": "Mock webhook " + req.EventType + " processed",
	}, http.StatusOK)
}
