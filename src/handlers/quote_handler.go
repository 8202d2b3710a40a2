package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/services"
	"github.com/crebit/backend/src/utils"
)

type QuoteHandler struct {
	quoteService *services.QuoteService
}

func NewQuoteHandler(quoteService *services.QuoteService) *QuoteHandler {
	return &QuoteHandler{quoteService: quoteService}
}

type createQuoteRequest struct {
	Symbol      string  `json:"symbol"`
	AmountUSD   float64 `json:"amount_usd"`
	AmountLocal float64 `json:"amount_local"`
}

// HandleCreateQuote locks both conversion legs for a transfer. Either
// amount_usd or amount_local must be provided; a local amount is first
// converted through a throwaway quote at the current rate.
func (h *QuoteHandler) HandleCreateQuote(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var req createQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		utils.SendJSONError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	amountUSD := req.AmountUSD
	if amountUSD <= 0 && req.AmountLocal > 0 {
		converted, err := h.quoteService.ConvertLocalToUSD(r.Context(), req.Symbol, req.AmountLocal)
		if err != nil {
			ctxLogger.Error("Failed to convert local amount", "symbol", req.Symbol, "error", err)
			utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
			return
		}
		amountUSD = converted
	}
	if amountUSD <= 0 {
		utils.SendJSONError(w, "amount_usd must be greater than 0", http.StatusBadRequest)
		return
	}

	quote, err := h.quoteService.CreateCombinedQuote(r.Context(), req.Symbol, amountUSD)
	if err != nil {
		ctxLogger.Error("Failed to create combined quote", "symbol", req.Symbol, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	utils.SendJSON(w, quote, http.StatusCreated)
}

type createLegQuoteRequest struct {
	Symbol    string `json:"symbol"`
	QuoteType string `json:"quote_type"`
}

// HandleCreateLegQuote passes a single-leg quote request through to the
// provider.
func (h *QuoteHandler) HandleCreateLegQuote(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var req createLegQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		utils.SendJSONError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	quote, err := h.quoteService.CreateLegQuote(r.Context(), req.Symbol, req.QuoteType)
	if err != nil {
		ctxLogger.Error("Failed to create leg quote",
			"symbol", req.Symbol, "quoteType", req.QuoteType, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	utils.SendJSON(w, quote, http.StatusCreated)
}
