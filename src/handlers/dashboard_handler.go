package handlers

import (
	"net/http"

	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/models"
	"github.com/crebit/backend/src/services"
	"github.com/crebit/backend/src/utils"
	"github.com/go-chi/chi/v5"
)

type DashboardHandler struct {
	transactionService *services.TransactionService
}

func NewDashboardHandler(transactionService *services.TransactionService) *DashboardHandler {
	return &DashboardHandler{transactionService: transactionService}
}

type userTransactionsResponse struct {
	Transactions []models.GroupedTransaction `json:"transactions"`
	Summary      models.TransactionSummary   `json:"summary"`
}

// HandleGetUserTransactions serves the dashboard: the user's webhook events
// grouped into logical transfers plus summary totals. A user with no provider
// customer yet gets an empty list, not an error.
func (h *DashboardHandler) HandleGetUserTransactions(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	pathUserID := chi.URLParam(r, "userId")
	if pathUserID == "" {
		utils.SendJSONError(w, "user id is required", http.StatusBadRequest)
		return
	}
	if authUserID, ok := GetUserIDFromContext(r.Context()); ok && authUserID != pathUserID {
		ctxLogger.Warn("Dashboard request for another user's transactions",
			"pathUserID", pathUserID, "authUserID", authUserID)
		utils.SendJSONError(w, "Forbidden", http.StatusForbidden)
		return
	}

	customerID, ok := GetCustomerIDFromContext(r.Context())
	if !ok || customerID == "" {
		utils.SendJSON(w, userTransactionsResponse{
			Transactions: []models.GroupedTransaction{},
		}, http.StatusOK)
		return
	}

	transactions, summary, err := h.transactionService.UserTransactions(customerID)
	if err != nil {
		ctxLogger.Error("Failed to load user transactions", "customerID", customerID, "error", err)
		utils.SendJSONError(w, "Failed to load transactions", http.StatusInternalServerError)
		return
	}
	if transactions == nil {
		transactions = []models.GroupedTransaction{}
	}

	utils.SendJSON(w, userTransactionsResponse{
		Transactions: transactions,
		Summary:      summary,
	}, http.StatusOK)
}
