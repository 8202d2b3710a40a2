package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/security/validation"
	"github.com/crebit/backend/src/services"
	"github.com/crebit/backend/src/utils"
)

type CustomerHandler struct {
	customerService *services.CustomerService
}

func NewCustomerHandler(customerService *services.CustomerService) *CustomerHandler {
	return &CustomerHandler{customerService: customerService}
}

type createCustomerRequest struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	DateOfBirth   string `json:"date_of_birth"`
	DocumentType  string `json:"document_type"`
	TaxID         string `json:"tax_id"`
	Country       string `json:"country"`
	StreetAddress string `json:"street_address"`
	City          string `json:"city"`
	State         string `json:"state"`
	ZipCode       string `json:"zip_code"`
}

func (req *createCustomerRequest) toInput() *services.CustomerInput {
	return &services.CustomerInput{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Phone:         req.Phone,
		DateOfBirth:   req.DateOfBirth,
		DocumentType:  req.DocumentType,
		TaxID:         req.TaxID,
		Country:       req.Country,
		StreetAddress: req.StreetAddress,
		City:          req.City,
		State:         req.State,
		ZipCode:       req.ZipCode,
	}
}

// HandleCreateCustomer creates the customer and their settlement wallet at
// the provider. An already-registered identity is a 200 with
// existing_customer=true, not an error.
func (h *CustomerHandler) HandleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var req createCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	result, err := h.customerService.CreateCustomerWithWallet(r.Context(), req.toInput())
	if err != nil {
		if errors.Is(err, validation.ErrValidationFailed) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctxLogger.Error("Failed to create customer", "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	if result.ExistingCustomer {
		utils.SendJSON(w, result, http.StatusOK)
		return
	}
	utils.SendJSON(w, result, http.StatusCreated)
}

type createExternalAccountRequest struct {
	CustomerID        string `json:"customer_id"`
	AccountHolderName string `json:"account_holder_name"`
	BankName          string `json:"bank_name"`
	AccountNumber     string `json:"account_number"`
	RoutingNumber     string `json:"routing_number"`
	BankStreetAddress string `json:"bank_street_address"`
	BankCity          string `json:"bank_city"`
	BankState         string `json:"bank_state"`
	BankZipCode       string `json:"bank_zip_code"`
}

// HandleCreateExternalAccount registers the customer's USD wire account.
func (h *CustomerHandler) HandleCreateExternalAccount(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var req createExternalAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	accountID, err := h.customerService.CreateExternalAccount(r.Context(), req.CustomerID, &services.ExternalAccountInput{
		AccountHolderName: req.AccountHolderName,
		BankName:          req.BankName,
		AccountNumber:     req.AccountNumber,
		RoutingNumber:     req.RoutingNumber,
		BankStreetAddress: req.BankStreetAddress,
		BankCity:          req.BankCity,
		BankState:         req.BankState,
		BankZipCode:       req.BankZipCode,
	})
	if err != nil {
		if errors.Is(err, validation.ErrValidationFailed) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctxLogger.Error("Failed to create external account", "customerID", req.CustomerID, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}

	utils.SendJSON(w, map[string]string{"external_account_id": accountID}, http.StatusCreated)
}
