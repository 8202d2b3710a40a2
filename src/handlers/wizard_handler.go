package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/models"
	"github.com/crebit/backend/src/provider"
	"github.com/crebit/backend/src/services"
	"github.com/crebit/backend/src/session"
	"github.com/crebit/backend/src/utils"
	"github.com/crebit/backend/src/wizard"
	"github.com/go-chi/chi/v5"
)

// customerAwaitTimeout bounds how long a step waits for the background
// customer-creation call before giving up.
const customerAwaitTimeout = 20 * time.Second

// WizardHandler exposes the onboarding flow as a server-side session: the
// wizard cursor, the quote lock, and the payment execution all live here, and
// the client only reads state and submits step inputs.
type WizardHandler struct {
	store           *session.Store
	quoteService    *services.QuoteService
	customerService *services.CustomerService
	paymentService  *services.PaymentService
	statusSource    session.StatusSource

	runtimeCfg  session.RuntimeConfig
	lockSeconds int

	// baseCtx outlives individual requests; background customer creation and
	// session runtimes run under it.
	baseCtx context.Context
}

func NewWizardHandler(
	baseCtx context.Context,
	store *session.Store,
	quoteService *services.QuoteService,
	customerService *services.CustomerService,
	paymentService *services.PaymentService,
	statusSource session.StatusSource,
	runtimeCfg session.RuntimeConfig,
	lockSeconds int,
) *WizardHandler {
	return &WizardHandler{
		store:           store,
		quoteService:    quoteService,
		customerService: customerService,
		paymentService:  paymentService,
		statusSource:    statusSource,
		runtimeCfg:      runtimeCfg,
		lockSeconds:     lockSeconds,
		baseCtx:         baseCtx,
	}
}

// sessionState is the full wizard snapshot returned by every session
// endpoint. Notices are drained on read.
type sessionState struct {
	SessionID string          `json:"session_id"`
	Step      int             `json:"step"`
	StepName  string          `json:"step_name"`
	Form      wizard.FormData `json:"form"`

	Quote              *models.CombinedQuote `json:"quote,omitempty"`
	CountdownRemaining int                   `json:"countdown_remaining"`
	CountdownFrozen    bool                  `json:"countdown_frozen"`

	AuthorizationAgreed bool                        `json:"authorization_agreed"`
	Authorization       *wizard.AuthorizationRecord `json:"authorization,omitempty"`

	PaymentStatus      string                     `json:"payment_status"`
	PayinProcessing    bool                       `json:"payin_processing"`
	PaymentReceived    bool                       `json:"payment_received"`
	OffRampProcessing  bool                       `json:"offramp_processing"`
	OffRampTransaction *models.OfframpTransaction `json:"offramp_transaction,omitempty"`

	ExpiryModal bool            `json:"expiry_modal"`
	Notices     []wizard.Notice `json:"notices,omitempty"`

	CustomerReady bool   `json:"customer_ready"`
	CustomerID    string `json:"customer_id,omitempty"`
	WalletID      string `json:"wallet_id,omitempty"`

	TransactionID string          `json:"transaction_id,omitempty"`
	Payment       *provider.Payin `json:"payment,omitempty"`
}

// snapshot builds the state response. Caller must hold the session lock.
func snapshot(s *session.Session) sessionState {
	w := s.Wizard
	state := sessionState{
		SessionID:           s.ID,
		Step:                int(w.Step),
		StepName:            w.Step.String(),
		Form:                w.Form,
		Quote:               w.Quote,
		CountdownRemaining:  w.Countdown.Remaining(),
		CountdownFrozen:     w.Countdown.Frozen(),
		AuthorizationAgreed: w.AuthorizationAgreed,
		Authorization:       w.Authorization,
		PaymentStatus:       string(w.Status.Current()),
		PayinProcessing:     w.PayinProcessing,
		PaymentReceived:     w.PaymentReceived,
		OffRampProcessing:   w.OffRampProcessing,
		ExpiryModal:         w.ExpiryModal,
		Notices:             w.DrainNotices(),
		TransactionID:       s.TransactionID,
		Payment:             s.Payment,
	}
	if w.OffRampTx != nil {
		// Copy the payout leg; the response is encoded after the session
		// lock is released and the runtime keeps mutating the original.
		tx := *w.OffRampTx
		state.OffRampTransaction = &tx
	}
	if s.Customer != nil && s.Customer.Ready() {
		if result, err := s.Customer.Await(context.Background()); err == nil {
			state.CustomerReady = true
			state.CustomerID = result.CustomerID
			state.WalletID = result.WalletID
		}
	}
	return state
}

func (h *WizardHandler) getSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sessionID := chi.URLParam(r, "sessionId")
	sess, ok := h.store.Get(sessionID)
	if !ok {
		utils.SendJSONError(w, "Session not found or expired", http.StatusNotFound)
		return nil, false
	}
	if userID, authed := GetUserIDFromContext(r.Context()); authed && sess.UserID != userID {
		utils.SendJSONError(w, "Forbidden", http.StatusForbidden)
		return nil, false
	}
	h.store.Touch(sess)
	return sess, true
}

// HandleCreateSession starts a new onboarding flow for the authenticated
// user.
func (h *WizardHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	sess := session.New(userID, h.lockSeconds)
	h.store.Put(sess)

	logger.FromContext(r.Context()).Info("Onboarding session created", "sessionID", sess.ID)

	sess.Lock()
	state := snapshot(sess)
	sess.Unlock()
	utils.SendJSON(w, state, http.StatusCreated)
}

// HandleGetState returns the session snapshot. Pending notices are delivered
// once.
func (h *WizardHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	sess.Lock()
	state := snapshot(sess)
	sess.Unlock()
	utils.SendJSON(w, state, http.StatusOK)
}

// HandlePersonalInfo records step 1 and advances. The provider customer is
// created in the background; later steps await the handle instead of assuming
// it resolved.
func (h *WizardHandler) HandlePersonalInfo(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var form wizard.FormData
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	sess.Lock()
	f := &sess.Wizard.Form
	f.FirstName = form.FirstName
	f.LastName = form.LastName
	f.DocumentType = form.DocumentType
	f.TaxID = form.TaxID
	f.Email = form.Email
	f.DateOfBirth = form.DateOfBirth
	f.Phone = form.Phone
	f.Country = form.Country
	f.StreetAddress = form.StreetAddress
	f.City = form.City
	f.State = form.State
	f.ZipCode = form.ZipCode

	if _, err := sess.Wizard.Advance(); err != nil {
		sess.Unlock()
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	input := &services.CustomerInput{
		FirstName:     f.FirstName,
		LastName:      f.LastName,
		Email:         f.Email,
		Phone:         f.Phone,
		DateOfBirth:   f.DateOfBirth,
		DocumentType:  f.DocumentType,
		TaxID:         f.TaxID,
		Country:       f.Country,
		StreetAddress: f.StreetAddress,
		City:          f.City,
		State:         f.State,
		ZipCode:       f.ZipCode,
	}
	if sess.Customer == nil {
		sess.Customer = session.NewCustomerHandle()
		go h.createCustomerInBackground(sess.ID, sess.Customer, input)
	}
	state := snapshot(sess)
	sess.Unlock()

	utils.SendJSON(w, state, http.StatusOK)
}

func (h *WizardHandler) createCustomerInBackground(sessionID string, handle *session.CustomerHandle, input *services.CustomerInput) {
	ctx, cancel := context.WithTimeout(h.baseCtx, customerAwaitTimeout)
	defer cancel()

	result, err := h.customerService.CreateCustomerWithWallet(ctx, input)
	if err != nil {
		logger.L.Error("Background customer creation failed", "sessionID", sessionID, "error", err)
		handle.Fail(err)
		return
	}

	res := session.CustomerResult{
		CustomerID:       result.CustomerID,
		WalletID:         result.WalletID,
		WalletAddress:    result.WalletAddress,
		ExistingCustomer: result.ExistingCustomer,
	}
	if result.ExistingExternalAccount != nil {
		res.ExternalAccounts = []provider.ExternalAccount{*result.ExistingExternalAccount}
	}
	logger.L.Info("Background customer creation resolved",
		"sessionID", sessionID, "customerID", res.CustomerID, "existing", res.ExistingCustomer)
	handle.Resolve(res)
}

// HandleDeliveryMethod records step 2 and advances. The bank-transfer path
// awaits the customer and registers the wire account before moving on; the
// check path branches through school info.
func (h *WizardHandler) HandleDeliveryMethod(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var form wizard.FormData
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	sess.Lock()
	f := &sess.Wizard.Form
	f.DeliveryMethod = form.DeliveryMethod
	f.RoutingNumber = form.RoutingNumber
	f.AccountNumber = form.AccountNumber
	f.AccountHolderName = form.AccountHolderName
	f.BankName = form.BankName
	f.BankStreetAddress = form.BankStreetAddress
	f.BankCity = form.BankCity
	f.BankState = form.BankState
	f.BankZipCode = form.BankZipCode
	if missing := wizard.MissingFields(wizard.StepDeliveryMethod, f); len(missing) > 0 {
		sess.Unlock()
		utils.SendJSONError(w, "required fields missing: "+strings.Join(missing, ", "), http.StatusBadRequest)
		return
	}
	deliveryMethod := f.DeliveryMethod
	accountInput := &services.ExternalAccountInput{
		AccountHolderName: f.AccountHolderName,
		BankName:          f.BankName,
		AccountNumber:     f.AccountNumber,
		RoutingNumber:     f.RoutingNumber,
		BankStreetAddress: f.BankStreetAddress,
		BankCity:          f.BankCity,
		BankState:         f.BankState,
		BankZipCode:       f.BankZipCode,
	}
	customer := sess.Customer
	alreadyRegistered := sess.ExternalAccountID != ""
	sess.Unlock()

	if deliveryMethod == wizard.DeliveryBankTransfer && !alreadyRegistered {
		if customer == nil {
			utils.SendJSONError(w, "Personal information must be submitted first", http.StatusConflict)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), customerAwaitTimeout)
		result, err := customer.Await(ctx)
		cancel()
		if err != nil {
			logger.FromContext(r.Context()).Error("Customer not ready for external account",
				"sessionID", sess.ID, "error", err)
			utils.SendJSONError(w, "Customer registration has not completed yet, try again", http.StatusConflict)
			return
		}

		// Reuse an account already on file for a returning customer.
		accountID := ""
		if len(result.ExternalAccounts) > 0 {
			accountID = result.ExternalAccounts[0].ID
		} else {
			accountID, err = h.customerService.CreateExternalAccount(r.Context(), result.CustomerID, accountInput)
			if err != nil {
				utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
				return
			}
		}
		sess.Lock()
		sess.ExternalAccountID = accountID
		sess.Unlock()
	}

	sess.Lock()
	_, err := sess.Wizard.Advance()
	state := snapshot(sess)
	sess.Unlock()
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	utils.SendJSON(w, state, http.StatusOK)
}

// HandleSchoolInfo records step 3 (check-delivery branch) and advances.
func (h *WizardHandler) HandleSchoolInfo(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var form wizard.FormData
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	sess.Lock()
	f := &sess.Wizard.Form
	f.SchoolName = form.SchoolName
	f.PayeeName = form.PayeeName
	f.DeliveryInstructions = form.DeliveryInstructions
	f.StudentFullName = form.StudentFullName
	f.StudentID = form.StudentID
	f.TermReference = form.TermReference
	f.StudentEmail = form.StudentEmail
	_, err := sess.Wizard.Advance()
	state := snapshot(sess)
	sess.Unlock()

	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	utils.SendJSON(w, state, http.StatusOK)
}

type sessionQuoteRequest struct {
	Symbol        string `json:"symbol"`
	AmountUSD     string `json:"amount_usd"`
	PaymentMethod string `json:"payment_method"`
}

// HandleQuote locks pricing for step 4 and moves the wizard to the
// authorization step with a fresh 300s countdown.
func (h *WizardHandler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var req sessionQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	sess.Lock()
	f := &sess.Wizard.Form
	if req.AmountUSD != "" {
		f.AmountUSD = req.AmountUSD
	}
	if req.PaymentMethod != "" {
		f.PaymentMethod = req.PaymentMethod
	}
	if sess.Wizard.Step != wizard.StepAmount {
		step := sess.Wizard.Step
		sess.Unlock()
		utils.SendJSONError(w, "quote can only be requested on the "+wizard.StepAmount.String()+
			" step, current step is "+step.String(), http.StatusConflict)
		return
	}
	if missing := wizard.MissingFields(wizard.StepAmount, f); len(missing) > 0 {
		sess.Unlock()
		utils.SendJSONError(w, "required fields missing: "+strings.Join(missing, ", "), http.StatusBadRequest)
		return
	}
	amountUSD, err := strconv.ParseFloat(f.AmountUSD, 64)
	symbol := req.Symbol
	if symbol == "" {
		symbol = symbolForMethod(f.PaymentMethod)
	}
	sess.Unlock()

	if err != nil || amountUSD <= 0 {
		utils.SendJSONError(w, "a valid amount_usd is required", http.StatusBadRequest)
		return
	}

	quote, err := h.quoteService.CreateCombinedQuote(r.Context(), symbol, amountUSD)
	if err != nil {
		logger.FromContext(r.Context()).Error("Quote request failed",
			"sessionID", sess.ID, "symbol", symbol, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}

	sess.Lock()
	err = sess.Wizard.ApplyQuote(quote)
	state := snapshot(sess)
	sess.Unlock()
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusConflict)
		return
	}

	// The lock countdown starts the moment the quote is applied, not when the
	// user authorizes.
	sess.StartRuntime(h.baseCtx, h.statusSource, h.runtimeCfg)

	utils.SendJSON(w, state, http.StatusOK)
}

type authorizeRequest struct {
	Agreed bool `json:"agreed"`
}

// HandleAuthorize confirms the payment on step 5: it records the
// authorization artifact, creates the pay-in at the provider, and makes sure
// the session runtime is running so status polling picks up the transaction.
func (h *WizardHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	sess.Lock()
	_, err := sess.Wizard.Authorize(req.Agreed, time.Now())
	if err != nil {
		sess.Unlock()
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	quote := sess.Wizard.Quote
	form := sess.Wizard.Form
	customer := sess.Customer
	sess.Unlock()

	if customer == nil {
		utils.SendJSONError(w, "Personal information must be submitted first", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), customerAwaitTimeout)
	result, err := customer.Await(ctx)
	cancel()
	if err != nil {
		logger.FromContext(r.Context()).Error("Customer not ready for payment",
			"sessionID", sess.ID, "error", err)
		utils.SendJSONError(w, "Customer registration has not completed yet, try again", http.StatusConflict)
		return
	}
	if result.WalletID == "" {
		utils.SendJSONError(w, "No settlement wallet available for this customer", http.StatusConflict)
		return
	}

	payment, err := h.createPayin(r.Context(), &form, quote, result)
	if err != nil {
		logger.FromContext(r.Context()).Error("Payment creation failed", "sessionID", sess.ID, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}

	sess.Lock()
	sess.TransactionID = payment.ID
	sess.Payment = payment
	state := snapshot(sess)
	sess.Unlock()

	sess.StartRuntime(h.baseCtx, h.statusSource, h.runtimeCfg)

	utils.SendJSON(w, state, http.StatusOK)
}

func (h *WizardHandler) createPayin(ctx context.Context, form *wizard.FormData, quote *models.CombinedQuote, customer session.CustomerResult) (*provider.Payin, error) {
	senderName := form.FirstName + " " + form.LastName
	if form.PaymentMethod == "pix" {
		result, err := h.paymentService.CreatePixPayment(ctx, &services.PixPaymentInput{
			AmountBRL:      quote.TotalLocalAmount,
			QuoteID:        quote.OnRamp.ID,
			CustomerID:     customer.CustomerID,
			WalletID:       customer.WalletID,
			SenderName:     senderName,
			SenderDocument: form.TaxID,
		})
		if err != nil {
			return nil, err
		}
		return result.Transaction, nil
	}

	result, err := h.paymentService.CreateSpeiPayment(ctx, &services.SpeiPaymentInput{
		AmountMXN:   quote.TotalLocalAmount,
		QuoteID:     quote.OnRamp.ID,
		CustomerID:  customer.CustomerID,
		WalletID:    customer.WalletID,
		SenderCLABE: form.TaxID,
		SenderName:  senderName,
	})
	if err != nil {
		return nil, err
	}
	return result.Transaction, nil
}

type backRequest struct {
	Target int `json:"target"`
}

// HandleBack navigates to an earlier step without clearing entered data.
func (h *WizardHandler) HandleBack(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var req backRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	sess.Lock()
	err := sess.Wizard.Back(wizard.Step(req.Target))
	state := snapshot(sess)
	sess.Unlock()
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	utils.SendJSON(w, state, http.StatusOK)
}

// HandleExpiryAck dismisses the quote-expiry modal: the quote and
// authorization are discarded and the user returns to the amount step.
func (h *WizardHandler) HandleExpiryAck(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	sess.Lock()
	sess.Wizard.AcknowledgeExpiry()
	state := snapshot(sess)
	sess.Unlock()
	utils.SendJSON(w, state, http.StatusOK)
}

// HandleAdvanceToReferral moves from the completion screen to the referral
// screen.
func (h *WizardHandler) HandleAdvanceToReferral(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	sess.Lock()
	err := sess.Wizard.AdvanceToReferral()
	state := snapshot(sess)
	sess.Unlock()
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	utils.SendJSON(w, state, http.StatusOK)
}

type referralsRequest struct {
	Emails []string `json:"emails"`
}

// HandleSubmitReferrals records referral emails and returns to the completion
// screen.
func (h *WizardHandler) HandleSubmitReferrals(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var req referralsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	sess.Lock()
	count, err := sess.Wizard.SubmitReferrals(req.Emails)
	state := snapshot(sess)
	sess.Unlock()
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	logger.FromContext(r.Context()).Info("Referrals submitted", "sessionID", sess.ID, "count", count)
	utils.SendJSON(w, state, http.StatusOK)
}

func symbolForMethod(paymentMethod string) string {
	if paymentMethod == "pix" {
		return "USDC/BRL"
	}
	return "USDC/MXN"
}
