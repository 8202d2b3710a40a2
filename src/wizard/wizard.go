package wizard

import (
	"fmt"
	"strings"
	"time"

	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/models"
)

// Step is the wizard cursor. Progression is monotonic through explicit user
// action or poller-driven transitions; the poller may force a jump regardless
// of the current step.
type Step int

const (
	StepPersonalInfo Step = iota + 1
	StepDeliveryMethod
	StepSchoolInfo
	StepAmount
	StepAuthorization
	StepExecution
	StepProcessing
	StepComplete
	StepReferral
)

func (s Step) String() string {
	switch s {
	case StepPersonalInfo:
		return "personal_info"
	case StepDeliveryMethod:
		return "delivery_method"
	case StepSchoolInfo:
		return "school_info"
	case StepAmount:
		return "amount"
	case StepAuthorization:
		return "authorization"
	case StepExecution:
		return "execution"
	case StepProcessing:
		return "processing"
	case StepComplete:
		return "complete"
	case StepReferral:
		return "referral"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Delivery methods. Check mailing exists as a branch but is "coming soon" in
// the Mexico flow.
const (
	DeliveryBankTransfer = "usd-bank-transfer"
	DeliveryCheck        = "check-delivery"
)

// FormData is everything the user enters across the flow. Fields persist
// across back/forward navigation within one session.
type FormData struct {
	// Personal information
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	DocumentType string `json:"documentType"`
	TaxID        string `json:"taxId"`
	Email        string `json:"email"`
	DateOfBirth  string `json:"dateOfBirth"`
	Phone        string `json:"phone"`
	Country      string `json:"country"`
	// Address information
	StreetAddress string `json:"streetAddress"`
	City          string `json:"city"`
	State         string `json:"state"`
	ZipCode       string `json:"zipCode"`
	// Delivery method
	DeliveryMethod    string `json:"deliveryMethod"`
	RoutingNumber     string `json:"routingNumber"`
	AccountNumber     string `json:"accountNumber"`
	AccountHolderName string `json:"accountHolderName"`
	BankName          string `json:"bankName"`
	BankStreetAddress string `json:"bankStreetAddress"`
	BankCity          string `json:"bankCity"`
	BankState         string `json:"bankState"`
	BankZipCode       string `json:"bankZipCode"`
	// School and student (check delivery)
	SchoolName           string `json:"schoolName"`
	PayeeName            string `json:"payeeName"`
	DeliveryInstructions string `json:"deliveryInstructions"`
	StudentFullName      string `json:"studentFullName"`
	StudentID            string `json:"studentId"`
	TermReference        string `json:"termReference"`
	StudentEmail         string `json:"studentEmail"`
	// Amount and method
	AmountUSD     string `json:"amountUSD"`
	PaymentMethod string `json:"paymentMethod"`
}

type requiredField struct {
	label string
	value func(*FormData) string
}

var requiredByStep = map[Step][]requiredField{
	StepPersonalInfo: {
		{"First Name", func(f *FormData) string { return f.FirstName }},
		{"Last Name", func(f *FormData) string { return f.LastName }},
		{"Document Type", func(f *FormData) string { return f.DocumentType }},
		{"Tax ID/Document Number", func(f *FormData) string { return f.TaxID }},
		{"Email", func(f *FormData) string { return f.Email }},
		{"Date of Birth", func(f *FormData) string { return f.DateOfBirth }},
		{"Phone Number", func(f *FormData) string { return f.Phone }},
		{"Country", func(f *FormData) string { return f.Country }},
		{"Street Address", func(f *FormData) string { return f.StreetAddress }},
		{"City", func(f *FormData) string { return f.City }},
		{"State/Province", func(f *FormData) string { return f.State }},
		{"ZIP/Postal Code", func(f *FormData) string { return f.ZipCode }},
	},
	StepSchoolInfo: {
		{"School Name", func(f *FormData) string { return f.SchoolName }},
		{"Payee Name", func(f *FormData) string { return f.PayeeName }},
		{"Street Address", func(f *FormData) string { return f.StreetAddress }},
		{"City", func(f *FormData) string { return f.City }},
		{"State/Province", func(f *FormData) string { return f.State }},
		{"ZIP/Postal Code", func(f *FormData) string { return f.ZipCode }},
		{"Student Full Name", func(f *FormData) string { return f.StudentFullName }},
		{"Student ID", func(f *FormData) string { return f.StudentID }},
		{"Term Reference", func(f *FormData) string { return f.TermReference }},
		{"Student Email", func(f *FormData) string { return f.StudentEmail }},
	},
	StepAmount: {
		{"Amount (USD)", func(f *FormData) string { return f.AmountUSD }},
		{"Payment Method", func(f *FormData) string { return f.PaymentMethod }},
	},
}

// MissingFields returns the labels of required fields still empty for the
// given step. Delivery-method requirements depend on the chosen path.
func MissingFields(step Step, form *FormData) []string {
	var missing []string
	if step == StepDeliveryMethod {
		if strings.TrimSpace(form.DeliveryMethod) == "" {
			return []string{"Delivery Method"}
		}
		if form.DeliveryMethod == DeliveryBankTransfer {
			bank := []requiredField{
				{"Routing Number", func(f *FormData) string { return f.RoutingNumber }},
				{"Account Number", func(f *FormData) string { return f.AccountNumber }},
				{"Account Holder Name", func(f *FormData) string { return f.AccountHolderName }},
			}
			for _, rf := range bank {
				if strings.TrimSpace(rf.value(form)) == "" {
					missing = append(missing, rf.label)
				}
			}
		}
		return missing
	}
	for _, rf := range requiredByStep[step] {
		if strings.TrimSpace(rf.value(form)) == "" {
			missing = append(missing, rf.label)
		}
	}
	return missing
}

// CanAdvance is true exactly when every required field for the step is present.
func CanAdvance(step Step, form *FormData) bool {
	return len(MissingFields(step, form)) == 0
}

// AuthorizationRecord is the digital-signature artifact captured when the
// user confirms the payment. There is no cryptographic signing; it is a
// timestamp plus a snapshot of what was agreed to.
type AuthorizationRecord struct {
	Timestamp      string `json:"timestamp"`
	Acknowledged   bool   `json:"acknowledged"`
	StudentName    string `json:"student_name"`
	SchoolName     string `json:"school_name"`
	AmountUSD      string `json:"amount_usd"`
	DeliveryMethod string `json:"delivery_method"`
	OnRampQuoteID  string `json:"on_ramp_quote_id"`
	OffRampQuoteID string `json:"off_ramp_quote_id"`
}

// Notice is a non-blocking notification surfaced to the client on its next
// state read.
type Notice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Wizard is the onboarding/payment state machine for one session. It is not
// safe for concurrent use; the owning session serializes access.
type Wizard struct {
	Step Step
	Form FormData

	Quote     *models.CombinedQuote
	Countdown *Countdown

	AuthorizationAgreed bool
	Authorization       *AuthorizationRecord

	Status            *StatusMachine
	PayinProcessing   bool
	PaymentReceived   bool
	OffRampProcessing bool
	OffRampTx         *models.OfframpTransaction

	ExpiryModal bool

	lockSeconds int
	notices     []Notice
}

func New(lockSeconds int) *Wizard {
	w := &Wizard{
		Step:        StepPersonalInfo,
		Status:      NewStatusMachine(),
		lockSeconds: lockSeconds,
	}
	w.Countdown = NewCountdown(0, w.handleExpiry)
	return w
}

func (w *Wizard) notify(title, description string) {
	w.notices = append(w.notices, Notice{Title: title, Description: description})
}

// DrainNotices returns pending notifications and clears them.
func (w *Wizard) DrainNotices() []Notice {
	n := w.notices
	w.notices = nil
	return n
}

// Advance moves the cursor forward one user-initiated step after checking the
// current step's field-completeness predicate. Poller-driven steps
// (Execution onward) are not reachable this way.
func (w *Wizard) Advance() (Step, error) {
	if missing := MissingFields(w.Step, &w.Form); len(missing) > 0 {
		return w.Step, fmt.Errorf("required fields missing: %s", strings.Join(missing, ", "))
	}
	switch w.Step {
	case StepPersonalInfo:
		w.Step = StepDeliveryMethod
	case StepDeliveryMethod:
		if w.Form.DeliveryMethod == DeliveryBankTransfer {
			w.Step = StepAmount
		} else {
			w.Step = StepSchoolInfo
		}
	case StepSchoolInfo:
		w.Step = StepAmount
	default:
		return w.Step, fmt.Errorf("step %s cannot be advanced directly", w.Step)
	}
	return w.Step, nil
}

// ApplyQuote records a freshly locked quote and moves to the authorization
// step. The countdown is the authoritative expiry; the quote's expires_at is
// advisory.
func (w *Wizard) ApplyQuote(q *models.CombinedQuote) error {
	if w.Step != StepAmount {
		return fmt.Errorf("quote can only be applied on the %s step, current step is %s", StepAmount, w.Step)
	}
	w.Quote = q
	w.ExpiryModal = false
	w.Countdown.Reset(w.lockSeconds)
	w.Step = StepAuthorization
	return nil
}

// Authorize confirms the payment on the authorization step. It requires the
// agreement checkbox and a live (non-expired) quote, records the
// digital-signature artifact, and moves to the execution step.
func (w *Wizard) Authorize(agreed bool, now time.Time) (*AuthorizationRecord, error) {
	if w.Step != StepAuthorization {
		return nil, fmt.Errorf("authorization is only possible on the %s step, current step is %s", StepAuthorization, w.Step)
	}
	if !agreed {
		return nil, fmt.Errorf("authorization agreement is required to proceed")
	}
	if w.Quote == nil {
		return nil, fmt.Errorf("no valid quote found, request a new quote")
	}
	if w.Countdown.Remaining() == 0 && !w.Countdown.Frozen() {
		return nil, fmt.Errorf("quote has expired, request a new quote")
	}

	w.AuthorizationAgreed = true
	w.Authorization = &AuthorizationRecord{
		Timestamp:      now.UTC().Format(time.RFC3339),
		Acknowledged:   true,
		StudentName:    strings.TrimSpace(w.Form.FirstName + " " + w.Form.LastName),
		SchoolName:     w.Form.SchoolName,
		AmountUSD:      w.Form.AmountUSD,
		DeliveryMethod: w.Form.DeliveryMethod,
		OnRampQuoteID:  w.Quote.OnRamp.ID,
		OffRampQuoteID: w.Quote.OffRamp.ID,
	}
	logger.L.Info("Payment authorization recorded",
		"timestamp", w.Authorization.Timestamp,
		"onRampQuoteID", w.Authorization.OnRampQuoteID,
		"offRampQuoteID", w.Authorization.OffRampQuoteID)

	w.Step = StepExecution
	w.Countdown.Reset(w.lockSeconds)
	return w.Authorization, nil
}

// Back navigates to an earlier step without clearing entered data. While
// execution is pending only the authorization step is reachable.
func (w *Wizard) Back(target Step) error {
	if target >= w.Step {
		return fmt.Errorf("cannot go back from %s to %s", w.Step, target)
	}
	switch w.Step {
	case StepExecution:
		if target != StepAuthorization {
			return fmt.Errorf("only the %s step is reachable while execution is pending", StepAuthorization)
		}
	case StepProcessing, StepComplete:
		return fmt.Errorf("cannot navigate back once the payment is %s", w.Status.Current())
	case StepReferral:
		// Referral freely returns to the completion screen.
		if target != StepComplete {
			return fmt.Errorf("referral can only return to the %s step", StepComplete)
		}
	}
	w.Step = target
	return nil
}

// AdvanceToReferral moves from the completion screen to the referral screen.
func (w *Wizard) AdvanceToReferral() error {
	if w.Step != StepComplete {
		return fmt.Errorf("referral step is only reachable from %s, current step is %s", StepComplete, w.Step)
	}
	w.Step = StepReferral
	return nil
}

// SubmitReferrals validates the referral emails and returns to the completion
// screen. Blank entries are ignored.
func (w *Wizard) SubmitReferrals(emails []string) (int, error) {
	if w.Step != StepReferral {
		return 0, fmt.Errorf("referrals can only be submitted on the %s step", StepReferral)
	}
	valid := 0
	for _, email := range emails {
		email = strings.TrimSpace(email)
		if email != "" && strings.Contains(email, "@") {
			valid++
		}
	}
	w.Step = StepComplete
	return valid, nil
}

// TickCountdown advances the quote-lock timer. The timer only runs while the
// user sits on the authorization or execution step and no payment marker has
// been set.
func (w *Wizard) TickCountdown() {
	if w.Step != StepAuthorization && w.Step != StepExecution {
		return
	}
	if w.PaymentReceived || w.PayinProcessing {
		return
	}
	w.Countdown.Tick()
}

// handleExpiry runs when the countdown hits zero. On the execution step the
// cursor silently rewinds to the amount step; the blocking modal is raised in
// both cases. The countdown fires at most once per arm, so a duplicate timer
// fire cannot double-rewind.
func (w *Wizard) handleExpiry() {
	if w.PaymentReceived || w.PayinProcessing || w.ExpiryModal {
		return
	}
	w.ExpiryModal = true
	if w.Step == StepExecution {
		w.Step = StepAmount
	}
}

// AcknowledgeExpiry dismisses the expiry modal: the quote and authorization
// are discarded and the user returns to the amount step to re-request
// pricing. Personal and bank data are retained.
func (w *Wizard) AcknowledgeExpiry() {
	if !w.ExpiryModal {
		return
	}
	w.ExpiryModal = false
	w.Quote = nil
	w.AuthorizationAgreed = false
	w.Authorization = nil
	w.Countdown.Reset(w.lockSeconds)
	if w.Step == StepAuthorization || w.Step == StepExecution || w.Step == StepAmount {
		w.Step = StepAmount
	}
}

// ApplyStatusFlags feeds one poll snapshot through the status machine.
// Returns true when polling should stop (terminal status reached). Illegal
// transitions are logged and dropped so an out-of-order delivery cannot
// regress visible status.
func (w *Wizard) ApplyStatusFlags(flags models.StatusFlags, at time.Time) bool {
	if w.Status.Stale(at) {
		logger.L.Debug("Discarding stale status snapshot", "snapshotAt", at, "status", w.Status.Current())
		return w.Status.Terminal()
	}

	if flags.PayinProcessing {
		if err := w.Status.Apply(StatusProcessing, at); err != nil {
			logger.L.Debug("Ignoring status flag", "flag", "payin_processing", "error", err)
		} else {
			w.PayinProcessing = true
			w.Countdown.Freeze()
		}
	}

	if flags.PayinCompleted {
		if err := w.Status.Apply(StatusPaymentReceived, at); err != nil {
			logger.L.Debug("Ignoring status flag", "flag", "payin_completed", "error", err)
		} else {
			w.PaymentReceived = true
			w.PayinProcessing = false
			w.Countdown.Freeze()
			w.Step = StepProcessing
		}
	}

	if flags.OfframpTx != nil {
		if err := w.Status.Apply(StatusOfframpCreated, at); err != nil {
			logger.L.Debug("Ignoring status flag", "flag", "offramp_transaction", "error", err)
		} else {
			w.OffRampTx = flags.OfframpTx
			w.OffRampProcessing = true
			w.notify("Off-ramp Created", fmt.Sprintf("Off-ramp transaction %s initiated", flags.OfframpTx.ID))
		}
	}

	if flags.OfframpCompleted {
		if err := w.Status.Apply(StatusCompleted, at); err != nil {
			logger.L.Debug("Ignoring status flag", "flag", "offramp_completed", "error", err)
		} else {
			w.OffRampProcessing = false
			if w.OffRampTx != nil {
				w.OffRampTx.Status = "completed"
			}
			w.Step = StepComplete
			w.notify("Transfer Complete!", "Funds have been sent to your bank account")
		}
	}

	if flags.OfframpFailed {
		if err := w.Status.Apply(StatusFailed, at); err != nil {
			logger.L.Debug("Ignoring status flag", "flag", "offramp_failed", "error", err)
		} else {
			w.OffRampProcessing = false
			if w.OffRampTx != nil {
				w.OffRampTx.Status = "failed"
			}
			w.notify("Transfer Failed", "The payout could not be completed. Our team has been notified.")
		}
	}

	return w.Status.Terminal()
}
