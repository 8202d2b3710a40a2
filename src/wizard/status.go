package wizard

import (
	"fmt"
	"time"
)

// PaymentStatus is the visible status of a transfer as driven by webhook
// polling. Transitions only advance; the transition table below rejects
// anything that would regress what the user already saw.
type PaymentStatus string

const (
	StatusWaiting         PaymentStatus = "waiting"
	StatusProcessing      PaymentStatus = "processing"
	StatusPaymentReceived PaymentStatus = "payment_received"
	StatusOfframpCreated  PaymentStatus = "offramp_created"
	StatusCompleted       PaymentStatus = "completed"
	StatusFailed          PaymentStatus = "failed"
)

var statusTransitions = map[PaymentStatus][]PaymentStatus{
	StatusWaiting:         {StatusProcessing, StatusPaymentReceived, StatusFailed},
	StatusProcessing:      {StatusPaymentReceived, StatusFailed},
	StatusPaymentReceived: {StatusOfframpCreated, StatusCompleted, StatusFailed},
	StatusOfframpCreated:  {StatusCompleted, StatusFailed},
	StatusCompleted:       {},
	StatusFailed:          {},
}

// StatusMachine guards the payment status against out-of-order poll
// responses. A duplicated or regressive delivery is rejected instead of
// overwriting what a later response already established.
type StatusMachine struct {
	current     PaymentStatus
	lastApplied time.Time
}

func NewStatusMachine() *StatusMachine {
	return &StatusMachine{current: StatusWaiting}
}

func (m *StatusMachine) Current() PaymentStatus { return m.current }

// Terminal reports whether no further transitions are possible.
func (m *StatusMachine) Terminal() bool {
	return len(statusTransitions[m.current]) == 0
}

// Stale reports whether a snapshot taken at the given time predates the last
// applied transition and should be discarded wholesale.
func (m *StatusMachine) Stale(at time.Time) bool {
	return !at.IsZero() && !m.lastApplied.IsZero() && at.Before(m.lastApplied)
}

// Apply attempts the transition to next. Re-applying the current status is a
// harmless no-op; an illegal transition returns an error and leaves the
// machine unchanged.
func (m *StatusMachine) Apply(next PaymentStatus, at time.Time) error {
	if next == m.current {
		return nil
	}
	for _, allowed := range statusTransitions[m.current] {
		if next == allowed {
			m.current = next
			if at.After(m.lastApplied) {
				m.lastApplied = at
			}
			return nil
		}
	}
	return fmt.Errorf("illegal status transition from %s to %s", m.current, next)
}
