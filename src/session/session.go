// Package session holds the per-user onboarding session: the wizard state
// machine, the identifiers created mid-flow, and the runtime that drives the
// quote-lock and status timers. Identifiers travel in this container instead
// of ambient client storage, so later steps have an explicit place to await
// them.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crebit/backend/src/provider"
	"github.com/crebit/backend/src/wizard"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// CustomerResult is what the background customer-creation call resolves to.
type CustomerResult struct {
	CustomerID       string
	WalletID         string
	WalletAddress    string
	ExistingCustomer bool
	ExternalAccounts []provider.ExternalAccount
}

// CustomerHandle is an explicit awaitable for the non-blocking customer
// creation fired on the first step. Steps that need the customer id await it
// instead of assuming the call already resolved.
type CustomerHandle struct {
	done   chan struct{}
	once   sync.Once
	result CustomerResult
	err    error
}

func NewCustomerHandle() *CustomerHandle {
	return &CustomerHandle{done: make(chan struct{})}
}

// Resolve completes the handle with a result. Only the first call wins.
func (h *CustomerHandle) Resolve(result CustomerResult) {
	h.once.Do(func() {
		h.result = result
		close(h.done)
	})
}

// Fail completes the handle with an error. Only the first call wins.
func (h *CustomerHandle) Fail(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Await blocks until the background call resolves or the context ends.
func (h *CustomerHandle) Await(ctx context.Context) (CustomerResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return CustomerResult{}, fmt.Errorf("waiting for customer creation: %w", ctx.Err())
	}
}

// Ready reports whether the handle has resolved, without blocking.
func (h *CustomerHandle) Ready() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Session is the server-side container for one onboarding flow.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	mu     sync.Mutex
	Wizard *wizard.Wizard

	// Identifiers created mid-flow, reused by later steps.
	Customer          *CustomerHandle
	ExternalAccountID string
	TransactionID     string
	Payment           *provider.Payin

	runtimeCancel context.CancelFunc
	runtimeCtx    context.Context
}

func New(userID string, lockSeconds int) *Session {
	return &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Wizard:    wizard.New(lockSeconds),
	}
}

// Lock serializes access to the wizard and session fields. The runtime and
// the HTTP handlers both mutate through this.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Close stops the session runtime if one is running.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.runtimeCancel
	s.runtimeCancel = nil
	s.runtimeCtx = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Store keeps active sessions with TTL eviction as a backstop for abandoned
// flows.
type Store struct {
	cache *gocache.Cache
}

func NewStore(ttl time.Duration) *Store {
	c := gocache.New(ttl, ttl/2)
	c.OnEvicted(func(_ string, v interface{}) {
		if s, ok := v.(*Session); ok {
			s.Close()
		}
	})
	return &Store{cache: c}
}

func (st *Store) Put(s *Session) {
	st.cache.SetDefault(s.ID, s)
}

func (st *Store) Get(id string) (*Session, bool) {
	v, ok := st.cache.Get(id)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok
}

// Touch refreshes the TTL for an active session.
func (st *Store) Touch(s *Session) {
	st.cache.SetDefault(s.ID, s)
}
