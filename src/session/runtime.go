package session

import (
	"context"
	"time"

	"github.com/crebit/backend/src/logger"
	"github.com/crebit/backend/src/models"
)

// StatusSource yields the current flag bag for a transaction. In production
// this is the webhook status tracker behind /api/webhook-status; tests feed
// canned snapshots.
type StatusSource interface {
	Status(transactionID string) (models.StatusFlags, bool)
}

// RuntimeConfig carries the two timer periods and the poll ceiling.
type RuntimeConfig struct {
	TickPeriod   time.Duration // quote timer, 1s
	PollInterval time.Duration // status timer, 3s
	PollCeiling  time.Duration // absolute polling cutoff, 10m
}

// StartRuntime launches the session's scheduler: a single goroutine with two
// named tickers (quote timer and status timer) in one select loop, replacing
// the pair of uncoordinated client-side intervals. A no-op while a runtime is
// already running; after one stops (terminal status, poll ceiling, close) a
// new call starts a fresh one, so a re-quoted session gets its countdown back.
func (s *Session) StartRuntime(ctx context.Context, src StatusSource, cfg RuntimeConfig) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.runtimeCancel != nil {
		// Runtime already running for this session; keep the existing one.
		s.mu.Unlock()
		cancel()
		return
	}
	s.runtimeCancel = cancel
	s.runtimeCtx = ctx
	s.mu.Unlock()

	go s.runLoop(ctx, cancel, src, cfg)
}

func (s *Session) runLoop(ctx context.Context, cancel context.CancelFunc, src StatusSource, cfg RuntimeConfig) {
	defer func() {
		// Release the runtime slot so a later StartRuntime is not refused,
		// but only if it is still ours; Close followed by a fresh
		// StartRuntime may have replaced it already.
		s.mu.Lock()
		if s.runtimeCtx == ctx {
			s.runtimeCancel = nil
			s.runtimeCtx = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	quoteTimer := time.NewTicker(cfg.TickPeriod)
	defer quoteTimer.Stop()
	statusTimer := time.NewTicker(cfg.PollInterval)
	defer statusTimer.Stop()

	// The poll ceiling arms once a transaction exists. Before authorization
	// only the quote timer has work to do, and the quote lock must not be
	// cut off by a polling limit.
	var ceiling *time.Timer
	var ceilingC <-chan time.Time
	defer func() {
		if ceiling != nil {
			ceiling.Stop()
		}
	}()

	logger.L.Debug("Session runtime started", "sessionID", s.ID)

	for {
		select {
		case <-ctx.Done():
			logger.L.Debug("Session runtime stopped", "sessionID", s.ID)
			return

		case <-quoteTimer.C:
			s.mu.Lock()
			s.Wizard.TickCountdown()
			s.mu.Unlock()

		case <-statusTimer.C:
			s.mu.Lock()
			txID := s.TransactionID
			s.mu.Unlock()
			if txID == "" {
				continue
			}
			if ceiling == nil {
				ceiling = time.NewTimer(cfg.PollCeiling)
				ceilingC = ceiling.C
			}
			flags, ok := src.Status(txID)
			if !ok {
				// Nothing tracked yet; keep polling. Transport and shape
				// problems are the source's concern, the poll just skips.
				continue
			}
			s.mu.Lock()
			done := s.Wizard.ApplyStatusFlags(flags, parseSnapshotTime(flags.Timestamp))
			s.mu.Unlock()
			if done {
				logger.L.Info("Session reached terminal payment status, stopping poller",
					"sessionID", s.ID, "transactionID", txID)
				return
			}

		case <-ceilingC:
			logger.L.Warn("Session status polling hit the ceiling, stopping",
				"sessionID", s.ID, "ceiling", cfg.PollCeiling)
			return
		}
	}
}

func parseSnapshotTime(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}
