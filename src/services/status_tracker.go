package services

import (
	"sync"
	"time"

	"github.com/crebit/backend/src/models"
	gocache "github.com/patrickmn/go-cache"
)

// StatusTracker maintains the per-transaction flag bag fed by the webhook
// receiver and read by the status endpoint and the session pollers. Entries
// expire with the TTL so finished transfers age out on their own.
type StatusTracker struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

func NewStatusTracker(ttl time.Duration) *StatusTracker {
	return &StatusTracker{cache: gocache.New(ttl, ttl/2)}
}

// Merge applies update to the transaction's flag bag (creating it if absent),
// stamps the snapshot time, and returns the merged result. Both the stored bag
// and the returned one carry their own OfframpTransaction, so callers never
// share a payout leg with the tracker.
func (t *StatusTracker) Merge(transactionID string, update func(*models.StatusFlags)) models.StatusFlags {
	t.mu.Lock()
	defer t.mu.Unlock()

	flags := models.StatusFlags{}
	if v, ok := t.cache.Get(transactionID); ok {
		flags = v.(models.StatusFlags).Clone()
	}
	update(&flags)
	flags.Timestamp = time.Now().UTC().Format(time.RFC3339)
	t.cache.SetDefault(transactionID, flags)
	return flags.Clone()
}

// Status returns a copy of the transaction's flag bag, if tracked. Implements
// session.StatusSource.
func (t *StatusTracker) Status(transactionID string) (models.StatusFlags, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.cache.Get(transactionID)
	if !ok {
		return models.StatusFlags{}, false
	}
	return v.(models.StatusFlags).Clone(), true
}

// FindByOfframpID locates the pay-in transaction whose payout leg has the
// given id. Payout webhooks reference the payout id, not the pay-in id.
func (t *StatusTracker) FindByOfframpID(offrampID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for txID, item := range t.cache.Items() {
		flags, ok := item.Object.(models.StatusFlags)
		if !ok {
			continue
		}
		if flags.OfframpTx != nil && flags.OfframpTx.ID == offrampID {
			return txID, true
		}
	}
	return "", false
}
