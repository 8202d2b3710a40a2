package models

import "github.com/crebit/backend/src/provider"

// CombinedQuote pairs the two conversion legs of one transfer: local currency
// into the settlement asset (on-ramp) and settlement asset into USD
// (off-ramp). Immutable once created; discarded on expiry or restart.
type CombinedQuote struct {
	OnRamp            provider.Quote `json:"on_ramp"`
	OffRamp           provider.Quote `json:"off_ramp"`
	AmountUSD         float64        `json:"amount_usd"`
	TotalLocalAmount  float64        `json:"total_local_amount"`
	TotalFeesUSD      float64        `json:"total_fees_usd"`
	EffectiveRate     float64        `json:"effective_rate"`
	ExpiresAt         int64          `json:"expires_at"`
	ExpiresAtReadable string         `json:"expires_at_readable"`
}
