package models

// OfframpTransaction is the payout leg surfaced to the client once the
// provider confirms the pay-in.
type OfframpTransaction struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	CreatedAt string  `json:"created_at"`
}

// StatusFlags is the per-transaction flag bag the webhook receiver maintains
// and the status endpoint serves. Flags may coexist in one snapshot; the
// wizard interprets them in priority order.
type StatusFlags struct {
	PayinCreated     bool                `json:"payin_created,omitempty"`
	PayinProcessing  bool                `json:"payin_processing,omitempty"`
	PayinCompleted   bool                `json:"payin_completed,omitempty"`
	PayinAmountLocal float64             `json:"payin_amount_local,omitempty"`
	PayinAmountUSDC  float64             `json:"payin_amount_usdc,omitempty"`
	CustomerID       string              `json:"customer_id,omitempty"`
	OfframpTx        *OfframpTransaction `json:"offramp_transaction,omitempty"`
	OfframpCompleted bool                `json:"offramp_completed,omitempty"`
	OfframpFailed    bool                `json:"offramp_failed,omitempty"`
	// Timestamp is set on every tracker update; pollers discard snapshots
	// older than the last one they applied.
	Timestamp string `json:"timestamp,omitempty"`
}

// Clone returns a snapshot with its own OfframpTransaction, so the caller can
// read or mutate it without touching the tracker's stored copy.
func (f StatusFlags) Clone() StatusFlags {
	if f.OfframpTx != nil {
		tx := *f.OfframpTx
		f.OfframpTx = &tx
	}
	return f
}
