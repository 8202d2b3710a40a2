package models

// GroupedTransaction is one logical transfer assembled from the webhook
// events that belong to it (payin plus payout legs).
type GroupedTransaction struct {
	ID                    int64    `json:"id"`
	ProviderTransactionID string   `json:"provider_transaction_id"`
	Type                  string   `json:"type"`
	Status                string   `json:"status"`
	AmountUSD             float64  `json:"amount_usd"`
	AmountLocal           *float64 `json:"amount_local,omitempty"`
	LocalCurrency         string   `json:"local_currency,omitempty"`
	CreatedAt             string   `json:"created_at"`
	UpdatedAt             string   `json:"updated_at"`
}

// TransactionSummary aggregates a user's transfer history for the dashboard.
type TransactionSummary struct {
	TotalSent        float64 `json:"total_sent"`
	TotalCompleted   float64 `json:"total_completed"`
	TotalPending     float64 `json:"total_pending"`
	TransactionCount int     `json:"transaction_count"`
}
