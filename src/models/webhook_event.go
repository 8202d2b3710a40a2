package models

import (
	"database/sql"
	"fmt"
	"time"
)

// WebhookEvent is one provider event persisted for the dashboard and audit trail.
type WebhookEvent struct {
	ID            int64
	TransactionID string
	CustomerID    string
	EventType     string
	Status        string
	AmountUSD     float64
	AmountLocal   sql.NullFloat64
	LocalCurrency sql.NullString
	Payload       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func InsertWebhookEvent(db *sql.DB, ev *WebhookEvent) error {
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = now
	}
	res, err := db.Exec(`
		INSERT INTO webhook_events
			(transaction_id, customer_id, event_type, status, amount_usd, amount_local, local_currency, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TransactionID, ev.CustomerID, ev.EventType, ev.Status, ev.AmountUSD,
		ev.AmountLocal, ev.LocalCurrency, ev.Payload, ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert webhook event: %w", err)
	}
	ev.ID, _ = res.LastInsertId()
	return nil
}

// GetWebhookEventsByCustomer returns the customer's events, most recent first.
func GetWebhookEventsByCustomer(db *sql.DB, customerID string) ([]WebhookEvent, error) {
	rows, err := db.Query(`
		SELECT id, transaction_id, customer_id, event_type, status, amount_usd, amount_local, local_currency, payload, created_at, updated_at
		FROM webhook_events
		WHERE customer_id = ?
		ORDER BY created_at DESC, id DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook events for customer %s: %w", customerID, err)
	}
	defer rows.Close()

	var events []WebhookEvent
	for rows.Next() {
		var ev WebhookEvent
		if err := rows.Scan(&ev.ID, &ev.TransactionID, &ev.CustomerID, &ev.EventType, &ev.Status,
			&ev.AmountUSD, &ev.AmountLocal, &ev.LocalCurrency, &ev.Payload, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
