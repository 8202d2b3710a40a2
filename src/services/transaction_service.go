package services

import (
	"database/sql"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/crebit/backend/src/models"
)

// Events within this amount tolerance and time window belong to the same
// logical transfer (the payout leg can carry a promotional bonus on top of
// the payin amount).
const (
	groupAmountTolerance = 10.20
	groupTimeWindow      = 5 * time.Minute
)

// TransactionService assembles the dashboard view from persisted webhook
// events. Payin and payout legs of one transfer arrive as separate events,
// so the service collapses them into logical groups before aggregating.
type TransactionService struct {
	db *sql.DB
}

func NewTransactionService(db *sql.DB) *TransactionService {
	return &TransactionService{db: db}
}

// UserTransactions returns the customer's grouped transfers (most recent
// first) and a summary over the groups.
func (s *TransactionService) UserTransactions(customerID string) ([]models.GroupedTransaction, models.TransactionSummary, error) {
	events, err := models.GetWebhookEventsByCustomer(s.db, customerID)
	if err != nil {
		return nil, models.TransactionSummary{}, err
	}
	grouped := GroupTransactionEvents(events)
	return grouped, SummarizeTransactions(grouped), nil
}

// GroupTransactionEvents collapses webhook events into logical transfers.
// Events are expected most-recent-first; each unclaimed event anchors a new
// group and pulls in every later unclaimed event within the amount tolerance
// and time window.
func GroupTransactionEvents(events []models.WebhookEvent) []models.GroupedTransaction {
	grouped := make([]models.GroupedTransaction, 0, len(events))
	used := make([]bool, len(events))

	for i, anchor := range events {
		if used[i] {
			continue
		}
		used[i] = true

		members := []models.WebhookEvent{anchor}
		for j := i + 1; j < len(events); j++ {
			if used[j] {
				continue
			}
			amountDiff := math.Abs(anchor.AmountUSD - events[j].AmountUSD)
			timeDiff := anchor.CreatedAt.Sub(events[j].CreatedAt)
			if timeDiff < 0 {
				timeDiff = -timeDiff
			}
			if amountDiff <= groupAmountTolerance && timeDiff <= groupTimeWindow {
				members = append(members, events[j])
				used[j] = true
			}
		}

		grouped = append(grouped, buildGroup(anchor, members))
	}
	return grouped
}

func buildGroup(anchor models.WebhookEvent, members []models.WebhookEvent) models.GroupedTransaction {
	group := models.GroupedTransaction{
		ID:                    anchor.ID,
		ProviderTransactionID: anchor.TransactionID,
		Type:                  eventTransferType(anchor.EventType),
		CreatedAt:             anchor.CreatedAt.UTC().Format(time.RFC3339),
	}
	if anchor.AmountLocal.Valid {
		v := anchor.AmountLocal.Float64
		group.AmountLocal = &v
	}
	if anchor.LocalCurrency.Valid {
		group.LocalCurrency = anchor.LocalCurrency.String
	}

	// The payout leg carries the bonus, so the group shows the largest amount.
	updatedAt := anchor.UpdatedAt
	for _, m := range members {
		if m.AmountUSD > group.AmountUSD {
			group.AmountUSD = m.AmountUSD
		}
		if m.UpdatedAt.After(updatedAt) {
			updatedAt = m.UpdatedAt
		}
	}
	group.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
	group.Status = groupStatus(members)
	return group
}

func eventTransferType(eventType string) string {
	if strings.Contains(eventType, "payin") {
		return "payin"
	}
	return "payout"
}

// groupStatus derives a single status for a group of event legs.
// "failed" wins outright; then the most recently updated leg's status if it
// is a known one; then a fixed severity order over all legs.
func groupStatus(members []models.WebhookEvent) string {
	if len(members) == 0 {
		return "unknown"
	}

	statuses := make(map[string]int, len(members))
	for _, m := range members {
		statuses[m.Status]++
	}
	if statuses["failed"] > 0 {
		return "failed"
	}

	byRecency := make([]models.WebhookEvent, len(members))
	copy(byRecency, members)
	sort.SliceStable(byRecency, func(i, j int) bool {
		return byRecency[i].UpdatedAt.After(byRecency[j].UpdatedAt)
	})
	switch byRecency[0].Status {
	case "completed", "processing", "awaiting_deposit", "pending":
		return byRecency[0].Status
	}

	if statuses["completed"] == len(members) {
		return "completed"
	}
	for _, st := range []string{"processing", "awaiting_deposit", "pending"} {
		if statuses[st] > 0 {
			return st
		}
	}
	return members[0].Status
}

// SummarizeTransactions totals the grouped transfers. TotalSent covers every
// group regardless of status.
func SummarizeTransactions(grouped []models.GroupedTransaction) models.TransactionSummary {
	summary := models.TransactionSummary{TransactionCount: len(grouped)}
	for _, g := range grouped {
		summary.TotalSent += g.AmountUSD
		switch g.Status {
		case "completed":
			summary.TotalCompleted += g.AmountUSD
		case "pending", "processing", "awaiting_deposit":
			summary.TotalPending += g.AmountUSD
		}
	}
	return summary
}
