package models

import "time"

// BatchStatus is derived from a batch's items at read time and never stored.
type BatchStatus string

const (
	BatchPending  BatchStatus = "PENDING"
	BatchApproved BatchStatus = "APPROVED"
	BatchRejected BatchStatus = "REJECTED"
)

// Batch groups workflow items that are committed or aborted together.
// It owns the grouping only, not the items' lifecycle.
type Batch struct {
	ID         string
	MakerID    string
	ItemIDs    []string
	Rejected   bool
	CheckerID  string
	Comments   string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// DeriveBatchStatus computes the aggregate status of a batch from its items.
func DeriveBatchStatus(b Batch, items []WorkflowItem) BatchStatus {
	if b.Rejected {
		return BatchRejected
	}
	if len(items) == 0 {
		return BatchPending
	}
	for _, it := range items {
		if it.State != StateApproved {
			return BatchPending
		}
	}
	return BatchApproved
}

// BatchTotal sums the item amounts.
func BatchTotal(items []WorkflowItem) int64 {
	var total int64
	for _, it := range items {
		total += it.Payload.Amount
	}
	return total
}
