package domain

import (
	"fmt"
	"strings"
)

// Hold is a time-bounded reservation lease for one (cart, sku) pair. Holds
// live exclusively in the counter store; they are never persisted durably.
type Hold struct {
	CartID    string `json:"cart_id"`
	SKU       string `json:"sku"`
	Qty       int    `json:"qty"`
	CreatedAt int64  `json:"created_at"` // epoch ms
	ExpiresAt int64  `json:"expires_at"` // epoch ms
}

// ID returns the hold identifier in the form "{cart_id}:{sku}". Cart IDs must
// not contain ':' so the identifier parses back unambiguously.
func (h *Hold) ID() string {
	return HoldID(h.CartID, h.SKU)
}

// HoldID builds the hold identifier for a (cart, sku) pair.
func HoldID(cartID, sku string) string {
	return cartID + ":" + sku
}

// ParseHoldID splits a hold identifier into its cart ID and SKU. SKUs may
// contain ':' themselves; only the first separator belongs to the cart ID.
func ParseHoldID(holdID string) (cartID, sku string, err error) {
	parts := strings.SplitN(holdID, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed hold id %q", holdID)
	}
	return parts[0], parts[1], nil
}

// ReserveResult is the outcome of a successful reserve operation.
type ReserveResult struct {
	HoldID         string `json:"hold_id"`
	ExpiresAt      int64  `json:"expires_at"`
	AvailableAfter int    `json:"available_after"`
	Idempotent     bool   `json:"idempotent,omitempty"`
}

// ReleaseResult is the outcome of a release operation. Absent is true when no
// hold existed, which release treats as an idempotent no-op.
type ReleaseResult struct {
	ReleasedQty int  `json:"released_qty"`
	Absent      bool `json:"absent,omitempty"`
}

// CommitResult is the outcome of a successful commit: the quantity consumed
// from the hold and the new authoritative total after the durable decrement.
type CommitResult struct {
	ConsumedQty int `json:"consumed_qty"`
	NewTotal    int `json:"new_total"`
}

// Release reasons recorded on hold_released events.
const (
	ReleaseReasonManual  = "manual"
	ReleaseReasonExpired = "expired"
)
