package domain

// Event kinds recorded in the lifecycle event log.
const (
	EventHoldCreated   = "hold_created"
	EventHoldExtended  = "hold_extended"
	EventHoldCommitted = "hold_committed"
	EventHoldReleased  = "hold_released"
)

// Event is one entry of the append-only hold lifecycle log.
type Event struct {
	TS     int64  `json:"ts"` // epoch ms
	Kind   string `json:"kind"`
	SKU    string `json:"sku"`
	CartID string `json:"cart_id"`
	Qty    int    `json:"qty"`
	Reason string `json:"reason,omitempty"`
}
