package domain

// Snapshot is a point-in-time view of one SKU's counters as seen by the
// counter store. Total is the mirrored authoritative stock; Reserved is the
// sum of live hold quantities.
type Snapshot struct {
	SKU      string `json:"sku"`
	Total    int    `json:"total"`
	Reserved int    `json:"reserved"`
}

// Available returns the quantity a new reservation may draw from.
func (s *Snapshot) Available() int {
	return s.Total - s.Reserved
}
