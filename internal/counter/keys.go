package counter

// Key layout in the counter store:
//
//	inv:{sku}              hash {total, reserved}
//	hold:{cart_id}:{sku}   hash {cart_id, sku, qty, created_at, expires_at}
//	holds:exp              zset, score = expires_at (ms), member = {cart_id}:{sku}
//	inv:events             stream of lifecycle events (optional)
const (
	invPrefix  = "inv:"
	holdPrefix = "hold:"

	// expiryIndexKey indexes live holds by their expiry deadline for the reaper.
	expiryIndexKey = "holds:exp"

	// DefaultStream is the default name of the lifecycle event stream.
	DefaultStream = "inv:events"
)

func invKey(sku string) string {
	return invPrefix + sku
}

func holdKey(holdID string) string {
	return holdPrefix + holdID
}
