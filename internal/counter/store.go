package counter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/holdbay/stockhold/internal/domain"
	apperrors "github.com/holdbay/stockhold/pkg/errors"
)

// Store is the atomic counter store: it owns the reserved counters, the hold
// leases, and the expiry index, all behind the scripts in scripts.go. The
// mirrored total in inv:{sku} is read-only here; only the replicator (or the
// startup bootstrap) writes it.
type Store struct {
	client *redis.Client
	stream string
	clock  func() time.Time
}

// Options configures optional Store behavior.
type Options struct {
	// Stream is the lifecycle event stream name. Empty disables event logging.
	Stream string
	// Clock overrides the time source, used by tests. Defaults to time.Now.
	Clock func() time.Time
}

// New creates a counter store on the given Redis client.
func New(client *redis.Client, opts Options) *Store {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		client: client,
		stream: opts.Stream,
		clock:  clock,
	}
}

// scriptReply is the decoded shape of every script response.
type scriptReply struct {
	OK          bool   `json:"ok"`
	Reason      string `json:"reason"`
	Idempotent  bool   `json:"idempotent"`
	Absent      bool   `json:"absent"`
	ExpiresAt   int64  `json:"expires_at"`
	Available   int    `json:"available"`
	ExistingQty int    `json:"existing_qty"`
	Qty         int    `json:"qty"`
}

func (s *Store) nowMS() int64 {
	return s.clock().UnixMilli()
}

// runScript executes a script and decodes its cjson reply.
func (s *Store) runScript(ctx context.Context, script *redis.Script, keys []string, args ...any) (*scriptReply, error) {
	raw, err := script.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		// Scripts abort with an error reply on arithmetic overflow; that is a
		// caller bug, not a Redis outage.
		if strings.Contains(err.Error(), "expiry overflow") {
			return nil, apperrors.Internal(fmt.Errorf("counter script: %w", err))
		}
		return nil, apperrors.Unavailable(fmt.Errorf("counter script: %w", err))
	}
	var reply scriptReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("decode counter script reply %q: %w", raw, err))
	}
	return &reply, nil
}

// Reserve atomically checks availability and creates a hold. Replaying an
// identical reservation refreshes the lease and reports Idempotent=true.
func (s *Store) Reserve(ctx context.Context, sku, cartID string, qty int, ttl time.Duration) (*domain.ReserveResult, error) {
	holdID := domain.HoldID(cartID, sku)
	reply, err := s.runScript(ctx, reserveScript,
		[]string{invKey(sku), holdKey(holdID), s.stream, expiryIndexKey},
		holdID, sku, cartID, qty, ttl.Milliseconds(), s.nowMS(),
	)
	if err != nil {
		return nil, err
	}
	if !reply.OK {
		switch reply.Reason {
		case "insufficient":
			return nil, apperrors.Insufficient(sku, qty, reply.Available)
		case "conflict":
			return nil, apperrors.Conflict(
				fmt.Sprintf("hold %s already exists with qty %d", holdID, reply.ExistingQty),
			).WithDetail("existing_qty", reply.ExistingQty)
		default:
			return nil, apperrors.Internal(fmt.Errorf("reserve: unexpected reason %q", reply.Reason))
		}
	}
	return &domain.ReserveResult{
		HoldID:         holdID,
		ExpiresAt:      reply.ExpiresAt,
		AvailableAfter: reply.Available,
		Idempotent:     reply.Idempotent,
	}, nil
}

// Extend pushes a hold's expiry forward by add, based at max(current, now).
// It returns the new expiry in epoch milliseconds.
func (s *Store) Extend(ctx context.Context, cartID, sku string, add time.Duration) (int64, error) {
	holdID := domain.HoldID(cartID, sku)
	reply, err := s.runScript(ctx, extendScript,
		[]string{holdKey(holdID), expiryIndexKey, s.stream},
		holdID, sku, cartID, add.Milliseconds(), s.nowMS(),
	)
	if err != nil {
		return 0, err
	}
	if !reply.OK {
		return 0, apperrors.NotFound("hold", holdID)
	}
	return reply.ExpiresAt, nil
}

// CommitLocal settles a hold after the durable decrement: it decrements
// reserved by the hold's qty and deletes the hold. Returns the consumed qty.
func (s *Store) CommitLocal(ctx context.Context, cartID, sku string) (int, error) {
	holdID := domain.HoldID(cartID, sku)
	reply, err := s.runScript(ctx, commitLocalScript,
		[]string{invKey(sku), holdKey(holdID), s.stream, expiryIndexKey},
		holdID, sku, cartID, s.nowMS(),
	)
	if err != nil {
		return 0, err
	}
	if !reply.OK {
		return 0, apperrors.NotFound("hold", holdID)
	}
	return reply.Qty, nil
}

// Release returns a hold's capacity and deletes the hold. Releasing a
// missing hold is an idempotent no-op reported via Absent=true.
func (s *Store) Release(ctx context.Context, cartID, sku, reason string) (*domain.ReleaseResult, error) {
	holdID := domain.HoldID(cartID, sku)
	reply, err := s.runScript(ctx, releaseScript,
		[]string{invKey(sku), holdKey(holdID), s.stream, expiryIndexKey},
		holdID, sku, cartID, reason, s.nowMS(),
	)
	if err != nil {
		return nil, err
	}
	return &domain.ReleaseResult{ReleasedQty: reply.Qty, Absent: reply.Absent}, nil
}

// GetHold reads a hold without mutating it.
func (s *Store) GetHold(ctx context.Context, cartID, sku string) (*domain.Hold, error) {
	holdID := domain.HoldID(cartID, sku)
	fields, err := s.client.HGetAll(ctx, holdKey(holdID)).Result()
	if err != nil {
		return nil, apperrors.Unavailable(fmt.Errorf("get hold: %w", err))
	}
	if len(fields) == 0 {
		return nil, apperrors.NotFound("hold", holdID)
	}
	return holdFromFields(cartID, sku, fields)
}

func holdFromFields(cartID, sku string, fields map[string]string) (*domain.Hold, error) {
	qty, err := strconv.Atoi(fields["qty"])
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("hold %s: bad qty %q", domain.HoldID(cartID, sku), fields["qty"]))
	}
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	expiresAt, _ := strconv.ParseInt(fields["expires_at"], 10, 64)
	return &domain.Hold{
		CartID:    cartID,
		SKU:       sku,
		Qty:       qty,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Snapshot reads a SKU's counters without scripting. The read is eventually
// consistent with in-flight scripts by at most one script execution.
func (s *Store) Snapshot(ctx context.Context, sku string) (*domain.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, invKey(sku)).Result()
	if err != nil {
		return nil, apperrors.Unavailable(fmt.Errorf("snapshot: %w", err))
	}
	if len(fields) == 0 {
		return nil, apperrors.NotFound("sku", sku)
	}
	total, _ := strconv.Atoi(fields["total"])
	reserved, _ := strconv.Atoi(fields["reserved"])
	return &domain.Snapshot{SKU: sku, Total: total, Reserved: reserved}, nil
}

// Events returns the most recent entries of the lifecycle event stream,
// newest first. Returns an empty slice when event logging is disabled.
func (s *Store) Events(ctx context.Context, limit int) ([]domain.Event, error) {
	if s.stream == "" {
		return []domain.Event{}, nil
	}
	msgs, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, apperrors.Unavailable(fmt.Errorf("read event stream: %w", err))
	}
	events := make([]domain.Event, 0, len(msgs))
	for _, msg := range msgs {
		events = append(events, eventFromValues(msg.Values))
	}
	return events, nil
}

func eventFromValues(values map[string]any) domain.Event {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	qty, _ := strconv.Atoi(str("qty"))
	ts, _ := strconv.ParseInt(str("ts"), 10, 64)
	return domain.Event{
		TS:     ts,
		Kind:   str("kind"),
		SKU:    str("sku"),
		CartID: str("cart_id"),
		Qty:    qty,
		Reason: str("reason"),
	}
}

// ExpiredHolds returns up to limit hold IDs whose expiry deadline has passed,
// in ascending expiry order.
func (s *Store) ExpiredHolds(ctx context.Context, limit int) ([]string, error) {
	now := strconv.FormatInt(s.nowMS(), 10)
	members, err := s.client.ZRangeByScore(ctx, expiryIndexKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    now,
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, apperrors.Unavailable(fmt.Errorf("scan expiry index: %w", err))
	}
	return members, nil
}

// DropExpiryEntry removes a member from the expiry index. Used by the reaper
// when a member cannot be parsed back into a (cart, sku) pair.
func (s *Store) DropExpiryEntry(ctx context.Context, holdID string) error {
	if err := s.client.ZRem(ctx, expiryIndexKey, holdID).Err(); err != nil {
		return apperrors.Unavailable(fmt.Errorf("drop expiry entry: %w", err))
	}
	return nil
}

// SeedTotal writes the mirrored total for a SKU and makes sure the reserved
// field exists. Only the startup bootstrap calls this; engine scripts never
// write total.
func (s *Store) SeedTotal(ctx context.Context, sku string, total int) error {
	key := invKey(sku)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "total", total)
	pipe.HSetNX(ctx, key, "reserved", 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Unavailable(fmt.Errorf("seed total for %s: %w", sku, err))
	}
	return nil
}

// Ping checks counter store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
