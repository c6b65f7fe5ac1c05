package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/holdbay/stockhold/internal/domain"
	apperrors "github.com/holdbay/stockhold/pkg/errors"
)

// CounterStore is the atomic counter store the engine reserves against.
type CounterStore interface {
	Reserve(ctx context.Context, sku, cartID string, qty int, ttl time.Duration) (*domain.ReserveResult, error)
	Extend(ctx context.Context, cartID, sku string, add time.Duration) (int64, error)
	CommitLocal(ctx context.Context, cartID, sku string) (int, error)
	Release(ctx context.Context, cartID, sku, reason string) (*domain.ReleaseResult, error)
	GetHold(ctx context.Context, cartID, sku string) (*domain.Hold, error)
	Snapshot(ctx context.Context, sku string) (*domain.Snapshot, error)
	Events(ctx context.Context, limit int) ([]domain.Event, error)
}

// DurableStock is the durable store owning the authoritative total.
type DurableStock interface {
	DecrementTotal(ctx context.Context, sku string, qty int) (int, error)
}

// LifecyclePublisher publishes hold lifecycle events. Publishing is
// best-effort; the engine logs failures and never fails an operation on them.
type LifecyclePublisher interface {
	PublishHoldCreated(ctx context.Context, sku, cartID string, qty int, res *domain.ReserveResult) error
	PublishHoldExtended(ctx context.Context, sku, cartID string, expiresAt int64) error
	PublishHoldCommitted(ctx context.Context, sku, cartID string, res *domain.CommitResult) error
	PublishHoldReleased(ctx context.Context, sku, cartID string, qty int, reason string) error
}

// Config holds engine tunables.
type Config struct {
	// DefaultTTL applies to reservations that do not name a TTL.
	DefaultTTL time.Duration
	// StrictCartIDs requires cart IDs to be UUIDs.
	StrictCartIDs bool
}

const (
	// commitLocalAttempts bounds the local settle retries after a successful
	// durable decrement.
	commitLocalAttempts = 3
	commitLocalBackoff  = 50 * time.Millisecond

	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// Engine coordinates the counter store and the durable store. The counter
// store answers every availability question; the durable store is only
// touched on commit, and always before the local settle so stock is never
// sold durably without being decremented durably first.
type Engine struct {
	counter   CounterStore
	durable   DurableStock
	publisher LifecyclePublisher
	logger    *slog.Logger
	cfg       Config
}

// New creates a reservation engine. publisher may be nil to disable
// lifecycle events.
func New(counter CounterStore, durable DurableStock, publisher LifecyclePublisher, logger *slog.Logger, cfg Config) *Engine {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	return &Engine{
		counter:   counter,
		durable:   durable,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
	}
}

// Reserve places a TTL-bounded hold on qty units of sku for cartID. A zero
// ttl uses the configured default. Replaying an identical reservation
// refreshes the lease instead of double-counting.
func (e *Engine) Reserve(ctx context.Context, sku, cartID string, qty int, ttl time.Duration) (*domain.ReserveResult, error) {
	if err := e.validateIDs(sku, cartID); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, apperrors.InvalidInput("qty must be positive")
	}
	if ttl < 0 {
		return nil, apperrors.InvalidInput("ttl must not be negative")
	}
	if ttl == 0 {
		ttl = e.cfg.DefaultTTL
	}

	res, err := e.counter.Reserve(ctx, sku, cartID, qty, ttl)
	if err != nil {
		return nil, err
	}

	if !res.Idempotent {
		e.publishHoldCreated(ctx, sku, cartID, qty, res)
	}

	return res, nil
}

// Extend pushes a hold's expiry forward by add. The new deadline is based at
// max(current expiry, now) so extending never shortens a lease.
func (e *Engine) Extend(ctx context.Context, cartID, sku string, add time.Duration) (int64, error) {
	if err := e.validateIDs(sku, cartID); err != nil {
		return 0, err
	}
	if add <= 0 {
		return 0, apperrors.InvalidInput("add must be positive")
	}

	expiresAt, err := e.counter.Extend(ctx, cartID, sku, add)
	if err != nil {
		return 0, err
	}

	e.publishHoldExtended(ctx, sku, cartID, expiresAt)

	return expiresAt, nil
}

// Commit converts a hold into a durable sale. The protocol is durable-first:
//
//  1. Read the hold. A missing hold is not found (expired or never placed).
//  2. Conditionally decrement the durable total. A guard failure means the
//     hold promised stock the durable store no longer has; the hold is
//     released as compensation and the commit reports a conflict. A durable
//     I/O failure returns unavailable with NO compensation, so the client can
//     retry the commit while the hold still protects the stock.
//  3. Settle locally (decrement reserved, delete the hold), retrying a few
//     times. If the hold vanished in between it was reaped, and the reaper's
//     release already returned the capacity, so the commit still succeeded.
//     If retries run out, the durable sale stands; the hold's own expiry
//     bounds the overstatement, and the divergence counter fires for
//     operators.
func (e *Engine) Commit(ctx context.Context, cartID, sku string) (*domain.CommitResult, error) {
	if err := e.validateIDs(sku, cartID); err != nil {
		return nil, err
	}

	hold, err := e.counter.GetHold(ctx, cartID, sku)
	if err != nil {
		return nil, err
	}

	newTotal, err := e.durable.DecrementTotal(ctx, sku, hold.Qty)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			e.compensateRelease(ctx, cartID, sku)
			return nil, apperrors.Conflict(
				fmt.Sprintf("durable stock for %s changed under hold %s", sku, hold.ID()),
			)
		}
		return nil, err
	}

	result := &domain.CommitResult{ConsumedQty: hold.Qty, NewTotal: newTotal}

	if err := e.settleLocal(ctx, cartID, sku); err != nil {
		CommitDivergence.Inc()
		e.logger.ErrorContext(ctx, "commit settled durably but not locally",
			slog.String("hold_id", hold.ID()),
			slog.Int("qty", hold.Qty),
			slog.String("error", err.Error()),
		)
	}

	e.publishHoldCommitted(ctx, sku, cartID, result)

	return result, nil
}

// settleLocal runs the local commit step with bounded retries. A missing hold
// is success: the reaper got there first and already returned the capacity.
func (e *Engine) settleLocal(ctx context.Context, cartID, sku string) error {
	var lastErr error
	for attempt := 1; attempt <= commitLocalAttempts; attempt++ {
		_, err := e.counter.CommitLocal(ctx, cartID, sku)
		if err == nil || errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		lastErr = err

		if attempt < commitLocalAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * commitLocalBackoff):
			}
		}
	}
	return lastErr
}

// compensateRelease returns a hold's capacity after the durable decrement was
// refused. A failed compensation is only logged; the hold's TTL guarantees
// the capacity comes back eventually.
func (e *Engine) compensateRelease(ctx context.Context, cartID, sku string) {
	if _, err := e.counter.Release(ctx, cartID, sku, domain.ReleaseReasonManual); err != nil {
		e.logger.WarnContext(ctx, "compensating release failed, hold will expire on its own",
			slog.String("hold_id", domain.HoldID(cartID, sku)),
			slog.String("error", err.Error()),
		)
	}
}

// Release cancels a hold and returns its capacity. Releasing a hold that no
// longer exists is an idempotent no-op.
func (e *Engine) Release(ctx context.Context, cartID, sku string) (*domain.ReleaseResult, error) {
	if err := e.validateIDs(sku, cartID); err != nil {
		return nil, err
	}

	res, err := e.counter.Release(ctx, cartID, sku, domain.ReleaseReasonManual)
	if err != nil {
		return nil, err
	}

	if !res.Absent {
		e.publishHoldReleased(ctx, sku, cartID, res.ReleasedQty, domain.ReleaseReasonManual)
	}

	return res, nil
}

// Snapshot returns a SKU's mirrored total, reserved, and derived availability.
func (e *Engine) Snapshot(ctx context.Context, sku string) (*domain.Snapshot, error) {
	if strings.TrimSpace(sku) == "" {
		return nil, apperrors.InvalidInput("sku must not be empty")
	}
	return e.counter.Snapshot(ctx, sku)
}

// Events returns the most recent lifecycle events, newest first. A zero limit
// uses the default; the limit is capped.
func (e *Engine) Events(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit < 0 {
		return nil, apperrors.InvalidInput("limit must not be negative")
	}
	if limit == 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	return e.counter.Events(ctx, limit)
}

func (e *Engine) validateIDs(sku, cartID string) error {
	if strings.TrimSpace(sku) == "" {
		return apperrors.InvalidInput("sku must not be empty")
	}
	if strings.TrimSpace(cartID) == "" {
		return apperrors.InvalidInput("cart_id must not be empty")
	}
	// The hold ID embeds the cart ID before the first ':'.
	if strings.Contains(cartID, ":") {
		return apperrors.InvalidInput("cart_id must not contain ':'")
	}
	if e.cfg.StrictCartIDs {
		if _, err := uuid.Parse(cartID); err != nil {
			return apperrors.InvalidInput("cart_id must be a valid UUID")
		}
	}
	return nil
}

func (e *Engine) publishHoldCreated(ctx context.Context, sku, cartID string, qty int, res *domain.ReserveResult) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishHoldCreated(ctx, sku, cartID, qty, res); err != nil {
		e.logPublishFailure(ctx, "hold_created", sku, cartID, err)
	}
}

func (e *Engine) publishHoldExtended(ctx context.Context, sku, cartID string, expiresAt int64) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishHoldExtended(ctx, sku, cartID, expiresAt); err != nil {
		e.logPublishFailure(ctx, "hold_extended", sku, cartID, err)
	}
}

func (e *Engine) publishHoldCommitted(ctx context.Context, sku, cartID string, res *domain.CommitResult) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishHoldCommitted(ctx, sku, cartID, res); err != nil {
		e.logPublishFailure(ctx, "hold_committed", sku, cartID, err)
	}
}

func (e *Engine) publishHoldReleased(ctx context.Context, sku, cartID string, qty int, reason string) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishHoldReleased(ctx, sku, cartID, qty, reason); err != nil {
		e.logPublishFailure(ctx, "hold_released", sku, cartID, err)
	}
}

func (e *Engine) logPublishFailure(ctx context.Context, kind, sku, cartID string, err error) {
	e.logger.WarnContext(ctx, "failed to publish lifecycle event",
		slog.String("kind", kind),
		slog.String("sku", sku),
		slog.String("cart_id", cartID),
		slog.String("error", err.Error()),
	)
}
