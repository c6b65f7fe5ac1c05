package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/holdbay/stockhold/internal/domain"
)

// SweepStore is the slice of the counter store the reaper needs.
type SweepStore interface {
	ExpiredHolds(ctx context.Context, limit int) ([]string, error)
	Release(ctx context.Context, cartID, sku, reason string) (*domain.ReleaseResult, error)
	DropExpiryEntry(ctx context.Context, holdID string) error
}

// Config holds reaper tunables.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// Batch caps how many expired holds one sweep releases.
	Batch int
}

// Reaper periodically releases holds whose expiry deadline has passed. It
// reuses the release path, so a hold the engine settles between the index
// scan and the release is simply absent and skipped.
type Reaper struct {
	store  SweepStore
	logger *slog.Logger
	cfg    Config
}

// New creates a reaper.
func New(store SweepStore, logger *slog.Logger, cfg Config) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 128
	}
	return &Reaper{
		store:  store,
		logger: logger,
		cfg:    cfg,
	}
}

// Run sweeps until ctx is canceled. Sweep failures are counted and logged
// but never stop the loop.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "reaper started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Int("batch", r.cfg.Batch),
	)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "reaper stopped")
			return nil
		case <-ticker.C:
			released, err := r.SweepOnce(ctx)
			if err != nil {
				SweepErrors.Inc()
				r.logger.ErrorContext(ctx, "sweep failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if released > 0 {
				r.logger.InfoContext(ctx, "released expired holds",
					slog.Int("count", released),
				)
			}
		}
	}
}

// SweepOnce releases up to one batch of expired holds in expiry order and
// returns how many it released. A store error aborts the sweep; the next
// tick picks up where this one stopped.
func (r *Reaper) SweepOnce(ctx context.Context) (int, error) {
	members, err := r.store.ExpiredHolds(ctx, r.cfg.Batch)
	if err != nil {
		return 0, fmt.Errorf("scan expired holds: %w", err)
	}

	released := 0
	for _, member := range members {
		cartID, sku, err := domain.ParseHoldID(member)
		if err != nil {
			// A member that cannot be parsed will never release; drop it so
			// the index does not wedge on it forever.
			r.logger.WarnContext(ctx, "dropping malformed expiry index member",
				slog.String("member", member),
			)
			if err := r.store.DropExpiryEntry(ctx, member); err != nil {
				return released, fmt.Errorf("drop malformed member %q: %w", member, err)
			}
			continue
		}

		res, err := r.store.Release(ctx, cartID, sku, domain.ReleaseReasonExpired)
		if err != nil {
			return released, fmt.Errorf("release expired hold %s: %w", member, err)
		}
		if !res.Absent {
			released++
			HoldsReleased.Inc()
		}
	}

	return released, nil
}
