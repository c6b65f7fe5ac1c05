package replica

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holdbay/stockhold/internal/durable"
)

// TotalLister reads authoritative totals from the durable store.
type TotalLister interface {
	ListTotals(ctx context.Context) ([]durable.SKUTotal, error)
}

// TotalSeeder writes mirrored totals into the counter store.
type TotalSeeder interface {
	SeedTotal(ctx context.Context, sku string, total int) error
}

// Bootstrap copies authoritative totals from the durable store into the
// counter store mirror on startup. It is a stand-in for a change-data-capture
// pipeline in environments that do not run one, and it is the only writer of
// the mirrored total; the engine's scripts never touch it.
type Bootstrap struct {
	source TotalLister
	target TotalSeeder
	logger *slog.Logger
}

// New creates a mirror bootstrap.
func New(source TotalLister, target TotalSeeder, logger *slog.Logger) *Bootstrap {
	return &Bootstrap{
		source: source,
		target: target,
		logger: logger,
	}
}

// Run seeds the mirror and returns how many SKUs it wrote. Any failure aborts
// the bootstrap; starting with a partial mirror only understates availability,
// but the operator should know seeding did not finish.
func (b *Bootstrap) Run(ctx context.Context) (int, error) {
	totals, err := b.source.ListTotals(ctx)
	if err != nil {
		return 0, fmt.Errorf("list durable totals: %w", err)
	}

	for i, t := range totals {
		if err := b.target.SeedTotal(ctx, t.SKU, t.Total); err != nil {
			return i, fmt.Errorf("seed total for %s: %w", t.SKU, err)
		}
	}

	b.logger.InfoContext(ctx, "seeded counter store mirror",
		slog.Int("skus", len(totals)),
	)

	return len(totals), nil
}
