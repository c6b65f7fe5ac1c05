package durable

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/holdbay/stockhold/pkg/database"
	apperrors "github.com/holdbay/stockhold/pkg/errors"
)

// Store is the durable stock store. PostgreSQL owns the authoritative total
// per SKU; the counter store only mirrors it. All writes go through the
// conditional decrement so total can never go negative.
type Store struct {
	pool database.DBTX
}

// NewStore creates a PostgreSQL-backed durable stock store.
func NewStore(pool database.DBTX) *Store {
	return &Store{pool: pool}
}

// SKUTotal is one row of the authoritative stock table.
type SKUTotal struct {
	SKU   string
	Total int
}

// DecrementTotal atomically decrements a SKU's total by qty, guarded so the
// row is only touched when enough stock remains. Zero affected rows means the
// guard failed (or the SKU does not exist) and is reported as a conflict; the
// caller decides whether to compensate. Returns the new total on success.
func (s *Store) DecrementTotal(ctx context.Context, sku string, qty int) (int, error) {
	query := `
		UPDATE inventory
		SET total = total - $1, updated_at = now()
		WHERE sku_id = $2 AND total >= $1
		RETURNING total`

	ctx, end := database.TraceQuery(ctx, "DecrementTotal", query)
	var newTotal int
	err := s.pool.QueryRow(ctx, query, qty, sku).Scan(&newTotal)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.Conflict(
				fmt.Sprintf("durable stock for %s cannot cover qty %d", sku, qty),
			)
		}
		return 0, apperrors.Unavailable(fmt.Errorf("decrement total for %s: %w", sku, err))
	}

	return newTotal, nil
}

// GetTotal reads the authoritative total for one SKU.
func (s *Store) GetTotal(ctx context.Context, sku string) (int, error) {
	query := `SELECT total FROM inventory WHERE sku_id = $1`

	ctx, end := database.TraceQuery(ctx, "GetTotal", query)
	var total int
	err := s.pool.QueryRow(ctx, query, sku).Scan(&total)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.NotFound("sku", sku)
		}
		return 0, apperrors.Unavailable(fmt.Errorf("get total for %s: %w", sku, err))
	}

	return total, nil
}

// ListTotals returns every SKU with its authoritative total. The mirror
// bootstrap uses this to seed the counter store on startup.
func (s *Store) ListTotals(ctx context.Context) ([]SKUTotal, error) {
	query := `SELECT sku_id, total FROM inventory ORDER BY sku_id`

	ctx, end := database.TraceQuery(ctx, "ListTotals", query)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		end(err)
		return nil, apperrors.Unavailable(fmt.Errorf("list totals: %w", err))
	}
	defer rows.Close()

	var totals []SKUTotal
	for rows.Next() {
		var t SKUTotal
		if err := rows.Scan(&t.SKU, &t.Total); err != nil {
			end(err)
			return nil, apperrors.Unavailable(fmt.Errorf("scan total row: %w", err))
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		end(err)
		return nil, apperrors.Unavailable(fmt.Errorf("list totals: %w", err))
	}
	end(nil)

	return totals, nil
}

// Ping checks durable store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
