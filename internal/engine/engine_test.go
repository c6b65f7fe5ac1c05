package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holdbay/stockhold/internal/domain"
	apperrors "github.com/holdbay/stockhold/pkg/errors"
)

// --- Mock CounterStore ---

type mockCounterStore struct {
	mock.Mock
}

func (m *mockCounterStore) Reserve(ctx context.Context, sku, cartID string, qty int, ttl time.Duration) (*domain.ReserveResult, error) {
	args := m.Called(ctx, sku, cartID, qty, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReserveResult), args.Error(1)
}

func (m *mockCounterStore) Extend(ctx context.Context, cartID, sku string, add time.Duration) (int64, error) {
	args := m.Called(ctx, cartID, sku, add)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockCounterStore) CommitLocal(ctx context.Context, cartID, sku string) (int, error) {
	args := m.Called(ctx, cartID, sku)
	return args.Int(0), args.Error(1)
}

func (m *mockCounterStore) Release(ctx context.Context, cartID, sku, reason string) (*domain.ReleaseResult, error) {
	args := m.Called(ctx, cartID, sku, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReleaseResult), args.Error(1)
}

func (m *mockCounterStore) GetHold(ctx context.Context, cartID, sku string) (*domain.Hold, error) {
	args := m.Called(ctx, cartID, sku)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Hold), args.Error(1)
}

func (m *mockCounterStore) Snapshot(ctx context.Context, sku string) (*domain.Snapshot, error) {
	args := m.Called(ctx, sku)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Snapshot), args.Error(1)
}

func (m *mockCounterStore) Events(ctx context.Context, limit int) ([]domain.Event, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]domain.Event), args.Error(1)
}

// --- Mock DurableStock ---

type mockDurableStock struct {
	mock.Mock
}

func (m *mockDurableStock) DecrementTotal(ctx context.Context, sku string, qty int) (int, error) {
	args := m.Called(ctx, sku, qty)
	return args.Int(0), args.Error(1)
}

// --- helpers ---

const (
	testCartID = "3f2c8f0e-7b1a-4c7d-9a6e-2d4b8c1f5e90"
	testSKU    = "sku-123"
)

func newTestEngine(counter *mockCounterStore, durable *mockDurableStock) *Engine {
	logger := slog.New(slog.DiscardHandler)
	return New(counter, durable, nil, logger, Config{
		DefaultTTL:    10 * time.Minute,
		StrictCartIDs: true,
	})
}

func sampleHold() *domain.Hold {
	return &domain.Hold{
		CartID:    testCartID,
		SKU:       testSKU,
		Qty:       2,
		CreatedAt: 1700000000000,
		ExpiresAt: 1700000600000,
	}
}

// --- Reserve ---

func TestReserve_Success(t *testing.T) {
	counter := new(mockCounterStore)
	durable := new(mockDurableStock)
	eng := newTestEngine(counter, durable)

	want := &domain.ReserveResult{
		HoldID:         domain.HoldID(testCartID, testSKU),
		ExpiresAt:      1700000600000,
		AvailableAfter: 8,
	}
	counter.On("Reserve", mock.Anything, testSKU, testCartID, 2, 10*time.Minute).
		Return(want, nil)

	got, err := eng.Reserve(context.Background(), testSKU, testCartID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	counter.AssertExpectations(t)
}

func TestReserve_ExplicitTTL(t *testing.T) {
	counter := new(mockCounterStore)
	eng := newTestEngine(counter, new(mockDurableStock))

	counter.On("Reserve", mock.Anything, testSKU, testCartID, 1, 30*time.Second).
		Return(&domain.ReserveResult{}, nil)

	_, err := eng.Reserve(context.Background(), testSKU, testCartID, 1, 30*time.Second)
	require.NoError(t, err)
	counter.AssertExpectations(t)
}

func TestReserve_Insufficient(t *testing.T) {
	counter := new(mockCounterStore)
	eng := newTestEngine(counter, new(mockDurableStock))

	counter.On("Reserve", mock.Anything, testSKU, testCartID, 50, mock.Anything).
		Return(nil, apperrors.Insufficient(testSKU, 50, 3))

	_, err := eng.Reserve(context.Background(), testSKU, testCartID, 50, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficient)
}

func TestReserve_Validation(t *testing.T) {
	eng := newTestEngine(new(mockCounterStore), new(mockDurableStock))
	ctx := context.Background()

	tests := []struct {
		name   string
		sku    string
		cartID string
		qty    int
	}{
		{"empty sku", "", testCartID, 1},
		{"empty cart", testSKU, "", 1},
		{"cart with colon", testSKU, "cart:1", 1},
		{"non-uuid cart under strict validation", testSKU, "cart-1", 1},
		{"zero qty", testSKU, testCartID, 0},
		{"negative qty", testSKU, testCartID, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Reserve(ctx, tt.sku, tt.cartID, tt.qty, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestReserve_LooseCartIDs(t *testing.T) {
	counter := new(mockCounterStore)
	eng := New(counter, new(mockDurableStock), nil, slog.New(slog.DiscardHandler), Config{
		DefaultTTL: time.Minute,
	})

	counter.On("Reserve", mock.Anything, testSKU, "cart-1", 1, time.Minute).
		Return(&domain.ReserveResult{}, nil)

	_, err := eng.Reserve(context.Background(), testSKU, "cart-1", 1, 0)
	require.NoError(t, err)
}

// --- Extend ---

func TestExtend_Success(t *testing.T) {
	counter := new(mockCounterStore)
	eng := newTestEngine(counter, new(mockDurableStock))

	counter.On("Extend", mock.Anything, testCartID, testSKU, 2*time.Minute).
		Return(int64(1700000720000), nil)

	exp, err := eng.Extend(context.Background(), testCartID, testSKU, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000720000), exp)
}

func TestExtend_NonPositiveAdd(t *testing.T) {
	eng := newTestEngine(new(mockCounterStore), new(mockDurableStock))

	_, err := eng.Extend(context.Background(), testCartID, testSKU, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestExtend_MissingHold(t *testing.T) {
	counter := new(mockCounterStore)
	eng := newTestEngine(counter, new(mockDurableStock))

	counter.On("Extend", mock.Anything, testCartID, testSKU, time.Minute).
		Return(int64(0), apperrors.NotFound("hold", domain.HoldID(testCartID, testSKU)))

	_, err := eng.Extend(context.Background(), testCartID, testSKU, time.Minute)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// --- Commit protocol ---

func TestCommit_Success(t *testing.T) {
	counter := new(mockCounterStore)
	durable := new(mockDurableStock)
	eng := newTestEngine(counter, durable)

	counter.On("GetHold", mock.Anything, testCartID, testSKU).Return(sampleHold(), nil)
	durable.On("DecrementTotal", mock.Anything, testSKU, 2).Return(8, nil)
	counter.On("CommitLocal", mock.Anything, testCartID, testSKU).Return(2, nil)

	res, err := eng.Commit(context.Background(), testCartID, testSKU)
	require.NoError(t, err)
	assert.Equal(t, &domain.CommitResult{ConsumedQty: 2, NewTotal: 8}, res)
	counter.AssertExpectations(t)
	durable.AssertExpectations(t)
}

func TestCommit_MissingHold(t *testing.T) {
	counter := new(mockCounterStore)
	durable := new(mockDurableStock)
	eng := newTestEngine(counter, durable)

	counter.On("GetHold", mock.Anything, testCartID, testSKU).
		Return(nil, apperrors.NotFound("hold", domain.HoldID(testCartID, testSKU)))

	_, err := eng.Commit(context.Background(), testCartID, testSKU)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	durable.AssertNotCalled(t, "DecrementTotal", mock.Anything, mock.Anything, mock.Anything)
}

func TestCommit_DurableConflict_Compensates(t *testing.T) {
	counter := new(mockCounterStore)
	durable := new(mockDurableStock)
	eng := newTestEngine(counter, durable)

	counter.On("GetHold", mock.Anything, testCartID, testSKU).Return(sampleHold(), nil)
	durable.On("DecrementTotal", mock.Anything, testSKU, 2).
		Return(0, apperrors.Conflict("durable stock cannot cover qty"))
	counter.On("Release", mock.Anything, testCartID, testSKU, domain.ReleaseReasonManual).
		Return(&domain.ReleaseResult{ReleasedQty: 2}, nil)

	_, err := eng.Commit(context.Background(), testCartID, testSKU)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	counter.AssertExpectations(t)
}

func TestCommit_DurableIOError_NoCompensation(t *testing.T) {
	counter := new(mockCounterStore)
	durable := new(mockDurableStock)
	eng := newTestEngine(counter, durable)

	// The hold must survive so the client can retry the commit.
	counter.On("GetHold", mock.Anything, testCartID, testSKU).Return(sampleHold(), nil)
	durable.On("DecrementTotal", mock.Anything, testSKU, 2).
		Return(0, apperrors.Unavailable(assert.AnError))

	_, err := eng.Commit(context.Background(), testCartID, testSKU)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	counter.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	counter.AssertNotCalled(t, "CommitLocal", mock.Anything, mock.Anything, mock.Anything)
}

func TestCommit_HoldReapedDuringSettle_StillSucceeds(t *testing.T) {
	counter := new(mockCounterStore)
	durable := new(mockDurableStock)
	eng := newTestEngine(counter, durable)

	counter.On("GetHold", mock.Anything, testCartID, testSKU).Return(sampleHold(), nil)
	durable.On("DecrementTotal", mock.Anything, testSKU, 2).Return(8, nil)
	counter.On("CommitLocal", mock.Anything, testCartID, testSKU).
		Return(0, apperrors.NotFound("hold", domain.HoldID(testCartID, testSKU)))

	res, err := eng.Commit(context.Background(), testCartID, testSKU)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ConsumedQty)
	assert.Equal(t, 8, res.NewTotal)
}

func TestCommit_SettleRetriesThenSucceeds(t *testing.T) {
	counter := new(mockCounterStore)
	durable := new(mockDurableStock)
	eng := newTestEngine(counter, durable)

	counter.On("GetHold", mock.Anything, testCartID, testSKU).Return(sampleHold(), nil)
	durable.On("DecrementTotal", mock.Anything, testSKU, 2).Return(8, nil)
	counter.On("CommitLocal", mock.Anything, testCartID, testSKU).
		Return(0, apperrors.Unavailable(assert.AnError)).Once()
	counter.On("CommitLocal", mock.Anything, testCartID, testSKU).
		Return(2, nil).Once()

	res, err := eng.Commit(context.Background(), testCartID, testSKU)
	require.NoError(t, err)
	assert.Equal(t, 8, res.NewTotal)
	counter.AssertExpectations(t)
}

func TestCommit_SettleExhausted_StillSucceeds(t *testing.T) {
	counter := new(mockCounterStore)
	durable := new(mockDurableStock)
	eng := newTestEngine(counter, durable)

	counter.On("GetHold", mock.Anything, testCartID, testSKU).Return(sampleHold(), nil)
	durable.On("DecrementTotal", mock.Anything, testSKU, 2).Return(8, nil)
	counter.On("CommitLocal", mock.Anything, testCartID, testSKU).
		Return(0, apperrors.Unavailable(assert.AnError)).Times(commitLocalAttempts)

	// The durable decrement already happened, so the commit reports success
	// even though the local settle kept failing.
	res, err := eng.Commit(context.Background(), testCartID, testSKU)
	require.NoError(t, err)
	assert.Equal(t, &domain.CommitResult{ConsumedQty: 2, NewTotal: 8}, res)
	counter.AssertExpectations(t)
}

// --- Release ---

func TestRelease_Success(t *testing.T) {
	counter := new(mockCounterStore)
	eng := newTestEngine(counter, new(mockDurableStock))

	counter.On("Release", mock.Anything, testCartID, testSKU, domain.ReleaseReasonManual).
		Return(&domain.ReleaseResult{ReleasedQty: 2}, nil)

	res, err := eng.Release(context.Background(), testCartID, testSKU)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ReleasedQty)
	assert.False(t, res.Absent)
}

func TestRelease_AbsentHold_Idempotent(t *testing.T) {
	counter := new(mockCounterStore)
	eng := newTestEngine(counter, new(mockDurableStock))

	counter.On("Release", mock.Anything, testCartID, testSKU, domain.ReleaseReasonManual).
		Return(&domain.ReleaseResult{Absent: true}, nil)

	res, err := eng.Release(context.Background(), testCartID, testSKU)
	require.NoError(t, err)
	assert.True(t, res.Absent)
	assert.Zero(t, res.ReleasedQty)
}

// --- Snapshot / Events ---

func TestSnapshot(t *testing.T) {
	counter := new(mockCounterStore)
	eng := newTestEngine(counter, new(mockDurableStock))

	counter.On("Snapshot", mock.Anything, testSKU).
		Return(&domain.Snapshot{SKU: testSKU, Total: 10, Reserved: 3}, nil)

	snap, err := eng.Snapshot(context.Background(), testSKU)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Available())
}

func TestSnapshot_UnknownSKU(t *testing.T) {
	counter := new(mockCounterStore)
	eng := newTestEngine(counter, new(mockDurableStock))

	counter.On("Snapshot", mock.Anything, "sku-missing").
		Return(nil, apperrors.NotFound("sku", "sku-missing"))

	_, err := eng.Snapshot(context.Background(), "sku-missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEvents_LimitHandling(t *testing.T) {
	counter := new(mockCounterStore)
	eng := newTestEngine(counter, new(mockDurableStock))
	ctx := context.Background()

	counter.On("Events", mock.Anything, defaultEventsLimit).Return([]domain.Event{}, nil).Once()
	_, err := eng.Events(ctx, 0)
	require.NoError(t, err)

	counter.On("Events", mock.Anything, maxEventsLimit).Return([]domain.Event{}, nil).Once()
	_, err = eng.Events(ctx, 5000)
	require.NoError(t, err)

	_, err = eng.Events(ctx, -1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	counter.AssertExpectations(t)
}
