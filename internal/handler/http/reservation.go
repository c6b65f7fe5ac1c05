package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/holdbay/stockhold/internal/domain"
	"github.com/holdbay/stockhold/pkg/httputil"
	"github.com/holdbay/stockhold/pkg/validator"
)

// ReservationEngine is the slice of the engine the HTTP layer calls.
type ReservationEngine interface {
	Reserve(ctx context.Context, sku, cartID string, qty int, ttl time.Duration) (*domain.ReserveResult, error)
	Extend(ctx context.Context, cartID, sku string, add time.Duration) (int64, error)
	Commit(ctx context.Context, cartID, sku string) (*domain.CommitResult, error)
	Release(ctx context.Context, cartID, sku string) (*domain.ReleaseResult, error)
	Snapshot(ctx context.Context, sku string) (*domain.Snapshot, error)
	Events(ctx context.Context, limit int) ([]domain.Event, error)
}

// ReservationHandler handles HTTP requests for reservation endpoints.
type ReservationHandler struct {
	engine ReservationEngine
	logger *slog.Logger
}

// NewReservationHandler creates a new reservation HTTP handler.
func NewReservationHandler(engine ReservationEngine, logger *slog.Logger) *ReservationHandler {
	return &ReservationHandler{
		engine: engine,
		logger: logger,
	}
}

// --- Request DTOs ---

// ReserveRequest is the JSON request body for placing a hold.
type ReserveRequest struct {
	SKU        string `json:"sku" validate:"required"`
	Qty        int    `json:"qty" validate:"required,gte=1"`
	CartID     string `json:"cart_id" validate:"required"`
	TTLSeconds int    `json:"ttl_seconds" validate:"omitempty,gte=1"`
}

// ExtendRequest is the JSON request body for extending a hold.
type ExtendRequest struct {
	CartID     string `json:"cart_id" validate:"required"`
	SKU        string `json:"sku" validate:"required"`
	AddSeconds int    `json:"add_seconds" validate:"required,gte=1"`
}

// CommitRequest is the JSON request body for committing a hold.
type CommitRequest struct {
	CartID string `json:"cart_id" validate:"required"`
	SKU    string `json:"sku" validate:"required"`
}

// ReleaseRequest is the JSON request body for releasing a hold.
type ReleaseRequest struct {
	CartID string `json:"cart_id" validate:"required"`
	SKU    string `json:"sku" validate:"required"`
}

// SnapshotResponse is the JSON response body for a SKU snapshot.
type SnapshotResponse struct {
	SKU       string `json:"sku"`
	Total     int    `json:"total"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

// decodeBody decodes and validates a JSON request body, writing the error
// response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return false
	}

	if err := validator.Validate(dst); err != nil {
		httputil.WriteValidationError(w, err)
		return false
	}

	return true
}

// --- Handlers ---

// Reserve handles POST /api/v1/reservations
func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	result, err := h.engine.Reserve(r.Context(), req.SKU, req.CartID, req.Qty, ttl)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, httputil.Response{Data: result})
}

// Extend handles POST /api/v1/reservations/extend
func (h *ReservationHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	add := time.Duration(req.AddSeconds) * time.Second
	expiresAt, err := h.engine.Extend(r.Context(), req.CartID, req.SKU, add)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"hold_id":        domain.HoldID(req.CartID, req.SKU),
		"new_expires_at": expiresAt,
	}})
}

// Commit handles POST /api/v1/reservations/commit
func (h *ReservationHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.Commit(r.Context(), req.CartID, req.SKU)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// Release handles POST /api/v1/reservations/release
func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.engine.Release(r.Context(), req.CartID, req.SKU)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// Snapshot handles GET /api/v1/inventory/{sku}
func (h *ReservationHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")

	snap, err := h.engine.Snapshot(r.Context(), sku)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: SnapshotResponse{
		SKU:       snap.SKU,
		Total:     snap.Total,
		Reserved:  snap.Reserved,
		Available: snap.Available(),
	}})
}

// Events handles GET /api/v1/events
func (h *ReservationHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "limit must be an integer"},
			})
			return
		}
		limit = parsed
	}

	events, err := h.engine.Events(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: events})
}
