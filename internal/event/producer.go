package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holdbay/stockhold/internal/domain"
	pkgkafka "github.com/holdbay/stockhold/pkg/kafka"
)

// Kafka topics for hold lifecycle events.
var (
	TopicHoldCreated   = pkgkafka.Topic("inventory", "hold_created")
	TopicHoldExtended  = pkgkafka.Topic("inventory", "hold_extended")
	TopicHoldCommitted = pkgkafka.Topic("inventory", "hold_committed")
	TopicHoldReleased  = pkgkafka.Topic("inventory", "hold_released")
)

// Aggregate type constant.
const AggregateTypeInventory = "inventory"

// Source identifier for events originating from this service.
const SourceStockhold = "stockhold"

// HoldCreatedData is the payload for an inventory.hold_created event.
type HoldCreatedData struct {
	HoldID    string `json:"hold_id"`
	SKU       string `json:"sku"`
	CartID    string `json:"cart_id"`
	Qty       int    `json:"qty"`
	ExpiresAt int64  `json:"expires_at"`
}

// HoldExtendedData is the payload for an inventory.hold_extended event.
type HoldExtendedData struct {
	HoldID    string `json:"hold_id"`
	SKU       string `json:"sku"`
	CartID    string `json:"cart_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// HoldCommittedData is the payload for an inventory.hold_committed event.
type HoldCommittedData struct {
	HoldID   string `json:"hold_id"`
	SKU      string `json:"sku"`
	CartID   string `json:"cart_id"`
	Qty      int    `json:"qty"`
	NewTotal int    `json:"new_total"`
}

// HoldReleasedData is the payload for an inventory.hold_released event.
type HoldReleasedData struct {
	HoldID string `json:"hold_id"`
	SKU    string `json:"sku"`
	CartID string `json:"cart_id"`
	Qty    int    `json:"qty"`
	Reason string `json:"reason"`
}

// Producer publishes hold lifecycle events to Kafka. Publishing is
// best-effort; callers log failures and never fail the triggering operation.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new lifecycle event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishHoldCreated publishes an inventory.hold_created event.
func (p *Producer) PublishHoldCreated(ctx context.Context, sku, cartID string, qty int, res *domain.ReserveResult) error {
	data := HoldCreatedData{
		HoldID:    res.HoldID,
		SKU:       sku,
		CartID:    cartID,
		Qty:       qty,
		ExpiresAt: res.ExpiresAt,
	}
	return p.publish(ctx, TopicHoldCreated, sku, data)
}

// PublishHoldExtended publishes an inventory.hold_extended event.
func (p *Producer) PublishHoldExtended(ctx context.Context, sku, cartID string, expiresAt int64) error {
	data := HoldExtendedData{
		HoldID:    domain.HoldID(cartID, sku),
		SKU:       sku,
		CartID:    cartID,
		ExpiresAt: expiresAt,
	}
	return p.publish(ctx, TopicHoldExtended, sku, data)
}

// PublishHoldCommitted publishes an inventory.hold_committed event.
func (p *Producer) PublishHoldCommitted(ctx context.Context, sku, cartID string, res *domain.CommitResult) error {
	data := HoldCommittedData{
		HoldID:   domain.HoldID(cartID, sku),
		SKU:      sku,
		CartID:   cartID,
		Qty:      res.ConsumedQty,
		NewTotal: res.NewTotal,
	}
	return p.publish(ctx, TopicHoldCommitted, sku, data)
}

// PublishHoldReleased publishes an inventory.hold_released event.
func (p *Producer) PublishHoldReleased(ctx context.Context, sku, cartID string, qty int, reason string) error {
	data := HoldReleasedData{
		HoldID: domain.HoldID(cartID, sku),
		SKU:    sku,
		CartID: cartID,
		Qty:    qty,
		Reason: reason,
	}
	return p.publish(ctx, TopicHoldReleased, sku, data)
}

func (p *Producer) publish(ctx context.Context, topic, sku string, data any) error {
	event, err := pkgkafka.NewEvent(topic, sku, AggregateTypeInventory, SourceStockhold, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published lifecycle event",
		slog.String("topic", topic),
		slog.String("sku", sku),
	)

	return nil
}
