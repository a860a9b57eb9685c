package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goarcana.io/inventory/fault"
	"goarcana.io/inventory/models"
	"goarcana.io/inventory/models/enum"
)

const (
	subjectStockAdjusted = "inventory.stock.adjusted"
	subjectStockLow      = "inventory.stock.low"

	// 運送服務發布的事件
	EventTypeShippingRateSelected   = "shipping.rate.selected"
	EventTypeShippingShipmentPacked = "shipping.shipment.packed"
	EventTypeShippingShipmentSent   = "shipping.shipment.sent"
)

// InboundEvent is the envelope the shipping service publishes on NATS.
type InboundEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// StockAdjustedEvent is emitted after every committed ledger append.
type StockAdjustedEvent struct {
	VariantID    string            `json:"variant_id"`
	SKU          string            `json:"sku,omitempty"`
	ChangeAmount int64             `json:"change_amount"`
	NewQuantity  int64             `json:"new_quantity"`
	Reason       enum.LedgerReason `json:"reason"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// StockLowEvent is emitted when an append leaves a variant at or under
// its product's minimum stock level.
type StockLowEvent struct {
	VariantID     string    `json:"variant_id"`
	SKU           string    `json:"sku,omitempty"`
	Quantity      int64     `json:"quantity"`
	MinStockLevel int64     `json:"min_stock_level"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type EventHandler func(context.Context, *InboundEvent) error

type EventManager struct {
	natsConn *nats.Conn
	handlers map[string]EventHandler
	logger   *zap.Logger
}

func NewEventManager(natsConn *nats.Conn, logger *zap.Logger) *EventManager {
	return &EventManager{
		natsConn: natsConn,
		handlers: make(map[string]EventHandler),
		logger:   logger,
	}
}

func (em *EventManager) RegisterHandler(eventType string, handler EventHandler) {
	em.handlers[eventType] = handler
}

func (em *EventManager) GetHandler(eventType string) (EventHandler, bool) {
	handler, exists := em.handlers[eventType]
	return handler, exists
}

func (em *EventManager) SubscribeToEvents(wp *WorkerPool) error {
	if em.natsConn == nil {
		return nil
	}
	_, err := em.natsConn.Subscribe("shipping.service.event.>", func(msg *nats.Msg) {
		var evt InboundEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			em.logger.Error("Failed to unmarshal event", zap.Error(err))
			return
		}

		wp.Submit(context.Background(), &evt)
	})

	return err
}

func (em *EventManager) Publish(subject string, payload any) error {
	if em.natsConn == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return em.natsConn.Publish(subject, data)
}

func (s *service) registerEventHandlers() {
	eventHandlers := map[string]EventHandler{
		EventTypeShippingRateSelected:   s.handleShippingRateSelected,
		EventTypeShippingShipmentPacked: s.handleShipmentPacked,
		EventTypeShippingShipmentSent:   s.handleShipmentSent,
	}

	for eventType, handler := range eventHandlers {
		s.eventManager.RegisterHandler(eventType, handler)
	}
}

// ProcessEvent runs one inbound event through its handler exactly once;
// redeliveries hit the processed-event record and drop out early.
func (s *service) ProcessEvent(ctx context.Context, evt *InboundEvent) error {
	existing, err := s.event.GetByID(ctx, evt.ID)
	if err == nil && existing.Processed {
		s.logger.Debug("event already processed", zap.String("event_id", evt.ID))
		return nil
	}
	if err != nil {
		if !errors.Is(err, fault.ErrNotFound) {
			return err
		}
		if err = s.event.Create(ctx, &models.Event{ID: evt.ID, Type: evt.Type}); err != nil {
			return err
		}
	}

	handler, exists := s.eventManager.GetHandler(evt.Type)
	if !exists {
		s.logger.Warn("no handler registered for event type", zap.String("event_type", evt.Type))
		return s.event.MarkAsProcessed(ctx, evt.ID)
	}

	if err = handler(ctx, evt); err != nil {
		return err
	}
	return s.event.MarkAsProcessed(ctx, evt.ID)
}

type shippingRateSelectedData struct {
	OrderID string          `json:"order_id"`
	Carrier string          `json:"carrier"`
	Cost    decimal.Decimal `json:"cost"`
}

type shipmentData struct {
	OrderID string `json:"order_id"`
}

func (s *service) handleShippingRateSelected(ctx context.Context, evt *InboundEvent) error {
	var data shippingRateSelectedData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return err
	}
	return s.RecordShipping(ctx, data.OrderID, data.Cost, data.Carrier)
}

func (s *service) handleShipmentPacked(ctx context.Context, evt *InboundEvent) error {
	var data shipmentData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return err
	}
	return s.AdvanceFulfillment(ctx, data.OrderID, enum.FulfillmentStatusPacked)
}

func (s *service) handleShipmentSent(ctx context.Context, evt *InboundEvent) error {
	var data shipmentData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return err
	}
	return s.AdvanceFulfillment(ctx, data.OrderID, enum.FulfillmentStatusShipped)
}

// publishAdjustments fans committed ledger appends out to NATS. Failures
// are logged, never propagated: the ledger is already durable.
func (s *service) publishAdjustments(_ context.Context, adjustments []stockAdjustment) {
	now := time.Now()
	for _, adj := range adjustments {
		if err := s.eventManager.Publish(subjectStockAdjusted, StockAdjustedEvent{
			VariantID:    adj.VariantID,
			SKU:          adj.SKU,
			ChangeAmount: adj.ChangeAmount,
			NewQuantity:  adj.NewQuantity,
			Reason:       adj.Reason,
			OccurredAt:   now,
		}); err != nil {
			s.logger.Error("failed to publish stock adjusted event",
				zap.String("variant_id", adj.VariantID), zap.Error(err))
		}

		if adj.MinStockLevel > 0 && adj.NewQuantity <= adj.MinStockLevel {
			if err := s.eventManager.Publish(subjectStockLow, StockLowEvent{
				VariantID:     adj.VariantID,
				SKU:           adj.SKU,
				Quantity:      adj.NewQuantity,
				MinStockLevel: adj.MinStockLevel,
				OccurredAt:    now,
			}); err != nil {
				s.logger.Error("failed to publish stock low event",
					zap.String("variant_id", adj.VariantID), zap.Error(err))
			}
		}
	}
}
