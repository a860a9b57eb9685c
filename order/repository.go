// Package order persists sales orders created at the point of sale or by
// the web storefront.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goarcana.io/inventory/driver"
	"goarcana.io/inventory/fault"
	"goarcana.io/inventory/models"
	"goarcana.io/inventory/models/enum"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, order *models.Order) error
	GetOrder(ctx context.Context, tx pgx.Tx, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, tx pgx.Tx, customerID string, limit, offset uint64) ([]*models.Order, error)
	UpdateOrderStatus(ctx context.Context, tx pgx.Tx, orderID string, status enum.OrderStatus, updatedAt time.Time) error
	UpdateFulfillment(ctx context.Context, tx pgx.Tx, orderID string, fulfillment enum.FulfillmentStatus, updatedAt time.Time) error
	UpdateShipping(ctx context.Context, tx pgx.Tx, orderID string, cost decimal.Decimal, carrier string, updatedAt time.Time) error
	ListOrderItems(ctx context.Context, tx pgx.Tx, orderID string) ([]*models.OrderItem, error)
}

type repository struct {
	conn   driver.PostgresPool
	cache  *driver.Cache
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, cache *driver.Cache, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		cache:  cache,
		logger: logger,
	}
}

func orderCacheKey(orderID string) string {
	return fmt.Sprintf("order:%s", orderID)
}

func (r *repository) CreateOrder(ctx context.Context, tx pgx.Tx, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = enum.OrderStatusPending
	}
	if order.Fulfillment == "" {
		order.Fulfillment = enum.FulfillmentStatusPending
	}

	_, err := r.exec(tx).Exec(ctx,
		`INSERT INTO orders
		   (id, customer_id, origin, status, fulfillment_status, currency, subtotal, tax,
		    tax_rate, shipping_cost, shipping_carrier, total, payment_method, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		order.ID, order.CustomerID, string(order.Origin), string(order.Status),
		string(order.Fulfillment), string(order.Currency), order.Subtotal, order.Tax,
		order.TaxRate, order.ShippingCost, order.ShippingCarrier, order.Total,
		order.PaymentMethod, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create order", zap.Error(err))
		return err
	}

	for _, item := range order.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.OrderID = order.ID
		_, err = r.exec(tx).Exec(ctx,
			`INSERT INTO order_items (id, order_id, variant_id, quantity, unit_price, subtotal)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.OrderID, item.VariantID, item.Quantity, item.UnitPrice, item.Subtotal,
		)
		if err != nil {
			r.logger.Error("failed to create order item",
				zap.String("variant_id", item.VariantID), zap.Error(err))
			return err
		}
	}

	return nil
}

const selectOrder = `SELECT id, customer_id, origin, status, fulfillment_status, currency, subtotal,
       tax, tax_rate, shipping_cost, shipping_carrier, total, payment_method, created_at, updated_at
  FROM orders`

func (r *repository) GetOrder(ctx context.Context, tx pgx.Tx, orderID string) (*models.Order, error) {
	cacheKey := orderCacheKey(orderID)
	var cached models.Order

	if tx == nil {
		found, err := r.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			r.logger.Warn("failed to get order from cache", zap.Error(err))
		}
		if found {
			return &cached, nil
		}
	}

	order, err := scanOrder(r.exec(tx).QueryRow(ctx, selectOrder+` WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("order %s", orderID)
		}
		r.logger.Error("failed to get order", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}

	items, err := r.ListOrderItems(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	if tx == nil {
		if err = r.cache.Set(ctx, cacheKey, order); err != nil {
			r.logger.Warn("failed to cache order", zap.Error(err))
		}
	}

	return order, nil
}

func (r *repository) ListOrders(ctx context.Context, tx pgx.Tx, customerID string, limit, offset uint64) ([]*models.Order, error) {
	query := selectOrder
	var args []any
	if customerID != "" {
		query += ` WHERE customer_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = []any{customerID, int64(limit), int64(offset)}
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = []any{int64(limit), int64(offset)}
	}

	rows, err := r.exec(tx).Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (r *repository) UpdateOrderStatus(ctx context.Context, tx pgx.Tx, orderID string, status enum.OrderStatus, updatedAt time.Time) error {
	tag, err := r.exec(tx).Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		orderID, string(status), updatedAt,
	)
	if err != nil {
		r.logger.Error("failed to update order status", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("order %s", orderID)
	}
	r.invalidateOrderCache(ctx, orderID)
	return nil
}

func (r *repository) UpdateFulfillment(ctx context.Context, tx pgx.Tx, orderID string, fulfillment enum.FulfillmentStatus, updatedAt time.Time) error {
	tag, err := r.exec(tx).Exec(ctx,
		`UPDATE orders SET fulfillment_status = $2, updated_at = $3 WHERE id = $1`,
		orderID, string(fulfillment), updatedAt,
	)
	if err != nil {
		r.logger.Error("failed to update fulfillment", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("order %s", orderID)
	}
	r.invalidateOrderCache(ctx, orderID)
	return nil
}

func (r *repository) UpdateShipping(ctx context.Context, tx pgx.Tx, orderID string, cost decimal.Decimal, carrier string, updatedAt time.Time) error {
	tag, err := r.exec(tx).Exec(ctx,
		`UPDATE orders
		    SET shipping_cost = $2, shipping_carrier = $3, total = subtotal + tax + $2, updated_at = $4
		  WHERE id = $1`,
		orderID, cost, carrier, updatedAt,
	)
	if err != nil {
		r.logger.Error("failed to update shipping", zap.String("order_id", orderID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("order %s", orderID)
	}
	r.invalidateOrderCache(ctx, orderID)
	return nil
}

func (r *repository) ListOrderItems(ctx context.Context, tx pgx.Tx, orderID string) ([]*models.OrderItem, error) {
	rows, err := r.exec(tx).Query(ctx,
		`SELECT id, order_id, variant_id, quantity, unit_price, subtotal
		   FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		r.logger.Error("failed to list order items", zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var items []*models.OrderItem
	for rows.Next() {
		item := new(models.OrderItem)
		if err = rows.Scan(&item.ID, &item.OrderID, &item.VariantID, &item.Quantity,
			&item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repository) invalidateOrderCache(ctx context.Context, orderID string) {
	if err := r.cache.Delete(ctx, orderCacheKey(orderID)); err != nil {
		r.logger.Warn("failed to invalidate order cache", zap.String("order_id", orderID), zap.Error(err))
	}
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	order := new(models.Order)
	var carrier, payment *string
	err := row.Scan(&order.ID, &order.CustomerID, &order.Origin, &order.Status,
		&order.Fulfillment, &order.Currency, &order.Subtotal, &order.Tax, &order.TaxRate,
		&order.ShippingCost, &carrier, &order.Total, &payment,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if carrier != nil {
		order.ShippingCarrier = *carrier
	}
	if payment != nil {
		order.PaymentMethod = *payment
	}
	return order, nil
}

func (r *repository) exec(tx pgx.Tx) driver.Querier {
	if tx != nil {
		return tx
	}
	return r.conn
}
