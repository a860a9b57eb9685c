// Package purchase persists purchase orders and their receiving events.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goarcana.io/inventory/driver"
	"goarcana.io/inventory/fault"
	"goarcana.io/inventory/models"
	"goarcana.io/inventory/models/enum"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	CreatePurchaseOrder(ctx context.Context, tx pgx.Tx, po *models.PurchaseOrder) error
	GetPurchaseOrder(ctx context.Context, tx pgx.Tx, poID string) (*models.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, tx pgx.Tx, statuses []enum.PurchaseOrderStatus, limit, offset uint64) ([]*models.PurchaseOrder, error)
	UpdatePurchaseOrderStatus(ctx context.Context, tx pgx.Tx, poID string, status enum.PurchaseOrderStatus, updatedAt time.Time) error

	CreateReception(ctx context.Context, tx pgx.Tx, reception *models.Reception) error
	GetReception(ctx context.Context, tx pgx.Tx, receptionID string) (*models.Reception, error)
	ListReceptions(ctx context.Context, tx pgx.Tx, poID string) ([]*models.Reception, error)
	MarkReceptionCancelled(ctx context.Context, tx pgx.Tx, receptionID string, cancelledAt time.Time) error

	// ReceivedQuantities sums received quantity per variant across the
	// PO's non-cancelled receptions.
	ReceivedQuantities(ctx context.Context, tx pgx.Tx, poID string) (map[string]int64, error)

	CreateSupplier(ctx context.Context, tx pgx.Tx, supplier *models.Supplier) error
	GetSupplier(ctx context.Context, tx pgx.Tx, supplierID string) (*models.Supplier, error)
	ListSuppliers(ctx context.Context, tx pgx.Tx, limit, offset uint64) ([]*models.Supplier, error)
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

func poCacheKey(poID string) string {
	return fmt.Sprintf("purchase_order:%s", poID)
}

func (r *repository) CreatePurchaseOrder(ctx context.Context, tx pgx.Tx, po *models.PurchaseOrder) error {
	if po.ID == "" {
		po.ID = uuid.NewString()
	}
	now := time.Now()
	po.CreatedAt = now
	po.UpdatedAt = now
	po.Status = enum.PurchaseOrderStatusDraft

	// 以序列產生人類可讀的採購單號，例如 PO-2026-000042
	var seq int64
	if err := r.exec(tx).QueryRow(ctx, `SELECT nextval('po_number_seq')`).Scan(&seq); err != nil {
		r.logger.Error("failed to allocate PO number", zap.Error(err))
		return err
	}
	po.PONumber = fmt.Sprintf("PO-%d-%06d", now.Year(), seq)

	_, err := r.exec(tx).Exec(ctx,
		`INSERT INTO purchase_orders
		   (id, po_number, supplier_id, status, currency, total_cost, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		po.ID, po.PONumber, po.SupplierID, string(po.Status), string(po.Currency),
		po.TotalCost, po.Notes, po.CreatedAt, po.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create purchase order", zap.Error(err))
		return err
	}

	for _, item := range po.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.PurchaseOrderID = po.ID
		_, err = r.exec(tx).Exec(ctx,
			`INSERT INTO purchase_order_items
			   (id, purchase_order_id, variant_id, quantity, unit_cost, tax_rate, tax_amount, total_cost)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, item.PurchaseOrderID, item.VariantID, item.Quantity,
			item.UnitCost, item.TaxRate, item.TaxAmount, item.TotalCost,
		)
		if err != nil {
			r.logger.Error("failed to create purchase order item",
				zap.String("variant_id", item.VariantID), zap.Error(err))
			return err
		}
	}

	return nil
}

const selectPO = `SELECT id, po_number, supplier_id, status, currency, total_cost, notes, created_at, updated_at
  FROM purchase_orders`

func (r *repository) GetPurchaseOrder(ctx context.Context, tx pgx.Tx, poID string) (*models.PurchaseOrder, error) {
	po, err := scanPO(r.exec(tx).QueryRow(ctx, selectPO+` WHERE id = $1`, poID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("purchase order %s", poID)
		}
		r.logger.Error("failed to get purchase order", zap.String("po_id", poID), zap.Error(err))
		return nil, err
	}

	items, err := r.listPurchaseOrderItems(ctx, tx, poID)
	if err != nil {
		return nil, err
	}
	po.Items = items

	return po, nil
}

func (r *repository) listPurchaseOrderItems(ctx context.Context, tx pgx.Tx, poID string) ([]*models.PurchaseOrderItem, error) {
	rows, err := r.exec(tx).Query(ctx,
		`SELECT id, purchase_order_id, variant_id, quantity, unit_cost, tax_rate, tax_amount, total_cost
		   FROM purchase_order_items WHERE purchase_order_id = $1 ORDER BY id`, poID)
	if err != nil {
		r.logger.Error("failed to list purchase order items", zap.String("po_id", poID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var items []*models.PurchaseOrderItem
	for rows.Next() {
		item := new(models.PurchaseOrderItem)
		if err = rows.Scan(&item.ID, &item.PurchaseOrderID, &item.VariantID, &item.Quantity,
			&item.UnitCost, &item.TaxRate, &item.TaxAmount, &item.TotalCost); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repository) ListPurchaseOrders(ctx context.Context, tx pgx.Tx, statuses []enum.PurchaseOrderStatus, limit, offset uint64) ([]*models.PurchaseOrder, error) {
	query := selectPO
	var args []any
	if len(statuses) > 0 {
		strs := make([]string, 0, len(statuses))
		for _, s := range statuses {
			strs = append(strs, string(s))
		}
		query += ` WHERE status = ANY($1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = []any{strs, int64(limit), int64(offset)}
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = []any{int64(limit), int64(offset)}
	}

	rows, err := r.exec(tx).Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list purchase orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var pos []*models.PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, err
		}
		pos = append(pos, po)
	}
	return pos, rows.Err()
}

func (r *repository) UpdatePurchaseOrderStatus(ctx context.Context, tx pgx.Tx, poID string, status enum.PurchaseOrderStatus, updatedAt time.Time) error {
	tag, err := r.exec(tx).Exec(ctx,
		`UPDATE purchase_orders SET status = $2, updated_at = $3 WHERE id = $1`,
		poID, string(status), updatedAt,
	)
	if err != nil {
		r.logger.Error("failed to update purchase order status", zap.String("po_id", poID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("purchase order %s", poID)
	}
	if err = r.cache.Delete(ctx, poCacheKey(poID)); err != nil {
		r.logger.Warn("failed to invalidate purchase order cache", zap.Error(err))
	}
	return nil
}

func (r *repository) CreateReception(ctx context.Context, tx pgx.Tx, reception *models.Reception) error {
	if reception.ID == "" {
		reception.ID = uuid.NewString()
	}
	reception.CreatedAt = time.Now()
	reception.Status = enum.ReceptionStatusReceived

	_, err := r.exec(tx).Exec(ctx,
		`INSERT INTO receptions (id, purchase_order_id, status, notes, received_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		reception.ID, reception.PurchaseOrderID, string(reception.Status),
		reception.Notes, reception.ReceivedBy, reception.CreatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create reception", zap.String("po_id", reception.PurchaseOrderID), zap.Error(err))
		return err
	}

	for _, item := range reception.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.ReceptionID = reception.ID
		_, err = r.exec(tx).Exec(ctx,
			`INSERT INTO reception_items (id, reception_id, variant_id, quantity, unit_cost)
			 VALUES ($1, $2, $3, $4, $5)`,
			item.ID, item.ReceptionID, item.VariantID, item.Quantity, item.UnitCost,
		)
		if err != nil {
			r.logger.Error("failed to create reception item",
				zap.String("variant_id", item.VariantID), zap.Error(err))
			return err
		}
	}

	return nil
}

const selectReception = `SELECT id, purchase_order_id, status, notes, received_by, created_at, cancelled_at
  FROM receptions`

func (r *repository) GetReception(ctx context.Context, tx pgx.Tx, receptionID string) (*models.Reception, error) {
	reception, err := scanReception(r.exec(tx).QueryRow(ctx, selectReception+` WHERE id = $1`, receptionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("reception %s", receptionID)
		}
		r.logger.Error("failed to get reception", zap.String("reception_id", receptionID), zap.Error(err))
		return nil, err
	}

	items, err := r.listReceptionItems(ctx, tx, receptionID)
	if err != nil {
		return nil, err
	}
	reception.Items = items

	return reception, nil
}

func (r *repository) listReceptionItems(ctx context.Context, tx pgx.Tx, receptionID string) ([]*models.ReceptionItem, error) {
	rows, err := r.exec(tx).Query(ctx,
		`SELECT id, reception_id, variant_id, quantity, unit_cost
		   FROM reception_items WHERE reception_id = $1 ORDER BY id`, receptionID)
	if err != nil {
		r.logger.Error("failed to list reception items", zap.String("reception_id", receptionID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var items []*models.ReceptionItem
	for rows.Next() {
		item := new(models.ReceptionItem)
		if err = rows.Scan(&item.ID, &item.ReceptionID, &item.VariantID, &item.Quantity, &item.UnitCost); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repository) ListReceptions(ctx context.Context, tx pgx.Tx, poID string) ([]*models.Reception, error) {
	rows, err := r.exec(tx).Query(ctx,
		selectReception+` WHERE purchase_order_id = $1 ORDER BY created_at`, poID)
	if err != nil {
		r.logger.Error("failed to list receptions", zap.String("po_id", poID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var receptions []*models.Reception
	for rows.Next() {
		reception, err := scanReception(rows)
		if err != nil {
			return nil, err
		}
		receptions = append(receptions, reception)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	for _, reception := range receptions {
		items, err := r.listReceptionItems(ctx, tx, reception.ID)
		if err != nil {
			return nil, err
		}
		reception.Items = items
	}

	return receptions, nil
}

func (r *repository) MarkReceptionCancelled(ctx context.Context, tx pgx.Tx, receptionID string, cancelledAt time.Time) error {
	tag, err := r.exec(tx).Exec(ctx,
		`UPDATE receptions SET status = $2, cancelled_at = $3 WHERE id = $1`,
		receptionID, string(enum.ReceptionStatusCancelled), cancelledAt,
	)
	if err != nil {
		r.logger.Error("failed to cancel reception", zap.String("reception_id", receptionID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("reception %s", receptionID)
	}
	return nil
}

func (r *repository) ReceivedQuantities(ctx context.Context, tx pgx.Tx, poID string) (map[string]int64, error) {
	rows, err := r.exec(tx).Query(ctx,
		`SELECT ri.variant_id, COALESCE(SUM(ri.quantity), 0)
		   FROM reception_items ri
		   JOIN receptions rc ON rc.id = ri.reception_id
		  WHERE rc.purchase_order_id = $1 AND rc.status <> $2
		  GROUP BY ri.variant_id`,
		poID, string(enum.ReceptionStatusCancelled),
	)
	if err != nil {
		r.logger.Error("failed to sum received quantities", zap.String("po_id", poID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var variantID string
		var qty int64
		if err = rows.Scan(&variantID, &qty); err != nil {
			return nil, err
		}
		totals[variantID] = qty
	}
	return totals, rows.Err()
}

func (r *repository) CreateSupplier(ctx context.Context, tx pgx.Tx, supplier *models.Supplier) error {
	if supplier.ID == "" {
		supplier.ID = uuid.NewString()
	}
	supplier.CreatedAt = time.Now()

	_, err := r.exec(tx).Exec(ctx,
		`INSERT INTO suppliers (id, name, type, contact_info, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		supplier.ID, supplier.Name, supplier.Type, supplier.ContactInfo, supplier.CreatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create supplier", zap.String("name", supplier.Name), zap.Error(err))
	}
	return err
}

func (r *repository) GetSupplier(ctx context.Context, tx pgx.Tx, supplierID string) (*models.Supplier, error) {
	supplier := new(models.Supplier)
	var supplierType *string
	err := r.exec(tx).QueryRow(ctx,
		`SELECT id, name, type, contact_info, created_at FROM suppliers WHERE id = $1`, supplierID,
	).Scan(&supplier.ID, &supplier.Name, &supplierType, &supplier.ContactInfo, &supplier.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("supplier %s", supplierID)
		}
		r.logger.Error("failed to get supplier", zap.String("supplier_id", supplierID), zap.Error(err))
		return nil, err
	}
	if supplierType != nil {
		supplier.Type = *supplierType
	}
	return supplier, nil
}

func (r *repository) ListSuppliers(ctx context.Context, tx pgx.Tx, limit, offset uint64) ([]*models.Supplier, error) {
	rows, err := r.exec(tx).Query(ctx,
		`SELECT id, name, type, contact_info, created_at
		   FROM suppliers ORDER BY name LIMIT $1 OFFSET $2`, int64(limit), int64(offset))
	if err != nil {
		r.logger.Error("failed to list suppliers", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var suppliers []*models.Supplier
	for rows.Next() {
		supplier := new(models.Supplier)
		var supplierType *string
		if err = rows.Scan(&supplier.ID, &supplier.Name, &supplierType,
			&supplier.ContactInfo, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		if supplierType != nil {
			supplier.Type = *supplierType
		}
		suppliers = append(suppliers, supplier)
	}
	return suppliers, rows.Err()
}

func scanPO(row pgx.Row) (*models.PurchaseOrder, error) {
	po := new(models.PurchaseOrder)
	var notes *string
	err := row.Scan(&po.ID, &po.PONumber, &po.SupplierID, &po.Status, &po.Currency,
		&po.TotalCost, &notes, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if notes != nil {
		po.Notes = *notes
	}
	return po, nil
}

func scanReception(row pgx.Row) (*models.Reception, error) {
	reception := new(models.Reception)
	var notes, receivedBy *string
	err := row.Scan(&reception.ID, &reception.PurchaseOrderID, &reception.Status,
		&notes, &receivedBy, &reception.CreatedAt, &reception.CancelledAt)
	if err != nil {
		return nil, err
	}
	if notes != nil {
		reception.Notes = *notes
	}
	if receivedBy != nil {
		reception.ReceivedBy = *receivedBy
	}
	return reception, nil
}

func (r *repository) exec(tx pgx.Tx) driver.Querier {
	if tx != nil {
		return tx
	}
	return r.conn
}
