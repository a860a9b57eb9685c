package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goarcana.io/inventory/catalog"
	"goarcana.io/inventory/costing"
	"goarcana.io/inventory/driver"
	"goarcana.io/inventory/event"
	"goarcana.io/inventory/fault"
	"goarcana.io/inventory/ledger"
	"goarcana.io/inventory/models"
	"goarcana.io/inventory/models/enum"
	"goarcana.io/inventory/order"
	"goarcana.io/inventory/purchase"
)

type Service interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, customerID string, limit, offset uint64) ([]*models.Order, error)
	CompleteOrder(ctx context.Context, orderID string) error
	CancelOrder(ctx context.Context, orderID string) error
	AdvanceFulfillment(ctx context.Context, orderID string, next enum.FulfillmentStatus) error
	RecordShipping(ctx context.Context, orderID string, cost decimal.Decimal, carrier string) error

	CreateSupplier(ctx context.Context, supplier *models.Supplier) error
	GetSupplier(ctx context.Context, supplierID string) (*models.Supplier, error)
	ListSuppliers(ctx context.Context, limit, offset uint64) ([]*models.Supplier, error)

	CreatePurchaseOrder(ctx context.Context, po *models.PurchaseOrder) error
	SendPurchaseOrder(ctx context.Context, poID string) error
	GetPurchaseOrder(ctx context.Context, poID string) (*models.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, statuses []enum.PurchaseOrderStatus, limit, offset uint64) ([]*models.PurchaseOrder, error)
	ProcessReception(ctx context.Context, poID, notes, receivedBy string, items []*models.ReceptionItem) (*models.Reception, error)
	ListReceptions(ctx context.Context, poID string) ([]*models.Reception, error)
	CancelReception(ctx context.Context, receptionID string) error
	CancelPurchaseOrder(ctx context.Context, poID string) error

	AuditInventory(ctx context.Context, variantID string, newQuantity int64, note, performedBy string) (*models.LedgerEntry, error)
	RestockInventory(ctx context.Context, variantID string, quantity int64, reason enum.LedgerReason, note, performedBy string) (*models.LedgerEntry, error)
	CurrentQuantity(ctx context.Context, variantID string) (int64, error)
	ListLedgerEntries(ctx context.Context, variantID string, limit, offset uint64) ([]*models.LedgerEntry, error)
	ListLedgerEntriesByReference(ctx context.Context, referenceType enum.LedgerReferenceType, referenceID string) ([]*models.LedgerEntry, error)
	LowStockVariants(ctx context.Context) ([]*ledger.LowStockRow, error)
	VerifyLedgerConsistency(ctx context.Context, variantID string) error

	CreateProduct(ctx context.Context, product *models.Product) error
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	UpdateProduct(ctx context.Context, product *models.Product) error
	ListProducts(ctx context.Context, limit, offset uint64) ([]*models.Product, error)

	CreateVariant(ctx context.Context, variant *models.Variant) error
	GetVariant(ctx context.Context, variantID string) (*models.Variant, error)
	GetVariantBySKU(ctx context.Context, sku string) (*models.Variant, error)
	UpdateVariant(ctx context.Context, variant *models.Variant) error
	DeleteVariant(ctx context.Context, variantID string) error
	ListVariants(ctx context.Context, productID string, limit, offset uint64) ([]*models.Variant, error)
	SearchVariants(ctx context.Context, term string, limit uint64) ([]*models.Variant, error)
}

type service struct {
	catalog  catalog.Repository
	ledger   ledger.Repository
	purchase purchase.Repository
	order    order.Repository
	event    event.Repository

	transactionManager *driver.TransactionManager
	eventManager       *EventManager
	workerPool         *WorkerPool

	natsConn *nats.Conn
	logger   *zap.Logger
}

func NewService(
	catalogRepo catalog.Repository, ledgerRepo ledger.Repository, purchaseRepo purchase.Repository,
	orderRepo order.Repository, eventRepo event.Repository, tm *driver.TransactionManager,
	natsConn *nats.Conn,
	logger *zap.Logger) Service {
	s := &service{
		catalog:            catalogRepo,
		ledger:             ledgerRepo,
		purchase:           purchaseRepo,
		order:              orderRepo,
		event:              eventRepo,
		transactionManager: tm,
		natsConn:           natsConn,
		logger:             logger,
	}
	s.eventManager = NewEventManager(natsConn, logger)
	s.workerPool = NewWorkerPool(10, s, logger)
	s.registerEventHandlers()

	// 訂閱事件
	if err := s.eventManager.SubscribeToEvents(s.workerPool); err != nil {
		logger.Error("Failed to subscribe to events", zap.Error(err))
	}

	return s
}

// stockAdjustment collects one committed ledger append so events go out
// only after the transaction is durable.
type stockAdjustment struct {
	VariantID     string
	SKU           string
	ChangeAmount  int64
	NewQuantity   int64
	Reason        enum.LedgerReason
	MinStockLevel int64
}

func (s *service) CreateOrder(ctx context.Context, orderModel *models.Order) error {
	if err := orderModel.Validate(); err != nil {
		return err
	}

	var adjustments []stockAdjustment

	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		adjustments = adjustments[:0]
		subtotal := decimal.Zero
		// 同一變體可出現在多個明細行，缺貨檢查以累計需求量為準
		requested := make(map[string]int64, len(orderModel.Items))

		for _, item := range orderModel.Items {
			// 1. 取得變體與所屬商品，決定單價與缺貨政策
			variant, err := s.catalog.GetVariant(ctx, tx, item.VariantID)
			if err != nil {
				return fmt.Errorf("failed to get variant %s: %w", item.VariantID, err)
			}
			product, err := s.catalog.GetProductByVariant(ctx, tx, item.VariantID)
			if err != nil {
				return fmt.Errorf("failed to get product for variant %s: %w", item.VariantID, err)
			}

			if item.UnitPrice.IsZero() {
				item.UnitPrice = variant.Price
			}
			item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity))
			subtotal = subtotal.Add(item.Subtotal)

			// 2. 檢查庫存：不可欠貨的商品不得低於零
			if err = s.ledger.EnsureSnapshot(ctx, tx, item.VariantID, ""); err != nil {
				return err
			}
			current, err := s.ledger.CurrentQuantity(ctx, tx, item.VariantID)
			if err != nil {
				return err
			}
			requested[item.VariantID] += item.Quantity
			if current-requested[item.VariantID] < 0 && !product.BackorderAllowed() {
				return &fault.InsufficientStockError{
					SKU:       variant.SKU,
					Requested: requested[item.VariantID],
					Available: current,
				}
			}

			adjustments = append(adjustments, stockAdjustment{
				VariantID:     item.VariantID,
				SKU:           variant.SKU,
				ChangeAmount:  -item.Quantity,
				Reason:        enum.LedgerReasonSale,
				MinStockLevel: product.MinStockLevel,
			})
		}

		// 3. 計算金額並建立訂單
		orderModel.Subtotal = subtotal
		orderModel.Tax = subtotal.Mul(orderModel.TaxRate)
		orderModel.Total = orderModel.Subtotal.Add(orderModel.Tax).Add(orderModel.ShippingCost)

		if err := s.order.CreateOrder(ctx, tx, orderModel); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		// 4. 逐項寫入帳本；快照鎖使同一變體的併發銷售序列化
		for i, item := range orderModel.Items {
			entry, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
				VariantID:     item.VariantID,
				ChangeAmount:  -item.Quantity,
				Reason:        enum.LedgerReasonSale,
				ReferenceType: enum.LedgerReferenceTypeOrder,
				ReferenceID:   &orderModel.ID,
				PerformedBy:   string(orderModel.Origin),
			})
			if err != nil {
				return fmt.Errorf("failed to append sale entry for variant %s: %w", item.VariantID, err)
			}
			adjustments[i].NewQuantity = entry.FinalStockSnapshot
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.publishAdjustments(ctx, adjustments)
	return nil
}

func (s *service) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.order.GetOrder(ctx, nil, orderID)
}

func (s *service) ListOrders(ctx context.Context, customerID string, limit, offset uint64) ([]*models.Order, error) {
	return s.order.ListOrders(ctx, nil, customerID, limit, offset)
}

func (s *service) CompleteOrder(ctx context.Context, orderID string) error {
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		orderModel, err := s.order.GetOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if orderModel.Status != enum.OrderStatusPending {
			return fault.InvalidTransition("order %s is %s, only pending orders complete", orderID, orderModel.Status)
		}
		return s.order.UpdateOrderStatus(ctx, tx, orderID, enum.OrderStatusCompleted, time.Now())
	})
}

func (s *service) CancelOrder(ctx context.Context, orderID string) error {
	var adjustments []stockAdjustment

	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		// 1. 取得訂單並檢查狀態
		orderModel, err := s.order.GetOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !orderModel.CanCancel() {
			return fault.InvalidTransition("order %s is %s and cannot be cancelled", orderID, orderModel.Status)
		}

		// 2. 以沖銷分錄歸還庫存（數量回復，成本不動）
		adjustments, err = s.reverseEntries(ctx, tx, enum.LedgerReferenceTypeOrder, orderID, "system")
		if err != nil {
			return err
		}

		// 3. 更新訂單狀態
		return s.order.UpdateOrderStatus(ctx, tx, orderID, enum.OrderStatusCancelled, time.Now())
	})
	if err != nil {
		return err
	}

	s.publishAdjustments(ctx, adjustments)
	return nil
}

func (s *service) AdvanceFulfillment(ctx context.Context, orderID string, next enum.FulfillmentStatus) error {
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		orderModel, err := s.order.GetOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if orderModel.Status == enum.OrderStatusCancelled {
			return fault.InvalidTransition("order %s is cancelled", orderID)
		}
		// 出貨進度只能往前走，且不影響庫存
		if !orderModel.Fulfillment.CanAdvanceTo(next) {
			return fault.InvalidTransition("fulfillment cannot move from %s to %s", orderModel.Fulfillment, next)
		}
		return s.order.UpdateFulfillment(ctx, tx, orderID, next, time.Now())
	})
}

func (s *service) RecordShipping(ctx context.Context, orderID string, cost decimal.Decimal, carrier string) error {
	if cost.IsNegative() {
		return fault.Validation("shipping cost cannot be negative")
	}
	if carrier == "" {
		return fault.Validation("shipping carrier is required")
	}
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := s.order.GetOrder(ctx, tx, orderID); err != nil {
			return err
		}
		return s.order.UpdateShipping(ctx, tx, orderID, cost, carrier, time.Now())
	})
}

func (s *service) CreateSupplier(ctx context.Context, supplier *models.Supplier) error {
	if supplier.Name == "" {
		return fault.Validation("supplier name is required")
	}
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		return s.purchase.CreateSupplier(ctx, tx, supplier)
	})
}

func (s *service) GetSupplier(ctx context.Context, supplierID string) (*models.Supplier, error) {
	return s.purchase.GetSupplier(ctx, nil, supplierID)
}

func (s *service) ListSuppliers(ctx context.Context, limit, offset uint64) ([]*models.Supplier, error) {
	return s.purchase.ListSuppliers(ctx, nil, limit, offset)
}

func (s *service) CreatePurchaseOrder(ctx context.Context, po *models.PurchaseOrder) error {
	if err := po.Validate(); err != nil {
		return err
	}

	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		// 供應商必須存在
		if _, err := s.purchase.GetSupplier(ctx, tx, po.SupplierID); err != nil {
			return err
		}

		totalCost := decimal.Zero
		for _, item := range po.Items {
			// 每一行的稅額與小計由預期單價推得
			lineCost := item.UnitCost.Mul(decimal.NewFromInt(item.Quantity))
			item.TaxAmount = lineCost.Mul(item.TaxRate)
			item.TotalCost = lineCost.Add(item.TaxAmount)
			totalCost = totalCost.Add(item.TotalCost)

			if _, err := s.catalog.GetVariant(ctx, tx, item.VariantID); err != nil {
				return fmt.Errorf("failed to get variant %s: %w", item.VariantID, err)
			}
		}
		po.TotalCost = totalCost

		return s.purchase.CreatePurchaseOrder(ctx, tx, po)
	})
}

func (s *service) SendPurchaseOrder(ctx context.Context, poID string) error {
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		po, err := s.purchase.GetPurchaseOrder(ctx, tx, poID)
		if err != nil {
			return err
		}
		if po.Status != enum.PurchaseOrderStatusDraft {
			return fault.InvalidTransition("purchase order %s is %s, only drafts can be sent", poID, po.Status)
		}
		return s.purchase.UpdatePurchaseOrderStatus(ctx, tx, poID, enum.PurchaseOrderStatusSent, time.Now())
	})
}

func (s *service) GetPurchaseOrder(ctx context.Context, poID string) (*models.PurchaseOrder, error) {
	return s.purchase.GetPurchaseOrder(ctx, nil, poID)
}

func (s *service) ListPurchaseOrders(ctx context.Context, statuses []enum.PurchaseOrderStatus, limit, offset uint64) ([]*models.PurchaseOrder, error) {
	return s.purchase.ListPurchaseOrders(ctx, nil, statuses, limit, offset)
}

func (s *service) ProcessReception(ctx context.Context, poID, notes, receivedBy string, items []*models.ReceptionItem) (*models.Reception, error) {
	if len(items) == 0 {
		return nil, fault.Validation("reception requires at least one line item")
	}

	var (
		reception   *models.Reception
		adjustments []stockAdjustment
	)

	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		adjustments = adjustments[:0]

		// 1. 取得採購單並檢查狀態
		po, err := s.purchase.GetPurchaseOrder(ctx, tx, poID)
		if err != nil {
			return err
		}
		if !po.Status.CanReceive() {
			return fault.InvalidTransition("purchase order %s is %s and cannot receive stock", poID, po.Status)
		}

		// 2. 先驗證所有收貨行，任何一行失敗整批不落地
		ordered := make(map[string]int64, len(po.Items))
		for _, line := range po.Items {
			ordered[line.VariantID] = line.Quantity
		}
		for _, item := range items {
			if item.VariantID == "" {
				return fault.Validation("reception line requires a variant reference")
			}
			if _, ok := ordered[item.VariantID]; !ok {
				return fault.Validation("variant %s is not on purchase order %s", item.VariantID, poID)
			}
			if item.Quantity < 0 {
				return fault.Validation("received quantity cannot be negative for variant %s", item.VariantID)
			}
			if item.UnitCost.IsNegative() {
				return fault.Validation("received unit cost cannot be negative for variant %s", item.VariantID)
			}
		}

		// 3. 建立收貨事件
		reception = &models.Reception{
			PurchaseOrderID: poID,
			Status:          enum.ReceptionStatusReceived,
			Notes:           notes,
			ReceivedBy:      receivedBy,
			Items:           items,
		}
		if err = s.purchase.CreateReception(ctx, tx, reception); err != nil {
			return fmt.Errorf("failed to create reception: %w", err)
		}

		// 4. 逐行：先以收貨前數量重算加權平均成本，再寫入帳本。
		//    零數量行視為未收貨，不落帳。
		for _, item := range items {
			if item.Quantity == 0 {
				continue
			}
			variant, err := s.catalog.GetVariant(ctx, tx, item.VariantID)
			if err != nil {
				return fmt.Errorf("failed to get variant %s: %w", item.VariantID, err)
			}
			if err = s.ledger.EnsureSnapshot(ctx, tx, item.VariantID, ""); err != nil {
				return err
			}
			priorQuantity, err := s.ledger.CurrentQuantity(ctx, tx, item.VariantID)
			if err != nil {
				return err
			}

			newCost := costing.RecomputeAverageCost(priorQuantity, variant.CostPrice, item.Quantity, item.UnitCost)
			if err = s.catalog.UpdateVariantCost(ctx, tx, item.VariantID, newCost, time.Now()); err != nil {
				return fmt.Errorf("failed to update cost for variant %s: %w", item.VariantID, err)
			}

			entry, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
				VariantID:     item.VariantID,
				ChangeAmount:  item.Quantity,
				Reason:        enum.LedgerReasonPurchaseReceipt,
				ReferenceType: enum.LedgerReferenceTypeReception,
				ReferenceID:   &reception.ID,
				PerformedBy:   receivedBy,
				Note:          notes,
			})
			if err != nil {
				return fmt.Errorf("failed to append receipt entry for variant %s: %w", item.VariantID, err)
			}

			adjustments = append(adjustments, stockAdjustment{
				VariantID:    item.VariantID,
				SKU:          variant.SKU,
				ChangeAmount: item.Quantity,
				NewQuantity:  entry.FinalStockSnapshot,
				Reason:       enum.LedgerReasonPurchaseReceipt,
			})
		}

		// 5. 依累計收貨量重算採購單狀態
		return s.recomputePurchaseOrderStatus(ctx, tx, po)
	})
	if err != nil {
		return nil, err
	}

	s.publishAdjustments(ctx, adjustments)
	return reception, nil
}

func (s *service) ListReceptions(ctx context.Context, poID string) ([]*models.Reception, error) {
	return s.purchase.ListReceptions(ctx, nil, poID)
}

func (s *service) CancelReception(ctx context.Context, receptionID string) error {
	var adjustments []stockAdjustment

	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		// 1. 取得收貨事件並檢查狀態（取消是單向的）
		reception, err := s.purchase.GetReception(ctx, tx, receptionID)
		if err != nil {
			return err
		}
		if reception.Status == enum.ReceptionStatusCancelled {
			return fault.InvalidTransition("reception %s is already cancelled", receptionID)
		}

		// 2. 沖銷當初的收貨分錄：數量回復，成本永不回滾
		adjustments, err = s.reverseEntries(ctx, tx, enum.LedgerReferenceTypeReception, receptionID, "system")
		if err != nil {
			return err
		}

		if err = s.purchase.MarkReceptionCancelled(ctx, tx, receptionID, time.Now()); err != nil {
			return err
		}

		// 3. 重算採購單狀態（可能從 Received 退回 Partial 或 Sent）
		po, err := s.purchase.GetPurchaseOrder(ctx, tx, reception.PurchaseOrderID)
		if err != nil {
			return err
		}
		return s.recomputePurchaseOrderStatus(ctx, tx, po)
	})
	if err != nil {
		return err
	}

	s.publishAdjustments(ctx, adjustments)
	return nil
}

func (s *service) CancelPurchaseOrder(ctx context.Context, poID string) error {
	var adjustments []stockAdjustment

	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		adjustments = adjustments[:0]

		// 1. 取得採購單並檢查狀態
		po, err := s.purchase.GetPurchaseOrder(ctx, tx, poID)
		if err != nil {
			return err
		}
		if !po.Status.CanCancel() {
			return fault.InvalidTransition("purchase order %s is %s and cannot be cancelled", poID, po.Status)
		}

		// 2. 先沖銷所有未取消的收貨事件
		receptions, err := s.purchase.ListReceptions(ctx, tx, poID)
		if err != nil {
			return err
		}
		for _, reception := range receptions {
			if reception.Status == enum.ReceptionStatusCancelled {
				continue
			}
			reversed, err := s.reverseEntries(ctx, tx, enum.LedgerReferenceTypeReception, reception.ID, "system")
			if err != nil {
				return err
			}
			adjustments = append(adjustments, reversed...)

			if err = s.purchase.MarkReceptionCancelled(ctx, tx, reception.ID, time.Now()); err != nil {
				return err
			}
		}

		// 3. 標記採購單取消
		return s.purchase.UpdatePurchaseOrderStatus(ctx, tx, poID, enum.PurchaseOrderStatusCancelled, time.Now())
	})
	if err != nil {
		return err
	}

	s.publishAdjustments(ctx, adjustments)
	return nil
}

// recomputePurchaseOrderStatus folds received quantities over the PO's
// non-cancelled receptions and moves the PO to Sent, Partial or Received.
func (s *service) recomputePurchaseOrderStatus(ctx context.Context, tx pgx.Tx, po *models.PurchaseOrder) error {
	received, err := s.purchase.ReceivedQuantities(ctx, tx, po.ID)
	if err != nil {
		return err
	}

	anyReceived := false
	complete := true
	for _, line := range po.Items {
		got := received[line.VariantID]
		if got > 0 {
			anyReceived = true
		}
		if got < line.Quantity {
			complete = false
		}
	}

	status := enum.PurchaseOrderStatusSent
	switch {
	case anyReceived && complete:
		status = enum.PurchaseOrderStatusReceived
	case anyReceived:
		status = enum.PurchaseOrderStatusPartial
	}

	if status == po.Status {
		return nil
	}
	return s.purchase.UpdatePurchaseOrderStatus(ctx, tx, po.ID, status, time.Now())
}

// reverseEntries appends one cancellation_reversal entry per original
// entry referencing the given document, each negating its quantity and
// pointing back at the entry it reverses. Costs are never touched.
func (s *service) reverseEntries(ctx context.Context, tx pgx.Tx, referenceType enum.LedgerReferenceType, referenceID, performedBy string) ([]stockAdjustment, error) {
	entries, err := s.ledger.ListEntriesByReference(ctx, tx, referenceType, referenceID)
	if err != nil {
		return nil, err
	}

	var adjustments []stockAdjustment
	for _, original := range entries {
		if original.Reason == enum.LedgerReasonCancellationReversal {
			continue
		}
		entry, err := s.ledger.Append(ctx, tx, ledger.AppendParams{
			VariantID:       original.VariantID,
			ChangeAmount:    -original.ChangeAmount,
			Reason:          enum.LedgerReasonCancellationReversal,
			ReferenceType:   referenceType,
			ReferenceID:     &referenceID,
			ReversedEntryID: &original.ID,
			PerformedBy:     performedBy,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to reverse entry %s: %w", original.ID, err)
		}
		adjustments = append(adjustments, stockAdjustment{
			VariantID:    original.VariantID,
			ChangeAmount: -original.ChangeAmount,
			NewQuantity:  entry.FinalStockSnapshot,
			Reason:       enum.LedgerReasonCancellationReversal,
		})
	}
	return adjustments, nil
}

func (s *service) AuditInventory(ctx context.Context, variantID string, newQuantity int64, note, performedBy string) (*models.LedgerEntry, error) {
	var (
		entry      *models.LedgerEntry
		adjustment *stockAdjustment
	)

	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		variant, err := s.catalog.GetVariant(ctx, tx, variantID)
		if err != nil {
			return err
		}
		if err = s.ledger.EnsureSnapshot(ctx, tx, variantID, ""); err != nil {
			return err
		}
		current, err := s.ledger.CurrentQuantity(ctx, tx, variantID)
		if err != nil {
			return err
		}

		// 盤點以目標數量表達，落帳為差額；零差額不寫入
		delta := newQuantity - current
		if delta == 0 {
			entry = nil
			return nil
		}

		product, err := s.catalog.GetProductByVariant(ctx, tx, variantID)
		if err != nil {
			return err
		}

		entry, err = s.ledger.Append(ctx, tx, ledger.AppendParams{
			VariantID:     variantID,
			ChangeAmount:  delta,
			Reason:        enum.LedgerReasonAuditAdjustment,
			ReferenceType: enum.LedgerReferenceTypeAudit,
			PerformedBy:   performedBy,
			Note:          note,
		})
		if err != nil {
			return err
		}

		adjustment = &stockAdjustment{
			VariantID:     variantID,
			SKU:           variant.SKU,
			ChangeAmount:  delta,
			NewQuantity:   entry.FinalStockSnapshot,
			Reason:        enum.LedgerReasonAuditAdjustment,
			MinStockLevel: product.MinStockLevel,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if adjustment != nil {
		s.publishAdjustments(ctx, []stockAdjustment{*adjustment})
	}
	return entry, nil
}

func (s *service) RestockInventory(ctx context.Context, variantID string, quantity int64, reason enum.LedgerReason, note, performedBy string) (*models.LedgerEntry, error) {
	if quantity == 0 {
		return nil, fault.Validation("restock quantity cannot be zero")
	}
	// 收貨與銷售各有專屬流程；此處只接受人工調整類原因
	switch reason {
	case enum.LedgerReasonAuditAdjustment, enum.LedgerReasonInternalConsumption:
	default:
		return nil, fault.Validation("reason %q is not valid for a manual stock adjustment", reason)
	}

	var (
		entry      *models.LedgerEntry
		adjustment stockAdjustment
	)

	err := s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		variant, err := s.catalog.GetVariant(ctx, tx, variantID)
		if err != nil {
			return err
		}
		product, err := s.catalog.GetProductByVariant(ctx, tx, variantID)
		if err != nil {
			return err
		}
		if err = s.ledger.EnsureSnapshot(ctx, tx, variantID, ""); err != nil {
			return err
		}

		// 內部耗用視同出庫，套用與銷售相同的缺貨政策
		if quantity < 0 && reason == enum.LedgerReasonInternalConsumption {
			current, err := s.ledger.CurrentQuantity(ctx, tx, variantID)
			if err != nil {
				return err
			}
			if current+quantity < 0 && !product.BackorderAllowed() {
				return &fault.InsufficientStockError{
					SKU:       variant.SKU,
					Requested: -quantity,
					Available: current,
				}
			}
		}

		entry, err = s.ledger.Append(ctx, tx, ledger.AppendParams{
			VariantID:     variantID,
			ChangeAmount:  quantity,
			Reason:        reason,
			ReferenceType: enum.LedgerReferenceTypeManual,
			PerformedBy:   performedBy,
			Note:          note,
		})
		if err != nil {
			return err
		}

		adjustment = stockAdjustment{
			VariantID:     variantID,
			SKU:           variant.SKU,
			ChangeAmount:  quantity,
			NewQuantity:   entry.FinalStockSnapshot,
			Reason:        reason,
			MinStockLevel: product.MinStockLevel,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishAdjustments(ctx, []stockAdjustment{adjustment})
	return entry, nil
}

func (s *service) CurrentQuantity(ctx context.Context, variantID string) (int64, error) {
	return s.ledger.CurrentQuantity(ctx, nil, variantID)
}

func (s *service) ListLedgerEntries(ctx context.Context, variantID string, limit, offset uint64) ([]*models.LedgerEntry, error) {
	return s.ledger.ListEntries(ctx, nil, variantID, limit, offset)
}

func (s *service) ListLedgerEntriesByReference(ctx context.Context, referenceType enum.LedgerReferenceType, referenceID string) ([]*models.LedgerEntry, error) {
	return s.ledger.ListEntriesByReference(ctx, nil, referenceType, referenceID)
}

func (s *service) LowStockVariants(ctx context.Context) ([]*ledger.LowStockRow, error) {
	return s.ledger.ListLowStock(ctx, nil)
}

// VerifyLedgerConsistency recomputes the fold of all entries for the
// variant and compares it against the snapshot.
func (s *service) VerifyLedgerConsistency(ctx context.Context, variantID string) error {
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		snapshot, err := s.ledger.GetSnapshot(ctx, tx, variantID)
		if err != nil {
			return err
		}
		sum, err := s.ledger.SumEntries(ctx, tx, variantID)
		if err != nil {
			return err
		}
		if sum != snapshot.Quantity {
			return fault.Conflict("snapshot for variant %s is %d but ledger folds to %d", variantID, snapshot.Quantity, sum)
		}
		return nil
	})
}

func (s *service) CreateProduct(ctx context.Context, product *models.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		return s.catalog.CreateProduct(ctx, tx, product)
	})
}

func (s *service) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	return s.catalog.GetProduct(ctx, nil, productID)
}

func (s *service) UpdateProduct(ctx context.Context, product *models.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		return s.catalog.UpdateProduct(ctx, tx, product)
	})
}

func (s *service) ListProducts(ctx context.Context, limit, offset uint64) ([]*models.Product, error) {
	return s.catalog.ListProducts(ctx, nil, limit, offset)
}

func (s *service) CreateVariant(ctx context.Context, variant *models.Variant) error {
	if err := variant.Validate(); err != nil {
		return err
	}
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := s.catalog.GetProduct(ctx, tx, variant.ProductID); err != nil {
			return err
		}
		if err := s.catalog.CreateVariant(ctx, tx, variant); err != nil {
			return err
		}
		// 新變體立刻有一份零數量快照，後續帳本寫入不再分支
		return s.ledger.EnsureSnapshot(ctx, tx, variant.ID, "")
	})
}

func (s *service) GetVariant(ctx context.Context, variantID string) (*models.Variant, error) {
	return s.catalog.GetVariant(ctx, nil, variantID)
}

func (s *service) GetVariantBySKU(ctx context.Context, sku string) (*models.Variant, error) {
	return s.catalog.GetVariantBySKU(ctx, nil, sku)
}

func (s *service) UpdateVariant(ctx context.Context, variant *models.Variant) error {
	if err := variant.Validate(); err != nil {
		return err
	}
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		// 成本欄位只由收貨流程改寫
		existing, err := s.catalog.GetVariant(ctx, tx, variant.ID)
		if err != nil {
			return err
		}
		variant.CostPrice = existing.CostPrice
		return s.catalog.UpdateVariant(ctx, tx, variant)
	})
}

func (s *service) DeleteVariant(ctx context.Context, variantID string) error {
	return s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		product, err := s.catalog.GetProductByVariant(ctx, tx, variantID)
		if err != nil {
			return err
		}
		quantity, err := s.ledger.CurrentQuantity(ctx, tx, variantID)
		if err != nil && !errors.Is(err, fault.ErrNotFound) {
			return err
		}
		// 轉售商品還有庫存時不可刪除，避免帳本懸空
		if product.Type == enum.ProductTypeResale && quantity != 0 {
			return fault.Validation("variant %s still has %d units on hand", variantID, quantity)
		}
		return s.catalog.DeleteVariant(ctx, tx, variantID)
	})
}

func (s *service) ListVariants(ctx context.Context, productID string, limit, offset uint64) ([]*models.Variant, error) {
	return s.catalog.ListVariants(ctx, nil, productID, limit, offset)
}

func (s *service) SearchVariants(ctx context.Context, term string, limit uint64) ([]*models.Variant, error) {
	return s.catalog.SearchVariants(ctx, nil, term, limit)
}
