package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"goarcana.io/inventory/fault"
	"goarcana.io/inventory/ledger"
	"goarcana.io/inventory/models"
	"goarcana.io/inventory/models/enum"
)

// fakeTx satisfies pgx.Tx so the transaction manager can hand the service
// a transaction handle; the in-memory repositories ignore it. A non-nil
// commitErr makes Commit fail, for exercising commit-time error paths.
type fakeTx struct{ commitErr error }

func (fakeTx) Begin(_ context.Context) (pgx.Tx, error)   { return fakeTx{}, nil }
func (t fakeTx) Commit(_ context.Context) error          { return t.commitErr }
func (fakeTx) Rollback(_ context.Context) error          { return nil }
func (fakeTx) LargeObjects() pgx.LargeObjects            { return pgx.LargeObjects{} }
func (fakeTx) Conn() *pgx.Conn                           { return nil }
func (fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (fakeTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (fakeTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (fakeTx) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (fakeTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return nil, nil }
func (fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row        { return nil }

type fakePool struct{ commitErr error }

func (fakePool) Acquire(_ context.Context) (*pgxpool.Conn, error) { return nil, nil }
func (p fakePool) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	return fakeTx{commitErr: p.commitErr}, nil
}
func (fakePool) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (fakePool) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return nil, nil }
func (fakePool) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row        { return nil }
func (fakePool) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults    { return nil }
func (fakePool) Close()                                                        {}

type memCatalog struct {
	mu       sync.Mutex
	products map[string]*models.Product
	variants map[string]*models.Variant
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		products: make(map[string]*models.Product),
		variants: make(map[string]*models.Variant),
	}
}

func (m *memCatalog) CreateProduct(_ context.Context, _ pgx.Tx, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	clone := *product
	m.products[product.ID] = &clone
	return nil
}

func (m *memCatalog) GetProduct(_ context.Context, _ pgx.Tx, productID string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[productID]
	if !ok {
		return nil, fault.NotFound("product %s", productID)
	}
	clone := *product
	return &clone, nil
}

func (m *memCatalog) GetProductByVariant(_ context.Context, _ pgx.Tx, variantID string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	variant, ok := m.variants[variantID]
	if !ok {
		return nil, fault.NotFound("variant %s", variantID)
	}
	product, ok := m.products[variant.ProductID]
	if !ok {
		return nil, fault.NotFound("product %s", variant.ProductID)
	}
	clone := *product
	return &clone, nil
}

func (m *memCatalog) UpdateProduct(_ context.Context, _ pgx.Tx, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[product.ID]; !ok {
		return fault.NotFound("product %s", product.ID)
	}
	clone := *product
	m.products[product.ID] = &clone
	return nil
}

func (m *memCatalog) ListProducts(_ context.Context, _ pgx.Tx, _, _ uint64) ([]*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Product, 0, len(m.products))
	for _, p := range m.products {
		clone := *p
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memCatalog) CreateVariant(_ context.Context, _ pgx.Tx, variant *models.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if variant.ID == "" {
		variant.ID = uuid.NewString()
	}
	clone := *variant
	m.variants[variant.ID] = &clone
	return nil
}

func (m *memCatalog) GetVariant(_ context.Context, _ pgx.Tx, variantID string) (*models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	variant, ok := m.variants[variantID]
	if !ok {
		return nil, fault.NotFound("variant %s", variantID)
	}
	clone := *variant
	return &clone, nil
}

func (m *memCatalog) GetVariantBySKU(_ context.Context, _ pgx.Tx, sku string) (*models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, variant := range m.variants {
		if variant.SKU == sku {
			clone := *variant
			return &clone, nil
		}
	}
	return nil, fault.NotFound("variant with SKU %s", sku)
}

func (m *memCatalog) UpdateVariant(_ context.Context, _ pgx.Tx, variant *models.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.variants[variant.ID]; !ok {
		return fault.NotFound("variant %s", variant.ID)
	}
	clone := *variant
	m.variants[variant.ID] = &clone
	return nil
}

func (m *memCatalog) UpdateVariantCost(_ context.Context, _ pgx.Tx, variantID string, cost decimal.Decimal, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	variant, ok := m.variants[variantID]
	if !ok {
		return fault.NotFound("variant %s", variantID)
	}
	variant.CostPrice = cost
	variant.UpdatedAt = updatedAt
	return nil
}

func (m *memCatalog) DeleteVariant(_ context.Context, _ pgx.Tx, variantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.variants[variantID]; !ok {
		return fault.NotFound("variant %s", variantID)
	}
	delete(m.variants, variantID)
	return nil
}

func (m *memCatalog) ListVariants(_ context.Context, _ pgx.Tx, productID string, _, _ uint64) ([]*models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Variant
	for _, variant := range m.variants {
		if variant.ProductID == productID {
			clone := *variant
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memCatalog) SearchVariants(_ context.Context, _ pgx.Tx, term string, _ uint64) ([]*models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Variant
	for _, variant := range m.variants {
		if strings.Contains(strings.ToLower(variant.SKU), strings.ToLower(term)) {
			clone := *variant
			out = append(out, &clone)
		}
	}
	return out, nil
}

// memLedger mirrors the append semantics of the real repository: the
// snapshot row must exist, appends fold into it, and every entry records
// the post-append quantity.
type memLedger struct {
	mu        sync.Mutex
	entries   []*models.LedgerEntry
	snapshots map[string]*models.StockSnapshot
	catalog   *memCatalog
}

func newMemLedger(catalog *memCatalog) *memLedger {
	return &memLedger{
		snapshots: make(map[string]*models.StockSnapshot),
		catalog:   catalog,
	}
}

func (m *memLedger) Append(_ context.Context, tx pgx.Tx, params ledger.AppendParams) (*models.LedgerEntry, error) {
	if tx == nil {
		return nil, fault.Validation("ledger append requires an enclosing transaction")
	}
	if params.ChangeAmount == 0 {
		return nil, fault.Validation("ledger change amount cannot be zero")
	}
	if !params.Reason.Valid() {
		return nil, fault.Validation("unknown ledger reason %q", params.Reason)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.snapshots[params.VariantID]
	if !ok {
		return nil, fault.NotFound("stock snapshot for variant %s", params.VariantID)
	}

	snapshot.Quantity += params.ChangeAmount
	snapshot.LastUpdated = time.Now()

	entry := &models.LedgerEntry{
		ID:                 uuid.NewString(),
		VariantID:          params.VariantID,
		ChangeAmount:       params.ChangeAmount,
		FinalStockSnapshot: snapshot.Quantity,
		Reason:             params.Reason,
		ReferenceType:      params.ReferenceType,
		ReferenceID:        params.ReferenceID,
		ReversedEntryID:    params.ReversedEntryID,
		PerformedBy:        params.PerformedBy,
		Note:               params.Note,
		CreatedAt:          time.Now(),
	}
	m.entries = append(m.entries, entry)
	clone := *entry
	return &clone, nil
}

func (m *memLedger) EnsureSnapshot(_ context.Context, _ pgx.Tx, variantID, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[variantID]; !ok {
		m.snapshots[variantID] = &models.StockSnapshot{
			VariantID:   variantID,
			Location:    location,
			LastUpdated: time.Now(),
		}
	}
	return nil
}

func (m *memLedger) GetSnapshot(_ context.Context, _ pgx.Tx, variantID string) (*models.StockSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.snapshots[variantID]
	if !ok {
		return nil, fault.NotFound("stock snapshot for variant %s", variantID)
	}
	clone := *snapshot
	return &clone, nil
}

func (m *memLedger) CurrentQuantity(ctx context.Context, tx pgx.Tx, variantID string) (int64, error) {
	snapshot, err := m.GetSnapshot(ctx, tx, variantID)
	if err != nil {
		return 0, err
	}
	return snapshot.Quantity, nil
}

func (m *memLedger) GetEntry(_ context.Context, _ pgx.Tx, entryID string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries {
		if entry.ID == entryID {
			clone := *entry
			return &clone, nil
		}
	}
	return nil, fault.NotFound("ledger entry %s", entryID)
}

func (m *memLedger) ListEntries(_ context.Context, _ pgx.Tx, variantID string, limit, offset uint64) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, entry := range m.entries {
		if entry.VariantID == variantID {
			clone := *entry
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= uint64(len(out)) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memLedger) ListEntriesByReference(_ context.Context, _ pgx.Tx, referenceType enum.LedgerReferenceType, referenceID string) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, entry := range m.entries {
		if entry.ReferenceType == referenceType && entry.ReferenceID != nil && *entry.ReferenceID == referenceID {
			clone := *entry
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memLedger) SumEntries(_ context.Context, _ pgx.Tx, variantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, entry := range m.entries {
		if entry.VariantID == variantID {
			sum += entry.ChangeAmount
		}
	}
	return sum, nil
}

func (m *memLedger) ListLowStock(_ context.Context, _ pgx.Tx) ([]*ledger.LowStockRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog.mu.Lock()
	defer m.catalog.mu.Unlock()

	var out []*ledger.LowStockRow
	for variantID, snapshot := range m.snapshots {
		variant, ok := m.catalog.variants[variantID]
		if !ok {
			continue
		}
		product, ok := m.catalog.products[variant.ProductID]
		if !ok || product.MinStockLevel <= 0 {
			continue
		}
		if snapshot.Quantity <= product.MinStockLevel {
			out = append(out, &ledger.LowStockRow{
				VariantID:     variantID,
				SKU:           variant.SKU,
				Quantity:      snapshot.Quantity,
				MinStockLevel: product.MinStockLevel,
			})
		}
	}
	return out, nil
}

type memPurchase struct {
	mu         sync.Mutex
	orders     map[string]*models.PurchaseOrder
	receptions map[string]*models.Reception
	suppliers  map[string]*models.Supplier
	poSeq      int
}

func newMemPurchase() *memPurchase {
	return &memPurchase{
		orders:     make(map[string]*models.PurchaseOrder),
		receptions: make(map[string]*models.Reception),
		suppliers:  make(map[string]*models.Supplier),
	}
}

func (m *memPurchase) CreateSupplier(_ context.Context, _ pgx.Tx, supplier *models.Supplier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if supplier.ID == "" {
		supplier.ID = uuid.NewString()
	}
	supplier.CreatedAt = time.Now()
	clone := *supplier
	m.suppliers[supplier.ID] = &clone
	return nil
}

func (m *memPurchase) GetSupplier(_ context.Context, _ pgx.Tx, supplierID string) (*models.Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	supplier, ok := m.suppliers[supplierID]
	if !ok {
		return nil, fault.NotFound("supplier %s", supplierID)
	}
	clone := *supplier
	return &clone, nil
}

func (m *memPurchase) ListSuppliers(_ context.Context, _ pgx.Tx, _, _ uint64) ([]*models.Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Supplier, 0, len(m.suppliers))
	for _, supplier := range m.suppliers {
		clone := *supplier
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memPurchase) CreatePurchaseOrder(_ context.Context, _ pgx.Tx, po *models.PurchaseOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if po.ID == "" {
		po.ID = uuid.NewString()
	}
	m.poSeq++
	po.PONumber = poNumber(m.poSeq)
	po.Status = enum.PurchaseOrderStatusDraft
	po.CreatedAt = time.Now()
	po.UpdatedAt = po.CreatedAt
	clone := *po
	m.orders[po.ID] = &clone
	return nil
}

func poNumber(n int) string {
	return fmt.Sprintf("PO-%d-%06d", time.Now().Year(), n)
}

func (m *memPurchase) GetPurchaseOrder(_ context.Context, _ pgx.Tx, poID string) (*models.PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	po, ok := m.orders[poID]
	if !ok {
		return nil, fault.NotFound("purchase order %s", poID)
	}
	clone := *po
	return &clone, nil
}

func (m *memPurchase) ListPurchaseOrders(_ context.Context, _ pgx.Tx, statuses []enum.PurchaseOrderStatus, _, _ uint64) ([]*models.PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PurchaseOrder
	for _, po := range m.orders {
		if len(statuses) > 0 {
			match := false
			for _, status := range statuses {
				if po.Status == status {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		clone := *po
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memPurchase) UpdatePurchaseOrderStatus(_ context.Context, _ pgx.Tx, poID string, status enum.PurchaseOrderStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	po, ok := m.orders[poID]
	if !ok {
		return fault.NotFound("purchase order %s", poID)
	}
	po.Status = status
	po.UpdatedAt = updatedAt
	return nil
}

func (m *memPurchase) CreateReception(_ context.Context, _ pgx.Tx, reception *models.Reception) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reception.ID == "" {
		reception.ID = uuid.NewString()
	}
	reception.CreatedAt = time.Now()
	for _, item := range reception.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.ReceptionID = reception.ID
	}
	clone := *reception
	m.receptions[reception.ID] = &clone
	return nil
}

func (m *memPurchase) GetReception(_ context.Context, _ pgx.Tx, receptionID string) (*models.Reception, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reception, ok := m.receptions[receptionID]
	if !ok {
		return nil, fault.NotFound("reception %s", receptionID)
	}
	clone := *reception
	return &clone, nil
}

func (m *memPurchase) ListReceptions(_ context.Context, _ pgx.Tx, poID string) ([]*models.Reception, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Reception
	for _, reception := range m.receptions {
		if reception.PurchaseOrderID == poID {
			clone := *reception
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *memPurchase) MarkReceptionCancelled(_ context.Context, _ pgx.Tx, receptionID string, cancelledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reception, ok := m.receptions[receptionID]
	if !ok {
		return fault.NotFound("reception %s", receptionID)
	}
	reception.Status = enum.ReceptionStatusCancelled
	reception.CancelledAt = &cancelledAt
	return nil
}

func (m *memPurchase) ReceivedQuantities(_ context.Context, _ pgx.Tx, poID string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	received := make(map[string]int64)
	for _, reception := range m.receptions {
		if reception.PurchaseOrderID != poID || reception.Status == enum.ReceptionStatusCancelled {
			continue
		}
		for _, item := range reception.Items {
			received[item.VariantID] += item.Quantity
		}
	}
	return received, nil
}

type memOrder struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func newMemOrder() *memOrder {
	return &memOrder{orders: make(map[string]*models.Order)}
}

func (m *memOrder) CreateOrder(_ context.Context, _ pgx.Tx, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = enum.OrderStatusPending
	}
	if order.Fulfillment == "" {
		order.Fulfillment = enum.FulfillmentStatusPending
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	clone := *order
	m.orders[order.ID] = &clone
	return nil
}

func (m *memOrder) GetOrder(_ context.Context, _ pgx.Tx, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, fault.NotFound("order %s", orderID)
	}
	clone := *order
	return &clone, nil
}

func (m *memOrder) ListOrders(_ context.Context, _ pgx.Tx, customerID string, _, _ uint64) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Order
	for _, order := range m.orders {
		if customerID != "" && (order.CustomerID == nil || *order.CustomerID != customerID) {
			continue
		}
		clone := *order
		out = append(out, &clone)
	}
	return out, nil
}

func (m *memOrder) UpdateOrderStatus(_ context.Context, _ pgx.Tx, orderID string, status enum.OrderStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return fault.NotFound("order %s", orderID)
	}
	order.Status = status
	order.UpdatedAt = updatedAt
	return nil
}

func (m *memOrder) UpdateFulfillment(_ context.Context, _ pgx.Tx, orderID string, fulfillment enum.FulfillmentStatus, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return fault.NotFound("order %s", orderID)
	}
	order.Fulfillment = fulfillment
	order.UpdatedAt = updatedAt
	return nil
}

func (m *memOrder) UpdateShipping(_ context.Context, _ pgx.Tx, orderID string, cost decimal.Decimal, carrier string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return fault.NotFound("order %s", orderID)
	}
	order.ShippingCost = cost
	order.ShippingCarrier = carrier
	order.Total = order.Subtotal.Add(order.Tax).Add(cost)
	order.UpdatedAt = updatedAt
	return nil
}

func (m *memOrder) ListOrderItems(ctx context.Context, tx pgx.Tx, orderID string) ([]*models.OrderItem, error) {
	order, err := m.GetOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	return order.Items, nil
}

type memEvent struct {
	mu     sync.Mutex
	events map[string]*models.Event
}

func newMemEvent() *memEvent {
	return &memEvent{events: make(map[string]*models.Event)}
}

func (m *memEvent) Create(_ context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *event
	m.events[event.ID] = &clone
	return nil
}

func (m *memEvent) GetByID(_ context.Context, id string) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[id]
	if !ok {
		return nil, fault.NotFound("event %s", id)
	}
	clone := *event
	return &clone, nil
}

func (m *memEvent) MarkAsProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[id]
	if !ok {
		return fault.NotFound("event %s", id)
	}
	event.Processed = true
	return nil
}
