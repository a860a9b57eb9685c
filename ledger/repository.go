// Package ledger persists the append-only inventory transaction log and
// the per-variant stock snapshot projected from it. Append is the only
// sanctioned way stock quantities change anywhere in the system.
package ledger

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
	// Append writes one ledger entry and folds it into the snapshot in
	// the same transaction. The snapshot row is locked per-variant, so
	// concurrent appends for the same variant serialize; appends for
	// different variants proceed independently.
	Append(ctx context.Context, tx pgx.Tx, params AppendParams) (*models.LedgerEntry, error)

	EnsureSnapshot(ctx context.Context, tx pgx.Tx, variantID, location string) error
	GetSnapshot(ctx context.Context, tx pgx.Tx, variantID string) (*models.StockSnapshot, error)
	CurrentQuantity(ctx context.Context, tx pgx.Tx, variantID string) (int64, error)

	GetEntry(ctx context.Context, tx pgx.Tx, entryID string) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, tx pgx.Tx, variantID string, limit, offset uint64) ([]*models.LedgerEntry, error)
	ListEntriesByReference(ctx context.Context, tx pgx.Tx, referenceType enum.LedgerReferenceType, referenceID string) ([]*models.LedgerEntry, error)

	// SumEntries recomputes the fold over all entries for a variant. Used
	// by consistency checks, never by the read path.
	SumEntries(ctx context.Context, tx pgx.Tx, variantID string) (int64, error)

	ListLowStock(ctx context.Context, tx pgx.Tx) ([]*LowStockRow, error)
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

func snapshotCacheKey(variantID string) string {
	return fmt.Sprintf("stock_snapshot:%s", variantID)
}

func (r *repository) Append(ctx context.Context, tx pgx.Tx, params AppendParams) (*models.LedgerEntry, error) {
	if tx == nil {
		return nil, fmt.Errorf("ledger append requires an enclosing transaction")
	}
	if params.ChangeAmount == 0 {
		return nil, fault.Validation("ledger change amount cannot be zero")
	}
	if !params.Reason.Valid() {
		return nil, fault.Validation("unknown ledger reason %q", params.Reason)
	}

	// 1. 鎖定該變體的快照列。NOWAIT 讓同一變體的並發寫入立即以
	// ConflictError 失敗，而不是排隊等待。
	var current int64
	err := tx.QueryRow(ctx,
		`SELECT quantity FROM stock_snapshots WHERE variant_id = $1 FOR UPDATE NOWAIT`,
		params.VariantID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("no stock snapshot for variant %s", params.VariantID)
		}
		r.logger.Error("failed to lock stock snapshot",
			zap.String("variant_id", params.VariantID), zap.Error(err))
		return nil, err
	}

	final := current + params.ChangeAmount
	now := time.Now()

	entry := &models.LedgerEntry{
		ID:                 uuid.NewString(),
		VariantID:          params.VariantID,
		ChangeAmount:       params.ChangeAmount,
		FinalStockSnapshot: final,
		Reason:             params.Reason,
		ReferenceType:      params.ReferenceType,
		ReferenceID:        params.ReferenceID,
		ReversedEntryID:    params.ReversedEntryID,
		PerformedBy:        params.PerformedBy,
		Note:               params.Note,
		CreatedAt:          now,
	}

	// 2. 寫入分錄
	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries
		   (id, variant_id, change_amount, final_stock_snapshot, reason,
		    reference_type, reference_id, reversed_entry_id, performed_by, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.VariantID, entry.ChangeAmount, entry.FinalStockSnapshot,
		string(entry.Reason), nullableString(string(entry.ReferenceType)),
		entry.ReferenceID, entry.ReversedEntryID,
		nullableString(entry.PerformedBy), nullableString(entry.Note), entry.CreatedAt,
	)
	if err != nil {
		r.logger.Error("failed to insert ledger entry",
			zap.String("variant_id", params.VariantID), zap.Error(err))
		return nil, err
	}

	// 3. 在同一交易內更新快照，避免帳與快照漂移
	_, err = tx.Exec(ctx,
		`UPDATE stock_snapshots SET quantity = $2, last_updated = $3 WHERE variant_id = $1`,
		params.VariantID, final, now,
	)
	if err != nil {
		r.logger.Error("failed to update stock snapshot",
			zap.String("variant_id", params.VariantID), zap.Error(err))
		return nil, err
	}

	if err = r.cache.Delete(ctx, snapshotCacheKey(params.VariantID)); err != nil {
		r.logger.Warn("failed to invalidate snapshot cache", zap.Error(err))
	}

	return entry, nil
}

func (r *repository) EnsureSnapshot(ctx context.Context, tx pgx.Tx, variantID, location string) error {
	_, err := r.exec(tx).Exec(ctx,
		`INSERT INTO stock_snapshots (variant_id, quantity, location, last_updated)
		 VALUES ($1, 0, $2, $3)
		 ON CONFLICT (variant_id) DO NOTHING`,
		variantID, location, time.Now(),
	)
	if err != nil {
		r.logger.Error("failed to ensure stock snapshot", zap.String("variant_id", variantID), zap.Error(err))
	}
	return err
}

func (r *repository) GetSnapshot(ctx context.Context, tx pgx.Tx, variantID string) (*models.StockSnapshot, error) {
	cacheKey := snapshotCacheKey(variantID)
	var snapshot models.StockSnapshot

	if tx == nil {
		found, err := r.cache.Get(ctx, cacheKey, &snapshot)
		if err != nil {
			r.logger.Warn("failed to get snapshot from cache", zap.Error(err))
		}
		if found {
			return &snapshot, nil
		}
	}

	err := r.exec(tx).QueryRow(ctx,
		`SELECT variant_id, quantity, location, last_updated FROM stock_snapshots WHERE variant_id = $1`,
		variantID,
	).Scan(&snapshot.VariantID, &snapshot.Quantity, &snapshot.Location, &snapshot.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("no stock snapshot for variant %s", variantID)
		}
		r.logger.Error("failed to get stock snapshot", zap.String("variant_id", variantID), zap.Error(err))
		return nil, err
	}

	if tx == nil {
		if err = r.cache.Set(ctx, cacheKey, snapshot); err != nil {
			r.logger.Warn("failed to cache stock snapshot", zap.Error(err))
		}
	}

	return &snapshot, nil
}

func (r *repository) CurrentQuantity(ctx context.Context, tx pgx.Tx, variantID string) (int64, error) {
	snapshot, err := r.GetSnapshot(ctx, tx, variantID)
	if err != nil {
		return 0, err
	}
	return snapshot.Quantity, nil
}

func (r *repository) GetEntry(ctx context.Context, tx pgx.Tx, entryID string) (*models.LedgerEntry, error) {
	row := r.exec(tx).QueryRow(ctx, selectEntry+` WHERE id = $1`, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("ledger entry %s", entryID)
		}
		r.logger.Error("failed to get ledger entry", zap.String("entry_id", entryID), zap.Error(err))
		return nil, err
	}
	return entry, nil
}

func (r *repository) ListEntries(ctx context.Context, tx pgx.Tx, variantID string, limit, offset uint64) ([]*models.LedgerEntry, error) {
	rows, err := r.exec(tx).Query(ctx,
		selectEntry+` WHERE variant_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		variantID, int64(limit), int64(offset),
	)
	if err != nil {
		r.logger.Error("failed to list ledger entries", zap.String("variant_id", variantID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return collectEntries(rows)
}

func (r *repository) ListEntriesByReference(ctx context.Context, tx pgx.Tx, referenceType enum.LedgerReferenceType, referenceID string) ([]*models.LedgerEntry, error) {
	rows, err := r.exec(tx).Query(ctx,
		selectEntry+` WHERE reference_type = $1 AND reference_id = $2 ORDER BY created_at, id`,
		string(referenceType), referenceID,
	)
	if err != nil {
		r.logger.Error("failed to list ledger entries by reference", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return collectEntries(rows)
}

func (r *repository) SumEntries(ctx context.Context, tx pgx.Tx, variantID string) (int64, error) {
	var sum int64
	err := r.exec(tx).QueryRow(ctx,
		`SELECT COALESCE(SUM(change_amount), 0) FROM ledger_entries WHERE variant_id = $1`,
		variantID,
	).Scan(&sum)
	if err != nil {
		r.logger.Error("failed to sum ledger entries", zap.String("variant_id", variantID), zap.Error(err))
		return 0, err
	}
	return sum, nil
}

func (r *repository) ListLowStock(ctx context.Context, tx pgx.Tx) ([]*LowStockRow, error) {
	rows, err := r.exec(tx).Query(ctx,
		`SELECT s.variant_id, v.sku, s.quantity, p.min_stock_level
		   FROM stock_snapshots s
		   JOIN product_variants v ON v.id = s.variant_id
		   JOIN products p ON p.id = v.product_id
		  WHERE s.quantity <= p.min_stock_level
		  ORDER BY s.quantity`,
	)
	if err != nil {
		r.logger.Error("failed to list low stock variants", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var result []*LowStockRow
	for rows.Next() {
		row := new(LowStockRow)
		if err = rows.Scan(&row.VariantID, &row.SKU, &row.Quantity, &row.MinStockLevel); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

const selectEntry = `SELECT id, variant_id, change_amount, final_stock_snapshot, reason,
       reference_type, reference_id, reversed_entry_id, performed_by, note, created_at
  FROM ledger_entries`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	entry := new(models.LedgerEntry)
	var referenceType, performedBy, note *string
	err := row.Scan(&entry.ID, &entry.VariantID, &entry.ChangeAmount, &entry.FinalStockSnapshot,
		&entry.Reason, &referenceType, &entry.ReferenceID, &entry.ReversedEntryID,
		&performedBy, &note, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if referenceType != nil {
		entry.ReferenceType = enum.LedgerReferenceType(*referenceType)
	}
	if performedBy != nil {
		entry.PerformedBy = *performedBy
	}
	if note != nil {
		entry.Note = *note
	}
	return entry, nil
}

func collectEntries(rows pgx.Rows) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// exec returns the transaction when one is supplied, otherwise the pool.
func (r *repository) exec(tx pgx.Tx) driver.Querier {
	if tx != nil {
		return tx
	}
	return r.conn
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
