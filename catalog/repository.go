// Package catalog persists products and their sellable variants. The
// orchestrator reads product type and backorder policy from here; variant
// cost is only ever rewritten through the costing path.
package catalog

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
)

var _ Repository = (*repository)(nil)

type Repository interface {
	CreateProduct(ctx context.Context, tx pgx.Tx, product *models.Product) error
	GetProduct(ctx context.Context, tx pgx.Tx, productID string) (*models.Product, error)
	GetProductByVariant(ctx context.Context, tx pgx.Tx, variantID string) (*models.Product, error)
	UpdateProduct(ctx context.Context, tx pgx.Tx, product *models.Product) error
	ListProducts(ctx context.Context, tx pgx.Tx, limit, offset uint64) ([]*models.Product, error)

	CreateVariant(ctx context.Context, tx pgx.Tx, variant *models.Variant) error
	GetVariant(ctx context.Context, tx pgx.Tx, variantID string) (*models.Variant, error)
	GetVariantBySKU(ctx context.Context, tx pgx.Tx, sku string) (*models.Variant, error)
	UpdateVariant(ctx context.Context, tx pgx.Tx, variant *models.Variant) error
	UpdateVariantCost(ctx context.Context, tx pgx.Tx, variantID string, cost decimal.Decimal, updatedAt time.Time) error
	DeleteVariant(ctx context.Context, tx pgx.Tx, variantID string) error
	ListVariants(ctx context.Context, tx pgx.Tx, productID string, limit, offset uint64) ([]*models.Variant, error)
	SearchVariants(ctx context.Context, tx pgx.Tx, term string, limit uint64) ([]*models.Variant, error)
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

func variantCacheKey(variantID string) string {
	return fmt.Sprintf("variant:%s", variantID)
}

func (r *repository) CreateProduct(ctx context.Context, tx pgx.Tx, product *models.Product) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := r.exec(tx).Exec(ctx,
		`INSERT INTO products
		   (id, title, description, base_sku, category, image_url, type,
		    min_stock_level, allow_backorder, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		product.ID, product.Title, product.Description, product.BaseSKU,
		product.Category, product.ImageURL, string(product.Type),
		product.MinStockLevel, product.AllowBackorder, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create product", zap.Error(err))
	}
	return err
}

const selectProduct = `SELECT id, title, description, base_sku, category, image_url, type,
       min_stock_level, allow_backorder, created_at, updated_at
  FROM products`

func (r *repository) GetProduct(ctx context.Context, tx pgx.Tx, productID string) (*models.Product, error) {
	product, err := scanProduct(r.exec(tx).QueryRow(ctx, selectProduct+` WHERE id = $1`, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("product %s", productID)
		}
		r.logger.Error("failed to get product", zap.String("product_id", productID), zap.Error(err))
		return nil, err
	}
	return product, nil
}

func (r *repository) GetProductByVariant(ctx context.Context, tx pgx.Tx, variantID string) (*models.Product, error) {
	product, err := scanProduct(r.exec(tx).QueryRow(ctx,
		`SELECT p.id, p.title, p.description, p.base_sku, p.category, p.image_url, p.type,
		        p.min_stock_level, p.allow_backorder, p.created_at, p.updated_at
		   FROM products p
		   JOIN product_variants v ON v.product_id = p.id
		  WHERE v.id = $1`, variantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("no product for variant %s", variantID)
		}
		r.logger.Error("failed to get product by variant", zap.String("variant_id", variantID), zap.Error(err))
		return nil, err
	}
	return product, nil
}

func (r *repository) UpdateProduct(ctx context.Context, tx pgx.Tx, product *models.Product) error {
	product.UpdatedAt = time.Now()
	tag, err := r.exec(tx).Exec(ctx,
		`UPDATE products
		    SET title = $2, description = $3, base_sku = $4, category = $5, image_url = $6,
		        type = $7, min_stock_level = $8, allow_backorder = $9, updated_at = $10
		  WHERE id = $1`,
		product.ID, product.Title, product.Description, product.BaseSKU, product.Category,
		product.ImageURL, string(product.Type), product.MinStockLevel, product.AllowBackorder,
		product.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to update product", zap.String("product_id", product.ID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("product %s", product.ID)
	}
	return nil
}

func (r *repository) ListProducts(ctx context.Context, tx pgx.Tx, limit, offset uint64) ([]*models.Product, error) {
	rows, err := r.exec(tx).Query(ctx,
		selectProduct+` ORDER BY title LIMIT $1 OFFSET $2`, int64(limit), int64(offset))
	if err != nil {
		r.logger.Error("failed to list products", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func (r *repository) CreateVariant(ctx context.Context, tx pgx.Tx, variant *models.Variant) error {
	if variant.ID == "" {
		variant.ID = uuid.NewString()
	}
	now := time.Now()
	variant.CreatedAt = now
	variant.UpdatedAt = now

	_, err := r.exec(tx).Exec(ctx,
		`INSERT INTO product_variants
		   (id, product_id, sku, barcode, set_name, rarity, variant_condition, language,
		    is_foil, weight_grams, length_cm, width_cm, height_cm, price, compare_at_price,
		    cost_price, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		variant.ID, variant.ProductID, variant.SKU, variant.Barcode, variant.SetName,
		variant.Rarity, variant.Condition, variant.Language, variant.IsFoil,
		variant.WeightGrams, variant.LengthCM, variant.WidthCM, variant.HeightCM,
		variant.Price, variant.CompareAtPrice, variant.CostPrice,
		variant.CreatedAt, variant.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to create variant", zap.String("sku", variant.SKU), zap.Error(err))
	}
	return err
}

const selectVariant = `SELECT id, product_id, sku, barcode, set_name, rarity, variant_condition,
       language, is_foil, weight_grams, length_cm, width_cm, height_cm, price,
       compare_at_price, cost_price, created_at, updated_at
  FROM product_variants`

func (r *repository) GetVariant(ctx context.Context, tx pgx.Tx, variantID string) (*models.Variant, error) {
	cacheKey := variantCacheKey(variantID)
	var cached models.Variant

	if tx == nil {
		found, err := r.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			r.logger.Warn("failed to get variant from cache", zap.Error(err))
		}
		if found {
			return &cached, nil
		}
	}

	variant, err := scanVariant(r.exec(tx).QueryRow(ctx, selectVariant+` WHERE id = $1`, variantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("variant %s", variantID)
		}
		r.logger.Error("failed to get variant", zap.String("variant_id", variantID), zap.Error(err))
		return nil, err
	}

	if tx == nil {
		if err = r.cache.Set(ctx, cacheKey, variant); err != nil {
			r.logger.Warn("failed to cache variant", zap.Error(err))
		}
	}

	return variant, nil
}

func (r *repository) GetVariantBySKU(ctx context.Context, tx pgx.Tx, sku string) (*models.Variant, error) {
	variant, err := scanVariant(r.exec(tx).QueryRow(ctx, selectVariant+` WHERE sku = $1`, sku))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fault.NotFound("variant with SKU %s", sku)
		}
		r.logger.Error("failed to get variant by SKU", zap.String("sku", sku), zap.Error(err))
		return nil, err
	}
	return variant, nil
}

func (r *repository) UpdateVariant(ctx context.Context, tx pgx.Tx, variant *models.Variant) error {
	variant.UpdatedAt = time.Now()
	tag, err := r.exec(tx).Exec(ctx,
		`UPDATE product_variants
		    SET sku = $2, barcode = $3, set_name = $4, rarity = $5, variant_condition = $6,
		        language = $7, is_foil = $8, weight_grams = $9, length_cm = $10, width_cm = $11,
		        height_cm = $12, price = $13, compare_at_price = $14, updated_at = $15
		  WHERE id = $1`,
		variant.ID, variant.SKU, variant.Barcode, variant.SetName, variant.Rarity,
		variant.Condition, variant.Language, variant.IsFoil, variant.WeightGrams,
		variant.LengthCM, variant.WidthCM, variant.HeightCM, variant.Price,
		variant.CompareAtPrice, variant.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to update variant", zap.String("variant_id", variant.ID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("variant %s", variant.ID)
	}
	r.invalidateVariantCache(ctx, variant.ID)
	return nil
}

// UpdateVariantCost rewrites the weighted-average cost. Only the costing
// path may call this.
func (r *repository) UpdateVariantCost(ctx context.Context, tx pgx.Tx, variantID string, cost decimal.Decimal, updatedAt time.Time) error {
	tag, err := r.exec(tx).Exec(ctx,
		`UPDATE product_variants SET cost_price = $2, updated_at = $3 WHERE id = $1`,
		variantID, cost, updatedAt,
	)
	if err != nil {
		r.logger.Error("failed to update variant cost", zap.String("variant_id", variantID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("variant %s", variantID)
	}
	r.invalidateVariantCache(ctx, variantID)
	return nil
}

func (r *repository) DeleteVariant(ctx context.Context, tx pgx.Tx, variantID string) error {
	tag, err := r.exec(tx).Exec(ctx, `DELETE FROM product_variants WHERE id = $1`, variantID)
	if err != nil {
		r.logger.Error("failed to delete variant", zap.String("variant_id", variantID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("variant %s", variantID)
	}
	r.invalidateVariantCache(ctx, variantID)
	return nil
}

func (r *repository) ListVariants(ctx context.Context, tx pgx.Tx, productID string, limit, offset uint64) ([]*models.Variant, error) {
	rows, err := r.exec(tx).Query(ctx,
		selectVariant+` WHERE product_id = $1 ORDER BY sku LIMIT $2 OFFSET $3`,
		productID, int64(limit), int64(offset))
	if err != nil {
		r.logger.Error("failed to list variants", zap.String("product_id", productID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return collectVariants(rows)
}

func (r *repository) SearchVariants(ctx context.Context, tx pgx.Tx, term string, limit uint64) ([]*models.Variant, error) {
	rows, err := r.exec(tx).Query(ctx,
		selectVariant+` WHERE sku ILIKE '%' || $1 || '%' OR barcode = $1 ORDER BY sku LIMIT $2`,
		term, int64(limit))
	if err != nil {
		r.logger.Error("failed to search variants", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	return collectVariants(rows)
}

func (r *repository) invalidateVariantCache(ctx context.Context, variantID string) {
	if err := r.cache.Delete(ctx, variantCacheKey(variantID)); err != nil {
		r.logger.Warn("failed to invalidate variant cache", zap.String("variant_id", variantID), zap.Error(err))
	}
}

func scanProduct(row pgx.Row) (*models.Product, error) {
	product := new(models.Product)
	var description, baseSKU, category, imageURL *string
	err := row.Scan(&product.ID, &product.Title, &description, &baseSKU, &category,
		&imageURL, &product.Type, &product.MinStockLevel, &product.AllowBackorder,
		&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		return nil, err
	}
	product.Description = deref(description)
	product.BaseSKU = deref(baseSKU)
	product.Category = deref(category)
	product.ImageURL = deref(imageURL)
	return product, nil
}

func scanVariant(row pgx.Row) (*models.Variant, error) {
	variant := new(models.Variant)
	var barcode, setName, rarity, condition, language *string
	err := row.Scan(&variant.ID, &variant.ProductID, &variant.SKU, &barcode, &setName,
		&rarity, &condition, &language, &variant.IsFoil, &variant.WeightGrams,
		&variant.LengthCM, &variant.WidthCM, &variant.HeightCM, &variant.Price,
		&variant.CompareAtPrice, &variant.CostPrice, &variant.CreatedAt, &variant.UpdatedAt)
	if err != nil {
		return nil, err
	}
	variant.Barcode = deref(barcode)
	variant.SetName = deref(setName)
	variant.Rarity = deref(rarity)
	variant.Condition = deref(condition)
	variant.Language = deref(language)
	return variant, nil
}

func collectVariants(rows pgx.Rows) ([]*models.Variant, error) {
	var variants []*models.Variant
	for rows.Next() {
		variant, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		variants = append(variants, variant)
	}
	return variants, rows.Err()
}

func (r *repository) exec(tx pgx.Tx) driver.Querier {
	if tx != nil {
		return tx
	}
	return r.conn
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
