package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"agora-server/internal/model"
	"agora-server/internal/store"
)

// productColumns lists columns returned by product SELECT queries, seller name last.
var productColumns = []string{
	"p.id", "p.seller_id", "p.title", "p.description", "p.price", "p.currency",
	"p.stock", "p.attributes", "p.created_at", "p.updated_at",
	"COALESCE(u.display_name, '')",
}

var sortOrders = map[string]string{
	model.SortRecent:    "p.created_at DESC",
	model.SortPriceAsc:  "p.price ASC",
	model.SortPriceDesc: "p.price DESC",
	model.SortTitle:     "p.title ASC",
}

// ProductSeller returns the persisted owner of a product.
func (s *Store) ProductSeller(ctx context.Context, productID string) (string, error) {
	var sellerID string
	err := s.db.QueryRowContext(ctx, `SELECT seller_id FROM products WHERE id = $1`, productID).Scan(&sellerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading product seller: %w", err)
	}
	return sellerID, nil
}

// CreateProduct inserts the product, links its categories and re-reads the
// joined view inside one transaction.
func (s *Store) CreateProduct(ctx context.Context, m model.ProductMutation) (*model.Product, error) {
	attrs, err := marshalAttributes(m.Attributes)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New().String()
	now := time.Now().UTC()

	query, args, err := psq.Insert("products").
		Columns("id", "seller_id", "title", "description", "price", "currency", "stock", "attributes", "created_at", "updated_at").
		Values(id, m.SellerID, m.Title, m.Description, m.Price, m.Currency, m.Stock, attrs, now, now).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building product insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("inserting product: %w", err)
	}

	if err := replaceCategories(ctx, tx, id, m.CategoryIDs); err != nil {
		return nil, err
	}

	product, err := loadProduct(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing product: %w", err)
	}
	return product, nil
}

// UpdateProduct locks the row, rewrites scalars, replaces category links and
// re-reads the joined view inside one transaction.
func (s *Store) UpdateProduct(ctx context.Context, productID string, m model.ProductMutation) (*model.Product, error) {
	attrs, err := marshalAttributes(m.Attributes)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking product: %w", err)
	}

	query, args, err := psq.Update("products").
		Set("title", m.Title).
		Set("description", m.Description).
		Set("price", m.Price).
		Set("currency", m.Currency).
		Set("stock", m.Stock).
		Set("attributes", attrs).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": productID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building product update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("updating product: %w", err)
	}

	if err := replaceCategories(ctx, tx, productID, m.CategoryIDs); err != nil {
		return nil, err
	}

	product, err := loadProduct(ctx, tx, productID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing product update: %w", err)
	}
	return product, nil
}

// DeleteProduct removes a product; category links cascade.
func (s *Store) DeleteProduct(ctx context.Context, productID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return fmt.Errorf("deleting product: %w", err)
	}
	return requireAffected(res)
}

// applyProductFilter adds filter conditions to a SELECT builder.
func applyProductFilter(qb sq.SelectBuilder, f model.SearchFilter) sq.SelectBuilder {
	if f.Query != "" {
		pattern := "%" + f.Query + "%"
		qb = qb.Where(sq.Or{sq.ILike{"p.title": pattern}, sq.ILike{"p.description": pattern}})
	}
	if f.SellerID != "" {
		qb = qb.Where(sq.Eq{"p.seller_id": f.SellerID})
	}
	if f.CategoryID != "" {
		qb = qb.Where(sq.Expr(
			"EXISTS (SELECT 1 FROM product_categories pc WHERE pc.product_id = p.id AND pc.category_id = ?)",
			f.CategoryID,
		))
	}
	if f.MinPrice != nil {
		qb = qb.Where(sq.GtOrEq{"p.price": *f.MinPrice})
	}
	if f.MaxPrice != nil {
		qb = qb.Where(sq.LtOrEq{"p.price": *f.MaxPrice})
	}
	return qb
}

// SearchProducts returns one page of products plus the total match count.
// The filter is expected to be normalized by the caller.
func (s *Store) SearchProducts(ctx context.Context, f model.SearchFilter) ([]*model.Product, int, error) {
	countQuery, countArgs, err := applyProductFilter(psq.Select("COUNT(*)").From("products p"), f).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("building count query: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting products: %w", err)
	}

	order, ok := sortOrders[f.SortBy]
	if !ok {
		order = sortOrders[model.SortRecent]
	}
	qb := applyProductFilter(
		psq.Select(productColumns...).From("products p").LeftJoin("users u ON u.id = p.seller_id"), f,
	).OrderBy(order, "p.id").
		Limit(uint64(f.PageSize)).
		Offset(uint64(f.Page * f.PageSize))

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("building product query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]*model.Product, 0, f.PageSize)
	byID := make(map[string]*model.Product, f.PageSize)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating product rows: %w", err)
	}

	if len(items) > 0 {
		if err := attachCategories(ctx, s.db, byID); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// replaceCategories deletes every link of the product then inserts ids.
func replaceCategories(ctx context.Context, q queryer, productID string, ids []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM product_categories WHERE product_id = $1`, productID); err != nil {
		return fmt.Errorf("clearing product categories: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	ib := psq.Insert("product_categories").Columns("product_id", "category_id")
	for _, id := range ids {
		ib = ib.Values(productID, id)
	}
	query, args, err := ib.ToSql()
	if err != nil {
		return fmt.Errorf("building category insert: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return fmt.Errorf("linking categories: %w", store.ErrNotFound)
		}
		return fmt.Errorf("linking categories: %w", err)
	}
	return nil
}

// loadProduct reads the product joined with seller and categories.
func loadProduct(ctx context.Context, q queryer, productID string) (*model.Product, error) {
	query, args, err := psq.Select(productColumns...).
		From("products p").
		LeftJoin("users u ON u.id = p.seller_id").
		Where(sq.Eq{"p.id": productID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building product query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading product: %w", err)
	}
	var p *model.Product
	for rows.Next() {
		if p, err = scanProduct(rows); err != nil {
			_ = rows.Close()
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterating product rows: %w", err)
	}
	_ = rows.Close()
	if p == nil {
		return nil, store.ErrNotFound
	}

	if err := attachCategories(ctx, q, map[string]*model.Product{p.ID: p}); err != nil {
		return nil, err
	}
	return p, nil
}

// attachCategories fills Categories for every product in byID with one query.
func attachCategories(ctx context.Context, q queryer, byID map[string]*model.Product) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT pc.product_id, c.id, c.name
		FROM product_categories pc
		JOIN categories c ON c.id = pc.category_id
		WHERE pc.product_id = ANY($1)
		ORDER BY c.name
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("reading product categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var productID string
		var c model.Category
		if err := rows.Scan(&productID, &c.ID, &c.Name); err != nil {
			return fmt.Errorf("scanning category: %w", err)
		}
		if p, ok := byID[productID]; ok {
			p.Categories = append(p.Categories, c)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating category rows: %w", err)
	}
	return nil
}

func scanProduct(rows *sql.Rows) (*model.Product, error) {
	var p model.Product
	var attrs []byte
	var sellerName string

	err := rows.Scan(
		&p.ID, &p.SellerID, &p.Title, &p.Description, &p.Price, &p.Currency,
		&p.Stock, &attrs, &p.CreatedAt, &p.UpdatedAt, &sellerName,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning product: %w", err)
	}

	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return nil, fmt.Errorf("decoding attributes: %w", err)
		}
	}
	p.Categories = []model.Category{}
	p.Seller = &model.Seller{ID: p.SellerID, Name: sellerName}
	return &p, nil
}

func marshalAttributes(attrs []model.ProductAttribute) ([]byte, error) {
	if attrs == nil {
		attrs = []model.ProductAttribute{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encoding attributes: %w", err)
	}
	return data, nil
}
