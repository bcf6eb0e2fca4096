package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/flamefinish/stockbot/internal/observability"
)

// SQLiteStore implements RecordStore on a local SQLite database. It backs
// the offline mode and the test suite; the schema mirrors the two external
// databases (catalog and sales log).
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (and if needed initializes) a SQLite-backed store.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("path", path).Msg("SQLite record store initialized")
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS products (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	variant  TEXT NOT NULL DEFAULT '',
	stock    INTEGER NOT NULL DEFAULT 0,
	unit     TEXT NOT NULL DEFAULT '',
	price    REAL NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS sales (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	product    TEXT NOT NULL,
	quantity   INTEGER NOT NULL,
	unit_price REAL NOT NULL,
	total      REAL NOT NULL,
	sold_by    TEXT NOT NULL,
	date       TEXT NOT NULL
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// InsertProduct adds a product to the catalog. A missing ID is generated.
func (s *SQLiteStore) InsertProduct(ctx context.Context, p Product) (_ Product, err error) {
	defer observability.TimeStoreRequest("sqlite", "insert_product")(&err)
	if p.Name == "" {
		return Product{}, NewValidationError("name", "must not be empty")
	}
	if p.Stock < 0 {
		return Product{}, NewValidationError("stock", "must not be negative")
	}
	if p.Price < 0 {
		return Product{}, NewValidationError("price", "must not be negative")
	}
	if p.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return Product{}, NewTransportError("insert", err)
		}
		p.ID = id
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, category, variant, stock, unit, price) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Category, p.Variant, p.Stock, p.Unit, p.Price,
	)
	if err != nil {
		return Product{}, NewTransportError("insert", err)
	}
	return p, nil
}

// QueryProducts returns catalog entries matching query, or all entries for
// an empty query.
func (s *SQLiteStore) QueryProducts(ctx context.Context, query string) (_ []Product, err error) {
	defer observability.TimeStoreRequest("sqlite", "query_products")(&err)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, category, variant, stock, unit, price FROM products
		 WHERE ?1 = ''
		    OR instr(lower(name), lower(?1)) > 0
		    OR instr(lower(category), lower(?1)) > 0
		    OR instr(lower(variant), lower(?1)) > 0
		 ORDER BY name`,
		query,
	)
	if err != nil {
		return nil, NewTransportError("query", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Variant, &p.Stock, &p.Unit, &p.Price); err != nil {
			return nil, NewTransportError("query", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, NewTransportError("query", err)
	}
	return products, nil
}

// UpdateStock sets the stock quantity of a product.
func (s *SQLiteStore) UpdateStock(ctx context.Context, productID string, newStock int) (_ Product, err error) {
	defer observability.TimeStoreRequest("sqlite", "update_stock")(&err)
	if newStock < 0 {
		return Product{}, NewValidationError("new_stock", "must not be negative")
	}

	res, err := s.db.ExecContext(ctx, `UPDATE products SET stock = ? WHERE id = ?`, newStock, productID)
	if err != nil {
		return Product{}, NewTransportError("update_stock", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Product{}, NewTransportError("update_stock", err)
	}
	if affected == 0 {
		return Product{}, ErrNotFound
	}

	return s.getProduct(ctx, productID)
}

// UpdatePrice sets the unit price of a product.
func (s *SQLiteStore) UpdatePrice(ctx context.Context, productID string, newPrice float64) (_ Product, err error) {
	defer observability.TimeStoreRequest("sqlite", "update_price")(&err)
	if newPrice < 0 {
		return Product{}, NewValidationError("new_price", "must not be negative")
	}

	res, err := s.db.ExecContext(ctx, `UPDATE products SET price = ? WHERE id = ?`, newPrice, productID)
	if err != nil {
		return Product{}, NewTransportError("update_price", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Product{}, NewTransportError("update_price", err)
	}
	if affected == 0 {
		return Product{}, ErrNotFound
	}

	return s.getProduct(ctx, productID)
}

// AppendSale appends a sale to the sales log.
func (s *SQLiteStore) AppendSale(ctx context.Context, sale Sale) (_ Sale, err error) {
	defer observability.TimeStoreRequest("sqlite", "append_sale")(&err)
	if sale.Quantity <= 0 {
		return Sale{}, NewValidationError("quantity", "must be positive")
	}
	if sale.UnitPrice < 0 {
		return Sale{}, NewValidationError("unit_price", "must not be negative")
	}
	if sale.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return Sale{}, NewTransportError("append_sale", err)
		}
		sale.ID = id
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sales (id, product_id, product, quantity, unit_price, total, sold_by, date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.ProductID, sale.Product, sale.Quantity, sale.UnitPrice, sale.Total, sale.SoldBy,
		sale.Date.Format(time.RFC3339),
	)
	if err != nil {
		return Sale{}, NewTransportError("append_sale", err)
	}

	s.logger.Debug().
		Str("sale_id", sale.ID).
		Str("product", sale.Product).
		Int("quantity", sale.Quantity).
		Msg("Sale logged")

	return sale, nil
}

// ListSales returns the sales log, newest first.
func (s *SQLiteStore) ListSales(ctx context.Context) (_ []Sale, err error) {
	defer observability.TimeStoreRequest("sqlite", "list_sales")(&err)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, product, quantity, unit_price, total, sold_by, date FROM sales ORDER BY date DESC`,
	)
	if err != nil {
		return nil, NewTransportError("list_sales", err)
	}
	defer rows.Close()

	sales := []Sale{}
	for rows.Next() {
		var sale Sale
		var date string
		if err := rows.Scan(&sale.ID, &sale.ProductID, &sale.Product, &sale.Quantity, &sale.UnitPrice, &sale.Total, &sale.SoldBy, &date); err != nil {
			return nil, NewTransportError("list_sales", err)
		}
		if parsed, err := time.Parse(time.RFC3339, date); err == nil {
			sale.Date = parsed
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, NewTransportError("list_sales", err)
	}
	return sales, nil
}

func (s *SQLiteStore) getProduct(ctx context.Context, productID string) (Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, variant, stock, unit, price FROM products WHERE id = ?`,
		productID,
	).Scan(&p.ID, &p.Name, &p.Category, &p.Variant, &p.Stock, &p.Unit, &p.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, NewTransportError("get_product", err)
	}
	return p, nil
}
