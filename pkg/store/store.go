// Package store defines the record store contract for the product catalog
// and the sales log, plus the backends that implement it.
//
// Invariants:
// - Lookups never fail on empty results; they return an empty slice.
// - NotFound, Validation and Transport failures are distinct error kinds.
// - The sales log is append-only.
package store

import (
	"context"
	"time"
)

// Product is one record in the product catalog.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Variant  string  `json:"variant"`
	Stock    int     `json:"stock"`
	Unit     string  `json:"unit"`
	Price    float64 `json:"price"`
}

// Sale is one record in the sales log.
type Sale struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Product   string    `json:"product"`
	Quantity  int       `json:"quantity"`
	UnitPrice float64   `json:"unit_price"`
	Total     float64   `json:"total"`
	SoldBy    string    `json:"sold_by"`
	Date      time.Time `json:"date"`
}

// RecordStore is the adapter contract against the external system of record.
type RecordStore interface {
	// QueryProducts returns products matching query as a case-insensitive
	// substring of name, category or variant. An empty query returns all
	// products. No results is not an error.
	QueryProducts(ctx context.Context, query string) ([]Product, error)

	// UpdateStock sets the stock quantity of a product and returns the
	// updated record.
	UpdateStock(ctx context.Context, productID string, newStock int) (Product, error)

	// UpdatePrice sets the unit price of a product and returns the
	// updated record.
	UpdatePrice(ctx context.Context, productID string, newPrice float64) (Product, error)

	// AppendSale appends a sale to the sales log and returns the stored
	// record.
	AppendSale(ctx context.Context, sale Sale) (Sale, error)
}
