package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCatalog(t *testing.T, s *SQLiteStore) Product {
	t.Helper()

	p, err := s.InsertProduct(context.Background(), Product{
		Name:     "Oak SPC Flooring",
		Category: "SPC",
		Variant:  "Natural Oak",
		Stock:    120,
		Unit:     "box",
		Price:    850,
	})
	require.NoError(t, err)
	return p
}

func TestSQLiteQueryProducts_All(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	_, err := s.InsertProduct(context.Background(), Product{
		Name:     "Walnut WPC Panel",
		Category: "WPC",
		Variant:  "Dark Walnut",
		Stock:    45,
		Unit:     "panel",
		Price:    1200,
	})
	require.NoError(t, err)

	products, err := s.QueryProducts(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestSQLiteQueryProducts_SubstringMatch(t *testing.T) {
	s := newTestStore(t)
	seedCatalog(t, s)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"name match", "oak", 1},
		{"category match", "spc", 1},
		{"variant match", "natural", 1},
		{"case insensitive", "OAK", 1},
		{"no match is empty not error", "bamboo", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products, err := s.QueryProducts(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Len(t, products, tt.want)
		})
	}
}

func TestSQLiteUpdateStock(t *testing.T) {
	s := newTestStore(t)
	p := seedCatalog(t, s)

	updated, err := s.UpdateStock(context.Background(), p.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, updated.Stock)
	assert.Equal(t, p.Name, updated.Name)
}

func TestSQLiteUpdateStock_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpdateStock(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteUpdateStock_Negative(t *testing.T) {
	s := newTestStore(t)
	p := seedCatalog(t, s)

	_, err := s.UpdateStock(context.Background(), p.ID, -1)
	assert.True(t, IsValidation(err))

	// The record must be untouched.
	products, err := s.QueryProducts(context.Background(), "oak")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, 120, products[0].Stock)
}

func TestSQLiteUpdatePrice(t *testing.T) {
	s := newTestStore(t)
	p := seedCatalog(t, s)

	updated, err := s.UpdatePrice(context.Background(), p.ID, 900)
	require.NoError(t, err)
	assert.Equal(t, 900.0, updated.Price)

	_, err = s.UpdatePrice(context.Background(), p.ID, -5)
	assert.True(t, IsValidation(err))

	_, err = s.UpdatePrice(context.Background(), "missing", 900)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteAppendSale(t *testing.T) {
	s := newTestStore(t)
	p := seedCatalog(t, s)

	sale, err := s.AppendSale(context.Background(), Sale{
		ProductID: p.ID,
		Product:   p.Name,
		Quantity:  20,
		UnitPrice: 850,
		Total:     17000,
		SoldBy:    "whatsapp:+639171234567",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sale.ID)
	assert.False(t, sale.Date.IsZero())

	sales, err := s.ListSales(context.Background())
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, 17000.0, sales[0].Total)
}

func TestSQLiteAppendSale_RejectsBadQuantity(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AppendSale(context.Background(), Sale{Product: "Oak", Quantity: 0, UnitPrice: 850})
	assert.True(t, IsValidation(err))

	_, err = s.AppendSale(context.Background(), Sale{Product: "Oak", Quantity: -3, UnitPrice: 850})
	assert.True(t, IsValidation(err))
}

func TestErrorKindsAreDistinct(t *testing.T) {
	validation := NewValidationError("quantity", "must be positive")
	transport := NewTransportError("query", errors.New("connection refused"))

	assert.True(t, IsValidation(validation))
	assert.False(t, IsValidation(transport))
	assert.False(t, IsValidation(ErrNotFound))

	assert.True(t, IsTransport(transport))
	assert.False(t, IsTransport(validation))

	assert.False(t, errors.Is(validation, ErrNotFound))
	assert.False(t, errors.Is(transport, ErrNotFound))
}
