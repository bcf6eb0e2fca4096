package inventorytools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamefinish/stockbot/internal/tracing"
	"github.com/flamefinish/stockbot/pkg/store"
	"github.com/flamefinish/stockbot/pkg/toolexecutor"
)

// recordingStore records write calls so tests can assert on dispatch.
type recordingStore struct {
	products     []store.Product
	stockWrites  int
	priceWrites  int
	saleAppends  int
	appendedSale store.Sale
}

func (r *recordingStore) QueryProducts(ctx context.Context, query string) ([]store.Product, error) {
	if query == "" {
		return r.products, nil
	}
	matched := []store.Product{}
	for _, p := range r.products {
		if p.Name == query {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (r *recordingStore) UpdateStock(ctx context.Context, productID string, newStock int) (store.Product, error) {
	r.stockWrites++
	for i, p := range r.products {
		if p.ID == productID {
			r.products[i].Stock = newStock
			return r.products[i], nil
		}
	}
	return store.Product{}, store.ErrNotFound
}

func (r *recordingStore) UpdatePrice(ctx context.Context, productID string, newPrice float64) (store.Product, error) {
	r.priceWrites++
	for i, p := range r.products {
		if p.ID == productID {
			r.products[i].Price = newPrice
			return r.products[i], nil
		}
	}
	return store.Product{}, store.ErrNotFound
}

func (r *recordingStore) AppendSale(ctx context.Context, sale store.Sale) (store.Sale, error) {
	r.saleAppends++
	sale.ID = "sale-1"
	r.appendedSale = sale
	return sale, nil
}

func newTestSetup(t *testing.T) (*toolexecutor.ToolExecutor, *recordingStore) {
	t.Helper()

	rs := &recordingStore{
		products: []store.Product{
			{ID: "p1", Name: "Oak SPC Flooring", Category: "SPC", Variant: "Natural Oak", Stock: 120, Unit: "box", Price: 850},
		},
	}

	te := toolexecutor.New()
	require.NoError(t, RegisterInventoryTools(te, Options{Store: rs}))
	return te, rs
}

func TestRegisterInventoryTools(t *testing.T) {
	te, _ := newTestSetup(t)

	assert.Equal(t, []string{"log_sale", "lookup_products", "update_price", "update_stock"}, te.ListTools())
}

func TestRegisterInventoryTools_RequiresDeps(t *testing.T) {
	assert.Error(t, RegisterInventoryTools(nil, Options{}))
	assert.Error(t, RegisterInventoryTools(toolexecutor.New(), Options{}))
}

func TestLookupProducts(t *testing.T) {
	te, _ := newTestSetup(t)

	result := te.Execute(context.Background(), "lookup_products", map[string]interface{}{}, nil)
	require.True(t, result.Success, result.Error)

	output := result.Output.(map[string]interface{})
	products := output["products"].([]store.Product)
	assert.Len(t, products, 1)
}

func TestLookupProducts_NoResultsIsEmptyList(t *testing.T) {
	te, _ := newTestSetup(t)

	result := te.Execute(context.Background(), "lookup_products", map[string]interface{}{"search_term": "bamboo"}, nil)
	require.True(t, result.Success, result.Error)

	output := result.Output.(map[string]interface{})
	assert.Empty(t, output["products"])
}

func TestUpdateStock(t *testing.T) {
	te, rs := newTestSetup(t)

	result := te.Execute(context.Background(), "update_stock", map[string]interface{}{
		"product_id": "p1",
		"new_stock":  float64(100), // as decoded from model JSON
	}, nil)
	require.True(t, result.Success, result.Error)

	output := result.Output.(map[string]interface{})
	product := output["product"].(store.Product)
	assert.Equal(t, 100, product.Stock)
	assert.Equal(t, 1, rs.stockWrites)
}

func TestUpdateStock_NegativeNeverReachesStore(t *testing.T) {
	te, rs := newTestSetup(t)

	result := te.Execute(context.Background(), "update_stock", map[string]interface{}{
		"product_id": "p1",
		"new_stock":  float64(-5),
	}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "new_stock")
	assert.Equal(t, 0, rs.stockWrites)
}

func TestUpdateStock_NotFound(t *testing.T) {
	te, _ := newTestSetup(t)

	result := te.Execute(context.Background(), "update_stock", map[string]interface{}{
		"product_id": "missing",
		"new_stock":  float64(10),
	}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not found")
}

func TestUpdatePrice_NegativeNeverReachesStore(t *testing.T) {
	te, rs := newTestSetup(t)

	result := te.Execute(context.Background(), "update_price", map[string]interface{}{
		"product_id": "p1",
		"new_price":  float64(-1),
	}, nil)
	assert.False(t, result.Success)
	assert.Equal(t, 0, rs.priceWrites)
}

func TestLogSale_ComputesTotal(t *testing.T) {
	te, rs := newTestSetup(t)

	result := te.Execute(context.Background(), "log_sale", map[string]interface{}{
		"product_id": "p1",
		"quantity":   float64(20),
		"unit_price": float64(850),
		"sold_by":    "whatsapp:+639171234567",
	}, nil)
	require.True(t, result.Success, result.Error)

	assert.Equal(t, 1, rs.saleAppends)
	assert.Equal(t, 17000.0, rs.appendedSale.Total)
	assert.Equal(t, "Oak SPC Flooring", rs.appendedSale.Product)
	assert.Equal(t, "p1", rs.appendedSale.ProductID)
}

func TestLogSale_TotalNotAcceptedAsInput(t *testing.T) {
	te, rs := newTestSetup(t)

	// An extra "total" argument fails schema validation outright.
	result := te.Execute(context.Background(), "log_sale", map[string]interface{}{
		"product_id": "p1",
		"quantity":   float64(20),
		"unit_price": float64(850),
		"sold_by":    "seller",
		"total":      float64(1),
	}, nil)
	assert.False(t, result.Success)
	assert.Equal(t, 0, rs.saleAppends)
}

func TestLogSale_RejectsNonPositiveQuantity(t *testing.T) {
	te, rs := newTestSetup(t)

	for _, quantity := range []float64{0, -7} {
		result := te.Execute(context.Background(), "log_sale", map[string]interface{}{
			"product_id": "p1",
			"quantity":   quantity,
			"unit_price": float64(850),
			"sold_by":    "seller",
		}, nil)
		assert.False(t, result.Success)
	}
	assert.Equal(t, 0, rs.saleAppends)
}

func TestLogSale_UnknownProduct(t *testing.T) {
	te, rs := newTestSetup(t)

	result := te.Execute(context.Background(), "log_sale", map[string]interface{}{
		"product_id": "missing",
		"quantity":   float64(1),
		"unit_price": float64(850),
		"sold_by":    "seller",
	}, nil)
	assert.False(t, result.Success)
	assert.Equal(t, 0, rs.saleAppends)
}

func TestLogSale_DefaultsSoldByFromContext(t *testing.T) {
	te, rs := newTestSetup(t)

	ctx := tracing.WithSender(context.Background(), "whatsapp:+639998887777")
	result := te.Execute(ctx, "log_sale", map[string]interface{}{
		"product_id": "p1",
		"quantity":   float64(2),
		"unit_price": float64(850),
		"sold_by":    "",
	}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "whatsapp:+639998887777", rs.appendedSale.SoldBy)
}
