// Package inventorytools registers the inventory tool set: catalog lookup,
// stock updates, price updates and sale logging.
//
// Invariants:
// - Arguments are rejected here before the record store's write path runs.
// - A sale total is always computed as quantity × unit price; it is never
//   accepted from tool arguments.
package inventorytools

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/flamefinish/stockbot/internal/observability"
	"github.com/flamefinish/stockbot/internal/tracing"
	"github.com/flamefinish/stockbot/pkg/store"
	"github.com/flamefinish/stockbot/pkg/toolexecutor"
)

// Options configures inventory tool registration.
type Options struct {
	Store store.RecordStore
}

// RegisterInventoryTools registers the inventory tool set on executor.
func RegisterInventoryTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	if opts.Store == nil {
		return errors.New("record store is required")
	}

	tools := []toolexecutor.ToolDefinition{
		lookupProductsTool(opts),
		updateStockTool(opts),
		updatePriceTool(opts),
		logSaleTool(opts),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func lookupProductsTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "lookup_products",
		Description: "Search the inventory catalog for products. Use a search term to filter by product name, category or variant, or leave empty to get all products.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "search_term", Type: "string", Description: "Product name or keyword to search for (e.g. 'oak', 'SPC', 'walnut'). Leave empty for all products.", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			query, _ := params["search_term"].(string)

			products, err := opts.Store.QueryProducts(ctx, query)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"products": products}, nil
		},
	}
}

func updateStockTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "update_stock",
		Description: "Update the stock quantity of a product after confirming the product ID and new stock value.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "product_id", Type: "string", Description: "The catalog ID of the product to update.", Required: true},
			{Name: "new_stock", Type: "integer", Description: "The new stock quantity after the adjustment.", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			productID, _ := params["product_id"].(string)
			newStock, err := intArg(params, "new_stock")
			if err != nil {
				return nil, err
			}
			if newStock < 0 {
				return nil, store.NewValidationError("new_stock", "must not be negative")
			}

			product, err := opts.Store.UpdateStock(ctx, productID, newStock)
			if err != nil {
				return nil, err
			}
			observability.RecordInventoryAudit(ctx, "update_stock", tracing.GetSender(ctx), map[string]interface{}{
				"product_id": product.ID,
				"new_stock":  newStock,
			})
			return map[string]interface{}{"product": product}, nil
		},
	}
}

func updatePriceTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "update_price",
		Description: "Update the unit price of a product in Philippine Pesos.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "product_id", Type: "string", Description: "The catalog ID of the product to update.", Required: true},
			{Name: "new_price", Type: "number", Description: "The new price per unit in Philippine Pesos.", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			productID, _ := params["product_id"].(string)
			newPrice, err := floatArg(params, "new_price")
			if err != nil {
				return nil, err
			}
			if newPrice < 0 {
				return nil, store.NewValidationError("new_price", "must not be negative")
			}

			product, err := opts.Store.UpdatePrice(ctx, productID, newPrice)
			if err != nil {
				return nil, err
			}
			observability.RecordInventoryAudit(ctx, "update_price", tracing.GetSender(ctx), map[string]interface{}{
				"product_id": product.ID,
				"new_price":  newPrice,
			})
			return map[string]interface{}{"product": product}, nil
		},
	}
}

func logSaleTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "log_sale",
		Description: "Log a sale transaction to the sales log. Call this AFTER updating stock to keep a record of every sale.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "product_id", Type: "string", Description: "The catalog ID of the product that was sold.", Required: true},
			{Name: "quantity", Type: "integer", Description: "Number of units sold.", Required: true},
			{Name: "unit_price", Type: "number", Description: "Price per unit in Philippine Pesos.", Required: true},
			{Name: "sold_by", Type: "string", Description: "Name or phone number of the salesperson who reported the sale.", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			productID, _ := params["product_id"].(string)
			soldBy, _ := params["sold_by"].(string)

			quantity, err := intArg(params, "quantity")
			if err != nil {
				return nil, err
			}
			if quantity <= 0 {
				return nil, store.NewValidationError("quantity", "must be positive")
			}

			unitPrice, err := floatArg(params, "unit_price")
			if err != nil {
				return nil, err
			}
			if unitPrice < 0 {
				return nil, store.NewValidationError("unit_price", "must not be negative")
			}

			if soldBy == "" {
				soldBy = tracing.GetSender(ctx)
			}

			product, err := resolveProduct(ctx, opts.Store, productID)
			if err != nil {
				return nil, err
			}

			sale, err := opts.Store.AppendSale(ctx, store.Sale{
				ProductID: product.ID,
				Product:   product.Name,
				Quantity:  quantity,
				UnitPrice: unitPrice,
				Total:     float64(quantity) * unitPrice,
				SoldBy:    soldBy,
			})
			if err != nil {
				return nil, err
			}
			observability.RecordInventoryAudit(ctx, "log_sale", soldBy, map[string]interface{}{
				"product_id": product.ID,
				"quantity":   quantity,
				"total":      sale.Total,
			})
			return map[string]interface{}{"sale": sale}, nil
		},
	}
}

// resolveProduct finds a catalog entry by ID so the sale carries the
// authoritative product name.
func resolveProduct(ctx context.Context, s store.RecordStore, productID string) (store.Product, error) {
	if productID == "" {
		return store.Product{}, store.NewValidationError("product_id", "must not be empty")
	}

	products, err := s.QueryProducts(ctx, "")
	if err != nil {
		return store.Product{}, err
	}
	for _, p := range products {
		if p.ID == productID {
			return p, nil
		}
	}
	return store.Product{}, store.ErrNotFound
}

// intArg extracts an integer argument. JSON decoding hands numbers over as
// float64, so whole floats are accepted.
func intArg(params map[string]interface{}, name string) (int, error) {
	switch v := params[name].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, store.NewValidationError(name, "must be a whole number")
		}
		return int(v), nil
	default:
		return 0, store.NewValidationError(name, "must be a number")
	}
}

func floatArg(params map[string]interface{}, name string) (float64, error) {
	switch v := params[name].(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, store.NewValidationError(name, "must be a number")
	}
}
