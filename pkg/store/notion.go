package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flamefinish/stockbot/internal/observability"
)

const (
	defaultNotionBaseURL = "https://api.notion.com/v1"
	notionVersion        = "2022-06-28"
)

// NotionStore implements RecordStore against two Notion databases: the
// product catalog and the sales log.
type NotionStore struct {
	baseURL    string
	apiKey     string
	productsDB string
	salesDB    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NotionOptions configures a NotionStore.
type NotionOptions struct {
	BaseURL    string
	APIKey     string
	ProductsDB string
	SalesDB    string
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// NewNotionStore creates a NotionStore.
func NewNotionStore(opts NotionOptions) (*NotionStore, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("notion api key is required")
	}
	if opts.ProductsDB == "" {
		return nil, fmt.Errorf("notion products database id is required")
	}
	if opts.SalesDB == "" {
		return nil, fmt.Errorf("notion sales database id is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultNotionBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}

	return &NotionStore{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		productsDB: opts.ProductsDB,
		salesDB:    opts.SalesDB,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     opts.Logger,
	}, nil
}

// QueryProducts loads the catalog and filters it by query as a
// case-insensitive substring of name, category or variant.
func (s *NotionStore) QueryProducts(ctx context.Context, query string) (_ []Product, err error) {
	defer observability.TimeStoreRequest("notion", "query_products")(&err)
	products := []Product{}
	cursor := ""

	for {
		payload := map[string]interface{}{}
		if cursor != "" {
			payload["start_cursor"] = cursor
		}

		var page struct {
			Results    []json.RawMessage `json:"results"`
			HasMore    bool              `json:"has_more"`
			NextCursor string            `json:"next_cursor"`
		}
		url := fmt.Sprintf("%s/databases/%s/query", s.baseURL, s.productsDB)
		if err := s.do(ctx, http.MethodPost, url, payload, &page); err != nil {
			return nil, err
		}

		for _, raw := range page.Results {
			product, err := parseProductPage(raw)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Skipping unparseable product page")
				continue
			}
			products = append(products, product)
		}

		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if query == "" {
		return products, nil
	}

	matched := []Product{}
	for _, p := range products {
		if productMatches(p, query) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// UpdateStock sets the Stock property of a product page.
func (s *NotionStore) UpdateStock(ctx context.Context, productID string, newStock int) (_ Product, err error) {
	defer observability.TimeStoreRequest("notion", "update_stock")(&err)
	if newStock < 0 {
		return Product{}, NewValidationError("new_stock", "must not be negative")
	}

	payload := map[string]interface{}{
		"properties": map[string]interface{}{
			"Stock": map[string]interface{}{"number": newStock},
		},
	}
	return s.patchProduct(ctx, productID, payload)
}

// UpdatePrice sets the Unit Price property of a product page.
func (s *NotionStore) UpdatePrice(ctx context.Context, productID string, newPrice float64) (_ Product, err error) {
	defer observability.TimeStoreRequest("notion", "update_price")(&err)
	if newPrice < 0 {
		return Product{}, NewValidationError("new_price", "must not be negative")
	}

	payload := map[string]interface{}{
		"properties": map[string]interface{}{
			"Unit Price (₱)": map[string]interface{}{"number": newPrice},
		},
	}
	return s.patchProduct(ctx, productID, payload)
}

// AppendSale creates a page in the sales log database.
func (s *NotionStore) AppendSale(ctx context.Context, sale Sale) (_ Sale, err error) {
	defer observability.TimeStoreRequest("notion", "append_sale")(&err)
	if sale.Quantity <= 0 {
		return Sale{}, NewValidationError("quantity", "must be positive")
	}
	if sale.UnitPrice < 0 {
		return Sale{}, NewValidationError("unit_price", "must not be negative")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now()
	}

	payload := map[string]interface{}{
		"parent": map[string]interface{}{"database_id": s.salesDB},
		"properties": map[string]interface{}{
			"Product": map[string]interface{}{
				"title": []interface{}{
					map[string]interface{}{"text": map[string]interface{}{"content": sale.Product}},
				},
			},
			"Quantity":       map[string]interface{}{"number": sale.Quantity},
			"Unit Price (₱)": map[string]interface{}{"number": sale.UnitPrice},
			"Total (₱)":      map[string]interface{}{"number": sale.Total},
			"Sold By": map[string]interface{}{
				"rich_text": []interface{}{
					map[string]interface{}{"text": map[string]interface{}{"content": sale.SoldBy}},
				},
			},
			"Date": map[string]interface{}{
				"date": map[string]interface{}{"start": sale.Date.Format("2006-01-02")},
			},
		},
	}

	var created struct {
		ID string `json:"id"`
	}
	url := fmt.Sprintf("%s/pages", s.baseURL)
	if err := s.do(ctx, http.MethodPost, url, payload, &created); err != nil {
		return Sale{}, err
	}

	if created.ID != "" {
		sale.ID = created.ID
	}

	s.logger.Debug().
		Str("sale_id", sale.ID).
		Str("product", sale.Product).
		Int("quantity", sale.Quantity).
		Msg("Sale logged")

	return sale, nil
}

// patchProduct patches a product page and returns the updated record.
func (s *NotionStore) patchProduct(ctx context.Context, productID string, payload map[string]interface{}) (Product, error) {
	if productID == "" {
		return Product{}, NewValidationError("product_id", "must not be empty")
	}

	var raw json.RawMessage
	url := fmt.Sprintf("%s/pages/%s", s.baseURL, productID)
	if err := s.do(ctx, http.MethodPatch, url, payload, &raw); err != nil {
		return Product{}, err
	}

	product, err := parseProductPage(raw)
	if err != nil {
		return Product{}, NewTransportError("patch", err)
	}
	return product, nil
}

// do performs one API call and decodes the response into out.
func (s *NotionStore) do(ctx context.Context, method, url string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return NewTransportError(method, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return NewTransportError(method, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return NewTransportError(method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewTransportError(method, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return NewValidationError("request", notionErrorMessage(data))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return NewTransportError(method, fmt.Errorf("status %d: %s", resp.StatusCode, notionErrorMessage(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return NewTransportError(method, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// notionErrorMessage extracts the API error message from a response body.
func notionErrorMessage(data []byte) string {
	var apiErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Message != "" {
		return apiErr.Message
	}
	return strings.TrimSpace(string(data))
}

// parseProductPage maps a Notion page object to a Product.
func parseProductPage(raw json.RawMessage) (Product, error) {
	var page struct {
		ID         string                     `json:"id"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return Product{}, fmt.Errorf("parse page: %w", err)
	}
	if page.ID == "" {
		return Product{}, fmt.Errorf("page has no id")
	}

	props := page.Properties
	return Product{
		ID:       page.ID,
		Name:     propTitle(props, "Product Name"),
		Category: propSelect(props, "Category"),
		Variant:  propRichText(props, "Color / Variant"),
		Stock:    int(propNumber(props, "Stock")),
		Unit:     propSelect(props, "Unit"),
		Price:    propNumber(props, "Unit Price (₱)"),
	}, nil
}

// productMatches reports whether query is a case-insensitive substring of
// the product's name, category or variant.
func productMatches(p Product, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(p.Name), q) ||
		strings.Contains(strings.ToLower(p.Category), q) ||
		strings.Contains(strings.ToLower(p.Variant), q)
}

func propTitle(props map[string]json.RawMessage, key string) string {
	var prop struct {
		Title []struct {
			PlainText string `json:"plain_text"`
		} `json:"title"`
	}
	if raw, ok := props[key]; ok {
		if err := json.Unmarshal(raw, &prop); err == nil && len(prop.Title) > 0 {
			return prop.Title[0].PlainText
		}
	}
	return ""
}

func propRichText(props map[string]json.RawMessage, key string) string {
	var prop struct {
		RichText []struct {
			PlainText string `json:"plain_text"`
		} `json:"rich_text"`
	}
	if raw, ok := props[key]; ok {
		if err := json.Unmarshal(raw, &prop); err == nil && len(prop.RichText) > 0 {
			return prop.RichText[0].PlainText
		}
	}
	return ""
}

func propNumber(props map[string]json.RawMessage, key string) float64 {
	var prop struct {
		Number *float64 `json:"number"`
	}
	if raw, ok := props[key]; ok {
		if err := json.Unmarshal(raw, &prop); err == nil && prop.Number != nil {
			return *prop.Number
		}
	}
	return 0
}

func propSelect(props map[string]json.RawMessage, key string) string {
	var prop struct {
		Select *struct {
			Name string `json:"name"`
		} `json:"select"`
	}
	if raw, ok := props[key]; ok {
		if err := json.Unmarshal(raw, &prop); err == nil && prop.Select != nil {
			return prop.Select.Name
		}
	}
	return ""
}
