package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flamefinish/stockbot/internal/observability"
	"github.com/flamefinish/stockbot/pkg/store"
)

const (
	defaultAPIBase       = "https://api.twilio.com"
	defaultClientTimeout = 15 * time.Second

	// Twilio caps WhatsApp message bodies at 1600 characters.
	maxBodyLength = 1600
)

// Client sends outbound WhatsApp messages through the Twilio REST API.
type Client struct {
	accountSID string
	authToken  string
	from       string
	apiBase    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIBase points the client at a different API host.
func WithAPIBase(base string) ClientOption {
	return func(c *Client) { c.apiBase = strings.TrimSuffix(base, "/") }
}

// NewClient creates a Twilio messaging client. from is the shop's WhatsApp
// number in "whatsapp:+..." form.
func NewClient(accountSID, authToken, from string, logger zerolog.Logger, opts ...ClientOption) (*Client, error) {
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("twilio credentials are required")
	}
	if from == "" {
		return nil, fmt.Errorf("twilio from number is required")
	}

	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		apiBase:    defaultAPIBase,
		httpClient: &http.Client{Timeout: defaultClientTimeout},
		logger:     logger.With().Str("component", "twilio").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SendMessage delivers body to the given WhatsApp recipient.
func (c *Client) SendMessage(ctx context.Context, to, body string) error {
	if to == "" {
		return store.NewValidationError("to", "recipient is required")
	}
	if body == "" {
		return store.NewValidationError("body", "message body is empty")
	}
	if len([]rune(body)) > maxBodyLength {
		body = string([]rune(body)[:maxBodyLength])
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.apiBase, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordReplySent(false)
		return store.NewTransportError("twilio", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		observability.RecordReplySent(false)
		return store.NewTransportError("twilio",
			fmt.Errorf("message create returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	observability.RecordReplySent(true)
	c.logger.Debug().Str("to", to).Int("length", len(body)).Msg("message sent")
	return nil
}
