package webhook

import (
	"context"
	"time"
)

// Request carries the parsed inbound HTTP request handed to a Handler.
type Request struct {
	// Method and Path identify the matched route.
	Method string
	Path   string

	// URL is the full external URL of the request, reconstructed from the
	// configured public URL when one is set. Twilio signs this exact string.
	URL string

	// Form holds the decoded application/x-www-form-urlencoded body. For
	// other content types it is empty and RawBody carries the payload.
	Form map[string]string

	// Query holds the decoded query string parameters.
	Query map[string]string

	// Headers holds request headers with canonical keys, first value only.
	Headers map[string]string

	// RawBody is the unmodified request body.
	RawBody []byte

	// RemoteIP is the client address after X-Forwarded-For resolution.
	RemoteIP string
}

// Response is what a Handler returns to be written to the caller.
type Response struct {
	// Status defaults to 200 when zero.
	Status int

	// ContentType defaults to text/plain when Body is set.
	ContentType string

	Body string
}

// Handler processes a verified webhook request.
type Handler func(ctx context.Context, req Request) (Response, error)

// Verifier authenticates a request before the handler runs. Returning false
// produces a 403 without invoking the handler.
type Verifier func(req Request) bool

// Route binds a method and path to a handler with optional authentication.
type Route struct {
	Method   string
	Path     string
	Handler  Handler
	Verifier Verifier

	// Timeout overrides the server default for this route when positive.
	Timeout time.Duration
}

// ServerOptions configures the webhook server.
type ServerOptions struct {
	Host string
	Port int

	// PublicURL is the externally visible base URL (scheme and host), used
	// to reconstruct the signed URL behind proxies. When empty the Host
	// header and X-Forwarded-Proto are used.
	PublicURL string

	// RateLimitPerMinute caps requests per client IP. Zero disables limiting.
	RateLimitPerMinute int

	// RequestTimeout bounds handler execution. Defaults to 30s.
	RequestTimeout time.Duration

	// MaxBodyBytes caps the request body size. Defaults to 1 MiB.
	MaxBodyBytes int64
}
