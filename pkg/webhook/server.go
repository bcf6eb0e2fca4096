package webhook

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/flamefinish/stockbot/internal/observability"
	"github.com/flamefinish/stockbot/internal/tracing"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxBodyBytes   = 1 << 20
)

// Server is a small HTTP server for inbound provider callbacks. Routes are
// registered before Start; /health and /metrics are always served.
type Server struct {
	options ServerOptions
	logger  zerolog.Logger

	routes      map[string]Route
	rateLimiter *RateLimiter

	httpServer *http.Server
	inFlight   sync.WaitGroup
	draining   atomic.Bool
	started    atomic.Bool
	startTime  time.Time
}

// NewServer creates a server with the given options. Zero-value option fields
// get defaults.
func NewServer(options ServerOptions, logger zerolog.Logger) *Server {
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = defaultRequestTimeout
	}
	if options.MaxBodyBytes <= 0 {
		options.MaxBodyBytes = defaultMaxBodyBytes
	}
	observability.EnsureRegistered()

	s := &Server{
		options:   options,
		logger:    logger.With().Str("component", "webhook").Logger(),
		routes:    make(map[string]Route),
		startTime: time.Now(),
	}
	if options.RateLimitPerMinute > 0 {
		s.rateLimiter = NewRateLimiter(options.RateLimitPerMinute)
	}
	return s
}

// Register adds a route. It must be called before Start.
func (s *Server) Register(route Route) error {
	if s.started.Load() {
		return fmt.Errorf("cannot register route %s after server start", route.Path)
	}
	if route.Handler == nil {
		return fmt.Errorf("route %s has no handler", route.Path)
	}
	if route.Method == "" || !strings.HasPrefix(route.Path, "/") {
		return fmt.Errorf("route needs a method and an absolute path, got %q %q", route.Method, route.Path)
	}
	key := routeKey(route.Method, route.Path)
	if _, exists := s.routes[key]; exists {
		return fmt.Errorf("route %s %s already registered", route.Method, route.Path)
	}
	s.routes[key] = route
	return nil
}

// Start begins serving. It blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("server already started")
	}
	s.startTime = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/", s.dispatch)

	addr := net.JoinHostPort(s.options.Host, strconv.Itoa(s.options.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Int("routes", len(s.routes)).Msg("webhook server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.draining.Store(true)

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("shutdown deadline reached with requests still in flight")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := `{"status":"ok","uptime_seconds":` + strconv.FormatInt(int64(time.Since(s.startTime).Seconds()), 10) + `}`
	if s.draining.Load() {
		status = http.StatusServiceUnavailable
		body = `{"status":"draining"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		s.reject(w, r, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	route, ok := s.routes[routeKey(r.Method, r.URL.Path)]
	if !ok {
		if _, pathKnown := s.routes[routeKey(http.MethodPost, r.URL.Path)]; pathKnown {
			s.reject(w, r, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.reject(w, r, http.StatusNotFound, "not found")
		return
	}

	clientIP := getClientIP(r)
	if s.rateLimiter != nil && !s.rateLimiter.Allow(clientIP) {
		w.Header().Set("Retry-After", strconv.Itoa(s.rateLimiter.RetryAfter(clientIP)))
		observability.RecordMessageRejected("rate_limited")
		s.reject(w, r, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Done()

	body, err := io.ReadAll(io.LimitReader(r.Body, s.options.MaxBodyBytes+1))
	if err != nil {
		s.reject(w, r, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > s.options.MaxBodyBytes {
		s.reject(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	req := Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		URL:      s.externalURL(r),
		Query:    flattenValues(r.URL.Query()),
		Headers:  flattenHeaders(r.Header),
		RawBody:  body,
		RemoteIP: clientIP,
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			s.reject(w, r, http.StatusBadRequest, "malformed form body")
			return
		}
		req.Form = flattenValues(form)
	}

	if route.Verifier != nil && !route.Verifier(req) {
		observability.RecordMessageRejected("bad_signature")
		observability.RecordSecurityAudit(r.Context(), "signature_rejected", clientIP, "denied", map[string]interface{}{
			"path": r.URL.Path,
		})
		s.reject(w, r, http.StatusForbidden, "signature verification failed")
		return
	}

	timeout := route.Timeout
	if timeout <= 0 {
		timeout = s.options.RequestTimeout
	}
	ctx := tracing.NewRequestContext(r.Context())
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "stockbot.webhook", "webhook.dispatch",
		attribute.String("http.method", r.Method),
		attribute.String("http.path", r.URL.Path),
	)
	defer span.End()

	start := time.Now()
	resp, err := route.Handler(ctx, req)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if err != nil {
		logger.Error().Err(err).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("webhook handler failed")
		s.writeResponse(w, r, Response{Status: http.StatusInternalServerError, Body: "internal error"})
		return
	}

	logger.Debug().
		Str("path", r.URL.Path).
		Int("status", responseStatus(resp)).
		Dur("duration", time.Since(start)).
		Msg("webhook handled")
	s.writeResponse(w, r, resp)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeResponse(w, r, Response{Status: status, Body: message})
}

func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, resp Response) {
	status := responseStatus(resp)
	observability.RecordWebhookRequest(r.URL.Path, strconv.Itoa(status))

	contentType := resp.ContentType
	if contentType == "" && resp.Body != "" {
		contentType = "text/plain; charset=utf-8"
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		io.WriteString(w, resp.Body)
	}
}

func responseStatus(resp Response) int {
	if resp.Status == 0 {
		return http.StatusOK
	}
	return resp.Status
}

// externalURL reconstructs the URL the provider signed. Behind a proxy the
// request's own scheme and host are the proxy's, so a configured public URL
// takes precedence.
func (s *Server) externalURL(r *http.Request) string {
	if s.options.PublicURL != "" {
		return strings.TrimSuffix(s.options.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// getClientIP resolves the originating client address, honoring proxy headers.
func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func routeKey(method, path string) string {
	return method + " " + path
}

func flattenValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
