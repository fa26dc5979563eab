package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBody caps how much of a response is kept for diagnostics.
const maxResponseBody = 64 << 10

// HTTPConfig configures the REST executor.
type HTTPConfig struct {
	URL string
	// Token is a "user:pass" credential sent as HTTP basic auth.
	Token string
	// AuthorizationHeader, when set, is sent verbatim instead of Token.
	AuthorizationHeader string

	MaxConnsTotal    int
	MaxConnsPerRoute int
	RequestTimeout   time.Duration
}

// DefaultHTTPConfig returns the connection limits used by the REST executor.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		MaxConnsTotal:    50,
		MaxConnsPerRoute: 5,
		RequestTimeout:   30 * time.Second,
	}
}

// HTTPExecutor posts each statement to a fixed REST endpoint.
type HTTPExecutor struct {
	client    *http.Client
	transport *http.Transport
	url       string
	auth      string
	logger    zerolog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewHTTPExecutor builds the shared client. No request is sent until Execute.
func NewHTTPExecutor(cfg HTTPConfig, logger zerolog.Logger) (*HTTPExecutor, error) {
	logger = logger.With().Str("component", "HTTPExecutor").Logger()
	if cfg.URL == "" {
		return nil, errors.New("http executor requires a URL")
	}

	d := DefaultHTTPConfig()
	if cfg.MaxConnsTotal <= 0 {
		cfg.MaxConnsTotal = d.MaxConnsTotal
	}
	if cfg.MaxConnsPerRoute <= 0 {
		cfg.MaxConnsPerRoute = d.MaxConnsPerRoute
	}
	if cfg.RequestTimeout <= 0 {
		logger.Warn().Dur("default_timeout", d.RequestTimeout).Msg("RequestTimeout was zero or negative, applying default value.")
		cfg.RequestTimeout = d.RequestTimeout
	}

	auth := cfg.AuthorizationHeader
	if auth == "" {
		if cfg.Token == "" {
			return nil, errors.New("http executor requires a token or authorization header")
		}
		auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Token))
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.MaxConnsTotal
	transport.MaxIdleConnsPerHost = cfg.MaxConnsPerRoute
	transport.MaxConnsPerHost = cfg.MaxConnsPerRoute

	logger.Info().
		Str("url", cfg.URL).
		Int("max_conns_total", cfg.MaxConnsTotal).
		Int("max_conns_per_route", cfg.MaxConnsPerRoute).
		Msg("HTTPExecutor initialized successfully")

	return &HTTPExecutor{
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   cfg.RequestTimeout,
		},
		transport: transport,
		url:       cfg.URL,
		auth:      auth,
		logger:    logger,
	}, nil
}

// Execute POSTs statement as the request body. A non-2xx status is an error
// carrying the response body.
func (h *HTTPExecutor) Execute(ctx context.Context, statement string) error {
	if h.closed.Load() {
		return ErrClosed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, strings.NewReader(statement))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", h.auth)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error().Err(err).Str("sql", statement).Msg("HTTP request failed")
		return fmt.Errorf("failed to post statement: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.logger.Error().
			Int("status", resp.StatusCode).
			Str("sql", statement).
			Str("response", string(body)).
			Msg("Backend rejected statement")
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, body)
	}
	h.logger.Debug().Str("response", string(body)).Msg("Statement accepted")
	return nil
}

// Close releases idle connections. It is safe to call repeatedly.
func (h *HTTPExecutor) Close() error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.transport.CloseIdleConnections()
		h.logger.Info().Msg("HTTPExecutor closed.")
	})
	return nil
}
