package evegateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go-watchtower/pkg/config"
	"go-watchtower/pkg/database"
	"go-watchtower/pkg/evegateway/character"
	"go-watchtower/pkg/evegateway/corporation"
	"go-watchtower/pkg/evegateway/universe"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client represents an EVE Online ESI client with all category clients
type Client struct {
	httpClient   *http.Client
	baseURL      string
	userAgent    string
	cacheManager CacheManager
	retryClient  RetryClient
	errorLimits  *ESIErrorLimits
	limitsMutex  sync.RWMutex

	// Category clients
	Corporation corporation.Client
	Character   character.Client
	Universe    universe.Client
}

// ESIStatusResponse represents the EVE Online server status
type ESIStatusResponse struct {
	Players       int       `json:"players"`
	ServerVersion string    `json:"server_version"`
	StartTime     time.Time `json:"start_time"`
}

// NewClient creates a new EVE Online ESI client. When redis is non-nil the
// cache survives restarts, otherwise an in-memory cache is used.
func NewClient(redis *database.Redis) *Client {
	var transport http.RoundTripper = http.DefaultTransport

	// Only add OpenTelemetry instrumentation if telemetry is enabled
	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		transport = otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Host)
			}),
		)
	}

	// ESI-compliant User-Agent header with contact information
	userAgent := config.GetESIUserAgent()

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
	}

	var cacheManager CacheManager
	if redis != nil {
		cacheManager = NewRedisCacheManager(redis)
	} else {
		cacheManager = NewDefaultCacheManager()
	}

	errorLimits := &ESIErrorLimits{}
	limitsMutex := &sync.RWMutex{}
	retryClient := NewDefaultRetryClient(httpClient, errorLimits, limitsMutex)

	baseURL := "https://esi.evetech.net"

	// Category clients share the caching and retry infrastructure
	corporationClient := corporation.NewCorporationClient(httpClient, baseURL, userAgent, cacheManager, retryClient)
	characterClient := character.NewCharacterClient(httpClient, baseURL, userAgent, cacheManager, retryClient)
	universeClient := universe.NewUniverseClient(httpClient, baseURL, userAgent, cacheManager, retryClient)

	return &Client{
		httpClient:   httpClient,
		baseURL:      baseURL,
		userAgent:    userAgent,
		cacheManager: cacheManager,
		retryClient:  retryClient,
		errorLimits:  errorLimits,
		limitsMutex:  sync.RWMutex{},
		Corporation:  corporationClient,
		Character:    characterClient,
		Universe:     universeClient,
	}
}

// HTTPClient exposes the underlying HTTP client for callers that share it
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// GetErrorLimits returns the most recently observed ESI error limit state
func (c *Client) GetErrorLimits() ESIErrorLimits {
	c.limitsMutex.RLock()
	defer c.limitsMutex.RUnlock()
	return *c.errorLimits
}

// GetServerStatus retrieves EVE Online server status from ESI with proper caching
func (c *Client) GetServerStatus(ctx context.Context) (*ESIStatusResponse, error) {
	var span trace.Span
	endpoint := "/status"
	cacheKey := fmt.Sprintf("%s%s", c.baseURL, endpoint)

	// Only create spans if telemetry is enabled
	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		tracer := otel.Tracer("go-watchtower/evegateway")
		ctx, span = tracer.Start(ctx, "evegateway.GetServerStatus")
		defer span.End()

		span.SetAttributes(
			attribute.String("esi.endpoint", "status"),
			attribute.String("esi.base_url", c.baseURL),
			attribute.String("cache.key", cacheKey),
		)
	}

	// Check cache first
	cachedData, exists, err := c.cacheManager.Get(cacheKey)
	if err == nil && exists {
		var status ESIStatusResponse
		if err := json.Unmarshal(cachedData, &status); err == nil {
			if span != nil {
				span.SetAttributes(attribute.Bool("cache.hit", true))
				span.SetStatus(codes.Ok, "cache hit")
			}
			return &status, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", cacheKey, nil)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create request")
		}
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	c.cacheManager.SetConditionalHeaders(req, cacheKey)

	resp, err := c.retryClient.DoWithRetry(ctx, req, 3)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to call ESI")
		}
		slog.ErrorContext(ctx, "Failed to call ESI status endpoint", "error", err)
		return nil, fmt.Errorf("failed to call ESI: %w", err)
	}
	defer resp.Body.Close()

	// Handle 304 Not Modified - return cached data
	if resp.StatusCode == http.StatusNotModified {
		c.cacheManager.RefreshExpiry(cacheKey, resp.Header)

		if cachedData, found, err := c.cacheManager.GetForNotModified(cacheKey); err == nil && found {
			if span != nil {
				span.SetAttributes(attribute.Bool("cache.hit", true))
				span.SetStatus(codes.Ok, "cache hit - not modified")
			}
			var status ESIStatusResponse
			if err := json.Unmarshal(cachedData, &status); err != nil {
				return nil, fmt.Errorf("failed to parse cached response: %w", err)
			}
			return &status, nil
		}
	}

	if resp.StatusCode != http.StatusOK {
		if span != nil {
			span.SetStatus(codes.Error, "ESI returned error status")
		}
		slog.ErrorContext(ctx, "ESI status endpoint returned error", "status_code", resp.StatusCode)
		return nil, fmt.Errorf("ESI returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read response")
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Update cache with new data
	c.cacheManager.Set(cacheKey, body, resp.Header)

	var status ESIStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse response")
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	slog.InfoContext(ctx, "Successfully retrieved ESI status",
		slog.Int("players", status.Players),
		slog.String("server_version", status.ServerVersion))

	return &status, nil
}
