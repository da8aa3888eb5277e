package universe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go-watchtower/pkg/config"
	"go-watchtower/pkg/evegateway/esierror"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client interface for universe-related ESI lookups. These back the friendly
// names in outbound notifications (solar systems, moons, planets, types).
type Client interface {
	GetSystemName(ctx context.Context, systemID int) (string, error)
	GetMoonName(ctx context.Context, moonID int) (string, error)
	GetPlanetName(ctx context.Context, planetID int) (string, error)
	GetTypeName(ctx context.Context, typeID int) (string, error)
	GetNames(ctx context.Context, ids []int64) (map[int64]string, error)
}

type namedResponse struct {
	Name string `json:"name"`
}

type universeName struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// CacheManager interface for caching operations
type CacheManager interface {
	Get(key string) ([]byte, bool, error)
	GetForNotModified(key string) ([]byte, bool, error)
	Set(key string, data []byte, headers http.Header) error
	RefreshExpiry(key string, headers http.Header) error
	SetConditionalHeaders(req *http.Request, key string) error
}

// RetryClient interface for retry operations
type RetryClient interface {
	DoWithRetry(ctx context.Context, req *http.Request, maxRetries int) (*http.Response, error)
}

// UniverseClient implements the Client interface
type UniverseClient struct {
	httpClient   *http.Client
	baseURL      string
	userAgent    string
	cacheManager CacheManager
	retryClient  RetryClient
}

// NewUniverseClient creates a new universe client
func NewUniverseClient(httpClient *http.Client, baseURL, userAgent string, cacheManager CacheManager, retryClient RetryClient) Client {
	return &UniverseClient{
		httpClient:   httpClient,
		baseURL:      baseURL,
		userAgent:    userAgent,
		cacheManager: cacheManager,
		retryClient:  retryClient,
	}
}

// GetSystemName retrieves a solar system's display name
func (c *UniverseClient) GetSystemName(ctx context.Context, systemID int) (string, error) {
	return c.getName(ctx, fmt.Sprintf("/universe/systems/%d/", systemID))
}

// GetMoonName retrieves a moon's display name
func (c *UniverseClient) GetMoonName(ctx context.Context, moonID int) (string, error) {
	return c.getName(ctx, fmt.Sprintf("/universe/moons/%d/", moonID))
}

// GetPlanetName retrieves a planet's display name
func (c *UniverseClient) GetPlanetName(ctx context.Context, planetID int) (string, error) {
	return c.getName(ctx, fmt.Sprintf("/universe/planets/%d/", planetID))
}

// GetTypeName retrieves an item type's display name
func (c *UniverseClient) GetTypeName(ctx context.Context, typeID int) (string, error) {
	return c.getName(ctx, fmt.Sprintf("/universe/types/%d/", typeID))
}

// GetNames resolves a mixed batch of IDs (characters, corporations, alliances,
// types) to display names via the bulk names endpoint.
func (c *UniverseClient) GetNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}

	payload, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal id list: %w", err)
	}

	endpoint := "/universe/names/"
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.retryClient.DoWithRetry(ctx, req, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to call ESI: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &esierror.Error{StatusCode: resp.StatusCode, Endpoint: endpoint}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var entries []universeName
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse universe names: %w", err)
	}

	names := make(map[int64]string, len(entries))
	for _, entry := range entries {
		names[entry.ID] = entry.Name
	}

	return names, nil
}

func (c *UniverseClient) getName(ctx context.Context, endpoint string) (string, error) {
	var span trace.Span
	cacheKey := c.baseURL + endpoint

	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		tracer := otel.Tracer("go-watchtower/evegateway/universe")
		ctx, span = tracer.Start(ctx, "universe.getName")
		defer span.End()

		span.SetAttributes(
			attribute.String("esi.endpoint", endpoint),
		)
	}

	if cachedData, found, err := c.cacheManager.Get(cacheKey); err == nil && found {
		var named namedResponse
		if err := json.Unmarshal(cachedData, &named); err == nil {
			if span != nil {
				span.SetAttributes(attribute.Bool("cache.hit", true))
				span.SetStatus(codes.Ok, "cache hit")
			}
			return named.Name, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+endpoint, nil)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create request")
		}
		return "", fmt.Errorf("failed to create request: %w", err)
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
		return "", fmt.Errorf("failed to call ESI: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if cachedData, found, err := c.cacheManager.GetForNotModified(cacheKey); err == nil && found {
			c.cacheManager.RefreshExpiry(cacheKey, resp.Header)
			var named namedResponse
			if err := json.Unmarshal(cachedData, &named); err == nil {
				return named.Name, nil
			}
		}
	}

	if resp.StatusCode != http.StatusOK {
		if span != nil {
			span.SetStatus(codes.Error, "ESI returned error status")
		}
		return "", &esierror.Error{StatusCode: resp.StatusCode, Endpoint: endpoint}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read response")
		}
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	c.cacheManager.Set(cacheKey, body, resp.Header)

	var named namedResponse
	if err := json.Unmarshal(body, &named); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	return named.Name, nil
}
