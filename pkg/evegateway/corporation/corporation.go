package corporation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go-watchtower/pkg/config"
	"go-watchtower/pkg/evegateway/esierror"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client interface for corporation-related ESI operations
type Client interface {
	GetCorporationInfo(ctx context.Context, corporationID int) (*CorporationInfoResponse, error)
	GetCorporationMembers(ctx context.Context, corporationID int, token string) ([]int, error)
	GetCorporationStructures(ctx context.Context, corporationID int, token string) ([]Structure, error)
	GetCorporationStarbases(ctx context.Context, corporationID int, token string) ([]Starbase, error)
}

// CorporationInfoResponse represents public corporation information from ESI
type CorporationInfoResponse struct {
	Name        string `json:"name"`
	Ticker      string `json:"ticker"`
	MemberCount int    `json:"member_count"`
	AllianceID  *int   `json:"alliance_id,omitempty"`
	CEOID       int    `json:"ceo_id"`
}

// Structure represents a corporation-owned structure from ESI
type Structure struct {
	StructureID     int64      `json:"structure_id"`
	CorporationID   int        `json:"corporation_id"`
	TypeID          int        `json:"type_id"`
	SystemID        int        `json:"system_id"`
	ProfileID       int        `json:"profile_id"`
	Name            string     `json:"name,omitempty"`
	State           string     `json:"state"`
	StateTimerStart *time.Time `json:"state_timer_start,omitempty"`
	StateTimerEnd   *time.Time `json:"state_timer_end,omitempty"`
	FuelExpires     *time.Time `json:"fuel_expires,omitempty"`
	UnanchorsAt     *time.Time `json:"unanchors_at,omitempty"`
}

// Starbase represents a corporation-owned starbase (POS) from ESI
type Starbase struct {
	StarbaseID      int64      `json:"starbase_id"`
	TypeID          int        `json:"type_id"`
	SystemID        int        `json:"system_id"`
	MoonID          int        `json:"moon_id,omitempty"`
	State           string     `json:"state,omitempty"`
	OnlinedSince    *time.Time `json:"onlined_since,omitempty"`
	ReinforcedUntil *time.Time `json:"reinforced_until,omitempty"`
	UnanchorAt      *time.Time `json:"unanchor_at,omitempty"`
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

// CorporationClient implements the Client interface
type CorporationClient struct {
	httpClient   *http.Client
	baseURL      string
	userAgent    string
	cacheManager CacheManager
	retryClient  RetryClient
}

// NewCorporationClient creates a new corporation client
func NewCorporationClient(httpClient *http.Client, baseURL, userAgent string, cacheManager CacheManager, retryClient RetryClient) Client {
	return &CorporationClient{
		httpClient:   httpClient,
		baseURL:      baseURL,
		userAgent:    userAgent,
		cacheManager: cacheManager,
		retryClient:  retryClient,
	}
}

// GetCorporationInfo retrieves public corporation information from ESI
func (c *CorporationClient) GetCorporationInfo(ctx context.Context, corporationID int) (*CorporationInfoResponse, error) {
	endpoint := fmt.Sprintf("/corporations/%d/", corporationID)

	slog.InfoContext(ctx, "Requesting corporation info from ESI", "corporation_id", corporationID)

	body, err := c.makeRequest(ctx, endpoint, "")
	if err != nil {
		return nil, err
	}

	var info CorporationInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse corporation info: %w", err)
	}

	return &info, nil
}

// GetCorporationMembers retrieves the character IDs of all corporation members.
// Requires a token with the corporation membership scope.
func (c *CorporationClient) GetCorporationMembers(ctx context.Context, corporationID int, token string) ([]int, error) {
	endpoint := fmt.Sprintf("/corporations/%d/members/", corporationID)

	body, err := c.makeRequest(ctx, endpoint, token)
	if err != nil {
		return nil, err
	}

	var members []int
	if err := json.Unmarshal(body, &members); err != nil {
		return nil, fmt.Errorf("failed to parse corporation members: %w", err)
	}

	return members, nil
}

// GetCorporationStructures retrieves all structures owned by the corporation.
// Requires a token belonging to a Station Manager.
func (c *CorporationClient) GetCorporationStructures(ctx context.Context, corporationID int, token string) ([]Structure, error) {
	endpoint := fmt.Sprintf("/corporations/%d/structures/", corporationID)

	slog.InfoContext(ctx, "Requesting corporation structures from ESI", "corporation_id", corporationID)

	body, err := c.makeRequest(ctx, endpoint, token)
	if err != nil {
		return nil, err
	}

	var structures []Structure
	if err := json.Unmarshal(body, &structures); err != nil {
		return nil, fmt.Errorf("failed to parse corporation structures: %w", err)
	}

	return structures, nil
}

// GetCorporationStarbases retrieves all starbases owned by the corporation.
// Requires a token belonging to a Director.
func (c *CorporationClient) GetCorporationStarbases(ctx context.Context, corporationID int, token string) ([]Starbase, error) {
	endpoint := fmt.Sprintf("/corporations/%d/starbases/", corporationID)

	slog.InfoContext(ctx, "Requesting corporation starbases from ESI", "corporation_id", corporationID)

	body, err := c.makeRequest(ctx, endpoint, token)
	if err != nil {
		return nil, err
	}

	var starbases []Starbase
	if err := json.Unmarshal(body, &starbases); err != nil {
		return nil, fmt.Errorf("failed to parse corporation starbases: %w", err)
	}

	return starbases, nil
}

// makeRequest performs a GET against ESI with caching, conditional requests
// and retry, optionally authenticated with a bearer token.
func (c *CorporationClient) makeRequest(ctx context.Context, endpoint, token string) ([]byte, error) {
	var span trace.Span
	cacheKey := c.baseURL + endpoint
	if token != "" {
		cacheKey = fmt.Sprintf("%s%s?token=%s", c.baseURL, endpoint, token)
	}

	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		tracer := otel.Tracer("go-watchtower/evegateway/corporation")
		ctx, span = tracer.Start(ctx, "corporation.makeRequest")
		defer span.End()

		span.SetAttributes(
			attribute.String("esi.endpoint", endpoint),
		)
	}

	// Check cache first
	if cachedData, found, err := c.cacheManager.Get(cacheKey); err == nil && found {
		if span != nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			span.SetStatus(codes.Ok, "cache hit")
		}
		return cachedData, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+endpoint, nil)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create request")
		}
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.cacheManager.SetConditionalHeaders(req, cacheKey)

	resp, err := c.retryClient.DoWithRetry(ctx, req, 3)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to call ESI")
		}
		return nil, fmt.Errorf("failed to call ESI: %w", err)
	}
	defer resp.Body.Close()

	if span != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	}

	// Handle 304 Not Modified
	if resp.StatusCode == http.StatusNotModified {
		if cachedData, found, err := c.cacheManager.GetForNotModified(cacheKey); err == nil && found {
			c.cacheManager.RefreshExpiry(cacheKey, resp.Header)
			return cachedData, nil
		}
	}

	if resp.StatusCode != http.StatusOK {
		if span != nil {
			span.SetStatus(codes.Error, "ESI returned error status")
		}
		return nil, &esierror.Error{StatusCode: resp.StatusCode, Endpoint: endpoint}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read response")
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.cacheManager.Set(cacheKey, body, resp.Header)

	return body, nil
}
