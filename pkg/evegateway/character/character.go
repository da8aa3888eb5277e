package character

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

// Client interface for character-related ESI operations
type Client interface {
	GetCharacterInfo(ctx context.Context, characterID int) (*CharacterInfoResponse, error)
	GetCharacterNotifications(ctx context.Context, characterID int, token string) ([]Notification, error)
	GetCharacterRoles(ctx context.Context, characterID int, token string) ([]string, error)
}

// CharacterInfoResponse represents public character information from ESI
type CharacterInfoResponse struct {
	Name           string  `json:"name"`
	CorporationID  int     `json:"corporation_id"`
	AllianceID     *int    `json:"alliance_id,omitempty"`
	SecurityStatus float64 `json:"security_status,omitempty"`
}

// Notification represents a character notification from ESI. The Text field
// is the semi-structured "key: value" payload documented per notification type.
type Notification struct {
	NotificationID int64     `json:"notification_id"`
	SenderID       int       `json:"sender_id"`
	SenderType     string    `json:"sender_type"`
	Text           string    `json:"text,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type"`
	IsRead         bool      `json:"is_read,omitempty"`
}

type rolesResponse struct {
	Roles []string `json:"roles"`
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

// CharacterClient implements the Client interface
type CharacterClient struct {
	httpClient   *http.Client
	baseURL      string
	userAgent    string
	cacheManager CacheManager
	retryClient  RetryClient
}

// NewCharacterClient creates a new character client
func NewCharacterClient(httpClient *http.Client, baseURL, userAgent string, cacheManager CacheManager, retryClient RetryClient) Client {
	return &CharacterClient{
		httpClient:   httpClient,
		baseURL:      baseURL,
		userAgent:    userAgent,
		cacheManager: cacheManager,
		retryClient:  retryClient,
	}
}

// GetCharacterInfo retrieves public character information from ESI
func (c *CharacterClient) GetCharacterInfo(ctx context.Context, characterID int) (*CharacterInfoResponse, error) {
	endpoint := fmt.Sprintf("/characters/%d/", characterID)

	slog.InfoContext(ctx, "Requesting character info from ESI", "character_id", characterID)

	body, err := c.makeRequest(ctx, endpoint, "")
	if err != nil {
		return nil, err
	}

	var info CharacterInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse character info: %w", err)
	}

	return &info, nil
}

// GetCharacterNotifications retrieves the character's recent notifications.
// ESI returns a sliding window of notifications from the last ~30 days,
// including ones already seen; callers filter by timestamp.
func (c *CharacterClient) GetCharacterNotifications(ctx context.Context, characterID int, token string) ([]Notification, error) {
	endpoint := fmt.Sprintf("/characters/%d/notifications/", characterID)

	body, err := c.makeRequest(ctx, endpoint, token)
	if err != nil {
		return nil, err
	}

	var notifications []Notification
	if err := json.Unmarshal(body, &notifications); err != nil {
		return nil, fmt.Errorf("failed to parse character notifications: %w", err)
	}

	return notifications, nil
}

// GetCharacterRoles retrieves the character's corporation roles
func (c *CharacterClient) GetCharacterRoles(ctx context.Context, characterID int, token string) ([]string, error) {
	endpoint := fmt.Sprintf("/characters/%d/roles/", characterID)

	body, err := c.makeRequest(ctx, endpoint, token)
	if err != nil {
		return nil, err
	}

	var roles rolesResponse
	if err := json.Unmarshal(body, &roles); err != nil {
		return nil, fmt.Errorf("failed to parse character roles: %w", err)
	}

	return roles.Roles, nil
}

func (c *CharacterClient) makeRequest(ctx context.Context, endpoint, token string) ([]byte, error) {
	var span trace.Span
	cacheKey := c.baseURL + endpoint
	if token != "" {
		cacheKey = fmt.Sprintf("%s%s?token=%s", c.baseURL, endpoint, token)
	}

	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		tracer := otel.Tracer("go-watchtower/evegateway/character")
		ctx, span = tracer.Start(ctx, "character.makeRequest")
		defer span.End()

		span.SetAttributes(
			attribute.String("esi.endpoint", endpoint),
		)
	}

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
