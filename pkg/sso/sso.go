package sso

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go-watchtower/pkg/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	EVEAuthURL  = "https://login.eveonline.com/v2/oauth/authorize"
	EVETokenURL = "https://login.eveonline.com/v2/oauth/token"

	// Scopes cover everything the polling loop reads on a member's behalf
	EVEScopes = "esi-characters.read_notifications.v1 esi-corporations.read_structures.v1 esi-characters.read_corporation_roles.v1 esi-corporations.read_starbases.v1"

	stateTTL = 15 * time.Minute
)

// EVETokenResponse represents the SSO token endpoint payload
type EVETokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// TokenIdentity is the character identity embedded in an SSO access token
type TokenIdentity struct {
	CharacterID   int
	CharacterName string
	Scopes        []string
}

// AuthError is returned when the SSO endpoint rejects a request. A 4xx
// status means the grant itself is bad and re-authentication is required.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("EVE SSO returned status %d: %s", e.StatusCode, e.Body)
}

// IsAuthRejection reports whether err is an SSO 4xx rejection
func IsAuthRejection(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.StatusCode >= 400 && authErr.StatusCode < 500
	}
	return false
}

type authState struct {
	serverID  string
	userID    string
	createdAt time.Time
}

// EVESSOHandler drives the EVE Online OAuth2 flow
type EVESSOHandler struct {
	clientID     string
	clientSecret string
	redirectURI  string
	httpClient   *http.Client

	statesMu sync.Mutex
	states   map[string]*authState
}

// NewEVESSOHandler creates a handler using credentials from the environment
func NewEVESSOHandler() *EVESSOHandler {
	return &EVESSOHandler{
		clientID:     config.GetEVEClientID(),
		clientSecret: config.GetEVEClientSecret(),
		redirectURI:  config.GetEVECallbackURL(),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		states:       make(map[string]*authState),
	}
}

// GenerateAuthURL creates the EVE Online SSO authorization URL. The server
// and requesting user ride along in the state so the callback knows which
// guild and member the character authenticated for.
func (h *EVESSOHandler) GenerateAuthURL(serverID, userID string) (string, string) {
	state := uuid.New().String()

	h.statesMu.Lock()
	h.states[state] = &authState{
		serverID:  serverID,
		userID:    userID,
		createdAt: time.Now(),
	}
	h.statesMu.Unlock()

	params := url.Values{
		"response_type": {"code"},
		"redirect_uri":  {h.redirectURI},
		"client_id":     {h.clientID},
		"scope":         {EVEScopes},
		"state":         {state},
	}

	return fmt.Sprintf("%s?%s", EVEAuthURL, params.Encode()), state
}

// ConsumeState validates a callback state and returns the server and user
// it was issued for. Each state is single-use.
func (h *EVESSOHandler) ConsumeState(state string) (serverID, userID string, err error) {
	h.statesMu.Lock()
	defer h.statesMu.Unlock()

	entry, ok := h.states[state]
	if !ok {
		return "", "", errors.New("invalid or expired state parameter")
	}
	delete(h.states, state)

	if time.Since(entry.createdAt) > stateTTL {
		return "", "", errors.New("invalid or expired state parameter")
	}
	return entry.serverID, entry.userID, nil
}

// ExchangeCodeForToken exchanges an authorization code for an access token
func (h *EVESSOHandler) ExchangeCodeForToken(ctx context.Context, code string) (*EVETokenResponse, error) {
	data := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	return h.tokenRequest(ctx, data)
}

// RefreshToken trades a refresh token for a fresh access token
func (h *EVESSOHandler) RefreshToken(ctx context.Context, refreshToken string) (*EVETokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return h.tokenRequest(ctx, data)
}

func (h *EVESSOHandler) tokenRequest(ctx context.Context, data url.Values) (*EVETokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", EVETokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", config.GetESIUserAgent())

	// Basic authentication with client credentials
	auth := base64.StdEncoding.EncodeToString([]byte(h.clientID + ":" + h.clientSecret))
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call token endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tokenResp EVETokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &tokenResp, nil
}

// ParseTokenIdentity extracts the character identity from an SSO access
// token without signature verification. The token was just received over TLS
// from the SSO itself, so the claims are trusted as-is.
func ParseTokenIdentity(accessToken string) (*TokenIdentity, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return nil, errors.New("access token missing sub claim")
	}

	// Subject looks like "CHARACTER:EVE:2112345678"
	parts := strings.Split(sub, ":")
	if len(parts) != 3 || parts[0] != "CHARACTER" {
		return nil, fmt.Errorf("unexpected subject format: %s", sub)
	}

	characterID, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid character ID in subject: %w", err)
	}

	identity := &TokenIdentity{CharacterID: characterID}

	if name, ok := claims["name"].(string); ok {
		identity.CharacterName = name
	}

	switch scp := claims["scp"].(type) {
	case string:
		identity.Scopes = []string{scp}
	case []interface{}:
		for _, s := range scp {
			if str, ok := s.(string); ok {
				identity.Scopes = append(identity.Scopes, str)
			}
		}
	}

	return identity, nil
}
