package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const discordAPIBase = "https://discord.com/api/v10"

// Discord error codes that map to sentinel errors
const (
	discordCodeUnknownChannel = 10003
	discordCodeUnknownGuild   = 10004
	discordCodeMissingAccess  = 50001
	discordCodeMissingPerms   = 50013
)

// Permission bits consulted when deciding whether a channel is usable
const (
	permAdministrator uint64 = 1 << 3
	permViewChannel   uint64 = 1 << 10
	permSendMessages  uint64 = 1 << 11
)

type discordError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type discordChannel struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	GuildID              string             `json:"guild_id"`
	PermissionOverwrites []discordOverwrite `json:"permission_overwrites"`
}

// overwrite type 0 targets a role, type 1 a member
type discordOverwrite struct {
	ID    string `json:"id"`
	Type  int    `json:"type"`
	Allow string `json:"allow"`
	Deny  string `json:"deny"`
}

type discordRole struct {
	ID          string `json:"id"`
	Permissions string `json:"permissions"`
}

type discordMember struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Roles []string `json:"roles"`
}

type discordGuild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type discordMessagePayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// DiscordMessenger implements Messenger against the Discord REST API
type DiscordMessenger struct {
	httpClient *http.Client
	baseURL    string
	botToken   string
}

// NewDiscordMessenger creates a messenger authenticated with a bot token
func NewDiscordMessenger(botToken string) *DiscordMessenger {
	return &DiscordMessenger{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    discordAPIBase,
		botToken:   botToken,
	}
}

// SendMessage posts plain text to a channel
func (m *DiscordMessenger) SendMessage(ctx context.Context, channelID, content string) error {
	return m.postMessage(ctx, channelID, discordMessagePayload{Content: content})
}

// SendEmbeds posts rich cards, splitting into batches of MaxEmbedsPerMessage.
// The text content rides on the first message only.
func (m *DiscordMessenger) SendEmbeds(ctx context.Context, channelID, content string, embeds []Embed) error {
	if len(embeds) == 0 {
		if content == "" {
			return nil
		}
		return m.SendMessage(ctx, channelID, content)
	}

	for start := 0; start < len(embeds); start += MaxEmbedsPerMessage {
		end := start + MaxEmbedsPerMessage
		if end > len(embeds) {
			end = len(embeds)
		}

		payload := discordMessagePayload{Embeds: embeds[start:end]}
		if start == 0 {
			payload.Content = content
		}

		if err := m.postMessage(ctx, channelID, payload); err != nil {
			return err
		}
	}
	return nil
}

// ResolveChannel looks up a channel by ID
func (m *DiscordMessenger) ResolveChannel(ctx context.Context, channelID string) (*Channel, error) {
	body, err := m.request(ctx, "GET", "/channels/"+channelID, nil)
	if err != nil {
		return nil, err
	}

	var ch discordChannel
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("failed to parse channel response: %w", err)
	}

	return &Channel{ID: ch.ID, Name: ch.Name, ServerID: ch.GuildID}, nil
}

// HasPermission reports whether the bot can view the channel and post
// messages in it, computed from the guild's role permissions and the
// channel's overwrites.
func (m *DiscordMessenger) HasPermission(ctx context.Context, channelID string) (bool, error) {
	body, err := m.request(ctx, "GET", "/channels/"+channelID, nil)
	if err != nil {
		if errors.Is(err, ErrMissingAccess) || errors.Is(err, ErrUnknownChannel) {
			return false, nil
		}
		return false, err
	}

	var ch discordChannel
	if err := json.Unmarshal(body, &ch); err != nil {
		return false, fmt.Errorf("failed to parse channel response: %w", err)
	}
	if ch.GuildID == "" {
		// direct message channels carry no overwrites
		return true, nil
	}

	memberBody, err := m.request(ctx, "GET", "/guilds/"+ch.GuildID+"/members/@me", nil)
	if err != nil {
		return false, err
	}
	var member discordMember
	if err := json.Unmarshal(memberBody, &member); err != nil {
		return false, fmt.Errorf("failed to parse member response: %w", err)
	}

	rolesBody, err := m.request(ctx, "GET", "/guilds/"+ch.GuildID+"/roles", nil)
	if err != nil {
		return false, err
	}
	var roles []discordRole
	if err := json.Unmarshal(rolesBody, &roles); err != nil {
		return false, fmt.Errorf("failed to parse roles response: %w", err)
	}

	perms := computeChannelPermissions(ch, member, roles)
	if perms&permAdministrator != 0 {
		return true, nil
	}
	return perms&permViewChannel != 0 && perms&permSendMessages != 0, nil
}

// computeChannelPermissions follows Discord's documented order: base
// permissions from the @everyone role and the member's roles, then the
// channel's @everyone overwrite, then role overwrites combined, then the
// member overwrite. Administrator short-circuits everything.
func computeChannelPermissions(ch discordChannel, member discordMember, roles []discordRole) uint64 {
	permsByRole := make(map[string]uint64, len(roles))
	for _, role := range roles {
		permsByRole[role.ID] = parsePermissions(role.Permissions)
	}

	// the @everyone role shares the guild's ID
	base := permsByRole[ch.GuildID]
	for _, roleID := range member.Roles {
		base |= permsByRole[roleID]
	}
	if base&permAdministrator != 0 {
		return base
	}

	memberRoles := make(map[string]bool, len(member.Roles))
	for _, roleID := range member.Roles {
		memberRoles[roleID] = true
	}

	var roleAllow, roleDeny uint64
	for _, ow := range ch.PermissionOverwrites {
		switch {
		case ow.Type == 0 && ow.ID == ch.GuildID:
			base &^= parsePermissions(ow.Deny)
			base |= parsePermissions(ow.Allow)
		case ow.Type == 0 && memberRoles[ow.ID]:
			roleAllow |= parsePermissions(ow.Allow)
			roleDeny |= parsePermissions(ow.Deny)
		}
	}
	base &^= roleDeny
	base |= roleAllow

	for _, ow := range ch.PermissionOverwrites {
		if ow.Type == 1 && ow.ID == member.User.ID {
			base &^= parsePermissions(ow.Deny)
			base |= parsePermissions(ow.Allow)
		}
	}
	return base
}

// parsePermissions decodes Discord's stringified permission bitfield
func parsePermissions(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

// ResolveServer looks up a guild the bot is a member of
func (m *DiscordMessenger) ResolveServer(ctx context.Context, serverID string) (*Server, error) {
	body, err := m.request(ctx, "GET", "/guilds/"+serverID, nil)
	if err != nil {
		return nil, err
	}

	var g discordGuild
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("failed to parse guild response: %w", err)
	}

	return &Server{ID: g.ID, Name: g.Name}, nil
}

func (m *DiscordMessenger) postMessage(ctx context.Context, channelID string, payload discordMessagePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	_, err = m.request(ctx, "POST", "/channels/"+channelID+"/messages", data)
	return err
}

// request performs an authenticated call, retrying once after the advertised
// delay when the API answers 429.
func (m *DiscordMessenger) request(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, m.baseURL+endpoint, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bot "+m.botToken)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := m.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to call Discord API: %w", err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			delay := retryAfter(resp.Header)
			slog.WarnContext(ctx, "Discord rate limit hit, backing off",
				slog.String("endpoint", endpoint),
				slog.Duration("delay", delay))

			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		return nil, mapDiscordError(resp.StatusCode, respBody, endpoint)
	}
}

func retryAfter(headers http.Header) time.Duration {
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 2 * time.Second
}

func mapDiscordError(statusCode int, body []byte, endpoint string) error {
	var apiErr discordError
	if err := json.Unmarshal(body, &apiErr); err == nil {
		switch apiErr.Code {
		case discordCodeUnknownChannel:
			return ErrUnknownChannel
		case discordCodeUnknownGuild:
			return ErrUnknownServer
		case discordCodeMissingAccess, discordCodeMissingPerms:
			return ErrMissingAccess
		}
	}
	return fmt.Errorf("Discord API returned status %d on %s: %s", statusCode, endpoint, string(body))
}
