// Package chat abstracts the messaging platform notifications are delivered
// to. The watch module only depends on the Messenger interface so delivery
// can be exercised in tests without a live Discord connection.
package chat

import (
	"context"
	"errors"
)

var (
	// ErrUnknownChannel means the channel no longer exists
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrUnknownServer means the bot is no longer a member of the server
	ErrUnknownServer = errors.New("unknown server")
	// ErrMissingAccess means the bot lacks permission to post in the channel
	ErrMissingAccess = errors.New("missing access to channel")
)

// MaxEmbedsPerMessage is the platform ceiling on embeds in a single message
const MaxEmbedsPerMessage = 10

// EmbedField is a titled key/value pair inside an embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is a rich notification card
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// Channel is the resolved identity of a delivery channel
type Channel struct {
	ID       string
	Name     string
	ServerID string
}

// Server is the resolved identity of a chat server
type Server struct {
	ID   string
	Name string
}

// Messenger delivers notifications to a chat platform
type Messenger interface {
	// SendMessage posts plain text to a channel
	SendMessage(ctx context.Context, channelID, content string) error
	// SendEmbeds posts rich cards to a channel, splitting into multiple
	// messages when the embed count exceeds the platform ceiling
	SendEmbeds(ctx context.Context, channelID, content string, embeds []Embed) error
	// ResolveChannel looks up a channel, returning ErrUnknownChannel or
	// ErrMissingAccess when it is not usable
	ResolveChannel(ctx context.Context, channelID string) (*Channel, error)
	// HasPermission reports whether the bot can both view the channel and
	// post messages in it. A missing or inaccessible channel reports false
	// without an error, an error means the check itself could not run
	HasPermission(ctx context.Context, channelID string) (bool, error)
	// ResolveServer looks up a server the bot is a member of
	ResolveServer(ctx context.Context, serverID string) (*Server, error)
}
