package services

import (
	"sync"

	"go-watchtower/internal/watch/models"
)

// Store holds the single in-memory corpus of tracked corporations and
// channel configurations. All mutation is funnelled through its methods to
// keep a single-writer discipline between the poll loop, the API handlers
// and the authorization callback.
type Store struct {
	mu           sync.RWMutex
	corporations []*models.TrackedCorporation
	channels     map[string]*models.ChannelConfig
}

// NewStore creates an empty corpus
func NewStore() *Store {
	return &Store{
		channels: make(map[string]*models.ChannelConfig),
	}
}

func channelKey(serverID, channelID string) string {
	return serverID + ":" + channelID
}

// Load replaces the corpus wholesale. Used once at startup after the
// repository has migrated the persisted records.
func (s *Store) Load(corporations []*models.TrackedCorporation, channels []*models.ChannelConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.corporations = corporations
	s.channels = make(map[string]*models.ChannelConfig, len(channels))
	for _, ch := range channels {
		s.channels[channelKey(ch.ServerID, ch.ChannelID)] = ch
	}
}

// Corporations returns a copy of the corporation list. The records
// themselves are shared, callers mutate them only via Mutate.
func (s *Store) Corporations() []*models.TrackedCorporation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.TrackedCorporation, len(s.corporations))
	copy(out, s.corporations)
	return out
}

// Corporation looks up a tracked corporation by ID
func (s *Store) Corporation(corporationID int) *models.TrackedCorporation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, corp := range s.corporations {
		if corp.CorporationID == corporationID {
			return corp
		}
	}
	return nil
}

// AddCorporation appends a newly tracked corporation
func (s *Store) AddCorporation(corp *models.TrackedCorporation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corporations = append(s.corporations, corp)
}

// RemoveCorporation drops a corporation from the corpus
func (s *Store) RemoveCorporation(corporationID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, corp := range s.corporations {
		if corp.CorporationID == corporationID {
			s.corporations = append(s.corporations[:i], s.corporations[i+1:]...)
			return
		}
	}
}

// Mutate runs fn while holding the write lock. Read-modify-write sequences
// on a corporation record go through here so no other task observes a
// half-applied change.
func (s *Store) Mutate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// ChannelConfig returns the config for a channel, creating it with all
// toggles enabled on first use.
func (s *Store) ChannelConfig(serverID, channelID string) *models.ChannelConfig {
	key := channelKey(serverID, channelID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg, ok := s.channels[key]; ok {
		return cfg
	}

	cfg := models.NewChannelConfig(serverID, channelID)
	s.channels[key] = cfg
	return cfg
}

// ChannelConfigs returns all channel configurations
func (s *Store) ChannelConfigs() []*models.ChannelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ChannelConfig, 0, len(s.channels))
	for _, cfg := range s.channels {
		out = append(out, cfg)
	}
	return out
}

// RemoveChannelConfig deletes a channel's configuration when the channel
// itself is removed.
func (s *Store) RemoveChannelConfig(serverID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelKey(serverID, channelID))
}
