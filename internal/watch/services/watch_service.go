package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go-watchtower/internal/watch/models"
	"go-watchtower/pkg/chat"
	"go-watchtower/pkg/evegateway"
	"go-watchtower/pkg/sso"
)

// ErrCorporationNotFound is returned when a corporation is not tracked
var ErrCorporationNotFound = errors.New("corporation not tracked")

// WatchService orchestrates authorization, subscription management and
// reporting on top of the shared corpus. Mutations here and in the poll
// loop both go through the store, each significant one persists before the
// operation is considered complete.
// serverStatusClient is the slice of the ESI surface the status report needs
type serverStatusClient interface {
	GetServerStatus(ctx context.Context) (*evegateway.ESIStatusResponse, error)
}

type WatchService struct {
	store        *Store
	repo         *Repository
	sso          *sso.EVESSOHandler
	esi          *evegateway.Client
	statusClient serverStatusClient
	messenger    chat.Messenger
}

// NewWatchService creates the watch service
func NewWatchService(store *Store, repo *Repository, ssoHandler *sso.EVESSOHandler, esiClient *evegateway.Client, messenger chat.Messenger) *WatchService {
	return &WatchService{
		store:        store,
		repo:         repo,
		sso:          ssoHandler,
		esi:          esiClient,
		statusClient: esiClient,
		messenger:    messenger,
	}
}

// LoginURL builds the SSO authorization URL for a user on a server
func (s *WatchService) LoginURL(serverID, userID string) string {
	url, _ := s.sso.GenerateAuthURL(serverID, userID)
	return url
}

// AuthorizationResult summarises a completed SSO callback
type AuthorizationResult struct {
	CharacterName   string
	CorporationID   int
	CorporationName string
	NewCorporation  bool
}

// HandleCallback completes the SSO flow: the code is exchanged for tokens,
// the character's corporation resolved, and a credential stored. A
// previously unseen corporation starts being tracked.
func (s *WatchService) HandleCallback(ctx context.Context, code, state string) (*AuthorizationResult, error) {
	serverID, userID, err := s.sso.ConsumeState(state)
	if err != nil {
		return nil, err
	}

	tokens, err := s.sso.ExchangeCodeForToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	identity, err := sso.ParseTokenIdentity(tokens.AccessToken)
	if err != nil {
		return nil, err
	}

	charInfo, err := s.esi.Character.GetCharacterInfo(ctx, identity.CharacterID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve character %d: %w", identity.CharacterID, err)
	}

	corpInfo, err := s.esi.Corporation.GetCorporationInfo(ctx, charInfo.CorporationID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve corporation %d: %w", charInfo.CorporationID, err)
	}

	now := time.Now().UTC()
	cred := &models.Credential{
		CharacterID:   identity.CharacterID,
		CharacterName: identity.CharacterName,
		UserID:        userID,
		CorporationID: charInfo.CorporationID,
		AccessToken:   tokens.AccessToken,
		TokenExpiry:   now.Add(time.Duration(tokens.ExpiresIn) * time.Second),
		RefreshToken:  tokens.RefreshToken,
	}

	result := &AuthorizationResult{
		CharacterName:   identity.CharacterName,
		CorporationID:   charInfo.CorporationID,
		CorporationName: corpInfo.Name,
	}

	corp := s.store.Corporation(charInfo.CorporationID)
	if corp == nil {
		corp = &models.TrackedCorporation{
			CorporationID:   charInfo.CorporationID,
			CorporationName: corpInfo.Name,
			ServerID:        serverID,
			Members:         []*models.Member{{UserID: userID, Credentials: []*models.Credential{cred}}},
			AddedAt:         now,
		}
		s.store.AddCorporation(corp)
		result.NewCorporation = true

		slog.InfoContext(ctx, "Tracking new corporation",
			slog.Int("corporation_id", corp.CorporationID),
			slog.String("corporation_name", corp.CorporationName))
		return result, s.repo.SaveCorporation(ctx, corp)
	}

	s.store.Mutate(func() {
		if corp.ServerID == "" {
			corp.ServerID = serverID
		}
		upsertCredential(corp, userID, cred)
	})

	slog.InfoContext(ctx, "Character authorized",
		slog.String("character_name", identity.CharacterName),
		slog.String("corporation_name", corp.CorporationName))
	return result, s.repo.SaveCorporation(ctx, corp)
}

// upsertCredential replaces an existing credential for the same character
// or appends a new one under the owning member. A re-auth clears the
// quarantine flag.
func upsertCredential(corp *models.TrackedCorporation, userID string, cred *models.Credential) {
	var member *models.Member
	for _, m := range corp.Members {
		if m.UserID == userID {
			member = m
			break
		}
	}
	if member == nil {
		member = &models.Member{UserID: userID}
		corp.Members = append(corp.Members, member)
	}

	for i, existing := range member.Credentials {
		if existing.CharacterID == cred.CharacterID {
			// Carry role cache and check cadence over the re-auth
			cred.Roles = existing.Roles
			cred.NextStructureCheck = existing.NextStructureCheck
			cred.NextStarbaseCheck = existing.NextStarbaseCheck
			cred.NextNotificationCheck = existing.NextNotificationCheck
			member.Credentials[i] = cred
			return
		}
	}
	member.Credentials = append(member.Credentials, cred)
}

// Subscribe adds a channel to a corporation's delivery list
func (s *WatchService) Subscribe(ctx context.Context, corporationID int, serverID, channelID string) error {
	corp := s.store.Corporation(corporationID)
	if corp == nil {
		return ErrCorporationNotFound
	}

	ch, err := s.messenger.ResolveChannel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("channel %s is not usable: %w", channelID, err)
	}

	s.store.Mutate(func() {
		for _, existing := range corp.ChannelIDs {
			if existing == channelID {
				return
			}
		}
		corp.ChannelIDs = append(corp.ChannelIDs, channelID)
	})

	cfg := s.store.ChannelConfig(serverID, channelID)
	cfg.ChannelName = ch.Name
	if err := s.repo.SaveChannelConfig(ctx, cfg); err != nil {
		return err
	}
	return s.repo.SaveCorporation(ctx, corp)
}

// Unsubscribe removes a channel from a corporation's delivery list
func (s *WatchService) Unsubscribe(ctx context.Context, corporationID int, serverID, channelID string) error {
	corp := s.store.Corporation(corporationID)
	if corp == nil {
		return ErrCorporationNotFound
	}

	s.store.Mutate(func() {
		kept := corp.ChannelIDs[:0]
		for _, existing := range corp.ChannelIDs {
			if existing != channelID {
				kept = append(kept, existing)
			}
		}
		corp.ChannelIDs = kept
	})

	s.store.RemoveChannelConfig(serverID, channelID)
	if err := s.repo.DeleteChannelConfig(ctx, serverID, channelID); err != nil {
		return err
	}
	return s.repo.SaveCorporation(ctx, corp)
}

// ChannelToggles is the updatable portion of a channel's configuration
type ChannelToggles struct {
	StarbaseFuel    *bool
	StarbaseStatus  *bool
	StructureFuel   *bool
	StructureStatus *bool
	MiningUpdates   *bool
	LowFuelRole     *string
	AttackAlertRole *string
}

// ConfigureChannel applies partial toggle updates to a channel config
func (s *WatchService) ConfigureChannel(ctx context.Context, serverID, channelID string, toggles ChannelToggles) (*models.ChannelConfig, error) {
	cfg := s.store.ChannelConfig(serverID, channelID)

	s.store.Mutate(func() {
		if toggles.StarbaseFuel != nil {
			cfg.StarbaseFuel = *toggles.StarbaseFuel
		}
		if toggles.StarbaseStatus != nil {
			cfg.StarbaseStatus = *toggles.StarbaseStatus
		}
		if toggles.StructureFuel != nil {
			cfg.StructureFuel = *toggles.StructureFuel
		}
		if toggles.StructureStatus != nil {
			cfg.StructureStatus = *toggles.StructureStatus
		}
		if toggles.MiningUpdates != nil {
			cfg.MiningUpdates = *toggles.MiningUpdates
		}
		if toggles.LowFuelRole != nil {
			cfg.LowFuelRole = *toggles.LowFuelRole
		}
		if toggles.AttackAlertRole != nil {
			cfg.AttackAlertRole = *toggles.AttackAlertRole
		}
	})

	return cfg, s.repo.SaveChannelConfig(ctx, cfg)
}

// Corporations lists all tracked corporations
func (s *WatchService) Corporations() []*models.TrackedCorporation {
	return s.store.Corporations()
}

// ModuleStatus reports corpus size and upstream game-server state
type ModuleStatus struct {
	Corporations  int
	Channels      int
	Upstream      string
	Players       int
	ServerVersion string
	ServerStart   time.Time
}

// Status reports the tracked corpus size and the upstream server status.
// An unreachable upstream degrades the report rather than failing it.
func (s *WatchService) Status(ctx context.Context) ModuleStatus {
	status := ModuleStatus{
		Corporations: len(s.store.Corporations()),
		Channels:     len(s.store.ChannelConfigs()),
		Upstream:     "ok",
	}

	upstream, err := s.statusClient.GetServerStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to fetch upstream server status", slog.Any("error", err))
		status.Upstream = "unreachable"
		return status
	}

	status.Players = upstream.Players
	status.ServerVersion = upstream.ServerVersion
	status.ServerStart = upstream.StartTime
	return status
}

// FuelStatus is one structure's fuel situation in a report
type FuelStatus struct {
	StructureName string
	FuelExpires   *time.Time
	Depleted      bool
}

// FuelReport summarises fuel state across a corporation's structures,
// soonest expiry first.
func (s *WatchService) FuelReport(corporationID int) ([]FuelStatus, error) {
	corp := s.store.Corporation(corporationID)
	if corp == nil {
		return nil, ErrCorporationNotFound
	}

	now := time.Now().UTC()
	report := make([]FuelStatus, 0, len(corp.Structures))
	for _, structure := range corp.Structures {
		status := FuelStatus{
			StructureName: structureDisplayName(structure),
			FuelExpires:   structure.FuelExpires,
			Depleted:      structure.FuelExpires == nil || !structure.FuelExpires.After(now),
		}
		report = append(report, status)
	}

	sort.SliceStable(report, func(i, j int) bool {
		a, b := report[i].FuelExpires, report[j].FuelExpires
		if a == nil || b == nil {
			return a != nil
		}
		return a.Before(*b)
	})

	return report, nil
}

// RemoveServerData deletes everything tracked for a server after writing a
// full backup. This backs the destructive data-removal command.
func (s *WatchService) RemoveServerData(ctx context.Context, serverID string) (int, error) {
	if err := s.repo.BackupCorpus(ctx); err != nil {
		return 0, fmt.Errorf("refusing to remove data, backup failed: %w", err)
	}

	removed := 0
	for _, corp := range s.store.Corporations() {
		if corp.ServerID != serverID {
			continue
		}
		for _, channelID := range corp.ChannelIDs {
			s.store.RemoveChannelConfig(serverID, channelID)
			if err := s.repo.DeleteChannelConfig(ctx, serverID, channelID); err != nil {
				return removed, err
			}
		}
		s.store.RemoveCorporation(corp.CorporationID)
		if err := s.repo.DeleteCorporation(ctx, corp.CorporationID); err != nil {
			return removed, err
		}
		removed++
	}

	slog.InfoContext(ctx, "Removed server data",
		slog.String("server_id", serverID),
		slog.Int("corporations", removed))
	return removed, nil
}
