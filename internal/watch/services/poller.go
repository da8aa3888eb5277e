package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-watchtower/internal/watch/models"
	"go-watchtower/pkg/chat"
	"go-watchtower/pkg/config"
	"go-watchtower/pkg/evegateway/character"
	"go-watchtower/pkg/evegateway/corporation"
	"go-watchtower/pkg/evegateway/universe"
)

// Persister is the slice of the repository the poll loop needs. Satisfied
// by *Repository, replaced with a fake in tests.
type Persister interface {
	SaveCorporation(ctx context.Context, corp *models.TrackedCorporation) error
	SaveChannelConfig(ctx context.Context, cfg *models.ChannelConfig) error
	DeleteChannelConfig(ctx context.Context, serverID, channelID string) error
}

// Poller drives the round-robin poll loop. One corporation is in flight at
// a time, visited in list order forever. Per-credential next-eligible
// watermarks, not the loop itself, throttle the upstream call rate, so the
// loop only needs to eventually visit everyone. Any failure inside one
// iteration is recorded and skipped, never propagated.
type Poller struct {
	store      *Store
	repo       Persister
	pool       *CredentialPool
	membership *MembershipReconciler
	notifier   *Notifier
	messenger  chat.Messenger

	corpClient corporation.Client
	charClient character.Client
	universe   universe.Client

	errorChannelID string

	index int

	// injectable for deterministic tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewPoller wires the poll loop
func NewPoller(store *Store, repo Persister, pool *CredentialPool, membership *MembershipReconciler, notifier *Notifier, messenger chat.Messenger, corpClient corporation.Client, charClient character.Client, universeClient universe.Client) *Poller {
	return &Poller{
		store:          store,
		repo:           repo,
		pool:           pool,
		membership:     membership,
		notifier:       notifier,
		messenger:      messenger,
		corpClient:     corpClient,
		charClient:     charClient,
		universe:       universeClient,
		errorChannelID: config.GetErrorChannelID(),
		now:            func() time.Time { return time.Now().UTC() },
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		},
	}
}

// Run loops until the context is cancelled
func (p *Poller) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Poll loop started")
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Poll loop stopped")
			return
		default:
		}

		p.Iterate(ctx)
		p.sleep(ctx, models.PollAttemptDelay)
	}
}

// Iterate processes the corporation at the current round-robin index and
// advances. Exported so tests can single-step the loop.
func (p *Poller) Iterate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Panic in poll iteration", slog.Any("panic", r))
			p.reportError(ctx, fmt.Sprintf("panic in poll loop: %v", r))
		}
		p.index++
	}()

	available := p.availableCorporations()
	if len(available) == 0 {
		return
	}
	if p.index < 0 || p.index >= len(available) {
		if p.index == len(available) {
			slog.InfoContext(ctx, "Completed full corporation pass",
				slog.Int("corporations", len(available)))
		}
		p.index = 0
	}

	corp := available[p.index]
	slog.InfoContext(ctx, "Polling corporation",
		slog.Int("index", p.index),
		slog.Int("available", len(available)),
		slog.String("corporation", corp.CorporationName))

	if err := p.pollCorporation(ctx, corp); err != nil {
		slog.ErrorContext(ctx, "Poll failed for corporation",
			slog.String("corporation", corp.CorporationName),
			slog.Any("error", err))
		p.reportError(ctx, fmt.Sprintf("poll failed for %s: %v", corp.CorporationName, err))
	}
}

func (p *Poller) availableCorporations() []*models.TrackedCorporation {
	var available []*models.TrackedCorporation
	for _, corp := range p.store.Corporations() {
		if corp.ServerID != "" && len(corp.ChannelIDs) > 0 {
			available = append(available, corp)
		}
	}
	return available
}

func (p *Poller) pollCorporation(ctx context.Context, corp *models.TrackedCorporation) error {
	p.pruneDeadChannels(ctx, corp)

	server, err := p.messenger.ResolveServer(ctx, corp.ServerID)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownServer) {
			slog.InfoContext(ctx, "Server gone, detaching corporation",
				slog.String("corporation", corp.CorporationName))
			p.store.Mutate(func() { corp.ServerID = "" })
			return p.repo.SaveCorporation(ctx, corp)
		}
		return fmt.Errorf("failed to resolve server %s: %w", corp.ServerID, err)
	}
	corp.ServerName = server.Name

	if len(corp.ChannelIDs) == 0 {
		return nil
	}

	changed, err := p.membership.Reconcile(ctx, corp)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			slog.InfoContext(ctx, "No usable credential for membership check",
				slog.String("corporation", corp.CorporationName))
			return nil
		}
		return err
	}
	if changed {
		if err := p.repo.SaveCorporation(ctx, corp); err != nil {
			return err
		}
	}
	if len(corp.Members) == 0 {
		return nil
	}

	p.logCredentialSummary(ctx, corp)

	if err := p.checkStructures(ctx, corp); err != nil {
		slog.ErrorContext(ctx, "Structure check failed",
			slog.String("corporation", corp.CorporationName), slog.Any("error", err))
	}
	if err := p.checkStarbases(ctx, corp); err != nil {
		slog.ErrorContext(ctx, "Starbase check failed",
			slog.String("corporation", corp.CorporationName), slog.Any("error", err))
	}
	if err := p.checkNotifications(ctx, corp); err != nil {
		slog.ErrorContext(ctx, "Notification check failed",
			slog.String("corporation", corp.CorporationName), slog.Any("error", err))
	}

	return nil
}

// pruneDeadChannels drops subscribed channels the bot can no longer post
// to. Dropped channels are never retried automatically.
func (p *Poller) pruneDeadChannels(ctx context.Context, corp *models.TrackedCorporation) {
	kept := corp.ChannelIDs[:0]
	removedAny := false

	for _, channelID := range corp.ChannelIDs {
		usable, err := p.messenger.HasPermission(ctx, channelID)
		switch {
		case err == nil && usable:
			kept = append(kept, channelID)
		case err == nil:
			// Channel gone, or the bot lost view or send permission
			slog.InfoContext(ctx, "Removing dead channel",
				slog.String("channel_id", channelID),
				slog.String("corporation", corp.CorporationName))
			p.store.RemoveChannelConfig(corp.ServerID, channelID)
			if err := p.repo.DeleteChannelConfig(ctx, corp.ServerID, channelID); err != nil {
				slog.ErrorContext(ctx, "Failed to delete channel config", slog.Any("error", err))
			}
			removedAny = true
		default:
			// Transient lookup failure, keep the channel this cycle
			kept = append(kept, channelID)
		}
	}

	if removedAny {
		p.store.Mutate(func() { corp.ChannelIDs = kept })
		if err := p.repo.SaveCorporation(ctx, corp); err != nil {
			slog.ErrorContext(ctx, "Failed to persist channel removal", slog.Any("error", err))
		}
	} else {
		corp.ChannelIDs = kept
	}
}

// logCredentialSummary logs which credentials are waiting on re-auth and
// when each working credential next becomes eligible.
func (p *Poller) logCredentialSummary(ctx context.Context, corp *models.TrackedCorporation) {
	now := p.now()
	for _, member := range corp.Members {
		for _, cred := range member.Credentials {
			if cred.NeedsReAuth {
				slog.InfoContext(ctx, "Credential awaiting re-auth",
					slog.String("character_name", cred.CharacterName))
				continue
			}
			role := ""
			if cred.HasRole(models.RoleDirector) {
				role = "Director"
			} else if cred.HasRole(models.RoleStationManager) {
				role = "Manager"
			}
			slog.DebugContext(ctx, "Working credential",
				slog.String("character_name", cred.CharacterName),
				slog.String("role", role),
				slog.Duration("next_check_in", cred.NextNotificationCheck.Sub(now)))
		}
	}
}

func (p *Poller) checkStructures(ctx context.Context, corp *models.TrackedCorporation) error {
	now := p.now()
	if now.Before(corp.NextStructureCheck) {
		return nil
	}

	_, token, err := p.pool.Draw(ctx, corp, models.CheckStructures, models.RoleStationManager, models.StructureCheckDelay)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return nil
		}
		// Quarantine state from a failed refresh still needs persisting
		return p.repo.SaveCorporation(ctx, corp)
	}

	raw, err := p.corpClient.GetCorporationStructures(ctx, corp.CorporationID, token)
	if err != nil {
		return fmt.Errorf("failed to fetch structures: %w", err)
	}

	current := make([]*models.Structure, 0, len(raw))
	for _, s := range raw {
		current = append(current, convertStructure(s))
	}

	workingCount := len(p.pool.WorkingCredentials(corp, models.CheckStructures, models.RoleStationManager))
	if workingCount == 0 {
		workingCount = 1
	}

	window := FuelWindow{
		Now:      now,
		Interval: models.NotificationCheckDelay / time.Duration(corp.AuthedCharacterCount()),
	}
	diff := ReconcileStructures(corp.Structures, current, window)

	p.sendStructureDiff(ctx, corp, diff, now)

	p.store.Mutate(func() {
		corp.Structures = current
		corp.NextStructureCheck = now.Add(models.StructureCheckDelay/time.Duration(workingCount) + 10*time.Second)
	})
	return p.repo.SaveCorporation(ctx, corp)
}

func (p *Poller) sendStructureDiff(ctx context.Context, corp *models.TrackedCorporation, diff StructureDiff, now time.Time) {
	statusChannels := p.channelsWithToggle(corp, func(cfg *models.ChannelConfig) bool {
		return cfg.StructureStatus
	})
	alertChannels := p.channelsWithToggle(corp, func(cfg *models.ChannelConfig) bool {
		return cfg.StructureStatus || cfg.StructureFuel
	})

	// Individual cards per added/removed structure, the embed ceiling
	// makes batching not worth it at these list sizes
	for _, s := range diff.Added {
		p.sendToChannels(ctx, statusChannels, "", NewStructureEmbed(s, now))
	}
	for _, s := range diff.Removed {
		p.sendToChannels(ctx, statusChannels, "", RemovedStructureEmbed(s))
	}

	if len(diff.Changes) > 0 {
		message := ""
		for _, block := range diff.Changes {
			message += block + "\n\n"
		}
		for _, channelID := range alertChannels {
			if err := p.messenger.SendMessage(ctx, channelID, message); err != nil {
				slog.ErrorContext(ctx, "Failed to send structure alerts",
					slog.String("channel_id", channelID), slog.Any("error", err))
			}
		}
	}
}

func (p *Poller) checkStarbases(ctx context.Context, corp *models.TrackedCorporation) error {
	now := p.now()
	if now.Before(corp.NextStarbaseCheck) {
		return nil
	}

	_, token, err := p.pool.Draw(ctx, corp, models.CheckStarbases, models.RoleDirector, models.StructureCheckDelay)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return nil
		}
		return p.repo.SaveCorporation(ctx, corp)
	}

	raw, err := p.corpClient.GetCorporationStarbases(ctx, corp.CorporationID, token)
	if err != nil {
		return fmt.Errorf("failed to fetch starbases: %w", err)
	}

	current := make([]*models.Starbase, 0, len(raw))
	for _, s := range raw {
		current = append(current, convertStarbase(s))
	}

	diff := ReconcileStarbases(corp.Starbases, current)
	p.sendStarbaseDiff(ctx, corp, diff)

	workingCount := len(p.pool.WorkingCredentials(corp, models.CheckStarbases, models.RoleDirector))
	if workingCount == 0 {
		workingCount = 1
	}

	p.store.Mutate(func() {
		corp.Starbases = current
		corp.NextStarbaseCheck = now.Add(models.StructureCheckDelay/time.Duration(workingCount) + 10*time.Second)
	})
	return p.repo.SaveCorporation(ctx, corp)
}

func (p *Poller) sendStarbaseDiff(ctx context.Context, corp *models.TrackedCorporation, diff StarbaseDiff) {
	channels := p.channelsWithToggle(corp, func(cfg *models.ChannelConfig) bool {
		return cfg.StarbaseStatus
	})

	for _, s := range diff.Added {
		typeName, systemName, moonName := p.starbaseNames(ctx, s)
		p.sendToChannels(ctx, channels, "", NewStarbaseEmbed(s, typeName, systemName, moonName))
	}
	for _, s := range diff.Removed {
		typeName, systemName, moonName := p.starbaseNames(ctx, s)
		p.sendToChannels(ctx, channels, "", RemovedStarbaseEmbed(s, typeName, systemName, moonName))
	}

	if len(diff.Changed) > 0 {
		message := ""
		for _, change := range diff.Changed {
			_, systemName, moonName := p.starbaseNames(ctx, change.Starbase)
			message += StarbaseChangeBlock(change, systemName, moonName) + "\n\n"
		}
		for _, channelID := range channels {
			if err := p.messenger.SendMessage(ctx, channelID, message); err != nil {
				slog.ErrorContext(ctx, "Failed to send starbase alerts",
					slog.String("channel_id", channelID), slog.Any("error", err))
			}
		}
	}
}

func (p *Poller) starbaseNames(ctx context.Context, s *models.Starbase) (typeName, systemName, moonName string) {
	typeName = "Starbase"
	if name, err := p.universe.GetTypeName(ctx, s.TypeID); err == nil {
		typeName = name
	}
	systemName = "unknown system"
	if name, err := p.universe.GetSystemName(ctx, s.SystemID); err == nil {
		systemName = name
	}
	moonName = "unknown moon"
	if s.MoonID != 0 {
		if name, err := p.universe.GetMoonName(ctx, s.MoonID); err == nil {
			moonName = name
		}
	}
	return typeName, systemName, moonName
}

func (p *Poller) checkNotifications(ctx context.Context, corp *models.TrackedCorporation) error {
	now := p.now()
	if now.Before(corp.NextNotificationCheck) {
		return nil
	}

	// Structure notifications only reach Station Managers, checking with
	// other characters just burns their cool-downs
	cred, token, err := p.pool.Draw(ctx, corp, models.CheckNotifications, models.RoleStationManager, models.NotificationCheckDelay)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			slog.InfoContext(ctx, "No available characters to check notifications with",
				slog.String("corporation", corp.CorporationName))
			return nil
		}
		return p.repo.SaveCorporation(ctx, corp)
	}

	raw, err := p.charClient.GetCharacterNotifications(ctx, cred.CharacterID, token)
	if err != nil {
		return fmt.Errorf("failed to fetch notifications: %w", err)
	}

	events := make([]models.NotificationEvent, 0, len(raw))
	for _, n := range raw {
		events = append(events, models.NotificationEvent{
			NotificationID: n.NotificationID,
			SenderID:       n.SenderID,
			SenderType:     n.SenderType,
			Timestamp:      n.Timestamp,
			Type:           n.Type,
			Text:           n.Text,
		})
	}

	watermark := p.notifier.Dispatch(ctx, corp, events)

	workingCount := len(p.pool.WorkingCredentials(corp, models.CheckNotifications, models.RoleStationManager))
	if workingCount == 0 {
		workingCount = 1
	}

	p.store.Mutate(func() {
		corp.MostRecentNotification = watermark
		corp.NextNotificationCheck = now.Add(models.NotificationCheckDelay/time.Duration(workingCount) + 3*time.Second)
	})
	return p.repo.SaveCorporation(ctx, corp)
}

func (p *Poller) channelsWithToggle(corp *models.TrackedCorporation, enabled func(cfg *models.ChannelConfig) bool) []string {
	var channels []string
	for _, channelID := range corp.ChannelIDs {
		if enabled(p.store.ChannelConfig(corp.ServerID, channelID)) {
			channels = append(channels, channelID)
		}
	}
	return channels
}

func (p *Poller) sendToChannels(ctx context.Context, channels []string, content string, embed chat.Embed) {
	for _, channelID := range channels {
		if err := p.messenger.SendEmbeds(ctx, channelID, content, []chat.Embed{embed}); err != nil {
			slog.ErrorContext(ctx, "Failed to send embed",
				slog.String("channel_id", channelID), slog.Any("error", err))
		}
	}
}

// reportError posts operational failures to the configured error channel
func (p *Poller) reportError(ctx context.Context, message string) {
	if p.errorChannelID == "" {
		return
	}
	if err := p.messenger.SendMessage(ctx, p.errorChannelID, message); err != nil {
		slog.ErrorContext(ctx, "Failed to report error to channel", slog.Any("error", err))
	}
}

func convertStructure(s corporation.Structure) *models.Structure {
	return &models.Structure{
		StructureID:     s.StructureID,
		CorporationID:   s.CorporationID,
		TypeID:          s.TypeID,
		SystemID:        s.SystemID,
		ProfileID:       s.ProfileID,
		Name:            s.Name,
		State:           s.State,
		StateTimerStart: s.StateTimerStart,
		StateTimerEnd:   s.StateTimerEnd,
		FuelExpires:     s.FuelExpires,
		UnanchorsAt:     s.UnanchorsAt,
	}
}

func convertStarbase(s corporation.Starbase) *models.Starbase {
	return &models.Starbase{
		StarbaseID:      s.StarbaseID,
		TypeID:          s.TypeID,
		SystemID:        s.SystemID,
		MoonID:          s.MoonID,
		State:           s.State,
		OnlinedSince:    s.OnlinedSince,
		ReinforcedUntil: s.ReinforcedUntil,
		UnanchorAt:      s.UnanchorAt,
	}
}
