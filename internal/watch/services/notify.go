package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go-watchtower/internal/watch/models"
	"go-watchtower/pkg/chat"
	"go-watchtower/pkg/evegateway/universe"
)

// categoryFlag classifies a notification for per-channel routing. An event
// is delivered to a channel only if at least one of its categories is
// enabled there.
type categoryFlag uint8

const (
	catStructureStatus categoryFlag = 1 << iota
	catStructureFuel
	catMiningUpdates
	catStarbaseStatus
	catStarbaseFuel
)

// handlerKind selects how a notification's payload is turned into a card
type handlerKind int

const (
	handleStructure handlerKind = iota
	handleMoonMining
	handleTower
	handleWarDeclared
	handleSovereignty
	handleSkyhook
)

// roleSelector picks which of a channel's configured roles to mention for
// an event. Selection is per channel, different channels may ping
// different roles for the same event.
type roleSelector func(cfg *models.ChannelConfig) string

func mentionAttackRole(cfg *models.ChannelConfig) string { return cfg.AttackAlertRole }
func mentionFuelRole(cfg *models.ChannelConfig) string   { return cfg.LowFuelRole }

type notificationSpec struct {
	title      string
	colour     int
	kind       handlerKind
	categories categoryFlag
	mention    roleSelector
}

// notificationRegistry maps upstream notification type tags to their
// display and routing rules. Unregistered types are logged and skipped,
// the watermark still advances past them.
var notificationRegistry = map[string]notificationSpec{
	"StructureUnderAttack":         {title: "STRUCTURE UNDER ATTACK", colour: colourRed, kind: handleStructure, categories: catStructureStatus, mention: mentionAttackRole},
	"StructureLostShields":         {title: "Structure shields depleted", colour: colourRed, kind: handleStructure, categories: catStructureStatus, mention: mentionAttackRole},
	"StructureLostArmor":           {title: "Structure armor depleted", colour: colourRed, kind: handleStructure, categories: catStructureStatus, mention: mentionAttackRole},
	"StructureDestroyed":           {title: "Structure destroyed", colour: colourRed, kind: handleStructure, categories: catStructureStatus},
	"StructureOnline":              {title: "Structure online", colour: colourGreen, kind: handleStructure, categories: catStructureStatus},
	"StructureAnchoring":           {title: "Structure anchoring", colour: colourOrange, kind: handleStructure, categories: catStructureStatus},
	"StructureUnanchoring":         {title: "Structure unanchoring", colour: colourRed, kind: handleStructure, categories: catStructureStatus},
	"StructureServicesOffline":     {title: "Structure services offline", colour: colourRed, kind: handleStructure, categories: catStructureStatus},
	"StructureWentHighPower":       {title: "Structure power restored", colour: colourGreen, kind: handleStructure, categories: catStructureStatus},
	"StructureWentLowPower":        {title: "Structure power failed", colour: colourRed, kind: handleStructure, categories: catStructureStatus},
	"StructureFuelAlert":           {title: "Structure low on fuel", colour: colourOrange, kind: handleStructure, categories: catStructureFuel, mention: mentionFuelRole},
	"StructureLowReagentsAlert":    {title: "Structure low on reagents", colour: colourOrange, kind: handleStructure, categories: catStructureFuel, mention: mentionFuelRole},
	"StructureNoReagentsAlert":     {title: "Structure out of reagents", colour: colourRed, kind: handleStructure, categories: catStructureFuel, mention: mentionFuelRole},
	"MoonminingExtractionStarted":  {title: "Moon mining extraction started", colour: colourBlue, kind: handleMoonMining, categories: catMiningUpdates},
	"MoonminingExtractionFinished": {title: "Moon mining extraction finished", colour: colourBlue, kind: handleMoonMining, categories: catMiningUpdates},
	"MoonminingExtractionCancelled": {title: "Moon mining extraction cancelled", colour: colourBlue, kind: handleMoonMining, categories: catMiningUpdates},
	"MoonminingAutomaticFracture":  {title: "Moon mining automatic fracture triggered", colour: colourBlue, kind: handleMoonMining, categories: catMiningUpdates},
	"MoonminingLaserFired":         {title: "Moon mining laser fired", colour: colourBlue, kind: handleMoonMining, categories: catMiningUpdates},
	"TowerAlertMsg":                {title: "POS Alert", colour: colourRed, kind: handleTower, categories: catStarbaseStatus, mention: mentionAttackRole},
	"TowerResourceAlertMsg":        {title: "POS low on fuel", colour: colourOrange, kind: handleTower, categories: catStarbaseFuel, mention: mentionFuelRole},
	"OrbitalAttacked":              {title: "POCO Attacked", colour: colourRed, kind: handleStructure, categories: catStructureStatus, mention: mentionAttackRole},
	"OrbitalReinforced":            {title: "POCO Reinforced", colour: colourRed, kind: handleStructure, categories: catStructureStatus, mention: mentionAttackRole},
	"AllWarDeclaredMsg":            {title: "War declared", colour: colourRed, kind: handleWarDeclared, categories: catStructureStatus | catStarbaseStatus},
	"CorpWarDeclaredMsg":           {title: "War declared", colour: colourRed, kind: handleWarDeclared, categories: catStructureStatus | catStarbaseStatus},
	"AllWarInvalidatedMsg":         {title: "War invalidated", colour: colourGreen, kind: handleWarDeclared, categories: catStructureStatus | catStarbaseStatus},
	"CorpWarInvalidatedMsg":        {title: "War invalidated", colour: colourGreen, kind: handleWarDeclared, categories: catStructureStatus | catStarbaseStatus},
	"SovStructureReinforced":       {title: "Sovereignty structure reinforced", colour: colourRed, kind: handleSovereignty, categories: catStructureStatus, mention: mentionAttackRole},
	"SovStructureDestroyed":        {title: "Sovereignty structure destroyed", colour: colourRed, kind: handleSovereignty, categories: catStructureStatus},
	"EntosisCaptureStarted":        {title: "Entosis capture started", colour: colourRed, kind: handleSovereignty, categories: catStructureStatus, mention: mentionAttackRole},
	"SkyhookUnderAttack":           {title: "Skyhook under attack", colour: colourRed, kind: handleSkyhook, categories: catStructureStatus, mention: mentionAttackRole},
	"SkyhookOnline":                {title: "Skyhook online", colour: colourGreen, kind: handleSkyhook, categories: catStructureStatus},
	"SkyhookLostShields":           {title: "Skyhook shields depleted", colour: colourRed, kind: handleSkyhook, categories: catStructureStatus, mention: mentionAttackRole},
	"SkyhookDestroyed":             {title: "Skyhook destroyed", colour: colourRed, kind: handleSkyhook, categories: catStructureStatus},
}

// enabledCategories folds a channel's feature toggles into a flag set
func enabledCategories(cfg *models.ChannelConfig) categoryFlag {
	var flags categoryFlag
	if cfg.StructureStatus {
		flags |= catStructureStatus
	}
	if cfg.StructureFuel {
		flags |= catStructureFuel
	}
	if cfg.MiningUpdates {
		flags |= catMiningUpdates
	}
	if cfg.StarbaseStatus {
		flags |= catStarbaseStatus
	}
	if cfg.StarbaseFuel {
		flags |= catStarbaseFuel
	}
	return flags
}

// Notifier turns upstream notification events into channel messages
type Notifier struct {
	messenger chat.Messenger
	universe  universe.Client
	store     *Store
}

// NewNotifier creates a notification pipeline
func NewNotifier(messenger chat.Messenger, universeClient universe.Client, store *Store) *Notifier {
	return &Notifier{
		messenger: messenger,
		universe:  universeClient,
		store:     store,
	}
}

// Dispatch processes a batch of notification events for a corporation and
// returns the new watermark. Events at or before the current watermark are
// dropped, the rest are handled oldest first. The watermark advances past
// every event, including ones whose handler failed, so one malformed
// payload cannot wedge the pipeline.
func (n *Notifier) Dispatch(ctx context.Context, corp *models.TrackedCorporation, events []models.NotificationEvent) time.Time {
	watermark := corp.MostRecentNotification

	fresh := make([]models.NotificationEvent, 0, len(events))
	for _, event := range events {
		if event.Timestamp.After(corp.MostRecentNotification) {
			fresh = append(fresh, event)
		}
	}
	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].Timestamp.Before(fresh[j].Timestamp)
	})

	for _, event := range fresh {
		if err := n.handleEvent(ctx, corp, event); err != nil {
			slog.ErrorContext(ctx, "Failed to handle notification",
				slog.String("type", event.Type),
				slog.Int64("notification_id", event.NotificationID),
				slog.String("payload", event.Text),
				slog.Any("error", err))
		}
		if event.Timestamp.After(watermark) {
			watermark = event.Timestamp
		}
	}

	return watermark
}

func (n *Notifier) handleEvent(ctx context.Context, corp *models.TrackedCorporation, event models.NotificationEvent) error {
	spec, ok := notificationRegistry[event.Type]
	if !ok {
		slog.InfoContext(ctx, "No handler for notification type",
			slog.String("type", event.Type),
			slog.Int64("notification_id", event.NotificationID))
		return nil
	}

	payload := ParsePayload(event.Text)

	var embed chat.Embed
	switch spec.kind {
	case handleStructure:
		embed = n.structureEmbed(corp, spec, event, payload)
	case handleMoonMining:
		embed = n.moonMiningEmbed(ctx, corp, spec, event, payload)
	case handleTower:
		embed = n.towerEmbed(ctx, corp, spec, event, payload)
	case handleWarDeclared:
		embed = n.warEmbed(ctx, spec, event, payload)
	case handleSovereignty:
		embed = n.sovereigntyEmbed(ctx, spec, event, payload)
	case handleSkyhook:
		embed = n.skyhookEmbed(ctx, spec, event, payload)
	default:
		return fmt.Errorf("unknown handler kind %d for type %s", spec.kind, event.Type)
	}

	return n.deliver(ctx, corp, spec, embed)
}

// deliver fans one card out to every subscribed channel whose toggles
// admit the event's categories.
func (n *Notifier) deliver(ctx context.Context, corp *models.TrackedCorporation, spec notificationSpec, embed chat.Embed) error {
	var lastErr error
	for _, channelID := range corp.ChannelIDs {
		cfg := n.store.ChannelConfig(corp.ServerID, channelID)
		if spec.categories&enabledCategories(cfg) == 0 {
			continue
		}

		content := ""
		if spec.mention != nil {
			if role := spec.mention(cfg); role != "" {
				content = fmt.Sprintf("<@&%s>", role)
			}
		}

		if err := n.messenger.SendEmbeds(ctx, channelID, content, []chat.Embed{embed}); err != nil {
			slog.ErrorContext(ctx, "Failed to deliver notification",
				slog.String("channel_id", channelID),
				slog.Any("error", err))
			lastErr = err
		}
	}
	return lastErr
}

// structureEmbed cross-references the structure ID in the payload against
// the corporation's current snapshot to recover a friendly name. A missing
// structure degrades to a placeholder title rather than dropping the card.
func (n *Notifier) structureEmbed(corp *models.TrackedCorporation, spec notificationSpec, event models.NotificationEvent, payload Payload) chat.Embed {
	embed := chat.Embed{
		Color:       spec.colour,
		Description: fmt.Sprintf("%s\n%s", spec.title, discordRelativeTime(event.Timestamp)),
		Title:       "Not sure which one!",
	}

	structureID, ok := payload.Int64("structureID")
	if !ok {
		return embed
	}

	structure := corp.FindStructure(structureID)
	if structure == nil {
		return embed
	}

	embed.Title = structureDisplayName(structure)

	if shield, ok := payload.Float64("shieldPercentage"); ok {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name: "Shield", Value: fmt.Sprintf("%.1f%%", shield), Inline: true,
		})
	}
	if armor, ok := payload.Float64("armorPercentage"); ok {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name: "Armor", Value: fmt.Sprintf("%.1f%%", armor), Inline: true,
		})
	}
	if hull, ok := payload.Float64("hullPercentage"); ok {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name: "Hull", Value: fmt.Sprintf("%.1f%%", hull), Inline: true,
		})
	}
	if aggressor := payload.StringOr("corpName", ""); aggressor != "" {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name: "Aggressor", Value: aggressor,
		})
	}

	return embed
}

func (n *Notifier) moonMiningEmbed(ctx context.Context, corp *models.TrackedCorporation, spec notificationSpec, event models.NotificationEvent, payload Payload) chat.Embed {
	embed := chat.Embed{
		Color:       spec.colour,
		Description: fmt.Sprintf("%s\n%s", spec.title, discordRelativeTime(event.Timestamp)),
		Title:       "Not sure which one!",
	}

	if structureID, ok := payload.Int64("structureID"); ok {
		if structure := corp.FindStructure(structureID); structure != nil {
			embed.Title = structureDisplayName(structure)
		} else if name := payload.StringOr("structureName", ""); name != "" {
			embed.Title = name
		}
	}

	if moonID, ok := payload.Int("moonID"); ok {
		if moonName, err := n.universe.GetMoonName(ctx, moonID); err == nil {
			embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Moon", Value: moonName, Inline: true})
		}
	}

	return embed
}

func (n *Notifier) towerEmbed(ctx context.Context, corp *models.TrackedCorporation, spec notificationSpec, event models.NotificationEvent, payload Payload) chat.Embed {
	embed := chat.Embed{
		Color:       spec.colour,
		Description: fmt.Sprintf("%s\n%s", spec.title, discordRelativeTime(event.Timestamp)),
		Title:       "Not sure which one!",
	}

	systemName := "unknown system"
	if systemID, ok := payload.Int("solarSystemID"); ok {
		if name, err := n.universe.GetSystemName(ctx, systemID); err == nil {
			systemName = name
		}
	}

	moonName := "unknown moon"
	if moonID, ok := payload.Int("moonID"); ok {
		if name, err := n.universe.GetMoonName(ctx, moonID); err == nil {
			moonName = name
		}
	}

	embed.Title = fmt.Sprintf("Starbase at %s - %s", systemName, moonName)

	if typeID, ok := payload.Int("typeID"); ok {
		if typeName, err := n.universe.GetTypeName(ctx, typeID); err == nil {
			embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Type", Value: typeName, Inline: true})
		}
	}

	return embed
}

func (n *Notifier) warEmbed(ctx context.Context, spec notificationSpec, event models.NotificationEvent, payload Payload) chat.Embed {
	embed := chat.Embed{
		Color:       spec.colour,
		Title:       spec.title,
		Description: discordRelativeTime(event.Timestamp),
	}

	var ids []int64
	declaredBy, hasDeclarer := payload.Int64("declaredByID")
	against, hasTarget := payload.Int64("againstID")
	if hasDeclarer {
		ids = append(ids, declaredBy)
	}
	if hasTarget {
		ids = append(ids, against)
	}

	names, err := n.universe.GetNames(ctx, ids)
	if err != nil {
		names = map[int64]string{}
	}

	if hasDeclarer {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name: "Declared by", Value: nameOr(names, declaredBy, "unknown"), Inline: true,
		})
	}
	if hasTarget {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name: "Against", Value: nameOr(names, against, "unknown"), Inline: true,
		})
	}

	return embed
}

func (n *Notifier) sovereigntyEmbed(ctx context.Context, spec notificationSpec, event models.NotificationEvent, payload Payload) chat.Embed {
	embed := chat.Embed{
		Color:       spec.colour,
		Title:       spec.title,
		Description: discordRelativeTime(event.Timestamp),
	}

	if systemID, ok := payload.Int("solarSystemID"); ok {
		if name, err := n.universe.GetSystemName(ctx, systemID); err == nil {
			embed.Fields = append(embed.Fields, chat.EmbedField{Name: "System", Value: name, Inline: true})
		}
	}
	if typeID, ok := payload.Int("structureTypeID"); ok {
		if name, err := n.universe.GetTypeName(ctx, typeID); err == nil {
			embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Structure", Value: name, Inline: true})
		}
	}
	if decloak, ok := payload.Int64("decloakTime"); ok {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name: "Vulnerable", Value: discordRelativeTime(windowsEpochToTime(decloak)), Inline: true,
		})
	}

	return embed
}

func (n *Notifier) skyhookEmbed(ctx context.Context, spec notificationSpec, event models.NotificationEvent, payload Payload) chat.Embed {
	embed := chat.Embed{
		Color:       spec.colour,
		Title:       spec.title,
		Description: discordRelativeTime(event.Timestamp),
	}

	if systemID, ok := payload.Int("solarsystemID"); ok {
		if name, err := n.universe.GetSystemName(ctx, systemID); err == nil {
			embed.Fields = append(embed.Fields, chat.EmbedField{Name: "System", Value: name, Inline: true})
		}
	}
	if planetID, ok := payload.Int("planetID"); ok {
		if name, err := n.universe.GetPlanetName(ctx, planetID); err == nil {
			embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Planet", Value: name, Inline: true})
		}
	}
	if shield, ok := payload.Float64("shieldPercentage"); ok {
		embed.Fields = append(embed.Fields, chat.EmbedField{
			Name: "Shield", Value: fmt.Sprintf("%.1f%%", shield), Inline: true,
		})
	}

	return embed
}

func nameOr(names map[int64]string, id int64, fallback string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return fallback
}

// windowsEpochToTime converts the 100ns-tick Windows epoch timestamps some
// payloads carry into wall time.
func windowsEpochToTime(ticks int64) time.Time {
	const ticksPerSecond = 10_000_000
	const epochOffsetSeconds = 11_644_473_600
	seconds := ticks/ticksPerSecond - epochOffsetSeconds
	return time.Unix(seconds, 0).UTC()
}
