package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go-watchtower/internal/watch/models"
	"go-watchtower/pkg/chat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	ChannelID string
	Content   string
	Embeds    []chat.Embed
}

// fakeMessenger records outbound traffic and simulates per-channel and
// per-server failures. Shared by the notifier and poller tests.
type fakeMessenger struct {
	sent []sentMessage

	channelErrs map[string]error
	serverErrs  map[string]error
	// channels present report the given usability, absent channels are usable
	channelPerms map[string]bool

	resolvedServers []string
}

func (f *fakeMessenger) SendMessage(ctx context.Context, channelID, content string) error {
	if err := f.channelErrs[channelID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Content: content})
	return nil
}

func (f *fakeMessenger) SendEmbeds(ctx context.Context, channelID, content string, embeds []chat.Embed) error {
	if err := f.channelErrs[channelID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Content: content, Embeds: embeds})
	return nil
}

func (f *fakeMessenger) ResolveChannel(ctx context.Context, channelID string) (*chat.Channel, error) {
	if err := f.channelErrs[channelID]; err != nil {
		return nil, err
	}
	return &chat.Channel{ID: channelID, Name: "channel-" + channelID}, nil
}

func (f *fakeMessenger) HasPermission(ctx context.Context, channelID string) (bool, error) {
	if err := f.channelErrs[channelID]; err != nil {
		if errors.Is(err, chat.ErrMissingAccess) || errors.Is(err, chat.ErrUnknownChannel) {
			return false, nil
		}
		return false, err
	}
	if usable, ok := f.channelPerms[channelID]; ok {
		return usable, nil
	}
	return true, nil
}

func (f *fakeMessenger) ResolveServer(ctx context.Context, serverID string) (*chat.Server, error) {
	f.resolvedServers = append(f.resolvedServers, serverID)
	if err := f.serverErrs[serverID]; err != nil {
		return nil, err
	}
	return &chat.Server{ID: serverID, Name: "server-" + serverID}, nil
}

func (f *fakeMessenger) sentTo(channelID string) []sentMessage {
	var out []sentMessage
	for _, m := range f.sent {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	return out
}

// fakeUniverse resolves every ID to a predictable name
type fakeUniverse struct{}

func (fakeUniverse) GetSystemName(ctx context.Context, systemID int) (string, error) {
	return fmt.Sprintf("System-%d", systemID), nil
}

func (fakeUniverse) GetMoonName(ctx context.Context, moonID int) (string, error) {
	return fmt.Sprintf("Moon-%d", moonID), nil
}

func (fakeUniverse) GetPlanetName(ctx context.Context, planetID int) (string, error) {
	return fmt.Sprintf("Planet-%d", planetID), nil
}

func (fakeUniverse) GetTypeName(ctx context.Context, typeID int) (string, error) {
	return fmt.Sprintf("Type-%d", typeID), nil
}

func (fakeUniverse) GetNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	for _, id := range ids {
		names[id] = fmt.Sprintf("Entity-%d", id)
	}
	return names, nil
}

func notifierFixture() (*Notifier, *fakeMessenger, *Store) {
	messenger := &fakeMessenger{}
	store := NewStore()
	return NewNotifier(messenger, fakeUniverse{}, store), messenger, store
}

func attackedCorp() *models.TrackedCorporation {
	return &models.TrackedCorporation{
		CorporationID:   98000001,
		CorporationName: "Test Corp",
		ServerID:        "server-1",
		ChannelIDs:      []string{"chan-1"},
		Structures: []*models.Structure{
			{StructureID: 1035466617946, Name: "Home Fortizar", State: "shield_vulnerable"},
		},
	}
}

func TestDispatchAdvancesWatermark(t *testing.T) {
	notifier, messenger, _ := notifierFixture()
	corp := attackedCorp()

	base := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	events := []models.NotificationEvent{
		{NotificationID: 2, Timestamp: base.Add(time.Minute), Type: "StructureUnderAttack",
			Text: "structureID: &id001 1035466617946\nshieldPercentage: 94.5"},
		{NotificationID: 1, Timestamp: base, Type: "StructureLostShields",
			Text: "structureID: &id001 1035466617946"},
	}

	watermark := notifier.Dispatch(context.Background(), corp, events)

	assert.Equal(t, base.Add(time.Minute), watermark)
	require.Len(t, messenger.sent, 2)
	// Oldest first despite input order
	assert.Contains(t, messenger.sent[0].Embeds[0].Description, "Structure shields depleted")
	assert.Contains(t, messenger.sent[1].Embeds[0].Description, "STRUCTURE UNDER ATTACK")
}

func TestDispatchIsIdempotent(t *testing.T) {
	notifier, messenger, _ := notifierFixture()
	corp := attackedCorp()

	base := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	events := []models.NotificationEvent{
		{NotificationID: 1, Timestamp: base, Type: "StructureUnderAttack",
			Text: "structureID: &id001 1035466617946"},
	}

	corp.MostRecentNotification = notifier.Dispatch(context.Background(), corp, events)
	firstCount := len(messenger.sent)
	require.Equal(t, 1, firstCount)

	// Re-delivering the same upstream batch produces nothing new
	watermark := notifier.Dispatch(context.Background(), corp, events)
	assert.Equal(t, corp.MostRecentNotification, watermark)
	assert.Len(t, messenger.sent, firstCount)
}

func TestDispatchUnknownTypeAdvancesWatermark(t *testing.T) {
	notifier, messenger, _ := notifierFixture()
	corp := attackedCorp()

	base := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	events := []models.NotificationEvent{
		{NotificationID: 1, Timestamp: base, Type: "BountyPlacedChar", Text: "bounty: 1000000"},
	}

	watermark := notifier.Dispatch(context.Background(), corp, events)

	assert.Equal(t, base, watermark, "watermark must advance past unhandled types")
	assert.Empty(t, messenger.sent)
}

func TestDeliverRespectsChannelToggles(t *testing.T) {
	notifier, messenger, store := notifierFixture()
	corp := attackedCorp()
	corp.ChannelIDs = []string{"status-chan", "fuel-chan"}

	statusCfg := store.ChannelConfig("server-1", "status-chan")
	statusCfg.StructureFuel = false
	fuelCfg := store.ChannelConfig("server-1", "fuel-chan")
	fuelCfg.StructureStatus = false

	base := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	events := []models.NotificationEvent{
		{NotificationID: 1, Timestamp: base, Type: "StructureUnderAttack",
			Text: "structureID: &id001 1035466617946"},
		{NotificationID: 2, Timestamp: base.Add(time.Minute), Type: "StructureFuelAlert",
			Text: "structureID: &id001 1035466617946"},
	}

	notifier.Dispatch(context.Background(), corp, events)

	statusSent := messenger.sentTo("status-chan")
	require.Len(t, statusSent, 1)
	assert.Contains(t, statusSent[0].Embeds[0].Description, "STRUCTURE UNDER ATTACK")

	fuelSent := messenger.sentTo("fuel-chan")
	require.Len(t, fuelSent, 1)
	assert.Contains(t, fuelSent[0].Embeds[0].Description, "Structure low on fuel")
}

func TestDeliverMentionsConfiguredRole(t *testing.T) {
	notifier, messenger, store := notifierFixture()
	corp := attackedCorp()

	cfg := store.ChannelConfig("server-1", "chan-1")
	cfg.AttackAlertRole = "424242"
	cfg.LowFuelRole = "535353"

	base := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	notifier.Dispatch(context.Background(), corp, []models.NotificationEvent{
		{NotificationID: 1, Timestamp: base, Type: "StructureUnderAttack",
			Text: "structureID: &id001 1035466617946"},
		{NotificationID: 2, Timestamp: base.Add(time.Minute), Type: "StructureFuelAlert",
			Text: "structureID: &id001 1035466617946"},
		{NotificationID: 3, Timestamp: base.Add(2 * time.Minute), Type: "StructureDestroyed",
			Text: "structureID: &id001 1035466617946"},
	})

	require.Len(t, messenger.sent, 3)
	assert.Equal(t, "<@&424242>", messenger.sent[0].Content)
	assert.Equal(t, "<@&535353>", messenger.sent[1].Content)
	// Destruction carries no mention, the fight is over
	assert.Equal(t, "", messenger.sent[2].Content)
}

func TestStructureEmbedCrossReference(t *testing.T) {
	notifier, messenger, _ := notifierFixture()
	corp := attackedCorp()

	base := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	t.Run("known structure", func(t *testing.T) {
		messenger.sent = nil
		notifier.Dispatch(context.Background(), corp, []models.NotificationEvent{
			{NotificationID: 1, Timestamp: base, Type: "StructureUnderAttack",
				Text: "structureID: &id001 1035466617946\nshieldPercentage: 94.5\narmorPercentage: 100\ncorpName: 'Hostile Corp'"},
		})

		require.Len(t, messenger.sent, 1)
		embed := messenger.sent[0].Embeds[0]
		assert.Equal(t, "Home Fortizar", embed.Title)
		require.Len(t, embed.Fields, 3)
		assert.Equal(t, "Shield", embed.Fields[0].Name)
		assert.Equal(t, "94.5%", embed.Fields[0].Value)
		assert.Equal(t, "Aggressor", embed.Fields[2].Name)
		assert.Equal(t, "Hostile Corp", embed.Fields[2].Value)
	})

	t.Run("unknown structure degrades to placeholder", func(t *testing.T) {
		messenger.sent = nil
		corp.MostRecentNotification = time.Time{}
		notifier.Dispatch(context.Background(), corp, []models.NotificationEvent{
			{NotificationID: 2, Timestamp: base, Type: "StructureUnderAttack",
				Text: "structureID: &id001 999999"},
		})

		require.Len(t, messenger.sent, 1)
		assert.Equal(t, "Not sure which one!", messenger.sent[0].Embeds[0].Title)
	})
}

func TestTowerEmbedResolvesLocation(t *testing.T) {
	notifier, messenger, _ := notifierFixture()
	corp := attackedCorp()

	base := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	notifier.Dispatch(context.Background(), corp, []models.NotificationEvent{
		{NotificationID: 1, Timestamp: base, Type: "TowerAlertMsg",
			Text: "solarSystemID: 30000142\nmoonID: 40009087\ntypeID: 16213"},
	})

	require.Len(t, messenger.sent, 1)
	embed := messenger.sent[0].Embeds[0]
	assert.Equal(t, "Starbase at System-30000142 - Moon-40009087", embed.Title)
	require.Len(t, embed.Fields, 1)
	assert.Equal(t, "Type-16213", embed.Fields[0].Value)
}

func TestWarEmbedNamesBothParties(t *testing.T) {
	notifier, messenger, _ := notifierFixture()
	corp := attackedCorp()

	base := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)
	notifier.Dispatch(context.Background(), corp, []models.NotificationEvent{
		{NotificationID: 1, Timestamp: base, Type: "CorpWarDeclaredMsg",
			Text: "declaredByID: &id001 99003581\nagainstID: &id002 98000001"},
	})

	require.Len(t, messenger.sent, 1)
	embed := messenger.sent[0].Embeds[0]
	assert.Equal(t, "War declared", embed.Title)
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "Entity-99003581", embed.Fields[0].Value)
	assert.Equal(t, "Entity-98000001", embed.Fields[1].Value)
}
