package services

import (
	"testing"

	"go-watchtower/internal/watch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCorporations(t *testing.T) {
	store := NewStore()
	store.Load([]*models.TrackedCorporation{
		{CorporationID: 1},
		{CorporationID: 2},
	}, nil)

	assert.Len(t, store.Corporations(), 2)
	require.NotNil(t, store.Corporation(2))
	assert.Nil(t, store.Corporation(3))

	store.AddCorporation(&models.TrackedCorporation{CorporationID: 3})
	assert.NotNil(t, store.Corporation(3))

	store.RemoveCorporation(1)
	assert.Nil(t, store.Corporation(1))
	assert.Len(t, store.Corporations(), 2)
}

func TestStoreChannelConfigLazyCreate(t *testing.T) {
	store := NewStore()

	cfg := store.ChannelConfig("s1", "c1")
	require.NotNil(t, cfg)
	assert.True(t, cfg.StructureStatus)
	assert.True(t, cfg.StructureFuel)
	assert.True(t, cfg.StarbaseStatus)
	assert.True(t, cfg.StarbaseFuel)
	assert.True(t, cfg.MiningUpdates)

	// Same channel resolves to the same record
	cfg.StructureFuel = false
	again := store.ChannelConfig("s1", "c1")
	assert.False(t, again.StructureFuel)

	// Same channel ID on another server is a distinct record
	other := store.ChannelConfig("s2", "c1")
	assert.True(t, other.StructureFuel)

	store.RemoveChannelConfig("s1", "c1")
	fresh := store.ChannelConfig("s1", "c1")
	assert.True(t, fresh.StructureFuel)
}

func TestStoreLoadReplacesChannels(t *testing.T) {
	store := NewStore()
	store.ChannelConfig("s1", "stale")

	store.Load(nil, []*models.ChannelConfig{
		{ServerID: "s1", ChannelID: "c1", StructureStatus: true},
	})

	configs := store.ChannelConfigs()
	require.Len(t, configs, 1)
	assert.Equal(t, "c1", configs[0].ChannelID)
}
