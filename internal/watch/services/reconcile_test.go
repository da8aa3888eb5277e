package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"go-watchtower/internal/watch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestFormatStructureState(t *testing.T) {
	tests := []struct {
		state string
		want  string
	}{
		{"armor_reinforce", "shield under attack"},
		{"armor_vulnerable", "shield depleted"},
		{"hull_reinforce", "armor under attack"},
		{"hull_vulnerable", "armor depleted"},
		{"shield_vulnerable", "full shields"},
		{"anchoring", "anchoring"},
		{"unanchored", "unanchored"},
		{"some_future_state", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			assert.Equal(t, tt.want, formatStructureState(tt.state))
		})
	}
}

func TestReconcileStructuresPartition(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	window := FuelWindow{Now: now, Interval: 5 * time.Minute}

	unchanged := &models.Structure{StructureID: 1, Name: "Home Fortizar", State: "shield_vulnerable"}
	changed := &models.Structure{StructureID: 2, Name: "Moon Athanor", State: "shield_vulnerable"}
	removed := &models.Structure{StructureID: 3, Name: "Old Raitaru", State: "shield_vulnerable"}
	added := &models.Structure{StructureID: 4, Name: "New Astrahus", State: "anchoring"}

	old := []*models.Structure{unchanged, changed, removed}
	current := []*models.Structure{
		unchanged,
		{StructureID: 2, Name: "Moon Athanor", State: "armor_reinforce"},
		added,
	}

	diff := ReconcileStructures(old, current, window)

	require.Len(t, diff.Added, 1)
	assert.Equal(t, int64(4), diff.Added[0].StructureID)
	require.Len(t, diff.Removed, 1)
	assert.Equal(t, int64(3), diff.Removed[0].StructureID)
	require.Len(t, diff.Changes, 1)
	assert.Contains(t, diff.Changes[0], "ALERT on Moon Athanor")
	assert.Contains(t, diff.Changes[0], "Status has changed from full shields to shield under attack")
}

func TestReconcileStructuresFirstSnapshot(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	window := FuelWindow{Now: now, Interval: 5 * time.Minute}

	current := []*models.Structure{
		{StructureID: 1, Name: "A", State: "shield_vulnerable"},
		{StructureID: 2, Name: "B", State: "shield_vulnerable"},
		{StructureID: 3, Name: "C", State: "shield_vulnerable"},
	}

	diff := ReconcileStructures(nil, current, window)

	assert.Len(t, diff.Added, 3)
	assert.Empty(t, diff.Removed)
	assert.Empty(t, diff.Changes)
}

func TestReconcileStructuresTimerTransitions(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	window := FuelWindow{Now: now, Interval: 5 * time.Minute}
	timerEnd := now.Add(48 * time.Hour)

	tests := []struct {
		name string
		old  *models.Structure
		new  *models.Structure
		want string
	}{
		{
			name: "timer set",
			old:  &models.Structure{StructureID: 1, Name: "X", State: "armor_reinforce"},
			new:  &models.Structure{StructureID: 1, Name: "X", State: "armor_reinforce", StateTimerEnd: timePtr(timerEnd)},
			want: fmt.Sprintf("Structure has a timer that ends <t:%d:R>", timerEnd.Unix()),
		},
		{
			name: "timer reset",
			old:  &models.Structure{StructureID: 1, Name: "X", State: "armor_reinforce", StateTimerEnd: timePtr(timerEnd)},
			new:  &models.Structure{StructureID: 1, Name: "X", State: "armor_reinforce"},
			want: "Structure timer has reset",
		},
		{
			name: "unanchor timer set",
			old:  &models.Structure{StructureID: 1, Name: "X", State: "shield_vulnerable"},
			new:  &models.Structure{StructureID: 1, Name: "X", State: "shield_vulnerable", UnanchorsAt: timePtr(timerEnd)},
			want: fmt.Sprintf("Structure has an unanchor timer that ends <t:%d:R>", timerEnd.Unix()),
		},
		{
			name: "unanchor timer reset",
			old:  &models.Structure{StructureID: 1, Name: "X", State: "shield_vulnerable", UnanchorsAt: timePtr(timerEnd)},
			new:  &models.Structure{StructureID: 1, Name: "X", State: "shield_vulnerable"},
			want: "Structure unanchor timer has reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := ReconcileStructures([]*models.Structure{tt.old}, []*models.Structure{tt.new}, window)
			require.Len(t, diff.Changes, 1)
			assert.Contains(t, diff.Changes[0], tt.want)
		})
	}
}

func TestFuelWarningReplacesChangeLine(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	window := FuelWindow{Now: now, Interval: 5 * time.Minute}

	// Previous expiry well outside the warning window, new expiry exactly
	// seven days out: one warning line, no generic change line.
	prev := &models.Structure{StructureID: 1, Name: "Fort", State: "shield_vulnerable",
		FuelExpires: timePtr(now.Add(9 * 24 * time.Hour))}
	curr := &models.Structure{StructureID: 1, Name: "Fort", State: "shield_vulnerable",
		FuelExpires: timePtr(now.Add(models.LowFuelWarning))}

	diff := ReconcileStructures([]*models.Structure{prev}, []*models.Structure{curr}, window)

	require.Len(t, diff.Changes, 1)
	assert.Contains(t, diff.Changes[0], "Warning: Fuel will be depleted")
	assert.NotContains(t, diff.Changes[0], "Fuel level has changed")
	assert.Equal(t, 1, strings.Count(diff.Changes[0], "\n"), "expected header plus exactly one line")
}

func TestFuelSuperLowWarning(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	window := FuelWindow{Now: now, Interval: 5 * time.Minute}

	expiry := now.Add(models.SuperLowFuelWarning - 30*time.Second)
	lines := fuelLines(timePtr(expiry), timePtr(expiry), window)

	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "@here URGENT: Fuel will be depleted very soon")
}

// A structure whose fuel expiry stays fixed while the clock advances must
// trigger each warning threshold exactly once across consecutive polls.
func TestFuelWindowFiresOncePerThreshold(t *testing.T) {
	interval := 5 * time.Minute
	expiry := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	fired := 0
	for now := expiry.Add(-8*24*time.Hour - 2*time.Minute); now.Before(expiry.Add(-6 * 24 * time.Hour)); now = now.Add(interval) {
		window := FuelWindow{Now: now, Interval: interval}
		if window.contains(expiry, models.LowFuelWarning) {
			fired++
		}
	}
	assert.Equal(t, 1, fired)
}

func TestFuelChangeLines(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	window := FuelWindow{Now: now, Interval: 5 * time.Minute}
	far := now.Add(60 * 24 * time.Hour)
	farther := now.Add(90 * 24 * time.Hour)

	tests := []struct {
		name string
		prev *time.Time
		curr *time.Time
		want string
	}{
		{"refuelled", timePtr(far), timePtr(farther), "Fuel level has changed. Was expiring"},
		{"expiry lost", timePtr(far), nil, "Now has \"unknown expiry\""},
		{"expiry appeared", nil, timePtr(far), "Fuel level has changed from \"unknown expiry\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := fuelLines(tt.prev, tt.curr, window)
			require.Len(t, lines, 1)
			assert.Contains(t, lines[0], tt.want)
		})
	}

	t.Run("no change no lines", func(t *testing.T) {
		assert.Empty(t, fuelLines(timePtr(far), timePtr(far), window))
	})
}

func TestReconcileStarbases(t *testing.T) {
	reinforced := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	old := []*models.Starbase{
		{StarbaseID: 10, TypeID: 16213, SystemID: 30000142, MoonID: 40009087, State: "online"},
		{StarbaseID: 11, TypeID: 16213, SystemID: 30000142, State: "online"},
	}
	current := []*models.Starbase{
		{StarbaseID: 10, TypeID: 16213, SystemID: 30000142, MoonID: 40009087, State: "reinforced",
			ReinforcedUntil: timePtr(reinforced)},
		{StarbaseID: 12, TypeID: 20059, SystemID: 30000144, State: "onlining"},
	}

	diff := ReconcileStarbases(old, current)

	require.Len(t, diff.Added, 1)
	assert.Equal(t, int64(12), diff.Added[0].StarbaseID)
	require.Len(t, diff.Removed, 1)
	assert.Equal(t, int64(11), diff.Removed[0].StarbaseID)
	require.Len(t, diff.Changed, 1)
	assert.Equal(t, int64(10), diff.Changed[0].Starbase.StarbaseID)
	require.Len(t, diff.Changed[0].Lines, 2)
	assert.Contains(t, diff.Changed[0].Lines[0], "Status has changed from online to reinforced")
	assert.Contains(t, diff.Changed[0].Lines[1], "Starbase has a reinforcement timer that ends")

	block := StarbaseChangeBlock(diff.Changed[0], "Jita", "Jita IV - Moon 4")
	assert.True(t, strings.HasPrefix(block, "ALERT on Starbase location Jita - Jita IV - Moon 4"))
}

func TestNewStructureEmbed(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("with fuel", func(t *testing.T) {
		s := &models.Structure{StructureID: 1, Name: "Fort", State: "shield_vulnerable",
			FuelExpires: timePtr(now.Add(30 * 24 * time.Hour))}
		embed := NewStructureEmbed(s, now)
		assert.Equal(t, "New structure: Fort", embed.Title)
		assert.Contains(t, embed.Description, "Status: full shields")
		assert.Contains(t, embed.Description, "Fuel will be depleted")
	})

	t.Run("fuel depleted", func(t *testing.T) {
		s := &models.Structure{StructureID: 1, Name: "Fort", State: "shield_vulnerable"}
		embed := NewStructureEmbed(s, now)
		assert.Contains(t, embed.Description, "Fuel has been depleted!")
	})

	t.Run("unnamed structure", func(t *testing.T) {
		s := &models.Structure{StructureID: 1, State: "anchoring"}
		embed := NewStructureEmbed(s, now)
		assert.Equal(t, "New structure: Unknown Structure", embed.Title)
	})
}
