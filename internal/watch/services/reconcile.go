package services

import (
	"fmt"
	"time"

	"go-watchtower/internal/watch/models"
	"go-watchtower/pkg/chat"
)

// Embed colours
const (
	colourGreen  = 0x00b129
	colourRed    = 0xb11900
	colourOrange = 0xb17419
	colourBlue   = 0x1985b1
)

// FuelWindow parameterises the low-fuel warning check. Interval is the
// effective per-corporation poll interval (check delay divided by eligible
// credential count): a warning fires only while the expiry sits inside the
// slice of the warning threshold that this poll is responsible for, which
// is what prevents both re-alerting every cycle and missing the threshold
// between polls.
type FuelWindow struct {
	Now      time.Time
	Interval time.Duration
}

// contains reports whether expires crossed the given warning threshold
// since the previous poll.
func (w FuelWindow) contains(expires time.Time, warning time.Duration) bool {
	upper := w.Now.Add(warning)
	lower := upper.Add(-time.Second - w.Interval)
	return !expires.After(upper) && !expires.Before(lower)
}

// StructureDiff is the outcome of reconciling two structure snapshots
type StructureDiff struct {
	Added   []*models.Structure
	Removed []*models.Structure
	// Changes holds one concatenated alert block per changed structure
	Changes []string
}

// StarbaseChange is a changed starbase plus its alert lines. The location
// names needed for the header are resolved by the caller.
type StarbaseChange struct {
	Starbase *models.Starbase
	Lines    []string
}

// StarbaseDiff is the outcome of reconciling two starbase snapshots
type StarbaseDiff struct {
	Added   []*models.Starbase
	Removed []*models.Starbase
	Changed []StarbaseChange
}

// discordRelativeTime renders an instant as a chat-platform relative
// timestamp token ("in 3 days").
func discordRelativeTime(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

// formatStructureState maps the upstream state enum to prose. The upstream
// names describe the layer being reinforced, the prose describes what a
// defender sees.
func formatStructureState(state string) string {
	switch state {
	case "armor_reinforce":
		return "shield under attack"
	case "armor_vulnerable":
		return "shield depleted"
	case "hull_reinforce":
		return "armor under attack"
	case "hull_vulnerable":
		return "armor depleted"
	case "anchoring":
		return "anchoring"
	case "unanchored":
		return "unanchored"
	case "shield_vulnerable":
		return "full shields"
	default:
		return "unknown"
	}
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// ReconcileStructures diffs two structure snapshots by structure ID.
// Added and removed structures become individual rich cards; everything
// else folds into one alert block per changed structure so a busy cycle
// produces a single outbound message.
func ReconcileStructures(old, current []*models.Structure, window FuelWindow) StructureDiff {
	var diff StructureDiff

	oldByID := make(map[int64]*models.Structure, len(old))
	for _, s := range old {
		oldByID[s.StructureID] = s
	}
	currentByID := make(map[int64]*models.Structure, len(current))
	for _, s := range current {
		currentByID[s.StructureID] = s
	}

	for _, s := range current {
		if _, ok := oldByID[s.StructureID]; !ok {
			diff.Added = append(diff.Added, s)
		}
	}
	for _, s := range old {
		if _, ok := currentByID[s.StructureID]; !ok {
			diff.Removed = append(diff.Removed, s)
		}
	}

	for _, s := range current {
		prev, ok := oldByID[s.StructureID]
		if !ok {
			continue
		}

		var lines []string

		if s.State != prev.State {
			lines = append(lines, fmt.Sprintf("Status has changed from %s to %s",
				formatStructureState(prev.State), formatStructureState(s.State)))
		}

		if !timeEqual(s.StateTimerEnd, prev.StateTimerEnd) {
			if s.StateTimerEnd != nil {
				lines = append(lines, fmt.Sprintf("Structure has a timer that ends %s",
					discordRelativeTime(*s.StateTimerEnd)))
			} else {
				lines = append(lines, "Structure timer has reset")
			}
		}

		if !timeEqual(s.UnanchorsAt, prev.UnanchorsAt) {
			if s.UnanchorsAt != nil {
				lines = append(lines, fmt.Sprintf("Structure has an unanchor timer that ends %s",
					discordRelativeTime(*s.UnanchorsAt)))
			} else {
				lines = append(lines, "Structure unanchor timer has reset")
			}
		}

		lines = append(lines, fuelLines(prev.FuelExpires, s.FuelExpires, window)...)

		if len(lines) > 0 {
			block := fmt.Sprintf("ALERT on %s", structureDisplayName(s))
			for _, line := range lines {
				block += "\n" + line
			}
			diff.Changes = append(diff.Changes, block)
		}
	}

	return diff
}

// fuelLines reports a fuel expiry change. When the new expiry has just
// crossed a warning threshold the urgency-graded warning replaces the
// generic change line, so a structure drifting into the window yields
// exactly one line.
func fuelLines(prev, current *time.Time, window FuelWindow) []string {
	var lines []string

	if current != nil {
		if window.contains(*current, models.SuperLowFuelWarning) {
			return []string{fmt.Sprintf("@here URGENT: Fuel will be depleted very soon %s",
				discordRelativeTime(*current))}
		}
		if window.contains(*current, models.LowFuelWarning) {
			return []string{fmt.Sprintf("Warning: Fuel will be depleted %s",
				discordRelativeTime(*current))}
		}
	}

	if !timeEqual(prev, current) {
		switch {
		case prev != nil && current != nil:
			lines = append(lines, fmt.Sprintf("Fuel level has changed. Was expiring %s now expiring %s",
				discordRelativeTime(*prev), discordRelativeTime(*current)))
		case prev != nil:
			lines = append(lines, fmt.Sprintf("Fuel level has changed. Was expiring %s. Now has \"unknown expiry\"",
				discordRelativeTime(*prev)))
		case current != nil:
			lines = append(lines, fmt.Sprintf("Fuel level has changed from \"unknown expiry\". Now expiring %s",
				discordRelativeTime(*current)))
		}
	}

	return lines
}

// ReconcileStarbases diffs two starbase snapshots by starbase ID
func ReconcileStarbases(old, current []*models.Starbase) StarbaseDiff {
	var diff StarbaseDiff

	oldByID := make(map[int64]*models.Starbase, len(old))
	for _, s := range old {
		oldByID[s.StarbaseID] = s
	}
	currentByID := make(map[int64]*models.Starbase, len(current))
	for _, s := range current {
		currentByID[s.StarbaseID] = s
	}

	for _, s := range current {
		if _, ok := oldByID[s.StarbaseID]; !ok {
			diff.Added = append(diff.Added, s)
		}
	}
	for _, s := range old {
		if _, ok := currentByID[s.StarbaseID]; !ok {
			diff.Removed = append(diff.Removed, s)
		}
	}

	for _, s := range current {
		prev, ok := oldByID[s.StarbaseID]
		if !ok {
			continue
		}

		var lines []string

		if s.State != prev.State {
			lines = append(lines, fmt.Sprintf("Status has changed from %s to %s", prev.State, s.State))
		}

		if !timeEqual(s.ReinforcedUntil, prev.ReinforcedUntil) {
			if s.ReinforcedUntil != nil {
				lines = append(lines, fmt.Sprintf("Starbase has a reinforcement timer that ends %s",
					discordRelativeTime(*s.ReinforcedUntil)))
			} else {
				lines = append(lines, "Starbase reinforcement timer has reset")
			}
		}

		if !timeEqual(s.UnanchorAt, prev.UnanchorAt) {
			if s.UnanchorAt != nil {
				lines = append(lines, fmt.Sprintf("Starbase has an unanchor timer that started %s",
					discordRelativeTime(*s.UnanchorAt)))
			} else {
				lines = append(lines, "Starbase unanchor timer has reset")
			}
		}

		if len(lines) > 0 {
			diff.Changed = append(diff.Changed, StarbaseChange{Starbase: s, Lines: lines})
		}
	}

	return diff
}

func structureDisplayName(s *models.Structure) string {
	if s.Name != "" {
		return s.Name
	}
	return "Unknown Structure"
}

// NewStructureEmbed builds the rich card announcing a newly seen structure
func NewStructureEmbed(s *models.Structure, now time.Time) chat.Embed {
	fuelMessage := "Fuel has been depleted!"
	if s.FuelExpires != nil && s.FuelExpires.After(now) {
		fuelMessage = fmt.Sprintf("Fuel will be depleted %s", discordRelativeTime(*s.FuelExpires))
	}

	description := fmt.Sprintf("Status: %s\n%s", formatStructureState(s.State), fuelMessage)
	if s.StateTimerEnd != nil {
		description += fmt.Sprintf("\nCurrent timer ends %s", discordRelativeTime(*s.StateTimerEnd))
	}

	return chat.Embed{
		Title:       "New structure: " + structureDisplayName(s),
		Description: description,
		Color:       colourGreen,
	}
}

// RemovedStructureEmbed builds the rich card for a structure that left the
// corporation's asset list.
func RemovedStructureEmbed(s *models.Structure) chat.Embed {
	return chat.Embed{
		Title:       "Deleted structure: " + structureDisplayName(s),
		Description: "Structure is no longer part of the corporation!",
		Color:       colourRed,
	}
}

// NewStarbaseEmbed builds the rich card announcing a newly seen starbase.
// Names are resolved by the caller so reconciliation itself stays off the
// network.
func NewStarbaseEmbed(s *models.Starbase, typeName, systemName, moonName string) chat.Embed {
	description := fmt.Sprintf("Location: %s - %s\nStatus: %s", systemName, moonName, s.State)
	if s.ReinforcedUntil != nil {
		description += fmt.Sprintf("\nReinforcement timer ends %s", discordRelativeTime(*s.ReinforcedUntil))
	}
	if s.UnanchorAt != nil {
		description += fmt.Sprintf("\nUnanchoring started %s", discordRelativeTime(*s.UnanchorAt))
	}

	return chat.Embed{
		Title:       "New starbase: " + typeName,
		Description: description,
		Color:       colourGreen,
	}
}

// RemovedStarbaseEmbed builds the rich card for a removed starbase
func RemovedStarbaseEmbed(s *models.Starbase, typeName, systemName, moonName string) chat.Embed {
	return chat.Embed{
		Title:       "Deleted starbase: " + typeName,
		Description: fmt.Sprintf("Location: %s - %s\nStarbase is no longer part of the corporation!", systemName, moonName),
		Color:       colourRed,
	}
}

// StarbaseChangeBlock renders one changed starbase's alert lines under its
// location header.
func StarbaseChangeBlock(change StarbaseChange, systemName, moonName string) string {
	block := fmt.Sprintf("ALERT on Starbase location %s - %s", systemName, moonName)
	for _, line := range change.Lines {
		block += "\n" + line
	}
	return block
}
