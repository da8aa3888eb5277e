package models

import "time"

// CheckType identifies one of the polled data categories. Each check type
// carries its own cadence and credential eligibility rule.
type CheckType string

const (
	CheckStructures    CheckType = "structures"
	CheckStarbases     CheckType = "starbases"
	CheckNotifications CheckType = "notifications"
	CheckRoles         CheckType = "roles"
)

// In-game corporation roles that gate polled endpoints
const (
	RoleStationManager = "Station_Manager"
	RoleDirector       = "Director"
)

// Poll cadence constants
const (
	StructureCheckDelay    = time.Hour
	NotificationCheckDelay = 10 * time.Minute
	RolesCheckDelay        = 24 * time.Hour
	PollAttemptDelay       = 2 * time.Second

	LowFuelWarning      = 7 * 24 * time.Hour
	SuperLowFuelWarning = 2 * 24 * time.Hour
)

// Credential is an authorized character's token pair plus per-check
// eligibility state. Never deleted on its own, only as part of member
// removal.
type Credential struct {
	CharacterID   int       `bson:"character_id" json:"character_id"`
	CharacterName string    `bson:"character_name" json:"character_name"`
	UserID        string    `bson:"user_id" json:"user_id"`
	CorporationID int       `bson:"corporation_id" json:"corporation_id"`
	AccessToken   string    `bson:"access_token" json:"-"`
	TokenExpiry   time.Time `bson:"token_expiry" json:"token_expiry"`
	RefreshToken  string    `bson:"refresh_token" json:"-"`

	// Next-eligible instants, one per check type. A credential surfaces
	// for a check only once its instant has passed.
	NextStructureCheck    time.Time `bson:"next_structure_check" json:"next_structure_check"`
	NextStarbaseCheck     time.Time `bson:"next_starbase_check" json:"next_starbase_check"`
	NextNotificationCheck time.Time `bson:"next_notification_check" json:"next_notification_check"`
	NextRolesCheck        time.Time `bson:"next_roles_check" json:"next_roles_check"`

	Roles        []string  `bson:"roles" json:"roles"`
	NeedsReAuth  bool      `bson:"needs_reauth" json:"needs_reauth"`
	AuthFailedAt time.Time `bson:"auth_failed_at,omitempty" json:"auth_failed_at,omitempty"`
}

// NextCheck returns the next-eligible instant for the given check type
func (c *Credential) NextCheck(checkType CheckType) time.Time {
	switch checkType {
	case CheckStructures:
		return c.NextStructureCheck
	case CheckStarbases:
		return c.NextStarbaseCheck
	case CheckNotifications:
		return c.NextNotificationCheck
	case CheckRoles:
		return c.NextRolesCheck
	}
	return time.Time{}
}

// SetNextCheck stamps the next-eligible instant for the given check type
func (c *Credential) SetNextCheck(checkType CheckType, t time.Time) {
	switch checkType {
	case CheckStructures:
		c.NextStructureCheck = t
	case CheckStarbases:
		c.NextStarbaseCheck = t
	case CheckNotifications:
		c.NextNotificationCheck = t
	case CheckRoles:
		c.NextRolesCheck = t
	}
}

// HasRole reports whether the credential's cached role set contains role
func (c *Credential) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Member groups the credentials belonging to one chat-platform user.
// A member with zero credentials is pruned.
type Member struct {
	UserID      string        `bson:"user_id" json:"user_id"`
	Credentials []*Credential `bson:"characters" json:"characters"`
}

// Structure is a snapshot of one Upwell structure
type Structure struct {
	StructureID     int64      `bson:"structure_id" json:"structure_id"`
	CorporationID   int        `bson:"corporation_id" json:"corporation_id"`
	TypeID          int        `bson:"type_id" json:"type_id"`
	SystemID        int        `bson:"system_id" json:"system_id"`
	ProfileID       int        `bson:"profile_id" json:"profile_id"`
	Name            string     `bson:"name,omitempty" json:"name,omitempty"`
	State           string     `bson:"state" json:"state"`
	StateTimerStart *time.Time `bson:"state_timer_start,omitempty" json:"state_timer_start,omitempty"`
	StateTimerEnd   *time.Time `bson:"state_timer_end,omitempty" json:"state_timer_end,omitempty"`
	FuelExpires     *time.Time `bson:"fuel_expires,omitempty" json:"fuel_expires,omitempty"`
	UnanchorsAt     *time.Time `bson:"unanchors_at,omitempty" json:"unanchors_at,omitempty"`
}

// Starbase is a snapshot of one player-owned starbase (tower)
type Starbase struct {
	StarbaseID      int64      `bson:"starbase_id" json:"starbase_id"`
	TypeID          int        `bson:"type_id" json:"type_id"`
	SystemID        int        `bson:"system_id" json:"system_id"`
	MoonID          int        `bson:"moon_id,omitempty" json:"moon_id,omitempty"`
	State           string     `bson:"state" json:"state"`
	OnlinedSince    *time.Time `bson:"onlined_since,omitempty" json:"onlined_since,omitempty"`
	ReinforcedUntil *time.Time `bson:"reinforced_until,omitempty" json:"reinforced_until,omitempty"`
	UnanchorAt      *time.Time `bson:"unanchor_at,omitempty" json:"unanchor_at,omitempty"`
}

// TrackedCorporation is the per-corporation record the poll loop operates
// on. A corporation belongs to at most one server at a time.
type TrackedCorporation struct {
	CorporationID   int       `bson:"corporation_id" json:"corporation_id"`
	CorporationName string    `bson:"corporation_name" json:"corporation_name"`
	ServerID        string    `bson:"server_id" json:"server_id"`
	ServerName      string    `bson:"server_name,omitempty" json:"server_name,omitempty"`
	ChannelIDs      []string  `bson:"channel_ids" json:"channel_ids"`
	Members         []*Member `bson:"members" json:"members"`

	Structures []*Structure `bson:"structures" json:"structures"`
	Starbases  []*Starbase  `bson:"starbases" json:"starbases"`

	NextStructureCheck    time.Time `bson:"next_structure_check" json:"next_structure_check"`
	NextStarbaseCheck     time.Time `bson:"next_starbase_check" json:"next_starbase_check"`
	NextNotificationCheck time.Time `bson:"next_notification_check" json:"next_notification_check"`

	// Watermark of the most recently processed notification event
	MostRecentNotification time.Time `bson:"most_recent_notification" json:"most_recent_notification"`

	// Aggregate stats for operator visibility
	MaxCharacters int `bson:"max_characters" json:"max_characters"`
	MaxDirectors  int `bson:"max_directors" json:"max_directors"`

	SetRolesEnabled bool `bson:"set_roles_enabled" json:"set_roles_enabled"`

	AddedAt   time.Time `bson:"added_at" json:"added_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// AuthedCharacterCount counts credentials that are usable for polling
func (tc *TrackedCorporation) AuthedCharacterCount() int {
	count := 0
	for _, member := range tc.Members {
		for _, cred := range member.Credentials {
			if !cred.NeedsReAuth {
				count++
			}
		}
	}
	return count
}

// FindStructure looks up a structure by ID in the current snapshot
func (tc *TrackedCorporation) FindStructure(structureID int64) *Structure {
	for _, s := range tc.Structures {
		if s.StructureID == structureID {
			return s
		}
	}
	return nil
}

// FindStarbase looks up a starbase by ID in the current snapshot
func (tc *TrackedCorporation) FindStarbase(starbaseID int64) *Starbase {
	for _, s := range tc.Starbases {
		if s.StarbaseID == starbaseID {
			return s
		}
	}
	return nil
}

// ChannelConfig holds a delivery channel's feature toggles and mention
// roles. Created lazily on first need with all toggles enabled.
type ChannelConfig struct {
	ServerID    string `bson:"server_id" json:"server_id"`
	ChannelID   string `bson:"channel_id" json:"channel_id"`
	ChannelName string `bson:"channel_name,omitempty" json:"channel_name,omitempty"`

	LowFuelRole     string `bson:"low_fuel_role,omitempty" json:"low_fuel_role,omitempty"`
	AttackAlertRole string `bson:"attack_alert_role,omitempty" json:"attack_alert_role,omitempty"`

	StarbaseFuel    bool `bson:"starbase_fuel" json:"starbase_fuel"`
	StarbaseStatus  bool `bson:"starbase_status" json:"starbase_status"`
	StructureFuel   bool `bson:"structure_fuel" json:"structure_fuel"`
	StructureStatus bool `bson:"structure_status" json:"structure_status"`
	MiningUpdates   bool `bson:"mining_updates" json:"mining_updates"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewChannelConfig creates a config with every toggle enabled
func NewChannelConfig(serverID, channelID string) *ChannelConfig {
	now := time.Now().UTC()
	return &ChannelConfig{
		ServerID:        serverID,
		ChannelID:       channelID,
		StarbaseFuel:    true,
		StarbaseStatus:  true,
		StructureFuel:   true,
		StructureStatus: true,
		MiningUpdates:   true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NotificationEvent is one upstream notification. Ephemeral, only the
// corporation watermark survives processing.
type NotificationEvent struct {
	NotificationID int64     `json:"notification_id"`
	SenderID       int       `json:"sender_id"`
	SenderType     string    `json:"sender_type"`
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type"`
	Text           string    `json:"text"`
}
