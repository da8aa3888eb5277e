package dto

import "time"

// LoginResponse carries the SSO authorization URL
type LoginResponse struct {
	AuthURL string `json:"auth_url"`
}

// LoginOutput wraps LoginResponse
type LoginOutput struct {
	Body LoginResponse
}

// CallbackResponse summarises a completed authorization
type CallbackResponse struct {
	CharacterName   string `json:"character_name"`
	CorporationID   int    `json:"corporation_id"`
	CorporationName string `json:"corporation_name"`
	NewCorporation  bool   `json:"new_corporation"`
}

// CallbackOutput wraps CallbackResponse
type CallbackOutput struct {
	Body CallbackResponse
}

// CorporationSummary is one tracked corporation's status
type CorporationSummary struct {
	CorporationID    int       `json:"corporation_id"`
	CorporationName  string    `json:"corporation_name"`
	ServerID         string    `json:"server_id"`
	ServerName       string    `json:"server_name,omitempty"`
	ChannelIDs       []string  `json:"channel_ids"`
	MemberCount      int       `json:"member_count"`
	CredentialCount  int       `json:"credential_count"`
	StructureCount   int       `json:"structure_count"`
	StarbaseCount    int       `json:"starbase_count"`
	MaxCharacters    int       `json:"max_characters"`
	MaxDirectors     int       `json:"max_directors"`
	LastNotification time.Time `json:"last_notification,omitempty"`
}

// CorporationsOutput lists tracked corporations
type CorporationsOutput struct {
	Body struct {
		Corporations []CorporationSummary `json:"corporations"`
	}
}

// StatusResponse reports corpus size and upstream game-server state
type StatusResponse struct {
	Corporations  int    `json:"corporations"`
	Channels      int    `json:"channels"`
	Upstream      string `json:"upstream"`
	Players       int    `json:"players,omitempty"`
	ServerVersion string `json:"server_version,omitempty"`
	ServerStart   string `json:"server_start,omitempty"`
}

// StatusOutput wraps StatusResponse
type StatusOutput struct {
	Body StatusResponse
}

// ChannelConfigResponse is a channel's effective configuration
type ChannelConfigResponse struct {
	ServerID        string `json:"server_id"`
	ChannelID       string `json:"channel_id"`
	ChannelName     string `json:"channel_name,omitempty"`
	StarbaseFuel    bool   `json:"starbase_fuel"`
	StarbaseStatus  bool   `json:"starbase_status"`
	StructureFuel   bool   `json:"structure_fuel"`
	StructureStatus bool   `json:"structure_status"`
	MiningUpdates   bool   `json:"mining_updates"`
	LowFuelRole     string `json:"low_fuel_role,omitempty"`
	AttackAlertRole string `json:"attack_alert_role,omitempty"`
}

// ChannelConfigOutput wraps ChannelConfigResponse
type ChannelConfigOutput struct {
	Body ChannelConfigResponse
}

// SubscribeOutput acknowledges a subscription change
type SubscribeOutput struct {
	Body struct {
		Message string `json:"message"`
	}
}

// FuelStatusEntry is one structure in a fuel report
type FuelStatusEntry struct {
	StructureName string     `json:"structure_name"`
	FuelExpires   *time.Time `json:"fuel_expires,omitempty"`
	Depleted      bool       `json:"depleted"`
}

// FuelReportOutput lists fuel state soonest-expiring first
type FuelReportOutput struct {
	Body struct {
		Structures []FuelStatusEntry `json:"structures"`
	}
}

// RemoveServerDataOutput reports how many corporations were removed
type RemoveServerDataOutput struct {
	Body struct {
		Removed int `json:"removed"`
	}
}
