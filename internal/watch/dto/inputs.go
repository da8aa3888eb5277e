package dto

// LoginInput starts the SSO flow for a user on a server
type LoginInput struct {
	ServerID string `query:"server_id" validate:"required,discord_snowflake" doc:"Chat server the corporation is tracked for"`
	UserID   string `query:"user_id" validate:"required,discord_snowflake" doc:"User requesting the authorization"`
}

// CallbackInput is the SSO redirect target
type CallbackInput struct {
	Code  string `query:"code" validate:"required" doc:"OAuth2 authorization code"`
	State string `query:"state" validate:"required" doc:"CSRF protection state parameter"`
}

// CorporationsInput lists tracked corporations (no parameters)
type CorporationsInput struct{}

// StatusInput requests module and upstream status (no parameters)
type StatusInput struct{}

// SubscribeInput adds a delivery channel to a corporation
type SubscribeInput struct {
	CorporationID int `path:"corporation_id" doc:"Tracked corporation"`
	Body          struct {
		ServerID  string `json:"server_id" validate:"required,discord_snowflake"`
		ChannelID string `json:"channel_id" validate:"required,discord_snowflake"`
	}
}

// UnsubscribeInput removes a delivery channel from a corporation
type UnsubscribeInput struct {
	CorporationID int    `path:"corporation_id" doc:"Tracked corporation"`
	ServerID      string `query:"server_id" validate:"required,discord_snowflake"`
	ChannelID     string `query:"channel_id" validate:"required,discord_snowflake"`
}

// ChannelConfigInput applies partial updates to a channel's toggles
type ChannelConfigInput struct {
	ServerID  string `path:"server_id" validate:"required,discord_snowflake"`
	ChannelID string `path:"channel_id" validate:"required,discord_snowflake"`
	Body      struct {
		StarbaseFuel    *bool   `json:"starbase_fuel,omitempty"`
		StarbaseStatus  *bool   `json:"starbase_status,omitempty"`
		StructureFuel   *bool   `json:"structure_fuel,omitempty"`
		StructureStatus *bool   `json:"structure_status,omitempty"`
		MiningUpdates   *bool   `json:"mining_updates,omitempty"`
		LowFuelRole     *string `json:"low_fuel_role,omitempty" validate:"omitempty,discord_snowflake"`
		AttackAlertRole *string `json:"attack_alert_role,omitempty" validate:"omitempty,discord_snowflake"`
	}
}

// FuelReportInput requests a corporation's fuel report
type FuelReportInput struct {
	CorporationID int `path:"corporation_id" doc:"Tracked corporation"`
}

// RemoveServerDataInput removes all data for a server. Confirm must equal
// the server ID to guard against accidental deletion.
type RemoveServerDataInput struct {
	ServerID string `path:"server_id" validate:"required,discord_snowflake"`
	Confirm  string `query:"confirm" validate:"required" doc:"Must repeat the server ID to confirm"`
}
