package routes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-watchtower/internal/watch/dto"
	"go-watchtower/internal/watch/services"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-playground/validator/v10"
)

// RegisterWatchRoutes registers the watch module's endpoints on a shared API
func RegisterWatchRoutes(api huma.API, basePath string, service *services.WatchService) {
	validate := dto.NewValidator()

	huma.Register(api, huma.Operation{
		OperationID: "watch-sso-login",
		Method:      "GET",
		Path:        basePath + "/sso/login",
		Summary:     "Initiate EVE SSO authorization",
		Description: "Build the EVE Online SSO URL a member follows to authorize a character",
		Tags:        []string{"Watch / SSO"},
	}, func(ctx context.Context, input *dto.LoginInput) (*dto.LoginOutput, error) {
		if err := validateInput(validate, input); err != nil {
			return nil, err
		}
		url := service.LoginURL(input.ServerID, input.UserID)
		return &dto.LoginOutput{Body: dto.LoginResponse{AuthURL: url}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watch-sso-callback",
		Method:      "GET",
		Path:        basePath + "/sso/callback",
		Summary:     "EVE SSO callback",
		Description: "Completes the SSO flow and stores the authorized credential",
		Tags:        []string{"Watch / SSO"},
	}, func(ctx context.Context, input *dto.CallbackInput) (*dto.CallbackOutput, error) {
		result, err := service.HandleCallback(ctx, input.Code, input.State)
		if err != nil {
			return nil, huma.Error400BadRequest("Authorization failed", err)
		}
		return &dto.CallbackOutput{Body: dto.CallbackResponse{
			CharacterName:   result.CharacterName,
			CorporationID:   result.CorporationID,
			CorporationName: result.CorporationName,
			NewCorporation:  result.NewCorporation,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watch-list-corporations",
		Method:      "GET",
		Path:        basePath + "/corporations",
		Summary:     "List tracked corporations",
		Tags:        []string{"Watch / Corporations"},
	}, func(ctx context.Context, input *dto.CorporationsInput) (*dto.CorporationsOutput, error) {
		out := &dto.CorporationsOutput{}
		for _, corp := range service.Corporations() {
			summary := dto.CorporationSummary{
				CorporationID:    corp.CorporationID,
				CorporationName:  corp.CorporationName,
				ServerID:         corp.ServerID,
				ServerName:       corp.ServerName,
				ChannelIDs:       corp.ChannelIDs,
				MemberCount:      len(corp.Members),
				CredentialCount:  corp.AuthedCharacterCount(),
				StructureCount:   len(corp.Structures),
				StarbaseCount:    len(corp.Starbases),
				MaxCharacters:    corp.MaxCharacters,
				MaxDirectors:     corp.MaxDirectors,
				LastNotification: corp.MostRecentNotification,
			}
			out.Body.Corporations = append(out.Body.Corporations, summary)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watch-status",
		Method:      "GET",
		Path:        basePath + "/status",
		Summary:     "Module and upstream server status",
		Description: "Reports the tracked corpus size and EVE Online server reachability",
		Tags:        []string{"Watch / Status"},
	}, func(ctx context.Context, input *dto.StatusInput) (*dto.StatusOutput, error) {
		status := service.Status(ctx)
		out := &dto.StatusOutput{Body: dto.StatusResponse{
			Corporations:  status.Corporations,
			Channels:      status.Channels,
			Upstream:      status.Upstream,
			Players:       status.Players,
			ServerVersion: status.ServerVersion,
		}}
		if !status.ServerStart.IsZero() {
			out.Body.ServerStart = status.ServerStart.Format(time.RFC3339)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watch-subscribe-channel",
		Method:      "POST",
		Path:        basePath + "/corporations/{corporation_id}/channels",
		Summary:     "Subscribe a channel to a corporation",
		Tags:        []string{"Watch / Corporations"},
	}, func(ctx context.Context, input *dto.SubscribeInput) (*dto.SubscribeOutput, error) {
		if err := validateInput(validate, input); err != nil {
			return nil, err
		}
		err := service.Subscribe(ctx, input.CorporationID, input.Body.ServerID, input.Body.ChannelID)
		if err != nil {
			if errors.Is(err, services.ErrCorporationNotFound) {
				return nil, huma.Error404NotFound("Corporation not tracked")
			}
			return nil, huma.Error400BadRequest("Failed to subscribe channel", err)
		}
		out := &dto.SubscribeOutput{}
		out.Body.Message = fmt.Sprintf("Channel %s subscribed", input.Body.ChannelID)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watch-unsubscribe-channel",
		Method:      "DELETE",
		Path:        basePath + "/corporations/{corporation_id}/channels",
		Summary:     "Unsubscribe a channel from a corporation",
		Tags:        []string{"Watch / Corporations"},
	}, func(ctx context.Context, input *dto.UnsubscribeInput) (*dto.SubscribeOutput, error) {
		if err := validateInput(validate, input); err != nil {
			return nil, err
		}
		err := service.Unsubscribe(ctx, input.CorporationID, input.ServerID, input.ChannelID)
		if err != nil {
			if errors.Is(err, services.ErrCorporationNotFound) {
				return nil, huma.Error404NotFound("Corporation not tracked")
			}
			return nil, huma.Error400BadRequest("Failed to unsubscribe channel", err)
		}
		out := &dto.SubscribeOutput{}
		out.Body.Message = fmt.Sprintf("Channel %s unsubscribed", input.ChannelID)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watch-configure-channel",
		Method:      "PATCH",
		Path:        basePath + "/channels/{server_id}/{channel_id}",
		Summary:     "Update a channel's feature toggles and mention roles",
		Tags:        []string{"Watch / Channels"},
	}, func(ctx context.Context, input *dto.ChannelConfigInput) (*dto.ChannelConfigOutput, error) {
		if err := validateInput(validate, input); err != nil {
			return nil, err
		}
		cfg, err := service.ConfigureChannel(ctx, input.ServerID, input.ChannelID, services.ChannelToggles{
			StarbaseFuel:    input.Body.StarbaseFuel,
			StarbaseStatus:  input.Body.StarbaseStatus,
			StructureFuel:   input.Body.StructureFuel,
			StructureStatus: input.Body.StructureStatus,
			MiningUpdates:   input.Body.MiningUpdates,
			LowFuelRole:     input.Body.LowFuelRole,
			AttackAlertRole: input.Body.AttackAlertRole,
		})
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to update channel config", err)
		}
		return &dto.ChannelConfigOutput{Body: dto.ChannelConfigResponse{
			ServerID:        cfg.ServerID,
			ChannelID:       cfg.ChannelID,
			ChannelName:     cfg.ChannelName,
			StarbaseFuel:    cfg.StarbaseFuel,
			StarbaseStatus:  cfg.StarbaseStatus,
			StructureFuel:   cfg.StructureFuel,
			StructureStatus: cfg.StructureStatus,
			MiningUpdates:   cfg.MiningUpdates,
			LowFuelRole:     cfg.LowFuelRole,
			AttackAlertRole: cfg.AttackAlertRole,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watch-fuel-report",
		Method:      "GET",
		Path:        basePath + "/corporations/{corporation_id}/fuel",
		Summary:     "Fuel report for a corporation's structures",
		Tags:        []string{"Watch / Corporations"},
	}, func(ctx context.Context, input *dto.FuelReportInput) (*dto.FuelReportOutput, error) {
		report, err := service.FuelReport(input.CorporationID)
		if err != nil {
			if errors.Is(err, services.ErrCorporationNotFound) {
				return nil, huma.Error404NotFound("Corporation not tracked")
			}
			return nil, huma.Error500InternalServerError("Failed to build fuel report", err)
		}
		out := &dto.FuelReportOutput{}
		for _, entry := range report {
			out.Body.Structures = append(out.Body.Structures, dto.FuelStatusEntry{
				StructureName: entry.StructureName,
				FuelExpires:   entry.FuelExpires,
				Depleted:      entry.Depleted,
			})
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "watch-remove-server-data",
		Method:      "DELETE",
		Path:        basePath + "/servers/{server_id}",
		Summary:     "Remove all tracked data for a server",
		Description: "Writes a full backup first, then deletes every corporation and channel config tied to the server",
		Tags:        []string{"Watch / Servers"},
	}, func(ctx context.Context, input *dto.RemoveServerDataInput) (*dto.RemoveServerDataOutput, error) {
		if err := validateInput(validate, input); err != nil {
			return nil, err
		}
		if input.Confirm != input.ServerID {
			return nil, huma.Error400BadRequest("Confirmation does not match server ID")
		}
		removed, err := service.RemoveServerData(ctx, input.ServerID)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to remove server data", err)
		}
		out := &dto.RemoveServerDataOutput{}
		out.Body.Removed = removed
		return out, nil
	})
}

// validateInput runs the module's custom validation rules against a request
// and converts failures into a 422 with per-field messages.
func validateInput(validate *validator.Validate, input interface{}) error {
	if errs := dto.ValidateStruct(validate, input); len(errs) > 0 {
		return huma.Error422UnprocessableEntity(strings.Join(errs, "; "))
	}
	return nil
}
