package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go-watchtower/internal/watch/models"
	"go-watchtower/pkg/chat"
	"go-watchtower/pkg/evegateway/corporation"
	"go-watchtower/pkg/evegateway/esierror"
)

// MembershipReconciler keeps a corporation's credential roster in line
// with its actual upstream member list. Credentials whose characters have
// left the corporation are quarantined and removed, empty members pruned,
// and a corporation with no members left is softly detached from its
// server after a PSA.
type MembershipReconciler struct {
	corpClient corporation.Client
	pool       *CredentialPool
	messenger  chat.Messenger
}

// NewMembershipReconciler creates a membership reconciler
func NewMembershipReconciler(corpClient corporation.Client, pool *CredentialPool, messenger chat.Messenger) *MembershipReconciler {
	return &MembershipReconciler{
		corpClient: corpClient,
		pool:       pool,
		messenger:  messenger,
	}
}

// Reconcile verifies every credential against the corporation's member
// list and refreshes stale role caches. It mutates corp in place and
// reports whether anything changed so the caller knows to persist.
func (m *MembershipReconciler) Reconcile(ctx context.Context, corp *models.TrackedCorporation) (bool, error) {
	memberIDs, err := m.fetchMemberList(ctx, corp)
	if err != nil {
		return false, err
	}

	isMember := make(map[int]bool, len(memberIDs))
	for _, id := range memberIDs {
		isMember[id] = true
	}

	changed := false

	for _, member := range corp.Members {
		kept := member.Credentials[:0]
		for _, cred := range member.Credentials {
			if isMember[cred.CharacterID] {
				kept = append(kept, cred)
				continue
			}

			slog.InfoContext(ctx, "Character no longer in corporation, removing credential",
				slog.String("character_name", cred.CharacterName),
				slog.Int("corporation_id", corp.CorporationID))

			cred.NeedsReAuth = true
			m.notifyChannels(ctx, corp, fmt.Sprintf(
				"<@%s> %s is no longer a member of %s. Their authorization has been removed.",
				cred.UserID, cred.CharacterName, corp.CorporationName))
			changed = true
		}
		member.Credentials = kept
	}

	// Prune members left with no credentials
	keptMembers := corp.Members[:0]
	for _, member := range corp.Members {
		if len(member.Credentials) > 0 {
			keptMembers = append(keptMembers, member)
		} else {
			changed = true
		}
	}
	corp.Members = keptMembers

	if len(corp.Members) == 0 {
		m.notifyChannels(ctx, corp, fmt.Sprintf(
			"No authorized members remain for %s. The corporation will no longer be monitored until someone authenticates again.",
			corp.CorporationName))
		corp.ServerID = ""
		corp.ChannelIDs = nil
		return true, nil
	}

	if m.refreshRoles(ctx, corp) {
		changed = true
	}

	m.updateStats(corp)
	return changed, nil
}

// fetchMemberList obtains the corporation member list, trying credentials
// in least-recently-used order and quarantining any that the upstream
// rejects.
func (m *MembershipReconciler) fetchMemberList(ctx context.Context, corp *models.TrackedCorporation) ([]int, error) {
	eligible := m.pool.WorkingCredentials(corp, models.CheckNotifications, "")
	if len(eligible) == 0 {
		return nil, ErrNoCredential
	}

	for _, cred := range eligible {
		token, err := m.pool.AccessToken(ctx, cred)
		if err != nil {
			if errors.Is(err, ErrReauthRequired) {
				continue
			}
			return nil, err
		}

		members, err := m.corpClient.GetCorporationMembers(ctx, corp.CorporationID, token)
		if err != nil {
			if esierror.IsAuth(err) {
				slog.WarnContext(ctx, "Member list query not authorized, quarantining credential",
					slog.String("character_name", cred.CharacterName))
				cred.NeedsReAuth = true
				continue
			}
			return nil, fmt.Errorf("failed to fetch member list for corporation %d: %w", corp.CorporationID, err)
		}
		return members, nil
	}

	return nil, ErrNoCredential
}

// refreshRoles re-fetches role caches whose per-credential cool-down has
// passed. Role changes are rare so failures here are logged, not fatal.
func (m *MembershipReconciler) refreshRoles(ctx context.Context, corp *models.TrackedCorporation) bool {
	changed := false
	for _, member := range corp.Members {
		for _, cred := range member.Credentials {
			if cred.NeedsReAuth {
				continue
			}
			before := cred.NextRolesCheck
			if err := m.pool.RefreshRoles(ctx, cred); err != nil {
				slog.WarnContext(ctx, "Failed to refresh roles",
					slog.String("character_name", cred.CharacterName),
					slog.Any("error", err))
				continue
			}
			if !cred.NextRolesCheck.Equal(before) {
				changed = true
			}
		}
	}
	return changed
}

func (m *MembershipReconciler) updateStats(corp *models.TrackedCorporation) {
	characters := 0
	directors := 0
	for _, member := range corp.Members {
		for _, cred := range member.Credentials {
			if cred.NeedsReAuth {
				continue
			}
			characters++
			if cred.HasRole(models.RoleDirector) {
				directors++
			}
		}
	}
	if characters > corp.MaxCharacters {
		corp.MaxCharacters = characters
	}
	if directors > corp.MaxDirectors {
		corp.MaxDirectors = directors
	}
}

func (m *MembershipReconciler) notifyChannels(ctx context.Context, corp *models.TrackedCorporation, message string) {
	for _, channelID := range corp.ChannelIDs {
		if err := m.messenger.SendMessage(ctx, channelID, message); err != nil {
			slog.ErrorContext(ctx, "Failed to send membership notice",
				slog.String("channel_id", channelID),
				slog.Any("error", err))
		}
	}
}
