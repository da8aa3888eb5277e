package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"go-watchtower/internal/watch/models"
	"go-watchtower/pkg/evegateway/esierror"
	"go-watchtower/pkg/sso"
)

var (
	// ErrNoCredential means no eligible credential exists for a check
	ErrNoCredential = errors.New("no eligible credential")
	// ErrReauthRequired means the credential was rejected upstream and is
	// quarantined until its owner authorizes again
	ErrReauthRequired = errors.New("credential requires re-authorization")
)

// tokenExpiryMargin refreshes tokens slightly before they lapse so a call
// made right at the boundary does not race the expiry.
const tokenExpiryMargin = 30 * time.Second

// TokenSource trades refresh tokens for fresh access tokens
type TokenSource interface {
	RefreshToken(ctx context.Context, refreshToken string) (*sso.EVETokenResponse, error)
}

// RolesFetcher reads a character's current corporation roles
type RolesFetcher interface {
	GetCharacterRoles(ctx context.Context, characterID int, token string) ([]string, error)
}

// CredentialPool owns token refresh and draw eligibility across all
// credentials of a corporation. The pool's own size throttles re-use: every
// draw pushes the credential's next-eligible instant out by
// delay/eligibleCount, so more authorized characters means a shorter
// effective polling interval.
type CredentialPool struct {
	tokens TokenSource
	roles  RolesFetcher

	now    func() time.Time
	jitter func(max time.Duration) time.Duration
}

// NewCredentialPool creates a pool backed by the SSO token endpoint
func NewCredentialPool(tokens TokenSource, roles RolesFetcher) *CredentialPool {
	return &CredentialPool{
		tokens: tokens,
		roles:  roles,
		now:    func() time.Time { return time.Now().UTC() },
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// WorkingCredentials returns the corporation's eligible credentials for a
// check type, least-recently-used first. Quarantined credentials and, when
// requiredRole is set, credentials whose cached role set lacks it are
// excluded.
func (p *CredentialPool) WorkingCredentials(corp *models.TrackedCorporation, checkType models.CheckType, requiredRole string) []*models.Credential {
	var eligible []*models.Credential
	for _, member := range corp.Members {
		for _, cred := range member.Credentials {
			if cred.NeedsReAuth {
				continue
			}
			if requiredRole != "" && !cred.HasRole(requiredRole) {
				continue
			}
			eligible = append(eligible, cred)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].NextCheck(checkType).Before(eligible[j].NextCheck(checkType))
	})
	return eligible
}

// Draw picks the least-recently-used eligible credential for a check,
// obtains a valid access token for it, and stamps its next-eligible
// instant to now + delay/eligibleCount + jitter. Credentials whose token
// refresh fails with an authorization error are quarantined and the next
// candidate is tried.
func (p *CredentialPool) Draw(ctx context.Context, corp *models.TrackedCorporation, checkType models.CheckType, requiredRole string, delay time.Duration) (*models.Credential, string, error) {
	eligible := p.WorkingCredentials(corp, checkType, requiredRole)
	if len(eligible) == 0 {
		return nil, "", ErrNoCredential
	}

	for _, cred := range eligible {
		token, err := p.AccessToken(ctx, cred)
		if err != nil {
			if errors.Is(err, ErrReauthRequired) {
				// Quarantined, try the next credential this cycle
				continue
			}
			return nil, "", err
		}

		interval := delay / time.Duration(len(eligible))
		cred.SetNextCheck(checkType, p.now().Add(interval+p.jitter(interval/4)))
		return cred, token, nil
	}

	return nil, "", ErrNoCredential
}

// AccessToken returns a valid access token for the credential, refreshing
// it when expired. An upstream 4xx on refresh quarantines the credential:
// NeedsReAuth is set, AuthFailedAt stamped, and ErrReauthRequired returned.
// Transient failures leave the credential usable next cycle.
func (p *CredentialPool) AccessToken(ctx context.Context, cred *models.Credential) (string, error) {
	now := p.now()
	if cred.AccessToken != "" && cred.TokenExpiry.After(now.Add(tokenExpiryMargin)) {
		return cred.AccessToken, nil
	}

	resp, err := p.tokens.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		if sso.IsAuthRejection(err) {
			slog.WarnContext(ctx, "Credential rejected by SSO, quarantining until re-auth",
				slog.Int("character_id", cred.CharacterID),
				slog.String("character_name", cred.CharacterName))
			cred.NeedsReAuth = true
			cred.AuthFailedAt = now
			return "", fmt.Errorf("refresh rejected for character %d: %w", cred.CharacterID, ErrReauthRequired)
		}
		return "", fmt.Errorf("token refresh failed for character %d: %w", cred.CharacterID, err)
	}

	cred.AccessToken = resp.AccessToken
	cred.TokenExpiry = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	if resp.RefreshToken != "" {
		cred.RefreshToken = resp.RefreshToken
	}
	return cred.AccessToken, nil
}

// RefreshRoles re-fetches and caches a credential's corporation roles when
// its per-credential cool-down has passed. Role lookups are expensive and
// roles change rarely, so a credential found lacking is not re-checked for
// a full day.
func (p *CredentialPool) RefreshRoles(ctx context.Context, cred *models.Credential) error {
	now := p.now()
	if now.Before(cred.NextRolesCheck) {
		return nil
	}

	token, err := p.AccessToken(ctx, cred)
	if err != nil {
		return err
	}

	roles, err := p.roles.GetCharacterRoles(ctx, cred.CharacterID, token)
	if err != nil {
		if status := esierror.StatusCode(err); status == 401 || status == 403 {
			slog.WarnContext(ctx, "Roles lookup not authorized, quarantining credential",
				slog.Int("character_id", cred.CharacterID),
				slog.Int("status", status))
			cred.NeedsReAuth = true
			cred.AuthFailedAt = now
			return fmt.Errorf("roles lookup rejected for character %d: %w", cred.CharacterID, ErrReauthRequired)
		}
		return fmt.Errorf("roles lookup failed for character %d: %w", cred.CharacterID, err)
	}

	cred.Roles = roles
	cred.SetNextCheck(models.CheckRoles, now.Add(models.RolesCheckDelay))
	return nil
}
