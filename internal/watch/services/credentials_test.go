package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-watchtower/internal/watch/models"
	"go-watchtower/pkg/sso"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenSource struct {
	responses map[string]*sso.EVETokenResponse
	errs      map[string]error
	calls     []string
}

func (f *fakeTokenSource) RefreshToken(ctx context.Context, refreshToken string) (*sso.EVETokenResponse, error) {
	f.calls = append(f.calls, refreshToken)
	if err, ok := f.errs[refreshToken]; ok {
		return nil, err
	}
	if resp, ok := f.responses[refreshToken]; ok {
		return resp, nil
	}
	return nil, errors.New("unexpected refresh token")
}

type fakeRolesFetcher struct {
	roles map[int][]string
	errs  map[int]error
}

func (f *fakeRolesFetcher) GetCharacterRoles(ctx context.Context, characterID int, token string) ([]string, error) {
	if err, ok := f.errs[characterID]; ok {
		return nil, err
	}
	return f.roles[characterID], nil
}

func testPool(tokens *fakeTokenSource, roles *fakeRolesFetcher, now time.Time) *CredentialPool {
	pool := NewCredentialPool(tokens, roles)
	pool.now = func() time.Time { return now }
	pool.jitter = func(max time.Duration) time.Duration { return 0 }
	return pool
}

func validCredential(characterID int, name string, now time.Time) *models.Credential {
	return &models.Credential{
		CharacterID:   characterID,
		CharacterName: name,
		AccessToken:   "token-" + name,
		TokenExpiry:   now.Add(time.Hour),
		RefreshToken:  "refresh-" + name,
		Roles:         []string{models.RoleStationManager},
	}
}

func corpWithCredentials(creds ...*models.Credential) *models.TrackedCorporation {
	return &models.TrackedCorporation{
		CorporationID:   98000001,
		CorporationName: "Test Corp",
		Members:         []*models.Member{{UserID: "user-1", Credentials: creds}},
	}
}

func TestDrawRotatesFairly(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	pool := testPool(&fakeTokenSource{}, &fakeRolesFetcher{}, now)
	// Advance the clock a little on every read so successive stamps are
	// strictly ordered
	current := now
	pool.now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	alice := validCredential(1, "Alice", now)
	bob := validCredential(2, "Bob", now)
	carol := validCredential(3, "Carol", now)
	// Stagger the next-check instants so the starting order is known
	alice.NextNotificationCheck = now.Add(-3 * time.Minute)
	bob.NextNotificationCheck = now.Add(-2 * time.Minute)
	carol.NextNotificationCheck = now.Add(-1 * time.Minute)

	corp := corpWithCredentials(alice, bob, carol)

	var drawn []string
	for i := 0; i < 6; i++ {
		cred, token, err := pool.Draw(context.Background(), corp, models.CheckNotifications, models.RoleStationManager, models.NotificationCheckDelay)
		require.NoError(t, err)
		assert.Equal(t, "token-"+cred.CharacterName, token)
		drawn = append(drawn, cred.CharacterName)
	}

	// Each draw pushes the drawn credential to the back of the queue
	assert.Equal(t, []string{"Alice", "Bob", "Carol", "Alice", "Bob", "Carol"}, drawn)
}

func TestDrawStampsNextCheck(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	pool := testPool(&fakeTokenSource{}, &fakeRolesFetcher{}, now)

	alice := validCredential(1, "Alice", now)
	bob := validCredential(2, "Bob", now)
	alice.NextNotificationCheck = now.Add(-time.Minute)
	corp := corpWithCredentials(alice, bob)

	_, _, err := pool.Draw(context.Background(), corp, models.CheckNotifications, models.RoleStationManager, models.NotificationCheckDelay)
	require.NoError(t, err)

	// Two eligible credentials halve the effective interval
	assert.Equal(t, now.Add(models.NotificationCheckDelay/2), alice.NextNotificationCheck)
	// Other check types keep their own clocks
	assert.True(t, alice.NextStructureCheck.IsZero())
}

func TestDrawNoEligibleCredential(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	pool := testPool(&fakeTokenSource{}, &fakeRolesFetcher{}, now)

	quarantined := validCredential(1, "Alice", now)
	quarantined.NeedsReAuth = true
	wrongRole := validCredential(2, "Bob", now)
	wrongRole.Roles = nil
	corp := corpWithCredentials(quarantined, wrongRole)

	_, _, err := pool.Draw(context.Background(), corp, models.CheckStructures, models.RoleStationManager, models.StructureCheckDelay)
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestWorkingCredentialsRoleFilter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	pool := testPool(&fakeTokenSource{}, &fakeRolesFetcher{}, now)

	manager := validCredential(1, "Manager", now)
	director := validCredential(2, "Director", now)
	director.Roles = []string{models.RoleDirector}
	corp := corpWithCredentials(manager, director)

	eligible := pool.WorkingCredentials(corp, models.CheckStarbases, models.RoleDirector)
	require.Len(t, eligible, 1)
	assert.Equal(t, "Director", eligible[0].CharacterName)
}

func TestAccessTokenRefreshesExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens := &fakeTokenSource{
		responses: map[string]*sso.EVETokenResponse{
			"refresh-Alice": {AccessToken: "fresh-token", ExpiresIn: 1199, RefreshToken: "rotated-refresh"},
		},
	}
	pool := testPool(tokens, &fakeRolesFetcher{}, now)

	cred := validCredential(1, "Alice", now)
	cred.TokenExpiry = now.Add(10 * time.Second) // inside the expiry margin

	token, err := pool.AccessToken(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, "rotated-refresh", cred.RefreshToken)
	assert.Equal(t, now.Add(1199*time.Second), cred.TokenExpiry)
}

func TestAccessTokenQuarantinesOnRejection(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens := &fakeTokenSource{
		errs: map[string]error{
			"refresh-Alice": &sso.AuthError{StatusCode: 400, Body: "invalid_grant"},
		},
	}
	pool := testPool(tokens, &fakeRolesFetcher{}, now)

	cred := validCredential(1, "Alice", now)
	cred.TokenExpiry = now.Add(-time.Minute)

	_, err := pool.AccessToken(context.Background(), cred)
	assert.ErrorIs(t, err, ErrReauthRequired)
	assert.True(t, cred.NeedsReAuth)
	assert.Equal(t, now, cred.AuthFailedAt)

	// Quarantined credentials no longer surface for any check
	corp := corpWithCredentials(cred)
	assert.Empty(t, pool.WorkingCredentials(corp, models.CheckNotifications, ""))
}

func TestAccessTokenTransientFailureKeepsCredential(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens := &fakeTokenSource{
		errs: map[string]error{"refresh-Alice": errors.New("connection reset")},
	}
	pool := testPool(tokens, &fakeRolesFetcher{}, now)

	cred := validCredential(1, "Alice", now)
	cred.TokenExpiry = now.Add(-time.Minute)

	_, err := pool.AccessToken(context.Background(), cred)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReauthRequired)
	assert.False(t, cred.NeedsReAuth)
}

func TestDrawSkipsQuarantinedAndContinues(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens := &fakeTokenSource{
		errs: map[string]error{
			"refresh-Alice": &sso.AuthError{StatusCode: 403, Body: "revoked"},
		},
	}
	pool := testPool(tokens, &fakeRolesFetcher{}, now)

	alice := validCredential(1, "Alice", now)
	alice.AccessToken = ""
	alice.NextNotificationCheck = now.Add(-2 * time.Minute)
	bob := validCredential(2, "Bob", now)
	bob.NextNotificationCheck = now.Add(-time.Minute)
	corp := corpWithCredentials(alice, bob)

	cred, token, err := pool.Draw(context.Background(), corp, models.CheckNotifications, models.RoleStationManager, models.NotificationCheckDelay)
	require.NoError(t, err)
	assert.Equal(t, "Bob", cred.CharacterName)
	assert.Equal(t, "token-Bob", token)
	assert.True(t, alice.NeedsReAuth)
}

func TestRefreshRoles(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("honours cool-down", func(t *testing.T) {
		roles := &fakeRolesFetcher{roles: map[int][]string{1: {models.RoleDirector}}}
		pool := testPool(&fakeTokenSource{}, roles, now)

		cred := validCredential(1, "Alice", now)
		cred.NextRolesCheck = now.Add(time.Hour)

		require.NoError(t, pool.RefreshRoles(context.Background(), cred))
		assert.Equal(t, []string{models.RoleStationManager}, cred.Roles)
	})

	t.Run("updates roles and reschedules", func(t *testing.T) {
		roles := &fakeRolesFetcher{roles: map[int][]string{1: {models.RoleDirector, models.RoleStationManager}}}
		pool := testPool(&fakeTokenSource{}, roles, now)

		cred := validCredential(1, "Alice", now)

		require.NoError(t, pool.RefreshRoles(context.Background(), cred))
		assert.Equal(t, []string{models.RoleDirector, models.RoleStationManager}, cred.Roles)
		assert.Equal(t, now.Add(models.RolesCheckDelay), cred.NextRolesCheck)
	})
}
