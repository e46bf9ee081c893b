package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-cms/backend/internal/security"
	"portfolio-cms/backend/internal/session/domain"
	"portfolio-cms/backend/internal/session/repository"
)

type fixture struct {
	svc   *Service
	store *repository.MemoryStore
	now   time.Time
}

func newFixture(t *testing.T, mode domain.DeviceVerification) *fixture {
	t.Helper()
	f := &fixture{store: repository.NewMemoryStore(), now: time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	tokens := security.NewTestTokenProvider()
	tokens.SetClock(clock)
	f.svc = NewService(f.store, tokens, nil, Options{DeviceVerification: mode, Grace: time.Hour, Now: clock})
	return f
}

var (
	admin  = domain.Principal{ID: "user-1", Role: "admin", Permissions: []string{"projects:write"}}
	laptop = security.DeviceInfo{UserAgent: "Mozilla/5.0 (X11; Linux x86_64)", IP: "203.0.113.10", Timezone: "UTC", Language: "en-US", Screen: "1920x1080"}
	phone  = security.DeviceInfo{UserAgent: "Mozilla/5.0 (iPhone)", IP: "198.51.100.20", Timezone: "UTC", Language: "en-US", Screen: "390x844"}
)

func TestGenerateTokenPair_CreatesSession(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()

	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, f.now.Add(15*time.Minute).UnixMilli(), pair.ExpiresAt)

	sess, err := f.store.Get(ctx, pair.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, sess.Active())
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, security.DeviceFingerprintAt(laptop, f.now), sess.DeviceFingerprint)
	assert.Equal(t, laptop.IP, sess.IPAddress)
}

func TestGenerateTokenPair_RequiresPrincipal(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	_, err := f.svc.GenerateTokenPair(context.Background(), domain.Principal{}, laptop)
	assert.ErrorIs(t, err, ErrInvalidPrincipal)
	assert.Zero(t, f.store.Len())
}

func TestGenerateTokenPair_UnknownIP(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	pair, err := f.svc.GenerateTokenPair(context.Background(), admin, security.DeviceInfo{UserAgent: "ua"})
	require.NoError(t, err)
	claims := f.svc.ValidateAccessToken(context.Background(), pair.AccessToken, nil)
	require.NotNil(t, claims)
	assert.Equal(t, "unknown", claims.IPAddress)
}

func TestValidateAccessToken_Valid(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationStrict)
	ctx := context.Background()
	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)

	f.now = f.now.Add(5 * time.Minute)
	claims := f.svc.ValidateAccessToken(ctx, pair.AccessToken, &laptop)
	require.NotNil(t, claims)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, pair.SessionID, claims.SessionID)
	assert.Equal(t, f.now.Unix(), claims.LastActivity)

	sess, err := f.store.Get(ctx, pair.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.LastActivity.Equal(f.now), "validation touches the session")
}

func TestValidateAccessToken_SameDeviceAcrossHourBoundary(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationStrict)
	f.now = time.Date(2024, 3, 1, 10, 55, 0, 0, time.UTC)
	ctx := context.Background()
	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Minute)
	assert.NotNil(t, f.svc.ValidateAccessToken(ctx, pair.AccessToken, &laptop))
}

func TestValidateAccessToken_RevokedSessionFails(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)
	require.NotNil(t, f.svc.ValidateAccessToken(ctx, pair.AccessToken, nil))

	require.True(t, f.svc.RevokeToken(ctx, "", pair.SessionID))
	assert.Nil(t, f.svc.ValidateAccessToken(ctx, pair.AccessToken, nil))
}

func TestValidateAccessToken_BlacklistedTokenFails(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)

	require.True(t, f.svc.RevokeToken(ctx, pair.AccessToken, ""))
	assert.Nil(t, f.svc.ValidateAccessToken(ctx, pair.AccessToken, nil))
}

func TestValidateAccessToken_Expired(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)

	f.now = f.now.Add(16 * time.Minute)
	assert.Nil(t, f.svc.ValidateAccessToken(ctx, pair.AccessToken, nil))
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		assert.Nil(t, f.svc.ValidateAccessToken(ctx, tok, &laptop))
	}
	assert.Zero(t, f.store.Len(), "failed validation creates no session")
}

func TestValidateAccessToken_RefreshTokenIsNotAccess(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	pair, err := f.svc.GenerateTokenPair(context.Background(), admin, laptop)
	require.NoError(t, err)
	assert.Nil(t, f.svc.ValidateAccessToken(context.Background(), pair.RefreshToken, nil))
}

func TestValidateAccessToken_DeviceMismatch(t *testing.T) {
	ctx := context.Background()

	strict := newFixture(t, domain.DeviceVerificationStrict)
	pair, err := strict.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)
	assert.Nil(t, strict.svc.ValidateAccessToken(ctx, pair.AccessToken, &phone))
	assert.NotNil(t, strict.svc.ValidateAccessToken(ctx, pair.AccessToken, nil), "no device info skips the check")

	logOnly := newFixture(t, domain.DeviceVerificationLogOnly)
	pair, err = logOnly.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)
	assert.NotNil(t, logOnly.svc.ValidateAccessToken(ctx, pair.AccessToken, &phone))
}

func TestRefreshAccessToken_Rotates(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	first, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)

	f.now = f.now.Add(3 * time.Hour)
	second := f.svc.RefreshAccessToken(ctx, first.RefreshToken, laptop)
	require.NotNil(t, second)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	claims := f.svc.ValidateAccessToken(ctx, second.AccessToken, &laptop)
	require.NotNil(t, claims)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, []string{"projects:write"}, claims.Permissions)

	old, err := f.store.Get(ctx, first.SessionID)
	require.NoError(t, err)
	assert.False(t, old.Active(), "old session revoked on rotation")

	assert.Nil(t, f.svc.RefreshAccessToken(ctx, first.RefreshToken, laptop), "used refresh token cannot be replayed")
}

// gateStore holds the first n Get callers until all of them have read the
// session, so they race on what follows.
type gateStore struct {
	repository.Store
	mu      sync.Mutex
	waiting int
	open    chan struct{}
}

func newGateStore(inner repository.Store, n int) *gateStore {
	return &gateStore{Store: inner, waiting: n, open: make(chan struct{})}
}

func (g *gateStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := g.Store.Get(ctx, id)
	g.mu.Lock()
	if g.waiting > 0 {
		g.waiting--
		if g.waiting == 0 {
			close(g.open)
		}
	}
	g.mu.Unlock()
	select {
	case <-g.open:
	case <-time.After(2 * time.Second):
	}
	return sess, err
}

func TestRefreshAccessToken_ConcurrentReuseMintsOnePair(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)

	const callers = 4
	clock := func() time.Time { return f.now }
	tokens := security.NewTestTokenProvider()
	tokens.SetClock(clock)
	svc := NewService(newGateStore(f.store, callers), tokens, nil, Options{Grace: time.Hour, Now: clock})

	results := make([]*domain.TokenPair, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.RefreshAccessToken(ctx, pair.RefreshToken, laptop)
		}(i)
	}
	wg.Wait()

	minted := 0
	for _, r := range results {
		if r != nil {
			minted++
		}
	}
	assert.Equal(t, 1, minted, "a refresh token rotates once")
	active, err := f.store.ListActiveByUser(ctx, admin.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRefreshAccessToken_DeviceMustMatch(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)

	assert.Nil(t, f.svc.RefreshAccessToken(ctx, pair.RefreshToken, phone))
	sess, err := f.store.Get(ctx, pair.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.Active(), "failed refresh leaves the session alone")
}

func TestRefreshAccessToken_Rejections(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)

	assert.Nil(t, f.svc.RefreshAccessToken(ctx, "", laptop))
	assert.Nil(t, f.svc.RefreshAccessToken(ctx, "garbage", laptop))
	assert.Nil(t, f.svc.RefreshAccessToken(ctx, pair.AccessToken, laptop), "access token is not a refresh token")

	require.True(t, f.svc.RevokeToken(ctx, "", pair.SessionID))
	assert.Nil(t, f.svc.RefreshAccessToken(ctx, pair.RefreshToken, laptop), "revoked session cannot refresh")
}

func TestRevokeToken_Idempotent(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)

	assert.True(t, f.svc.RevokeToken(ctx, pair.AccessToken, pair.SessionID))
	assert.True(t, f.svc.RevokeToken(ctx, pair.AccessToken, pair.SessionID))
	assert.True(t, f.svc.RevokeToken(ctx, "", "unknown-session"))
}

func TestRevokeAllUserSessions(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	var pairs []*domain.TokenPair
	for _, d := range []security.DeviceInfo{laptop, phone, laptop} {
		p, err := f.svc.GenerateTokenPair(ctx, admin, d)
		require.NoError(t, err)
		pairs = append(pairs, p)
	}
	other, err := f.svc.GenerateTokenPair(ctx, domain.Principal{ID: "user-2", Role: "editor"}, laptop)
	require.NoError(t, err)

	assert.Len(t, f.svc.GetActiveSessions(ctx, "user-1"), 3)
	assert.Equal(t, 3, f.svc.RevokeAllUserSessions(ctx, "user-1"))
	for _, p := range pairs {
		assert.Nil(t, f.svc.ValidateAccessToken(ctx, p.AccessToken, nil))
	}
	assert.Empty(t, f.svc.GetActiveSessions(ctx, "user-1"))
	assert.NotNil(t, f.svc.ValidateAccessToken(ctx, other.AccessToken, nil))
	assert.Zero(t, f.svc.RevokeAllUserSessions(ctx, "user-1"))
}

func TestGetActiveSessions_Summary(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)

	list := f.svc.GetActiveSessions(ctx, "user-1")
	require.Len(t, list, 1)
	assert.Equal(t, pair.SessionID, list[0].ID)
	assert.Equal(t, laptop.IP, list[0].IPAddress)
}

func TestExtractPayload(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	pair, err := f.svc.GenerateTokenPair(context.Background(), admin, laptop)
	require.NoError(t, err)

	claims := f.svc.ExtractPayload(pair.AccessToken)
	require.NotNil(t, claims)
	assert.Equal(t, pair.SessionID, claims.SessionID)
	assert.Nil(t, f.svc.ExtractPayload("garbage"))
}

func TestVerifiedPayload(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	pair, err := f.svc.GenerateTokenPair(context.Background(), admin, laptop)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	claims := f.svc.VerifiedPayload(pair.AccessToken)
	require.NotNil(t, claims, "expiry is ignored")
	assert.Equal(t, pair.SessionID, claims.SessionID)
	assert.Nil(t, f.svc.VerifiedPayload(pair.RefreshToken))
	assert.Nil(t, f.svc.VerifiedPayload("garbage"))
}

func TestCleanup_DropsRevokedAfterGrace(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx := context.Background()
	pair, err := f.svc.GenerateTokenPair(ctx, admin, laptop)
	require.NoError(t, err)
	require.True(t, f.svc.RevokeToken(ctx, pair.AccessToken, pair.SessionID))

	res, err := f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Sessions)

	f.now = f.now.Add(2 * time.Hour)
	res, err = f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sessions)
	assert.Zero(t, f.store.Len())
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, domain.DeviceVerificationLogOnly)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
