package app_test

import (
	"bytes"
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gelozr/authflow/app"
	"github.com/gelozr/authflow/auth"
	"github.com/gelozr/authflow/auth/oauth"
	"github.com/gelozr/authflow/config"
	"github.com/gelozr/authflow/devserver"
	"github.com/gelozr/authflow/log"
	"github.com/gelozr/authflow/storage"
)

const origin = "https://app.example.com"

type env struct {
	cfg     *config.Config
	backend storage.Backend
}

func newEnv(t *testing.T) *env {
	t.Helper()

	srvCfg := devserver.Config{
		JWTSecret:   "0123456789abcdef0123456789abcdef",
		TokenTTL:    time.Hour,
		Users:       []devserver.SeedUser{{Email: "alice@example.com", Password: "wonderland"}},
		GoogleCodes: map[string]string{"dev-code": "bob@example.com"},
	}
	ds, err := devserver.New(context.Background(), srvCfg, storage.NewMemory(), log.NewNop())
	require.NoError(t, err)

	srv := httptest.NewServer(ds.Handler())
	t.Cleanup(srv.Close)

	return &env{
		cfg: &config.Config{
			Origin: origin,
			API:    config.API{BaseURL: srv.URL, Timeout: 5 * time.Second},
			Providers: []config.Provider{
				{ID: "GUEST", Kind: config.KindGuest},
				{ID: "PASSWORD", Kind: config.KindPassword},
				{ID: "GOOGLE", Kind: config.KindGoogle, ClientID: "gid"},
			},
		},
		backend: storage.NewMemory(),
	}
}

// load simulates one page load at href.
func (e *env) load(t *testing.T, href string, opts ...app.Option) *app.App {
	t.Helper()

	opts = append([]app.Option{
		app.WithHref(href),
		app.WithBackend(e.backend),
		app.WithLogger(log.NewNop()),
	}, opts...)

	a, err := app.New(context.Background(), e.cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	settle(t, a)
	return a
}

func settle(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Settle(ctx))
}

func TestGuestLoginSurvivesReload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.load(t, origin+"/")
	assert.False(t, first.State.IsLoggedIn())

	require.NoError(t, first.Service.TryAuthAndLogin(ctx, "GUEST"))
	settle(t, first)

	require.True(t, first.State.IsLoggedIn())
	user, err := first.State.User()
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)

	token, ok, err := first.Storage.GetItem(ctx, auth.KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.State.AccessToken(), token)
	require.NoError(t, first.Close())

	second := e.load(t, origin+"/")
	require.True(t, second.State.IsLoggedIn())
	again, err := second.State.User()
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
}

func TestGoogleRedirectRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var out bytes.Buffer
	first := e.load(t, origin+"/", app.WithOutput(&out))
	require.NoError(t, first.Service.TryAuthAndLogin(ctx, "GOOGLE"))
	settle(t, first)
	assert.False(t, first.State.IsLoggedIn())

	redirect, err := url.Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "accounts.google.com", redirect.Host)
	assert.Equal(t, origin+oauth.CallbackPath, redirect.Query().Get("redirect_uri"))
	require.NoError(t, first.Close())

	callback := origin + oauth.CallbackPath + "?code=dev-code&state=" + url.QueryEscape(redirect.Query().Get("state"))
	second := e.load(t, callback)

	require.True(t, second.State.IsLoggedIn())
	user, err := second.State.User()
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", user.Email)

	_, pending, err := second.Storage.GetItem(ctx, auth.KeyLastProviderID)
	require.NoError(t, err)
	assert.False(t, pending)
	_, pendingState, err := second.Storage.GetItem(ctx, auth.KeyLastState)
	require.NoError(t, err)
	assert.False(t, pendingState)
}

func TestGoogleCallbackWithForgedState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.load(t, origin+"/")
	require.NoError(t, first.Service.TryAuthAndLogin(ctx, "GOOGLE"))
	settle(t, first)
	require.NoError(t, first.Close())

	reg := prometheus.NewRegistry()
	second := e.load(t, origin+oauth.CallbackPath+"?code=dev-code&state=forged", app.WithRegisterer(reg))
	assert.False(t, second.State.IsLoggedIn())

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() != "authflow_auth_failures_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "code" && l.GetValue() == string(auth.CodeStateMismatch) {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "state mismatch failure should be counted")
}

func TestPasswordLogin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.load(t, origin+"/", app.WithCredentials(func(context.Context) (auth.PasswordCredentials, error) {
		return auth.PasswordCredentials{Email: "alice@example.com", Password: "wonderland"}, nil
	}))

	require.NoError(t, a.Service.TryAuthAndLogin(ctx, "PASSWORD"))
	settle(t, a)

	user, err := a.State.User()
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
}

func TestPasswordWithoutCredentialsIsNotInjectable(t *testing.T) {
	e := newEnv(t)

	a := e.load(t, origin+"/")
	err := a.Service.TryAuthAndLogin(context.Background(), "PASSWORD")
	assert.ErrorIs(t, err, auth.ErrProviderNotInjectable)
}

func TestWrongPasswordIsLoginUnauthorized(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.load(t, origin+"/", app.WithCredentials(func(context.Context) (auth.PasswordCredentials, error) {
		return auth.PasswordCredentials{Email: "alice@example.com", Password: "bad"}, nil
	}))

	var got []auth.Event
	done := make(chan struct{})
	unsubscribe := a.Bus.Subscribe(func(_ context.Context, evt auth.Event) error {
		if f, ok := evt.(auth.LogInFailed); ok {
			got = append(got, f)
			close(done)
		}
		return nil
	})
	defer unsubscribe()

	require.NoError(t, a.Service.TryAuthAndLogin(ctx, "PASSWORD"))
	settle(t, a)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no LogInFailed event")
	}
	assert.Equal(t, []auth.Event{auth.LogInFailed{Code: auth.CodeLoginUnauthorized}}, got)
	assert.False(t, a.State.IsLoggedIn())
}

func TestLogoutClearsPersistedSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.backend.Set(ctx, "theme", "dark"))

	a := e.load(t, origin+"/")
	require.NoError(t, a.Service.TryAuthAndLogin(ctx, "GUEST"))
	settle(t, a)
	require.True(t, a.State.IsLoggedIn())

	require.NoError(t, a.Service.Logout(ctx))
	settle(t, a)
	assert.False(t, a.State.IsLoggedIn())

	_, ok, err := a.Storage.GetItem(ctx, auth.KeyAccessToken)
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := e.backend.Get(ctx, "theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", v)
}

func TestNew_InvalidHref(t *testing.T) {
	e := newEnv(t)

	_, err := app.New(context.Background(), e.cfg,
		app.WithHref("/relative"),
		app.WithBackend(e.backend),
		app.WithLogger(log.NewNop()))
	assert.Error(t, err)
}
