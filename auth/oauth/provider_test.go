package oauth

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gelozr/authflow/auth"
	"github.com/gelozr/authflow/browser"
	"github.com/gelozr/authflow/storage"
)

const origin = "https://app.example.com"

var testConfig = Config{
	Endpoint: "https://idp.example.com/authorize",
	ClientID: "client-123",
	Scope:    "email",
	Prompt:   "select_account",
}

type failingStorage struct {
	auth.Storage
	failSet    bool
	failGet    bool
	failRemove bool
}

var errBoom = errors.New("boom")

func (f *failingStorage) SetItem(ctx context.Context, k, v string) error {
	if f.failSet {
		return errBoom
	}
	return f.Storage.SetItem(ctx, k, v)
}

func (f *failingStorage) GetItem(ctx context.Context, k string) (string, bool, error) {
	if f.failGet {
		return "", false, errBoom
	}
	return f.Storage.GetItem(ctx, k)
}

func (f *failingStorage) RemoveItem(ctx context.Context, k string) error {
	if f.failRemove {
		return errBoom
	}
	return f.Storage.RemoveItem(ctx, k)
}

func newTestProvider(t *testing.T, href string) (*Provider, *storage.Scoped, *browser.Window) {
	t.Helper()
	st := storage.NewScoped(storage.NewMemory(), "")
	win, err := browser.NewWindow(href, nil)
	require.NoError(t, err)

	p, err := New(testConfig, st, win, nil)
	require.NoError(t, err)
	p.newState = func() string { return "state-abc" }
	return p, st, win
}

func TestTryAuth_RedirectsWithParameters(t *testing.T) {
	ctx := context.Background()
	p, st, win := newTestProvider(t, origin+"/login")

	res, err := p.TryAuth(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusPostponed, res.Status)

	stored, ok, err := st.GetItem(ctx, auth.KeyLastState)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "state-abc", stored)

	navs := win.Navigations()
	require.Len(t, navs, 1)

	u, err := url.Parse(navs[0])
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", u.Host)
	assert.Equal(t, "/authorize", u.Path)

	q := u.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, origin+CallbackPath, q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "email", q.Get("scope"))
	assert.Equal(t, "state-abc", q.Get("state"))
	assert.Equal(t, "select_account", q.Get("prompt"))
}

func TestTryAuth_FreshStatePerAttempt(t *testing.T) {
	ctx := context.Background()
	st := storage.NewScoped(storage.NewMemory(), "")
	win, err := browser.NewWindow(origin, nil)
	require.NoError(t, err)
	p, err := New(testConfig, st, win, nil)
	require.NoError(t, err)

	_, err = p.TryAuth(ctx)
	require.NoError(t, err)
	first, _, _ := st.GetItem(ctx, auth.KeyLastState)

	_, err = p.TryAuth(ctx)
	require.NoError(t, err)
	second, _, _ := st.GetItem(ctx, auth.KeyLastState)

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestTryAuth_OmitsPromptWhenUnset(t *testing.T) {
	st := storage.NewScoped(storage.NewMemory(), "")
	win, err := browser.NewWindow(origin, nil)
	require.NoError(t, err)

	cfg := testConfig
	cfg.Prompt = ""
	p, err := New(cfg, st, win, nil)
	require.NoError(t, err)

	authURL, err := p.AuthURL("s")
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	_, has := u.Query()["prompt"]
	assert.False(t, has)
}

func TestTryAuth_StorageFailure(t *testing.T) {
	st := &failingStorage{Storage: storage.NewScoped(storage.NewMemory(), ""), failSet: true}
	win, err := browser.NewWindow(origin, nil)
	require.NoError(t, err)
	p, err := New(testConfig, st, win, nil)
	require.NoError(t, err)

	_, err = p.TryAuth(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, win.Navigations())
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name       string
		href       string
		storeState bool
		want       auth.Result
	}{
		{
			name:       "not the callback path",
			href:       origin + "/home?code=abc&state=state-abc",
			storeState: true,
			want:       auth.NoAuth(),
		},
		{
			name: "no stored state",
			href: origin + CallbackPath + "?code=abc&state=state-abc",
			want: auth.NoAuth(),
		},
		{
			name:       "error parameter",
			href:       origin + CallbackPath + "?error=access_denied&state=state-abc",
			storeState: true,
			want:       auth.Failed(auth.CodeUnauthorized),
		},
		{
			name:       "state mismatch",
			href:       origin + CallbackPath + "?code=abc&state=other",
			storeState: true,
			want:       auth.Failed(auth.CodeStateMismatch),
		},
		{
			name:       "missing code",
			href:       origin + CallbackPath + "?state=state-abc",
			storeState: true,
			want:       auth.Failed(auth.CodeUnauthorized),
		},
		{
			name:       "success",
			href:       origin + CallbackPath + "?code=abc&state=state-abc",
			storeState: true,
			want:       auth.Succeeded(State{AuthCode: "abc"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p, st, _ := newTestProvider(t, tt.href)
			if tt.storeState {
				require.NoError(t, st.SetItem(ctx, auth.KeyLastState, "state-abc"))
			}

			got, err := p.Verify(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerify_SuccessClearsState(t *testing.T) {
	ctx := context.Background()
	p, st, _ := newTestProvider(t, origin+CallbackPath+"?code=abc&state=state-abc")
	require.NoError(t, st.SetItem(ctx, auth.KeyLastState, "state-abc"))

	_, err := p.Verify(ctx)
	require.NoError(t, err)

	_, ok, err := st.GetItem(ctx, auth.KeyLastState)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_RemoveFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewScoped(storage.NewMemory(), "")
	require.NoError(t, inner.SetItem(ctx, auth.KeyLastState, "s1"))
	st := &failingStorage{Storage: inner, failRemove: true}

	win, err := browser.NewWindow(origin+CallbackPath+"?code=abc&state=s1", nil)
	require.NoError(t, err)
	p, err := New(testConfig, st, win, nil)
	require.NoError(t, err)

	got, err := p.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.Succeeded(State{AuthCode: "abc"}), got)
}

func TestVerify_ReadFailure(t *testing.T) {
	st := &failingStorage{Storage: storage.NewScoped(storage.NewMemory(), ""), failGet: true}
	win, err := browser.NewWindow(origin+CallbackPath+"?code=abc&state=s1", nil)
	require.NoError(t, err)
	p, err := New(testConfig, st, win, nil)
	require.NoError(t, err)

	_, err = p.Verify(context.Background())
	assert.ErrorIs(t, err, errBoom)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := storage.NewScoped(storage.NewMemory(), "")
	win, err := browser.NewWindow(origin+"/", nil)
	require.NoError(t, err)
	p, err := New(testConfig, st, win, nil)
	require.NoError(t, err)

	_, err = p.TryAuth(ctx)
	require.NoError(t, err)

	// the identity provider sends the browser back with the same state
	authURL, err := url.Parse(win.Href())
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	require.NoError(t, win.Assign(origin+CallbackPath+"?code=xyz&state="+url.QueryEscape(state)))

	got, err := p.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.Succeeded(State{AuthCode: "xyz"}), got)
}

func TestNew_Validation(t *testing.T) {
	st := storage.NewScoped(storage.NewMemory(), "")
	win, err := browser.NewWindow(origin, nil)
	require.NoError(t, err)

	_, err = New(Config{ClientID: "c"}, st, win, nil)
	assert.Error(t, err)

	_, err = New(Config{Endpoint: "not a url", ClientID: "c"}, st, win, nil)
	assert.Error(t, err)

	_, err = New(Config{Endpoint: testConfig.Endpoint}, st, win, nil)
	assert.Error(t, err)

	_, err = New(testConfig, nil, win, nil)
	assert.Error(t, err)

	_, err = New(testConfig, st, nil, nil)
	assert.Error(t, err)
}

func TestNewGoogle(t *testing.T) {
	st := storage.NewScoped(storage.NewMemory(), "")
	win, err := browser.NewWindow(origin, nil)
	require.NoError(t, err)

	p, err := NewGoogle("gid", st, win, nil)
	require.NoError(t, err)

	authURL, err := p.AuthURL("s")
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)

	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "gid", u.Query().Get("client_id"))
	assert.Equal(t, "email", u.Query().Get("scope"))
	assert.Equal(t, "select_account", u.Query().Get("prompt"))
}
