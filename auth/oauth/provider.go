// Package oauth implements the authorization-code redirect flow as an
// auth.Provider.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/gelozr/authflow/auth"
	"github.com/gelozr/authflow/browser"
	"github.com/gelozr/authflow/log"
)

// CallbackPath is where the identity provider sends the browser back to, on
// the application's own origin.
const CallbackPath = "/auth/callback"

// Config describes one OAuth identity provider.
type Config struct {
	Endpoint string // authorization endpoint URL
	ClientID string
	Scope    string

	// Prompt is forwarded as the prompt parameter when set.
	Prompt string
}

// State is the Succeeded payload handed to the login endpoint.
type State struct {
	AuthCode string `json:"authCode"`
}

// Provider runs the redirect flow. It keeps at most one outstanding CSRF
// state token in storage.
type Provider struct {
	cfg      Config
	storage  auth.Storage
	location browser.Location
	logger   log.Logger

	newState func() string
}

var _ auth.Provider = (*Provider)(nil)

func New(cfg Config, storage auth.Storage, location browser.Location, logger log.Logger) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("oauth endpoint is required")
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("oauth endpoint: %w", err)
	}
	if cfg.ClientID == "" {
		return nil, errors.New("oauth client id is required")
	}
	if storage == nil || location == nil {
		return nil, errors.New("oauth provider needs storage and a location")
	}

	return &Provider{
		cfg:      cfg,
		storage:  storage,
		location: location,
		logger:   log.Or(logger).With("component", "oauth_provider"),
		newState: uuid.NewString,
	}, nil
}

// TryAuth stores a fresh state token and navigates to the authorization
// endpoint. The outcome is only known after the callback, so it reports
// Postponed.
func (p *Provider) TryAuth(ctx context.Context) (auth.Result, error) {
	state := p.newState()
	if err := p.storage.SetItem(ctx, auth.KeyLastState, state); err != nil {
		return auth.Result{}, fmt.Errorf("store oauth state: %w", err)
	}

	authURL, err := p.AuthURL(state)
	if err != nil {
		return auth.Result{}, err
	}

	if err := p.location.Assign(authURL); err != nil {
		return auth.Result{}, fmt.Errorf("redirect to %s: %w", p.cfg.Endpoint, err)
	}

	return auth.Postponed(), nil
}

// AuthURL builds the authorization request URL for state.
func (p *Provider) AuthURL(state string) (string, error) {
	redirectURI, err := p.RedirectURI()
	if err != nil {
		return "", err
	}

	conf := oauth2.Config{
		ClientID:    p.cfg.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: p.cfg.Endpoint},
		RedirectURL: redirectURI,
	}
	if p.cfg.Scope != "" {
		conf.Scopes = strings.Fields(p.cfg.Scope)
	}

	var opts []oauth2.AuthCodeOption
	if p.cfg.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", p.cfg.Prompt))
	}

	return conf.AuthCodeURL(state, opts...), nil
}

// RedirectURI is the callback path on the current page's origin.
func (p *Provider) RedirectURI() (string, error) {
	origin, err := browser.Origin(p.location.Href())
	if err != nil {
		return "", fmt.Errorf("current origin: %w", err)
	}
	return origin + CallbackPath, nil
}

// Verify checks whether the current page is the callback of an attempt
// started by TryAuth.
func (p *Provider) Verify(ctx context.Context) (auth.Result, error) {
	callback, err := url.Parse(p.location.Href())
	if err != nil {
		return auth.Result{}, fmt.Errorf("parse current url: %w", err)
	}
	if callback.Path != CallbackPath {
		return auth.NoAuth(), nil
	}

	stored, ok, err := p.storage.GetItem(ctx, auth.KeyLastState)
	if err != nil {
		return auth.Result{}, fmt.Errorf("read oauth state: %w", err)
	}
	if !ok || stored == "" {
		return auth.NoAuth(), nil
	}

	q := callback.Query()
	if e := q.Get("error"); e != "" {
		p.logger.InfoContext(ctx, "provider rejected authorization", "error", e)
		return auth.Failed(auth.CodeUnauthorized), nil
	}

	if q.Get("state") != stored {
		p.logger.WarnContext(ctx, "oauth state mismatch")
		return auth.Failed(auth.CodeStateMismatch), nil
	}

	code := q.Get("code")
	if code == "" {
		return auth.Failed(auth.CodeUnauthorized), nil
	}

	if err := p.storage.RemoveItem(ctx, auth.KeyLastState); err != nil {
		p.logger.ErrorContext(ctx, "clear oauth state", "error", err)
	}

	return auth.Succeeded(State{AuthCode: code}), nil
}
