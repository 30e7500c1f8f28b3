// Package app assembles one authflow session: every component is built once
// here and passed explicitly to the components that need it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gelozr/authflow/auth"
	"github.com/gelozr/authflow/auth/oauth"
	"github.com/gelozr/authflow/browser"
	"github.com/gelozr/authflow/config"
	"github.com/gelozr/authflow/event"
	"github.com/gelozr/authflow/log"
	"github.com/gelozr/authflow/metrics"
	"github.com/gelozr/authflow/session"
	"github.com/gelozr/authflow/storage"
)

type App struct {
	Config   *config.Config
	Logger   log.Logger
	Storage  *storage.Scoped
	Bus      *auth.Bus
	Registry *auth.Registry
	Window   *browser.Window
	State    *auth.State
	Service  *auth.Service
	Metrics  *metrics.Collector

	backend storage.Backend
	closers []func() error
}

type options struct {
	href        string
	out         io.Writer
	logger      log.Logger
	backend     storage.Backend
	api         auth.SessionAPI
	credentials auth.CredentialsFunc
	registerer  prometheus.Registerer
}

type Option func(*options)

// WithHref sets the URL of the current page load. It defaults to the
// configured origin.
func WithHref(href string) Option {
	return func(o *options) { o.href = href }
}

// WithOutput receives every navigation, one URL per line.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBackend replaces the configured storage backend. The App does not
// close it.
func WithBackend(b storage.Backend) Option {
	return func(o *options) { o.backend = b }
}

func WithSessionAPI(api auth.SessionAPI) Option {
	return func(o *options) { o.api = api }
}

// WithCredentials supplies credentials to password providers. Without it a
// password provider cannot be built.
func WithCredentials(fn auth.CredentialsFunc) Option {
	return func(o *options) { o.credentials = fn }
}

// WithRegisterer registers the lifecycle metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New builds the application and runs the page-load startup: the persisted
// state is read and AuthStateInitialized is published. Call Settle to wait
// for the resulting checks.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	o := options{href: strings.TrimRight(cfg.Origin, "/") + "/"}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Logger = o.logger
	if a.Logger == nil {
		l, err := log.NewSlogLogger(cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		a.Logger = l
		a.closers = append(a.closers, l.Close)
	}

	a.backend = o.backend
	if a.backend == nil {
		b, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.backend = b
		a.closers = append(a.closers, b.Close)
	}
	a.Storage = storage.NewScoped(a.backend, cfg.Storage.Prefix)

	a.Window, err = browser.NewWindow(o.href, o.out)
	if err != nil {
		return nil, fmt.Errorf("page location: %w", err)
	}

	api := o.api
	if api == nil {
		c, err := session.New(cfg.API.BaseURL,
			session.WithTimeout(cfg.API.Timeout),
			session.WithLogger(a.Logger))
		if err != nil {
			return nil, err
		}
		api = c
	}

	a.Registry = buildRegistry(cfg.Providers, a.Storage, a.Window, o.credentials, a.Logger)

	logger := a.Logger
	a.Bus = auth.NewBus(event.WithErrorHandler(func(ctx context.Context, err error) {
		logger.ErrorContext(ctx, "event handler failed", "error", err)
	}))
	a.closers = append(a.closers, func() error { a.Bus.Close(); return nil })

	a.Metrics = metrics.NewCollector()
	if o.registerer != nil {
		if err := a.Metrics.Register(o.registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	a.Metrics.Attach(a.Bus)

	a.State = auth.NewState(ctx, a.Bus, a.Storage, a.Logger)
	a.Service = auth.NewService(a.Bus, a.Registry, a.State, a.Storage, api, a.Logger)

	return a, nil
}

// Settle waits until every published event has been handled.
func (a *App) Settle(ctx context.Context) error {
	return a.Bus.Wait(ctx)
}

// Close tears the application down in reverse build order.
func (a *App) Close() error {
	if a.Service != nil {
		a.Service.Close()
	}
	if a.State != nil {
		a.State.Close()
	}
	if a.Metrics != nil {
		a.Metrics.Close()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildRegistry(providers []config.Provider, st auth.Storage, loc browser.Location, creds auth.CredentialsFunc, logger log.Logger) *auth.Registry {
	opts := make([]auth.RegistryOption, 0, len(providers))
	for _, p := range providers {
		p := p
		switch strings.ToLower(p.Kind) {
		case config.KindGuest:
			opts = append(opts, auth.WithProvider(p.ID, auth.GuestProvider{}))
		case config.KindPassword:
			opts = append(opts, auth.WithFactory(p.ID, func() (auth.Provider, error) {
				return auth.NewPasswordProvider(creds)
			}))
		case config.KindGoogle:
			opts = append(opts, auth.WithFactory(p.ID, func() (auth.Provider, error) {
				return oauth.NewGoogle(p.ClientID, st, loc, logger)
			}))
		default:
			opts = append(opts, auth.WithFactory(p.ID, func() (auth.Provider, error) {
				return oauth.New(oauth.Config{
					Endpoint: p.Endpoint,
					ClientID: p.ClientID,
					Scope:    p.Scope,
					Prompt:   p.Prompt,
				}, st, loc, logger)
			}))
		}
	}
	return auth.NewRegistry(opts...)
}
