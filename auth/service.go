package auth

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/gelozr/authflow/log"
)

// Service coordinates providers, the remote session API and the event bus.
type Service struct {
	bus      *Bus
	registry *Registry
	state    *State
	storage  Storage
	api      SessionAPI
	logger   log.Logger

	checks      singleflight.Group
	unsubscribe func()
}

// NewService wires the orchestrator and subscribes it to bus for the rest of
// the application session.
func NewService(bus *Bus, registry *Registry, state *State, storage Storage, api SessionAPI, logger log.Logger) *Service {
	s := &Service{
		bus:      bus,
		registry: registry,
		state:    state,
		storage:  storage,
		api:      api,
		logger:   log.Or(logger).With("component", "auth_service"),
	}
	s.unsubscribe = bus.Subscribe(s.handleEvent)
	return s
}

// Close stops reacting to events.
func (s *Service) Close() {
	s.unsubscribe()
}

// TryAuthAndLogin starts an authentication attempt with the given provider.
// A successful provider result is turned into a login by the event handler;
// redirecting providers return nil right away and finish on a later page
// load. Every failure is both published as AuthFailed and returned.
func (s *Service) TryAuthAndLogin(ctx context.Context, providerID string) error {
	ctx = log.ContextWith(ctx, "provider_id", providerID)

	p, err := s.registry.Provider(providerID)
	if err != nil {
		s.publish(ctx, AuthFailed{ProviderID: providerID, Code: CodeOf(err)})
		return err
	}

	if err := s.storage.SetItem(ctx, KeyLastProviderID, providerID); err != nil {
		s.publish(ctx, AuthFailed{ProviderID: providerID, Code: CodeUnknown})
		return &ProviderError{ProviderID: providerID, Code: CodeUnknown, Err: ErrAuthFailed, Cause: fmt.Errorf("store pending provider: %w", err)}
	}

	res, err := p.TryAuth(ctx)
	if err != nil {
		s.publish(ctx, AuthFailed{ProviderID: providerID, Code: CodeUnknown})
		return &ProviderError{ProviderID: providerID, Code: CodeUnknown, Err: ErrAuthFailed, Cause: err}
	}

	return s.handleResult(ctx, providerID, res)
}

// CheckAuthState reconciles local state with the remote session: a stored
// access token is validated remotely, otherwise a pending provider attempt is
// verified. Concurrent calls share one check.
func (s *Service) CheckAuthState(ctx context.Context) error {
	_, err, _ := s.checks.Do("check", func() (any, error) {
		return nil, s.checkAuthState(ctx)
	})
	return err
}

// Logout ends the local session. Revoking the token remotely is up to the
// caller.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.bus.Publish(ctx, LoggedOut{Reason: UserLogout}); err != nil {
		return fmt.Errorf("publish logged out: %w", err)
	}
	return nil
}

func (s *Service) handleEvent(ctx context.Context, evt Event) error {
	switch e := evt.(type) {
	case AuthStateInitialized:
		return s.CheckAuthState(ctx)
	case AuthFailed:
		s.clearPendingProvider(ctx)
	case AuthSucceeded:
		s.clearPendingProvider(ctx)
		s.login(log.ContextWith(ctx, "provider_id", e.ProviderID), e.ProviderID, e.State)
	}
	return nil
}

func (s *Service) checkAuthState(ctx context.Context) error {
	if token := s.state.AccessToken(); token != "" {
		s.verifyLoginStatus(ctx, token)
		return nil
	}

	providerID, ok, err := s.storage.GetItem(ctx, KeyLastProviderID)
	if err != nil {
		s.logger.ErrorContext(ctx, "read pending provider", "error", err)
		return nil
	}
	if !ok || providerID == "" {
		return nil
	}

	s.verifyLastAttempt(log.ContextWith(ctx, "provider_id", providerID), providerID)
	return nil
}

func (s *Service) verifyLoginStatus(ctx context.Context, token string) {
	sess, err := s.api.LoginStatus(ctx, token)
	if err != nil {
		s.logger.InfoContext(ctx, "session check failed", "code", CodeOf(err), "error", err)
		s.publish(ctx, LoggedOut{Reason: SessionExpired})
		return
	}
	s.publish(ctx, LoggedIn{User: sess.User, AccessToken: sess.AccessToken})
}

func (s *Service) verifyLastAttempt(ctx context.Context, providerID string) {
	p, err := s.registry.Provider(providerID)
	if err != nil {
		s.logger.ErrorContext(ctx, "resolve pending provider", "error", err)
		s.publish(ctx, AuthFailed{ProviderID: providerID, Code: CodeOf(err)})
		return
	}

	res, err := p.Verify(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "verify pending attempt", "error", err)
		s.publish(ctx, AuthFailed{ProviderID: providerID, Code: CodeUnknown})
		return
	}

	if err := s.handleResult(ctx, providerID, res); err != nil {
		s.logger.InfoContext(ctx, "pending attempt rejected", "error", err)
	}
}

// handleResult maps a provider result onto the bus. Postponed and NoAuth
// publish nothing.
func (s *Service) handleResult(ctx context.Context, providerID string, res Result) error {
	switch res.Status {
	case StatusSucceeded:
		s.publish(ctx, AuthSucceeded{ProviderID: providerID, State: res.State})
	case StatusFailed:
		code := res.Code
		if code == "" {
			code = CodeUnknown
		}
		s.publish(ctx, AuthFailed{ProviderID: providerID, Code: code})
		return &ProviderError{ProviderID: providerID, Code: code, Err: ErrAuthFailed}
	}
	return nil
}

func (s *Service) login(ctx context.Context, providerID string, state any) {
	sess, err := s.api.Login(ctx, providerID, state)
	if err != nil {
		s.logger.InfoContext(ctx, "login failed", "code", CodeOf(err), "error", err)
		s.publish(ctx, LogInFailed{Code: CodeOf(err)})
		return
	}
	s.publish(ctx, LoggedIn{User: sess.User, AccessToken: sess.AccessToken})
}

func (s *Service) clearPendingProvider(ctx context.Context) {
	if err := s.storage.RemoveItem(ctx, KeyLastProviderID); err != nil {
		s.logger.ErrorContext(ctx, "clear pending provider", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logger.ErrorContext(ctx, "publish event", "event", evt.Type(), "error", err)
	}
}
