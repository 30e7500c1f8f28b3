package auth

import (
	"context"
	"sync"

	"github.com/gelozr/authflow/log"
)

// State projects the event stream onto the current session: who is logged in
// and with which access token. Callers only read it; it changes solely in
// response to LoggedIn, LoggedOut and AccessTokenRefreshed.
//
// Memory and storage are driven by two separate subscriptions. The memory
// view is updated as soon as an event is delivered, while storage writes are
// applied one after another in publish order, so a slow write can delay
// persistence but can never overwrite a newer state.
type State struct {
	storage Storage
	logger  log.Logger

	mu          sync.RWMutex
	user        *User
	accessToken string

	unsubscribe []func()
}

// NewState subscribes to bus, loads the persisted access token and publishes
// AuthStateInitialized. A failed read is logged and treated as no token.
func NewState(ctx context.Context, bus *Bus, storage Storage, logger log.Logger) *State {
	s := &State{
		storage: storage,
		logger:  log.Or(logger).With("component", "auth_state"),
	}

	s.unsubscribe = append(s.unsubscribe,
		bus.Subscribe(s.project),
		bus.Subscribe(s.persist),
	)

	token, _, err := storage.GetItem(ctx, KeyAccessToken)
	if err != nil {
		s.logger.ErrorContext(ctx, "read persisted access token", "error", err)
		token = ""
	}

	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()

	if err := bus.Publish(ctx, AuthStateInitialized{}); err != nil {
		s.logger.ErrorContext(ctx, "publish auth state initialized", "error", err)
	}

	return s
}

func (s *State) IsLoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// User returns the logged in user or ErrNotLoggedIn.
func (s *State) User() (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return User{}, ErrNotLoggedIn
	}
	return *s.user, nil
}

// AccessToken may be set while no user is logged in: a token restored from
// storage is only trusted after the session check.
func (s *State) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// Close stops following the event stream.
func (s *State) Close() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
}

func (s *State) project(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := evt.(type) {
	case LoggedIn:
		u := e.User
		s.user = &u
		s.accessToken = e.AccessToken
	case LoggedOut:
		s.user = nil
		s.accessToken = ""
	case AccessTokenRefreshed:
		// Refreshing without a session is a no-op.
		if s.user != nil {
			s.accessToken = e.AccessToken
		}
	}
	return nil
}

func (s *State) persist(ctx context.Context, evt Event) error {
	switch e := evt.(type) {
	case LoggedIn:
		s.save(ctx, e.AccessToken)
	case AccessTokenRefreshed:
		if s.IsLoggedIn() {
			s.save(ctx, e.AccessToken)
		}
	case LoggedOut:
		if err := s.storage.Clear(ctx); err != nil {
			s.logger.ErrorContext(ctx, "clear auth storage", "reason", e.Reason, "error", err)
		}
	}
	return nil
}

func (s *State) save(ctx context.Context, token string) {
	if err := s.storage.SetItem(ctx, KeyAccessToken, token); err != nil {
		s.logger.ErrorContext(ctx, "persist access token", "error", err)
	}
}
