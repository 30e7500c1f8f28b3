// Package devserver is a development implementation of the remote session
// API: it authenticates provider states, keeps users, and issues JWT access
// tokens.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gelozr/authflow/auth"
	"github.com/gelozr/authflow/auth/oauth"
	"github.com/gelozr/authflow/hash"
	"github.com/gelozr/authflow/log"
	"github.com/gelozr/authflow/session"
	"github.com/gelozr/authflow/storage"
)

type SeedUser struct {
	Email    string `yaml:"email"`
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	RedirectURL  string `yaml:"redirect_url" env:"REDIRECT_URL"`
}

type Config struct {
	Addr       string        `yaml:"addr" env:"ADDR"`
	JWTSecret  string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL   time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	HashMethod string        `yaml:"hash_method" env:"HASH_METHOD"`

	// Storage holds the user records; memory when the driver is empty.
	Storage storage.Config `yaml:"storage" envPrefix:"STORAGE_"`

	Users []SeedUser `yaml:"users"`

	// GoogleCodes, when set, replaces the real code exchange for GOOGLE.
	GoogleCodes map[string]string `yaml:"google_codes"`
	Google      GoogleConfig      `yaml:"google" envPrefix:"GOOGLE_"`
}

type Server struct {
	users          *Users
	tokens         *Tokens
	authenticators map[string]Authenticator
	routes         []func(chi.Router)
	logger         log.Logger
}

type Option func(*Server)

// WithAuthenticator registers a for providerID, replacing any built-in one.
func WithAuthenticator(providerID string, a Authenticator) Option {
	return func(s *Server) { s.authenticators[providerID] = a }
}

// WithRoutes mounts extra routes next to the session API.
func WithRoutes(fn func(chi.Router)) Option {
	return func(s *Server) { s.routes = append(s.routes, fn) }
}

// New builds the server over backend. GUEST and PASSWORD are always
// available. GOOGLE is available with GoogleCodes or Google credentials.
func New(ctx context.Context, cfg Config, backend storage.Backend, logger log.Logger, opts ...Option) (*Server, error) {
	hasher, err := hash.New(hash.Method(cfg.HashMethod))
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	tokens, err := NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	users := NewUsers(backend)
	for _, su := range cfg.Users {
		if su.Email == "" || su.Password == "" {
			return nil, errors.New("seed users need an email and a password")
		}
		h, err := hasher.Hash(su.Password)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", su.Email, err)
		}
		if _, err := users.Put(ctx, UserRecord{Email: su.Email, Name: su.Name, PasswordHash: h}); err != nil {
			return nil, err
		}
	}

	s := &Server{
		users:  users,
		tokens: tokens,
		authenticators: map[string]Authenticator{
			auth.GuestProviderID:    Guest(),
			auth.PasswordProviderID: Password{Users: users, Hasher: hasher},
		},
		logger: log.Or(logger).With("component", "devserver"),
	}

	switch {
	case len(cfg.GoogleCodes) > 0:
		s.authenticators[oauth.GoogleProviderID] = OAuthCode{Exchanger: StaticCodes(cfg.GoogleCodes)}
	case cfg.Google.ClientID != "" && cfg.Google.ClientSecret != "":
		s.authenticators[oauth.GoogleProviderID] = OAuthCode{
			Exchanger: NewGoogleExchanger(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL),
		}
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Server) Users() *Users { return s.users }

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post(session.LoginPath, s.login)
	r.Get(session.LoginStatusPath, s.loginStatus)

	for _, fn := range s.routes {
		fn(r)
	}

	return r
}

// Run serves until ctx is done, then shuts down gracefully. When ready is
// non-nil the bound base URL is sent on it.
func (s *Server) Run(ctx context.Context, addr string, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("devserver listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("devserver stopped")
	return nil
}

type loginRequest struct {
	AuthProviderID string          `json:"authProviderId"`
	State          json.RawMessage `json:"state"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "error decoding request body")
		return
	}
	ctx = log.ContextWith(ctx, "provider_id", req.AuthProviderID)

	a, ok := s.authenticators[req.AuthProviderID]
	if !ok {
		s.logger.WarnContext(ctx, "login with unsupported provider")
		writeError(w, http.StatusBadRequest, ErrUnsupportedProvider.Error())
		return
	}

	email, err := a.Authenticate(ctx, req.State)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.logger.InfoContext(ctx, "login rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.logger.ErrorContext(ctx, "authenticate", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, err := s.users.FindOrCreate(ctx, email)
	if err != nil {
		s.logger.ErrorContext(ctx, "find or create user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.issue(ctx, w, user)
}

func (s *Server) loginStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.Header.Get(session.TokenHeader)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}

	claims, err := s.tokens.Parse(token)
	if err != nil {
		s.logger.InfoContext(ctx, "rejected access token", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid access token")
		return
	}

	user, err := s.users.Get(ctx, claims.UserID)
	if errors.Is(err, ErrUserNotFound) {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "get user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.issue(ctx, w, user)
}

func (s *Server) issue(ctx context.Context, w http.ResponseWriter, user UserRecord) {
	token, _, err := s.tokens.Sign(user.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "sign token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.InfoContext(ctx, "session issued", "user_id", user.ID)
	writeJSON(w, http.StatusOK, auth.Session{User: user.Public(), AccessToken: token})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.ContextWith(r.Context(), "request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		s.logger.DebugContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
