// Package session is the HTTP client for the remote session API: exchanging a
// provider's auth state for a session, and validating a stored access token.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/gelozr/authflow/auth"
	"github.com/gelozr/authflow/log"
)

const (
	LoginPath       = "/login"
	LoginStatusPath = "/login/status"
	TokenHeader     = "X-Api-Token"

	tracerName = "github.com/gelozr/authflow/session"
)

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	AuthProviderID string `json:"authProviderId"`
	State          any    `json:"state"`
}

// Error is returned for every failed call. Code is LOGIN_UNAUTHORIZED for a
// 401 and UNKNOWN_ERROR otherwise.
type Error struct {
	Op     string
	Status int // 0 when no response was received
	Code   auth.ErrorCode
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("session ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": http %d", e.Status)
	}
	b.WriteString(" (")
	b.WriteString(string(e.Code))
	b.WriteString(")")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrorCode() auth.ErrorCode { return e.Code }

type Client struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     log.Logger
}

var _ auth.SessionAPI = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.httpClient = &http.Client{Timeout: d} }
}

func WithTracer(t trace.Tracer) Option {
	return func(cl *Client) { cl.tracer = t }
}

func WithLogger(l log.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api base url %q is not absolute", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.Or(c.logger).With("component", "session_client")
	return c, nil
}

// Login exchanges a provider's auth state for a session.
func (c *Client) Login(ctx context.Context, providerID string, state any) (auth.Session, error) {
	ctx, span := c.tracer.Start(ctx, "session.Login",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("auth.provider_id", providerID)))
	defer span.End()

	body, err := json.Marshal(LoginRequest{AuthProviderID: providerID, State: state})
	if err != nil {
		return auth.Session{}, c.fail(span, &Error{Op: "login", Code: auth.CodeUnknown, Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+LoginPath, bytes.NewReader(body))
	if err != nil {
		return auth.Session{}, c.fail(span, &Error{Op: "login", Code: auth.CodeUnknown, Err: err})
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(ctx, span, "login", req)
}

// LoginStatus validates accessToken and returns the current session. The
// server may return a refreshed token.
func (c *Client) LoginStatus(ctx context.Context, accessToken string) (auth.Session, error) {
	ctx, span := c.tracer.Start(ctx, "session.LoginStatus",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+LoginStatusPath, nil)
	if err != nil {
		return auth.Session{}, c.fail(span, &Error{Op: "login status", Code: auth.CodeUnknown, Err: err})
	}
	req.Header.Set(TokenHeader, accessToken)

	return c.do(ctx, span, "login status", req)
}

func (c *Client) do(ctx context.Context, span trace.Span, op string, req *http.Request) (auth.Session, error) {
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return auth.Session{}, c.fail(span, &Error{Op: op, Code: auth.CodeUnknown, Err: err})
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := auth.CodeUnknown
		if resp.StatusCode == http.StatusUnauthorized {
			code = auth.CodeLoginUnauthorized
		}
		return auth.Session{}, c.fail(span, &Error{
			Op:     op,
			Status: resp.StatusCode,
			Code:   code,
			Err:    errors.New(readMessage(resp.Body)),
		})
	}

	var sess auth.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return auth.Session{}, c.fail(span, &Error{Op: op, Status: resp.StatusCode, Code: auth.CodeUnknown, Err: fmt.Errorf("decode session: %w", err)})
	}
	if sess.AccessToken == "" {
		return auth.Session{}, c.fail(span, &Error{Op: op, Status: resp.StatusCode, Code: auth.CodeUnknown, Err: errors.New("response has no access token")})
	}

	return sess, nil
}

func (c *Client) fail(span trace.Span, err *Error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(err.Code))
	c.logger.Debug("session request failed", "op", err.Op, "status", err.Status, "code", err.Code, "error", err.Err)
	return err
}

// readMessage extracts {"message": ...} from an error body, falling back to
// the raw text.
func readMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return "empty response"
}
