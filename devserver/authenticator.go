package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gelozr/authflow/auth"
	"github.com/gelozr/authflow/auth/oauth"
	"github.com/gelozr/authflow/hash"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUnsupportedProvider = errors.New("unsupported auth provider")
)

// Authenticator checks the state a client provider produced. It returns the
// verified email, or "" for an anonymous user.
type Authenticator interface {
	Authenticate(ctx context.Context, state json.RawMessage) (email string, err error)
}

type AuthenticatorFunc func(ctx context.Context, state json.RawMessage) (string, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, state json.RawMessage) (string, error) {
	return f(ctx, state)
}

// Guest accepts anything and yields an anonymous user.
func Guest() Authenticator {
	return AuthenticatorFunc(func(context.Context, json.RawMessage) (string, error) {
		return "", nil
	})
}

// Password checks auth.PasswordCredentials against stored user hashes.
type Password struct {
	Users  *Users
	Hasher hash.Hasher
}

func (p Password) Authenticate(ctx context.Context, state json.RawMessage) (string, error) {
	var creds auth.PasswordCredentials
	if err := json.Unmarshal(state, &creds); err != nil || creds.Email == "" {
		return "", ErrUnauthorized
	}

	rec, err := p.Users.FindByEmail(ctx, creds.Email)
	if errors.Is(err, ErrUserNotFound) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", err
	}
	if rec.PasswordHash == "" {
		return "", ErrUnauthorized
	}

	ok, err := p.Hasher.Check(creds.Password, rec.PasswordHash)
	if err != nil {
		return "", fmt.Errorf("check password: %w", err)
	}
	if !ok {
		return "", ErrUnauthorized
	}

	return rec.Email, nil
}

// OAuthCode exchanges the authorization code in an oauth.State.
type OAuthCode struct {
	Exchanger CodeExchanger
}

func (o OAuthCode) Authenticate(ctx context.Context, state json.RawMessage) (string, error) {
	var st oauth.State
	if err := json.Unmarshal(state, &st); err != nil || st.AuthCode == "" {
		return "", ErrUnauthorized
	}
	return o.Exchanger.Exchange(ctx, st.AuthCode)
}
