package auth

import (
	"context"
	"errors"
)

const (
	GuestProviderID    = "GUEST"
	PasswordProviderID = "PASSWORD"
)

// GuestProvider authenticates anonymously. The login endpoint creates a
// fresh user without an email for every guest login.
type GuestProvider struct{}

var _ Provider = GuestProvider{}

func (GuestProvider) TryAuth(context.Context) (Result, error) {
	return Succeeded(nil), nil
}

func (GuestProvider) Verify(context.Context) (Result, error) {
	return NoAuth(), nil
}

type PasswordCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CredentialsFunc supplies credentials when a password login starts, e.g. by
// prompting the user.
type CredentialsFunc func(ctx context.Context) (PasswordCredentials, error)

// PasswordProvider hands email/password credentials to the login endpoint
// without any redirect.
type PasswordProvider struct {
	credentials CredentialsFunc
}

var _ Provider = (*PasswordProvider)(nil)

func NewPasswordProvider(credentials CredentialsFunc) (*PasswordProvider, error) {
	if credentials == nil {
		return nil, errors.New("password provider needs a credentials source")
	}
	return &PasswordProvider{credentials: credentials}, nil
}

func (p *PasswordProvider) TryAuth(ctx context.Context) (Result, error) {
	creds, err := p.credentials(ctx)
	if err != nil {
		return Result{}, err
	}
	if creds.Email == "" || creds.Password == "" {
		return Failed(CodeUnauthorized), nil
	}
	return Succeeded(creds), nil
}

// Verify always reports NoAuth: password logins never span a page load.
func (p *PasswordProvider) Verify(context.Context) (Result, error) {
	return NoAuth(), nil
}
