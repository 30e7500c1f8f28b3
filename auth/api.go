package auth

import "context"

type User struct {
	ID    string `json:"uuid"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Session is the body returned by both the login and the status endpoints.
type Session struct {
	User        User   `json:"user"`
	AccessToken string `json:"accessToken"`
}

// SessionAPI is the remote session-validation endpoint. Errors should
// implement APIError; anything else is treated as UNKNOWN_ERROR.
type SessionAPI interface {
	Login(ctx context.Context, providerID string, state any) (Session, error)
	LoginStatus(ctx context.Context, accessToken string) (Session, error)
}
