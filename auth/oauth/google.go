package oauth

import (
	"github.com/gelozr/authflow/auth"
	"github.com/gelozr/authflow/browser"
	"github.com/gelozr/authflow/log"
)

const (
	GoogleProviderID = "GOOGLE"
	GoogleEndpoint   = "https://accounts.google.com/o/oauth2/v2/auth"
)

// NewGoogle returns the Google redirect provider. It asks for the email scope
// and always lets the user pick an account.
func NewGoogle(clientID string, storage auth.Storage, location browser.Location, logger log.Logger) (*Provider, error) {
	return New(Config{
		Endpoint: GoogleEndpoint,
		ClientID: clientID,
		Scope:    "email",
		Prompt:   "select_account",
	}, storage, location, logger)
}
