package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	GoogleTokenURL    = "https://oauth2.googleapis.com/token"
	GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// CodeExchanger turns an authorization code into the account's email.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) (email string, err error)
}

// StaticCodes maps fixed dev codes to emails.
type StaticCodes map[string]string

func (s StaticCodes) Exchange(_ context.Context, code string) (string, error) {
	email, ok := s[code]
	if !ok {
		return "", ErrUnauthorized
	}
	return email, nil
}

// OAuth2Exchanger redeems the code at the token endpoint and reads the email
// from the userinfo endpoint.
type OAuth2Exchanger struct {
	Config      *oauth2.Config
	UserInfoURL string

	// HTTPClient is used for both calls when set.
	HTTPClient *http.Client
}

func NewGoogleExchanger(clientID, clientSecret, redirectURL string) *OAuth2Exchanger {
	return &OAuth2Exchanger{
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL:  GoogleTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		UserInfoURL: GoogleUserInfoURL,
	}
}

func (e *OAuth2Exchanger) Exchange(ctx context.Context, code string) (string, error) {
	if e.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.HTTPClient)
	}

	tok, err := e.Config.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return "", fmt.Errorf("%w: %s", ErrUnauthorized, re.ErrorCode)
		}
		return "", fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.UserInfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.Config.Client(ctx, tok).Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo: unexpected status %d", resp.StatusCode)
	}

	var info struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	if strings.TrimSpace(info.Email) == "" {
		return "", ErrUnauthorized
	}
	if info.EmailVerified != nil && !*info.EmailVerified {
		return "", fmt.Errorf("%w: email not verified", ErrUnauthorized)
	}

	return info.Email, nil
}
