// Package oauth exchanges provider callback codes for normalized user
// profiles. Only Google and Facebook are built in, matching the accounts
// the engine knows how to upsert; the wire details live entirely in
// golang.org/x/oauth2.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	// ProviderGoogle is the provider key for Google sign-in.
	ProviderGoogle = "google"
	// ProviderFacebook is the provider key for Facebook sign-in.
	ProviderFacebook = "facebook"
)

// ErrUnknownProvider is returned for providers the client was not configured with.
var ErrUnknownProvider = errors.New("oauth: unknown provider")

// Profile is the normalized identity a provider vouches for.
type Profile struct {
	Provider   string
	ProviderID string
	Email      string
	Name       string
	AvatarURL  string
}

// ProviderConfig is the app registration for one provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type provider struct {
	config   *oauth2.Config
	userInfo string
	decode   func([]byte) (Profile, error)
}

// Client holds the configured providers. Zero providers is valid; every
// call then fails with ErrUnknownProvider.
type Client struct {
	providers map[string]provider
}

// NewClient builds a client from per-provider registrations. A zero-value
// ProviderConfig disables that provider.
func NewClient(google, facebook ProviderConfig) *Client {
	c := &Client{providers: make(map[string]provider, 2)}

	if google.ClientID != "" {
		c.providers[ProviderGoogle] = provider{
			config: &oauth2.Config{
				ClientID:     google.ClientID,
				ClientSecret: google.ClientSecret,
				RedirectURL:  google.RedirectURL,
				Scopes:       []string{"openid", "email", "profile"},
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://accounts.google.com/o/oauth2/auth",
					TokenURL: "https://oauth2.googleapis.com/token",
				},
			},
			userInfo: "https://www.googleapis.com/oauth2/v2/userinfo",
			decode:   decodeGoogle,
		}
	}

	if facebook.ClientID != "" {
		c.providers[ProviderFacebook] = provider{
			config: &oauth2.Config{
				ClientID:     facebook.ClientID,
				ClientSecret: facebook.ClientSecret,
				RedirectURL:  facebook.RedirectURL,
				Scopes:       []string{"email", "public_profile"},
				Endpoint: oauth2.Endpoint{
					AuthURL:  "https://www.facebook.com/v18.0/dialog/oauth",
					TokenURL: "https://graph.facebook.com/v18.0/oauth/access_token",
				},
			},
			userInfo: "https://graph.facebook.com/me?fields=id,name,email,picture.type(large)",
			decode:   decodeFacebook,
		}
	}

	return c
}

// AuthCodeURL returns the provider consent URL for the given CSRF state.
func (c *Client) AuthCodeURL(providerName, state string) (string, error) {
	p, ok := c.providers[providerName]
	if !ok {
		return "", ErrUnknownProvider
	}
	return p.config.AuthCodeURL(state), nil
}

// ExchangeProfile redeems a callback code and fetches the user profile in
// one step.
func (c *Client) ExchangeProfile(ctx context.Context, providerName, code string) (*Profile, error) {
	p, ok := c.providers[providerName]
	if !ok {
		return nil, ErrUnknownProvider
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth: exchange: %w", err)
	}
	return c.fetchProfile(ctx, p, providerName, token)
}

func (c *Client) fetchProfile(ctx context.Context, p provider, providerName string, token *oauth2.Token) (*Profile, error) {
	resp, err := p.config.Client(ctx, token).Get(p.userInfo)
	if err != nil {
		return nil, fmt.Errorf("oauth: userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oauth: userinfo status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("oauth: userinfo read: %w", err)
	}

	profile, err := p.decode(body)
	if err != nil {
		return nil, err
	}
	profile.Provider = providerName
	if profile.ProviderID == "" {
		return nil, errors.New("oauth: provider returned no account id")
	}
	return &profile, nil
}

func decodeGoogle(data []byte) (Profile, error) {
	var tmp struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return Profile{}, fmt.Errorf("oauth: decode google userinfo: %w", err)
	}
	return Profile{ProviderID: tmp.ID, Email: tmp.Email, Name: tmp.Name, AvatarURL: tmp.Picture}, nil
}

func decodeFacebook(data []byte) (Profile, error) {
	var tmp struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := json.Unmarshal(data, &tmp); err != nil {
		return Profile{}, fmt.Errorf("oauth: decode facebook userinfo: %w", err)
	}
	return Profile{ProviderID: tmp.ID, Email: tmp.Email, Name: tmp.Name, AvatarURL: tmp.Picture.Data.URL}, nil
}
