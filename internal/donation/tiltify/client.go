// Package tiltify implements donation.Client against the Tiltify v5 public API.
package tiltify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"rafflebot/internal/donation"
)

const (
	DefaultBaseURL = "https://v5api.tiltify.com"
	tokenPath      = "/oauth/token"
	campaignPath   = "/api/public/team_campaigns/"
	maxBody        = 1 << 20
)

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Timeout      time.Duration
}

type Client struct {
	base  string
	creds clientcredentials.Config
	http  *http.Client

	mu    sync.RWMutex
	token *oauth2.Token
}

var _ donation.Client = (*Client)(nil)

func New(cfg Config, hc *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base: base,
		http: hc,
		creds: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     base + tokenPath,
			Scopes:       []string{"public"},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
	}
}

// SetToken seeds a previously persisted token. Empty access tokens are ignored.
func (c *Client) SetToken(tok donation.Token) {
	if strings.TrimSpace(tok.AccessToken) == "" {
		return
	}
	c.mu.Lock()
	c.token = &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       tok.Expiry,
	}
	c.mu.Unlock()
}

func (c *Client) Authorize(ctx context.Context) (donation.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.creds.Token(ctx)
	if err != nil {
		return donation.Token{}, fmt.Errorf("tiltify authorize: %w", err)
	}
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
	return donation.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

func (c *Client) FetchCampaignTotal(ctx context.Context, campaignID string) (donation.Total, error) {
	c.mu.RLock()
	tok := c.token
	c.mu.RUnlock()
	if tok == nil || !tok.Valid() {
		return donation.Total{}, donation.ErrTokenExpired
	}

	id := strings.TrimSpace(campaignID)
	if id == "" {
		return donation.Total{}, errors.New("tiltify: empty campaign id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+campaignPath+url.PathEscape(id), nil)
	if err != nil {
		return donation.Total{}, err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return donation.Total{}, fmt.Errorf("tiltify fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return donation.Total{}, fmt.Errorf("tiltify read: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.mu.Lock()
		c.token = nil
		c.mu.Unlock()
		return donation.Total{}, donation.ErrTokenExpired
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return donation.Total{}, fmt.Errorf("tiltify fetch: status %d", resp.StatusCode)
	}
	return parseCampaign(body)
}

func parseCampaign(body []byte) (donation.Total, error) {
	if !gjson.ValidBytes(body) {
		return donation.Total{}, errors.New("tiltify: invalid json")
	}
	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return donation.Total{}, errors.New("tiltify: missing data")
	}
	raised := data.Get("total_amount_raised.value")
	if !raised.Exists() {
		raised = data.Get("amount_raised.value")
	}
	currency := data.Get("total_amount_raised.currency").String()
	if currency == "" {
		currency = data.Get("currency_code").String()
	}
	return donation.Total{Raised: raised.String(), Currency: currency}, nil
}
