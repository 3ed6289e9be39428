package tiltify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rafflebot/internal/donation"
)

func newServer(t *testing.T, campaign http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var tokens atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("client_id") != "id" || r.Form.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":7200,"refresh_token":"ref"}`))
	})
	if campaign != nil {
		mux.HandleFunc(campaignPath+"c-1", campaign)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokens
}

func TestAuthorizeAndFetch(t *testing.T) {
	t.Parallel()
	srv, tokens := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"id":"c-1","total_amount_raised":{"currency":"USD","value":"260.50"}}}`))
	})
	c := New(Config{ClientID: "id", ClientSecret: "secret", BaseURL: srv.URL}, srv.Client())

	tok, err := c.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)
	assert.Equal(t, "ref", tok.RefreshToken)
	assert.EqualValues(t, 1, tokens.Load())

	total, err := c.FetchCampaignTotal(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, donation.Total{Raised: "260.50", Currency: "USD"}, total)
}

func TestAuthorizeRejected(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, nil)
	c := New(Config{ClientID: "id", ClientSecret: "wrong", BaseURL: srv.URL}, srv.Client())

	_, err := c.Authorize(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, donation.ErrTokenExpired)
}

func TestFetchWithoutTokenIsExpired(t *testing.T) {
	t.Parallel()
	c := New(Config{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := c.FetchCampaignTotal(context.Background(), "c-1")
	assert.ErrorIs(t, err, donation.ErrTokenExpired)
}

func TestUnauthorizedMapsToTokenExpired(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := New(Config{BaseURL: srv.URL}, srv.Client())
	c.SetToken(donation.Token{AccessToken: "stale", Expiry: time.Now().Add(time.Hour)})

	_, err := c.FetchCampaignTotal(context.Background(), "c-1")
	assert.ErrorIs(t, err, donation.ErrTokenExpired)

	// The stale token is dropped.
	_, err = c.FetchCampaignTotal(context.Background(), "c-1")
	assert.ErrorIs(t, err, donation.ErrTokenExpired)
}

func TestServerErrorIsNotTokenExpiry(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := New(Config{BaseURL: srv.URL}, srv.Client())
	c.SetToken(donation.Token{AccessToken: "ok"})

	_, err := c.FetchCampaignTotal(context.Background(), "c-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, donation.ErrTokenExpired)
}

func TestParseCampaign(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		want    donation.Total
		wantErr bool
	}{
		{name: "total", body: `{"data":{"total_amount_raised":{"currency":"EUR","value":"12.00"}}}`, want: donation.Total{Raised: "12.00", Currency: "EUR"}},
		{name: "fallback fields", body: `{"data":{"amount_raised":{"value":"5"},"currency_code":"USD"}}`, want: donation.Total{Raised: "5", Currency: "USD"}},
		{name: "missing value", body: `{"data":{}}`, want: donation.Total{}},
		{name: "no data", body: `{"error":"x"}`, wantErr: true},
		{name: "garbage", body: `{{`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCampaign([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
