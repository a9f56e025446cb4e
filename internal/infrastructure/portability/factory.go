package portability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
)

const StarredPlacesScope = "https://www.googleapis.com/auth/dataportability.maps.starred_places"

type TokenProvider interface {
	Token(ctx context.Context, userID string) (*oauth2.Token, error)
}

type FactoryConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// HTTPClient is the transport underneath the OAuth2 client. It is also
	// used for token refreshes.
	HTTPClient *http.Client
	Retry      RetryPolicy
	CacheSize  int
	CacheTTL   time.Duration
}

// Factory builds per-user clients and keeps them for CacheTTL so a saga
// does not hit the identity service for every message.
type Factory struct {
	tokens  TokenProvider
	oauth   *oauth2.Config
	cfg     FactoryConfig
	clients *expirable.LRU[string, *Client]
}

func NewFactory(tokens TokenProvider, cfg FactoryConfig) *Factory {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Factory{
		tokens: tokens,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoints.Google,
			Scopes:       []string{StarredPlacesScope},
		},
		cfg:     cfg,
		clients: expirable.NewLRU[string, *Client](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

func (f *Factory) Create(ctx context.Context, userID string) (app.ArchiveService, error) {
	if client, ok := f.clients.Get(userID); ok {
		return client, nil
	}

	token, err := f.tokens.Token(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create archive service: %w", err)
	}

	// The token source outlives this call and refreshes on later requests.
	base := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, f.cfg.HTTPClient)
	httpClient := oauth2.NewClient(base, f.oauth.TokenSource(base, token))
	httpClient.Timeout = f.cfg.HTTPClient.Timeout

	client := NewClient(f.cfg.BaseURL, httpClient, f.cfg.Retry)
	f.clients.Add(userID, client)
	return client, nil
}
