package portability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// IdentityClient reads stored data portability grants from the identity
// service.
type IdentityClient struct {
	baseURL string
	http    *http.Client
	retry   RetryPolicy
}

func NewIdentityClient(baseURL string, httpClient *http.Client, retry RetryPolicy) *IdentityClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &IdentityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		retry:   retry.withDefaults(),
	}
}

type storedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (c *IdentityClient) Token(ctx context.Context, userID string) (*oauth2.Token, error) {
	endpoint := c.baseURL + "/internal/users/" + url.PathEscape(userID) + "/tokens/data-portability"

	var stored storedToken
	if err := doJSON(ctx, c.http, c.retry, http.MethodGet, endpoint, nil, &stored); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: user %s", ErrTokenNotFound, userID)
		}
		return nil, fmt.Errorf("fetch token for user %s: %w", userID, err)
	}
	if stored.AccessToken == "" && stored.RefreshToken == "" {
		return nil, fmt.Errorf("%w: user %s", ErrTokenNotFound, userID)
	}

	return &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Expiry:       stored.ExpiresAt,
	}, nil
}
