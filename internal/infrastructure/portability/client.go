package portability

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
)

const (
	DefaultBaseURL = "https://dataportability.googleapis.com/v1"

	starredPlacesResource = "maps.starred_places"
)

// Client talks to the Data Portability API on behalf of one user. The HTTP
// client it is given is expected to attach that user's credentials.
type Client struct {
	baseURL string
	http    *http.Client
	retry   RetryPolicy
}

func NewClient(baseURL string, httpClient *http.Client, retry RetryPolicy) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		retry:   retry.withDefaults(),
	}
}

type initiateRequest struct {
	Resources []string `json:"resources"`
	StartTime string   `json:"startTime,omitempty"`
	EndTime   string   `json:"endTime,omitempty"`
}

type initiateResponse struct {
	ArchiveJobID string `json:"archiveJobId"`
}

type archiveStateResponse struct {
	State string   `json:"state"`
	URLs  []string `json:"urls"`
}

func (c *Client) Initiate(ctx context.Context, period domain.Period) (string, error) {
	req := initiateRequest{Resources: []string{starredPlacesResource}}
	if !period.IsAllTime() {
		req.StartTime = period.Start.UTC().Format(time.RFC3339)
	}
	if !period.End.IsZero() {
		req.EndTime = period.End.UTC().Format(time.RFC3339)
	}

	var resp initiateResponse
	if err := doJSON(ctx, c.http, c.retry, http.MethodPost, c.baseURL+"/portabilityArchive:initiate", req, &resp); err != nil {
		return "", fmt.Errorf("initiate archive: %w", err)
	}
	if strings.TrimSpace(resp.ArchiveJobID) == "" {
		return "", ErrMissingArchiveJobID
	}
	return resp.ArchiveJobID, nil
}

func (c *Client) CheckJob(ctx context.Context, archiveJobID string) (app.ArchiveJobStatus, error) {
	endpoint, err := c.jobEndpoint(archiveJobID, "/portabilityArchiveState")
	if err != nil {
		return app.ArchiveJobStatus{}, err
	}

	var resp archiveStateResponse
	if err := doJSON(ctx, c.http, c.retry, http.MethodGet, endpoint, nil, &resp); err != nil {
		return app.ArchiveJobStatus{}, fmt.Errorf("check archive job %s: %w", archiveJobID, err)
	}

	state, err := mapState(resp.State)
	if err != nil {
		return app.ArchiveJobStatus{}, err
	}
	return app.ArchiveJobStatus{State: state, URLs: resp.URLs}, nil
}

func (c *Client) Cancel(ctx context.Context, archiveJobID string) error {
	endpoint, err := c.jobEndpoint(archiveJobID, ":cancel")
	if err != nil {
		return err
	}
	if err := doJSON(ctx, c.http, c.retry, http.MethodPost, endpoint, struct{}{}, nil); err != nil {
		return fmt.Errorf("cancel archive job %s: %w", archiveJobID, err)
	}
	return nil
}

// DisposeDataArchives resets the user's portability authorization, which
// also makes the provider discard the archives it produced.
func (c *Client) DisposeDataArchives(ctx context.Context) error {
	if err := doJSON(ctx, c.http, c.retry, http.MethodPost, c.baseURL+"/authorization:reset", struct{}{}, nil); err != nil {
		return fmt.Errorf("reset authorization: %w", err)
	}
	return nil
}

func (c *Client) jobEndpoint(archiveJobID, suffix string) (string, error) {
	if strings.TrimSpace(archiveJobID) == "" {
		return "", ErrArchiveJobIDRequired
	}
	return c.baseURL + "/archiveJobs/" + url.PathEscape(archiveJobID) + suffix, nil
}

func mapState(raw string) (app.ArchiveJobState, error) {
	switch raw {
	case "IN_PROGRESS":
		return app.ArchiveInProgress, nil
	case "COMPLETE":
		return app.ArchiveComplete, nil
	case "FAILED":
		return app.ArchiveFailed, nil
	case "CANCELLED":
		return app.ArchiveCancelled, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownArchiveState, raw)
	}
}
