package portability_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	domain "github.com/mohammadpnp/pinventory/internal/domain/importing"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/portability"
)

var fastRetry = portability.RetryPolicy{
	InitialInterval: time.Millisecond,
	MaxElapsed:      200 * time.Millisecond,
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *portability.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return portability.NewClient(srv.URL+"/v1", srv.Client(), fastRetry)
}

func TestInitiateSendsPeriod(t *testing.T) {
	t.Parallel()

	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/portabilityArchive:initiate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"archiveJobId":"job-42"}`))
	})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	period, err := domain.NewPeriod(start, start.Add(48*time.Hour))
	require.NoError(t, err)

	id, err := client.Initiate(context.Background(), period)
	require.NoError(t, err)
	assert.Equal(t, "job-42", id)
	assert.Equal(t, []any{"maps.starred_places"}, body["resources"])
	assert.Equal(t, "2024-01-01T00:00:00Z", body["startTime"])
	assert.Equal(t, "2024-01-03T00:00:00Z", body["endTime"])
}

func TestInitiateAllTimeOmitsStart(t *testing.T) {
	t.Parallel()

	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"archiveJobId":"job-1"}`))
	})

	_, err := client.Initiate(context.Background(), domain.AllTime())
	require.NoError(t, err)
	assert.NotContains(t, body, "startTime")
	assert.Contains(t, body, "endTime")
}

func TestInitiateRequiresJobID(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.Initiate(context.Background(), domain.AllTime())
	require.ErrorIs(t, err, portability.ErrMissingArchiveJobID)
}

func TestCheckJobMapsStates(t *testing.T) {
	t.Parallel()

	cases := map[string]app.ArchiveJobState{
		"IN_PROGRESS": app.ArchiveInProgress,
		"COMPLETE":    app.ArchiveComplete,
		"FAILED":      app.ArchiveFailed,
		"CANCELLED":   app.ArchiveCancelled,
	}
	for raw, want := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/archiveJobs/job-1/portabilityArchiveState", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"state": raw,
				"urls":  []string{"https://a", "https://b"},
			})
		})

		status, err := client.CheckJob(context.Background(), "job-1")
		require.NoError(t, err, raw)
		assert.Equal(t, want, status.State, raw)
		assert.Equal(t, []string{"https://a", "https://b"}, status.URLs)
	}
}

func TestCheckJobRejectsUnknownState(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"STATE_UNSPECIFIED"}`))
	})

	_, err := client.CheckJob(context.Background(), "job-1")
	require.ErrorIs(t, err, portability.ErrUnknownArchiveState)
}

func TestCheckJobRequiresID(t *testing.T) {
	t.Parallel()

	client := portability.NewClient("http://127.0.0.1:1", nil, fastRetry)
	_, err := client.CheckJob(context.Background(), " ")
	require.ErrorIs(t, err, portability.ErrArchiveJobIDRequired)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"state":"IN_PROGRESS"}`))
	})

	status, err := client.CheckJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, app.ArchiveInProgress, status.State)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	err := client.Cancel(context.Background(), "job-1")
	require.Error(t, err)

	var apiErr *portability.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "forbidden", apiErr.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCancelAndDisposePaths(t *testing.T) {
	t.Parallel()

	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, client.Cancel(context.Background(), "job-1"))
	require.NoError(t, client.DisposeDataArchives(context.Background()))
	assert.Equal(t, []string{"/v1/archiveJobs/job-1:cancel", "/v1/authorization:reset"}, paths)
}
