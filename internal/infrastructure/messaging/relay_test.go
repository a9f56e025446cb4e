package messaging_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/messaging"
)

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []app.Envelope
	published []string
	released  map[string]string
	claimErr  error
}

func (f *fakeOutbox) Claim(ctx context.Context, limit int, lease time.Duration) ([]app.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.claimErr != nil {
		return nil, f.claimErr
	}
	n := min(limit, len(f.pending))
	out := append([]app.Envelope(nil), f.pending[:n]...)
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeOutbox) MarkPublished(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.published = append(f.published, ids...)
	return nil
}

func (f *fakeOutbox) Release(ctx context.Context, id string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.released == nil {
		f.released = map[string]string{}
	}
	f.released[id] = reason
	return nil
}

type fakePublisher struct {
	failFor map[string]bool
	sent    []string
}

func (f *fakePublisher) Publish(ctx context.Context, env app.Envelope) error {
	if f.failFor[env.ID] {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, env.ID)
	return nil
}

func envelopes(ids ...string) []app.Envelope {
	out := make([]app.Envelope, 0, len(ids))
	for _, id := range ids {
		out = append(out, app.Envelope{ID: id, Subject: app.SubjectCheckJob, Payload: []byte("{}")})
	}
	return out
}

func TestRelayPublishesAndMarks(t *testing.T) {
	t.Parallel()

	outbox := &fakeOutbox{pending: envelopes("a", "b", "c")}
	publisher := &fakePublisher{}
	relay := messaging.NewRelay(outbox, publisher, nil, messaging.RelayConfig{BatchSize: 2})

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, outbox.published)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"a", "b", "c"}, publisher.sent)
}

func TestRelayReleasesFailedPublish(t *testing.T) {
	t.Parallel()

	outbox := &fakeOutbox{pending: envelopes("a", "b")}
	publisher := &fakePublisher{failFor: map[string]bool{"a": true}}
	relay := messaging.NewRelay(outbox, publisher, nil, messaging.RelayConfig{})

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"b"}, outbox.published)
	assert.Contains(t, outbox.released["a"], "broker unavailable")
}

func TestRelayReturnsClaimError(t *testing.T) {
	t.Parallel()

	outbox := &fakeOutbox{claimErr: errors.New("db down")}
	relay := messaging.NewRelay(outbox, &fakePublisher{}, nil, messaging.RelayConfig{})

	_, err := relay.RunOnce(context.Background())
	require.Error(t, err)
}

func TestRelayDeliversToStream(t *testing.T) {
	js := startTestNATS(t)

	outbox := &fakeOutbox{pending: envelopes("a", "b")}
	relay := messaging.NewRelay(outbox, messaging.NewPublisher(js), nil, messaging.RelayConfig{
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay.Start(ctx)

	assert.Eventually(t, func() bool {
		info, err := js.StreamInfo(messaging.StreamName)
		return err == nil && info.State.Msgs == 2
	}, 5*time.Second, 20*time.Millisecond)
}
