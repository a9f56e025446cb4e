package messaging_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
	"github.com/mohammadpnp/pinventory/internal/infrastructure/messaging"
)

func testConsumerConfig() messaging.ConsumerConfig {
	return messaging.ConsumerConfig{
		Workers:    2,
		FetchBatch: 5,
		FetchWait:  100 * time.Millisecond,
		AckWait:    5 * time.Second,
		RetryDelay: 20 * time.Millisecond,
	}
}

func startConsumer(t *testing.T, js nats.JetStreamContext, routes ...messaging.Route) {
	t.Helper()
	startConsumerWithConfig(t, js, testConsumerConfig(), routes...)
}

func startConsumerWithConfig(t *testing.T, js nats.JetStreamContext, cfg messaging.ConsumerConfig, routes ...messaging.Route) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	consumer := messaging.NewConsumer(js, nil, cfg, routes...)
	require.NoError(t, consumer.Start(ctx))

	t.Cleanup(func() {
		cancel()
		consumer.Wait()
	})
}

func publish(t *testing.T, js nats.JetStreamContext, subject string, msg any) {
	t.Helper()

	env, err := app.NewEnvelope(subject, msg)
	require.NoError(t, err)
	require.NoError(t, messaging.NewPublisher(js).Publish(context.Background(), env))
}

func TestConsumerDeliversDecodedMessage(t *testing.T) {
	js := startTestNATS(t)

	received := make(chan app.CheckJobMessage, 1)
	startConsumer(t, js, messaging.Route{
		Subject: app.SubjectCheckJob,
		Durable: "check-job",
		Handler: messaging.Handle(func(ctx context.Context, msg app.CheckJobMessage) error {
			received <- msg
			return nil
		}),
	})

	publish(t, js, app.SubjectCheckJob, app.CheckJobMessage{UserID: "user-1", ArchiveJobID: "job-1"})

	select {
	case msg := <-received:
		assert.Equal(t, "user-1", msg.UserID)
		assert.Equal(t, "job-1", msg.ArchiveJobID)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}

	assert.Eventually(t, func() bool {
		info, err := js.ConsumerInfo(messaging.StreamName, "check-job")
		return err == nil && info.NumAckPending == 0 && info.AckFloor.Consumer == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConsumerKeepsSlowHandlerMessageInProgress(t *testing.T) {
	js := startTestNATS(t)

	cfg := testConsumerConfig()
	cfg.AckWait = 500 * time.Millisecond

	var calls, running, maxRunning atomic.Int32
	done := make(chan struct{}, 4)
	startConsumerWithConfig(t, js, cfg, messaging.Route{
		Subject: app.SubjectDownloadArchive,
		Durable: "download-archive",
		Handler: messaging.Handle(func(ctx context.Context, msg app.DownloadArchiveMessage) error {
			calls.Add(1)
			n := running.Add(1)
			for {
				cur := maxRunning.Load()
				if n <= cur || maxRunning.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(1500 * time.Millisecond)
			running.Add(-1)
			done <- struct{}{}
			return nil
		}),
	})

	publish(t, js, app.SubjectDownloadArchive, app.DownloadArchiveMessage{
		UserID:       "user-1",
		ArchiveJobID: "job-1",
		URLs:         []string{"https://a", "https://b"},
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("message not handled")
	}

	assert.Eventually(t, func() bool {
		info, err := js.ConsumerInfo(messaging.StreamName, "download-archive")
		return err == nil && info.NumAckPending == 0 && info.AckFloor.Consumer >= 1
	}, 5*time.Second, 20*time.Millisecond)

	// Give a premature redelivery time to surface.
	time.Sleep(cfg.AckWait)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), maxRunning.Load())

	info, err := js.ConsumerInfo(messaging.StreamName, "download-archive")
	require.NoError(t, err)
	assert.Zero(t, info.NumRedelivered)
}

func TestConsumerRedeliversAfterHandlerError(t *testing.T) {
	js := startTestNATS(t)

	var calls atomic.Int32
	startConsumer(t, js, messaging.Route{
		Subject: app.SubjectDownloadArchive,
		Durable: "download-archive",
		Handler: messaging.Handle(func(ctx context.Context, msg app.DownloadArchiveMessage) error {
			if calls.Add(1) == 1 {
				return errors.New("temporary")
			}
			return nil
		}),
	})

	publish(t, js, app.SubjectDownloadArchive, app.DownloadArchiveMessage{UserID: "user-1", ArchiveJobID: "job-1"})

	assert.Eventually(t, func() bool {
		return calls.Load() == 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConsumerReschedulesOnOutcomeDelay(t *testing.T) {
	js := startTestNATS(t)

	var calls atomic.Int32
	startConsumer(t, js, messaging.Route{
		Subject:    app.SubjectCheckJob,
		Durable:    "check-job",
		MaxDeliver: -1,
		Handler: messaging.HandleWithOutcome(func(ctx context.Context, msg app.CheckJobMessage) (app.Outcome, error) {
			if calls.Add(1) < 3 {
				return app.Outcome{RedeliverAfter: 30 * time.Millisecond}, nil
			}
			return app.Outcome{}, nil
		}),
	})

	publish(t, js, app.SubjectCheckJob, app.CheckJobMessage{UserID: "user-1", ArchiveJobID: "job-1"})

	assert.Eventually(t, func() bool {
		return calls.Load() == 3
	}, 5*time.Second, 20*time.Millisecond)

	info, err := js.ConsumerInfo(messaging.StreamName, "check-job")
	require.NoError(t, err)
	assert.Equal(t, -1, info.Config.MaxDeliver)
}

func TestConsumerTerminatesMalformedMessage(t *testing.T) {
	js := startTestNATS(t)

	var calls atomic.Int32
	startConsumer(t, js, messaging.Route{
		Subject: app.SubjectProcessBatch,
		Durable: "process-batch",
		Handler: messaging.Handle(func(ctx context.Context, msg app.ProcessPinsBatchMessage) error {
			calls.Add(1)
			return nil
		}),
	})

	publisher := messaging.NewPublisher(js)
	require.NoError(t, publisher.Publish(context.Background(), app.Envelope{
		ID:      "bad-1",
		Subject: app.SubjectProcessBatch,
		Payload: []byte("not json"),
	}))

	assert.Eventually(t, func() bool {
		info, err := js.ConsumerInfo(messaging.StreamName, "process-batch")
		return err == nil && info.Delivered.Consumer >= 1 && info.NumAckPending == 0
	}, 5*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	info, err := js.ConsumerInfo(messaging.StreamName, "process-batch")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Delivered.Consumer)
	assert.Zero(t, calls.Load())
}

func TestHandleReportsMalformedPayload(t *testing.T) {
	t.Parallel()

	handler := messaging.Handle(func(ctx context.Context, msg app.CheckJobMessage) error {
		return nil
	})

	_, err := handler(context.Background(), []byte("{"))
	require.ErrorIs(t, err, messaging.ErrMalformedMessage)
}

func TestHandleWithOutcomePassesDelay(t *testing.T) {
	t.Parallel()

	handler := messaging.HandleWithOutcome(func(ctx context.Context, msg app.CheckJobMessage) (app.Outcome, error) {
		assert.Equal(t, "job-9", msg.ArchiveJobID)
		return app.Outcome{RedeliverAfter: time.Minute}, nil
	})

	delay, err := handler(context.Background(), []byte(`{"user_id":"u","archive_job_id":"job-9"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, delay)
}
