package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
)

type outboxStore interface {
	Claim(ctx context.Context, limit int, lease time.Duration) ([]app.Envelope, error)
	MarkPublished(ctx context.Context, ids []string) error
	Release(ctx context.Context, id string, reason string) error
}

type envelopePublisher interface {
	Publish(ctx context.Context, env app.Envelope) error
}

type RelayConfig struct {
	Workers       int
	BatchSize     int
	PollInterval  time.Duration
	LeaseDuration time.Duration
}

// Relay moves committed outbox rows onto the broker. Delivery is at least
// once; the broker drops repeats of the same envelope ID.
type Relay struct {
	outbox    outboxStore
	publisher envelopePublisher
	logger    *slog.Logger
	cfg       RelayConfig

	once sync.Once
}

func NewRelay(outbox outboxStore, publisher envelopePublisher, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		logger:    logger.With("component", "outbox_relay"),
		cfg:       cfg,
	}
}

func (r *Relay) Start(ctx context.Context) {
	r.once.Do(func() {
		for i := 0; i < r.cfg.Workers; i++ {
			go r.workerLoop(ctx)
		}
	})
}

func (r *Relay) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		published, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "relay outbox failed", "error", err)
		}
		if err != nil || published == 0 {
			if !sleepWithContext(ctx, r.cfg.PollInterval) {
				return
			}
		}
	}
}

// RunOnce claims one batch, publishes it and returns how many messages
// reached the broker. Messages that fail are released for a later attempt.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	envelopes, err := r.outbox.Claim(ctx, r.cfg.BatchSize, r.cfg.LeaseDuration)
	if err != nil {
		return 0, err
	}
	if len(envelopes) == 0 {
		return 0, nil
	}

	published := make([]string, 0, len(envelopes))
	for _, env := range envelopes {
		if err := r.publisher.Publish(ctx, env); err != nil {
			r.logger.WarnContext(ctx, "publish outbox message failed", "id", env.ID, "subject", env.Subject, "error", err)
			if releaseErr := r.outbox.Release(ctx, env.ID, err.Error()); releaseErr != nil {
				r.logger.ErrorContext(ctx, "release outbox message failed", "id", env.ID, "error", releaseErr)
			}
			continue
		}
		published = append(published, env.ID)
	}

	if err := r.outbox.MarkPublished(ctx, published); err != nil {
		return 0, err
	}
	return len(published), nil
}
