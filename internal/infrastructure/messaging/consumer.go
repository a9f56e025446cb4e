package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
)

var ErrMalformedMessage = errors.New("malformed message")

// HandlerFunc processes one payload. A positive duration asks for the same
// message to be delivered again after that delay.
type HandlerFunc func(ctx context.Context, payload []byte) (time.Duration, error)

// Handle adapts a typed handler to a HandlerFunc. Payloads that do not decode
// are reported as ErrMalformedMessage and never redelivered.
func Handle[T any](fn func(context.Context, T) error) HandlerFunc {
	return func(ctx context.Context, payload []byte) (time.Duration, error) {
		msg, err := decode[T](payload)
		if err != nil {
			return 0, err
		}
		return 0, fn(ctx, msg)
	}
}

// HandleWithOutcome is Handle for handlers that may reschedule themselves.
func HandleWithOutcome[T any](fn func(context.Context, T) (app.Outcome, error)) HandlerFunc {
	return func(ctx context.Context, payload []byte) (time.Duration, error) {
		msg, err := decode[T](payload)
		if err != nil {
			return 0, err
		}
		outcome, err := fn(ctx, msg)
		if err != nil {
			return 0, err
		}
		return outcome.RedeliverAfter, nil
	}
}

func decode[T any](payload []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return msg, nil
}

// Route binds a durable pull consumer on Subject to a handler.
type Route struct {
	Subject string
	Durable string
	Handler HandlerFunc
	// MaxDeliver caps deliveries per message. Zero uses the consumer default
	// and -1 removes the cap, which polling routes need because every
	// reschedule counts as a delivery.
	MaxDeliver int
}

type ConsumerConfig struct {
	Workers    int
	FetchBatch int
	FetchWait  time.Duration
	AckWait    time.Duration
	// HeartbeatInterval is how often a running handler's message is marked
	// in progress so JetStream does not redeliver it. Defaults to AckWait/2.
	HeartbeatInterval time.Duration
	MaxDeliver        int
	// RetryDelay is the base delay before a failed message is redelivered.
	// It grows with the delivery count up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

type delivery struct {
	route *Route
	msg   *nats.Msg
}

// Consumer pulls from every route and hands messages to a shared worker pool.
type Consumer struct {
	js     nats.JetStreamContext
	routes []Route
	cfg    ConsumerConfig
	logger *slog.Logger

	tracer  trace.Tracer
	handled metric.Int64Counter

	jobs chan delivery
	wg   sync.WaitGroup
	once sync.Once
}

func NewConsumer(js nats.JetStreamContext, logger *slog.Logger, cfg ConsumerConfig, routes ...Route) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.FetchBatch <= 0 {
		cfg.FetchBatch = 10
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 2 * time.Second
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 2 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.AckWait {
		cfg.HeartbeatInterval = cfg.AckWait / 2
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = 20
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	handled, _ := otel.Meter(scopeName).Int64Counter("pins.messaging.handled",
		metric.WithDescription("Messages handled by outcome"),
	)

	return &Consumer{
		js:      js,
		routes:  routes,
		cfg:     cfg,
		logger:  logger.With("component", "consumer"),
		tracer:  otel.Tracer(scopeName),
		handled: handled,
		jobs:    make(chan delivery, cfg.Workers*cfg.FetchBatch),
	}
}

// Start binds every route and runs until ctx is cancelled. Calling it again
// is a no-op.
func (c *Consumer) Start(ctx context.Context) error {
	var startErr error
	c.once.Do(func() {
		subs := make([]*nats.Subscription, 0, len(c.routes))
		for i := range c.routes {
			sub, err := c.subscribe(&c.routes[i])
			if err != nil {
				startErr = err
				return
			}
			subs = append(subs, sub)
		}

		for i := 0; i < c.cfg.Workers; i++ {
			c.wg.Add(1)
			go c.workerLoop(ctx)
		}
		for i, sub := range subs {
			c.wg.Add(1)
			go c.fetchLoop(ctx, &c.routes[i], sub)
		}
	})
	return startErr
}

// Wait blocks until every fetch and worker goroutine has returned.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) subscribe(route *Route) (*nats.Subscription, error) {
	maxDeliver := route.MaxDeliver
	if maxDeliver == 0 {
		maxDeliver = c.cfg.MaxDeliver
	}

	sub, err := c.js.PullSubscribe(route.Subject, route.Durable,
		nats.BindStream(StreamName),
		nats.AckExplicit(),
		nats.AckWait(c.cfg.AckWait),
		nats.MaxDeliver(maxDeliver),
		nats.DeliverAll(),
	)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s as %s: %w", route.Subject, route.Durable, err)
	}
	return sub, nil
}

func (c *Consumer) fetchLoop(ctx context.Context, route *Route, sub *nats.Subscription) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := sub.Fetch(c.cfg.FetchBatch, nats.MaxWait(c.cfg.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				c.logger.WarnContext(ctx, "stop fetching", "subject", route.Subject, "error", err)
				return
			}
			c.logger.ErrorContext(ctx, "fetch failed", "subject", route.Subject, "error", err)
			if !sleepWithContext(ctx, c.cfg.FetchWait) {
				return
			}
			continue
		}

		for _, msg := range msgs {
			select {
			case c.jobs <- delivery{route: route, msg: msg}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Consumer) workerLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-c.jobs:
			c.process(ctx, d)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d delivery) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(d.msg.Header))

	var delivered uint64 = 1
	if meta, err := d.msg.Metadata(); err == nil {
		delivered = meta.NumDelivered
	}

	subject := attribute.String("messaging.destination", d.route.Subject)
	ctx, span := c.tracer.Start(ctx, "messaging.process",
		trace.WithAttributes(subject, attribute.Int64("messaging.delivery", int64(delivered))),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	stopHeartbeat := c.heartbeat(ctx, d)
	delay, err := d.route.Handler(ctx, d.msg.Data)
	stopHeartbeat()

	var outcome string
	var ackErr error
	switch {
	case errors.Is(err, ErrMalformedMessage):
		outcome = "terminated"
		c.logger.WarnContext(ctx, "dropping malformed message", "subject", d.route.Subject, "error", err)
		ackErr = d.msg.Term()
	case err != nil:
		outcome = "retried"
		c.logger.ErrorContext(ctx, "handle message failed", "subject", d.route.Subject, "delivery", delivered, "error", err)
		ackErr = d.msg.NakWithDelay(c.retryDelay(delivered))
	case delay > 0:
		outcome = "rescheduled"
		ackErr = d.msg.NakWithDelay(delay)
	default:
		outcome = "acked"
		ackErr = d.msg.Ack()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if ackErr != nil {
		c.logger.WarnContext(ctx, "acknowledge message failed", "subject", d.route.Subject, "outcome", outcome, "error", ackErr)
	}
	c.handled.Add(ctx, 1, metric.WithAttributes(subject, attribute.String("outcome", outcome)))
}

// heartbeat extends the ack deadline of d until the returned func is called.
// The func returns once the heartbeat goroutine has exited, so the message is
// never acked and marked in progress at the same time.
func (c *Consumer) heartbeat(ctx context.Context, d delivery) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.msg.InProgress(); err != nil {
					c.logger.WarnContext(ctx, "extend ack deadline failed", "subject", d.route.Subject, "error", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (c *Consumer) retryDelay(delivered uint64) time.Duration {
	if delivered == 0 {
		delivered = 1
	}
	delay := c.cfg.RetryDelay
	for i := uint64(1); i < delivered && delay < c.cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, c.cfg.MaxRetryDelay)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
