package messaging

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	app "github.com/mohammadpnp/pinventory/internal/application/importing"
)

const scopeName = "github.com/mohammadpnp/pinventory/messaging"

// Publisher writes outbox envelopes to JetStream. The envelope ID is sent as
// the message ID so the stream drops a second publish of the same row.
type Publisher struct {
	js        nats.JetStreamContext
	tracer    trace.Tracer
	published metric.Int64Counter
}

func NewPublisher(js nats.JetStreamContext) *Publisher {
	published, _ := otel.Meter(scopeName).Int64Counter("pins.messaging.published",
		metric.WithDescription("Messages published to the import stream"),
	)
	return &Publisher{
		js:        js,
		tracer:    otel.Tracer(scopeName),
		published: published,
	}
}

func (p *Publisher) Publish(ctx context.Context, env app.Envelope) error {
	attrs := []attribute.KeyValue{
		attribute.String("messaging.destination", env.Subject),
		attribute.String("messaging.message_id", env.ID),
	}
	ctx, span := p.tracer.Start(ctx, "messaging.publish",
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	defer span.End()

	msg := nats.NewMsg(env.Subject)
	msg.Data = env.Payload
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	ack, err := p.js.PublishMsg(msg, nats.MsgId(env.ID), nats.Context(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish %s: %w", env.Subject, err)
	}

	span.SetAttributes(attribute.Bool("messaging.duplicate", ack.Duplicate))
	p.published.Add(ctx, 1, metric.WithAttributes(attrs[0]))
	return nil
}
