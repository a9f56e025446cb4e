package messaging

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// StreamName is the JetStream stream carrying saga commands and import events.
	StreamName = "PINS_IMPORT"

	subjectWildcard = "pins.>"

	// dedupWindow bounds how long a republished outbox row is recognised by its MsgId.
	dedupWindow = 10 * time.Minute
)

// Connect dials the broker and returns a JetStream context bound to it.
func Connect(url string, name string) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates the import stream if it does not exist yet.
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamName); err == nil {
		return nil
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{subjectWildcard},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: dedupWindow,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", StreamName, err)
	}
	return nil
}
