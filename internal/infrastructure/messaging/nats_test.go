package messaging_test

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/mohammadpnp/pinventory/internal/infrastructure/messaging"
)

func startTestNATS(t *testing.T) nats.JetStreamContext {
	t.Helper()

	opts := &natsserver.Options{
		Port:               -1,
		JetStream:          true,
		JetStreamMaxMemory: 256 << 20,
		JetStreamMaxStore:  256 << 20,
		StoreDir:           t.TempDir(),
		NoLog:              true,
		NoSigs:             true,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)

	js, err := nc.JetStream()
	require.NoError(t, err)
	require.NoError(t, messaging.EnsureStream(js))

	t.Cleanup(func() {
		_ = nc.Drain()
		nc.Close()
		ns.Shutdown()
	})
	return js
}

func streamMsgs(t *testing.T, js nats.JetStreamContext) uint64 {
	t.Helper()

	info, err := js.StreamInfo(messaging.StreamName)
	require.NoError(t, err)
	return info.State.Msgs
}
