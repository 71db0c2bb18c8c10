package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing
func startTestNATSServer(t *testing.T) *server.Server {
	opts := &server.Options{
		Host: "127.0.0.1",
		Port: -1, // Random port
	}

	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)

	return ns
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "BTC-USDT.closed", Subject("BTC/USDT", "closed"))
	assert.Equal(t, "1000SHIB-USDT.partially_filled", Subject("1000SHIB/USDT", "partially filled"))
	assert.Equal(t, "a_b._", Subject("a.b", "*"))
}

func TestNATSPublisherPublish(t *testing.T) {
	ns := startTestNATSServer(t)

	pub, err := NewNATSPublisher(NATSConfig{URL: ns.ClientURL(), Prefix: "test.orders."})
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("test.orders.>", received)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	ctx := context.Background()
	payload := map[string]interface{}{"id": "42", "status": "closed"}
	require.NoError(t, pub.Publish(ctx, Subject("BTC/USDT", "closed"), payload))
	require.NoError(t, pub.Flush(ctx))

	select {
	case msg := <-received:
		assert.Equal(t, "test.orders.BTC-USDT.closed", msg.Subject)
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "42", got["id"])
		assert.Equal(t, "closed", got["status"])
	case <-time.After(5 * time.Second):
		t.Fatal("notification not received")
	}
}

func TestNATSPublisherCancelledContext(t *testing.T) {
	ns := startTestNATSServer(t)

	pub, err := NewNATSPublisher(NATSConfig{URL: ns.ClientURL()})
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()
	assert.Equal(t, "broker.orders.", pub.prefix)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, "x", 1), context.Canceled)
}

func TestNewNATSPublisherConnectionFailure(t *testing.T) {
	_, err := NewNATSPublisher(NATSConfig{URL: "nats://127.0.0.1:1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}
