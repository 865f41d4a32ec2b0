package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/configstore/errors"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
}

func TestClientOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithPingInterval(10*time.Second),
		WithTimeout(2*time.Second),
		WithCredentials("user", "pass"),
		WithName("configstore"),
		WithBucketDefaults(5, jetstream.MemoryStorage, 0),
	)
	require.NoError(t, err)

	assert.Equal(t, 3, client.maxReconnects)
	assert.Equal(t, 10*time.Second, client.pingInterval)
	assert.Equal(t, uint8(5), client.bucketHistory)
	assert.Equal(t, jetstream.MemoryStorage, client.bucketStorage)
	assert.Equal(t, 1, client.bucketReplica)
	assert.NotEmpty(t, client.buildConnectionOptions())
}

func TestClient_OperationsRequireConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.OpenBucket(ctx, "configs_app")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.IsKind(err, errors.KindConnection))

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_ConnectFailure(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1", WithTimeout(200*time.Millisecond), WithMaxReconnects(0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConnection))
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestClient_CloseIdempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()))

	err = client.Connect(context.Background())
	assert.True(t, errors.IsKind(err, errors.KindIllegalState))
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}
