package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"quizgen/internal/config"
	"quizgen/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNATSConfig(recheck time.Duration) config.NATSConfig {
	return config.NATSConfig{
		URL:             "nats://localhost:4222",
		MaxReconnects:   5,
		ReconnectWait:   time.Millisecond,
		RecheckInterval: recheck,
	}
}

func TestNewNATSJobQueue_Validation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(cfg *config.NATSConfig)
	}{
		{"empty url", func(cfg *config.NATSConfig) { cfg.URL = "" }},
		{"bad scheme", func(cfg *config.NATSConfig) { cfg.URL = "http://localhost:4222" }},
		{"negative reconnects", func(cfg *config.NATSConfig) { cfg.MaxReconnects = -1 }},
		{"negative wait", func(cfg *config.NATSConfig) { cfg.ReconnectWait = -time.Second }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testNATSConfig(time.Minute)
			tc.mutate(&cfg)
			_, err := NewNATSJobQueue(cfg)
			require.Error(t, err)
		})
	}
}

func TestAvailable_RedialsAfterFailedInitialDial(t *testing.T) {
	queue, err := NewNATSJobQueue(testNATSConfig(20 * time.Millisecond))
	require.NoError(t, err)

	dials := 0
	queue.dial = func(_ string, _ ...nats.Option) (*nats.Conn, error) {
		dials++
		return nil, nats.ErrNoServers
	}

	ctx := context.Background()
	require.Error(t, queue.Connect())
	require.Equal(t, 1, dials)

	// Within the recheck interval the cached verdict is returned, no dial.
	assert.False(t, queue.Available(ctx))
	assert.Equal(t, 1, dials)

	// Once the interval elapses a dead connection triggers a fresh dial.
	time.Sleep(25 * time.Millisecond)
	assert.False(t, queue.Available(ctx))
	assert.Equal(t, 2, dials)

	// And again on the next interval: the queue keeps probing, it never
	// pins the broker down for good.
	time.Sleep(25 * time.Millisecond)
	assert.False(t, queue.Available(ctx))
	assert.Equal(t, 3, dials)
}

func TestEnqueueJob_ProbesBrokerWhenDown(t *testing.T) {
	queue, err := NewNATSJobQueue(testNATSConfig(10 * time.Millisecond))
	require.NoError(t, err)

	dials := 0
	queue.dial = func(_ string, _ ...nats.Option) (*nats.Conn, error) {
		dials++
		return nil, errors.New("dial tcp: connection refused")
	}
	require.Error(t, queue.Connect())

	ctx := context.Background()
	jobID := uuid.New()

	err = queue.EnqueueJob(ctx, jobID)
	require.ErrorIs(t, err, outbound.ErrBrokerUnavailable)

	time.Sleep(15 * time.Millisecond)
	err = queue.EnqueueJob(ctx, jobID)
	require.ErrorIs(t, err, outbound.ErrBrokerUnavailable)

	// The second enqueue crossed the recheck interval, so it re-dialed
	// instead of trusting the stale verdict.
	assert.Equal(t, 2, dials)

	metrics := queue.Metrics()
	assert.Equal(t, int64(2), metrics.FailedCount)
	assert.Zero(t, metrics.EnqueuedCount)
}

func TestEnqueueJob_RejectsNilJobID(t *testing.T) {
	queue, err := NewNATSJobQueue(testNATSConfig(time.Minute))
	require.NoError(t, err)

	require.Error(t, queue.EnqueueJob(context.Background(), uuid.Nil))
}
