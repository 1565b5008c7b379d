package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-pathsync/internal/config"
	"github.com/teslashibe/go-pathsync/internal/log"
	"github.com/teslashibe/go-pathsync/internal/server"
	"github.com/teslashibe/go-pathsync/pkg/collector"
	"github.com/teslashibe/go-pathsync/pkg/input"
	"github.com/teslashibe/go-pathsync/pkg/tracking"
)

func fastTracking() tracking.Config {
	cfg := tracking.DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	cfg.SampleInterval = 50 * time.Millisecond
	cfg.FlushInterval = 200 * time.Millisecond
	cfg.AckTimeout = time.Second
	cfg.RetryInterval = 100 * time.Millisecond
	cfg.DebounceWindow = 100 * time.Millisecond
	cfg.UpgradeWindow = 50 * time.Millisecond
	return cfg
}

func TestRunAgainstCollector(t *testing.T) {
	store := collector.NewMemoryStore()
	srv, err := server.NewServer(config.Config{}, store, nil, log.Discard())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	go srv.App.Listen(":18097")
	defer srv.App.Shutdown()
	time.Sleep(100 * time.Millisecond)

	simCfg := input.DefaultSimulatorConfig()
	simCfg.Rate = 10 * time.Millisecond

	res, err := run(context.Background(), options{
		CollectorURL: "ws://localhost:18097",
		SessionID:    "sim-test",
		Duration:     2500 * time.Millisecond,
		Steps:        10,
		Seed:         7,
		Tracking:     fastTracking(),
		Simulator:    simCfg,
	})
	require.NoError(t, err)
	assert.Equal(t, "sim-test", res.SessionID)
	assert.NotEmpty(t, res.Status.PathID)
	assert.True(t, res.Status.Ended)
	assert.Greater(t, res.Status.Stats.Samples, 0)
	assert.GreaterOrEqual(t, res.Transport.Connects, int64(1))

	assert.Eventually(t, func() bool {
		p, err := store.Path(context.Background(), res.Status.PathID)
		return err == nil && p.Ended()
	}, 2*time.Second, 20*time.Millisecond)

	p, err := store.Path(context.Background(), res.Status.PathID)
	require.NoError(t, err)
	assert.Equal(t, "sim-test", p.SessionID)
	assert.Greater(t, p.Points, 0)
	require.NotNil(t, p.Metadata)
	assert.Equal(t, "duration", p.Metadata.Reason)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := fastTracking()
	cfg.MaxSegments = 0

	_, err := run(context.Background(), options{
		CollectorURL: "ws://localhost:1",
		Duration:     time.Millisecond,
		Tracking:     cfg,
		Simulator:    input.DefaultSimulatorConfig(),
	})
	assert.ErrorIs(t, err, tracking.ErrInvalidConfig)
}
