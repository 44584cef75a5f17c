package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tablebot/config"
	"github.com/kilianp07/tablebot/core/dispatch"
	"github.com/kilianp07/tablebot/core/factory"
)

func TestServiceServesHTTP(t *testing.T) {
	dispatch.ResetMetrics(nil)
	cfg := &config.Config{
		Store: factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"dsn": ":memory:"}},
		Seed:  config.SeedConfig{Tables: []int{1}, Robots: []config.SeedRobot{{Name: "Ava"}}},
	}
	cfg.HTTP.Addr = "127.0.0.1:18089"
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, err := New(ctx, cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18089/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	robots, err := svc.Coordinator.ListRobots(ctx)
	require.NoError(t, err)
	assert.Len(t, robots, 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestNewRejectsUnknownStore(t *testing.T) {
	cfg := &config.Config{Store: factory.ModuleConfig{Type: "cassandra"}}
	cfg.SetDefaults()
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestPromAddr(t *testing.T) {
	assert.Equal(t, ":9100", promAddr("9100"))
	assert.Equal(t, "127.0.0.1:9100", promAddr("127.0.0.1:9100"))
}
