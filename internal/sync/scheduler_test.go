package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/config"
	"groundzero-sync-service/internal/connection"
	"groundzero-sync-service/internal/queue"
)

func TestSchedulerProbesAndDrains(t *testing.T) {
	f := newFixture(t)
	m, ctrl := newManager(t, f, false)
	f.enqueue(t, "camps", queue.Insert, backend.Record{"id": "C1"}, base)

	prober := connection.NewProber(ctrl, func(context.Context) error { return nil }, nil, time.Second)
	s := NewScheduler(config.SchedulerConfig{
		Enabled:       true,
		ProbeInterval: "@every 1s",
		DrainInterval: "@every 1s",
	}, m, prober)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return f.cloud.Len("camps") == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, connection.ModeCloud, ctrl.Mode())
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	f := newFixture(t)
	m, _ := newManager(t, f, true)
	s := NewScheduler(config.SchedulerConfig{Enabled: true, DrainInterval: "every now and then"}, m, nil)
	assert.Error(t, s.Start())
}

func TestSchedulerDisabled(t *testing.T) {
	f := newFixture(t)
	m, _ := newManager(t, f, true)
	s := NewScheduler(config.SchedulerConfig{Enabled: false}, m, nil)
	require.NoError(t, s.Start())
	s.Stop()
}
