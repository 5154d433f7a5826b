package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"research_workflow_engine/internal/infra/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct{ calls atomic.Int32 }

func (c *countingRefresher) Refresh(context.Context) error {
	c.calls.Add(1)
	return nil
}

type countingRehydrator struct{ calls atomic.Int32 }

func (c *countingRehydrator) Rehydrate(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestMaintenanceSchedulerRunsJobs(t *testing.T) {
	refresher := &countingRefresher{}
	rehydrator := &countingRehydrator{}
	s := NewMaintenanceScheduler(refresher, rehydrator, logger.Discard(), "@every 1s", "@every 1s")

	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool {
		return refresher.calls.Load() > 0 && rehydrator.calls.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestMaintenanceSchedulerRejectsBadSpec(t *testing.T) {
	s := NewMaintenanceScheduler(&countingRefresher{}, &countingRehydrator{}, logger.Discard(), "not a spec", "@every 1m")
	err := s.Start()
	assert.ErrorContains(t, err, "definition refresh")
}
