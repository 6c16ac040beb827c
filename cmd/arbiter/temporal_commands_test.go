package main

import (
	"errors"
	"testing"
	"time"

	"github.com/brojonat/arbiter/service/temporal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func useMockScheduler(t *testing.T) *temporal.MockScheduler {
	t.Helper()
	s := temporal.NewMockScheduler()
	closed := false
	prev := dialScheduler
	dialScheduler = func(c *cli.Context) (temporal.Scheduler, func(), error) {
		return s, func() { closed = true }, nil
	}
	t.Cleanup(func() {
		dialScheduler = prev
		assert.True(t, closed, "scheduler connection not closed")
	})
	return s
}

func TestEnsureScheduleCommand(t *testing.T) {
	s := useMockScheduler(t)

	err := newApp().Run([]string{"arbiter", "temporal", "ensure-schedule", "--interval", "45s"})
	require.NoError(t, err)

	interval, ok := s.Interval()
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, interval)
}

func TestEnsureScheduleCommand_IntervalTooShort(t *testing.T) {
	prev := dialScheduler
	dialScheduler = func(c *cli.Context) (temporal.Scheduler, func(), error) {
		t.Fatal("scheduler dialed for an invalid interval")
		return nil, nil, nil
	}
	t.Cleanup(func() { dialScheduler = prev })

	err := newApp().Run([]string{"arbiter", "temporal", "ensure-schedule", "--interval", "100ms"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
}

func TestDeleteScheduleCommand(t *testing.T) {
	t.Run("deletes existing schedule", func(t *testing.T) {
		s := useMockScheduler(t)
		require.NoError(t, newApp().Run([]string{"arbiter", "temporal", "ensure-schedule"}))

		err := newApp().Run([]string{"arbiter", "temporal", "delete-schedule", "--force"})
		require.NoError(t, err)

		_, ok := s.Interval()
		assert.False(t, ok)
	})

	t.Run("scheduler failure", func(t *testing.T) {
		s := useMockScheduler(t)
		require.NoError(t, newApp().Run([]string{"arbiter", "temporal", "ensure-schedule"}))
		s.SetDeleteError(errors.New("unavailable"))

		err := newApp().Run([]string{"arbiter", "temporal", "delete-schedule", "--force"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unavailable")
	})
}
