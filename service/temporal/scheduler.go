package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SweepScheduleID is the id of the schedule that triggers SweepWorkflow.
const SweepScheduleID = "arbiter-sweep"

// MinSweepInterval is the shortest interval the sweep schedule runs at.
const MinSweepInterval = time.Second

// Scheduler manages the Temporal schedule that sweeps pending interactions.
type Scheduler interface {
	// EnsureSweepSchedule creates the sweep schedule, or updates its interval
	// when it already exists.
	EnsureSweepSchedule(ctx context.Context, interval time.Duration) error

	// DeleteSweepSchedule deletes the sweep schedule. Interactions are then
	// only answered when an arbitration is started by hand.
	DeleteSweepSchedule(ctx context.Context) error
}

// StartSweep makes s sweep pending interactions every interval.
func StartSweep(ctx context.Context, s Scheduler, interval time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if interval < MinSweepInterval {
		return fmt.Errorf("sweep interval %s is shorter than %s", interval, MinSweepInterval)
	}
	if err := s.EnsureSweepSchedule(ctx, interval); err != nil {
		return fmt.Errorf("failed to ensure sweep schedule: %w", err)
	}
	logger.InfoContext(ctx, "sweep scheduled", "schedule_id", SweepScheduleID, "interval", interval)
	return nil
}

// StopSweep deletes the sweep schedule of s.
func StopSweep(ctx context.Context, s Scheduler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := s.DeleteSweepSchedule(ctx); err != nil {
		return fmt.Errorf("failed to stop sweep: %w", err)
	}
	logger.InfoContext(ctx, "sweep stopped", "schedule_id", SweepScheduleID)
	return nil
}
