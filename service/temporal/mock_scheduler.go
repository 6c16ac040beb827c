package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	interval  *time.Duration
	ensures   int
	createErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// EnsureSweepSchedule records the sweep interval.
func (m *MockScheduler) EnsureSweepSchedule(ctx context.Context, interval time.Duration) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.interval = &interval
	m.ensures++
	return nil
}

// DeleteSweepSchedule records that the schedule was deleted.
func (m *MockScheduler) DeleteSweepSchedule(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interval == nil {
		return fmt.Errorf("schedule %q not found", SweepScheduleID)
	}
	m.interval = nil
	return nil
}

// SetCreateError makes EnsureSweepSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.createErr = err
}

// SetDeleteError makes DeleteSweepSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// Interval returns the sweep interval, if the schedule exists.
func (m *MockScheduler) Interval() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interval == nil {
		return 0, false
	}
	return *m.interval, true
}

// EnsureCount returns how many times EnsureSweepSchedule succeeded.
func (m *MockScheduler) EnsureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensures
}

// Reset clears the schedule and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = nil
	m.ensures = 0
	m.createErr = nil
	m.deleteErr = nil
}
