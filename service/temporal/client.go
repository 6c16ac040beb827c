package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

var _ Scheduler = (*Client)(nil)

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

func (c *Client) createSweepSchedule(ctx context.Context, interval time.Duration) error {
	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: SweepScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "sweep-interactions",
			Workflow:  SweepWorkflow,
			TaskQueue: c.taskQueue,
		},
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		Memo: map[string]interface{}{
			"created_by": "arbiter",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create schedule %q: %w", SweepScheduleID, err)
	}

	c.logger.Info("sweep schedule created", "schedule_id", SweepScheduleID, "interval", interval)
	return nil
}

// EnsureSweepSchedule creates or updates the schedule that triggers SweepWorkflow.
// If the schedule already exists, it updates the interval.
func (c *Client) EnsureSweepSchedule(ctx context.Context, interval time.Duration) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, SweepScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", SweepScheduleID,
			"error", err,
		)
		return c.createSweepSchedule(ctx, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule", "schedule_id", SweepScheduleID, "error", err)
		return fmt.Errorf("failed to update schedule %q: %w", SweepScheduleID, err)
	}

	c.logger.Info("sweep schedule updated", "schedule_id", SweepScheduleID, "interval", interval)
	return nil
}

// DeleteSweepSchedule deletes the sweep schedule.
func (c *Client) DeleteSweepSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, SweepScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule", "schedule_id", SweepScheduleID, "error", err)
		return fmt.Errorf("failed to delete schedule %q: %w", SweepScheduleID, err)
	}

	c.logger.Info("sweep schedule deleted", "schedule_id", SweepScheduleID)
	return nil
}

// StartArbitration starts the arbitration of one interaction and returns
// its workflow run. It fails if an arbitration of it is already running.
func (c *Client) StartArbitration(ctx context.Context, address string) (client.WorkflowRun, error) {
	run, err := c.client.ExecuteWorkflow(ctx, ArbitrateWorkflowOptions(address, c.taskQueue), ArbitrateWorkflow, ArbitrateInput{
		Interaction: address,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start arbitration of %s: %w", address, err)
	}

	c.logger.Info("arbitration started",
		"interaction", address,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
