package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/arbiter/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// cliLogger only reports errors, on stderr.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		cliLogger(),
	)
}

// dialScheduler connects to the service managing the sweep schedule and
// returns it with a function that closes the connection.
var dialScheduler = func(c *cli.Context) (temporal.Scheduler, func(), error) {
	temporalClient, err := getTemporalClient(c)
	if err != nil {
		return nil, nil, err
	}
	return temporalClient, temporalClient.Close, nil
}

func arbitrateCommand() *cli.Command {
	return &cli.Command{
		Name:      "arbitrate",
		Usage:     "Start arbitration of an interaction now instead of waiting for the sweep",
		ArgsUsage: "INTERACTION",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for the workflow to finish and print its result",
			},
		},
		Action: func(c *cli.Context) error {
			addr, err := argPubkey(c, 0, "interaction address")
			if err != nil {
				return err
			}
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			run, err := temporalClient.StartArbitration(ctx, addr.String())
			var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
			if errors.As(err, &alreadyStarted) {
				return fmt.Errorf("interaction %s is already being arbitrated (workflow %s)", addr, temporal.ArbitrationWorkflowID(addr.String()))
			}
			if err != nil {
				return err
			}

			fmt.Printf("✓ Arbitration started\n")
			fmt.Printf("  Workflow ID: %s\n", run.GetID())
			fmt.Printf("  Run ID:      %s\n", run.GetRunID())
			if !c.Bool("wait") {
				return nil
			}

			var result temporal.ArbitrateResult
			if err := run.Get(ctx, &result); err != nil {
				return fmt.Errorf("arbitration failed: %w", err)
			}
			if c.Bool("json") {
				return printJSON(result)
			}
			if result.AlreadyProcessed {
				fmt.Printf("  Interaction was already answered\n")
				return nil
			}
			fmt.Printf("  Decision:    %s\n", result.Decision)
			fmt.Printf("  Signature:   %s\n", result.Signature)
			return nil
		},
	}
}

func ensureScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "ensure-schedule",
		Usage: "Create or update the sweep schedule that arbitrates pending interactions",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "How often to sweep for pending interactions",
				EnvVars: []string{"ARBITER_SWEEP_INTERVAL"},
				Value:   30 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			interval := c.Duration("interval")
			if interval < temporal.MinSweepInterval {
				return fmt.Errorf("interval must be at least %s", temporal.MinSweepInterval)
			}
			scheduler, closeFn, err := dialScheduler(c)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := temporal.StartSweep(context.Background(), scheduler, interval, cliLogger()); err != nil {
				return err
			}
			fmt.Printf("✓ Schedule %s sweeps every %s\n", temporal.SweepScheduleID, interval)
			return nil
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "describe-schedule",
		Usage:   "Describe the sweep schedule",
		Aliases: []string{"desc"},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.SDKClient().ScheduleClient().GetHandle(ctx, temporal.SweepScheduleID)
			desc, err := handle.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			fmt.Printf("Schedule ID:    %s\n", temporal.SweepScheduleID)
			fmt.Printf("State Note:     %s\n", desc.Schedule.State.Note)
			fmt.Printf("Paused:         %v\n", desc.Schedule.State.Paused)

			if wa, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				fmt.Printf("\nWorkflow:\n")
				fmt.Printf("  Workflow:     %v\n", wa.Workflow)
				fmt.Printf("  Task Queue:   %s\n", wa.TaskQueue)
			}
			for i, interval := range desc.Schedule.Spec.Intervals {
				fmt.Printf("  Interval %d:   Every %v\n", i+1, interval.Every)
			}

			fmt.Printf("\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if n := len(desc.Info.RecentActions); n > 0 {
				fmt.Printf("Last Action:  %s\n", desc.Info.RecentActions[n-1].ActualTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func pauseScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "pause-schedule",
		Usage: "Pause the sweep schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is paused",
				Value: "Paused via arbiter CLI",
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.SDKClient().ScheduleClient().GetHandle(ctx, temporal.SweepScheduleID)
			if err := handle.Pause(ctx, client.SchedulePauseOptions{Note: c.String("note")}); err != nil {
				return fmt.Errorf("failed to pause schedule: %w", err)
			}
			fmt.Printf("✓ Schedule paused: %s\n", temporal.SweepScheduleID)
			return nil
		},
	}
}

func resumeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume-schedule",
		Usage: "Resume the paused sweep schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why schedule is resumed",
				Value: "Resumed via arbiter CLI",
			},
		},
		Action: func(c *cli.Context) error {
			temporalClient, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer temporalClient.Close()

			ctx := context.Background()
			handle := temporalClient.SDKClient().ScheduleClient().GetHandle(ctx, temporal.SweepScheduleID)
			if err := handle.Unpause(ctx, client.ScheduleUnpauseOptions{Note: c.String("note")}); err != nil {
				return fmt.Errorf("failed to resume schedule: %w", err)
			}
			fmt.Printf("✓ Schedule resumed: %s\n", temporal.SweepScheduleID)
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the sweep schedule",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("force") {
				fmt.Printf("Are you sure you want to delete schedule %s? (yes/no): ", temporal.SweepScheduleID)
				var response string
				fmt.Scanln(&response)
				if response != "yes" {
					fmt.Println("Cancelled")
					return nil
				}
			}

			scheduler, closeFn, err := dialScheduler(c)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := temporal.StopSweep(context.Background(), scheduler, cliLogger()); err != nil {
				return err
			}
			fmt.Printf("✓ Schedule deleted: %s\n", temporal.SweepScheduleID)
			return nil
		},
	}
}
