package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/arbiter/client"
	"github.com/brojonat/arbiter/service/chain"
	"github.com/brojonat/arbiter/service/oracle"
	"github.com/urfave/cli/v2"
)

func oracleCommands() *cli.Command {
	return &cli.Command{
		Name:  "oracle",
		Usage: "Oracle identity, context, and interaction commands",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize the oracle with an authority (idempotent)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "authority",
						Usage:    "Authority key: a keygen JSON file or a base58 private key",
						EnvVars:  []string{"ARBITER_KEY"},
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					payer, err := signer(c)
					if err != nil {
						return err
					}
					authority, err := loadKey(c.String("authority"))
					if err != nil {
						return err
					}
					created, err := chain.EnsureOracle(context.Background(), newClient(c), payer, authority)
					if err != nil {
						return describeError(err)
					}
					if created {
						fmt.Printf("✓ Oracle initialized with authority %s\n", authority.PublicKey())
					} else {
						fmt.Printf("✓ Oracle already initialized with authority %s\n", authority.PublicKey())
					}
					return nil
				},
			},
			{
				Name:      "create-context",
				Usage:     "Create an oracle context whose label instructs the arbiter",
				ArgsUsage: "LABEL",
				Action: func(c *cli.Context) error {
					payer, err := signer(c)
					if err != nil {
						return err
					}
					label := c.Args().First()
					if label == "" {
						return fmt.Errorf("label is required")
					}
					addr, err := chain.CreateContext(context.Background(), newClient(c), payer, label)
					if err != nil {
						return describeError(err)
					}
					fmt.Printf("✓ Context created: %s\n", addr)
					return nil
				},
			},
			interactionsCommand(),
			{
				Name:      "respond",
				Usage:     "Answer an interaction by hand with the authority keypair",
				ArgsUsage: "INTERACTION RESULT",
				Action: func(c *cli.Context) error {
					key, err := signer(c)
					if err != nil {
						return err
					}
					addr, err := argPubkey(c, 0, "interaction address")
					if err != nil {
						return err
					}
					result := c.Args().Get(1)
					if result == "" {
						return fmt.Errorf("result is required")
					}
					view, err := newClient(c).GetInteraction(context.Background(), addr)
					if err != nil {
						return fmt.Errorf("failed to get interaction: %w", err)
					}
					_, err = submit(c, nil, oracle.RespondInstruction(key.PublicKey(), addr, view.Interaction, result))
					return err
				},
			},
		},
	}
}

func interactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "interactions",
		Aliases: []string{"ix"},
		Usage:   "List, show, or await oracle interactions",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List interactions",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "pending", Aliases: []string{"p"}, Usage: "Only unprocessed interactions"},
					&cli.StringSliceFlag{
						Name:    "must-jq",
						Aliases: []string{"jq"},
						Usage:   "jq filter over each interaction that must evaluate to true (repeatable)",
					},
				},
				Action: func(c *cli.Context) error {
					filter, err := newJQFilter(c.StringSlice("must-jq"))
					if err != nil {
						return err
					}
					views, err := newClient(c).ListInteractions(context.Background(), c.Bool("pending"))
					if err != nil {
						return fmt.Errorf("failed to list interactions: %w", err)
					}

					var matched []*client.InteractionView
					for _, v := range views {
						if filter.Match(v) {
							matched = append(matched, v)
						}
					}

					if c.Bool("json") {
						return printJSON(matched)
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "ADDRESS\tPROCESSED\tRESULT\tREQUESTER")
					for _, v := range matched {
						fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", v.Address, v.Interaction.IsProcessed, v.Interaction.Result, v.Interaction.Requester)
					}
					w.Flush()
					fmt.Fprintf(os.Stderr, "\nTotal: %d interactions\n", len(matched))
					return nil
				},
			},
			{
				Name:      "show",
				Usage:     "Show an interaction",
				ArgsUsage: "INTERACTION",
				Action: func(c *cli.Context) error {
					addr, err := argPubkey(c, 0, "interaction address")
					if err != nil {
						return err
					}
					view, err := newClient(c).GetInteraction(context.Background(), addr)
					if err != nil {
						return fmt.Errorf("failed to get interaction: %w", err)
					}
					if c.Bool("json") {
						return printJSON(view)
					}
					printInteraction(view)
					return nil
				},
			},
			{
				Name:      "await",
				Usage:     "Block until the oracle answers an interaction",
				ArgsUsage: "INTERACTION",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Value: 5 * time.Minute, Usage: "How long to wait"},
				},
				Action: func(c *cli.Context) error {
					addr, err := argPubkey(c, 0, "interaction address")
					if err != nil {
						return err
					}
					ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
					defer cancel()

					fmt.Fprintf(os.Stderr, "Waiting for interaction %s...\n", addr)
					view, err := newClient(c).AwaitInteractionProcessed(ctx, addr, client.DefaultPollInterval)
					if err != nil {
						return fmt.Errorf("failed to await interaction: %w", err)
					}
					if c.Bool("json") {
						return printJSON(view)
					}
					printInteraction(view)
					return nil
				},
			},
		},
	}
}

func printInteraction(view *client.InteractionView) {
	ix := view.Interaction
	fmt.Printf("Interaction: %s\n", view.Address)
	fmt.Printf("Requester:   %s\n", ix.Requester)
	fmt.Printf("Context:     %s\n", ix.Context)
	if view.ContextLabel != "" {
		fmt.Printf("Label:       %s\n", view.ContextLabel)
	}
	fmt.Printf("Prompt:      %s\n", ix.Prompt)
	fmt.Printf("Callback:    %s\n", ix.Callback.ProgramID)
	fmt.Printf("Processed:   %v\n", ix.IsProcessed)
	if ix.IsProcessed {
		fmt.Printf("Result:      %s\n", ix.Result)
	}
}
