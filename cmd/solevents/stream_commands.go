package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/atomiqlabs/atomiq-chain-solana/client"
	"github.com/atomiqlabs/atomiq-chain-solana/service/events"
	"github.com/urfave/cli/v2"
)

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream live program events from the server via SSE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq predicate evaluated by the server (e.g. '.name == \"Claim\"')",
			},
		},
		Action: func(c *cli.Context) error {
			// Create context that cancels on interrupt
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			jsonOutput := c.Bool("json")
			cl := client.NewClient(c.String("server-url"), &http.Client{}, cliLogger())

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Streaming events from %s... (Ctrl+C to stop)\n\n", c.String("server-url"))
			}

			err := cl.StreamEvents(ctx, c.String("jq"), func(ev client.Event) error {
				return printEvent(os.Stdout, toEvent(ev), jsonOutput)
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			if !jsonOutput && ctx.Err() != nil {
				fmt.Fprintf(os.Stderr, "\nDisconnected\n")
			}
			return nil
		},
	}
}

func toEvent(ev client.Event) events.Event {
	return events.Event{
		Name:      ev.Name,
		Data:      ev.Data,
		BlockTime: ev.BlockTime,
		Timestamp: ev.Timestamp,
		TxID:      ev.TxID,
		Slot:      ev.Slot,
		Program:   ev.Program,
	}
}

