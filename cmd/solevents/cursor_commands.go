package main

import (
	"fmt"
	"os"

	"github.com/atomiqlabs/atomiq-chain-solana/service/cursor"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// getCursorStore opens the configured backend for the program given by --program.
func getCursorStore(c *cli.Context) (cursor.Store, func(), error) {
	program, err := programFlag(c)
	if err != nil {
		return nil, func() {}, err
	}
	backend := c.String("cursor-backend")
	if backend == cursor.BackendNone {
		return nil, func() {}, fmt.Errorf("cursor backend %q has no cursor to manage", backend)
	}
	return cursor.Open(c.Context, cursor.OpenOptions{
		Backend:     backend,
		Program:     program.String(),
		Dir:         c.String("cursor-dir"),
		DatabaseURL: c.String("database-url"),
		PebblePath:  c.String("pebble-path"),
	}, cliLogger())
}

func showCursorCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Show the persisted polling cursor",
		Action: func(c *cli.Context) error {
			store, release, err := getCursorStore(c)
			if err != nil {
				return err
			}
			defer release()

			cur, err := store.Load(c.Context)
			if err != nil {
				return err
			}
			if cur == nil {
				if c.Bool("json") {
					return outputJSON(nil)
				}
				fmt.Fprintln(os.Stderr, "no cursor persisted; the next poll seeds from the newest transaction")
				return nil
			}

			if c.Bool("json") {
				return outputJSON(cur)
			}
			fmt.Printf("Signature: %s\n", cur.Signature)
			fmt.Printf("Slot:      %d\n", cur.Slot)
			return nil
		},
	}
}

func setCursorCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Overwrite the polling cursor, e.g. to replay from an older transaction",
		ArgsUsage: "<signature>;<slot>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one <signature>;<slot> argument")
			}
			cur, err := cursor.Parse(c.Args().First())
			if err != nil {
				return err
			}
			if _, err := solanago.SignatureFromBase58(cur.Signature); err != nil {
				return fmt.Errorf("invalid cursor signature %q: %w", cur.Signature, err)
			}

			store, release, err := getCursorStore(c)
			if err != nil {
				return err
			}
			defer release()

			if err := store.Save(c.Context, cur); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "✓ cursor set to %s\n", cur)
			return nil
		},
	}
}

func clearCursorCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Delete the polling cursor; the next poll seeds from the newest transaction",
		Action: func(c *cli.Context) error {
			store, release, err := getCursorStore(c)
			if err != nil {
				return err
			}
			defer release()

			clearer, ok := store.(cursor.Clearer)
			if !ok {
				return fmt.Errorf("cursor backend %q cannot clear", c.String("cursor-backend"))
			}
			if err := clearer.Clear(c.Context); err != nil {
				return fmt.Errorf("failed to clear cursor: %w", err)
			}
			fmt.Fprintln(os.Stderr, "✓ cursor cleared")
			return nil
		},
	}
}
