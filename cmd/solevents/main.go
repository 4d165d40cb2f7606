package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "solevents",
		Usage: "Solana program event ingestion CLI",
		Description: `A command-line tool for inspecting a program's events and the event service.

Use this CLI to scan historical events, decode single transactions, manage the
polling cursor, and follow the server's live event stream.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			scanCommand(),
			{
				Name:  "tx",
				Usage: "Transaction inspection commands",
				Subcommands: []*cli.Command{
					decodeTxCommand(),
				},
			},
			{
				Name:  "cursor",
				Usage: "Polling cursor commands",
				Subcommands: []*cli.Command{
					showCursorCommand(),
					setCursorCommand(),
					clearCursorCommand(),
				},
			},
			streamCommand(),
			natsCommands(),
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					serverCursorCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC URL (comma-separated list picks one at random)",
				EnvVars: []string{"SOLANA_RPC_URL"},
				Value:   "https://api.mainnet-beta.solana.com",
			},
			&cli.StringFlag{
				Name:    "commitment",
				Usage:   "Commitment level (processed, confirmed, finalized)",
				EnvVars: []string{"COMMITMENT"},
				Value:   "confirmed",
			},
			&cli.StringFlag{
				Name:    "program",
				Usage:   "Program address",
				EnvVars: []string{"PROGRAM_ID"},
			},
			&cli.StringFlag{
				Name:    "idl",
				Usage:   "Path to the program's Anchor IDL",
				EnvVars: []string{"IDL_PATH"},
			},
			&cli.StringFlag{
				Name:    "cursor-backend",
				Usage:   "Cursor backend (file, postgres, pebble)",
				EnvVars: []string{"CURSOR_BACKEND"},
				Value:   "file",
			},
			&cli.StringFlag{
				Name:    "cursor-dir",
				Usage:   "Directory holding the cursor file",
				EnvVars: []string{"CURSOR_DIR"},
				Value:   "data",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "pebble-path",
				Usage:   "Pebble database directory",
				EnvVars: []string{"PEBBLE_PATH"},
				Value:   "data/cursors",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Event server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
