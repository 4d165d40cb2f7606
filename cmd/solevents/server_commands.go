package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/client"
	"github.com/urfave/cli/v2"
)

// serverClient builds an API client for --server-url with the given request timeout.
func serverClient(c *cli.Context, timeout time.Duration) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, &http.Client{Timeout: timeout}, cliLogger()), nil
}

func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Request timeout",
		Value: 5 * time.Second,
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{timeoutFlag()},
		Action: func(c *cli.Context) error {
			cl, err := serverClient(c, c.Duration("timeout"))
			if err != nil {
				return err
			}
			if err := cl.Health(c.Context); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "healthy: %s\n", c.String("server-url"))
			return nil
		},
	}
}

func serverCursorCommand() *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Show the cursor the running server reports",
		Flags: []cli.Flag{timeoutFlag()},
		Action: func(c *cli.Context) error {
			cl, err := serverClient(c, c.Duration("timeout"))
			if err != nil {
				return err
			}
			cur, err := cl.GetCursor(c.Context)
			switch {
			case errors.Is(err, client.ErrNoCursor):
				fmt.Fprintln(c.App.Writer, "no cursor persisted yet")
				return nil
			case err != nil:
				return err
			case c.Bool("json"):
				return outputJSON(cur)
			}
			fmt.Fprintf(c.App.Writer, "%s  slot=%d  signature=%s\n", cur.Program, cur.Slot, cur.Signature)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			if c.Bool("json") {
				return outputJSON(map[string]string{"version": version, "commit": commit, "date": date})
			}
			fmt.Fprintf(c.App.Writer, "solevents %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}
