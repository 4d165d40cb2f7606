package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/decoder"
	"github.com/atomiqlabs/atomiq-chain-solana/service/events"
	"github.com/atomiqlabs/atomiq-chain-solana/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/urfave/cli/v2"
)

// cliLogger logs to stderr so stdout stays parseable.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func programFlag(c *cli.Context) (solanago.PublicKey, error) {
	raw := c.String("program")
	if raw == "" {
		return solanago.PublicKey{}, fmt.Errorf("program is required (set PROGRAM_ID env var or use --program)")
	}
	pk, err := solanago.PublicKeyFromBase58(raw)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid program address %q: %w", raw, err)
	}
	return pk, nil
}

func getDecoder(c *cli.Context) (*decoder.Decoder, error) {
	program, err := programFlag(c)
	if err != nil {
		return nil, err
	}
	path := c.String("idl")
	if path == "" {
		return nil, fmt.Errorf("idl is required (set IDL_PATH env var or use --idl)")
	}
	return decoder.NewFromFile(program, path)
}

func getLedger(c *cli.Context, logger *slog.Logger) (*solana.Client, error) {
	var endpoints []string
	for _, u := range strings.Split(c.String("rpc-url"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			endpoints = append(endpoints, u)
		}
	}
	endpoint, err := solana.PickEndpoint(endpoints)
	if err != nil {
		return nil, err
	}
	return solana.NewClient(solana.NewRPCClient(endpoint), solana.EndpointLabel(endpoint), nil, logger,
		solana.WithCommitment(rpc.CommitmentType(c.String("commitment"))),
	), nil
}

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printEvent writes one event, either as a JSON line or in a human-friendly block.
func printEvent(w io.Writer, ev events.Event, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Event:      %s\n", ev.Name)
	fmt.Fprintf(w, "Signature:  %s\n", ev.TxID)
	fmt.Fprintf(w, "Slot:       %d\n", ev.Slot)
	if ev.BlockTime > 0 {
		fmt.Fprintf(w, "Block Time: %s\n", time.Unix(ev.BlockTime, 0).UTC().Format(time.RFC3339))
	}
	data, err := json.MarshalIndent(ev.Data, "            ", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	fmt.Fprintf(w, "Data:       %s\n", data)
	fmt.Fprintln(w)
	return nil
}
