package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/atomiqlabs/atomiq-chain-solana/service/events"
	"github.com/atomiqlabs/atomiq-chain-solana/service/ledger"
	"github.com/atomiqlabs/atomiq-chain-solana/service/retry"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

const sourceScan = "scan"

type scanOptions struct {
	Limit     int
	BatchSize int
	Until     solanago.Signature
	Kinds     []string
	Filter    *events.Filter
	Retry     *retry.Executor
}

// scanEvents walks the program's history newest first and hands every decoded event
// to emit until opts.Limit events were emitted or history is exhausted. Events of one
// transaction arrive in the same order the dispatcher delivers them.
func scanEvents(
	ctx context.Context,
	l ledger.Ledger,
	dec events.Decoder,
	opts scanOptions,
	emit func(events.Event) error,
	logger *slog.Logger,
) (int, error) {
	program := dec.ProgramID()
	d := events.NewDispatcher(program.String(), opts.Kinds, nil, logger)

	emitted := 0
	var emitErr error
	var sink events.Listener = events.ListenerFunc(func(ctx context.Context, batch []events.Event) error {
		for _, ev := range batch {
			if opts.Limit > 0 && emitted >= opts.Limit {
				return nil
			}
			if err := emit(ev); err != nil {
				emitErr = err
				return err
			}
			emitted++
		}
		return nil
	})
	if opts.Filter != nil {
		sink = events.NewFilteredListener(sink, opts.Filter)
	}
	d.Register(sink)

	done := func() bool {
		return emitErr != nil || (opts.Limit > 0 && emitted >= opts.Limit)
	}

	_, err := ledger.ScanBackward[struct{}](ctx, l, program, func(ctx context.Context, page []ledger.SignatureInfo) (*struct{}, error) {
		for _, info := range page {
			if info.Failed() {
				continue
			}
			tx, err := retry.Run(ctx, opts.Retry, func(ctx context.Context) (*ledger.Transaction, error) {
				return l.GetTransaction(ctx, info.Signature)
			})
			if err != nil {
				return nil, fmt.Errorf("failed to fetch transaction %s: %w", info.Signature, err)
			}
			if tx.Failed() {
				continue
			}
			obj, err := events.NewTransactionObject(tx, dec)
			if err != nil {
				return nil, err
			}
			d.Dispatch(ctx, sourceScan, obj)
			if done() {
				return &struct{}{}, nil
			}
		}
		return nil, nil
	}, ledger.ScanOptions{
		BatchSize: opts.BatchSize,
		Until:     opts.Until,
		Retry:     opts.Retry,
	})
	if emitErr != nil {
		return emitted, emitErr
	}
	return emitted, err
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Scan the program's transaction history and print decoded events, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Stop after this many events (0 scans the whole history)",
				Value:   20,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Signatures per page (max 500)",
				Value: ledger.DefaultBatchSize,
			},
			&cli.StringFlag{
				Name:  "until",
				Usage: "Stop at this signature (exclusive)",
			},
			&cli.StringSliceFlag{
				Name:  "kind",
				Usage: "Only print events with this name (repeatable)",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq predicate events must satisfy (e.g. '.data.amount > 1000')",
			},
		},
		Action: func(c *cli.Context) error {
			logger := cliLogger()

			dec, err := getDecoder(c)
			if err != nil {
				return err
			}
			client, err := getLedger(c, logger)
			if err != nil {
				return err
			}

			opts := scanOptions{
				Limit:     c.Int("limit"),
				BatchSize: c.Int("batch-size"),
				Kinds:     c.StringSlice("kind"),
				Retry:     retry.New(retry.DefaultPolicy(), logger),
			}
			if until := c.String("until"); until != "" {
				sig, err := solanago.SignatureFromBase58(until)
				if err != nil {
					return fmt.Errorf("invalid --until signature: %w", err)
				}
				opts.Until = sig
			}
			if expr := c.String("jq"); expr != "" {
				f, err := events.CompileFilter(expr)
				if err != nil {
					return fmt.Errorf("invalid --jq expression: %w", err)
				}
				opts.Filter = f
			}

			jsonOutput := c.Bool("json")
			n, err := scanEvents(c.Context, client, dec, opts, func(ev events.Event) error {
				return printEvent(os.Stdout, ev, jsonOutput)
			}, logger)
			if err != nil {
				return fmt.Errorf("scan failed after %d events: %w", n, err)
			}
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "%d events\n", n)
			}
			return nil
		},
	}
}

func decodeTxCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Decode a transaction's program events and instructions",
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one signature argument")
			}
			sig, err := solanago.SignatureFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}

			logger := cliLogger()
			dec, err := getDecoder(c)
			if err != nil {
				return err
			}
			client, err := getLedger(c, logger)
			if err != nil {
				return err
			}

			out, err := decodeTransaction(c.Context, client, dec, sig)
			if err != nil {
				return err
			}
			return outputJSON(out)
		},
	}
}

type decodedTransaction struct {
	Signature    string                     `json:"signature"`
	Slot         uint64                     `json:"slot"`
	Failed       bool                       `json:"failed"`
	Events       []events.TypedEvent        `json:"events"`
	Instructions []*events.TypedInstruction `json:"instructions"`
}

func decodeTransaction(ctx context.Context, f ledger.TransactionFetcher, dec events.Decoder, sig solanago.Signature) (*decodedTransaction, error) {
	tx, err := f.GetTransaction(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	obj, err := events.NewTransactionObject(tx, dec)
	if err != nil {
		return nil, err
	}
	ixs, err := obj.Instructions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode instructions: %w", err)
	}

	out := &decodedTransaction{
		Signature:    sig.String(),
		Slot:         tx.Slot,
		Failed:       tx.Failed(),
		Events:       obj.Events,
		Instructions: make([]*events.TypedInstruction, 0, len(ixs)),
	}
	for _, ix := range ixs {
		if ix != nil {
			out.Instructions = append(out.Instructions, ix)
		}
	}
	return out, nil
}
