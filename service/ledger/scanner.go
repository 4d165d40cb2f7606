package ledger

import (
	"context"

	"github.com/atomiqlabs/atomiq-chain-solana/service/retry"
	"github.com/gagliardetto/solana-go"
)

const (
	// DefaultBatchSize is the page size used when none is configured.
	DefaultBatchSize = 100

	// MaxBatchSize caps the page size to bound per-call ledger load.
	MaxBatchSize = 500
)

// ScanOptions configures ScanBackward.
type ScanOptions struct {
	// BatchSize is the page size, clamped to [1, MaxBatchSize].
	BatchSize int

	// Until, when set, bounds the scan to signatures newer than it.
	Until solana.Signature

	// Retry wraps each page fetch. Nil fetches once.
	Retry *retry.Executor
}

// BatchFunc inspects one page of signatures, newest first.
// Returning a non-nil value stops the scan with that value.
type BatchFunc[T any] func(ctx context.Context, page []SignatureInfo) (*T, error)

// ClampBatchSize applies the default and the MaxBatchSize ceiling.
func ClampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	default:
		return n
	}
}

// ScanBackward pages backward through topic's signature history and calls process
// for each page until it returns a value or a short page signals exhaustion.
// Returns nil without error when nothing matched.
//
// Page fetch errors are returned as-is. Cancellation is checked before every fetch
// and before every processing step.
func ScanBackward[T any](
	ctx context.Context,
	lister SignatureLister,
	topic solana.PublicKey,
	process BatchFunc[T],
	opts ScanOptions,
) (*T, error) {
	limit := ClampBatchSize(opts.BatchSize)

	var before solana.Signature
	for {
		if ctx.Err() != nil {
			return nil, retry.Aborted(ctx)
		}

		listOpts := ListOptions{Before: before, Until: opts.Until, Limit: limit}
		page, err := retry.Run(ctx, opts.Retry, func(ctx context.Context) ([]SignatureInfo, error) {
			return lister.ListSignatures(ctx, topic, listOpts)
		})
		if err != nil {
			return nil, err
		}

		if ctx.Err() != nil {
			return nil, retry.Aborted(ctx)
		}

		out, err := process(ctx, page)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return out, nil
		}

		if len(page) < limit {
			return nil, nil
		}
		before = page[len(page)-1].Signature
	}
}
