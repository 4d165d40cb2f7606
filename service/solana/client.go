package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/ledger"
	"github.com/atomiqlabs/atomiq-chain-solana/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// ErrTransactionNotFound is returned when the node has no record of a signature
// at the configured commitment.
var ErrTransactionNotFound = errors.New("transaction not found")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Client implements ledger.Ledger over the Solana JSON-RPC API.
type Client struct {
	rpc        RPCClient
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	commitment rpc.CommitmentType
	limiter    *rate.Limiter
}

var _ ledger.Ledger = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCommitment sets the commitment used for signature and transaction queries.
// Defaults to confirmed.
func WithCommitment(c rpc.CommitmentType) ClientOption {
	return func(cl *Client) {
		cl.commitment = c
	}
}

// WithRateLimit caps outgoing RPC requests per second. Zero disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		rpc:        rpcClient,
		logger:     logger.With("component", "solana_client"),
		metrics:    m,
		endpoint:   endpoint,
		commitment: rpc.CommitmentConfirmed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListSignatures returns one page of signatures for topic, newest first.
func (c *Client) ListSignatures(ctx context.Context, topic solana.PublicKey, opts ledger.ListOptions) ([]ledger.SignatureInfo, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	rpcOpts := &rpc.GetSignaturesForAddressOpts{
		Before:     opts.Before,
		Until:      opts.Until,
		Commitment: c.commitment,
	}
	if opts.Limit > 0 {
		limit := opts.Limit
		rpcOpts.Limit = &limit
	}

	c.logger.DebugContext(ctx, "calling getSignaturesForAddress",
		"topic", topic.String(),
		"limit", opts.Limit,
		"before", shortSig(opts.Before),
		"until", shortSig(opts.Until),
	)

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, topic, rpcOpts)
	c.recordCall("getSignaturesForAddress", start, err)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to get signatures",
			"topic", topic.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to get signatures for %s: %w", topic, err)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(signatures)))
	}

	out := make([]ledger.SignatureInfo, 0, len(signatures))
	for _, sig := range signatures {
		if sig == nil {
			continue
		}
		out = append(out, signatureToInfo(sig))
	}
	return out, nil
}

// GetTransaction fetches a transaction with versioned-transaction support.
// If the node response cannot be parsed as a versioned transaction, the request is
// repeated once without a max supported version.
func (c *Client) GetTransaction(ctx context.Context, signature solana.Signature) (*ledger.Transaction, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	result, err := c.getTransaction(ctx, signature, opts)
	if err != nil && isLegacyParseError(err) {
		c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
			"signature", signature.String(),
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry("getTransaction", "parse_error")
		}
		result, err = c.getTransaction(ctx, signature, &rpc.GetTransactionOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
	}
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", signature, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, signature)
	}

	txn, err := parseTransactionResult(signature, result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction %s: %w", signature, err)
	}
	return txn, nil
}

func (c *Client) getTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	result, err := c.rpc.GetTransaction(ctx, signature, opts)
	c.recordCall("getTransaction", start, err)
	return result, err
}

// wait blocks until the rate limiter admits one request.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for rate limiter: %w", err)
	}
	return nil
}

func (c *Client) recordCall(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if IsRateLimited(err) {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// IsRateLimited reports whether err looks like an HTTP 429 from the RPC node.
func IsRateLimited(err error) bool {
	return err != nil && strings.Contains(err.Error(), "429")
}

func isLegacyParseError(err error) bool {
	return strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'")
}

func shortSig(sig solana.Signature) string {
	if sig.IsZero() {
		return ""
	}
	s := sig.String()
	if len(s) > 20 {
		return s[:20] + "..."
	}
	return s
}
