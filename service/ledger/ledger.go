// Package ledger defines the ledger capabilities the event pipeline consumes:
// signature listing, transaction fetch and program log subscriptions.
package ledger

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// SignatureInfo identifies one transaction in a topic's signature index.
type SignatureInfo struct {
	Signature solana.Signature
	Slot      uint64
	BlockTime *time.Time
	// Err is non-nil when the transaction reverted.
	Err any
}

// Failed reports whether the transaction reverted and must be skipped.
func (s SignatureInfo) Failed() bool {
	return s.Err != nil
}

// ListOptions bounds a signature page. Zero signatures mean no bound.
type ListOptions struct {
	// Before returns signatures strictly older than this one.
	Before solana.Signature
	// Until stops at (and excludes) this signature.
	Until solana.Signature
	Limit int
}

// Instruction is a compiled instruction with its account indexes resolved to keys.
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
}

// Transaction is the subset of a ledger transaction record the pipeline reads.
type Transaction struct {
	Signature    solana.Signature
	Slot         uint64
	BlockTime    *time.Time
	Err          any
	LogMessages  []string
	Instructions []Instruction
}

// Failed reports whether the transaction reverted (meta.err is set).
func (t *Transaction) Failed() bool {
	return t.Err != nil
}

// SignatureLister pages through a topic's transaction signatures, newest first.
type SignatureLister interface {
	ListSignatures(ctx context.Context, topic solana.PublicKey, opts ListOptions) ([]SignatureInfo, error)
}

// TransactionFetcher fetches a single transaction by signature.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, signature solana.Signature) (*Transaction, error)
}

// Ledger is the RPC capability used by the polling path.
type Ledger interface {
	SignatureLister
	TransactionFetcher
}

// SubscriptionID identifies an active log subscription.
type SubscriptionID uint64

// LogNotification is a single program log notification from a live subscription.
type LogNotification struct {
	Signature solana.Signature
	Slot      uint64
	Err       any
	Logs      []string
}

// LogHandler receives live log notifications.
type LogHandler func(ctx context.Context, n LogNotification)

// LogSubscriber pushes program log notifications over a persistent channel.
type LogSubscriber interface {
	SubscribeLogs(ctx context.Context, programID solana.PublicKey, handler LogHandler) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
}
