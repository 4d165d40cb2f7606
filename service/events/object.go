package events

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/dedup"
	"github.com/atomiqlabs/atomiq-chain-solana/service/ledger"
	"github.com/atomiqlabs/atomiq-chain-solana/service/retry"
	"github.com/gagliardetto/solana-go"
)

// EventObject is the unit of work handed from a producer to the Dispatcher: the
// events of one transaction plus lazily resolved instructions.
type EventObject struct {
	Events    []TypedEvent
	BlockTime time.Time
	Signature solana.Signature
	Slot      uint64

	instructions *dedup.Memo[[]*TypedInstruction]
}

// Instructions returns the transaction's decoded instructions, resolving them on first
// use. Concurrent callers share one resolution; a failed resolution is retried by the
// next caller.
func (o *EventObject) Instructions(ctx context.Context) ([]*TypedInstruction, error) {
	if o.instructions == nil {
		return nil, nil
	}
	return o.instructions.Get(ctx)
}

// NewTransactionObject decodes tx's logs into an EventObject. Events are stored in
// reverse log order. Instructions are decoded from tx on first use.
func NewTransactionObject(tx *ledger.Transaction, decoder Decoder) (*EventObject, error) {
	decoded, err := decoder.DecodeLogs(tx.LogMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to decode logs of %s: %w", tx.Signature, err)
	}
	slices.Reverse(decoded)

	obj := &EventObject{
		Events:    decoded,
		Signature: tx.Signature,
		Slot:      tx.Slot,
	}
	if tx.BlockTime != nil {
		obj.BlockTime = *tx.BlockTime
	}
	obj.instructions = dedup.NewMemo(func(ctx context.Context) ([]*TypedInstruction, error) {
		return decoder.DecodeInstructions(tx.Instructions)
	})
	return obj, nil
}

// NewNotificationObjects wraps each live event into its own single-event EventObject
// stamped with receivedAt, since notifications carry no block time. The objects share
// one instruction resolution that fetches the transaction from the ledger on first use.
func NewNotificationObjects(
	n ledger.LogNotification,
	decoded []TypedEvent,
	receivedAt time.Time,
	fetcher ledger.TransactionFetcher,
	decoder Decoder,
	exec *retry.Executor,
) []*EventObject {
	memo := dedup.NewMemo(fetchInstructions(n.Signature, fetcher, decoder, exec))
	out := make([]*EventObject, 0, len(decoded))
	for _, ev := range decoded {
		out = append(out, &EventObject{
			Events:       []TypedEvent{ev},
			BlockTime:    receivedAt,
			Signature:    n.Signature,
			Slot:         n.Slot,
			instructions: memo,
		})
	}
	return out
}

func fetchInstructions(
	sig solana.Signature,
	fetcher ledger.TransactionFetcher,
	decoder Decoder,
	exec *retry.Executor,
) func(ctx context.Context) ([]*TypedInstruction, error) {
	return func(ctx context.Context) ([]*TypedInstruction, error) {
		if fetcher == nil {
			return nil, fmt.Errorf("no transaction fetcher configured for %s", sig)
		}
		tx, err := retry.Run(ctx, exec, func(ctx context.Context) (*ledger.Transaction, error) {
			return fetcher.GetTransaction(ctx, sig)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch transaction %s: %w", sig, err)
		}
		return decoder.DecodeInstructions(tx.Instructions)
	}
}

// Event is a delivered domain event with its delivery metadata.
type Event struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`

	// BlockTime is the block's unix time in seconds.
	BlockTime int64 `json:"blockTime"`
	// Timestamp is BlockTime in unix milliseconds.
	Timestamp int64  `json:"timestamp"`
	TxID      string `json:"txId"`
	Slot      uint64 `json:"slot"`
	Program   string `json:"program"`
	// LogIndex is TypedEvent.Index of the event within its transaction.
	LogIndex int `json:"logIndex"`

	object *EventObject
}

func newEvent(program string, ev TypedEvent, obj *EventObject) Event {
	return Event{
		Name:      ev.Name,
		Data:      ev.Data,
		BlockTime: obj.BlockTime.Unix(),
		Timestamp: obj.BlockTime.UnixMilli(),
		TxID:      obj.Signature.String(),
		Slot:      obj.Slot,
		Program:   program,
		LogIndex:  ev.Index,
		object:    obj,
	}
}

// Instructions returns the decoded instructions of the event's transaction.
// Events that did not originate from a producer return nil.
func (e Event) Instructions(ctx context.Context) ([]*TypedInstruction, error) {
	if e.object == nil {
		return nil, nil
	}
	return e.object.Instructions(ctx)
}

// FindInstruction returns the first instruction named name in the event's transaction,
// or nil when there is none.
func (e Event) FindInstruction(ctx context.Context, name string) (*TypedInstruction, error) {
	ixs, err := e.Instructions(ctx)
	if err != nil {
		return nil, err
	}
	for _, ix := range ixs {
		if ix != nil && ix.Name == name {
			return ix, nil
		}
	}
	return nil, nil
}
