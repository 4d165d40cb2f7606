package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/ledger"
	"github.com/gagliardetto/solana-go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKey(b byte) solana.PublicKey {
	var pk solana.PublicKey
	pk[0] = b
	pk[31] = 0xAA
	return pk
}

func testSig(b byte) solana.Signature {
	var s solana.Signature
	s[0] = b
	s[63] = 0x55
	return s
}

var testProgram = testKey(0x01)

// fakeDecoder turns "event:<Name>" log lines into events and instructions whose data
// is their name.
type fakeDecoder struct {
	program solana.PublicKey
	logsErr error
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{program: testProgram}
}

func (d *fakeDecoder) ProgramID() solana.PublicKey {
	return d.program
}

func (d *fakeDecoder) DecodeLogs(lines []string) ([]TypedEvent, error) {
	if d.logsErr != nil {
		return nil, d.logsErr
	}
	var out []TypedEvent
	for _, line := range lines {
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			out = append(out, TypedEvent{Name: name, Data: map[string]any{"line": line}, Index: len(out)})
		}
	}
	return out, nil
}

func (d *fakeDecoder) DecodeInstructions(ixs []ledger.Instruction) ([]*TypedInstruction, error) {
	out := make([]*TypedInstruction, len(ixs))
	for i, ix := range ixs {
		if ix.ProgramID.Equals(d.program) {
			out[i] = &TypedInstruction{Name: string(ix.Data)}
		}
	}
	return out, nil
}

// fakeLedger serves a newest-first signature history and its transactions.
type fakeLedger struct {
	mu         sync.Mutex
	sigs       []ledger.SignatureInfo
	txs        map[solana.Signature]*ledger.Transaction
	listErr    error
	listCalls  []ledger.ListOptions
	fetchCalls int

	// gate, when set, holds every GetTransaction until it is closed or the
	// caller's context ends. entered receives once per held call.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{txs: make(map[solana.Signature]*ledger.Transaction)}
}

// push records a new, newest transaction.
func (f *fakeLedger) push(sig solana.Signature, slot uint64, logs ...string) *ledger.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	bt := time.Unix(1_700_000_000+int64(slot), 0)
	tx := &ledger.Transaction{
		Signature:   sig,
		Slot:        slot,
		BlockTime:   &bt,
		LogMessages: logs,
		Instructions: []ledger.Instruction{
			{ProgramID: testKey(0x09), Data: []byte("compute_budget")},
			{ProgramID: testProgram, Data: []byte("initialize")},
		},
	}
	f.sigs = append([]ledger.SignatureInfo{{Signature: sig, Slot: slot, BlockTime: &bt}}, f.sigs...)
	f.txs[sig] = tx
	return tx
}

// pushFailed records a newest signature flagged as reverted in the index.
func (f *fakeLedger) pushFailed(sig solana.Signature, slot uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sigs = append([]ledger.SignatureInfo{{Signature: sig, Slot: slot, Err: "custom program error"}}, f.sigs...)
}

func (f *fakeLedger) ListSignatures(ctx context.Context, topic solana.PublicKey, opts ledger.ListOptions) ([]ledger.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, opts)
	if f.listErr != nil {
		return nil, f.listErr
	}

	start := 0
	if !opts.Before.IsZero() {
		start = len(f.sigs)
		for i, s := range f.sigs {
			if s.Signature == opts.Before {
				start = i + 1
				break
			}
		}
	}
	var out []ledger.SignatureInfo
	for _, s := range f.sigs[start:] {
		if !opts.Until.IsZero() && s.Signature == opts.Until {
			break
		}
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeLedger) GetTransaction(ctx context.Context, sig solana.Signature) (*ledger.Transaction, error) {
	f.mu.Lock()
	f.fetchCalls++
	tx, ok := f.txs[sig]
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.New("transaction not found")
	}
	return tx, nil
}

// holdFetches makes GetTransaction wait on the returned gate.
func (f *fakeLedger) holdFetches() (gate, entered chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 1)
	return f.gate, f.entered
}

func (f *fakeLedger) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listCalls)
}

func (f *fakeLedger) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

// recorder is a Listener that keeps every batch it receives.
type recorder struct {
	mu      sync.Mutex
	batches [][]Event
}

func (r *recorder) HandleEvents(ctx context.Context, events []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, events)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.batches {
		for _, ev := range b {
			out = append(out, ev.Name)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}
