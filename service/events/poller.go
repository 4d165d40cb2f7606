package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/cursor"
	"github.com/atomiqlabs/atomiq-chain-solana/service/ledger"
	"github.com/atomiqlabs/atomiq-chain-solana/service/metrics"
	"github.com/atomiqlabs/atomiq-chain-solana/service/retry"
	"github.com/gagliardetto/solana-go"
)

const (
	// DefaultPollInterval is the wait between polling ticks.
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxPagesPerTick caps the signature pages one tick requests.
	DefaultMaxPagesPerTick = 10

	// DefaultStopTimeout is how long Stop waits for an in-flight tick.
	DefaultStopTimeout = 30 * time.Second
)

// PollerConfig configures a PollingLoop.
type PollerConfig struct {
	Ledger     ledger.Ledger
	Decoder    Decoder
	Dispatcher *Dispatcher
	Store      cursor.Store
	Interval   time.Duration
	BatchSize  int
	// MaxPagesPerTick bounds the ListSignatures calls of one tick. A backlog deeper
	// than that is walked over several ticks.
	MaxPagesPerTick int
	// StopTimeout bounds how long Stop lets an in-flight tick run before aborting it.
	StopTimeout time.Duration
	// Retry wraps each tick. Nil runs each tick once.
	Retry   *retry.Executor
	Metrics *metrics.Metrics
}

// PollingLoop catches up on program transactions missed by the live subscription,
// resuming from a durable cursor. Ticks never overlap.
type PollingLoop struct {
	cfg     PollerConfig
	logger  *slog.Logger
	program string

	mu       sync.Mutex
	running  bool
	stopWait context.CancelFunc
	abort    context.CancelFunc
	done     chan struct{}

	tickMu sync.Mutex
	walk   *pageWalk
}

// pageWalk is the descent from the newest signatures towards the cursor, kept
// between ticks so a deep backlog costs each page once.
type pageWalk struct {
	cursor string
	// anchors[i] is the Before bound of the page at depth i. anchors[0] is zero,
	// the unbounded newest page.
	anchors []solana.Signature
	// settled marks the deepest anchor's page as the one bordering the cursor.
	settled bool
}

func newPageWalk(c *cursor.Cursor) *pageWalk {
	return &pageWalk{cursor: c.String(), anchors: []solana.Signature{{}}}
}

// NewPollingLoop creates a stopped PollingLoop.
func NewPollingLoop(cfg PollerConfig, logger *slog.Logger) *PollingLoop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxPagesPerTick <= 0 {
		cfg.MaxPagesPerTick = DefaultMaxPagesPerTick
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	cfg.BatchSize = ledger.ClampBatchSize(cfg.BatchSize)
	return &PollingLoop{
		cfg:     cfg,
		logger:  logger.With("component", "polling_loop"),
		program: cfg.Decoder.ProgramID().String(),
	}
}

// Start runs a tick immediately and then one tick per interval until Stop or until
// ctx is cancelled. After ctx is cancelled the loop may be started again.
func (p *PollingLoop) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	// Stop cancels waitCtx only; tickCtx ends with ctx or when Stop gives up waiting.
	tickCtx, abort := context.WithCancel(ctx)
	waitCtx, stopWait := context.WithCancel(tickCtx)
	p.stopWait, p.abort = stopWait, abort
	p.done = make(chan struct{})
	p.running = true

	go p.run(waitCtx, tickCtx, p.done)

	p.logger.InfoContext(ctx, "polling loop started",
		"program", p.program,
		"interval", p.cfg.Interval,
		"batch_size", p.cfg.BatchSize,
		"max_pages_per_tick", p.cfg.MaxPagesPerTick,
	)
	return nil
}

// Stop cancels the pending wait, lets an in-flight tick finish for up to StopTimeout
// and then aborts it, and returns once the loop has exited. It is safe to call
// without Start and more than once.
func (p *PollingLoop) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopWait, abort, done := p.stopWait, p.abort, p.done
	p.mu.Unlock()

	stopWait()
	timer := time.NewTimer(p.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.logger.Warn("aborting in-flight polling tick", "timeout", p.cfg.StopTimeout)
		abort()
		<-done
	}
	abort()
	p.logger.Info("polling loop stopped")
}

func (p *PollingLoop) run(waitCtx, tickCtx context.Context, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		if p.done == done {
			p.running = false
		}
		p.mu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return
		case <-timer.C:
		}

		if err := p.Tick(tickCtx); err != nil && tickCtx.Err() == nil {
			p.logger.ErrorContext(tickCtx, "polling tick failed", "error", err)
		}
		timer.Reset(p.cfg.Interval)
	}
}

// Tick performs one retried poll: load the cursor, walk at most MaxPagesPerTick
// pages towards it, dispatch the page adjacent to it and advance the cursor.
func (p *PollingLoop) Tick(ctx context.Context) error {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	start := time.Now()
	err := p.cfg.Retry.Do(ctx, p.tick)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordPollTick(p.program, time.Since(start).Seconds(), err)
	}
	return err
}

func (p *PollingLoop) tick(ctx context.Context) error {
	loaded, err := p.cfg.Store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}
	if loaded == nil {
		p.walk = nil
		return p.seed(ctx)
	}

	until, err := solana.SignatureFromBase58(loaded.Signature)
	if err != nil {
		return retry.Permanent(fmt.Errorf("cursor signature %q: %w", loaded.Signature, err))
	}
	if p.walk == nil || p.walk.cursor != loaded.String() {
		p.walk = newPageWalk(loaded)
	}
	w := p.walk

	// above is the page at depth-1 when it was fetched during this tick.
	var above []ledger.SignatureInfo
	for fetched := 0; ; fetched++ {
		if ctx.Err() != nil {
			return retry.Aborted(ctx)
		}
		if fetched == p.cfg.MaxPagesPerTick {
			p.logger.DebugContext(ctx, "page walk paused",
				"cursor", loaded.String(),
				"depth", len(w.anchors)-1,
			)
			return nil
		}

		depth := len(w.anchors) - 1
		page, err := p.cfg.Ledger.ListSignatures(ctx, p.cfg.Decoder.ProgramID(), ledger.ListOptions{
			Before: w.anchors[depth],
			Until:  until,
			Limit:  p.cfg.BatchSize,
		})
		if err != nil {
			return fmt.Errorf("failed to list signatures: %w", err)
		}

		switch {
		case len(page) == 0 && depth == 0:
			p.logger.DebugContext(ctx, "no new signatures", "cursor", loaded.String())
			return nil
		case len(page) == 0 && above != nil:
			return p.advance(ctx, loaded, w, depth-1, above)
		case len(page) == 0:
			// The full page above was fetched by an earlier tick; fetch it again.
			w.anchors = w.anchors[:depth]
			w.settled = depth > 1
		case len(page) < p.cfg.BatchSize || w.settled:
			return p.advance(ctx, loaded, w, depth, page)
		default:
			w.anchors = append(w.anchors, page[len(page)-1].Signature)
			above = page
		}
	}
}

// advance processes page, fetched at depth, saves its cursor and moves the walk up
// one level: the page above now borders the cursor.
func (p *PollingLoop) advance(
	ctx context.Context,
	loaded *cursor.Cursor,
	w *pageWalk,
	depth int,
	page []ledger.SignatureInfo,
) error {
	next, err := p.processPage(ctx, page)
	if err != nil {
		return err
	}
	if next.Slot < loaded.Slot {
		p.logger.WarnContext(ctx, "refusing to move cursor backwards",
			"loaded", loaded.String(),
			"next", next.String(),
		)
		p.walk = nil
		return nil
	}
	if err := p.save(ctx, *next); err != nil {
		return err
	}

	// The unbounded page may have grown, so it is never settled.
	w.anchors = w.anchors[:max(depth, 1)]
	w.settled = depth >= 2
	w.cursor = next.String()
	return nil
}

// seed starts a cursor-less topic at its newest signature without dispatching.
func (p *PollingLoop) seed(ctx context.Context) error {
	sigs, err := p.cfg.Ledger.ListSignatures(ctx, p.cfg.Decoder.ProgramID(), ledger.ListOptions{Limit: 1})
	if err != nil {
		return fmt.Errorf("failed to fetch latest signature: %w", err)
	}
	if len(sigs) == 0 {
		p.logger.DebugContext(ctx, "program has no signatures yet")
		return nil
	}
	c := cursor.Cursor{Signature: sigs[0].Signature.String(), Slot: sigs[0].Slot}
	p.logger.InfoContext(ctx, "initialised cursor at latest signature", "cursor", c.String())
	return p.save(ctx, c)
}

func (p *PollingLoop) save(ctx context.Context, c cursor.Cursor) error {
	if err := p.cfg.Store.Save(ctx, c); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordCursorSlot(p.program, c.Slot)
	}
	return nil
}

// processPage dispatches page (newest first) in chronological order and returns the
// cursor of its newest signature.
func (p *PollingLoop) processPage(ctx context.Context, page []ledger.SignatureInfo) (*cursor.Cursor, error) {
	var dispatched, failed, reverted int
	for i := len(page) - 1; i >= 0; i-- {
		info := page[i]
		if info.Failed() {
			failed++
			continue
		}

		tx, err := p.cfg.Ledger.GetTransaction(ctx, info.Signature)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch transaction %s: %w", info.Signature, err)
		}
		if tx.Failed() {
			reverted++
			continue
		}

		obj, err := NewTransactionObject(tx, p.cfg.Decoder)
		if err != nil {
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.RecordDecodeError(p.program, "logs")
			}
			return nil, err
		}
		if len(obj.Events) == 0 {
			continue
		}
		if p.cfg.Metrics != nil {
			for _, ev := range obj.Events {
				p.cfg.Metrics.RecordEventsDecoded(p.program, ev.Name, 1)
			}
		}
		p.cfg.Dispatcher.Dispatch(ctx, SourcePoll, obj)
		dispatched++
	}

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordTransactionsSkipped(p.program, "failed", failed)
		p.cfg.Metrics.RecordTransactionsSkipped(p.program, "reverted", reverted)
	}
	p.logger.DebugContext(ctx, "processed signature page",
		"signatures", len(page),
		"dispatched", dispatched,
		"failed", failed,
		"reverted", reverted,
	)

	newest := page[0]
	return &cursor.Cursor{Signature: newest.Signature.String(), Slot: newest.Slot}, nil
}
