package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/ledger"
	"github.com/atomiqlabs/atomiq-chain-solana/service/metrics"
	"github.com/atomiqlabs/atomiq-chain-solana/service/retry"
)

// ErrAlreadyRunning is returned when starting a producer that is already running.
var ErrAlreadyRunning = errors.New("already running")

// LiveConfig configures a LiveSubscription.
type LiveConfig struct {
	Subscriber ledger.LogSubscriber
	// Fetcher resolves instructions of live events on demand. Optional.
	Fetcher    ledger.TransactionFetcher
	Decoder    Decoder
	Dispatcher *Dispatcher
	// Kinds gets one subscription handler each. Empty subscribes a single handler
	// for every event the decoder knows.
	Kinds   []string
	Retry   *retry.Executor
	Metrics *metrics.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// LiveSubscription dispatches events from program log notifications as they arrive.
type LiveSubscription struct {
	cfg    LiveConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	ids     []ledger.SubscriptionID
}

// NewLiveSubscription creates a LiveSubscription. Nothing is subscribed until Start.
func NewLiveSubscription(cfg LiveConfig, logger *slog.Logger) *LiveSubscription {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LiveSubscription{
		cfg:    cfg,
		logger: logger.With("component", "live_subscription"),
	}
}

// Start subscribes one handler per configured kind. If any subscription fails the
// ones already made are removed.
func (l *LiveSubscription) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return ErrAlreadyRunning
	}

	kinds := l.cfg.Kinds
	if len(kinds) == 0 {
		kinds = []string{""}
	}

	programID := l.cfg.Decoder.ProgramID()
	ids := make([]ledger.SubscriptionID, 0, len(kinds))
	for _, kind := range kinds {
		id, err := l.cfg.Subscriber.SubscribeLogs(ctx, programID, l.handler(kind))
		if err != nil {
			l.unsubscribeAll(ids)
			return fmt.Errorf("failed to subscribe to %q events: %w", kind, err)
		}
		ids = append(ids, id)
	}

	l.ids = ids
	l.running = true
	l.logger.InfoContext(ctx, "live subscription started",
		"program", programID.String(),
		"kinds", kinds,
	)
	return nil
}

// Stop removes every subscription. It is safe to call without Start and more than once.
func (l *LiveSubscription) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.unsubscribeAll(l.ids)
	l.ids = nil
	l.running = false
	l.logger.Info("live subscription stopped")
}

func (l *LiveSubscription) unsubscribeAll(ids []ledger.SubscriptionID) {
	for _, id := range ids {
		if err := l.cfg.Subscriber.Unsubscribe(id); err != nil {
			l.logger.Warn("failed to unsubscribe", "subscription_id", id, "error", err)
		}
	}
}

// handler returns the notification callback for kind ("" accepts every event).
func (l *LiveSubscription) handler(kind string) ledger.LogHandler {
	program := l.cfg.Decoder.ProgramID().String()

	return func(ctx context.Context, n ledger.LogNotification) {
		defer func() {
			if r := recover(); r != nil {
				l.logger.ErrorContext(ctx, "live event handler panicked",
					"signature", n.Signature.String(),
					"kind", kind,
					"panic", r,
				)
			}
		}()

		if n.Err != nil {
			l.record(program, "reverted")
			return
		}

		decoded, err := l.cfg.Decoder.DecodeLogs(n.Logs)
		if err != nil {
			l.logger.ErrorContext(ctx, "failed to decode live notification",
				"signature", n.Signature.String(),
				"slot", n.Slot,
				"error", err,
			)
			if l.cfg.Metrics != nil {
				l.cfg.Metrics.RecordDecodeError(program, "logs")
			}
			return
		}

		matched := decoded[:0:0]
		for _, ev := range decoded {
			if kind == "" || ev.Name == kind {
				matched = append(matched, ev)
			}
		}
		if len(matched) == 0 {
			l.record(program, "ignored")
			return
		}
		l.record(program, "ok")

		objects := NewNotificationObjects(n, matched, l.cfg.Now(), l.cfg.Fetcher, l.cfg.Decoder, l.cfg.Retry)
		for _, obj := range objects {
			if l.cfg.Metrics != nil {
				l.cfg.Metrics.RecordEventsDecoded(program, obj.Events[0].Name, 1)
			}
			l.cfg.Dispatcher.Dispatch(ctx, SourceLive, obj)
		}
	}
}

func (l *LiveSubscription) record(program, status string) {
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.RecordLogNotification(program, status)
	}
}
