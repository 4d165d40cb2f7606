package solana

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
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// ErrUnknownSubscription is returned by Unsubscribe for ids that are not active.
var ErrUnknownSubscription = errors.New("unknown subscription")

// LogStream is a single logsSubscribe stream.
type LogStream interface {
	Recv(ctx context.Context) (*ws.LogResult, error)
	Unsubscribe()
}

// WSConn is the websocket capability needed for log subscriptions.
type WSConn interface {
	SubscribeLogs(programID solana.PublicKey, commitment rpc.CommitmentType) (LogStream, error)
	Close()
}

// Dialer opens a websocket connection to url.
type Dialer func(ctx context.Context, url string) (WSConn, error)

// realWSConn adapts the solana-go websocket client to WSConn.
type realWSConn struct {
	client *ws.Client
}

// DialWS connects with the solana-go websocket client.
func DialWS(ctx context.Context, url string) (WSConn, error) {
	client, err := ws.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &realWSConn{client: client}, nil
}

func (r *realWSConn) SubscribeLogs(programID solana.PublicKey, commitment rpc.CommitmentType) (LogStream, error) {
	sub, err := r.client.LogsSubscribeMentions(programID, commitment)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *realWSConn) Close() {
	r.client.Close()
}

// Subscriber implements ledger.LogSubscriber over websocket logsSubscribe.
// Handlers registered for the same program share one stream; a broken stream is
// re-established with the retry executor until the last handler unsubscribes.
type Subscriber struct {
	url        string
	dial       Dialer
	commitment rpc.CommitmentType
	retry      *retry.Executor
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	nextID  ledger.SubscriptionID
	streams map[solana.PublicKey]*programStream
	owners  map[ledger.SubscriptionID]solana.PublicKey
}

var _ ledger.LogSubscriber = (*Subscriber)(nil)

type programStream struct {
	programID solana.PublicKey
	handlers  map[ledger.SubscriptionID]ledger.LogHandler
	order     []ledger.SubscriptionID
	cancel    context.CancelFunc
	done      chan struct{}
}

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	URL        string
	Commitment rpc.CommitmentType
	// Dial defaults to DialWS.
	Dial Dialer
	// Retry governs connect and resubscribe attempts. Nil uses retry.DefaultPolicy.
	Retry   *retry.Executor
	Metrics *metrics.Metrics
}

// NewSubscriber creates a Subscriber. No connection is made until the first SubscribeLogs.
func NewSubscriber(cfg SubscriberConfig, logger *slog.Logger) *Subscriber {
	logger = logger.With("component", "solana_subscriber")
	if cfg.Dial == nil {
		cfg.Dial = DialWS
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.New(retry.DefaultPolicy(), logger)
	}
	return &Subscriber{
		url:        cfg.URL,
		dial:       cfg.Dial,
		commitment: cfg.Commitment,
		retry:      cfg.Retry,
		logger:     logger,
		metrics:    cfg.Metrics,
		streams:    make(map[solana.PublicKey]*programStream),
		owners:     make(map[ledger.SubscriptionID]solana.PublicKey),
	}
}

// SubscribeLogs registers handler for log notifications mentioning programID.
// Connecting happens outside the subscriber lock; when two callers race to open the
// same program's stream, the later connection is closed and both share the first.
func (s *Subscriber) SubscribeLogs(ctx context.Context, programID solana.PublicKey, handler ledger.LogHandler) (ledger.SubscriptionID, error) {
	s.mu.Lock()
	if ps, ok := s.streams[programID]; ok {
		id := s.addHandler(ps, handler)
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	conn, stream, err := s.connect(ctx, programID)
	if err != nil {
		return 0, fmt.Errorf("failed to subscribe to logs of %s: %w", programID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.streams[programID]; ok {
		stream.Unsubscribe()
		conn.Close()
		return s.addHandler(ps, handler), nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ps := &programStream{
		programID: programID,
		handlers:  make(map[ledger.SubscriptionID]ledger.LogHandler),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.streams[programID] = ps
	go s.run(runCtx, ps, conn, stream)

	s.logger.InfoContext(ctx, "subscribed to program logs",
		"program", programID.String(),
		"commitment", s.commitment,
	)
	return s.addHandler(ps, handler), nil
}

// addHandler must be called with s.mu held.
func (s *Subscriber) addHandler(ps *programStream, handler ledger.LogHandler) ledger.SubscriptionID {
	s.nextID++
	id := s.nextID
	ps.handlers[id] = handler
	ps.order = append(ps.order, id)
	s.owners[id] = ps.programID
	return id
}

// Unsubscribe removes a handler. The program's stream is closed with its last handler.
func (s *Subscriber) Unsubscribe(id ledger.SubscriptionID) error {
	s.mu.Lock()
	programID, ok := s.owners[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownSubscription, id)
	}
	delete(s.owners, id)

	ps := s.streams[programID]
	delete(ps.handlers, id)
	for i, v := range ps.order {
		if v == id {
			ps.order = append(ps.order[:i:i], ps.order[i+1:]...)
			break
		}
	}
	if len(ps.handlers) > 0 {
		s.mu.Unlock()
		return nil
	}
	delete(s.streams, programID)
	s.mu.Unlock()

	ps.cancel()
	<-ps.done
	s.logger.Info("unsubscribed from program logs", "program", programID.String())
	return nil
}

// Close tears down every stream.
func (s *Subscriber) Close() {
	s.mu.Lock()
	streams := make([]*programStream, 0, len(s.streams))
	for _, ps := range s.streams {
		streams = append(streams, ps)
	}
	s.streams = make(map[solana.PublicKey]*programStream)
	s.owners = make(map[ledger.SubscriptionID]solana.PublicKey)
	s.mu.Unlock()

	for _, ps := range streams {
		ps.cancel()
		<-ps.done
	}
}

func (s *Subscriber) connect(ctx context.Context, programID solana.PublicKey) (WSConn, LogStream, error) {
	type session struct {
		conn   WSConn
		stream LogStream
	}
	out, err := retry.Run(ctx, s.retry, func(ctx context.Context) (session, error) {
		conn, err := s.dial(ctx, s.url)
		if err != nil {
			return session{}, fmt.Errorf("failed to dial %s: %w", s.url, err)
		}
		stream, err := conn.SubscribeLogs(programID, s.commitment)
		if err != nil {
			conn.Close()
			return session{}, fmt.Errorf("failed to send logsSubscribe: %w", err)
		}
		return session{conn: conn, stream: stream}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out.conn, out.stream, nil
}

func (s *Subscriber) run(ctx context.Context, ps *programStream, conn WSConn, stream LogStream) {
	defer close(ps.done)
	defer func() {
		if stream != nil {
			stream.Unsubscribe()
		}
		if conn != nil {
			conn.Close()
		}
	}()

	program := ps.programID.String()
	for {
		res, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.WarnContext(ctx, "log subscription broken, resubscribing",
				"program", program,
				"error", err,
			)
			stream.Unsubscribe()
			conn.Close()
			stream, conn = nil, nil

			conn, stream, err = s.reconnect(ctx, ps.programID)
			if err != nil {
				// only cancellation ends reconnect
				return
			}
			continue
		}
		if res == nil {
			continue
		}

		n := ledger.LogNotification{
			Signature: res.Value.Signature,
			Slot:      res.Context.Slot,
			Err:       res.Value.Err,
			Logs:      res.Value.Logs,
		}
		for _, h := range s.handlersFor(ps) {
			s.deliver(ctx, h, n)
		}
	}
}

// reconnect retries connect until it succeeds or ctx is cancelled.
func (s *Subscriber) reconnect(ctx context.Context, programID solana.PublicKey) (WSConn, LogStream, error) {
	for {
		conn, stream, err := s.connect(ctx, programID)
		if s.metrics != nil {
			s.metrics.RecordResubscribe(programID.String(), err)
		}
		if err == nil {
			s.logger.InfoContext(ctx, "log subscription re-established", "program", programID.String())
			return conn, stream, nil
		}
		if ctx.Err() != nil {
			return nil, nil, retry.Aborted(ctx)
		}
		wait := s.retry.Policy().Backoff(s.retry.Policy().MaxRetries)
		s.logger.ErrorContext(ctx, "failed to resubscribe to program logs",
			"program", programID.String(),
			"error", err,
			"next_attempt_in", wait,
		)
		if err := retry.Sleep(ctx, max(wait, time.Second)); err != nil {
			return nil, nil, retry.Aborted(ctx)
		}
	}
}

func (s *Subscriber) handlersFor(ps *programStream) []ledger.LogHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.LogHandler, 0, len(ps.order))
	for _, id := range ps.order {
		out = append(out, ps.handlers[id])
	}
	return out
}

func (s *Subscriber) deliver(ctx context.Context, h ledger.LogHandler, n ledger.LogNotification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "log handler panicked",
				"signature", n.Signature.String(),
				"panic", r,
			)
		}
	}()
	h(ctx, n)
}
