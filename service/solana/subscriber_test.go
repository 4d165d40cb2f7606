package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/ledger"
	"github.com/atomiqlabs/atomiq-chain-solana/service/retry"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream feeds queued results; a queued error breaks the stream.
type fakeStream struct {
	items        chan any
	unsubscribed atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{items: make(chan any, 16)}
}

func (f *fakeStream) Recv(ctx context.Context) (*ws.LogResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case item := <-f.items:
		if err, ok := item.(error); ok {
			return nil, err
		}
		return item.(*ws.LogResult), nil
	}
}

func (f *fakeStream) Unsubscribe() {
	f.unsubscribed.Store(true)
}

type fakeConn struct {
	stream *fakeStream
	closed atomic.Bool
}

func (c *fakeConn) SubscribeLogs(programID solana.PublicKey, commitment rpc.CommitmentType) (LogStream, error) {
	return c.stream, nil
}

func (c *fakeConn) Close() {
	c.closed.Store(true)
}

// fakeDialer hands out a new connection per dial. A non-nil gate holds every dial
// until it is closed.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failures int
	gate     chan struct{}
	held     atomic.Int32
}

func (d *fakeDialer) dial(ctx context.Context, url string) (WSConn, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		d.held.Add(1)
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{stream: newFakeStream()}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func logResult(sig solana.Signature, slot uint64, logs ...string) *ws.LogResult {
	res := &ws.LogResult{}
	res.Context.Slot = slot
	res.Value.Signature = sig
	res.Value.Logs = logs
	return res
}

func newTestSubscriber(d *fakeDialer) *Subscriber {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := retry.New(retry.Policy{MaxRetries: 3, Delay: time.Millisecond}, logger)
	return NewSubscriber(SubscriberConfig{URL: "ws://test", Dial: d.dial, Retry: exec}, logger)
}

type collector struct {
	mu  sync.Mutex
	got []ledger.LogNotification
}

func (c *collector) handle(ctx context.Context, n ledger.LogNotification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestSubscriber_DeliversToAllHandlers(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSubscriber(d)
	defer s.Close()

	program := testKey(1)
	var a, b collector
	idA, err := s.SubscribeLogs(context.Background(), program, a.handle)
	require.NoError(t, err)
	idB, err := s.SubscribeLogs(context.Background(), program, b.handle)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	// handlers of one program share a connection
	require.Equal(t, 1, d.count())
	d.conn(0).stream.items <- logResult(testSig(1), 10, "Program log: x")

	require.Eventually(t, func() bool { return a.len() == 1 && b.len() == 1 }, time.Second, 5*time.Millisecond)
	a.mu.Lock()
	assert.Equal(t, testSig(1), a.got[0].Signature)
	assert.Equal(t, uint64(10), a.got[0].Slot)
	assert.Equal(t, []string{"Program log: x"}, a.got[0].Logs)
	a.mu.Unlock()
}

func TestSubscriber_UnsubscribeClosesStreamWithLastHandler(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSubscriber(d)

	program := testKey(1)
	var a, b collector
	idA, err := s.SubscribeLogs(context.Background(), program, a.handle)
	require.NoError(t, err)
	idB, err := s.SubscribeLogs(context.Background(), program, b.handle)
	require.NoError(t, err)

	require.NoError(t, s.Unsubscribe(idA))
	conn := d.conn(0)
	assert.False(t, conn.closed.Load())

	conn.stream.items <- logResult(testSig(2), 11)
	require.Eventually(t, func() bool { return b.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, a.len())

	require.NoError(t, s.Unsubscribe(idB))
	assert.True(t, conn.closed.Load())
	assert.True(t, conn.stream.unsubscribed.Load())

	err = s.Unsubscribe(idB)
	assert.ErrorIs(t, err, ErrUnknownSubscription)
}

func TestSubscriber_ResubscribesAfterStreamError(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSubscriber(d)
	defer s.Close()

	var c collector
	_, err := s.SubscribeLogs(context.Background(), testKey(1), c.handle)
	require.NoError(t, err)

	d.conn(0).stream.items <- errors.New("websocket: close 1006")
	require.Eventually(t, func() bool { return d.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, d.conn(0).closed.Load())

	d.conn(1).stream.items <- logResult(testSig(3), 12)
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSubscriber_HandlerPanicDoesNotStopStream(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSubscriber(d)
	defer s.Close()

	var calls atomic.Int32
	_, err := s.SubscribeLogs(context.Background(), testKey(1), func(ctx context.Context, n ledger.LogNotification) {
		if calls.Add(1) == 1 {
			panic("bad event")
		}
	})
	require.NoError(t, err)

	stream := d.conn(0).stream
	stream.items <- logResult(testSig(1), 1)
	stream.items <- logResult(testSig(2), 2)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSubscriber_ConnectRetries(t *testing.T) {
	d := &fakeDialer{failures: 2}
	s := newTestSubscriber(d)
	defer s.Close()

	_, err := s.SubscribeLogs(context.Background(), testKey(1), func(context.Context, ledger.LogNotification) {})
	require.NoError(t, err)
	assert.Equal(t, 1, d.count())
}

func TestSubscriber_ConnectGivesUp(t *testing.T) {
	d := &fakeDialer{failures: 10}
	s := newTestSubscriber(d)
	defer s.Close()

	_, err := s.SubscribeLogs(context.Background(), testKey(1), func(context.Context, ledger.LogNotification) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSubscriber_PendingConnectDoesNotBlockOthers(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSubscriber(d)
	defer s.Close()

	var c collector
	id, err := s.SubscribeLogs(context.Background(), testKey(2), c.handle)
	require.NoError(t, err)

	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()

	subscribed := make(chan error, 1)
	go func() {
		_, err := s.SubscribeLogs(context.Background(), testKey(1), c.handle)
		subscribed <- err
	}()
	require.Eventually(t, func() bool { return d.held.Load() == 1 }, time.Second, time.Millisecond)

	unsubscribed := make(chan error, 1)
	go func() { unsubscribed <- s.Unsubscribe(id) }()
	select {
	case err := <-unsubscribed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe waited for another program's connect")
	}

	close(gate)
	require.NoError(t, <-subscribed)
}

func TestSubscriber_ConcurrentSubscribesShareOneStream(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	s := newTestSubscriber(d)
	defer s.Close()

	var a, b collector
	var wg sync.WaitGroup
	for _, c := range []*collector{&a, &b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SubscribeLogs(context.Background(), testKey(1), c.handle)
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return d.held.Load() == 2 }, time.Second, time.Millisecond)
	close(gate)
	wg.Wait()

	require.Equal(t, 2, d.count())
	closed := 0
	for i := 0; i < 2; i++ {
		if d.conn(i).closed.Load() {
			closed++
		}
	}
	assert.Equal(t, 1, closed, "the losing connection is closed")

	s.mu.Lock()
	ps := s.streams[testKey(1)]
	require.NotNil(t, ps)
	assert.Len(t, ps.handlers, 2)
	s.mu.Unlock()
}
