package events

import (
	"context"
	"testing"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/cursor"
	"github.com/atomiqlabs/atomiq-chain-solana/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, withPoller bool) (*Pipeline, *fakeSubscriber, *fakeLedger, *cursor.Memory) {
	t.Helper()
	sub := newFakeSubscriber()
	fl := newFakeLedger()
	dec := newFakeDecoder()
	store := cursor.NewMemory()
	d := NewDispatcher(testProgram.String(), nil, nil, testLogger())

	cfg := PipelineConfig{
		Dispatcher: d,
		Live: NewLiveSubscription(LiveConfig{
			Subscriber: sub,
			Fetcher:    fl,
			Decoder:    dec,
			Dispatcher: d,
		}, testLogger()),
	}
	if withPoller {
		cfg.Poller = NewPollingLoop(PollerConfig{
			Ledger:     fl,
			Decoder:    dec,
			Dispatcher: d,
			Store:      store,
			Interval:   10 * time.Millisecond,
		}, testLogger())
	}
	return NewPipeline(cfg, testLogger()), sub, fl, store
}

func TestPipeline_InitStartsBothProducers(t *testing.T) {
	p, sub, fl, store := newTestPipeline(t, true)
	fl.push(testSig(1), 100)

	rec := &recorder{}
	id := p.RegisterListener(rec)

	require.NoError(t, p.Init(context.Background(), Options{}))
	defer p.Stop()
	assert.True(t, p.Running())
	assert.Equal(t, 1, sub.active())

	require.Eventually(t, func() bool {
		c, _ := store.Load(context.Background())
		return c != nil
	}, time.Second, 5*time.Millisecond)

	sub.emit(testNotification("event:Live"))
	assert.Equal(t, []string{"Live"}, rec.names())

	assert.True(t, p.UnregisterListener(id))
	sub.emit(testNotification("event:Ignored"))
	assert.Equal(t, 1, rec.count())
}

func TestPipeline_DisablePolling(t *testing.T) {
	p, sub, fl, store := newTestPipeline(t, true)
	fl.push(testSig(1), 100)

	require.NoError(t, p.Init(context.Background(), Options{DisablePolling: true}))
	defer p.Stop()

	assert.Equal(t, 1, sub.active())
	time.Sleep(50 * time.Millisecond)
	c, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, c, "poller never ran")
}

func TestPipeline_WithoutPoller(t *testing.T) {
	p, sub, _, _ := newTestPipeline(t, false)

	require.NoError(t, p.Init(context.Background(), Options{}))
	assert.Equal(t, 1, sub.active())
	p.Stop()
	assert.Zero(t, sub.active())
}

func TestPipeline_StopIsIdempotent(t *testing.T) {
	p, sub, _, _ := newTestPipeline(t, true)

	p.Stop()
	require.NoError(t, p.Init(context.Background(), Options{}))
	assert.ErrorIs(t, p.Init(context.Background(), Options{}), ErrAlreadyRunning)

	p.Stop()
	p.Stop()
	assert.False(t, p.Running())
	assert.Zero(t, sub.active())
}

func TestPipeline_InitFailureStopsLive(t *testing.T) {
	p, sub, _, _ := newTestPipeline(t, true)
	require.NoError(t, p.cfg.Poller.Start(context.Background()))
	defer p.cfg.Poller.Stop()

	err := p.Init(context.Background(), Options{})
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Zero(t, sub.active())
	assert.False(t, p.Running())
}

func testNotification(logs ...string) ledger.LogNotification {
	return ledger.LogNotification{Signature: testSig(0x42), Slot: 500, Logs: logs}
}
