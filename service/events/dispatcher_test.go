package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testObject(names ...string) *EventObject {
	obj := &EventObject{
		BlockTime: time.Unix(1_700_000_123, 456_000_000),
		Signature: testSig(7),
		Slot:      4242,
	}
	for i, n := range names {
		obj.Events = append(obj.Events, TypedEvent{Name: n, Data: map[string]any{"name": n}, Index: i})
	}
	return obj
}

func TestDispatcher_RegistrationOrder(t *testing.T) {
	d := NewDispatcher("prog", nil, nil, testLogger())

	var calls []string
	for _, name := range []string{"first", "second", "third"} {
		d.Register(ListenerFunc(func(ctx context.Context, events []Event) error {
			calls = append(calls, name)
			return nil
		}))
	}

	n := d.Dispatch(context.Background(), SourcePoll, testObject("A"))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestDispatcher_IsolatesFailingListeners(t *testing.T) {
	d := NewDispatcher("prog", nil, nil, testLogger())

	d.Register(ListenerFunc(func(ctx context.Context, events []Event) error {
		return errors.New("listener broke")
	}))
	d.Register(ListenerFunc(func(ctx context.Context, events []Event) error {
		panic("listener exploded")
	}))
	rec := &recorder{}
	d.Register(rec)

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), SourceLive, testObject("A", "B"))
	})
	assert.Equal(t, []string{"A", "B"}, rec.names())
}

func TestDispatcher_Unregister(t *testing.T) {
	d := NewDispatcher("prog", nil, nil, testLogger())
	a, b := &recorder{}, &recorder{}
	idA := d.Register(a)
	d.Register(b)

	assert.True(t, d.Unregister(idA))
	assert.False(t, d.Unregister(idA))
	assert.Equal(t, 1, d.Len())

	d.Dispatch(context.Background(), SourcePoll, testObject("A"))
	assert.Zero(t, a.count())
	assert.Equal(t, 1, b.count())
}

func TestDispatcher_UnregisterDuringDispatch(t *testing.T) {
	d := NewDispatcher("prog", nil, nil, testLogger())
	rec := &recorder{}

	var recID ListenerID
	d.Register(ListenerFunc(func(ctx context.Context, events []Event) error {
		d.Unregister(recID)
		return nil
	}))
	recID = d.Register(rec)

	d.Dispatch(context.Background(), SourcePoll, testObject("A"))
	assert.Equal(t, 1, rec.count(), "dispatch uses the registry snapshot taken at call time")

	d.Dispatch(context.Background(), SourcePoll, testObject("B"))
	assert.Equal(t, 1, rec.count())
}

func TestDispatcher_KindFilter(t *testing.T) {
	d := NewDispatcher("prog", []string{"Claim", "Refund"}, nil, testLogger())
	rec := &recorder{}
	d.Register(rec)

	assert.True(t, d.Accepts("Claim"))
	assert.False(t, d.Accepts("Initialize"))
	assert.ElementsMatch(t, []string{"Claim", "Refund"}, d.Kinds())

	n := d.Dispatch(context.Background(), SourcePoll, testObject("Refund", "Initialize", "Claim"))
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"Refund", "Claim"}, rec.names())

	n = d.Dispatch(context.Background(), SourcePoll, testObject("Initialize"))
	assert.Zero(t, n)
	assert.Equal(t, 1, rec.count(), "empty batches are not delivered")
}

func TestDispatcher_EventMetadata(t *testing.T) {
	d := NewDispatcher("prog", nil, nil, testLogger())
	rec := &recorder{}
	d.Register(rec)

	d.Dispatch(context.Background(), SourcePoll, testObject("A", "A"))

	require.Len(t, rec.batches, 1)
	require.Len(t, rec.batches[0], 2)
	assert.Equal(t, 1, rec.batches[0][1].LogIndex)
	ev := rec.batches[0][0]
	assert.Zero(t, ev.LogIndex)
	assert.Equal(t, "A", ev.Name)
	assert.Equal(t, map[string]any{"name": "A"}, ev.Data)
	assert.Equal(t, int64(1_700_000_123), ev.BlockTime)
	assert.Equal(t, int64(1_700_000_123_456), ev.Timestamp)
	assert.Equal(t, testSig(7).String(), ev.TxID)
	assert.Equal(t, uint64(4242), ev.Slot)
	assert.Equal(t, "prog", ev.Program)
}
