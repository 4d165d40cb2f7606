package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelListener_DropsWhenFull(t *testing.T) {
	cl := NewChannelListener(1, testLogger())

	require.NoError(t, cl.HandleEvents(context.Background(), []Event{{Name: "A"}}))
	require.NoError(t, cl.HandleEvents(context.Background(), []Event{{Name: "B"}}))

	assert.Equal(t, uint64(1), cl.Dropped())
	batch := <-cl.C()
	assert.Equal(t, "A", batch[0].Name)
}

func TestFilter_Match(t *testing.T) {
	ev := Event{
		Name: "Claim",
		Data: map[string]any{"amount": 1500, "owner": "abc"},
		Slot: 99,
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{name: "name equality", expr: `.name == "Claim"`, want: true},
		{name: "name mismatch", expr: `.name == "Refund"`, want: false},
		{name: "numeric data", expr: `.data.amount > 1000`, want: true},
		{name: "missing field is null", expr: `.data.missing`, want: false},
		{name: "non-boolean result is truthy", expr: `.data.owner`, want: true},
		{name: "empty output", expr: `empty`, want: false},
		{name: "slot", expr: `.slot >= 100`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := CompileFilter(tt.expr)
			require.NoError(t, err)
			got, err := f.Match(context.Background(), ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileFilter_Invalid(t *testing.T) {
	_, err := CompileFilter(`.name ==`)
	assert.Error(t, err)

	_, err = CompileFilter(`$undefined`)
	assert.Error(t, err)
}

func TestFilter_RuntimeError(t *testing.T) {
	f, err := CompileFilter(`.name | tonumber`)
	require.NoError(t, err)

	_, err = f.Match(context.Background(), Event{Name: "Claim"})
	assert.Error(t, err)
}

func TestFilteredListener(t *testing.T) {
	onlyClaims, err := CompileFilter(`.name == "Claim"`)
	require.NoError(t, err)
	big, err := CompileFilter(`.data.amount >= 10`)
	require.NoError(t, err)

	rec := &recorder{}
	fl := NewFilteredListener(rec, onlyClaims, big)

	batch := []Event{
		{Name: "Claim", Data: map[string]any{"amount": 5}},
		{Name: "Claim", Data: map[string]any{"amount": 50}},
		{Name: "Refund", Data: map[string]any{"amount": 50}},
	}
	require.NoError(t, fl.HandleEvents(context.Background(), batch))
	require.Len(t, rec.batches, 1)
	require.Len(t, rec.batches[0], 1)
	assert.Equal(t, 50, rec.batches[0][0].Data["amount"])

	require.NoError(t, fl.HandleEvents(context.Background(), []Event{{Name: "Refund"}}))
	assert.Equal(t, 1, rec.count(), "fully filtered batches are not forwarded")
}
