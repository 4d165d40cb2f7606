package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/retry"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister serves a fixed newest-first history, honoring Before and Until.
type fakeLister struct {
	mu      sync.Mutex
	history []SignatureInfo
	calls   []ListOptions
	failN   int
	onList  func(call int)
}

func (f *fakeLister) ListSignatures(ctx context.Context, topic solana.PublicKey, opts ListOptions) ([]SignatureInfo, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	call := len(f.calls)
	if f.failN > 0 {
		f.failN--
		f.mu.Unlock()
		return nil, assert.AnError
	}
	f.mu.Unlock()

	if f.onList != nil {
		f.onList(call)
	}

	start := 0
	if !opts.Before.IsZero() {
		start = len(f.history)
		for i, s := range f.history {
			if s.Signature == opts.Before {
				start = i + 1
				break
			}
		}
	}

	var out []SignatureInfo
	for _, s := range f.history[start:] {
		if !opts.Until.IsZero() && s.Signature == opts.Until {
			break
		}
		if len(out) == opts.Limit {
			break
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sig(n int) solana.Signature {
	var s solana.Signature
	s[0] = byte(n)
	s[1] = byte(n >> 8)
	s[63] = 1
	return s
}

// history returns n signatures, newest (highest slot) first.
func history(n int) []SignatureInfo {
	out := make([]SignatureInfo, n)
	for i := range out {
		out[i] = SignatureInfo{Signature: sig(n - i), Slot: uint64(1000 + n - i)}
	}
	return out
}

func noMatch(ctx context.Context, page []SignatureInfo) (*SignatureInfo, error) {
	return nil, nil
}

func TestScanBackward_ExhaustsHistory(t *testing.T) {
	tests := []struct {
		name      string
		items     int
		batch     int
		wantCalls int
	}{
		{name: "empty history", items: 0, batch: 10, wantCalls: 1},
		{name: "partial single page", items: 7, batch: 10, wantCalls: 1},
		{name: "exact multiple needs a trailing empty page", items: 20, batch: 10, wantCalls: 3},
		{name: "uneven", items: 25, batch: 10, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &fakeLister{history: history(tt.items)}
			var seen int
			out, err := ScanBackward(context.Background(), lister, solana.PublicKey{},
				func(ctx context.Context, page []SignatureInfo) (*SignatureInfo, error) {
					seen += len(page)
					return nil, nil
				},
				ScanOptions{BatchSize: tt.batch},
			)
			require.NoError(t, err)
			assert.Nil(t, out)
			assert.Equal(t, tt.items, seen)
			assert.Equal(t, tt.wantCalls, lister.callCount())
		})
	}
}

func TestScanBackward_StopsOnMatch(t *testing.T) {
	lister := &fakeLister{history: history(50)}
	target := lister.history[23]

	out, err := ScanBackward(context.Background(), lister, solana.PublicKey{},
		func(ctx context.Context, page []SignatureInfo) (*SignatureInfo, error) {
			for _, s := range page {
				if s.Signature == target.Signature {
					found := s
					return &found, nil
				}
			}
			return nil, nil
		},
		ScanOptions{BatchSize: 10},
	)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, target.Signature, out.Signature)
	// index 23 is on the third page
	assert.Equal(t, 3, lister.callCount())
}

func TestScanBackward_PagesChainBeforeAndUntil(t *testing.T) {
	lister := &fakeLister{history: history(30)}
	until := lister.history[25].Signature

	_, err := ScanBackward(context.Background(), lister, solana.PublicKey{}, noMatch,
		ScanOptions{BatchSize: 10, Until: until})
	require.NoError(t, err)

	require.Len(t, lister.calls, 3)
	assert.True(t, lister.calls[0].Before.IsZero())
	assert.Equal(t, lister.history[9].Signature, lister.calls[1].Before)
	assert.Equal(t, lister.history[19].Signature, lister.calls[2].Before)
	for _, c := range lister.calls {
		assert.Equal(t, until, c.Until)
		assert.Equal(t, 10, c.Limit)
	}
}

func TestScanBackward_CancelledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lister := &fakeLister{history: history(100)}
	pages := 0
	_, err := ScanBackward(ctx, lister, solana.PublicKey{},
		func(ctx context.Context, page []SignatureInfo) (*SignatureInfo, error) {
			pages++
			if pages == 2 {
				cancel()
			}
			return nil, nil
		},
		ScanOptions{BatchSize: 10},
	)
	require.Error(t, err)
	assert.True(t, retry.IsAborted(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, lister.callCount())
}

func TestScanBackward_CancelledDuringFetchSkipsProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lister := &fakeLister{history: history(5), onList: func(int) { cancel() }}
	_, err := ScanBackward(ctx, lister, solana.PublicKey{},
		func(ctx context.Context, page []SignatureInfo) (*SignatureInfo, error) {
			t.Fatal("page must not be processed after cancellation")
			return nil, nil
		},
		ScanOptions{BatchSize: 10},
	)
	assert.True(t, retry.IsAborted(err))
}

func TestScanBackward_ProcessError(t *testing.T) {
	lister := &fakeLister{history: history(30)}
	_, err := ScanBackward(context.Background(), lister, solana.PublicKey{},
		func(ctx context.Context, page []SignatureInfo) (*SignatureInfo, error) {
			return nil, assert.AnError
		},
		ScanOptions{BatchSize: 10},
	)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, lister.callCount())
}

func TestScanBackward_RetriesFetch(t *testing.T) {
	lister := &fakeLister{history: history(3), failN: 2}
	exec := retry.New(retry.Policy{MaxRetries: 3}, nil, retry.WithSleep(
		func(ctx context.Context, d time.Duration) error { return nil },
	))

	var seen int
	_, err := ScanBackward(context.Background(), lister, solana.PublicKey{},
		func(ctx context.Context, page []SignatureInfo) (*SignatureInfo, error) {
			seen += len(page)
			return nil, nil
		},
		ScanOptions{BatchSize: 10, Retry: exec},
	)
	require.NoError(t, err)
	assert.Equal(t, 3, seen)
	assert.Equal(t, 3, lister.callCount())
}

func TestScanBackward_FetchErrorReturnedAsIs(t *testing.T) {
	lister := &fakeLister{history: history(3), failN: 1}
	_, err := ScanBackward(context.Background(), lister, solana.PublicKey{}, noMatch, ScanOptions{})
	assert.Equal(t, assert.AnError, err)
}

func TestClampBatchSize(t *testing.T) {
	assert.Equal(t, DefaultBatchSize, ClampBatchSize(0))
	assert.Equal(t, DefaultBatchSize, ClampBatchSize(-3))
	assert.Equal(t, 42, ClampBatchSize(42))
	assert.Equal(t, MaxBatchSize, ClampBatchSize(MaxBatchSize))
	assert.Equal(t, MaxBatchSize, ClampBatchSize(10_000))
}

func TestScanBackward_ClampsRequestedLimit(t *testing.T) {
	lister := &fakeLister{history: history(3)}
	_, err := ScanBackward(context.Background(), lister, solana.PublicKey{}, noMatch,
		ScanOptions{BatchSize: 2000})
	require.NoError(t, err)
	require.Len(t, lister.calls, 1)
	assert.Equal(t, MaxBatchSize, lister.calls[0].Limit)
}
