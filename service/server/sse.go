package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/events"
	"github.com/atomiqlabs/atomiq-chain-solana/service/metrics"
)

const (
	streamBuffer      = 64
	keepaliveInterval = 10 * time.Second
)

// streamSet tracks open event streams so Shutdown can end them.
type streamSet struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newStreamSet() *streamSet {
	return &streamSet{done: make(chan struct{})}
}

func (s *streamSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// handleStreamEvents handles SSE streaming of dispatched events.
// GET /api/v1/stream/events?filter={jq}
// Each connection registers its own listener; the optional filter is a jq predicate
// evaluated against every event.
func handleStreamEvents(program string, registry ListenerRegistry, streams *streamSet, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var filters []*events.Filter
		if expr := r.URL.Query().Get("filter"); expr != "" {
			f, err := events.CompileFilter(expr)
			if err != nil {
				writeError(w, fmt.Sprintf("invalid filter: %v", err), http.StatusBadRequest)
				return
			}
			filters = append(filters, f)
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ch := events.NewChannelListener(streamBuffer, logger)
		var listener events.Listener = ch
		if len(filters) > 0 {
			listener = events.NewFilteredListener(ch, filters...)
		}
		id := registry.RegisterListener(listener)
		defer registry.UnregisterListener(id)

		if m != nil {
			m.RecordSSEConnectionChange(program, 1)
			defer m.RecordSSEConnectionChange(program, -1)
		}

		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		logger.DebugContext(ctx, "SSE client connected",
			"remote_addr", r.RemoteAddr,
			"listener_id", id,
		)

		hello, _ := json.Marshal(map[string]string{"program": program})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", hello)
		flusher.Flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case batch := <-ch.C():
				for _, ev := range batch {
					data, err := json.Marshal(ev)
					if err != nil {
						logger.WarnContext(ctx, "failed to marshal event",
							"event", ev.Name,
							"error", err,
						)
						continue
					}
					fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
					if m != nil {
						m.RecordSSEEventSent(program, ev.Name)
					}
				}
				flusher.Flush()

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"remote_addr", r.RemoteAddr,
					"dropped_batches", ch.Dropped(),
				)
				return

			case <-streams.done:
				return
			}
		}
	})
}
