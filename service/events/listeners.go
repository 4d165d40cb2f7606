package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/itchyny/gojq"
)

// ChannelListener forwards batches to a buffered channel. When the buffer is full the
// batch is dropped rather than blocking the producer.
type ChannelListener struct {
	ch      chan []Event
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewChannelListener creates a ChannelListener with the given buffer size.
func NewChannelListener(buffer int, logger *slog.Logger) *ChannelListener {
	return &ChannelListener{
		ch:     make(chan []Event, buffer),
		logger: logger,
	}
}

// HandleEvents enqueues the batch without blocking.
func (c *ChannelListener) HandleEvents(ctx context.Context, events []Event) error {
	select {
	case c.ch <- events:
	default:
		n := c.dropped.Add(1)
		c.logger.WarnContext(ctx, "listener channel full, dropping batch",
			"events", len(events),
			"dropped_total", n,
		)
	}
	return nil
}

// C returns the receive side of the channel.
func (c *ChannelListener) C() <-chan []Event {
	return c.ch
}

// Dropped returns how many batches were dropped.
func (c *ChannelListener) Dropped() uint64 {
	return c.dropped.Load()
}

// Filter is a compiled jq predicate over a single event's JSON form.
type Filter struct {
	expr string
	code *gojq.Code
}

// CompileFilter parses and compiles a jq expression.
func CompileFilter(expr string) (*Filter, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return &Filter{expr: expr, code: code}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match reports whether the filter's first result for ev is truthy.
func (f *Filter) Match(ctx context.Context, ev Event) (bool, error) {
	input, err := jqValue(ev)
	if err != nil {
		return false, err
	}
	iter := f.code.RunWithContext(ctx, input)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, fmt.Errorf("jq filter %q: %w", f.expr, err)
	}
	return isTruthy(v), nil
}

// jqValue converts v to the generic JSON form gojq operates on.
func jqValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return out, nil
}

// isTruthy checks if a jq result value is truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

// FilteredListener passes through only events matching every filter. Batches left
// empty are not forwarded.
type FilteredListener struct {
	next    Listener
	filters []*Filter
}

// NewFilteredListener wraps next with filters.
func NewFilteredListener(next Listener, filters ...*Filter) *FilteredListener {
	return &FilteredListener{next: next, filters: filters}
}

// HandleEvents filters the batch and forwards the remainder.
func (f *FilteredListener) HandleEvents(ctx context.Context, events []Event) error {
	kept, err := f.Apply(ctx, events)
	if err != nil {
		return err
	}
	if len(kept) == 0 {
		return nil
	}
	return f.next.HandleEvents(ctx, kept)
}

// Apply returns the events matching every filter, preserving order.
func (f *FilteredListener) Apply(ctx context.Context, events []Event) ([]Event, error) {
	if len(f.filters) == 0 {
		return events, nil
	}
	kept := make([]Event, 0, len(events))
outer:
	for _, ev := range events {
		for _, filter := range f.filters {
			ok, err := filter.Match(ctx, ev)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue outer
			}
		}
		kept = append(kept, ev)
	}
	return kept, nil
}
