package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/atomiqlabs/atomiq-chain-solana/service/metrics"
)

// Listener receives ordered batches of events. Returned errors are logged by the
// Dispatcher and never reach the producer.
type Listener interface {
	HandleEvents(ctx context.Context, events []Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, events []Event) error

// HandleEvents calls f.
func (f ListenerFunc) HandleEvents(ctx context.Context, events []Event) error {
	return f(ctx, events)
}

// ListenerID identifies a registration.
type ListenerID uint64

type registration struct {
	id       ListenerID
	listener Listener
}

// Dispatcher holds the listener registry and fans event batches out to it.
// Listeners are invoked sequentially in registration order; a failing or panicking
// listener does not affect the others. No deduplication is performed across producers.
type Dispatcher struct {
	program string
	kinds   map[string]struct{}
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	nextID    ListenerID
	listeners []registration
}

// NewDispatcher creates a Dispatcher for program that delivers only events whose
// name is in kinds. An empty kinds delivers every event.
func NewDispatcher(program string, kinds []string, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return &Dispatcher{
		program: program,
		kinds:   set,
		logger:  logger.With("component", "dispatcher"),
		metrics: m,
	}
}

// Register adds a listener and returns its id.
func (d *Dispatcher) Register(l Listener) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.listeners = append(d.listeners, registration{id: d.nextID, listener: l})
	return d.nextID
}

// Unregister removes a listener. It reports whether id was registered.
func (d *Dispatcher) Unregister(id ListenerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.listeners {
		if r.id == id {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners)
}

// Kinds returns the event names the dispatcher delivers; nil means all.
func (d *Dispatcher) Kinds() []string {
	if len(d.kinds) == 0 {
		return nil
	}
	out := make([]string, 0, len(d.kinds))
	for k := range d.kinds {
		out = append(out, k)
	}
	return out
}

// Accepts reports whether events named name are delivered.
func (d *Dispatcher) Accepts(name string) bool {
	if len(d.kinds) == 0 {
		return true
	}
	_, ok := d.kinds[name]
	return ok
}

// Dispatch delivers obj's accepted events, in order, as one batch to every listener
// registered at the time of the call. It returns the batch size.
func (d *Dispatcher) Dispatch(ctx context.Context, source string, obj *EventObject) int {
	batch := make([]Event, 0, len(obj.Events))
	for _, ev := range obj.Events {
		if d.Accepts(ev.Name) {
			batch = append(batch, newEvent(d.program, ev, obj))
		}
	}
	if len(batch) == 0 {
		return 0
	}

	d.mu.RLock()
	snapshot := make([]registration, len(d.listeners))
	copy(snapshot, d.listeners)
	d.mu.RUnlock()

	if d.metrics != nil {
		d.metrics.RecordDispatch(d.program, source)
	}
	d.logger.DebugContext(ctx, "dispatching events",
		"source", source,
		"signature", obj.Signature.String(),
		"events", len(batch),
		"listeners", len(snapshot),
	)

	for _, r := range snapshot {
		if err := d.invoke(ctx, r.listener, batch); err != nil {
			d.logger.ErrorContext(ctx, "listener failed",
				"listener_id", r.id,
				"source", source,
				"signature", obj.Signature.String(),
				"error", err,
			)
		}
	}
	return len(batch)
}

func (d *Dispatcher) invoke(ctx context.Context, l Listener, batch []Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
			if d.metrics != nil {
				d.metrics.RecordListenerFailure(d.program, "panic")
			}
		}
	}()
	if err := l.HandleEvents(ctx, batch); err != nil {
		if d.metrics != nil {
			d.metrics.RecordListenerFailure(d.program, "error")
		}
		return err
	}
	return nil
}
