package nats

import (
	"context"
	"errors"
	"sync"
)

// ErrPublisherClosed is returned by a Recorder after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// Recorder is an in-memory Publisher for tests that exercise the listener without
// a NATS server. Like the stream's duplicate window it drops events whose MsgID it
// has already stored.
type Recorder struct {
	mu        sync.Mutex
	log       []*ProgramEvent
	bySubject map[string]int
	seen      map[string]struct{}
	dropped   int
	failWith  error
	closed    bool
}

func NewRecorder() *Recorder {
	return &Recorder{bySubject: make(map[string]int), seen: make(map[string]struct{})}
}

func (r *Recorder) PublishEvent(ctx context.Context, event *ProgramEvent) error {
	return r.PublishEventBatch(ctx, []*ProgramEvent{event})
}

// PublishEventBatch is all or nothing: a configured failure records no events.
func (r *Recorder) PublishEventBatch(_ context.Context, events []*ProgramEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.closed:
		return ErrPublisherClosed
	case r.failWith != nil:
		return r.failWith
	}
	for _, ev := range events {
		id := MsgID(ev)
		if _, dup := r.seen[id]; dup {
			r.dropped++
			continue
		}
		r.seen[id] = struct{}{}
		r.log = append(r.log, ev)
		r.bySubject[ev.Subject()]++
	}
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// FailWith makes every later publish return err. A nil err clears it.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

// Events returns a copy of the published events in publish order.
func (r *Recorder) Events() []*ProgramEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ProgramEvent(nil), r.log...)
}

// Count returns how many events went to subject, or the total when subject is empty.
func (r *Recorder) Count(subject string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subject == "" {
		return len(r.log)
	}
	return r.bySubject[subject]
}

// Duplicates returns how many events were dropped for a repeated MsgID.
func (r *Recorder) Duplicates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
