package nats

import (
	"context"

	"github.com/atomiqlabs/atomiq-chain-solana/service/events"
)

// Listener republishes dispatched event batches through a Publisher.
type Listener struct {
	publisher Publisher
}

var _ events.Listener = (*Listener)(nil)

// NewListener creates a Listener that publishes with p.
func NewListener(p Publisher) *Listener {
	return &Listener{publisher: p}
}

// HandleEvents publishes the batch in order.
func (l *Listener) HandleEvents(ctx context.Context, batch []events.Event) error {
	out := make([]*ProgramEvent, 0, len(batch))
	for _, ev := range batch {
		out = append(out, FromEvent(ev))
	}
	return l.publisher.PublishEventBatch(ctx, out)
}
