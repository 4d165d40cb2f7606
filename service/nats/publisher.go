package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes program events to NATS.
type Publisher interface {
	PublishEvent(ctx context.Context, event *ProgramEvent) error

	// PublishEventBatch publishes events in order. A failed event does not stop the
	// rest of the batch; the failures are joined in the returned error.
	PublishEventBatch(ctx context.Context, events []*ProgramEvent) error

	Close() error
}

const (
	// StreamName is the JetStream stream holding program events.
	StreamName = "PROGRAM_EVENTS"

	// SubjectPrefix prefixes every event subject.
	SubjectPrefix = "events"

	// StreamSubjects is the subject filter of StreamName.
	StreamSubjects = SubjectPrefix + ".>"
)

// StreamOptions tune the stream created by NewPublisher. Zero values take defaults.
type StreamOptions struct {
	// MaxAge bounds message retention. Default 30 days.
	MaxAge time.Duration
	// DuplicateWindow is how long JetStream remembers message ids. Live and polled
	// copies of an event arriving within it are stored once. Default 10 minutes.
	DuplicateWindow time.Duration
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.MaxAge <= 0 {
		o.MaxAge = 30 * 24 * time.Hour
	}
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = 10 * time.Minute
	}
	return o
}

// JetStreamPublisher publishes program events to JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher connects to natsURL and creates or updates StreamName.
func NewPublisher(ctx context.Context, natsURL string, opts StreamOptions, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	logger = logger.With("component", "nats_publisher")
	opts = opts.withDefaults()

	nc, err := nats.Connect(natsURL,
		nats.Name("solevents-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	stream, err := js.CreateOrUpdateStream(sctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Decoded Solana program events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      opts.MaxAge,
		Duplicates:  opts.DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", StreamName, err)
	}

	logger.Info("NATS publisher initialized",
		"url", nc.ConnectedUrlRedacted(),
		"stream", stream.CachedInfo().Config.Name,
		"max_age", opts.MaxAge,
		"duplicate_window", opts.DuplicateWindow,
	)
	return &JetStreamPublisher{nc: nc, js: js, metrics: m, logger: logger}, nil
}

// MsgID is the JetStream dedup id of event: signature, log index, name and slot.
// The log index keeps same-name events of one transaction apart.
func MsgID(event *ProgramEvent) string {
	return fmt.Sprintf("%s:%d:%s:%d", event.Signature, event.LogIndex, event.Name, event.Slot)
}

// PublishEvent publishes event synchronously and waits for the stream ack.
func (p *JetStreamPublisher) PublishEvent(ctx context.Context, event *ProgramEvent) error {
	start := time.Now()
	data, err := json.Marshal(event)
	if err == nil {
		_, err = p.js.Publish(ctx, event.Subject(), data, jetstream.WithMsgID(MsgID(event)))
	}
	p.record(event.Subject(), start, err)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Subject(), err)
	}
	return nil
}

// PublishEventBatch sends every event without waiting, then collects the acks in
// order. Acks not received before ctx ends count as failures.
func (p *JetStreamPublisher) PublishEventBatch(ctx context.Context, events []*ProgramEvent) error {
	start := time.Now()
	futures := make([]jetstream.PubAckFuture, len(events))
	var errs []error

	for i, event := range events {
		data, err := json.Marshal(event)
		if err == nil {
			futures[i], err = p.js.PublishAsync(event.Subject(), data, jetstream.WithMsgID(MsgID(event)))
		}
		if err != nil {
			errs = append(errs, p.batchFailure(ctx, event, start, err))
		}
	}

	for i, f := range futures {
		if f == nil {
			continue
		}
		var err error
		select {
		case <-f.Ok():
		case err = <-f.Err():
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			errs = append(errs, p.batchFailure(ctx, events[i], start, err))
			continue
		}
		p.record(events[i].Subject(), start, nil)
	}
	return errors.Join(errs...)
}

func (p *JetStreamPublisher) batchFailure(ctx context.Context, event *ProgramEvent, start time.Time, err error) error {
	p.record(event.Subject(), start, err)
	p.logger.ErrorContext(ctx, "failed to publish event in batch",
		"signature", event.Signature,
		"event", event.Name,
		"error", err,
	)
	return fmt.Errorf("failed to publish %s: %w", MsgID(event), err)
}

func (p *JetStreamPublisher) record(subject string, start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
}

// Close drains pending publishes and closes the connection.
func (p *JetStreamPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	p.logger.Info("NATS publisher closed")
	return nil
}
