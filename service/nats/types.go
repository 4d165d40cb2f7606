package nats

import (
	"fmt"
	"time"

	"github.com/atomiqlabs/atomiq-chain-solana/service/events"
)

// ProgramEvent is a decoded program event published to NATS.
// This is published to the subject "events.{program}.{event_name}" in JetStream.
type ProgramEvent struct {
	// Event identity
	Program string         `json:"program"`
	Name    string         `json:"name"`
	Data    map[string]any `json:"data"`

	// Transaction identifiers
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	LogIndex  int    `json:"log_index"`

	// Timing information
	BlockTime time.Time `json:"block_time"`
	Timestamp int64     `json:"timestamp"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the event is published to.
func (e *ProgramEvent) Subject() string {
	return Subject(e.Program, e.Name)
}

// Subject returns "events.{program}.{name}".
func Subject(program, name string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, program, name)
}

// FromEvent converts a dispatched event for publishing.
func FromEvent(ev events.Event) *ProgramEvent {
	return &ProgramEvent{
		Program:     ev.Program,
		Name:        ev.Name,
		Data:        ev.Data,
		Signature:   ev.TxID,
		Slot:        ev.Slot,
		LogIndex:    ev.LogIndex,
		BlockTime:   time.Unix(ev.BlockTime, 0).UTC(),
		Timestamp:   ev.Timestamp,
		PublishedAt: time.Now().UTC(),
	}
}
