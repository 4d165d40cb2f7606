// Package events turns program transactions and log notifications into typed events
// and delivers them to registered listeners. Two producers feed one Dispatcher: a live
// log subscription and a polling loop that resumes from a durable cursor.
package events

import (
	"github.com/atomiqlabs/atomiq-chain-solana/service/ledger"
	"github.com/gagliardetto/solana-go"
)

// TypedEvent is an event decoded from a program's log output.
type TypedEvent struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
	// Index is the event's position among the program's decoded events in its
	// transaction, in emission order. Live and polled copies of an event agree on it.
	Index int `json:"index"`
}

// TypedInstruction is a program instruction decoded with its named accounts.
type TypedInstruction struct {
	Name     string                      `json:"name"`
	Data     map[string]any              `json:"data"`
	Accounts map[string]solana.PublicKey `json:"accounts"`
	// Remaining holds accounts beyond those named by the instruction layout.
	Remaining []solana.PublicKey `json:"remaining,omitempty"`
}

// Decoder is the program-specific decode capability.
type Decoder interface {
	ProgramID() solana.PublicKey

	// DecodeLogs returns the program's events in emission order, numbered by Index.
	DecodeLogs(lines []string) ([]TypedEvent, error)

	// DecodeInstructions returns one entry per input instruction, nil for instructions
	// that do not target the program.
	DecodeInstructions(instructions []ledger.Instruction) ([]*TypedInstruction, error)
}

// Producer labels for metrics and logs.
const (
	SourceLive = "live"
	SourcePoll = "poll"
)
