package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/atomiqlabs/atomiq-chain-solana/service/events"
	"github.com/atomiqlabs/atomiq-chain-solana/service/ledger"
	"github.com/atomiqlabs/atomiq-chain-solana/service/retry"
	"github.com/gagliardetto/solana-go"
)

var (
	// ErrUnknownInstruction is returned for an instruction addressed to the program
	// whose discriminator is not in the IDL.
	ErrUnknownInstruction = errors.New("unknown instruction")

	// ErrMalformed is returned when program data does not match its IDL layout.
	ErrMalformed = errors.New("malformed program data")
)

type eventLayout struct {
	name          string
	discriminator []byte
	fields        []IDLField
}

type instructionLayout struct {
	name          string
	discriminator []byte
	accounts      []string
	args          []IDLField
}

// Decoder decodes one program's events and instructions.
// It is safe for concurrent use.
type Decoder struct {
	programID    solana.PublicKey
	types        map[string]*IDLTypeDef
	events       []eventLayout
	instructions []instructionLayout
}

var _ events.Decoder = (*Decoder)(nil)

// New builds a Decoder for programID from idl.
func New(programID solana.PublicKey, idl *IDL) (*Decoder, error) {
	d := &Decoder{
		programID: programID,
		types:     make(map[string]*IDLTypeDef, len(idl.Types)),
	}
	for i := range idl.Types {
		d.types[idl.Types[i].Name] = &idl.Types[i]
	}

	for _, ev := range idl.Events {
		fields := ev.Fields
		if len(fields) == 0 {
			def, ok := d.types[ev.Name]
			if !ok {
				return nil, fmt.Errorf("event %s has no fields and no type definition", ev.Name)
			}
			if def.Type.Kind != "struct" {
				return nil, fmt.Errorf("event %s: type definition is a %s, not a struct", ev.Name, def.Type.Kind)
			}
			fields = def.Type.Fields
		}
		d.events = append(d.events, eventLayout{
			name:          ev.Name,
			discriminator: ev.Discriminator,
			fields:        fields,
		})
	}

	for _, ix := range idl.Instructions {
		d.instructions = append(d.instructions, instructionLayout{
			name:          ix.Name,
			discriminator: ix.Discriminator,
			accounts:      flattenAccounts(ix.Accounts),
			args:          ix.Args,
		})
	}
	return d, nil
}

// NewFromFile loads the IDL at path and builds a Decoder. When programID is zero the
// IDL's address is used.
func NewFromFile(programID solana.PublicKey, path string) (*Decoder, error) {
	idl, err := LoadIDL(path)
	if err != nil {
		return nil, err
	}
	if programID.IsZero() {
		if idl.Address == "" {
			return nil, fmt.Errorf("IDL %s has no address and no program id was given", path)
		}
		programID, err = solana.PublicKeyFromBase58(idl.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid IDL address %q: %w", idl.Address, err)
		}
	}
	return New(programID, idl)
}

// ProgramID returns the program this decoder is bound to.
func (d *Decoder) ProgramID() solana.PublicKey {
	return d.programID
}

// EventNames returns the names of all events declared in the IDL, sorted.
func (d *Decoder) EventNames() []string {
	names := make([]string, 0, len(d.events))
	for _, ev := range d.events {
		names = append(names, ev.name)
	}
	sort.Strings(names)
	return names
}

// HasEvent reports whether the IDL declares an event called name.
func (d *Decoder) HasEvent(name string) bool {
	for _, ev := range d.events {
		if ev.name == name {
			return true
		}
	}
	return false
}

// DecodeLogs returns the program's events found in lines, in emission order.
// Payloads with unknown discriminators are skipped. A payload whose discriminator
// matches an event but whose body does not decode is a permanent error.
func (d *Decoder) DecodeLogs(lines []string) ([]events.TypedEvent, error) {
	var out []events.TypedEvent
	for _, payload := range programPayloads(lines, d.programID.String()) {
		if len(payload) < DiscriminatorSize {
			continue
		}
		layout := d.findEvent(payload[:DiscriminatorSize])
		if layout == nil {
			continue
		}
		data, err := newValueDecoder(payload[DiscriminatorSize:], d.types).decodeFields(layout.fields)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("%w: event %s: %v", ErrMalformed, layout.name, err))
		}
		out = append(out, events.TypedEvent{Name: layout.name, Data: data, Index: len(out)})
	}
	return out, nil
}

// DecodeInstructions decodes instructions addressed to the program and returns nil at
// the positions of instructions for other programs, so that index i of the result
// corresponds to index i of the input.
func (d *Decoder) DecodeInstructions(instructions []ledger.Instruction) ([]*events.TypedInstruction, error) {
	out := make([]*events.TypedInstruction, len(instructions))
	for i, ix := range instructions {
		if !ix.ProgramID.Equals(d.programID) {
			continue
		}
		decoded, err := d.decodeInstruction(ix)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("instruction %d: %w", i, err))
		}
		out[i] = decoded
	}
	return out, nil
}

func (d *Decoder) decodeInstruction(ix ledger.Instruction) (*events.TypedInstruction, error) {
	if len(ix.Data) < DiscriminatorSize {
		return nil, fmt.Errorf("%w: data is %d bytes, shorter than a discriminator", ErrMalformed, len(ix.Data))
	}
	layout := d.findInstruction(ix.Data[:DiscriminatorSize])
	if layout == nil {
		return nil, fmt.Errorf("%w: discriminator %x", ErrUnknownInstruction, ix.Data[:DiscriminatorSize])
	}

	args, err := newValueDecoder(ix.Data[DiscriminatorSize:], d.types).decodeFields(layout.args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s args: %v", ErrMalformed, layout.name, err)
	}

	accounts := make(map[string]solana.PublicKey, len(layout.accounts))
	n := min(len(layout.accounts), len(ix.Accounts))
	for j := 0; j < n; j++ {
		accounts[layout.accounts[j]] = ix.Accounts[j]
	}
	var remaining []solana.PublicKey
	if len(ix.Accounts) > n {
		remaining = append(remaining, ix.Accounts[n:]...)
	}

	return &events.TypedInstruction{
		Name:      layout.name,
		Data:      args,
		Accounts:  accounts,
		Remaining: remaining,
	}, nil
}

func (d *Decoder) findEvent(disc []byte) *eventLayout {
	for i := range d.events {
		if bytes.Equal(d.events[i].discriminator, disc) {
			return &d.events[i]
		}
	}
	return nil
}

func (d *Decoder) findInstruction(disc []byte) *instructionLayout {
	for i := range d.instructions {
		if bytes.Equal(d.instructions[i].discriminator, disc) {
			return &d.instructions[i]
		}
	}
	return nil
}
