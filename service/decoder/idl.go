// Package decoder decodes Anchor program events and instructions from an IDL.
//
// Both the legacy IDL layout (camelCase names, "publicKey", {"defined": "Name"}) and
// the 0.30 layout (explicit discriminators, "pubkey", {"defined": {"name": "Name"}})
// are accepted.
package decoder

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// DiscriminatorSize is the length of Anchor account, event and instruction discriminators.
const DiscriminatorSize = 8

// IDL is the subset of an Anchor IDL needed to decode events and instructions.
type IDL struct {
	Address      string           `json:"address"`
	Name         string           `json:"name"`
	Metadata     *IDLMetadata     `json:"metadata,omitempty"`
	Instructions []IDLInstruction `json:"instructions"`
	Events       []IDLEvent       `json:"events"`
	Types        []IDLTypeDef     `json:"types"`
}

// IDLMetadata carries the program name and address in 0.30 IDLs and the address in
// legacy IDLs written by anchor build.
type IDLMetadata struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// IDLInstruction describes one program instruction.
type IDLInstruction struct {
	Name          string           `json:"name"`
	Discriminator []byte           `json:"-"`
	Accounts      []IDLAccountItem `json:"accounts"`
	Args          []IDLField       `json:"args"`
}

// IDLAccountItem is an instruction account or a nested group of accounts.
type IDLAccountItem struct {
	Name     string           `json:"name"`
	Accounts []IDLAccountItem `json:"accounts,omitempty"`
}

// IDLEvent describes an emitted event. 0.30 IDLs leave Fields empty and declare the
// layout in Types under the same name.
type IDLEvent struct {
	Name          string     `json:"name"`
	Discriminator []byte     `json:"-"`
	Fields        []IDLField `json:"fields"`
}

// IDLField is a named, typed field.
type IDLField struct {
	Name string  `json:"name"`
	Type IDLType `json:"type"`
}

// IDLTypeDef is a user-defined struct or enum.
type IDLTypeDef struct {
	Name string      `json:"name"`
	Type IDLTypeBody `json:"type"`
}

// IDLTypeBody is the body of a type definition.
type IDLTypeBody struct {
	Kind     string       `json:"kind"`
	Fields   []IDLField   `json:"-"`
	Tuple    []IDLType    `json:"-"`
	Variants []IDLVariant `json:"variants"`
	// Alias is set for kind "type" aliases.
	Alias *IDLType `json:"alias,omitempty"`
}

// IDLVariant is one enum variant. At most one of Fields and Tuple is set.
type IDLVariant struct {
	Name   string
	Fields []IDLField
	Tuple  []IDLType
}

// IDLType is a Borsh type reference.
type IDLType struct {
	Primitive string
	Vec       *IDLType
	Option    *IDLType
	COption   *IDLType
	Array     *IDLType
	ArrayLen  int
	Defined   string
}

func (t IDLType) String() string {
	switch {
	case t.Primitive != "":
		return t.Primitive
	case t.Vec != nil:
		return "vec<" + t.Vec.String() + ">"
	case t.Option != nil:
		return "option<" + t.Option.String() + ">"
	case t.COption != nil:
		return "coption<" + t.COption.String() + ">"
	case t.Array != nil:
		return fmt.Sprintf("[%s; %d]", t.Array.String(), t.ArrayLen)
	case t.Defined != "":
		return t.Defined
	default:
		return "<invalid>"
	}
}

// UnmarshalJSON accepts primitive names and the object forms of composite types.
func (t *IDLType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t.Primitive = normalizePrimitive(s)
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid IDL type %s: %w", string(data), err)
	}

	if raw, ok := obj["vec"]; ok {
		t.Vec = new(IDLType)
		return json.Unmarshal(raw, t.Vec)
	}
	if raw, ok := obj["option"]; ok {
		t.Option = new(IDLType)
		return json.Unmarshal(raw, t.Option)
	}
	if raw, ok := obj["coption"]; ok {
		t.COption = new(IDLType)
		return json.Unmarshal(raw, t.COption)
	}
	if raw, ok := obj["array"]; ok {
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil || len(parts) != 2 {
			return fmt.Errorf("invalid IDL array type %s", string(raw))
		}
		t.Array = new(IDLType)
		if err := json.Unmarshal(parts[0], t.Array); err != nil {
			return err
		}
		if err := json.Unmarshal(parts[1], &t.ArrayLen); err != nil {
			return fmt.Errorf("unsupported IDL array length %s: %w", string(parts[1]), err)
		}
		return nil
	}
	if raw, ok := obj["defined"]; ok {
		var name string
		if err := json.Unmarshal(raw, &name); err == nil {
			t.Defined = name
			return nil
		}
		var ref struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			return fmt.Errorf("invalid IDL defined type %s: %w", string(raw), err)
		}
		t.Defined = ref.Name
		return nil
	}
	return fmt.Errorf("unsupported IDL type %s", string(data))
}

func normalizePrimitive(s string) string {
	switch s {
	case "publicKey":
		return "pubkey"
	default:
		return s
	}
}

// UnmarshalJSON handles struct fields given as named fields or as a tuple of types.
func (b *IDLTypeBody) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind     string            `json:"kind"`
		Fields   []json.RawMessage `json:"fields"`
		Variants []IDLVariant      `json:"variants"`
		Alias    *IDLType          `json:"alias"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Kind = raw.Kind
	b.Variants = raw.Variants
	b.Alias = raw.Alias

	fields, tuple, err := parseFieldList(raw.Fields)
	if err != nil {
		return err
	}
	b.Fields, b.Tuple = fields, tuple
	return nil
}

// UnmarshalJSON handles unit, named and tuple variants.
func (v *IDLVariant) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name   string            `json:"name"`
		Fields []json.RawMessage `json:"fields"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Name = raw.Name
	fields, tuple, err := parseFieldList(raw.Fields)
	if err != nil {
		return fmt.Errorf("variant %s: %w", raw.Name, err)
	}
	v.Fields, v.Tuple = fields, tuple
	return nil
}

// parseFieldList splits a field list into named fields or tuple types.
func parseFieldList(items []json.RawMessage) ([]IDLField, []IDLType, error) {
	if len(items) == 0 {
		return nil, nil, nil
	}

	var head map[string]json.RawMessage
	named := json.Unmarshal(items[0], &head) == nil && head["name"] != nil && head["type"] != nil

	if named {
		fields := make([]IDLField, len(items))
		for i, item := range items {
			if err := json.Unmarshal(item, &fields[i]); err != nil {
				return nil, nil, err
			}
		}
		return fields, nil, nil
	}

	tuple := make([]IDLType, len(items))
	for i, item := range items {
		if err := json.Unmarshal(item, &tuple[i]); err != nil {
			return nil, nil, err
		}
	}
	return nil, tuple, nil
}

type discriminated struct {
	Discriminator []int `json:"discriminator"`
}

func (d discriminated) bytes() ([]byte, error) {
	if len(d.Discriminator) == 0 {
		return nil, nil
	}
	out := make([]byte, len(d.Discriminator))
	for i, v := range d.Discriminator {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("discriminator byte %d out of range", v)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// UnmarshalJSON reads the optional explicit discriminator.
func (i *IDLInstruction) UnmarshalJSON(data []byte) error {
	type plain IDLInstruction
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var d discriminated
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*i = IDLInstruction(p)
	disc, err := d.bytes()
	if err != nil {
		return fmt.Errorf("instruction %s: %w", p.Name, err)
	}
	i.Discriminator = disc
	return nil
}

// UnmarshalJSON reads the optional explicit discriminator.
func (e *IDLEvent) UnmarshalJSON(data []byte) error {
	type plain IDLEvent
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var d discriminated
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*e = IDLEvent(p)
	disc, err := d.bytes()
	if err != nil {
		return fmt.Errorf("event %s: %w", p.Name, err)
	}
	e.Discriminator = disc
	return nil
}

// ParseIDL parses an Anchor IDL document and fills in missing discriminators.
func ParseIDL(data []byte) (*IDL, error) {
	var idl IDL
	if err := json.Unmarshal(data, &idl); err != nil {
		return nil, fmt.Errorf("failed to parse IDL: %w", err)
	}
	if idl.Address == "" && idl.Metadata != nil {
		idl.Address = idl.Metadata.Address
	}
	if idl.Name == "" && idl.Metadata != nil {
		idl.Name = idl.Metadata.Name
	}

	for i := range idl.Instructions {
		ix := &idl.Instructions[i]
		if len(ix.Discriminator) == 0 {
			ix.Discriminator = InstructionDiscriminator(ix.Name)
		}
		if len(ix.Discriminator) != DiscriminatorSize {
			return nil, fmt.Errorf("instruction %s: discriminator must be %d bytes", ix.Name, DiscriminatorSize)
		}
	}
	for i := range idl.Events {
		ev := &idl.Events[i]
		if len(ev.Discriminator) == 0 {
			ev.Discriminator = EventDiscriminator(ev.Name)
		}
		if len(ev.Discriminator) != DiscriminatorSize {
			return nil, fmt.Errorf("event %s: discriminator must be %d bytes", ev.Name, DiscriminatorSize)
		}
	}
	return &idl, nil
}

// LoadIDL reads and parses an IDL file.
func LoadIDL(path string) (*IDL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read IDL %s: %w", path, err)
	}
	return ParseIDL(data)
}

// EventDiscriminator returns sha256("event:<name>")[:8].
func EventDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("event:" + name))
	return sum[:DiscriminatorSize]
}

// InstructionDiscriminator returns sha256("global:<snake_case name>")[:8].
func InstructionDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + toSnakeCase(name)))
	return sum[:DiscriminatorSize]
}

// flattenAccounts returns account names in declaration order with nested groups inlined.
func flattenAccounts(items []IDLAccountItem) []string {
	var out []string
	for _, item := range items {
		if len(item.Accounts) > 0 {
			out = append(out, flattenAccounts(item.Accounts)...)
			continue
		}
		out = append(out, item.Name)
	}
	return out
}

func toSnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
