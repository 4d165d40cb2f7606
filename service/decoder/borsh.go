package decoder

import (
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// maxDefinedDepth bounds recursion through self-referencing defined types.
const maxDefinedDepth = 32

// valueDecoder reads Borsh-encoded values described by IDL types.
type valueDecoder struct {
	dec   *bin.Decoder
	types map[string]*IDLTypeDef
	depth int
}

func newValueDecoder(data []byte, types map[string]*IDLTypeDef) *valueDecoder {
	return &valueDecoder{dec: bin.NewBorshDecoder(data), types: types}
}

// decodeFields reads fields in order into a map keyed by field name.
func (d *valueDecoder) decodeFields(fields []IDLField) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := d.decode(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

func (d *valueDecoder) decodeTuple(types []IDLType) (map[string]any, error) {
	out := make(map[string]any, len(types))
	for i, t := range types {
		v, err := d.decode(t)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[fmt.Sprintf("_%d", i)] = v
	}
	return out, nil
}

func (d *valueDecoder) decode(t IDLType) (any, error) {
	switch {
	case t.Primitive != "":
		return d.decodePrimitive(t.Primitive)

	case t.Option != nil:
		tag, err := d.dec.ReadUint8()
		if err != nil {
			return nil, err
		}
		return d.decodeOptional(uint32(tag), *t.Option)

	case t.COption != nil:
		tag, err := d.dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, err
		}
		return d.decodeOptional(tag, *t.COption)

	case t.Vec != nil:
		n, err := d.readLength()
		if err != nil {
			return nil, err
		}
		return d.decodeSeq(*t.Vec, n)

	case t.Array != nil:
		return d.decodeSeq(*t.Array, t.ArrayLen)

	case t.Defined != "":
		return d.decodeDefined(t.Defined)

	default:
		return nil, fmt.Errorf("invalid type")
	}
}

func (d *valueDecoder) decodeOptional(tag uint32, inner IDLType) (any, error) {
	switch tag {
	case 0:
		return nil, nil
	case 1:
		return d.decode(inner)
	default:
		return nil, fmt.Errorf("invalid option tag %d", tag)
	}
}

func (d *valueDecoder) decodeSeq(elem IDLType, n int) ([]any, error) {
	out := make([]any, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		v, err := d.decode(elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *valueDecoder) decodeDefined(name string) (any, error) {
	def, ok := d.types[name]
	if !ok {
		return nil, fmt.Errorf("undefined type %s", name)
	}
	if d.depth >= maxDefinedDepth {
		return nil, fmt.Errorf("type %s nested too deeply", name)
	}
	d.depth++
	defer func() { d.depth-- }()

	switch def.Type.Kind {
	case "struct":
		if len(def.Type.Tuple) > 0 {
			return d.decodeTuple(def.Type.Tuple)
		}
		return d.decodeFields(def.Type.Fields)

	case "enum":
		idx, err := d.dec.ReadUint8()
		if err != nil {
			return nil, err
		}
		if int(idx) >= len(def.Type.Variants) {
			return nil, fmt.Errorf("enum %s: variant index %d out of range", name, idx)
		}
		variant := def.Type.Variants[idx]
		var body map[string]any
		switch {
		case len(variant.Fields) > 0:
			body, err = d.decodeFields(variant.Fields)
		case len(variant.Tuple) > 0:
			body, err = d.decodeTuple(variant.Tuple)
		default:
			body = map[string]any{}
		}
		if err != nil {
			return nil, fmt.Errorf("enum %s::%s: %w", name, variant.Name, err)
		}
		return map[string]any{variant.Name: body}, nil

	case "type":
		if def.Type.Alias == nil {
			return nil, fmt.Errorf("alias %s has no target", name)
		}
		return d.decode(*def.Type.Alias)

	default:
		return nil, fmt.Errorf("type %s: unsupported kind %q", name, def.Type.Kind)
	}
}

func (d *valueDecoder) decodePrimitive(p string) (any, error) {
	switch p {
	case "bool":
		return d.dec.ReadBool()
	case "u8":
		return d.dec.ReadUint8()
	case "i8":
		return d.dec.ReadInt8()
	case "u16":
		return d.dec.ReadUint16(bin.LE)
	case "i16":
		return d.dec.ReadInt16(bin.LE)
	case "u32":
		return d.dec.ReadUint32(bin.LE)
	case "i32":
		return d.dec.ReadInt32(bin.LE)
	case "u64":
		return d.dec.ReadUint64(bin.LE)
	case "i64":
		return d.dec.ReadInt64(bin.LE)
	case "f32":
		return d.dec.ReadFloat32(bin.LE)
	case "f64":
		return d.dec.ReadFloat64(bin.LE)
	case "u128", "i128":
		b, err := d.dec.ReadNBytes(16)
		if err != nil {
			return nil, err
		}
		return leToBigInt(b, p == "i128"), nil
	case "u256", "i256":
		b, err := d.dec.ReadNBytes(32)
		if err != nil {
			return nil, err
		}
		return leToBigInt(b, p == "i256"), nil
	case "pubkey":
		b, err := d.dec.ReadNBytes(solana.PublicKeyLength)
		if err != nil {
			return nil, err
		}
		return solana.PublicKeyFromBytes(b), nil
	case "string":
		b, err := d.readBytes()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case "bytes":
		return d.readBytes()
	default:
		return nil, fmt.Errorf("unsupported primitive %q", p)
	}
}

// readLength reads a u32 length prefix and checks it against the remaining input.
func (d *valueDecoder) readLength() (int, error) {
	n, err := d.dec.ReadUint32(bin.LE)
	if err != nil {
		return 0, err
	}
	if int64(n) > int64(d.dec.Remaining()) {
		return 0, fmt.Errorf("length %d exceeds remaining %d bytes", n, d.dec.Remaining())
	}
	return int(n), nil
}

func (d *valueDecoder) readBytes() ([]byte, error) {
	n, err := d.readLength()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte{}, nil
	}
	return d.dec.ReadNBytes(n)
}

// leToBigInt converts little-endian two's-complement bytes to a big.Int.
func leToBigInt(le []byte, signed bool) *big.Int {
	be := make([]byte, len(le))
	for i, b := range le {
		be[len(le)-1-i] = b
	}
	v := new(big.Int).SetBytes(be)
	if signed && len(be) > 0 && be[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(8*len(be))))
	}
	return v
}
