package message

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned for payloads that are not valid protobuf wire data
// or that carry a known field with the wrong wire type.
var ErrMalformed = errors.New("message: malformed payload")

type field struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	b   []byte
}

// walk は b のフィールドを順番に fn へ渡す。未知のフィールドも渡されるので fn 側で無視する
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v32 uint32
			v32, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v32)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// decoder keeps the first type mismatch so field switches stay flat.
type decoder struct {
	err error
}

func (d *decoder) fail(f field, want protowire.Type) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: field %d has wire type %d, want %d", ErrMalformed, f.num, f.typ, want)
	}
}

func (d *decoder) int32(f field) int32 {
	if f.typ != protowire.VarintType {
		d.fail(f, protowire.VarintType)
		return 0
	}
	return int32(f.v)
}

func (d *decoder) sint32(f field) int32 {
	if f.typ != protowire.VarintType {
		d.fail(f, protowire.VarintType)
		return 0
	}
	return int32(protowire.DecodeZigZag(f.v))
}

func (d *decoder) bool(f field) bool {
	if f.typ != protowire.VarintType {
		d.fail(f, protowire.VarintType)
		return false
	}
	return protowire.DecodeBool(f.v)
}

func (d *decoder) double(f field) float64 {
	if f.typ != protowire.Fixed64Type {
		d.fail(f, protowire.Fixed64Type)
		return 0
	}
	return math.Float64frombits(f.v)
}

func (d *decoder) bytes(f field) []byte {
	if f.typ != protowire.BytesType {
		d.fail(f, protowire.BytesType)
		return nil
	}
	return f.b
}

func (d *decoder) string(f field) string {
	return string(d.bytes(f))
}

// nested decodes an embedded message with fn and folds its error into d.
func (d *decoder) nested(f field, fn func(b []byte) error) {
	b := d.bytes(f)
	if d.err != nil {
		return
	}
	if err := fn(b); err != nil && d.err == nil {
		d.err = err
	}
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendSint32(b []byte, num protowire.Number, v int32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
