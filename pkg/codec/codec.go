// Package codec encodes and decodes entity/component snapshots against a
// fixed schema: full state packets, delta packets between two snapshots,
// and the session layer that negotiates compact framing on top of them.
//
// All encoders write into caller-owned buffers and fail with
// bitstream.ErrBufferTooSmall rather than allocating. All decoders
// validate limits before allocating anything proportional to packet
// contents and never panic on arbitrary input.
package codec

import (
	"github.com/sdec-dev/sdec/pkg/bitstream"
	"github.com/sdec-dev/sdec/pkg/schema"
	"github.com/sdec-dev/sdec/pkg/wire"
)

// Codec encodes and decodes snapshots for one schema under one set of
// limits. A Codec is immutable and safe for concurrent use; the mutable
// per-call state lives in Scratch.
type Codec struct {
	schema *schema.Schema
	limits wire.Limits
}

// New binds a schema to a set of wire limits. The schema must fit within
// the limits even when it was built against looser ones.
func New(s *schema.Schema, limits wire.Limits) (*Codec, error) {
	if s == nil {
		return nil, ErrNilSchema
	}
	if n := s.NumComponents(); n > limits.MaxComponentsPerEntity {
		return nil, &wire.LimitError{Kind: wire.LimitComponentsPerEntity, Limit: limits.MaxComponentsPerEntity, Actual: n}
	}
	for _, comp := range s.Components() {
		if n := len(comp.Fields); n > limits.MaxFieldsPerComponent {
			return nil, &wire.LimitError{Kind: wire.LimitFieldsPerComponent, Limit: limits.MaxFieldsPerComponent, Actual: n}
		}
	}
	return &Codec{schema: s, limits: limits}, nil
}

// Schema returns the schema the codec was built with.
func (c *Codec) Schema() *schema.Schema { return c.schema }

// Limits returns the wire limits the codec enforces.
func (c *Codec) Limits() wire.Limits { return c.limits }

// writeValue encodes one field value according to its definition. The
// value kind must match the field kind and fixed-width values must fit
// their declared range; fixed-point values are clamped, not rejected.
func writeValue(w *bitstream.Writer, cid schema.ComponentID, f schema.FieldDef, v Value) error {
	if v.Kind() != f.Kind {
		return fieldErr(cid, f.ID, ErrValueType)
	}
	switch f.Kind {
	case schema.KindBool:
		if err := w.WriteBit(v.AsBool()); err != nil {
			return fieldErr(cid, f.ID, err)
		}
	case schema.KindUint:
		u := v.AsUint()
		if f.Bits < 64 && u>>uint(f.Bits) != 0 {
			return fieldErr(cid, f.ID, ErrValueRange)
		}
		if err := w.WriteBits(u, f.Bits); err != nil {
			return fieldErr(cid, f.ID, err)
		}
	case schema.KindInt:
		i := v.AsInt()
		if f.Bits < 64 {
			lo := int64(-1) << uint(f.Bits-1)
			hi := -lo - 1
			if i < lo || i > hi {
				return fieldErr(cid, f.ID, ErrValueRange)
			}
		}
		raw := uint64(i)
		if f.Bits < 64 {
			raw &= uint64(1)<<uint(f.Bits) - 1
		}
		if err := w.WriteBits(raw, f.Bits); err != nil {
			return fieldErr(cid, f.ID, err)
		}
	case schema.KindVarUint:
		w.AlignToByte()
		if err := w.WriteUvarint(v.AsVarUint()); err != nil {
			return fieldErr(cid, f.ID, err)
		}
	case schema.KindVarInt:
		w.AlignToByte()
		if err := w.WriteSvarint(v.AsVarInt()); err != nil {
			return fieldErr(cid, f.ID, err)
		}
	case schema.KindFixedPoint:
		if err := w.WriteFixedPoint(v.AsFixed(), f.Lo, f.Hi, f.Bits); err != nil {
			return fieldErr(cid, f.ID, err)
		}
	default:
		return fieldErr(cid, f.ID, ErrValueType)
	}
	return nil
}

// readValue decodes one field value. Every bit pattern of a fixed-width
// field is a valid value, so failures here are truncation, malformed
// varints, or alignment bugs.
func readValue(r *bitstream.Reader, cid schema.ComponentID, f schema.FieldDef) (Value, error) {
	switch f.Kind {
	case schema.KindBool:
		bit, err := r.ReadBit()
		if err != nil {
			return Value{}, fieldErr(cid, f.ID, err)
		}
		return Bool(bit), nil
	case schema.KindUint:
		raw, err := r.ReadBits(f.Bits)
		if err != nil {
			return Value{}, fieldErr(cid, f.ID, err)
		}
		return Uint(raw), nil
	case schema.KindInt:
		raw, err := r.ReadBits(f.Bits)
		if err != nil {
			return Value{}, fieldErr(cid, f.ID, err)
		}
		if f.Bits < 64 && raw&(uint64(1)<<uint(f.Bits-1)) != 0 {
			raw |= ^uint64(0) << uint(f.Bits)
		}
		return Int(int64(raw)), nil
	case schema.KindVarUint:
		r.AlignToByte()
		u, err := r.ReadUvarint()
		if err != nil {
			return Value{}, fieldErr(cid, f.ID, err)
		}
		return VarUint(u), nil
	case schema.KindVarInt:
		r.AlignToByte()
		i, err := r.ReadSvarint()
		if err != nil {
			return Value{}, fieldErr(cid, f.ID, err)
		}
		return VarInt(i), nil
	case schema.KindFixedPoint:
		v, err := r.ReadFixedPoint(f.Lo, f.Hi, f.Bits)
		if err != nil {
			return Value{}, fieldErr(cid, f.ID, err)
		}
		return Fixed(v), nil
	default:
		return Value{}, fieldErr(cid, f.ID, ErrValueType)
	}
}
