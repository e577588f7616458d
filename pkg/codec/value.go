package codec

import (
	"fmt"
	"math"

	"github.com/sdec-dev/sdec/pkg/schema"
)

// Tick is a simulation tick number. Tick zero never identifies a baseline.
type Tick uint32

// EntityID identifies an entity within a snapshot. IDs are identity, not
// position: they must be unique but carry no ordering requirement.
type EntityID uint32

// Value is a tagged union holding one field value. The payload is stored
// as raw bits so values are comparable with ==; fixed-point values compare
// by bit pattern, not float equality.
type Value struct {
	kind schema.FieldKind
	bits uint64
}

// Bool returns a boolean field value.
func Bool(v bool) Value {
	var b uint64
	if v {
		b = 1
	}
	return Value{kind: schema.KindBool, bits: b}
}

// Uint returns an unsigned fixed-width field value.
func Uint(v uint64) Value { return Value{kind: schema.KindUint, bits: v} }

// Int returns a signed fixed-width field value.
func Int(v int64) Value { return Value{kind: schema.KindInt, bits: uint64(v)} }

// VarUint returns an unsigned variable-length field value.
func VarUint(v uint32) Value { return Value{kind: schema.KindVarUint, bits: uint64(v)} }

// VarInt returns a signed variable-length field value.
func VarInt(v int32) Value { return Value{kind: schema.KindVarInt, bits: uint64(uint32(v))} }

// Fixed returns a quantized-float field value. The raw float is kept until
// encode time; quantization against the field's bounds happens on the wire.
func Fixed(v float64) Value { return Value{kind: schema.KindFixedPoint, bits: math.Float64bits(v)} }

// Kind reports which constructor produced the value. The zero Value has
// kind zero and is rejected by every encoder.
func (v Value) Kind() schema.FieldKind { return v.kind }

func (v Value) AsBool() bool      { return v.bits != 0 }
func (v Value) AsUint() uint64    { return v.bits }
func (v Value) AsInt() int64      { return int64(v.bits) }
func (v Value) AsVarUint() uint32 { return uint32(v.bits) }
func (v Value) AsVarInt() int32   { return int32(uint32(v.bits)) }
func (v Value) AsFixed() float64  { return math.Float64frombits(v.bits) }

func (v Value) String() string {
	switch v.kind {
	case schema.KindBool:
		return fmt.Sprintf("Bool(%t)", v.AsBool())
	case schema.KindUint:
		return fmt.Sprintf("Uint(%d)", v.AsUint())
	case schema.KindInt:
		return fmt.Sprintf("Int(%d)", v.AsInt())
	case schema.KindVarUint:
		return fmt.Sprintf("VarUint(%d)", v.AsVarUint())
	case schema.KindVarInt:
		return fmt.Sprintf("VarInt(%d)", v.AsVarInt())
	case schema.KindFixedPoint:
		return fmt.Sprintf("Fixed(%g)", v.AsFixed())
	default:
		return fmt.Sprintf("Value(kind=%d, bits=%#x)", v.kind, v.bits)
	}
}

// Component is one component instance on an entity. Fields are positional
// and must match the schema's field list for the component id.
type Component struct {
	ID     schema.ComponentID
	Fields []Value
}

// Entity is one replicated entity: an id plus its component instances.
// Components may appear in any order but ids must be unique.
type Entity struct {
	ID         EntityID
	Components []Component
}

// Snapshot is the complete replicated state at one tick.
type Snapshot struct {
	Tick     Tick
	Entities []Entity
}

// Clone returns a deep copy sharing no slices with the receiver.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{Tick: s.Tick, Entities: make([]Entity, len(s.Entities))}
	for i, e := range s.Entities {
		out.Entities[i] = cloneEntity(e)
	}
	return out
}

func cloneEntity(e Entity) Entity {
	out := Entity{ID: e.ID, Components: make([]Component, len(e.Components))}
	for i, c := range e.Components {
		fields := make([]Value, len(c.Fields))
		copy(fields, c.Fields)
		out.Components[i] = Component{ID: c.ID, Fields: fields}
	}
	return out
}

func findComponent(e *Entity, id schema.ComponentID) *Component {
	for i := range e.Components {
		if e.Components[i].ID == id {
			return &e.Components[i]
		}
	}
	return nil
}
