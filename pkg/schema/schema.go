// Package schema declares replicated component layouts and derives the
// schema identifier two peers compare before exchanging snapshots.
//
// A schema is an ordered list of components, each an ordered list of
// fields. Order is wire-significant: mask bit positions follow declared
// order, so reordering definitions changes the meaning of every packet.
// Schemas are immutable after construction and safe for concurrent reads.
package schema

import (
	"errors"
	"fmt"
	"math"

	"github.com/sdec-dev/sdec/pkg/wire"
)

// Construction errors. Validation failures wrap these with the offending
// component/field ids.
var (
	ErrEmptySchema        = errors.New("schema: no components")
	ErrNoFields           = errors.New("schema: component has no fields")
	ErrZeroComponentID    = errors.New("schema: component id must be nonzero")
	ErrZeroFieldID        = errors.New("schema: field id must be nonzero")
	ErrDuplicateComponent = errors.New("schema: duplicate component id")
	ErrDuplicateField     = errors.New("schema: duplicate field id")
	ErrInvalidKind        = errors.New("schema: invalid field kind")
	ErrInvalidBits        = errors.New("schema: bit width out of range")
	ErrInvalidBounds      = errors.New("schema: invalid fixed-point bounds")
)

// ComponentID identifies a component within a schema. Zero is reserved.
type ComponentID uint16

// FieldID identifies a field within a component. Zero is reserved.
type FieldID uint16

// FieldKind selects a field's wire encoding.
type FieldKind uint8

// Field kinds. The numeric values feed the schema hash and must not be
// reordered.
const (
	KindBool FieldKind = iota + 1
	KindUint
	KindInt
	KindVarUint
	KindVarInt
	KindFixedPoint
)

// String returns the kind name.
func (k FieldKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindVarUint:
		return "varuint"
	case KindVarInt:
		return "varint"
	case KindFixedPoint:
		return "fixedpoint"
	default:
		return fmt.Sprintf("FieldKind(%d)", uint8(k))
	}
}

// FieldDef describes one field's wire encoding.
//
// Bits is the fixed bit width for Uint, Int and FixedPoint fields, 1 for
// Bool, and 0 for the variable-length kinds. Lo and Hi bound FixedPoint
// values; they are meaningless for other kinds. Threshold suppresses
// delta emission until the quantized difference from the baseline exceeds
// it; it is consumed only by the delta encoder and excluded from the
// schema hash, so peers may disagree on thresholds and stay
// wire-compatible.
type FieldDef struct {
	ID        FieldID
	Kind      FieldKind
	Bits      int
	Lo, Hi    float64
	Threshold uint32
}

// BoolField declares a single-bit boolean field.
func BoolField(id FieldID) FieldDef {
	return FieldDef{ID: id, Kind: KindBool, Bits: 1}
}

// UintField declares an unsigned integer field of the given bit width.
func UintField(id FieldID, bits int) FieldDef {
	return FieldDef{ID: id, Kind: KindUint, Bits: bits}
}

// IntField declares a two's-complement signed integer field of the given
// bit width.
func IntField(id FieldID, bits int) FieldDef {
	return FieldDef{ID: id, Kind: KindInt, Bits: bits}
}

// VarUintField declares a byte-aligned variable-length unsigned field.
func VarUintField(id FieldID) FieldDef {
	return FieldDef{ID: id, Kind: KindVarUint}
}

// VarIntField declares a byte-aligned variable-length signed field.
func VarIntField(id FieldID) FieldDef {
	return FieldDef{ID: id, Kind: KindVarInt}
}

// FixedPointField declares a quantized field covering [lo, hi] with the
// given bit width.
func FixedPointField(id FieldID, lo, hi float64, bits int) FieldDef {
	return FieldDef{ID: id, Kind: KindFixedPoint, Bits: bits, Lo: lo, Hi: hi}
}

// WithThreshold returns a copy of the field with a change threshold in
// quantized units.
func (f FieldDef) WithThreshold(t uint32) FieldDef {
	f.Threshold = t
	return f
}

// ComponentDef groups the fields replicated together under one component
// id.
type ComponentDef struct {
	ID     ComponentID
	Fields []FieldDef
}

// Schema is a validated, immutable component tree.
type Schema struct {
	components []ComponentDef
	index      map[ComponentID]int
	hash       uint64
}

// New validates the component definitions against limits and builds a
// schema. Declared order is preserved and becomes the mask bit order.
func New(defs []ComponentDef, limits wire.Limits) (*Schema, error) {
	if len(defs) == 0 {
		return nil, ErrEmptySchema
	}
	if len(defs) > limits.MaxComponentsPerEntity {
		return nil, &wire.LimitError{
			Kind:   wire.LimitComponentsPerEntity,
			Limit:  limits.MaxComponentsPerEntity,
			Actual: len(defs),
		}
	}

	// Deep-copy the definitions: the hash must keep matching the tree no
	// matter what the caller does with its slices afterwards.
	components := make([]ComponentDef, len(defs))
	for i, c := range defs {
		fields := make([]FieldDef, len(c.Fields))
		copy(fields, c.Fields)
		components[i] = ComponentDef{ID: c.ID, Fields: fields}
	}

	index := make(map[ComponentID]int, len(components))
	for i, c := range components {
		if c.ID == 0 {
			return nil, ErrZeroComponentID
		}
		if _, dup := index[c.ID]; dup {
			return nil, fmt.Errorf("%w: component %d", ErrDuplicateComponent, c.ID)
		}
		index[c.ID] = i

		if len(c.Fields) == 0 {
			return nil, fmt.Errorf("%w: component %d", ErrNoFields, c.ID)
		}
		if len(c.Fields) > limits.MaxFieldsPerComponent {
			return nil, &wire.LimitError{
				Kind:   wire.LimitFieldsPerComponent,
				Limit:  limits.MaxFieldsPerComponent,
				Actual: len(c.Fields),
			}
		}
		seen := make(map[FieldID]struct{}, len(c.Fields))
		for _, f := range c.Fields {
			if f.ID == 0 {
				return nil, fmt.Errorf("%w: component %d", ErrZeroFieldID, c.ID)
			}
			if _, dup := seen[f.ID]; dup {
				return nil, fmt.Errorf("%w: component %d field %d", ErrDuplicateField, c.ID, f.ID)
			}
			seen[f.ID] = struct{}{}
			if err := validateField(c.ID, f); err != nil {
				return nil, err
			}
		}
	}

	s := &Schema{
		components: components,
		index:      index,
	}
	s.hash = computeHash(components)
	return s, nil
}

func validateField(cid ComponentID, f FieldDef) error {
	switch f.Kind {
	case KindBool:
		if f.Bits != 1 {
			return fieldErr(ErrInvalidBits, cid, f.ID)
		}
	case KindUint, KindInt:
		if f.Bits < 1 || f.Bits > 64 {
			return fieldErr(ErrInvalidBits, cid, f.ID)
		}
	case KindVarUint, KindVarInt:
		if f.Bits != 0 {
			return fieldErr(ErrInvalidBits, cid, f.ID)
		}
	case KindFixedPoint:
		if f.Bits < 1 || f.Bits > 64 {
			return fieldErr(ErrInvalidBits, cid, f.ID)
		}
		if !(f.Lo < f.Hi) || math.IsInf(f.Lo, 0) || math.IsInf(f.Hi, 0) {
			return fieldErr(ErrInvalidBounds, cid, f.ID)
		}
	default:
		return fieldErr(ErrInvalidKind, cid, f.ID)
	}
	return nil
}

func fieldErr(sentinel error, cid ComponentID, fid FieldID) error {
	return fmt.Errorf("%w: component %d field %d", sentinel, cid, fid)
}

// Hash returns the schema identifier. Two schemas are wire-compatible
// iff their hashes are equal.
func (s *Schema) Hash() uint64 { return s.hash }

// NumComponents returns the number of components in declared order.
func (s *Schema) NumComponents() int { return len(s.components) }

// Component returns the component at position i in declared order.
func (s *Schema) Component(i int) ComponentDef { return s.components[i] }

// Components returns the component list in declared order. The returned
// slice is the schema's backing storage and must not be modified.
func (s *Schema) Components() []ComponentDef { return s.components }

// ComponentIndex returns the declared position of a component id.
func (s *Schema) ComponentIndex(id ComponentID) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}
