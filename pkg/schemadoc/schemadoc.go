// Package schemadoc reads and writes the JSON schema document format, the
// file both peers author their component layouts in. A document is purely
// descriptive: parsing one yields a validated *schema.Schema, and the
// names it may carry are for humans and tooling only, never for the wire.
package schemadoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sdec-dev/sdec/pkg/schema"
	"github.com/sdec-dev/sdec/pkg/wire"
)

// ErrUnknownKind reports a field kind string the codec does not implement.
var ErrUnknownKind = errors.New("schemadoc: unknown field kind")

// Document is the top-level JSON object.
type Document struct {
	Components []Component `json:"components"`
}

// Component is one component entry. Name is optional annotation.
type Component struct {
	ID     uint16  `json:"id"`
	Name   string  `json:"name,omitempty"`
	Fields []Field `json:"fields"`
}

// Field is one field entry. Kind takes the canonical kind names: bool,
// uint, int, varuint, varint, fixedpoint. Bits applies to uint, int and
// fixedpoint; lo and hi to fixedpoint only. Threshold is the optional
// change-detection threshold in quantized units.
type Field struct {
	ID        uint16  `json:"id"`
	Name      string  `json:"name,omitempty"`
	Kind      string  `json:"kind"`
	Bits      int     `json:"bits,omitempty"`
	Lo        float64 `json:"lo,omitempty"`
	Hi        float64 `json:"hi,omitempty"`
	Threshold uint32  `json:"threshold,omitempty"`
}

func kindFromString(s string) (schema.FieldKind, bool) {
	switch s {
	case "bool":
		return schema.KindBool, true
	case "uint":
		return schema.KindUint, true
	case "int":
		return schema.KindInt, true
	case "varuint":
		return schema.KindVarUint, true
	case "varint":
		return schema.KindVarInt, true
	case "fixedpoint":
		return schema.KindFixedPoint, true
	default:
		return 0, false
	}
}

// ParseDocument decodes document JSON without building a schema. Unknown
// keys are rejected so a typoed parameter cannot silently change the wire
// format.
func ParseDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var d Document
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("schemadoc: %w", err)
	}
	return &d, nil
}

// Schema validates the document against limits and builds the schema it
// describes.
func (d *Document) Schema(limits wire.Limits) (*schema.Schema, error) {
	defs := make([]schema.ComponentDef, 0, len(d.Components))
	for _, c := range d.Components {
		fields := make([]schema.FieldDef, 0, len(c.Fields))
		for _, f := range c.Fields {
			kind, ok := kindFromString(f.Kind)
			if !ok {
				return nil, fmt.Errorf("%w: %q (component %d field %d)", ErrUnknownKind, f.Kind, c.ID, f.ID)
			}
			bits := f.Bits
			if kind == schema.KindBool && bits == 0 {
				bits = 1
			}
			fields = append(fields, schema.FieldDef{
				ID:        schema.FieldID(f.ID),
				Kind:      kind,
				Bits:      bits,
				Lo:        f.Lo,
				Hi:        f.Hi,
				Threshold: f.Threshold,
			})
		}
		defs = append(defs, schema.ComponentDef{ID: schema.ComponentID(c.ID), Fields: fields})
	}
	return schema.New(defs, limits)
}

// Parse builds a schema straight from document JSON.
func Parse(data []byte, limits wire.Limits) (*schema.Schema, error) {
	d, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return d.Schema(limits)
}

// Load builds a schema from a document file.
func Load(path string, limits wire.Limits) (*schema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schemadoc: %w", err)
	}
	return Parse(data, limits)
}

// FromSchema renders a schema back into document form. Schemas carry no
// names, so the result has none; bool fields omit their implied bit width.
func FromSchema(s *schema.Schema) *Document {
	d := &Document{Components: make([]Component, 0, s.NumComponents())}
	for _, c := range s.Components() {
		fields := make([]Field, 0, len(c.Fields))
		for _, f := range c.Fields {
			out := Field{
				ID:        uint16(f.ID),
				Kind:      f.Kind.String(),
				Bits:      f.Bits,
				Lo:        f.Lo,
				Hi:        f.Hi,
				Threshold: f.Threshold,
			}
			if f.Kind == schema.KindBool {
				out.Bits = 0
			}
			fields = append(fields, out)
		}
		d.Components = append(d.Components, Component{ID: uint16(c.ID), Fields: fields})
	}
	return d
}

// Marshal renders a schema as indented document JSON.
func Marshal(s *schema.Schema) ([]byte, error) {
	out, err := json.MarshalIndent(FromSchema(s), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("schemadoc: %w", err)
	}
	return out, nil
}
