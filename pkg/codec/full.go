package codec

import (
	"fmt"

	"github.com/sdec-dev/sdec/pkg/bitstream"
	"github.com/sdec-dev/sdec/pkg/schema"
	"github.com/sdec-dev/sdec/pkg/wire"
)

// EncodeFull serializes the snapshot as a self-contained FULL packet into
// dst and returns the packet length. Entities are emitted in caller order;
// ids must be unique but need not be sorted.
func (c *Codec) EncodeFull(dst []byte, snap *Snapshot, scratch *Scratch) (int, error) {
	if len(dst) < wire.HeaderSize {
		return 0, bitstream.ErrBufferTooSmall
	}
	n, err := c.encodeFullPayload(dst[wire.HeaderSize:], snap, scratch)
	if err != nil {
		return 0, err
	}
	h := wire.FullHeader(c.schema.Hash(), uint32(snap.Tick), uint32(n))
	if _, err := wire.EncodeHeader(dst, h); err != nil {
		return 0, err
	}
	return wire.HeaderSize + n, nil
}

// encodeFullPayload writes the FULL payload sections at dst[0:] and returns
// the payload length. The session layer reuses it under compact framing.
func (c *Codec) encodeFullPayload(dst []byte, snap *Snapshot, scratch *Scratch) (int, error) {
	count := len(snap.Entities)
	if count > c.limits.MaxEntitiesCreate {
		return 0, &wire.LimitError{Kind: wire.LimitEntitiesCreate, Limit: c.limits.MaxEntitiesCreate, Actual: count}
	}
	if count > c.limits.MaxTotalEntities {
		return 0, &wire.LimitError{Kind: wire.LimitTotalEntities, Limit: c.limits.MaxTotalEntities, Actual: count}
	}
	order, err := scratch.currOrderFor(count)
	if err != nil {
		return 0, err
	}
	if err := sortEntityOrder(snap.Entities, order); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	return wire.AppendSection(dst, 0, wire.TagEntityCreate, c.limits, func(w *bitstream.Writer) error {
		if err := w.WriteUvarint(uint32(count)); err != nil {
			return err
		}
		for i := range snap.Entities {
			if err := c.writeCreateEntity(w, &snap.Entities[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeCreateEntity emits one create record: aligned id, component
// presence mask in schema order, then each present component with a full
// field mask and every field value.
func (c *Codec) writeCreateEntity(w *bitstream.Writer, e *Entity) error {
	if err := c.validateComponentSet(e); err != nil {
		return err
	}
	w.AlignToByte()
	if err := w.WriteUint32(uint32(e.ID)); err != nil {
		return err
	}
	for _, def := range c.schema.Components() {
		if err := w.WriteBit(findComponent(e, def.ID) != nil); err != nil {
			return err
		}
	}
	for _, def := range c.schema.Components() {
		comp := findComponent(e, def.ID)
		if comp == nil {
			continue
		}
		if err := c.writeFullComponent(w, def, comp); err != nil {
			return err
		}
	}
	return nil
}

func (c *Codec) writeFullComponent(w *bitstream.Writer, def schema.ComponentDef, comp *Component) error {
	if len(comp.Fields) != len(def.Fields) {
		return fmt.Errorf("%w: component %d has %d fields, schema declares %d",
			ErrFieldCountMismatch, def.ID, len(comp.Fields), len(def.Fields))
	}
	for range def.Fields {
		if err := w.WriteBit(true); err != nil {
			return err
		}
	}
	for i, f := range def.Fields {
		if err := writeValue(w, def.ID, f, comp.Fields[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateComponentSet rejects entities naming components the schema does
// not declare, or naming the same component twice.
func (c *Codec) validateComponentSet(e *Entity) error {
	for i, comp := range e.Components {
		if _, ok := c.schema.ComponentIndex(comp.ID); !ok {
			return fmt.Errorf("%w: entity %d component %d", ErrUnknownComponent, e.ID, comp.ID)
		}
		for j := 0; j < i; j++ {
			if e.Components[j].ID == comp.ID {
				return fmt.Errorf("%w: entity %d component %d", ErrDuplicateComponent, e.ID, comp.ID)
			}
		}
	}
	return nil
}

// DecodeFull parses and validates a FULL packet and returns the snapshot
// it carries. The result replaces any prior state; it shares no memory
// with the packet.
func (c *Codec) DecodeFull(pkt []byte) (*Snapshot, error) {
	h, payload, err := wire.DecodePacket(pkt, c.limits)
	if err != nil {
		return nil, err
	}
	return c.decodeFullParts(h, payload)
}

func (c *Codec) decodeFullParts(h wire.Header, payload []byte) (*Snapshot, error) {
	if h.Flags&wire.FlagFull == 0 {
		return nil, fmt.Errorf("%w: expected FULL packet", wire.ErrInvalidFlags)
	}
	if err := c.checkHash(h); err != nil {
		return nil, err
	}
	sections, err := wire.DecodeSections(payload, h.Version, c.limits)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Tick: Tick(h.Tick)}
	seen := false
	for _, sec := range sections {
		if sec.Tag != wire.TagEntityCreate {
			return nil, fmt.Errorf("%w: %s in full snapshot", ErrUnexpectedSection, sec.Tag)
		}
		if seen {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSection, sec.Tag)
		}
		seen = true
		if snap.Entities, err = c.decodeCreateSection(sec.Body); err != nil {
			return nil, err
		}
	}
	if n := len(snap.Entities); n > c.limits.MaxTotalEntities {
		return nil, &wire.LimitError{Kind: wire.LimitTotalEntities, Limit: c.limits.MaxTotalEntities, Actual: n}
	}
	return snap, nil
}

func (c *Codec) checkHash(h wire.Header) error {
	if h.SchemaHash != c.schema.Hash() {
		return &SchemaMismatchError{Local: c.schema.Hash(), Packet: h.SchemaHash}
	}
	return nil
}

// decodeCreateSection parses an ENTITY_CREATE body. Entity ids may arrive
// in any order but must be unique within the section.
func (c *Codec) decodeCreateSection(body []byte) ([]Entity, error) {
	r := bitstream.NewReader(body)
	count, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if int64(count) > int64(c.limits.MaxEntitiesCreate) {
		return nil, &wire.LimitError{Kind: wire.LimitEntitiesCreate, Limit: c.limits.MaxEntitiesCreate, Actual: int(count)}
	}
	entities := make([]Entity, 0, count)
	seen := make(map[EntityID]struct{}, count)
	mask := make([]bool, c.schema.NumComponents())
	for i := uint32(0); i < count; i++ {
		r.AlignToByte()
		raw, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		id := EntityID(raw)
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateEntity, id)
		}
		seen[id] = struct{}{}
		for ci := range mask {
			if mask[ci], err = r.ReadBit(); err != nil {
				return nil, err
			}
		}
		e := Entity{ID: id}
		for ci, present := range mask {
			if !present {
				continue
			}
			comp, err := c.readFullComponent(r, c.schema.Component(ci))
			if err != nil {
				return nil, err
			}
			e.Components = append(e.Components, comp)
		}
		entities = append(entities, e)
	}
	r.AlignToByte()
	if r.BitsRemaining() != 0 {
		return nil, ErrTrailingData
	}
	return entities, nil
}

// readFullComponent parses one component of a create record. Create
// records always carry every field, so the field mask must be all ones.
func (c *Codec) readFullComponent(r *bitstream.Reader, def schema.ComponentDef) (Component, error) {
	for _, f := range def.Fields {
		bit, err := r.ReadBit()
		if err != nil {
			return Component{}, err
		}
		if !bit {
			return Component{}, fmt.Errorf("%w: component %d field %d", ErrPartialCreateMask, def.ID, f.ID)
		}
	}
	fields := make([]Value, 0, len(def.Fields))
	for _, f := range def.Fields {
		v, err := readValue(r, def.ID, f)
		if err != nil {
			return Component{}, err
		}
		fields = append(fields, v)
	}
	return Component{ID: def.ID, Fields: fields}, nil
}
