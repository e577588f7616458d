package codec

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/sdec-dev/sdec/pkg/bitstream"
	"github.com/sdec-dev/sdec/pkg/schema"
	"github.com/sdec-dev/sdec/pkg/wire"
)

// Delta is the decoded form of a DELTA packet: the entities destroyed,
// created, and updated between the baseline tick and the packet tick.
type Delta struct {
	Tick         Tick
	BaselineTick Tick
	Destroys     []EntityID
	Creates      []Entity
	Updates      []EntityUpdate
}

// EntityUpdate carries the changed components of one surviving entity.
type EntityUpdate struct {
	ID         EntityID
	Components []ComponentUpdate
}

// ComponentUpdate carries the changed fields of one component.
type ComponentUpdate struct {
	ID     schema.ComponentID
	Fields []FieldUpdate
}

// FieldUpdate is one changed field value, addressed by its position in
// the component's schema field list.
type FieldUpdate struct {
	Index int
	Value Value
}

// EncodeDelta serializes the difference from baseline to current as a
// DELTA packet into dst and returns the packet length. The emitted bytes
// depend only on the snapshot contents, not on the order the caller
// stored entities in: sections list entities in ascending id order.
func (c *Codec) EncodeDelta(dst []byte, baseline, current *Snapshot, scratch *Scratch) (int, error) {
	if baseline.Tick == 0 {
		return 0, fmt.Errorf("%w: baseline snapshot has tick zero", wire.ErrInvalidBaseline)
	}
	if len(dst) < wire.HeaderSize {
		return 0, bitstream.ErrBufferTooSmall
	}
	n, err := c.encodeDeltaPayload(dst[wire.HeaderSize:], baseline, current, scratch)
	if err != nil {
		return 0, err
	}
	h := wire.DeltaHeader(c.schema.Hash(), uint32(current.Tick), uint32(baseline.Tick), uint32(n))
	if _, err := wire.EncodeHeader(dst, h); err != nil {
		return 0, err
	}
	return wire.HeaderSize + n, nil
}

type deltaCounts struct {
	destroys int
	creates  int
	updates  int
}

// encodeDeltaPayload writes the DESTROY, CREATE, and UPDATE sections at
// dst[0:], in that order, omitting empty ones. Counts are established and
// checked against the limits before any section bytes are written.
func (c *Codec) encodeDeltaPayload(dst []byte, baseline, current *Snapshot, scratch *Scratch) (int, error) {
	if n := len(current.Entities); n > c.limits.MaxTotalEntities {
		return 0, &wire.LimitError{Kind: wire.LimitTotalEntities, Limit: c.limits.MaxTotalEntities, Actual: n}
	}
	bOrder, err := scratch.baseOrderFor(len(baseline.Entities))
	if err != nil {
		return 0, err
	}
	cOrder, err := scratch.currOrderFor(len(current.Entities))
	if err != nil {
		return 0, err
	}
	if err := sortEntityOrder(baseline.Entities, bOrder); err != nil {
		return 0, err
	}
	if err := sortEntityOrder(current.Entities, cOrder); err != nil {
		return 0, err
	}
	counts, err := c.diffCounts(baseline, current, bOrder, cOrder)
	if err != nil {
		return 0, err
	}
	if counts.destroys > c.limits.MaxEntitiesDestroy {
		return 0, &wire.LimitError{Kind: wire.LimitEntitiesDestroy, Limit: c.limits.MaxEntitiesDestroy, Actual: counts.destroys}
	}
	if counts.creates > c.limits.MaxEntitiesCreate {
		return 0, &wire.LimitError{Kind: wire.LimitEntitiesCreate, Limit: c.limits.MaxEntitiesCreate, Actual: counts.creates}
	}
	if counts.updates > c.limits.MaxEntitiesUpdate {
		return 0, &wire.LimitError{Kind: wire.LimitEntitiesUpdate, Limit: c.limits.MaxEntitiesUpdate, Actual: counts.updates}
	}

	off := 0
	if counts.destroys > 0 {
		off, err = wire.AppendSection(dst, off, wire.TagEntityDestroy, c.limits, func(w *bitstream.Writer) error {
			if err := w.WriteUvarint(uint32(counts.destroys)); err != nil {
				return err
			}
			j := 0
			for _, bi := range bOrder {
				b := &baseline.Entities[bi]
				for j < len(cOrder) && current.Entities[cOrder[j]].ID < b.ID {
					j++
				}
				if j < len(cOrder) && current.Entities[cOrder[j]].ID == b.ID {
					continue
				}
				w.AlignToByte()
				if err := w.WriteUint32(uint32(b.ID)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	if counts.creates > 0 {
		off, err = wire.AppendSection(dst, off, wire.TagEntityCreate, c.limits, func(w *bitstream.Writer) error {
			if err := w.WriteUvarint(uint32(counts.creates)); err != nil {
				return err
			}
			i := 0
			for _, cj := range cOrder {
				cur := &current.Entities[cj]
				for i < len(bOrder) && baseline.Entities[bOrder[i]].ID < cur.ID {
					i++
				}
				if i < len(bOrder) && baseline.Entities[bOrder[i]].ID == cur.ID {
					continue
				}
				if err := c.writeCreateEntity(w, cur); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	if counts.updates > 0 {
		off, err = wire.AppendSection(dst, off, wire.TagEntityUpdate, c.limits, func(w *bitstream.Writer) error {
			if err := w.WriteUvarint(uint32(counts.updates)); err != nil {
				return err
			}
			i, j := 0, 0
			for i < len(bOrder) && j < len(cOrder) {
				b := &baseline.Entities[bOrder[i]]
				cur := &current.Entities[cOrder[j]]
				switch {
				case b.ID < cur.ID:
					i++
				case b.ID > cur.ID:
					j++
				default:
					if _, err := c.writeUpdateEntity(w, b, cur, scratch); err != nil {
						return err
					}
					i++
					j++
				}
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return off, nil
}

// diffCounts walks both snapshots in id order, validating every matched
// entity pair and counting the records each section will carry.
func (c *Codec) diffCounts(baseline, current *Snapshot, bOrder, cOrder []int) (deltaCounts, error) {
	var counts deltaCounts
	i, j := 0, 0
	for i < len(bOrder) && j < len(cOrder) {
		b := &baseline.Entities[bOrder[i]]
		cur := &current.Entities[cOrder[j]]
		switch {
		case b.ID < cur.ID:
			counts.destroys++
			i++
		case b.ID > cur.ID:
			counts.creates++
			j++
		default:
			changed, err := c.entityChanged(b, cur)
			if err != nil {
				return deltaCounts{}, err
			}
			if changed {
				counts.updates++
			}
			i++
			j++
		}
	}
	counts.destroys += len(bOrder) - i
	counts.creates += len(cOrder) - j
	return counts, nil
}

// entityChanged validates a matched entity pair and reports whether any
// component field crossed its change threshold. A component present on
// only one side of the pair is a caller error, not a change.
func (c *Codec) entityChanged(b, cur *Entity) (bool, error) {
	if err := c.validateComponentSet(b); err != nil {
		return false, err
	}
	if err := c.validateComponentSet(cur); err != nil {
		return false, err
	}
	changed := false
	for _, def := range c.schema.Components() {
		bc := findComponent(b, def.ID)
		cc := findComponent(cur, def.ID)
		if (bc == nil) != (cc == nil) {
			return false, fmt.Errorf("%w: entity %d component %d", ErrComponentMismatch, cur.ID, def.ID)
		}
		if bc == nil {
			continue
		}
		compChanged, err := c.componentChanged(def, bc, cc, nil)
		if err != nil {
			return false, err
		}
		changed = changed || compChanged
	}
	return changed, nil
}

// componentChanged reports whether any field of the component changed.
// When mask is non-nil it receives the per-field change flags.
func (c *Codec) componentChanged(def schema.ComponentDef, bc, cc *Component, mask []bool) (bool, error) {
	if len(bc.Fields) != len(def.Fields) || len(cc.Fields) != len(def.Fields) {
		return false, fmt.Errorf("%w: component %d", ErrFieldCountMismatch, def.ID)
	}
	any := false
	for i, f := range def.Fields {
		changed, err := fieldChanged(def.ID, f, bc.Fields[i], cc.Fields[i])
		if err != nil {
			return false, err
		}
		if mask != nil {
			mask[i] = changed
		}
		any = any || changed
	}
	return any, nil
}

// fieldChanged applies the field's change policy. With no threshold a
// field changed when its encoded form changed, so a raw float move smaller
// than one quantization step is not a change. Thresholds are measured in
// quantized units and booleans ignore them.
func fieldChanged(cid schema.ComponentID, f schema.FieldDef, a, b Value) (bool, error) {
	if a.Kind() != f.Kind || b.Kind() != f.Kind {
		return false, fieldErr(cid, f.ID, ErrValueType)
	}
	if f.Kind == schema.KindBool {
		return a.bits != b.bits, nil
	}
	if f.Kind == schema.KindFixedPoint {
		qa := bitstream.Quantize(a.AsFixed(), f.Lo, f.Hi, f.Bits)
		qb := bitstream.Quantize(b.AsFixed(), f.Lo, f.Hi, f.Bits)
		if f.Threshold == 0 {
			return qa != qb, nil
		}
		return absDiffU64(qa, qb) > uint64(f.Threshold), nil
	}
	if f.Threshold == 0 {
		return a.bits != b.bits, nil
	}
	switch f.Kind {
	case schema.KindUint, schema.KindVarUint:
		return absDiffU64(a.bits, b.bits) > uint64(f.Threshold), nil
	default:
		return absDiffI64(signedOf(a), signedOf(b)) > uint64(f.Threshold), nil
	}
}

func signedOf(v Value) int64 {
	if v.Kind() == schema.KindVarInt {
		return int64(v.AsVarInt())
	}
	return v.AsInt()
}

func absDiffU64(a, b uint64) uint64 {
	if a < b {
		return b - a
	}
	return a - b
}

// absDiffI64 returns |a-b| without overflow; two's complement subtraction
// yields the correct magnitude even when the signed difference would not
// fit in an int64.
func absDiffI64(a, b int64) uint64 {
	if a < b {
		return uint64(b) - uint64(a)
	}
	return uint64(a) - uint64(b)
}

// writeUpdateEntity emits one update record if any component changed and
// reports whether it wrote one.
func (c *Codec) writeUpdateEntity(w *bitstream.Writer, b, cur *Entity, scratch *Scratch) (bool, error) {
	compMask, err := scratch.componentMaskFor(c.schema.NumComponents())
	if err != nil {
		return false, err
	}
	any := false
	for ci, def := range c.schema.Components() {
		bc := findComponent(b, def.ID)
		cc := findComponent(cur, def.ID)
		if (bc == nil) != (cc == nil) {
			return false, fmt.Errorf("%w: entity %d component %d", ErrComponentMismatch, cur.ID, def.ID)
		}
		if bc == nil {
			compMask[ci] = false
			continue
		}
		changed, err := c.componentChanged(def, bc, cc, nil)
		if err != nil {
			return false, err
		}
		compMask[ci] = changed
		any = any || changed
	}
	if !any {
		return false, nil
	}
	w.AlignToByte()
	if err := w.WriteUint32(uint32(cur.ID)); err != nil {
		return false, err
	}
	for _, bit := range compMask {
		if err := w.WriteBit(bit); err != nil {
			return false, err
		}
	}
	for ci, def := range c.schema.Components() {
		if !compMask[ci] {
			continue
		}
		bc := findComponent(b, def.ID)
		cc := findComponent(cur, def.ID)
		fmask, err := scratch.fieldMaskFor(len(def.Fields))
		if err != nil {
			return false, err
		}
		if _, err := c.componentChanged(def, bc, cc, fmask); err != nil {
			return false, err
		}
		for _, bit := range fmask {
			if err := w.WriteBit(bit); err != nil {
				return false, err
			}
		}
		for fi, f := range def.Fields {
			if !fmask[fi] {
				continue
			}
			if err := writeValue(w, def.ID, f, cc.Fields[fi]); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// sortEntityOrder fills order with 0..n-1 sorted by entity id and rejects
// duplicate ids.
func sortEntityOrder(entities []Entity, order []int) error {
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		return cmp.Compare(entities[a].ID, entities[b].ID)
	})
	for i := 1; i < len(order); i++ {
		if entities[order[i-1]].ID == entities[order[i]].ID {
			return fmt.Errorf("%w: %d", ErrDuplicateEntity, entities[order[i]].ID)
		}
	}
	return nil
}

// DecodeDelta parses and validates a DELTA packet without applying it.
func (c *Codec) DecodeDelta(pkt []byte) (*Delta, error) {
	h, payload, err := wire.DecodePacket(pkt, c.limits)
	if err != nil {
		return nil, err
	}
	return c.decodeDeltaParts(h, payload)
}

func (c *Codec) decodeDeltaParts(h wire.Header, payload []byte) (*Delta, error) {
	if h.Flags&wire.FlagDelta == 0 {
		return nil, fmt.Errorf("%w: expected DELTA packet", wire.ErrInvalidFlags)
	}
	if err := c.checkHash(h); err != nil {
		return nil, err
	}
	sections, err := wire.DecodeSections(payload, h.Version, c.limits)
	if err != nil {
		return nil, err
	}
	d := &Delta{Tick: Tick(h.Tick), BaselineTick: Tick(h.BaselineTick)}
	var seenDestroy, seenCreate, seenUpdate bool
	for _, sec := range sections {
		switch sec.Tag {
		case wire.TagEntityDestroy:
			if seenDestroy {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSection, sec.Tag)
			}
			seenDestroy = true
			if d.Destroys, err = c.decodeDestroySection(sec.Body); err != nil {
				return nil, err
			}
		case wire.TagEntityCreate:
			if seenCreate {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSection, sec.Tag)
			}
			seenCreate = true
			if d.Creates, err = c.decodeCreateSection(sec.Body); err != nil {
				return nil, err
			}
		case wire.TagEntityUpdate:
			if seenUpdate {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSection, sec.Tag)
			}
			seenUpdate = true
			if d.Updates, err = c.decodeUpdateSection(sec.Body); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %s in delta packet", ErrUnexpectedSection, sec.Tag)
		}
	}
	return d, nil
}

func (c *Codec) decodeDestroySection(body []byte) ([]EntityID, error) {
	r := bitstream.NewReader(body)
	count, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if int64(count) > int64(c.limits.MaxEntitiesDestroy) {
		return nil, &wire.LimitError{Kind: wire.LimitEntitiesDestroy, Limit: c.limits.MaxEntitiesDestroy, Actual: int(count)}
	}
	ids := make([]EntityID, 0, count)
	seen := make(map[EntityID]struct{}, count)
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
		ids = append(ids, id)
	}
	r.AlignToByte()
	if r.BitsRemaining() != 0 {
		return nil, ErrTrailingData
	}
	return ids, nil
}

func (c *Codec) decodeUpdateSection(body []byte) ([]EntityUpdate, error) {
	r := bitstream.NewReader(body)
	count, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if int64(count) > int64(c.limits.MaxEntitiesUpdate) {
		return nil, &wire.LimitError{Kind: wire.LimitEntitiesUpdate, Limit: c.limits.MaxEntitiesUpdate, Actual: int(count)}
	}
	updates := make([]EntityUpdate, 0, count)
	seen := make(map[EntityID]struct{}, count)
	mask := make([]bool, c.schema.NumComponents())
	maxFields := 0
	for _, def := range c.schema.Components() {
		if len(def.Fields) > maxFields {
			maxFields = len(def.Fields)
		}
	}
	fmaskBuf := make([]bool, maxFields)
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
		up := EntityUpdate{ID: id}
		for ci, set := range mask {
			if !set {
				continue
			}
			def := c.schema.Component(ci)
			fmask := fmaskBuf[:len(def.Fields)]
			nset := 0
			for fi := range fmask {
				if fmask[fi], err = r.ReadBit(); err != nil {
					return nil, err
				}
				if fmask[fi] {
					nset++
				}
			}
			if nset == 0 {
				return nil, fmt.Errorf("%w: entity %d component %d", ErrEmptyFieldMask, id, def.ID)
			}
			cu := ComponentUpdate{ID: def.ID, Fields: make([]FieldUpdate, 0, nset)}
			for fi, f := range def.Fields {
				if !fmask[fi] {
					continue
				}
				v, err := readValue(r, def.ID, f)
				if err != nil {
					return nil, err
				}
				cu.Fields = append(cu.Fields, FieldUpdate{Index: fi, Value: v})
			}
			up.Components = append(up.Components, cu)
		}
		updates = append(updates, up)
	}
	r.AlignToByte()
	if r.BitsRemaining() != 0 {
		return nil, ErrTrailingData
	}
	return updates, nil
}

// ApplyDelta produces the snapshot that results from applying delta to
// baseline. The baseline is never modified and the result shares no
// memory with it; on any error the returned snapshot is nil and the
// baseline remains the authoritative state.
//
// Order of operations: destroys, then creates, then the total-entity
// limit, then updates.
func (c *Codec) ApplyDelta(baseline *Snapshot, delta *Delta) (*Snapshot, error) {
	if delta.BaselineTick != baseline.Tick {
		return nil, fmt.Errorf("%w: delta baseline %d, snapshot tick %d", ErrBaselineMismatch, delta.BaselineTick, baseline.Tick)
	}
	index := make(map[EntityID]int, len(baseline.Entities))
	for i, e := range baseline.Entities {
		if _, dup := index[e.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateEntity, e.ID)
		}
		index[e.ID] = i
	}
	destroyed := make(map[EntityID]struct{}, len(delta.Destroys))
	for _, id := range delta.Destroys {
		if _, ok := index[id]; !ok {
			return nil, fmt.Errorf("%w: destroy of %d", ErrEntityNotFound, id)
		}
		if _, dup := destroyed[id]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateEntity, id)
		}
		destroyed[id] = struct{}{}
	}
	out := &Snapshot{
		Tick:     delta.Tick,
		Entities: make([]Entity, 0, len(baseline.Entities)-len(destroyed)+len(delta.Creates)),
	}
	pos := make(map[EntityID]int, cap(out.Entities))
	for _, e := range baseline.Entities {
		if _, gone := destroyed[e.ID]; gone {
			continue
		}
		pos[e.ID] = len(out.Entities)
		out.Entities = append(out.Entities, cloneEntity(e))
	}
	for _, e := range delta.Creates {
		if _, exists := pos[e.ID]; exists {
			return nil, fmt.Errorf("%w: create of %d", ErrEntityExists, e.ID)
		}
		pos[e.ID] = len(out.Entities)
		out.Entities = append(out.Entities, cloneEntity(e))
	}
	if n := len(out.Entities); n > c.limits.MaxTotalEntities {
		return nil, &wire.LimitError{Kind: wire.LimitTotalEntities, Limit: c.limits.MaxTotalEntities, Actual: n}
	}
	for _, up := range delta.Updates {
		i, ok := pos[up.ID]
		if !ok {
			return nil, fmt.Errorf("%w: update of %d", ErrEntityNotFound, up.ID)
		}
		if err := c.applyEntityUpdate(&out.Entities[i], up); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Codec) applyEntityUpdate(e *Entity, up EntityUpdate) error {
	for _, cu := range up.Components {
		ci, ok := c.schema.ComponentIndex(cu.ID)
		if !ok {
			return fmt.Errorf("%w: component %d", ErrUnknownComponent, cu.ID)
		}
		def := c.schema.Component(ci)
		comp := findComponent(e, cu.ID)
		if comp == nil {
			return fmt.Errorf("%w: entity %d component %d", ErrComponentNotFound, e.ID, cu.ID)
		}
		for _, fu := range cu.Fields {
			if fu.Index < 0 || fu.Index >= len(def.Fields) || fu.Index >= len(comp.Fields) {
				return fmt.Errorf("%w: entity %d component %d index %d", ErrFieldIndexRange, e.ID, cu.ID, fu.Index)
			}
			if fu.Value.Kind() != def.Fields[fu.Index].Kind {
				return fieldErr(cu.ID, def.Fields[fu.Index].ID, ErrValueType)
			}
			comp.Fields[fu.Index] = fu.Value
		}
	}
	return nil
}
