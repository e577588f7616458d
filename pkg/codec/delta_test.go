package codec

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/sdec-dev/sdec/pkg/bitstream"
	"github.com/sdec-dev/sdec/pkg/schema"
	"github.com/sdec-dev/sdec/pkg/wire"
)

func TestDeltaRoundTrip(t *testing.T) {
	c, scratch := testCodec(t)
	baseline := &Snapshot{Tick: 10, Entities: []Entity{
		{ID: 1, Components: []Component{transform(10, 20, 100, true), score(500, -3, 90)}},
		{ID: 2, Components: []Component{transform(-5, -5, 50, true)}},
		{ID: 3, Components: []Component{score(1, 1, 1)}},
	}}
	current := &Snapshot{Tick: 11, Entities: []Entity{
		{ID: 1, Components: []Component{transform(12, 20, 100, true), score(500, -3, 90)}},
		{ID: 3, Components: []Component{score(1, 1, 1)}},
		{ID: 4, Components: []Component{transform(0, 0, 10, false)}},
	}}

	buf := make([]byte, 4096)
	n, err := c.EncodeDelta(buf, baseline, current, scratch)
	if err != nil {
		t.Fatalf("EncodeDelta: %v", err)
	}

	rep, err := Inspect(buf[:n], wire.DefaultLimits())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	var names []string
	for _, sec := range rep.Sections {
		names = append(names, sec.Name)
	}
	want := []string{"ENTITY_DESTROY", "ENTITY_CREATE", "ENTITY_UPDATE"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("section order = %v, want %v", names, want)
	}

	d, err := c.DecodeDelta(buf[:n])
	if err != nil {
		t.Fatalf("DecodeDelta: %v", err)
	}
	if d.Tick != 11 || d.BaselineTick != 10 {
		t.Fatalf("delta ticks = %d/%d, want 11/10", d.Tick, d.BaselineTick)
	}
	if len(d.Destroys) != 1 || d.Destroys[0] != 2 {
		t.Fatalf("destroys = %v, want [2]", d.Destroys)
	}
	if len(d.Creates) != 1 || d.Creates[0].ID != 4 {
		t.Fatalf("creates = %v, want entity 4", d.Creates)
	}
	if len(d.Updates) != 1 || d.Updates[0].ID != 1 {
		t.Fatalf("updates = %v, want entity 1", d.Updates)
	}
	// Only the moved axis of the transform changed.
	if len(d.Updates[0].Components) != 1 || d.Updates[0].Components[0].ID != 1 {
		t.Fatalf("updated components = %v", d.Updates[0].Components)
	}
	if fu := d.Updates[0].Components[0].Fields; len(fu) != 1 || fu[0].Index != 0 {
		t.Fatalf("updated fields = %v, want index 0 only", fu)
	}

	applied, err := c.ApplyDelta(baseline, d)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	assertSnapshotsMatch(t, c.Schema(), applied, current)
}

func TestDeltaIdenticalSnapshots(t *testing.T) {
	c, scratch := testCodec(t)
	baseline := &Snapshot{Tick: 10, Entities: []Entity{
		{ID: 1, Components: []Component{transform(1, 2, 3, true)}},
	}}
	current := &Snapshot{Tick: 11, Entities: []Entity{
		{ID: 1, Components: []Component{transform(1, 2, 3, true)}},
	}}
	buf := make([]byte, 1024)
	n, err := c.EncodeDelta(buf, baseline, current, scratch)
	if err != nil {
		t.Fatalf("EncodeDelta: %v", err)
	}
	if n != wire.HeaderSize {
		t.Fatalf("packet length = %d, want bare header %d", n, wire.HeaderSize)
	}
	d, err := c.DecodeDelta(buf[:n])
	if err != nil {
		t.Fatalf("DecodeDelta: %v", err)
	}
	if len(d.Destroys)+len(d.Creates)+len(d.Updates) != 0 {
		t.Fatalf("delta not empty: %+v", d)
	}
	applied, err := c.ApplyDelta(baseline, d)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	assertSnapshotsMatch(t, c.Schema(), applied, current)
}

// TestDeltaDeterministicUnderPermutation encodes the same logical pair of
// snapshots with entities stored in different orders and expects
// byte-identical packets.
func TestDeltaDeterministicUnderPermutation(t *testing.T) {
	c, scratch := testCodec(t)

	mk := func(tick Tick, order []int) *Snapshot {
		all := map[int]Entity{
			1: {ID: 1, Components: []Component{transform(10, 20, 30, true)}},
			2: {ID: 2, Components: []Component{score(7, -7, 70)}},
			3: {ID: 3, Components: []Component{transform(0, 0, 1, false)}},
		}
		if tick == 11 {
			// Entity 2 drifts, entity 3 dies, entity 5 appears.
			all[2] = Entity{ID: 2, Components: []Component{score(9, -7, 70)}}
			delete(all, 3)
			all[5] = Entity{ID: 5, Components: []Component{transform(4, 4, 4, true)}}
		}
		s := &Snapshot{Tick: tick}
		for _, id := range order {
			if e, ok := all[id]; ok {
				s.Entities = append(s.Entities, e)
			}
		}
		return s
	}

	bufA := make([]byte, 4096)
	nA, err := c.EncodeDelta(bufA, mk(10, []int{1, 2, 3}), mk(11, []int{1, 2, 5}), scratch)
	if err != nil {
		t.Fatalf("EncodeDelta A: %v", err)
	}
	bufB := make([]byte, 4096)
	nB, err := c.EncodeDelta(bufB, mk(10, []int{3, 1, 2}), mk(11, []int{5, 2, 1}), scratch)
	if err != nil {
		t.Fatalf("EncodeDelta B: %v", err)
	}
	if !bytes.Equal(bufA[:nA], bufB[:nB]) {
		t.Fatalf("permuted inputs produced different packets\n a %x\n b %x", bufA[:nA], bufB[:nB])
	}
}

func thresholdCodec(t *testing.T) (*Codec, *Scratch) {
	t.Helper()
	s, err := schema.New([]schema.ComponentDef{
		{ID: 1, Fields: []schema.FieldDef{
			schema.UintField(1, 16).WithThreshold(2),
			schema.FixedPointField(2, 0, 100, 10).WithThreshold(3),
			schema.BoolField(3).WithThreshold(5),
		}},
	}, wire.DefaultLimits())
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	c, err := New(s, wire.DefaultLimits())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, NewScratch(wire.DefaultLimits())
}

func TestDeltaChangeThresholds(t *testing.T) {
	c, scratch := thresholdCodec(t)
	fixedAt := func(q uint64) float64 { return bitstream.Dequantize(q, 0, 100, 10) }

	mk := func(tick Tick, counter uint64, q uint64, flag bool) *Snapshot {
		return &Snapshot{Tick: tick, Entities: []Entity{
			{ID: 1, Components: []Component{{ID: 1, Fields: []Value{Uint(counter), Fixed(fixedAt(q)), Bool(flag)}}}},
		}}
	}

	tests := []struct {
		name       string
		current    *Snapshot
		wantFields []int // changed field indexes, nil for no update
	}{
		{"all within threshold", mk(11, 102, 515, true), nil},
		{"uint beyond threshold", mk(11, 103, 512, true), []int{0}},
		{"fixed beyond threshold", mk(11, 100, 516, true), []int{1}},
		{"bool ignores threshold", mk(11, 100, 512, false), []int{2}},
	}
	baseline := mk(10, 100, 512, true)
	buf := make([]byte, 1024)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := c.EncodeDelta(buf, baseline, tt.current, scratch)
			if err != nil {
				t.Fatalf("EncodeDelta: %v", err)
			}
			d, err := c.DecodeDelta(buf[:n])
			if err != nil {
				t.Fatalf("DecodeDelta: %v", err)
			}
			if tt.wantFields == nil {
				if len(d.Updates) != 0 {
					t.Fatalf("updates = %+v, want none", d.Updates)
				}
				return
			}
			if len(d.Updates) != 1 || len(d.Updates[0].Components) != 1 {
				t.Fatalf("updates = %+v, want one entity, one component", d.Updates)
			}
			var got []int
			for _, fu := range d.Updates[0].Components[0].Fields {
				got = append(got, fu.Index)
			}
			if !reflect.DeepEqual(got, tt.wantFields) {
				t.Fatalf("changed fields = %v, want %v", got, tt.wantFields)
			}
		})
	}
}

// TestDeltaQuantizationSuppression moves a fixed-point value by less than
// half a quantization step and expects no update on the wire.
func TestDeltaQuantizationSuppression(t *testing.T) {
	c, scratch := testCodec(t)
	step := 2000.0 / 65535.0
	baseline := &Snapshot{Tick: 10, Entities: []Entity{
		{ID: 1, Components: []Component{transform(100, 0, 1, true)}},
	}}
	current := &Snapshot{Tick: 11, Entities: []Entity{
		{ID: 1, Components: []Component{transform(100+step/4, 0, 1, true)}},
	}}
	buf := make([]byte, 1024)
	n, err := c.EncodeDelta(buf, baseline, current, scratch)
	if err != nil {
		t.Fatalf("EncodeDelta: %v", err)
	}
	if n != wire.HeaderSize {
		t.Fatalf("sub-step move emitted %d payload bytes", n-wire.HeaderSize)
	}
}

func TestEncodeDeltaRejects(t *testing.T) {
	c, scratch := testCodec(t)
	buf := make([]byte, 4096)

	t.Run("zero baseline tick", func(t *testing.T) {
		baseline := &Snapshot{Tick: 0}
		current := &Snapshot{Tick: 1}
		if _, err := c.EncodeDelta(buf, baseline, current, scratch); !errors.Is(err, wire.ErrInvalidBaseline) {
			t.Fatalf("EncodeDelta error = %v, want ErrInvalidBaseline", err)
		}
	})

	t.Run("component presence mismatch", func(t *testing.T) {
		baseline := &Snapshot{Tick: 10, Entities: []Entity{
			{ID: 1, Components: []Component{transform(0, 0, 1, true)}},
		}}
		current := &Snapshot{Tick: 11, Entities: []Entity{
			{ID: 1, Components: []Component{transform(0, 0, 1, true), score(1, 1, 1)}},
		}}
		if _, err := c.EncodeDelta(buf, baseline, current, scratch); !errors.Is(err, ErrComponentMismatch) {
			t.Fatalf("EncodeDelta error = %v, want ErrComponentMismatch", err)
		}
	})

	t.Run("duplicate baseline ids", func(t *testing.T) {
		baseline := &Snapshot{Tick: 10, Entities: []Entity{{ID: 1}, {ID: 1}}}
		current := &Snapshot{Tick: 11}
		if _, err := c.EncodeDelta(buf, baseline, current, scratch); !errors.Is(err, ErrDuplicateEntity) {
			t.Fatalf("EncodeDelta error = %v, want ErrDuplicateEntity", err)
		}
	})

	t.Run("destroy limit", func(t *testing.T) {
		tight := wire.DefaultLimits()
		tight.MaxEntitiesDestroy = 1
		tc, err := New(c.Schema(), tight)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		baseline := &Snapshot{Tick: 10, Entities: []Entity{{ID: 1}, {ID: 2}}}
		current := &Snapshot{Tick: 11}
		var limitErr *wire.LimitError
		if _, err := tc.EncodeDelta(buf, baseline, current, NewScratch(tight)); !errors.As(err, &limitErr) || limitErr.Kind != wire.LimitEntitiesDestroy {
			t.Fatalf("EncodeDelta error = %v, want entities-destroy limit", err)
		}
	})
}

func TestDecodeDeltaRejects(t *testing.T) {
	c, _ := testCodec(t)
	hash := c.Schema().Hash()

	emptyDestroy := buildSection(t, wire.TagEntityDestroy, func(w *bitstream.Writer) error {
		return w.WriteUvarint(0)
	})
	initSection := buildSection(t, wire.TagSessionInit, func(w *bitstream.Writer) error {
		if err := w.WriteUint64(1); err != nil {
			return err
		}
		return w.WriteUint8(1)
	})
	emptyFieldMask := buildSection(t, wire.TagEntityUpdate, func(w *bitstream.Writer) error {
		if err := w.WriteUvarint(1); err != nil {
			return err
		}
		if err := w.WriteUint32(1); err != nil {
			return err
		}
		// Component 1 marked changed, all four field bits clear.
		for _, bit := range []bool{true, false, false, false, false, false} {
			if err := w.WriteBit(bit); err != nil {
				return err
			}
		}
		return nil
	})
	dupDestroyIDs := buildSection(t, wire.TagEntityDestroy, func(w *bitstream.Writer) error {
		if err := w.WriteUvarint(2); err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			w.AlignToByte()
			if err := w.WriteUint32(7); err != nil {
				return err
			}
		}
		return nil
	})
	destroyTrailing := buildSection(t, wire.TagEntityDestroy, func(w *bitstream.Writer) error {
		if err := w.WriteUvarint(0); err != nil {
			return err
		}
		return w.WriteUint8(0x00)
	})

	tests := []struct {
		name string
		pkt  []byte
		want error
	}{
		{
			name: "full packet",
			pkt:  buildPacket(t, wire.Version, wire.FlagFull, hash, 6, 0, nil),
			want: wire.ErrInvalidFlags,
		},
		{
			name: "duplicate destroy section",
			pkt:  buildPacket(t, wire.Version, wire.FlagDelta, hash, 6, 5, append(append([]byte{}, emptyDestroy...), emptyDestroy...)),
			want: ErrDuplicateSection,
		},
		{
			name: "init section in delta",
			pkt:  buildPacket(t, wire.Version, wire.FlagDelta, hash, 6, 5, initSection),
			want: ErrUnexpectedSection,
		},
		{
			name: "empty field mask",
			pkt:  buildPacket(t, wire.Version, wire.FlagDelta, hash, 6, 5, emptyFieldMask),
			want: ErrEmptyFieldMask,
		},
		{
			name: "duplicate destroy ids",
			pkt:  buildPacket(t, wire.Version, wire.FlagDelta, hash, 6, 5, dupDestroyIDs),
			want: ErrDuplicateEntity,
		},
		{
			name: "trailing destroy bytes",
			pkt:  buildPacket(t, wire.Version, wire.FlagDelta, hash, 6, 5, destroyTrailing),
			want: ErrTrailingData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.DecodeDelta(tt.pkt); !errors.Is(err, tt.want) {
				t.Fatalf("DecodeDelta error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApplyDeltaRejects(t *testing.T) {
	c, _ := testCodec(t)
	baseline := &Snapshot{Tick: 10, Entities: []Entity{
		{ID: 1, Components: []Component{transform(0, 0, 1, true)}},
	}}

	tests := []struct {
		name  string
		delta *Delta
		want  error
	}{
		{
			name:  "baseline tick mismatch",
			delta: &Delta{Tick: 12, BaselineTick: 11},
			want:  ErrBaselineMismatch,
		},
		{
			name:  "destroy of unknown entity",
			delta: &Delta{Tick: 11, BaselineTick: 10, Destroys: []EntityID{9}},
			want:  ErrEntityNotFound,
		},
		{
			name:  "create of existing entity",
			delta: &Delta{Tick: 11, BaselineTick: 10, Creates: []Entity{{ID: 1}}},
			want:  ErrEntityExists,
		},
		{
			name:  "update of unknown entity",
			delta: &Delta{Tick: 11, BaselineTick: 10, Updates: []EntityUpdate{{ID: 9}}},
			want:  ErrEntityNotFound,
		},
		{
			name: "update of component not in schema",
			delta: &Delta{Tick: 11, BaselineTick: 10, Updates: []EntityUpdate{
				{ID: 1, Components: []ComponentUpdate{{ID: 9}}},
			}},
			want: ErrUnknownComponent,
		},
		{
			name: "update of component not on entity",
			delta: &Delta{Tick: 11, BaselineTick: 10, Updates: []EntityUpdate{
				{ID: 1, Components: []ComponentUpdate{{ID: 2, Fields: []FieldUpdate{{Index: 0, Value: VarUint(1)}}}}},
			}},
			want: ErrComponentNotFound,
		},
		{
			name: "field index out of range",
			delta: &Delta{Tick: 11, BaselineTick: 10, Updates: []EntityUpdate{
				{ID: 1, Components: []ComponentUpdate{{ID: 1, Fields: []FieldUpdate{{Index: 7, Value: Bool(true)}}}}},
			}},
			want: ErrFieldIndexRange,
		},
		{
			name: "value kind mismatch",
			delta: &Delta{Tick: 11, BaselineTick: 10, Updates: []EntityUpdate{
				{ID: 1, Components: []ComponentUpdate{{ID: 1, Fields: []FieldUpdate{{Index: 0, Value: Bool(true)}}}}},
			}},
			want: ErrValueType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := c.ApplyDelta(baseline, tt.delta)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ApplyDelta error = %v, want %v", err, tt.want)
			}
			if out != nil {
				t.Fatal("ApplyDelta returned a snapshot alongside an error")
			}
		})
	}

	t.Run("total entity limit", func(t *testing.T) {
		tight := wire.DefaultLimits()
		tight.MaxTotalEntities = 1
		tc, err := New(c.Schema(), tight)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		delta := &Delta{Tick: 11, BaselineTick: 10, Creates: []Entity{{ID: 2}}}
		var limitErr *wire.LimitError
		if _, err := tc.ApplyDelta(baseline, delta); !errors.As(err, &limitErr) || limitErr.Kind != wire.LimitTotalEntities {
			t.Fatalf("ApplyDelta error = %v, want total-entities limit", err)
		}
	})
}

// TestApplyDeltaAtomic verifies all-or-nothing application: a failure on
// the last operation leaves the baseline byte-for-byte intact.
func TestApplyDeltaAtomic(t *testing.T) {
	c, _ := testCodec(t)
	baseline := &Snapshot{Tick: 10, Entities: []Entity{
		{ID: 1, Components: []Component{transform(1, 2, 3, true)}},
		{ID: 2, Components: []Component{score(4, 5, 6)}},
	}}
	before := baseline.Clone()

	delta := &Delta{
		Tick:         11,
		BaselineTick: 10,
		Destroys:     []EntityID{2},
		Creates:      []Entity{{ID: 3, Components: []Component{transform(7, 8, 9, false)}}},
		Updates: []EntityUpdate{
			{ID: 1, Components: []ComponentUpdate{{ID: 1, Fields: []FieldUpdate{{Index: 2, Value: Uint(42)}}}}},
			{ID: 99, Components: nil}, // fails here
		},
	}
	out, err := c.ApplyDelta(baseline, delta)
	if !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("ApplyDelta error = %v, want ErrEntityNotFound", err)
	}
	if out != nil {
		t.Fatal("ApplyDelta returned a snapshot alongside an error")
	}
	if !reflect.DeepEqual(baseline, before) {
		t.Fatalf("baseline mutated by failed apply\n got %+v\nwant %+v", baseline, before)
	}
}

func TestApplyDeltaDoesNotAliasBaseline(t *testing.T) {
	c, _ := testCodec(t)
	baseline := &Snapshot{Tick: 10, Entities: []Entity{
		{ID: 1, Components: []Component{transform(1, 2, 3, true)}},
	}}
	delta := &Delta{Tick: 11, BaselineTick: 10}
	out, err := c.ApplyDelta(baseline, delta)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	out.Entities[0].Components[0].Fields[2] = Uint(500)
	if got := baseline.Entities[0].Components[0].Fields[2]; got != Uint(3) {
		t.Fatalf("baseline value changed to %v after mutating the result", got)
	}
}
