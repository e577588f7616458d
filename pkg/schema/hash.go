package schema

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// computeHash feeds a canonical little-endian serialization of the
// component tree into xxhash-64. Everything that affects wire meaning is
// included in declared order: counts, ids, kinds, bit widths, bounds and
// the derived quantization step. Change thresholds are not included.
func computeHash(components []ComponentDef) uint64 {
	d := xxhash.New()
	var buf [8]byte

	writeU16 := func(v uint16) {
		binary.LittleEndian.PutUint16(buf[:2], v)
		d.Write(buf[:2])
	}
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:8], v)
		d.Write(buf[:8])
	}

	writeU16(uint16(len(components)))
	for _, c := range components {
		writeU16(uint16(c.ID))
		writeU16(uint16(len(c.Fields)))
		for _, f := range c.Fields {
			writeU16(uint16(f.ID))
			buf[0] = uint8(f.Kind)
			buf[1] = uint8(f.Bits)
			d.Write(buf[:2])
			writeU64(math.Float64bits(f.Lo))
			writeU64(math.Float64bits(f.Hi))
			writeU64(math.Float64bits(quantStep(f)))
		}
	}
	return d.Sum64()
}

// quantStep returns the value of one quantization step for fixed-point
// fields and 0 for every other kind.
func quantStep(f FieldDef) float64 {
	if f.Kind != KindFixedPoint {
		return 0
	}
	steps := uint64(1)<<uint(f.Bits) - 1
	return (f.Hi - f.Lo) / float64(steps)
}
