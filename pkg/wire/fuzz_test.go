package wire

import (
	"testing"
)

// FuzzDecodePacket tests that framing arbitrary bytes doesn't panic and
// that accepted headers satisfy the flag/baseline invariants.
func FuzzDecodePacket(f *testing.F) {
	// Seed with valid packets of each kind
	full := rawPacket(Version, FlagFull, 0xABCD, 10, 0, []byte{0x01, 0x02, 0xAA})
	f.Add(full)

	delta := rawPacket(Version, FlagDelta, 0xABCD, 20, 10, []byte{0x03, 0x01, 0x2A})
	f.Add(delta)

	initPkt := rawPacket(Version, FlagSessionInit, 0xABCD, 1, 0, []byte{0x06, 0x00})
	f.Add(initPkt)

	f.Add(rawPacket(VersionSkipUnknown, FlagFull, 0, 1, 0, nil))
	f.Add([]byte{0x43, 0x45, 0x44, 0x53})

	limits := DefaultLimits()
	f.Fuzz(func(t *testing.T, data []byte) {
		h, payload, err := DecodePacket(data, limits)
		if err != nil {
			return
		}
		if !h.Flags.Valid() {
			t.Fatalf("accepted invalid flags %v", h.Flags)
		}
		if !baselineValid(h.Flags, h.BaselineTick) {
			t.Fatalf("accepted flags %v with baseline %d", h.Flags, h.BaselineTick)
		}
		if int(h.PayloadLen) != len(payload) {
			t.Fatalf("payload length %d, slice %d", h.PayloadLen, len(payload))
		}
	})
}

// FuzzDecodeSections tests that splitting arbitrary payloads doesn't
// panic and that every accepted section stays within the payload and the
// limits.
func FuzzDecodeSections(f *testing.F) {
	// Seed with valid section streams
	f.Add([]byte{0x01, 0x02, 0xAA, 0xBB}, uint16(Version))
	f.Add([]byte{0x02, 0x04, 0x2A, 0x00, 0x00, 0x00, 0x03, 0x00}, uint16(Version))
	f.Add([]byte{0x09, 0x01, 0xFF, 0x02, 0x00}, uint16(VersionSkipUnknown))
	f.Add([]byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0x0F}, uint16(Version))

	limits := DefaultLimits()
	f.Fuzz(func(t *testing.T, payload []byte, version uint16) {
		sections, err := DecodeSections(payload, version, limits)
		if err != nil {
			return
		}
		if len(sections) > limits.MaxSections {
			t.Fatalf("accepted %d sections over limit %d", len(sections), limits.MaxSections)
		}
		for _, s := range sections {
			if !s.Tag.known() {
				t.Fatalf("accepted unknown tag %d", s.Tag)
			}
			if len(s.Body) > limits.MaxSectionBytes {
				t.Fatalf("accepted %d-byte body over limit %d", len(s.Body), limits.MaxSectionBytes)
			}
		}
	})
}

// FuzzDecodeCompact tests that compact-header parsing of arbitrary bytes
// doesn't panic and that accepted headers reconstruct consistent ticks.
func FuzzDecodeCompact(f *testing.F) {
	// Seed with valid compact packets
	f.Add([]byte{0x01, 0x05, 0x00, 0x00}, uint32(0))
	f.Add([]byte{0x02, 0x0A, 0x05, 0x02, 0xAA, 0xBB}, uint32(100))
	f.Add([]byte{0x02, 0xAC, 0x02, 0x01, 0x01, 0x00}, uint32(0))

	limits := DefaultLimits()
	f.Fuzz(func(t *testing.T, data []byte, lastTick uint32) {
		h, payload, err := DecodeCompact(data, lastTick, limits)
		if err != nil {
			return
		}
		if h.Tick <= lastTick {
			t.Fatalf("accepted tick %d not after last tick %d", h.Tick, lastTick)
		}
		if h.Flags.IsFull() && h.BaselineTick != 0 {
			t.Fatalf("full header with baseline %d", h.BaselineTick)
		}
		if h.Flags.IsDelta() && (h.BaselineTick == 0 || h.BaselineTick >= h.Tick) {
			t.Fatalf("delta header with baseline %d at tick %d", h.BaselineTick, h.Tick)
		}
		if int(h.PayloadLen) != len(payload) {
			t.Fatalf("payload length %d, slice %d", h.PayloadLen, len(payload))
		}
	})
}
