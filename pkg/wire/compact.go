package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/sdec-dev/sdec/pkg/bitstream"
)

// MaxCompactHeaderLen is the largest encoded compact header: one flags
// byte plus three maximum-width varints.
const MaxCompactHeaderLen = 1 + 3*bitstream.MaxVarintLen

// compactMinSize is the smallest well-formed compact packet: flags byte
// plus three single-byte varints and an empty payload.
const compactMinSize = 4

// Compact header errors.
var (
	ErrCompactHeader = errors.New("wire: malformed compact header")
	ErrBadTickDelta  = errors.New("wire: compact tick delta must be positive")
	ErrTickOverflow  = errors.New("wire: compact tick overflows 32 bits")
)

// CompactFlags is the single-byte flag field of the compact header. Only
// the FULL and DELTA bits exist; session-init packets always use the
// standard header.
type CompactFlags uint8

const (
	// CompactFull marks a full snapshot payload.
	CompactFull CompactFlags = 1 << 0
	// CompactDelta marks a delta payload.
	CompactDelta CompactFlags = 1 << 1

	compactReserved = ^(CompactFull | CompactDelta)
)

// Valid reports whether exactly one of FULL and DELTA is set and all
// reserved bits are zero.
func (f CompactFlags) Valid() bool {
	if f&compactReserved != 0 {
		return false
	}
	kind := f & (CompactFull | CompactDelta)
	return kind == CompactFull || kind == CompactDelta
}

// IsFull reports whether the FULL bit is set.
func (f CompactFlags) IsFull() bool { return f&CompactFull != 0 }

// IsDelta reports whether the DELTA bit is set.
func (f CompactFlags) IsDelta() bool { return f&CompactDelta != 0 }

// String returns the flag name, or the raw value for invalid flags.
func (f CompactFlags) String() string {
	switch f {
	case CompactFull:
		return "FULL"
	case CompactDelta:
		return "DELTA"
	default:
		return fmt.Sprintf("CompactFlags(0x%02X)", uint8(f))
	}
}

// CompactHeader is the decoded form of the compact packet header. Ticks
// are absolute: the wire carries deltas against the last accepted tick
// and the codec reconstructs these fields.
//
// A full snapshot carries a zero baseline delta on the wire; the decoded
// BaselineTick is 0, matching the standard header's rule for FULL.
type CompactHeader struct {
	Flags        CompactFlags
	Tick         uint32
	BaselineTick uint32
	PayloadLen   uint32
}

// EncodeCompact writes the compact header for h into dst and returns the
// number of bytes written. lastTick is the last tick accepted by the
// receiving side; h.Tick must be greater. For FULL headers h.BaselineTick
// must be 0; for DELTA it must be nonzero and less than h.Tick.
func EncodeCompact(dst []byte, h CompactHeader, lastTick uint32) (int, error) {
	if !h.Flags.Valid() {
		return 0, ErrInvalidFlags
	}
	if h.Tick <= lastTick {
		return 0, ErrBadTickDelta
	}
	var baselineDelta uint32
	if h.Flags.IsFull() {
		if h.BaselineTick != 0 {
			return 0, ErrInvalidBaseline
		}
	} else {
		if h.BaselineTick == 0 || h.BaselineTick >= h.Tick {
			return 0, ErrInvalidBaseline
		}
		baselineDelta = h.Tick - h.BaselineTick
	}

	w := bitstream.NewWriter(dst)
	if err := w.WriteUint8(uint8(h.Flags)); err != nil {
		return 0, err
	}
	if err := w.WriteUvarint(h.Tick - lastTick); err != nil {
		return 0, err
	}
	if err := w.WriteUvarint(baselineDelta); err != nil {
		return 0, err
	}
	if err := w.WriteUvarint(h.PayloadLen); err != nil {
		return 0, err
	}
	return w.Finish(), nil
}

// DecodeCompact validates a compact packet against limits and lastTick
// and splits it into its header and payload. The payload subslice
// references pkt. The declared payload length must exactly equal the
// bytes remaining after the header.
func DecodeCompact(pkt []byte, lastTick uint32, limits Limits) (CompactHeader, []byte, error) {
	if len(pkt) > limits.MaxPacketBytes {
		return CompactHeader{}, nil, limitErr(LimitPacketBytes, limits.MaxPacketBytes, len(pkt))
	}
	if len(pkt) < compactMinSize {
		return CompactHeader{}, nil, ErrPacketTooSmall
	}
	flags := CompactFlags(pkt[0])
	if !flags.Valid() {
		return CompactHeader{}, nil, ErrInvalidFlags
	}
	off := 1

	tickDelta, n, err := readUvarint(pkt[off:])
	if err != nil {
		return CompactHeader{}, nil, ErrCompactHeader
	}
	off += n
	if tickDelta == 0 {
		return CompactHeader{}, nil, ErrBadTickDelta
	}
	tick64 := uint64(lastTick) + uint64(tickDelta)
	if tick64 > math.MaxUint32 {
		return CompactHeader{}, nil, ErrTickOverflow
	}
	tick := uint32(tick64)

	baselineDelta, n, err := readUvarint(pkt[off:])
	if err != nil {
		return CompactHeader{}, nil, ErrCompactHeader
	}
	off += n
	var baseline uint32
	if flags.IsFull() {
		if baselineDelta != 0 {
			return CompactHeader{}, nil, ErrInvalidBaseline
		}
	} else {
		if baselineDelta == 0 || baselineDelta >= tick {
			return CompactHeader{}, nil, ErrInvalidBaseline
		}
		baseline = tick - baselineDelta
	}

	payloadLen, n, err := readUvarint(pkt[off:])
	if err != nil {
		return CompactHeader{}, nil, ErrCompactHeader
	}
	off += n

	payload := pkt[off:]
	if len(payload) != int(payloadLen) {
		return CompactHeader{}, nil, ErrPayloadLength
	}
	h := CompactHeader{
		Flags:        flags,
		Tick:         tick,
		BaselineTick: baseline,
		PayloadLen:   payloadLen,
	}
	return h, payload, nil
}

// IsStandard reports whether pkt begins with the standard header magic.
// Packets in a compact-mode session are dispatched on this: the first
// byte of a compact header is a flags byte that can never collide with
// the magic.
func IsStandard(pkt []byte) bool {
	return len(pkt) >= 4 && binary.LittleEndian.Uint32(pkt) == Magic
}
