package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire constants.
const (
	// Magic identifies a standard-header packet ("SDEC" little-endian).
	Magic uint32 = 0x53444543

	// Version is the protocol version encoders emit.
	Version uint16 = 2

	// VersionSkipUnknown is the first version whose payloads may carry
	// section tags unknown to this decoder; such sections are skipped
	// using their declared length instead of rejected. Not emitted yet.
	VersionSkipUnknown uint16 = 3

	// HeaderSize is the encoded size of the standard header in bytes.
	HeaderSize = 28
)

// Header errors.
var (
	ErrPacketTooSmall     = errors.New("wire: packet smaller than header")
	ErrBadMagic           = errors.New("wire: bad magic")
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
	ErrInvalidFlags       = errors.New("wire: invalid flag combination")
	ErrInvalidBaseline    = errors.New("wire: invalid baseline tick for flags")
	ErrPayloadLength      = errors.New("wire: payload length mismatch")
)

// Flags is the 16-bit packet flag set.
type Flags uint16

// Flag bits. Exactly one of FlagFull/FlagDelta must be set on snapshot
// packets; FlagSessionInit excludes both. Remaining bits are reserved and
// must be zero.
const (
	FlagFull        Flags = 1 << 0
	FlagDelta       Flags = 1 << 1
	FlagSessionInit Flags = 1 << 2

	flagsReserved = ^(FlagFull | FlagDelta | FlagSessionInit)
)

// Valid reports whether the flag combination is legal.
func (f Flags) Valid() bool {
	if f&flagsReserved != 0 {
		return false
	}
	if f&FlagSessionInit != 0 {
		return f&(FlagFull|FlagDelta) == 0
	}
	return (f&FlagFull != 0) != (f&FlagDelta != 0)
}

// String returns the flag names, pipe-separated.
func (f Flags) String() string {
	switch {
	case f&FlagSessionInit != 0 && f&(FlagFull|FlagDelta) == 0:
		return "SESSION_INIT"
	case f == FlagFull:
		return "FULL"
	case f == FlagDelta:
		return "DELTA"
	default:
		return fmt.Sprintf("INVALID(0x%04X)", uint16(f))
	}
}

// Header is the decoded standard packet header.
type Header struct {
	Version      uint16
	Flags        Flags
	SchemaHash   uint64
	Tick         uint32
	BaselineTick uint32
	PayloadLen   uint32
}

// FullHeader builds the header for a full snapshot packet.
func FullHeader(schemaHash uint64, tick, payloadLen uint32) Header {
	return Header{
		Version:    Version,
		Flags:      FlagFull,
		SchemaHash: schemaHash,
		Tick:       tick,
		PayloadLen: payloadLen,
	}
}

// DeltaHeader builds the header for a delta snapshot packet.
func DeltaHeader(schemaHash uint64, tick, baselineTick, payloadLen uint32) Header {
	return Header{
		Version:      Version,
		Flags:        FlagDelta,
		SchemaHash:   schemaHash,
		Tick:         tick,
		BaselineTick: baselineTick,
		PayloadLen:   payloadLen,
	}
}

// InitHeader builds the header for a session-init packet.
func InitHeader(schemaHash uint64, tick, payloadLen uint32) Header {
	return Header{
		Version:    Version,
		Flags:      FlagSessionInit,
		SchemaHash: schemaHash,
		Tick:       tick,
		PayloadLen: payloadLen,
	}
}

// baselineValid applies the flag/baseline consistency rules: full and
// session-init packets carry baseline zero, deltas a non-zero baseline.
func baselineValid(f Flags, baseline uint32) bool {
	if f&FlagDelta != 0 {
		return baseline != 0
	}
	return baseline == 0
}

// EncodeHeader writes the standard header into dst[:HeaderSize].
func EncodeHeader(dst []byte, h Header) (int, error) {
	if len(dst) < HeaderSize {
		return 0, ErrPacketTooSmall
	}
	if !h.Flags.Valid() {
		return 0, ErrInvalidFlags
	}
	if !baselineValid(h.Flags, h.BaselineTick) {
		return 0, ErrInvalidBaseline
	}
	binary.LittleEndian.PutUint32(dst[0:], Magic)
	binary.LittleEndian.PutUint16(dst[4:], h.Version)
	binary.LittleEndian.PutUint16(dst[6:], uint16(h.Flags))
	binary.LittleEndian.PutUint64(dst[8:], h.SchemaHash)
	binary.LittleEndian.PutUint32(dst[16:], h.Tick)
	binary.LittleEndian.PutUint32(dst[20:], h.BaselineTick)
	binary.LittleEndian.PutUint32(dst[24:], h.PayloadLen)
	return HeaderSize, nil
}

// DecodePacket validates the standard header and returns it together with
// the payload subslice. Checks run strictly before anything is trusted:
// size, magic, version, flags, baseline rules, then exact payload length.
func DecodePacket(pkt []byte, limits Limits) (Header, []byte, error) {
	if len(pkt) < HeaderSize {
		return Header{}, nil, ErrPacketTooSmall
	}
	if len(pkt) > limits.MaxPacketBytes {
		return Header{}, nil, limitErr(LimitPacketBytes, limits.MaxPacketBytes, len(pkt))
	}
	if binary.LittleEndian.Uint32(pkt[0:]) != Magic {
		return Header{}, nil, ErrBadMagic
	}
	h := Header{
		Version:      binary.LittleEndian.Uint16(pkt[4:]),
		Flags:        Flags(binary.LittleEndian.Uint16(pkt[6:])),
		SchemaHash:   binary.LittleEndian.Uint64(pkt[8:]),
		Tick:         binary.LittleEndian.Uint32(pkt[16:]),
		BaselineTick: binary.LittleEndian.Uint32(pkt[20:]),
		PayloadLen:   binary.LittleEndian.Uint32(pkt[24:]),
	}
	if h.Version < Version || h.Version > VersionSkipUnknown {
		return Header{}, nil, ErrUnsupportedVersion
	}
	if !h.Flags.Valid() {
		return Header{}, nil, ErrInvalidFlags
	}
	if !baselineValid(h.Flags, h.BaselineTick) {
		return Header{}, nil, ErrInvalidBaseline
	}
	if uint64(h.PayloadLen) != uint64(len(pkt)-HeaderSize) {
		return Header{}, nil, ErrPayloadLength
	}
	return h, pkt[HeaderSize:], nil
}
