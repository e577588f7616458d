package wire

import (
	"errors"
	"fmt"

	"github.com/sdec-dev/sdec/pkg/bitstream"
)

// Section errors.
var (
	ErrUnknownSectionTag    = errors.New("wire: unknown section tag")
	ErrSectionTruncated     = errors.New("wire: section exceeds remaining payload")
	ErrInvalidSectionLength = errors.New("wire: invalid section length varint")
)

// SectionTag identifies a payload section kind.
type SectionTag uint8

// Section tags.
const (
	TagEntityCreate  SectionTag = 1
	TagEntityDestroy SectionTag = 2
	TagEntityUpdate  SectionTag = 3
	TagSessionInit   SectionTag = 6
)

// known reports whether the tag is defined in the current version.
func (t SectionTag) known() bool {
	switch t {
	case TagEntityCreate, TagEntityDestroy, TagEntityUpdate, TagSessionInit:
		return true
	default:
		return false
	}
}

// String returns the section tag name.
func (t SectionTag) String() string {
	switch t {
	case TagEntityCreate:
		return "ENTITY_CREATE"
	case TagEntityDestroy:
		return "ENTITY_DESTROY"
	case TagEntityUpdate:
		return "ENTITY_UPDATE"
	case TagSessionInit:
		return "SESSION_INIT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Section is one framed payload section. Body references the packet
// buffer; it must not be modified or retained past the packet's lifetime.
type Section struct {
	Tag  SectionTag
	Body []byte
}

// AppendSection frames one section into dst starting at off: the tag byte,
// the body length as a minimal varint, then the body produced by the body
// callback through a bit writer. It returns the offset past the section.
//
// The body is written at the maximum varint offset first and shifted left
// over the unused length bytes afterwards, so the callback works directly
// in dst with no staging buffer.
func AppendSection(dst []byte, off int, tag SectionTag, limits Limits, body func(w *bitstream.Writer) error) (int, error) {
	bodyStart := off + 1 + bitstream.MaxVarintLen
	if bodyStart > len(dst) {
		return 0, bitstream.ErrBufferTooSmall
	}
	w := bitstream.NewWriter(dst[bodyStart:])
	if err := body(w); err != nil {
		return 0, err
	}
	n := w.Finish()
	if n > limits.MaxSectionBytes {
		return 0, limitErr(LimitSectionBytes, limits.MaxSectionBytes, n)
	}

	var lenBuf [bitstream.MaxVarintLen]byte
	lw := bitstream.NewWriter(lenBuf[:])
	if err := lw.WriteUvarint(uint32(n)); err != nil {
		return 0, err
	}
	lenLen := lw.Finish()

	dst[off] = byte(tag)
	copy(dst[off+1:], lenBuf[:lenLen])
	if lenLen < bitstream.MaxVarintLen {
		copy(dst[off+1+lenLen:], dst[bodyStart:bodyStart+n])
	}
	return off + 1 + lenLen + n, nil
}

// DecodeSections splits a payload into sections. Limits are enforced
// before each section is accepted: the running section count, the declared
// body length against MaxSectionBytes, and the declared length against the
// bytes actually remaining. Unknown tags are an error below
// VersionSkipUnknown and are skipped from it on.
func DecodeSections(payload []byte, version uint16, limits Limits) ([]Section, error) {
	var sections []Section
	off := 0
	count := 0
	for off < len(payload) {
		count++
		if count > limits.MaxSections {
			return nil, limitErr(LimitSections, limits.MaxSections, count)
		}
		tag := SectionTag(payload[off])
		off++

		bodyLen, n, err := readUvarint(payload[off:])
		if err != nil {
			return nil, err
		}
		off += n
		if int64(bodyLen) > int64(limits.MaxSectionBytes) {
			return nil, limitErr(LimitSectionBytes, limits.MaxSectionBytes, int(bodyLen))
		}
		if int(bodyLen) > len(payload)-off {
			return nil, ErrSectionTruncated
		}
		body := payload[off : off+int(bodyLen)]
		off += int(bodyLen)

		if !tag.known() {
			if version >= VersionSkipUnknown {
				continue
			}
			return nil, ErrUnknownSectionTag
		}
		sections = append(sections, Section{Tag: tag, Body: body})
	}
	return sections, nil
}

// readUvarint decodes a capped LEB128 length prefix from buf. It returns
// the value and the number of bytes consumed. Truncated prefixes and
// prefixes longer than MaxVarintLen bytes or wider than 32 bits are
// errors.
func readUvarint(buf []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < bitstream.MaxVarintLen; i++ {
		if i >= len(buf) {
			return 0, 0, ErrSectionTruncated
		}
		b := buf[i]
		if i == bitstream.MaxVarintLen-1 && b&0xF0 != 0 {
			return 0, 0, ErrInvalidSectionLength
		}
		v |= uint32(b&0x7F) << uint(7*i)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, ErrInvalidSectionLength
}
