package bitstream

import (
	"encoding/binary"
	"errors"
)

// Reader errors.
var (
	ErrTruncated       = errors.New("bitstream: truncated input")
	ErrVarintMalformed = errors.New("bitstream: malformed varint")
)

// Reader consumes bits from a byte buffer, mirroring Writer's layout.
//
// Every read is bounds-checked against the remaining bits before anything
// is consumed; reading past the end returns ErrTruncated. The reader never
// allocates and never panics on arbitrary input.
type Reader struct {
	buf  []byte
	bits int // bits consumed so far
}

// NewReader creates a reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Reset repositions the reader at the start of buf.
func (r *Reader) Reset(buf []byte) {
	r.buf = buf
	r.bits = 0
}

// BitsRemaining returns the number of unread bits.
func (r *Reader) BitsRemaining() int {
	return len(r.buf)*8 - r.bits
}

// Aligned reports whether the cursor is on a byte boundary.
func (r *Reader) Aligned() bool {
	return r.bits&7 == 0
}

// ReadBit reads a single bit.
func (r *Reader) ReadBit() (bool, error) {
	if r.bits+1 > len(r.buf)*8 {
		return false, ErrTruncated
	}
	bit := r.buf[r.bits>>3]&(0x80>>uint(r.bits&7)) != 0
	r.bits++
	return bit, nil
}

// ReadBits reads n bits, most significant bit first. n must be in 1..64.
func (r *Reader) ReadBits(n int) (uint64, error) {
	if n < 1 || n > 64 {
		return 0, ErrInvalidBitCount
	}
	if r.bits+n > len(r.buf)*8 {
		return 0, ErrTruncated
	}
	var v uint64
	for n > 0 {
		idx := r.bits >> 3
		off := r.bits & 7
		take := 8 - off
		if take > n {
			take = n
		}
		chunk := r.buf[idx] >> uint(8-off-take) & (0xFF >> uint(8-take))
		v = v<<uint(take) | uint64(chunk)
		r.bits += take
		n -= take
	}
	return v, nil
}

// AlignToByte skips any remaining bits of the current byte.
func (r *Reader) AlignToByte() {
	if r.bits&7 != 0 {
		r.bits = (r.bits>>3 + 1) * 8
	}
}

// ReadUint8 reads an aligned byte.
func (r *Reader) ReadUint8() (uint8, error) {
	if r.bits&7 != 0 {
		return 0, ErrUnaligned
	}
	idx := r.bits >> 3
	if idx+1 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := r.buf[idx]
	r.bits += 8
	return v, nil
}

// ReadUint32 reads an aligned little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	if r.bits&7 != 0 {
		return 0, ErrUnaligned
	}
	idx := r.bits >> 3
	if idx+4 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(r.buf[idx:])
	r.bits += 32
	return v, nil
}

// ReadUint64 reads an aligned little-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	if r.bits&7 != 0 {
		return 0, ErrUnaligned
	}
	idx := r.bits >> 3
	if idx+8 > len(r.buf) {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(r.buf[idx:])
	r.bits += 64
	return v, nil
}

// ReadUvarint reads an aligned LEB128 varint. Encodings longer than
// MaxVarintLen bytes or exceeding 32 bits are ErrVarintMalformed even when
// more input remains.
func (r *Reader) ReadUvarint() (uint32, error) {
	if r.bits&7 != 0 {
		return 0, ErrUnaligned
	}
	idx := r.bits >> 3
	var v uint32
	for i := 0; i < MaxVarintLen; i++ {
		if idx+i >= len(r.buf) {
			return 0, ErrTruncated
		}
		b := r.buf[idx+i]
		if i == MaxVarintLen-1 && b&0xF0 != 0 {
			// Fifth byte may only carry the top 4 bits of a uint32.
			return 0, ErrVarintMalformed
		}
		v |= uint32(b&0x7F) << uint(7*i)
		if b&0x80 == 0 {
			r.bits = (idx + i + 1) * 8
			return v, nil
		}
	}
	return 0, ErrVarintMalformed
}

// ReadSvarint reads an aligned zigzag-encoded signed varint.
func (r *Reader) ReadSvarint() (int32, error) {
	uv, err := r.ReadUvarint()
	if err != nil {
		return 0, err
	}
	return int32(uv>>1) ^ -int32(uv&1), nil
}

// ReadFixedPoint reads a quantized value of the given bit width and maps it
// back into [lo, hi]. It is the exact inverse of Writer.WriteFixedPoint for
// already-quantized values.
func (r *Reader) ReadFixedPoint(lo, hi float64, bits int) (float64, error) {
	q, err := r.ReadBits(bits)
	if err != nil {
		return 0, err
	}
	return Dequantize(q, lo, hi, bits), nil
}
