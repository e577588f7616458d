package bitstream

import (
	"encoding/binary"
	"errors"
)

// MaxVarintLen is the maximum encoded size of a 32-bit varint in bytes.
const MaxVarintLen = 5

// Writer errors.
var (
	ErrBufferTooSmall  = errors.New("bitstream: buffer too small")
	ErrUnaligned       = errors.New("bitstream: operation requires byte alignment")
	ErrInvalidBitCount = errors.New("bitstream: bit count out of range")
	ErrValueTooWide    = errors.New("bitstream: value does not fit in bit width")
	ErrVarintRange     = errors.New("bitstream: varint value out of range")
)

// Writer packs bits into a caller-owned byte buffer.
//
// Bits are written most-significant first: the first bit written becomes
// the most significant bit of the first byte. Multi-byte aligned integers
// are little-endian. The writer never grows the buffer; every write is
// checked against the remaining capacity and fails with ErrBufferTooSmall
// instead of reallocating.
type Writer struct {
	buf  []byte
	bits int // bits written so far
}

// NewWriter creates a writer over buf. The buffer's contents are
// overwritten as bits are written; it does not need to be zeroed.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Reset repositions the writer at the start of buf.
func (w *Writer) Reset(buf []byte) {
	w.buf = buf
	w.bits = 0
}

// BitsWritten returns the number of bits written so far.
func (w *Writer) BitsWritten() int {
	return w.bits
}

// Aligned reports whether the cursor is on a byte boundary.
func (w *Writer) Aligned() bool {
	return w.bits&7 == 0
}

// WriteBit writes a single bit.
func (w *Writer) WriteBit(bit bool) error {
	if w.bits+1 > len(w.buf)*8 {
		return ErrBufferTooSmall
	}
	mask := byte(0x80) >> uint(w.bits&7)
	if bit {
		w.buf[w.bits>>3] |= mask
	} else {
		w.buf[w.bits>>3] &^= mask
	}
	w.bits++
	return nil
}

// WriteBits writes the low n bits of v, most significant bit first.
// n must be in 1..64 and v must fit in n bits.
func (w *Writer) WriteBits(v uint64, n int) error {
	if n < 1 || n > 64 {
		return ErrInvalidBitCount
	}
	if n < 64 && v>>uint(n) != 0 {
		return ErrValueTooWide
	}
	if w.bits+n > len(w.buf)*8 {
		return ErrBufferTooSmall
	}
	for n > 0 {
		idx := w.bits >> 3
		off := w.bits & 7
		take := 8 - off
		if take > n {
			take = n
		}
		chunk := byte(v>>uint(n-take)) & (0xFF >> uint(8-take))
		shift := uint(8 - off - take)
		clear := (byte(0xFF) >> uint(8-take)) << shift
		w.buf[idx] = w.buf[idx]&^clear | chunk<<shift
		w.bits += take
		n -= take
	}
	return nil
}

// AlignToByte pads the current byte with zero bits up to the next byte
// boundary. It is a no-op when already aligned.
func (w *Writer) AlignToByte() {
	if w.bits&7 == 0 {
		return
	}
	w.buf[w.bits>>3] &^= 0xFF >> uint(w.bits&7)
	w.bits = (w.bits>>3 + 1) * 8
}

// WriteUint8 writes an aligned byte.
func (w *Writer) WriteUint8(v uint8) error {
	if w.bits&7 != 0 {
		return ErrUnaligned
	}
	idx := w.bits >> 3
	if idx+1 > len(w.buf) {
		return ErrBufferTooSmall
	}
	w.buf[idx] = v
	w.bits += 8
	return nil
}

// WriteUint32 writes an aligned little-endian uint32.
func (w *Writer) WriteUint32(v uint32) error {
	if w.bits&7 != 0 {
		return ErrUnaligned
	}
	idx := w.bits >> 3
	if idx+4 > len(w.buf) {
		return ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint32(w.buf[idx:], v)
	w.bits += 32
	return nil
}

// WriteUint64 writes an aligned little-endian uint64.
func (w *Writer) WriteUint64(v uint64) error {
	if w.bits&7 != 0 {
		return ErrUnaligned
	}
	idx := w.bits >> 3
	if idx+8 > len(w.buf) {
		return ErrBufferTooSmall
	}
	binary.LittleEndian.PutUint64(w.buf[idx:], v)
	w.bits += 64
	return nil
}

// WriteUvarint writes an aligned LEB128 varint, at most MaxVarintLen bytes.
func (w *Writer) WriteUvarint(v uint32) error {
	if w.bits&7 != 0 {
		return ErrUnaligned
	}
	idx := w.bits >> 3
	for {
		if idx >= len(w.buf) {
			return ErrBufferTooSmall
		}
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf[idx] = b
		idx++
		if v == 0 {
			break
		}
	}
	w.bits = idx * 8
	return nil
}

// WriteSvarint writes an aligned zigzag-encoded signed varint.
func (w *Writer) WriteSvarint(v int32) error {
	return w.WriteUvarint(uint32(v<<1) ^ uint32(v>>31))
}

// WriteFixedPoint quantizes v into the range [lo, hi] with the given bit
// width and writes the quantized value. See Quantize for the rounding rule.
func (w *Writer) WriteFixedPoint(v, lo, hi float64, bits int) error {
	if bits < 1 || bits > 64 {
		return ErrInvalidBitCount
	}
	return w.WriteBits(Quantize(v, lo, hi, bits), bits)
}

// Finish pads the final partial byte with zero bits and returns the number
// of bytes written.
func (w *Writer) Finish() int {
	w.AlignToByte()
	return w.bits >> 3
}
