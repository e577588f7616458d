// Package bitstream implements bounded bit-level encoding over
// caller-owned buffers.
//
// It is the lowest layer of the codec: a Writer packs bits, aligned
// little-endian integers, capped 32-bit varints, and quantized fixed-point
// values into a fixed byte slice; a Reader consumes the same layout with
// every read bounds-checked before any input is trusted. Neither side
// allocates. The package has no knowledge of packets, schemas, or
// entities.
package bitstream
