package codec

import (
	"fmt"

	"github.com/sdec-dev/sdec/pkg/bitstream"
	"github.com/sdec-dev/sdec/pkg/wire"
)

// Report summarizes a standard-framed packet: header fields plus section
// framing, without decoding entity payloads. It is the JSON shape used by
// inspection tooling.
type Report struct {
	Version      uint16        `json:"version"`
	Flags        string        `json:"flags"`
	SchemaHash   string        `json:"schema_hash"`
	Tick         uint32        `json:"tick"`
	BaselineTick uint32        `json:"baseline_tick"`
	PayloadLen   uint32        `json:"payload_len"`
	Sections     []SectionInfo `json:"sections"`
}

// SectionInfo is one section's summary. Records is the leading record
// count of entity sections and zero for sections that do not carry one.
type SectionInfo struct {
	Tag     uint8  `json:"tag"`
	Name    string `json:"name"`
	Bytes   int    `json:"bytes"`
	Records uint32 `json:"records,omitempty"`
}

// Inspect validates the framing of a standard packet and summarizes it.
// The schema hash is reported, not checked, so packets from foreign
// schemas can still be examined.
func Inspect(pkt []byte, limits wire.Limits) (*Report, error) {
	h, payload, err := wire.DecodePacket(pkt, limits)
	if err != nil {
		return nil, err
	}
	sections, err := wire.DecodeSections(payload, h.Version, limits)
	if err != nil {
		return nil, err
	}
	rep := &Report{
		Version:      h.Version,
		Flags:        h.Flags.String(),
		SchemaHash:   fmt.Sprintf("%016x", h.SchemaHash),
		Tick:         h.Tick,
		BaselineTick: h.BaselineTick,
		PayloadLen:   h.PayloadLen,
	}
	for _, sec := range sections {
		info := SectionInfo{Tag: uint8(sec.Tag), Name: sec.Tag.String(), Bytes: len(sec.Body)}
		if sec.Tag != wire.TagSessionInit {
			r := bitstream.NewReader(sec.Body)
			if n, err := r.ReadUvarint(); err == nil {
				info.Records = n
			}
		}
		rep.Sections = append(rep.Sections, info)
	}
	return rep, nil
}

// Decoded is the fully parsed form of one standard-framed packet. Exactly
// one of Full, Delta, Init is set.
type Decoded struct {
	Header wire.Header
	Full   *Snapshot
	Delta  *Delta
	Init   *InitInfo
}

// Decode parses any standard-framed packet against the codec's schema,
// dispatching on the header flags.
func (c *Codec) Decode(pkt []byte) (*Decoded, error) {
	h, payload, err := wire.DecodePacket(pkt, c.limits)
	if err != nil {
		return nil, err
	}
	d := &Decoded{Header: h}
	switch {
	case h.Flags&wire.FlagSessionInit != 0:
		d.Init, err = c.decodeInitParts(h, payload)
	case h.Flags&wire.FlagFull != 0:
		d.Full, err = c.decodeFullParts(h, payload)
	default:
		d.Delta, err = c.decodeDeltaParts(h, payload)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}
