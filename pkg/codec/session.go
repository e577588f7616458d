package codec

import (
	"errors"
	"fmt"

	"github.com/sdec-dev/sdec/pkg/bitstream"
	"github.com/sdec-dev/sdec/pkg/wire"
)

// Phase is the lifecycle state of a replication session.
type Phase uint8

const (
	PhaseUninitialized Phase = iota
	PhaseNegotiating
	PhaseEstablished
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "UNINITIALIZED"
	case PhaseNegotiating:
		return "NEGOTIATING"
	case PhaseEstablished:
		return "ESTABLISHED"
	case PhaseErrored:
		return "ERRORED"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// HeaderMode selects the framing for data packets once a session is
// established.
type HeaderMode uint8

const (
	// ModeStandard keeps the 28-byte self-describing header on every
	// packet.
	ModeStandard HeaderMode = 0
	// ModeCompact frames data packets with the tick-relative compact
	// header. Init packets always stay standard. Compact framing assumes
	// the transport delivers packets in order.
	ModeCompact HeaderMode = 1
)

func (m HeaderMode) valid() bool { return m == ModeStandard || m == ModeCompact }

func (m HeaderMode) String() string {
	switch m {
	case ModeStandard:
		return "STANDARD"
	case ModeCompact:
		return "COMPACT"
	default:
		return fmt.Sprintf("HeaderMode(%d)", uint8(m))
	}
}

// InitInfo is the decoded body of a SESSION_INIT packet.
type InitInfo struct {
	SessionID uint64
	Mode      HeaderMode
}

// Incoming is one successfully parsed inbound packet. Exactly one of
// Init, Full, Delta is set. Init packets take effect on the session
// immediately; full and delta packets must be applied to local state and
// then recorded with Commit, so a packet that fails to apply leaves the
// session's ordering untouched.
type Incoming struct {
	Header wire.Header
	Init   *InitInfo
	Full   *Snapshot
	Delta  *Delta
}

// Session tracks one direction of a replication stream. Sender and
// receiver each hold their own Session; it carries the negotiated header
// mode and the tick ordering that compact framing depends on.
//
// A Session is not safe for concurrent use.
type Session struct {
	codec        *Codec
	phase        Phase
	mode         HeaderMode
	sessionID    uint64
	lastTick     Tick
	lastBaseline Tick
}

// NewSession creates an uninitialized session bound to a codec.
func NewSession(c *Codec) *Session {
	return &Session{codec: c}
}

// Phase returns the session's lifecycle state.
func (s *Session) Phase() Phase { return s.phase }

// Mode returns the negotiated header mode.
func (s *Session) Mode() HeaderMode { return s.mode }

// SessionID returns the id announced by the most recent init.
func (s *Session) SessionID() uint64 { return s.sessionID }

// LastTick returns the most recently accepted tick.
func (s *Session) LastTick() Tick { return s.lastTick }

// LastBaseline returns the baseline tick of the most recently accepted
// delta, or zero.
func (s *Session) LastBaseline() Tick { return s.lastBaseline }

// Invalidate moves the session to Errored. Callers use it when a decoded
// packet cannot be applied, e.g. a delta whose baseline is no longer
// available locally.
func (s *Session) Invalidate() {
	s.phase = PhaseErrored
}

// EncodeInit writes a SESSION_INIT packet announcing the session id and
// the requested header mode. Init packets always use standard framing and
// may be sent from any phase; the sender enters Negotiating and the init
// tick seeds the ordering that later data packets must increase from.
func (s *Session) EncodeInit(dst []byte, sessionID uint64, mode HeaderMode, tick Tick) (int, error) {
	if !mode.valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedMode, uint8(mode))
	}
	if len(dst) < wire.HeaderSize {
		return 0, bitstream.ErrBufferTooSmall
	}
	n, err := wire.AppendSection(dst[wire.HeaderSize:], 0, wire.TagSessionInit, s.codec.limits, func(w *bitstream.Writer) error {
		if err := w.WriteUint64(sessionID); err != nil {
			return err
		}
		return w.WriteUint8(uint8(mode))
	})
	if err != nil {
		return 0, err
	}
	h := wire.InitHeader(s.codec.schema.Hash(), uint32(tick), uint32(n))
	if _, err := wire.EncodeHeader(dst, h); err != nil {
		return 0, err
	}
	s.phase = PhaseNegotiating
	s.mode = mode
	s.sessionID = sessionID
	s.lastTick = tick
	s.lastBaseline = 0
	return wire.HeaderSize + n, nil
}

// EncodeFull frames a full snapshot for this session. The session must
// have sent an init first; the first successful data packet completes
// negotiation on the sender side.
func (s *Session) EncodeFull(dst []byte, snap *Snapshot, scratch *Scratch) (int, error) {
	if err := s.checkSend(snap.Tick); err != nil {
		return 0, err
	}
	if s.mode == ModeStandard {
		n, err := s.codec.EncodeFull(dst, snap, scratch)
		if err != nil {
			return 0, err
		}
		s.commitSend(snap.Tick, 0)
		return n, nil
	}
	if len(dst) < wire.MaxCompactHeaderLen {
		return 0, bitstream.ErrBufferTooSmall
	}
	n, err := s.codec.encodeFullPayload(dst[wire.MaxCompactHeaderLen:], snap, scratch)
	if err != nil {
		return 0, err
	}
	ch := wire.CompactHeader{Flags: wire.CompactFull, Tick: uint32(snap.Tick), PayloadLen: uint32(n)}
	return s.finishCompact(dst, ch, n, snap.Tick, 0)
}

// EncodeDelta frames the difference from baseline to current for this
// session.
func (s *Session) EncodeDelta(dst []byte, baseline, current *Snapshot, scratch *Scratch) (int, error) {
	if err := s.checkSend(current.Tick); err != nil {
		return 0, err
	}
	if s.mode == ModeStandard {
		n, err := s.codec.EncodeDelta(dst, baseline, current, scratch)
		if err != nil {
			return 0, err
		}
		s.commitSend(current.Tick, baseline.Tick)
		return n, nil
	}
	if baseline.Tick == 0 {
		return 0, fmt.Errorf("%w: baseline snapshot has tick zero", wire.ErrInvalidBaseline)
	}
	if len(dst) < wire.MaxCompactHeaderLen {
		return 0, bitstream.ErrBufferTooSmall
	}
	n, err := s.codec.encodeDeltaPayload(dst[wire.MaxCompactHeaderLen:], baseline, current, scratch)
	if err != nil {
		return 0, err
	}
	ch := wire.CompactHeader{
		Flags:        wire.CompactDelta,
		Tick:         uint32(current.Tick),
		BaselineTick: uint32(baseline.Tick),
		PayloadLen:   uint32(n),
	}
	return s.finishCompact(dst, ch, n, current.Tick, baseline.Tick)
}

func (s *Session) checkSend(tick Tick) error {
	if s.phase != PhaseNegotiating && s.phase != PhaseEstablished {
		return fmt.Errorf("%w: %s", ErrSessionPhase, s.phase)
	}
	if tick <= s.lastTick {
		return fmt.Errorf("%w: tick %d not after %d", ErrSessionOutOfOrder, tick, s.lastTick)
	}
	return nil
}

func (s *Session) commitSend(tick, baseline Tick) {
	s.phase = PhaseEstablished
	s.lastTick = tick
	s.lastBaseline = baseline
}

// finishCompact writes the compact header into the slack reserved before
// the payload, closes the gap, and commits the send.
func (s *Session) finishCompact(dst []byte, ch wire.CompactHeader, payloadLen int, tick, baseline Tick) (int, error) {
	var hdr [wire.MaxCompactHeaderLen]byte
	hn, err := wire.EncodeCompact(hdr[:], ch, uint32(s.lastTick))
	if err != nil {
		return 0, err
	}
	copy(dst[hn:], dst[wire.MaxCompactHeaderLen:wire.MaxCompactHeaderLen+payloadLen])
	copy(dst[:hn], hdr[:hn])
	s.commitSend(tick, baseline)
	return hn + payloadLen, nil
}

// HandleInit consumes a session init packet regardless of the current
// phase. On success the session is Established and data packets are
// accepted from the init tick forward. A semantically invalid init, e.g.
// a schema mismatch or an unsupported mode, moves the session to Errored;
// a packet too mangled to parse leaves the phase alone.
func (s *Session) HandleInit(pkt []byte) (*InitInfo, error) {
	h, payload, err := wire.DecodePacket(pkt, s.codec.limits)
	if err != nil {
		return nil, err
	}
	return s.acceptInit(h, payload)
}

// DecodePacket parses one inbound packet, dispatching on its framing.
// Standard-framed packets are accepted in any mode since they are
// self-describing; compact frames require an established compact session.
// Full and delta results are validated but not yet committed: apply them,
// then call Commit.
func (s *Session) DecodePacket(pkt []byte) (*Incoming, error) {
	if wire.IsStandard(pkt) {
		h, payload, err := wire.DecodePacket(pkt, s.codec.limits)
		if err != nil {
			return nil, err
		}
		if h.Flags&wire.FlagSessionInit != 0 {
			info, err := s.acceptInit(h, payload)
			if err != nil {
				return nil, err
			}
			return &Incoming{Header: h, Init: info}, nil
		}
		return s.decodeData(h, payload)
	}
	if s.phase != PhaseEstablished {
		return nil, fmt.Errorf("%w: %s", ErrSessionPhase, s.phase)
	}
	if s.mode != ModeCompact {
		return nil, fmt.Errorf("%w: compact packet on %s session", ErrUnsupportedMode, s.mode)
	}
	ch, payload, err := wire.DecodeCompact(pkt, uint32(s.lastTick), s.codec.limits)
	if err != nil {
		if errors.Is(err, wire.ErrBadTickDelta) {
			// A zero tick delta is a replay or reorder, not line noise.
			s.phase = PhaseErrored
		}
		return nil, err
	}
	var h wire.Header
	if ch.Flags.IsFull() {
		h = wire.FullHeader(s.codec.schema.Hash(), ch.Tick, ch.PayloadLen)
	} else {
		h = wire.DeltaHeader(s.codec.schema.Hash(), ch.Tick, ch.BaselineTick, ch.PayloadLen)
	}
	return s.decodeData(h, payload)
}

// Commit records a decoded data packet as applied, advancing the tick
// ordering. Packets that failed to apply must not be committed.
func (s *Session) Commit(inc *Incoming) {
	if inc.Init != nil {
		return
	}
	s.lastTick = Tick(inc.Header.Tick)
	s.lastBaseline = Tick(inc.Header.BaselineTick)
}

func (s *Session) acceptInit(h wire.Header, payload []byte) (*InitInfo, error) {
	info, err := s.codec.decodeInitParts(h, payload)
	if err != nil {
		if NeedsResync(err) {
			s.phase = PhaseErrored
		}
		return nil, err
	}
	s.phase = PhaseEstablished
	s.mode = info.Mode
	s.sessionID = info.SessionID
	s.lastTick = Tick(h.Tick)
	s.lastBaseline = 0
	return info, nil
}

func (s *Session) decodeData(h wire.Header, payload []byte) (*Incoming, error) {
	if s.phase != PhaseEstablished {
		return nil, fmt.Errorf("%w: %s", ErrSessionPhase, s.phase)
	}
	if Tick(h.Tick) <= s.lastTick {
		s.phase = PhaseErrored
		return nil, fmt.Errorf("%w: tick %d not after %d", ErrSessionOutOfOrder, h.Tick, s.lastTick)
	}
	inc := &Incoming{Header: h}
	var err error
	if h.Flags&wire.FlagFull != 0 {
		inc.Full, err = s.codec.decodeFullParts(h, payload)
	} else {
		inc.Delta, err = s.codec.decodeDeltaParts(h, payload)
	}
	if err != nil {
		if NeedsResync(err) {
			s.phase = PhaseErrored
		}
		return nil, err
	}
	return inc, nil
}

// decodeInitParts validates a SESSION_INIT packet body: exactly one
// SESSION_INIT section carrying the aligned session id and mode byte.
func (c *Codec) decodeInitParts(h wire.Header, payload []byte) (*InitInfo, error) {
	if h.Flags&wire.FlagSessionInit == 0 {
		return nil, ErrInitExpected
	}
	if err := c.checkHash(h); err != nil {
		return nil, err
	}
	sections, err := wire.DecodeSections(payload, h.Version, c.limits)
	if err != nil {
		return nil, err
	}
	if len(sections) != 1 || sections[0].Tag != wire.TagSessionInit {
		return nil, fmt.Errorf("%w: expected exactly one SESSION_INIT section", ErrInitExpected)
	}
	r := bitstream.NewReader(sections[0].Body)
	id, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	rawMode, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	r.AlignToByte()
	if r.BitsRemaining() != 0 {
		return nil, ErrTrailingData
	}
	mode := HeaderMode(rawMode)
	if !mode.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMode, rawMode)
	}
	return &InitInfo{SessionID: id, Mode: mode}, nil
}
