package codec

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sdec-dev/sdec/pkg/bitstream"
	"github.com/sdec-dev/sdec/pkg/schema"
	"github.com/sdec-dev/sdec/pkg/wire"
)

func sessionPair(t *testing.T) (*Session, *Session, *Scratch) {
	t.Helper()
	c, scratch := testCodec(t)
	return NewSession(c), NewSession(c), scratch
}

func mustInit(t *testing.T, sender, receiver *Session, id uint64, mode HeaderMode, tick Tick) {
	t.Helper()
	buf := make([]byte, 256)
	n, err := sender.EncodeInit(buf, id, mode, tick)
	if err != nil {
		t.Fatalf("EncodeInit: %v", err)
	}
	if _, err := receiver.HandleInit(buf[:n]); err != nil {
		t.Fatalf("HandleInit: %v", err)
	}
}

func TestSessionInitRoundTrip(t *testing.T) {
	sender, receiver, _ := sessionPair(t)
	buf := make([]byte, 256)
	n, err := sender.EncodeInit(buf, 0xDEADBEEF, ModeStandard, 10)
	if err != nil {
		t.Fatalf("EncodeInit: %v", err)
	}
	if sender.Phase() != PhaseNegotiating {
		t.Fatalf("sender phase = %s, want NEGOTIATING", sender.Phase())
	}
	if sender.SessionID() != 0xDEADBEEF || sender.LastTick() != 10 {
		t.Fatalf("sender id/tick = %#x/%d", sender.SessionID(), sender.LastTick())
	}

	inc, err := receiver.DecodePacket(buf[:n])
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if inc.Init == nil || inc.Full != nil || inc.Delta != nil {
		t.Fatalf("incoming = %+v, want init only", inc)
	}
	if inc.Init.SessionID != 0xDEADBEEF || inc.Init.Mode != ModeStandard {
		t.Fatalf("init info = %+v", inc.Init)
	}
	if receiver.Phase() != PhaseEstablished {
		t.Fatalf("receiver phase = %s, want ESTABLISHED", receiver.Phase())
	}
	if receiver.LastTick() != 10 || receiver.SessionID() != 0xDEADBEEF {
		t.Fatalf("receiver tick/id = %d/%#x", receiver.LastTick(), receiver.SessionID())
	}
	// Committing an init is a no-op; acceptInit already recorded the tick.
	receiver.Commit(inc)
	if receiver.LastTick() != 10 {
		t.Fatalf("Commit on init moved the tick to %d", receiver.LastTick())
	}
}

func TestSessionStandardFlow(t *testing.T) {
	sender, receiver, scratch := sessionPair(t)
	c := sender.codec
	mustInit(t, sender, receiver, 1, ModeStandard, 10)

	full := &Snapshot{Tick: 11, Entities: []Entity{
		{ID: 1, Components: []Component{transform(10, 20, 100, true)}},
		{ID: 2, Components: []Component{score(3, -3, 30)}},
	}}
	buf := make([]byte, 4096)
	n, err := sender.EncodeFull(buf, full, scratch)
	if err != nil {
		t.Fatalf("EncodeFull: %v", err)
	}
	if sender.Phase() != PhaseEstablished {
		t.Fatalf("sender phase after first data = %s", sender.Phase())
	}

	inc, err := receiver.DecodePacket(buf[:n])
	if err != nil {
		t.Fatalf("DecodePacket(full): %v", err)
	}
	if inc.Full == nil {
		t.Fatalf("incoming = %+v, want full", inc)
	}
	assertSnapshotsMatch(t, c.Schema(), inc.Full, full)
	receiver.Commit(inc)
	if receiver.LastTick() != 11 {
		t.Fatalf("receiver tick = %d, want 11", receiver.LastTick())
	}

	current := &Snapshot{Tick: 12, Entities: []Entity{
		{ID: 1, Components: []Component{transform(11, 20, 90, true)}},
		{ID: 2, Components: []Component{score(3, -3, 30)}},
	}}
	n, err = sender.EncodeDelta(buf, inc.Full, current, scratch)
	if err != nil {
		t.Fatalf("EncodeDelta: %v", err)
	}
	inc, err = receiver.DecodePacket(buf[:n])
	if err != nil {
		t.Fatalf("DecodePacket(delta): %v", err)
	}
	if inc.Delta == nil {
		t.Fatalf("incoming = %+v, want delta", inc)
	}
	applied, err := c.ApplyDelta(full, inc.Delta)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	assertSnapshotsMatch(t, c.Schema(), applied, current)
	receiver.Commit(inc)
	if receiver.LastTick() != 12 || receiver.LastBaseline() != 11 {
		t.Fatalf("receiver tick/baseline = %d/%d, want 12/11", receiver.LastTick(), receiver.LastBaseline())
	}
}

func TestSessionCompactFlow(t *testing.T) {
	sender, receiver, scratch := sessionPair(t)
	c := sender.codec
	mustInit(t, sender, receiver, 7, ModeCompact, 10)

	full := &Snapshot{Tick: 11, Entities: []Entity{
		{ID: 1, Components: []Component{transform(10, 20, 100, true)}},
	}}
	buf := make([]byte, 4096)
	n, err := sender.EncodeFull(buf, full, scratch)
	if err != nil {
		t.Fatalf("EncodeFull: %v", err)
	}
	if wire.IsStandard(buf[:n]) {
		t.Fatal("compact session produced a standard frame")
	}
	std := make([]byte, 4096)
	stdN, err := c.EncodeFull(std, full, NewScratch(c.Limits()))
	if err != nil {
		t.Fatalf("codec EncodeFull: %v", err)
	}
	if n >= stdN {
		t.Fatalf("compact frame %d bytes, standard %d", n, stdN)
	}

	inc, err := receiver.DecodePacket(buf[:n])
	if err != nil {
		t.Fatalf("DecodePacket(compact full): %v", err)
	}
	if inc.Full == nil {
		t.Fatalf("incoming = %+v, want full", inc)
	}
	assertSnapshotsMatch(t, c.Schema(), inc.Full, full)
	receiver.Commit(inc)

	current := &Snapshot{Tick: 12, Entities: []Entity{
		{ID: 1, Components: []Component{transform(10.5, 20, 99, true)}},
	}}
	n, err = sender.EncodeDelta(buf, full, current, scratch)
	if err != nil {
		t.Fatalf("EncodeDelta: %v", err)
	}
	inc, err = receiver.DecodePacket(buf[:n])
	if err != nil {
		t.Fatalf("DecodePacket(compact delta): %v", err)
	}
	if inc.Delta == nil || inc.Header.Tick != 12 || inc.Header.BaselineTick != 11 {
		t.Fatalf("incoming header = %+v", inc.Header)
	}
	applied, err := c.ApplyDelta(full, inc.Delta)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	assertSnapshotsMatch(t, c.Schema(), applied, current)
	receiver.Commit(inc)

	// Standard frames stay valid on a compact session.
	stdN, err = c.EncodeFull(std, &Snapshot{Tick: 13}, NewScratch(c.Limits()))
	if err != nil {
		t.Fatalf("codec EncodeFull: %v", err)
	}
	if _, err := receiver.DecodePacket(std[:stdN]); err != nil {
		t.Fatalf("standard frame on compact session: %v", err)
	}
}

// TestSessionReplayRecovery walks the replay scenario end to end: a
// replayed packet poisons the session, data is refused while errored, and
// a fresh init restores service.
func TestSessionReplayRecovery(t *testing.T) {
	sender, receiver, scratch := sessionPair(t)
	c := sender.codec
	mustInit(t, sender, receiver, 1, ModeStandard, 10)

	full := &Snapshot{Tick: 11, Entities: []Entity{{ID: 1, Components: []Component{transform(1, 1, 1, true)}}}}
	buf := make([]byte, 4096)
	n, err := sender.EncodeFull(buf, full, scratch)
	if err != nil {
		t.Fatalf("EncodeFull: %v", err)
	}
	captured := append([]byte(nil), buf[:n]...)

	inc, err := receiver.DecodePacket(buf[:n])
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	receiver.Commit(inc)

	// Replay of the committed packet.
	if _, err := receiver.DecodePacket(captured); !errors.Is(err, ErrSessionOutOfOrder) {
		t.Fatalf("replay error = %v, want ErrSessionOutOfOrder", err)
	}
	if receiver.Phase() != PhaseErrored {
		t.Fatalf("phase after replay = %s, want ERRORED", receiver.Phase())
	}

	// Fresh data is refused until the session is re-initialized.
	n2, err := c.EncodeFull(buf, &Snapshot{Tick: 12}, scratch)
	if err != nil {
		t.Fatalf("EncodeFull: %v", err)
	}
	if _, err := receiver.DecodePacket(buf[:n2]); !errors.Is(err, ErrSessionPhase) {
		t.Fatalf("data while errored = %v, want ErrSessionPhase", err)
	}

	// Re-init recovers, and is allowed from the sender's established phase.
	n3, err := sender.EncodeInit(buf, 2, ModeStandard, 20)
	if err != nil {
		t.Fatalf("re-init encode: %v", err)
	}
	if sender.Phase() != PhaseNegotiating {
		t.Fatalf("sender phase after re-init = %s", sender.Phase())
	}
	if _, err := receiver.DecodePacket(buf[:n3]); err != nil {
		t.Fatalf("re-init decode: %v", err)
	}
	if receiver.Phase() != PhaseEstablished || receiver.LastTick() != 20 {
		t.Fatalf("receiver after re-init = %s tick %d", receiver.Phase(), receiver.LastTick())
	}
}

func TestSessionInitSchemaMismatch(t *testing.T) {
	c, _ := testCodec(t)
	other, err := schema.New([]schema.ComponentDef{
		{ID: 1, Fields: []schema.FieldDef{schema.BoolField(1)}},
	}, wire.DefaultLimits())
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	otherCodec, err := New(other, wire.DefaultLimits())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sender := NewSession(c)
	receiver := NewSession(otherCodec)
	buf := make([]byte, 256)
	n, err := sender.EncodeInit(buf, 1, ModeStandard, 5)
	if err != nil {
		t.Fatalf("EncodeInit: %v", err)
	}
	_, err = receiver.HandleInit(buf[:n])
	var mismatch *SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("HandleInit error = %v, want SchemaMismatchError", err)
	}
	if !NeedsResync(err) {
		t.Fatal("schema mismatch not classified as needing resync")
	}
	if receiver.Phase() != PhaseErrored {
		t.Fatalf("receiver phase = %s, want ERRORED", receiver.Phase())
	}
}

func TestSessionInitUnknownMode(t *testing.T) {
	sender, receiver, _ := sessionPair(t)
	buf := make([]byte, 256)
	n, err := sender.EncodeInit(buf, 1, ModeStandard, 5)
	if err != nil {
		t.Fatalf("EncodeInit: %v", err)
	}
	// Header (28) + tag + length byte + 8-byte session id put the mode
	// byte at offset 38.
	buf[38] = 7
	if _, err := receiver.HandleInit(buf[:n]); !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("HandleInit error = %v, want ErrUnsupportedMode", err)
	}
	if receiver.Phase() != PhaseErrored {
		t.Fatalf("receiver phase = %s, want ERRORED", receiver.Phase())
	}
}

// TestSessionCommitGating checks that DecodePacket alone does not advance
// the session: an uncommitted packet may be decoded again, a committed one
// may not.
func TestSessionCommitGating(t *testing.T) {
	sender, receiver, scratch := sessionPair(t)
	mustInit(t, sender, receiver, 1, ModeStandard, 10)

	buf := make([]byte, 4096)
	n, err := sender.EncodeFull(buf, &Snapshot{Tick: 11}, scratch)
	if err != nil {
		t.Fatalf("EncodeFull: %v", err)
	}
	if _, err := receiver.DecodePacket(buf[:n]); err != nil {
		t.Fatalf("first decode: %v", err)
	}
	inc, err := receiver.DecodePacket(buf[:n])
	if err != nil {
		t.Fatalf("second decode before commit: %v", err)
	}
	receiver.Commit(inc)
	if _, err := receiver.DecodePacket(buf[:n]); !errors.Is(err, ErrSessionOutOfOrder) {
		t.Fatalf("decode after commit = %v, want ErrSessionOutOfOrder", err)
	}
}

func TestSessionSendGating(t *testing.T) {
	c, scratch := testCodec(t)
	buf := make([]byte, 4096)

	t.Run("data before init", func(t *testing.T) {
		s := NewSession(c)
		if _, err := s.EncodeFull(buf, &Snapshot{Tick: 1}, scratch); !errors.Is(err, ErrSessionPhase) {
			t.Fatalf("EncodeFull error = %v, want ErrSessionPhase", err)
		}
	})

	t.Run("data after invalidate", func(t *testing.T) {
		s := NewSession(c)
		if _, err := s.EncodeInit(buf, 1, ModeStandard, 5); err != nil {
			t.Fatalf("EncodeInit: %v", err)
		}
		s.Invalidate()
		base := &Snapshot{Tick: 6}
		if _, err := s.EncodeDelta(buf, base, &Snapshot{Tick: 7}, scratch); !errors.Is(err, ErrSessionPhase) {
			t.Fatalf("EncodeDelta error = %v, want ErrSessionPhase", err)
		}
	})

	t.Run("non-increasing tick", func(t *testing.T) {
		s := NewSession(c)
		if _, err := s.EncodeInit(buf, 1, ModeStandard, 5); err != nil {
			t.Fatalf("EncodeInit: %v", err)
		}
		if _, err := s.EncodeFull(buf, &Snapshot{Tick: 6}, scratch); err != nil {
			t.Fatalf("EncodeFull: %v", err)
		}
		if _, err := s.EncodeFull(buf, &Snapshot{Tick: 6}, scratch); !errors.Is(err, ErrSessionOutOfOrder) {
			t.Fatalf("repeated tick error = %v, want ErrSessionOutOfOrder", err)
		}
	})
}

func TestSessionCompactGating(t *testing.T) {
	// Flags byte then a zero tick delta. Not standard framing: the first
	// four bytes do not spell the magic.
	badDelta := []byte{0x01, 0x00, 0x00, 0x00}

	t.Run("compact before established", func(t *testing.T) {
		c, _ := testCodec(t)
		s := NewSession(c)
		if _, err := s.DecodePacket(badDelta); !errors.Is(err, ErrSessionPhase) {
			t.Fatalf("DecodePacket error = %v, want ErrSessionPhase", err)
		}
	})

	t.Run("compact frame on standard session", func(t *testing.T) {
		sender, receiver, _ := sessionPair(t)
		mustInit(t, sender, receiver, 1, ModeStandard, 10)
		if _, err := receiver.DecodePacket(badDelta); !errors.Is(err, ErrUnsupportedMode) {
			t.Fatalf("DecodePacket error = %v, want ErrUnsupportedMode", err)
		}
	})

	t.Run("zero tick delta poisons session", func(t *testing.T) {
		sender, receiver, _ := sessionPair(t)
		mustInit(t, sender, receiver, 1, ModeCompact, 10)
		if _, err := receiver.DecodePacket(badDelta); !errors.Is(err, wire.ErrBadTickDelta) {
			t.Fatalf("DecodePacket error = %v, want ErrBadTickDelta", err)
		}
		if receiver.Phase() != PhaseErrored {
			t.Fatalf("receiver phase = %s, want ERRORED", receiver.Phase())
		}
	})
}

func TestNeedsResync(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&SchemaMismatchError{Local: 1, Packet: 2}, true},
		{ErrBaselineMissing, true},
		{ErrBaselineMismatch, true},
		{ErrSessionPhase, true},
		{ErrSessionOutOfOrder, true},
		{ErrUnsupportedMode, true},
		{ErrInitExpected, true},
		{wire.ErrBadTickDelta, true},
		{fmt.Errorf("apply: %w", ErrBaselineMissing), true},
		{ErrTrailingData, false},
		{bitstream.ErrTruncated, false},
		{wire.ErrBadMagic, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := NeedsResync(tt.err); got != tt.want {
			t.Errorf("NeedsResync(%v) = %t, want %t", tt.err, got, tt.want)
		}
	}
}

func TestPhaseAndModeStrings(t *testing.T) {
	if PhaseUninitialized.String() != "UNINITIALIZED" || PhaseErrored.String() != "ERRORED" {
		t.Fatalf("phase strings = %s/%s", PhaseUninitialized, PhaseErrored)
	}
	if ModeStandard.String() != "STANDARD" || ModeCompact.String() != "COMPACT" {
		t.Fatalf("mode strings = %s/%s", ModeStandard, ModeCompact)
	}
	if got := HeaderMode(9).String(); got != "HeaderMode(9)" {
		t.Fatalf("unknown mode string = %q", got)
	}
}

func TestEncodeInitRejectsUnknownMode(t *testing.T) {
	c, _ := testCodec(t)
	s := NewSession(c)
	buf := make([]byte, 256)
	if _, err := s.EncodeInit(buf, 1, HeaderMode(9), 5); !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("EncodeInit error = %v, want ErrUnsupportedMode", err)
	}
	if s.Phase() != PhaseUninitialized {
		t.Fatalf("failed init changed phase to %s", s.Phase())
	}
}
