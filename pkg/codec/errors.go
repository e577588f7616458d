package codec

import (
	"errors"
	"fmt"

	"github.com/sdec-dev/sdec/pkg/schema"
	"github.com/sdec-dev/sdec/pkg/wire"
)

// Structural decode/apply errors.
var (
	ErrNilSchema          = errors.New("codec: nil schema")
	ErrDuplicateEntity    = errors.New("codec: duplicate entity id")
	ErrUnknownComponent   = errors.New("codec: component not in schema")
	ErrDuplicateComponent = errors.New("codec: duplicate component on entity")
	ErrComponentNotFound  = errors.New("codec: component not present on entity")
	ErrComponentMismatch  = errors.New("codec: component set differs between snapshots")
	ErrFieldCountMismatch = errors.New("codec: field count does not match schema")
	ErrFieldIndexRange    = errors.New("codec: update field index outside component")
	ErrDuplicateSection   = errors.New("codec: duplicate section")
	ErrUnexpectedSection  = errors.New("codec: unexpected section")
	ErrTrailingData       = errors.New("codec: trailing data after section body")
	ErrPartialCreateMask  = errors.New("codec: create record field mask not full")
	ErrEmptyFieldMask     = errors.New("codec: update record field mask empty")
	ErrEntityNotFound     = errors.New("codec: entity not found")
	ErrEntityExists       = errors.New("codec: entity already exists")
	ErrBaselineMissing    = errors.New("codec: baseline tick not in ring")
	ErrBaselineOrder      = errors.New("codec: baseline ticks must be strictly increasing")
	ErrBaselineMismatch   = errors.New("codec: packet baseline does not match snapshot tick")
)

// Session errors.
var (
	ErrSessionPhase      = errors.New("codec: operation not valid in session phase")
	ErrSessionOutOfOrder = errors.New("codec: session tick not monotonic")
	ErrUnsupportedMode   = errors.New("codec: unsupported header mode")
	ErrInitExpected      = errors.New("codec: packet is not a session init")
)

// Field value errors, wrapped by FieldError which supplies the prefix and
// the component/field context.
var (
	ErrValueType  = errors.New("value kind does not match field kind")
	ErrValueRange = errors.New("value out of range for declared bit width")
)

// SchemaMismatchError reports a packet whose schema hash differs from the
// local schema.
type SchemaMismatchError struct {
	Local  uint64
	Packet uint64
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("codec: schema hash mismatch: packet %#016x, local %#016x", e.Packet, e.Local)
}

// FieldError attaches component/field context to a value encode or decode
// failure.
type FieldError struct {
	Component schema.ComponentID
	Field     schema.FieldID
	Err       error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("codec: component %d field %d: %v", e.Component, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(cid schema.ComponentID, fid schema.FieldID, err error) error {
	return &FieldError{Component: cid, Field: fid, Err: err}
}

// NeedsResync reports whether err signals that the peer's replication
// state has diverged beyond what dropping one packet can fix: the caller
// should re-send a session init and/or a full snapshot. Errors not
// classified here mean the packet was bad but the session may continue.
func NeedsResync(err error) bool {
	var mismatch *SchemaMismatchError
	if errors.As(err, &mismatch) {
		return true
	}
	return errors.Is(err, ErrBaselineMissing) ||
		errors.Is(err, ErrBaselineMismatch) ||
		errors.Is(err, ErrSessionPhase) ||
		errors.Is(err, ErrSessionOutOfOrder) ||
		errors.Is(err, ErrUnsupportedMode) ||
		errors.Is(err, ErrInitExpected) ||
		errors.Is(err, wire.ErrBadTickDelta)
}
