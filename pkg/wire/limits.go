package wire

import "fmt"

// Limits bounds every untrusted count and length the codec will honor.
// Decoders check the relevant limit before any allocation or loop whose
// bound derives from packet contents, so a minimal malicious packet cannot
// force large work. The zero value rejects everything; start from
// DefaultLimits.
type Limits struct {
	// MaxPacketBytes bounds the total encoded packet size.
	MaxPacketBytes int
	// MaxSections bounds the number of sections in one payload.
	MaxSections int
	// MaxSectionBytes bounds the declared body length of one section.
	MaxSectionBytes int
	// MaxEntitiesCreate bounds entities in one create section.
	MaxEntitiesCreate int
	// MaxEntitiesUpdate bounds entities in one update section.
	MaxEntitiesUpdate int
	// MaxEntitiesDestroy bounds entity ids in one destroy section.
	MaxEntitiesDestroy int
	// MaxComponentsPerEntity bounds schema components and presence masks.
	MaxComponentsPerEntity int
	// MaxFieldsPerComponent bounds schema fields and field masks.
	MaxFieldsPerComponent int
	// MaxTotalEntities bounds the entity count after applying a packet.
	MaxTotalEntities int
}

// DefaultLimits returns the production limit profile.
func DefaultLimits() Limits {
	return Limits{
		MaxPacketBytes:         64 * 1024,
		MaxSections:            16,
		MaxSectionBytes:        64 * 1024,
		MaxEntitiesCreate:      1024,
		MaxEntitiesUpdate:      2048,
		MaxEntitiesDestroy:     1024,
		MaxComponentsPerEntity: 64,
		MaxFieldsPerComponent:  64,
		MaxTotalEntities:       4096,
	}
}

// LimitKind names the limit a packet exceeded.
type LimitKind uint8

// Limit kinds, one per Limits field.
const (
	LimitPacketBytes LimitKind = iota
	LimitSections
	LimitSectionBytes
	LimitEntitiesCreate
	LimitEntitiesUpdate
	LimitEntitiesDestroy
	LimitComponentsPerEntity
	LimitFieldsPerComponent
	LimitTotalEntities
)

// String returns a human-readable limit name.
func (k LimitKind) String() string {
	switch k {
	case LimitPacketBytes:
		return "packet_bytes"
	case LimitSections:
		return "sections"
	case LimitSectionBytes:
		return "section_bytes"
	case LimitEntitiesCreate:
		return "entities_create"
	case LimitEntitiesUpdate:
		return "entities_update"
	case LimitEntitiesDestroy:
		return "entities_destroy"
	case LimitComponentsPerEntity:
		return "components_per_entity"
	case LimitFieldsPerComponent:
		return "fields_per_component"
	case LimitTotalEntities:
		return "total_entities"
	default:
		return fmt.Sprintf("limit(%d)", uint8(k))
	}
}

// LimitError reports a declared count or size above the configured limit.
type LimitError struct {
	Kind   LimitKind
	Limit  int
	Actual int
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("wire: %s limit exceeded: %d > %d", e.Kind, e.Actual, e.Limit)
}

// limitErr builds a LimitError.
func limitErr(kind LimitKind, limit, actual int) error {
	return &LimitError{Kind: kind, Limit: limit, Actual: actual}
}
