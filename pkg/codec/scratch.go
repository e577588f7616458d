package codec

import (
	"github.com/sdec-dev/sdec/pkg/wire"
)

// Scratch holds the reusable working memory for encode calls. All
// capacities are fixed up front from the limits; an input that would need
// more space than the limits allow is reported as the corresponding limit
// violation instead of growing the scratch.
//
// A Scratch is not safe for concurrent use. Use one per goroutine.
type Scratch struct {
	componentMask []bool
	fieldMask     []bool
	baseOrder     []int
	currOrder     []int
}

// NewScratch allocates scratch space sized for the given limits.
func NewScratch(limits wire.Limits) *Scratch {
	return &Scratch{
		componentMask: make([]bool, limits.MaxComponentsPerEntity),
		fieldMask:     make([]bool, limits.MaxFieldsPerComponent),
		baseOrder:     make([]int, limits.MaxTotalEntities),
		currOrder:     make([]int, limits.MaxTotalEntities),
	}
}

// componentMaskFor returns an n-element mask with unspecified contents.
// The caller assigns every slot before reading any.
func (s *Scratch) componentMaskFor(n int) ([]bool, error) {
	if n > len(s.componentMask) {
		return nil, &wire.LimitError{Kind: wire.LimitComponentsPerEntity, Limit: len(s.componentMask), Actual: n}
	}
	return s.componentMask[:n], nil
}

func (s *Scratch) fieldMaskFor(n int) ([]bool, error) {
	if n > len(s.fieldMask) {
		return nil, &wire.LimitError{Kind: wire.LimitFieldsPerComponent, Limit: len(s.fieldMask), Actual: n}
	}
	return s.fieldMask[:n], nil
}

func (s *Scratch) baseOrderFor(n int) ([]int, error) {
	if n > len(s.baseOrder) {
		return nil, &wire.LimitError{Kind: wire.LimitTotalEntities, Limit: len(s.baseOrder), Actual: n}
	}
	return s.baseOrder[:n], nil
}

func (s *Scratch) currOrderFor(n int) ([]int, error) {
	if n > len(s.currOrder) {
		return nil, &wire.LimitError{Kind: wire.LimitTotalEntities, Limit: len(s.currOrder), Actual: n}
	}
	return s.currOrder[:n], nil
}
