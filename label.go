package classfile

import (
	"fmt"
	"sync/atomic"
)

var labelCounter uint64

// Label is an opaque handle to an offset in the byte stream of one method
// body. Labels start unresolved; the owning method writer records patch
// sites against them and binds them to concrete offsets during layout. A
// Label must not be shared across methods.
type Label struct {
	id uint64
}

// NewLabel returns a fresh, unresolved Label.
func NewLabel() *Label {
	return &Label{id: atomic.AddUint64(&labelCounter, 1)}
}

// String returns a short debug name for the label.
func (l *Label) String() string {
	return fmt.Sprintf("L%d", l.id)
}
