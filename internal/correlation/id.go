// Package correlation generates and derives correlation ids that are
// propagated through every operation, event, and log line so a single
// request's path through the system can be traced end to end.
package correlation

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// New returns a fresh top-level correlation id for a public operation.
func New() string {
	return uuid.NewString()
}

// Sequence hands out child ids for sub-operations of a parent id. Children are
// distinguished by a monotonic suffix so repeated derivations from the
// same parent never collide: "id", "id.1", "id.2", ...
type Sequence struct {
	parent string
	next   atomic.Uint64
}

// NewSequence starts a derivation sequence rooted at parent.
func NewSequence(parent string) *Sequence {
	return &Sequence{parent: parent}
}

// Next returns the next child id in the sequence.
func (s *Sequence) Next() string {
	n := s.next.Add(1)
	return fmt.Sprintf("%s.%d", s.parent, n)
}

// Child derives a single child id without maintaining a sequence. Use
// Sequence when multiple children must be derived from the same parent.
func Child(parent string, suffix uint64) string {
	return fmt.Sprintf("%s.%d", parent, suffix)
}
