// Package collection defines the boundary between the sectioned results engine and the ordered,
// observable record collections it sections, and provides in-memory implementations: an
// editable List with write transactions and a filtered, sorted Query over another collection.
package collection

import (
	"fmt"
	"slices"

	"github.com/l7mp/livesections/pkg/object"
)

// RawChange is a change notification of a base collection. Deletions are positions in the
// previous version, Insertions and Modifications are positions in the new version; all lists are
// ascending. A non-nil Err means the collection became unusable; no positions are set then.
type RawChange struct {
	Deletions     []int
	Insertions    []int
	Modifications []int
	Err           error
}

// IsEmpty reports whether the change carries neither positions nor an error.
func (c RawChange) IsEmpty() bool {
	return c.Err == nil && len(c.Deletions) == 0 && len(c.Insertions) == 0 && len(c.Modifications) == 0
}

// Validate checks that the change is consistent with the sizes of the previous and the new
// version.
func (c RawChange) Validate(oldSize, newSize int) error {
	if c.Err != nil {
		return nil
	}
	check := func(kind string, ps []int, size int) error {
		if !slices.IsSorted(ps) {
			return fmt.Errorf("%s are not sorted: %v", kind, ps)
		}
		for i, p := range ps {
			if p < 0 || p >= size || (i > 0 && ps[i-1] == p) {
				return fmt.Errorf("invalid %s position %d (size %d)", kind, p, size)
			}
		}
		return nil
	}
	if err := check("deletion", c.Deletions, oldSize); err != nil {
		return err
	}
	if err := check("insertion", c.Insertions, newSize); err != nil {
		return err
	}
	if err := check("modification", c.Modifications, newSize); err != nil {
		return err
	}
	if oldSize-len(c.Deletions)+len(c.Insertions) != newSize {
		return fmt.Errorf("change -%d+%d does not take size %d to %d", len(c.Deletions),
			len(c.Insertions), oldSize, newSize)
	}
	return nil
}

// Handler receives the change notifications of a collection. Handlers are called synchronously
// in the order the collection versions advance.
type Handler func(change RawChange)

// Registration is returned by Observe and stops the notifications when released.
type Registration interface {
	Stop()
}

// Collection is an ordered, observable record collection.
type Collection interface {
	// Snapshot returns the records of the current version. The returned slice and the
	// documents in it must not be modified by either party. An error means the collection
	// cannot be accessed from the caller anymore.
	Snapshot() ([]object.Document, error)
	// Observe registers a change handler.
	Observe(h Handler) (Registration, error)
	// Err returns the reason the collection became invalid, or nil.
	Err() error
}
