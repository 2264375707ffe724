package section

import (
	"errors"
	"fmt"

	"github.com/l7mp/livesections/pkg/key"
)

var (
	// ErrKeyExtraction marks failures of the key extractor. Aborts the whole recomputation.
	ErrKeyExtraction = errors.New("section key extraction failed")
	// ErrInvalidated marks a base collection that can no longer be used.
	ErrInvalidated = errors.New("stale collection")
	// ErrOutOfRange marks an index accessor called with an invalid index.
	ErrOutOfRange = errors.New("index out of range")
	// ErrRemovedSection marks a section handle whose section no longer exists.
	ErrRemovedSection = errors.New("removed section")
)

// KeyExtractionError is returned when the key extractor fails on a record.
type KeyExtractionError struct {
	// Position is the position of the offending record in the base collection.
	Position int
	Cause    error
}

// Error implements the error interface.
func (e *KeyExtractionError) Error() string {
	return fmt.Sprintf("%s for record at position %d: %v", ErrKeyExtraction, e.Position, e.Cause)
}

func (e *KeyExtractionError) Is(target error) bool { return target == ErrKeyExtraction }
func (e *KeyExtractionError) Unwrap() error        { return e.Cause }

// InvalidatedError is returned by all accessors once the base collection has been torn down.
type InvalidatedError struct {
	Cause error
}

// NewInvalidatedError wraps the reason of an invalidation.
func NewInvalidatedError(cause error) error {
	if cause == nil {
		cause = errors.New("collection invalidated")
	}
	var ie *InvalidatedError
	if errors.As(cause, &ie) {
		return ie
	}
	return &InvalidatedError{Cause: cause}
}

// Error implements the error interface.
func (e *InvalidatedError) Error() string {
	return fmt.Sprintf("%s: %v", ErrInvalidated, e.Cause)
}

func (e *InvalidatedError) Is(target error) bool { return target == ErrInvalidated }
func (e *InvalidatedError) Unwrap() error        { return e.Cause }

// OutOfRangeError is returned by index accessors for an index not in [0, Count).
type OutOfRangeError struct {
	Index, Count int
}

// NewOutOfRangeError creates an out of range error.
func NewOutOfRangeError(index, count int) error {
	return &OutOfRangeError{Index: index, Count: count}
}

// Error implements the error interface.
func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s: index %d, count %d", ErrOutOfRange, e.Index, e.Count)
}

func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }

// RemovedSectionError is returned when a section handle refers to a section that is absent from
// the latest index.
type RemovedSectionError struct {
	ID  ID
	Key key.Key
}

// Error implements the error interface.
func (e *RemovedSectionError) Error() string {
	return fmt.Sprintf("%s: section %d (key %q) no longer exists", ErrRemovedSection, e.ID, e.Key.String())
}

func (e *RemovedSectionError) Is(target error) bool { return target == ErrRemovedSection }
