package results

import (
	"iter"

	"github.com/l7mp/livesections/pkg/key"
	"github.com/l7mp/livesections/pkg/object"
	"github.com/l7mp/livesections/pkg/section"
)

// Section is a handle to one section of a Results. The handle follows the section by identity
// across recomputations: after a change it addresses the same key at its new position, and it
// fails with a removed-section error once the key disappears.
type Section struct {
	results *Results
	id      section.ID
	key     key.Key
}

// ID returns the identity of the section.
func (s *Section) ID() section.ID { return s.id }

// Key returns the key shared by the records of the section.
func (s *Section) Key() key.Key { return s.key }

func (s *Section) current() (*section.Index, *section.Section, int, error) {
	x, err := s.results.Snapshot()
	if err != nil {
		return nil, nil, -1, err
	}
	sec, pos, ok := x.Lookup(s.id)
	if !ok {
		return nil, nil, -1, &section.RemovedSectionError{ID: s.id, Key: s.key}
	}
	return x, sec, pos, nil
}

// Index returns the current position of the section.
func (s *Section) Index() (int, error) {
	_, _, pos, err := s.current()
	return pos, err
}

// Count returns the number of records in the section.
func (s *Section) Count() (int, error) {
	_, sec, _, err := s.current()
	if err != nil {
		return 0, err
	}
	return sec.Len(), nil
}

// ObjectAt returns the record at the given row of the section.
func (s *Section) ObjectAt(row int) (object.Document, error) {
	x, _, pos, err := s.current()
	if err != nil {
		return nil, err
	}
	return x.Object(section.IndexPath{Section: pos, Row: row})
}

// All iterates over the records of the section in base collection order, using one snapshot of
// the index. Iteration is empty if the section is gone.
func (s *Section) All() iter.Seq2[int, object.Document] {
	return func(yield func(int, object.Document) bool) {
		x, sec, _, err := s.current()
		if err != nil {
			return
		}
		for i, pos := range sec.Rows {
			doc, err := x.Document(pos)
			if err != nil {
				return
			}
			if !yield(i, doc) {
				return
			}
		}
	}
}
