package testutils

import (
	"fmt"
	"slices"

	"github.com/l7mp/livesections/pkg/object"
	"github.com/l7mp/livesections/pkg/section"
)

// Materialize returns the records of each section of an index, keyed by section identity.
func Materialize(x *section.Index) map[section.ID][]object.Document {
	ret := map[section.ID][]object.Document{}
	for _, s := range x.Sections() {
		docs := make([]object.Document, 0, s.Len())
		for _, pos := range s.Rows {
			doc, _ := x.Document(pos)
			docs = append(docs, doc)
		}
		ret[s.ID] = docs
	}
	return ret
}

// ApplyChangeSet replays a change set on the materialized sections of an old index, taking the
// inserted and modified records from the new index, the way a list view would. The result must
// equal Materialize(next) for a correct change set.
func ApplyChangeSet(view map[section.ID][]object.Document, next *section.Index, cs *section.ChangeSet) (map[section.ID][]object.Document, error) {
	ret := make(map[section.ID][]object.Document, len(view))
	for id, docs := range view {
		ret[id] = slices.Clone(docs)
	}

	for id, rows := range cs.Deletions {
		docs, ok := ret[id]
		if !ok {
			return nil, fmt.Errorf("deletion from unknown section %d", id)
		}
		for i := len(rows) - 1; i >= 0; i-- {
			if rows[i] >= len(docs) {
				return nil, fmt.Errorf("deletion of row %d out of range in section %d", rows[i], id)
			}
			docs = slices.Delete(docs, rows[i], rows[i]+1)
		}
		ret[id] = docs
	}

	for id, rows := range cs.Insertions {
		s, pos, ok := next.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("insertion into unknown section %d", id)
		}
		docs := ret[id]
		for _, row := range rows {
			if row > len(docs) || row >= s.Len() {
				return nil, fmt.Errorf("insertion of row %d out of range in section %d", row, id)
			}
			doc, err := next.Object(section.IndexPath{Section: pos, Row: row})
			if err != nil {
				return nil, err
			}
			docs = slices.Insert(docs, row, doc)
		}
		ret[id] = docs
	}

	for id, rows := range cs.Modifications {
		_, pos, ok := next.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("modification in unknown section %d", id)
		}
		for _, row := range rows {
			if row >= len(ret[id]) {
				return nil, fmt.Errorf("modification of row %d out of range in section %d", row, id)
			}
			doc, err := next.Object(section.IndexPath{Section: pos, Row: row})
			if err != nil {
				return nil, err
			}
			ret[id][row] = doc
		}
	}

	for id, docs := range ret {
		if len(docs) == 0 {
			delete(ret, id)
		}
	}

	return ret, nil
}
