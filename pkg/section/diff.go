package section

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/l7mp/livesections/pkg/key"
	"github.com/l7mp/livesections/pkg/util"
)

// IndexPath addresses a record by section position and row within the section.
type IndexPath struct {
	Section, Row int
}

func (p IndexPath) String() string { return fmt.Sprintf("[%d,%d]", p.Section, p.Row) }

// ChangeSet is the per-section diff between two indexes. Deletions index into the rows of the
// section in the old index, insertions and modifications index into the rows of the section in
// the new index. All row lists are ascending.
//
// Applying, per section, the deletions in descending order, then the insertions in ascending
// order, then the modifications to the old row lists yields the new row lists.
type ChangeSet struct {
	// Initial is set on the first notification of a subscription.
	Initial bool

	Deletions     map[ID][]int
	Insertions    map[ID][]int
	Modifications map[ID][]int

	// DeletedPaths are the deletions with section positions of the old index.
	DeletedPaths []IndexPath
	// InsertedPaths are the insertions with section positions of the new index.
	InsertedPaths []IndexPath
	// ModifiedPaths are the modifications with section positions of the new index.
	ModifiedPaths []IndexPath

	// Keys maps every section identity mentioned in the change set to its key, including
	// identities of sections that no longer exist.
	Keys map[ID]key.Key

	// section identity per ModifiedPaths entry
	modifiedIDs []ID
}

func newChangeSet() *ChangeSet {
	return &ChangeSet{
		Deletions:     map[ID][]int{},
		Insertions:    map[ID][]int{},
		Modifications: map[ID][]int{},
		Keys:          map[ID]key.Key{},
	}
}

// Diff computes the change set that takes prev to next. Records are matched by row identity; a
// record whose section changed is reported as a deletion from the old section and an insertion
// into the new one. Records kept in the same section are reported as modified iff their row
// identity is in the modified set.
func Diff(prev, next *Index, modified sets.Set[RowID]) *ChangeSet {
	if prev == nil {
		prev = Empty()
	}
	if next == nil {
		next = Empty()
	}

	cs := newChangeSet()

	for sp, s := range prev.sections {
		for r, rid := range s.RowIDs {
			loc, ok := next.rows[rid]
			if ok && next.sections[loc.section].ID == s.ID {
				continue
			}
			cs.Deletions[s.ID] = append(cs.Deletions[s.ID], r)
			cs.DeletedPaths = append(cs.DeletedPaths, IndexPath{Section: sp, Row: r})
			cs.Keys[s.ID] = s.Key
		}
	}

	for np, s := range next.sections {
		for r, rid := range s.RowIDs {
			loc, ok := prev.rows[rid]
			switch {
			case !ok || prev.sections[loc.section].ID != s.ID:
				cs.Insertions[s.ID] = append(cs.Insertions[s.ID], r)
				cs.InsertedPaths = append(cs.InsertedPaths, IndexPath{Section: np, Row: r})
				cs.Keys[s.ID] = s.Key
			case modified.Has(rid):
				cs.Modifications[s.ID] = append(cs.Modifications[s.ID], r)
				cs.ModifiedPaths = append(cs.ModifiedPaths, IndexPath{Section: np, Row: r})
				cs.modifiedIDs = append(cs.modifiedIDs, s.ID)
				cs.Keys[s.ID] = s.Key
			}
		}
	}

	return cs
}

// Initial returns the change set of a first delivery: every record of the index as an insertion.
func Initial(x *Index) *ChangeSet {
	cs := Diff(Empty(), x, nil)
	cs.Initial = true
	return cs
}

// IsEmpty reports whether the change set carries no changes. A nil change set is empty.
func (c *ChangeSet) IsEmpty() bool {
	return c == nil || len(c.DeletedPaths) == 0 && len(c.InsertedPaths) == 0 && len(c.ModifiedPaths) == 0
}

// Clone returns a deep copy of the change set.
func (c *ChangeSet) Clone() *ChangeSet {
	if c == nil {
		return nil
	}
	return &ChangeSet{
		Initial:       c.Initial,
		Deletions:     cloneRows(c.Deletions),
		Insertions:    cloneRows(c.Insertions),
		Modifications: cloneRows(c.Modifications),
		DeletedPaths:  slices.Clone(c.DeletedPaths),
		InsertedPaths: slices.Clone(c.InsertedPaths),
		ModifiedPaths: slices.Clone(c.ModifiedPaths),
		Keys:          maps.Clone(c.Keys),
		modifiedIDs:   slices.Clone(c.modifiedIDs),
	}
}

func cloneRows(m map[ID][]int) map[ID][]int {
	ret := make(map[ID][]int, len(m))
	for id, rows := range m {
		ret[id] = slices.Clone(rows)
	}
	return ret
}

// Sections returns the identities of all sections touched by the change set, ascending.
func (c *ChangeSet) Sections() []ID {
	return util.SortedKeys(c.Keys)
}

// FilterModifications returns a copy of the change set that keeps only the modifications for
// which keep returns true. Deletions and insertions are never filtered.
func (c *ChangeSet) FilterModifications(keep func(id ID, p IndexPath) bool) *ChangeSet {
	ret := &ChangeSet{
		Initial:       c.Initial,
		Deletions:     c.Deletions,
		Insertions:    c.Insertions,
		Modifications: map[ID][]int{},
		DeletedPaths:  c.DeletedPaths,
		InsertedPaths: c.InsertedPaths,
		Keys:          make(map[ID]key.Key, len(c.Keys)),
	}

	for i, p := range c.ModifiedPaths {
		id := c.modifiedIDs[i]
		if !keep(id, p) {
			continue
		}
		ret.Modifications[id] = append(ret.Modifications[id], p.Row)
		ret.ModifiedPaths = append(ret.ModifiedPaths, p)
		ret.modifiedIDs = append(ret.modifiedIDs, id)
	}

	// drop keys that are only referenced by filtered modifications
	for id, k := range c.Keys {
		if len(ret.Deletions[id]) > 0 || len(ret.Insertions[id]) > 0 || len(ret.Modifications[id]) > 0 {
			ret.Keys[id] = k
		}
	}

	return ret
}

// String returns a compact representation of the change set, e.g., "x:-[0] y:+[1]".
func (c *ChangeSet) String() string {
	if c.IsEmpty() {
		return "∅"
	}

	parts := []string{}
	for _, id := range c.Sections() {
		part := c.Keys[id].String() + ":"
		if rows := c.Deletions[id]; len(rows) > 0 {
			part += fmt.Sprintf("-%v", rows)
		}
		if rows := c.Insertions[id]; len(rows) > 0 {
			part += fmt.Sprintf("+%v", rows)
		}
		if rows := c.Modifications[id]; len(rows) > 0 {
			part += fmt.Sprintf("~%v", rows)
		}
		parts = append(parts, part)
	}
	slices.Sort(parts)

	return strings.Join(parts, " ")
}
