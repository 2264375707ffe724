package section

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/l7mp/livesections/pkg/key"
	"github.com/l7mp/livesections/pkg/object"
)

// ID is the stable identity of a section. It is allocated once for a key the first time the key
// appears and is kept across rebuilds as long as the key is present in the collection.
type ID uint64

// RowID is the stable identity of a record of the base collection across collection versions.
type RowID uint64

// Section is one group of records sharing a key. Sections of an Index are immutable.
type Section struct {
	ID  ID
	Key key.Key
	// Rows are the positions of the section's records in the base collection, ascending.
	Rows []int
	// RowIDs are the identities of the section's records, parallel to Rows.
	RowIDs []RowID
}

// Len returns the number of records in the section.
func (s *Section) Len() int { return len(s.Rows) }

type location struct {
	section, row int
}

// Index is an immutable two-level index: section -> ordered rows of the base collection. A new
// Index is built on every change of the base collection, old indexes are never mutated and can
// be read concurrently without locking.
type Index struct {
	sections   []*Section
	byID       map[ID]int
	byKey      map[string]ID
	rows       map[RowID]location
	docs       []object.Document
	generation uint64
}

var emptyIndex = &Index{
	byID:  map[ID]int{},
	byKey: map[string]ID{},
	rows:  map[RowID]location{},
}

// Empty returns the empty index.
func Empty() *Index { return emptyIndex }

// Len returns the number of sections.
func (x *Index) Len() int { return len(x.sections) }

// Section returns the section at position i. The caller must not modify the section.
func (x *Index) Section(i int) (*Section, error) {
	if i < 0 || i >= len(x.sections) {
		return nil, NewOutOfRangeError(i, len(x.sections))
	}
	return x.sections[i], nil
}

// Sections returns the sections in display order. The caller must not modify the result.
func (x *Index) Sections() []*Section { return x.sections }

// Lookup returns the section with the given identity and its position.
func (x *Index) Lookup(id ID) (*Section, int, bool) {
	pos, ok := x.byID[id]
	if !ok {
		return nil, -1, false
	}
	return x.sections[pos], pos, true
}

// LookupKey returns the section that holds the given key.
func (x *Index) LookupKey(k key.Key) (*Section, int, bool) {
	id, ok := x.byKey[k.Hash()]
	if !ok {
		return nil, -1, false
	}
	return x.Lookup(id)
}

// Locate returns the section position and the row of a record.
func (x *Index) Locate(id RowID) (section, row int, ok bool) {
	loc, ok := x.rows[id]
	if !ok {
		return -1, -1, false
	}
	return loc.section, loc.row, true
}

// Document returns the record at a base collection position of the snapshot the index was built
// from.
func (x *Index) Document(pos int) (object.Document, error) {
	if pos < 0 || pos >= len(x.docs) {
		return nil, NewOutOfRangeError(pos, len(x.docs))
	}
	return x.docs[pos], nil
}

// Object returns the record at the given row of the section at the given position.
func (x *Index) Object(p IndexPath) (object.Document, error) {
	s, err := x.Section(p.Section)
	if err != nil {
		return nil, err
	}
	if p.Row < 0 || p.Row >= len(s.Rows) {
		return nil, NewOutOfRangeError(p.Row, len(s.Rows))
	}
	return x.docs[s.Rows[p.Row]], nil
}

// Size returns the number of records in the base collection snapshot.
func (x *Index) Size() int { return len(x.docs) }

// Generation returns the sequence number of the build that produced the index.
func (x *Index) Generation() uint64 { return x.generation }

// Keys returns the section keys in display order.
func (x *Index) Keys() []key.Key {
	ret := make([]key.Key, len(x.sections))
	for i, s := range x.sections {
		ret[i] = s.Key
	}
	return ret
}

// OrderPolicy fixes the display order of sections. The zero value is the first-appearance order.
type OrderPolicy struct {
	name string
	cmp  func(a, b key.Key) int
}

// FirstAppearance orders sections by the position of their first record in the base collection.
func FirstAppearance() OrderPolicy { return OrderPolicy{name: "first-appearance"} }

// SortedBy orders sections by a comparator over keys. Sections with keys comparing equal keep
// their first-appearance order.
func SortedBy(cmp func(a, b key.Key) int) OrderPolicy {
	return OrderPolicy{name: "sorted", cmp: cmp}
}

// Ascending orders sections by ascending key.
func Ascending() OrderPolicy {
	return OrderPolicy{name: "ascending", cmp: func(a, b key.Key) int { return a.Compare(b) }}
}

// Descending orders sections by descending key.
func Descending() OrderPolicy {
	return OrderPolicy{name: "descending", cmp: func(a, b key.Key) int { return b.Compare(a) }}
}

func (o OrderPolicy) String() string {
	if o.name == "" {
		return "first-appearance"
	}
	return o.name
}

func (o OrderPolicy) apply(sections []*Section) {
	if o.cmp == nil {
		return
	}
	slices.SortStableFunc(sections, func(a, b *Section) int { return o.cmp(a.Key, b.Key) })
}

// Builder builds indexes for a fixed key extractor and order policy. The builder owns the
// section identity allocator, so all indexes that are diffed against each other must come from
// the same builder.
type Builder struct {
	extractor  key.Extractor
	order      OrderPolicy
	nextID     atomic.Uint64
	generation atomic.Uint64
	log        logr.Logger
}

// NewBuilder creates an index builder.
func NewBuilder(extractor key.Extractor, order OrderPolicy, logger logr.Logger) *Builder {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Builder{
		extractor: extractor,
		order:     order,
		log:       logger.WithName("index-builder"),
	}
}

// Order returns the order policy of the builder.
func (b *Builder) Order() OrderPolicy { return b.order }

// Build scans the snapshot in order and groups records by key. The row identities must be
// parallel to docs; if nil, positions are used as row identities. Section identities are reused
// from prev on key equality. On a key extraction failure a *KeyExtractionError is returned and
// no index is produced.
func (b *Builder) Build(docs []object.Document, rowIDs []RowID, prev *Index) (*Index, error) {
	if prev == nil {
		prev = Empty()
	}
	if rowIDs == nil {
		rowIDs = make([]RowID, len(docs))
		for i := range rowIDs {
			rowIDs[i] = RowID(i)
		}
	}
	if len(rowIDs) != len(docs) {
		return nil, fmt.Errorf("got %d row identities for a snapshot of %d records",
			len(rowIDs), len(docs))
	}

	x := &Index{
		byID:  map[ID]int{},
		byKey: map[string]ID{},
		rows:  make(map[RowID]location, len(docs)),
		docs:  docs,
	}

	for pos, doc := range docs {
		k, err := key.Safe(b.extractor, doc)
		if err != nil {
			b.log.V(4).Info("key extraction failed", "position", pos, "error", err.Error())
			return nil, &KeyExtractionError{Position: pos, Cause: err}
		}

		h := k.Hash()
		id, ok := x.byKey[h]
		if !ok {
			if prevID, found := prev.byKey[h]; found {
				id = prevID
			} else {
				id = ID(b.nextID.Add(1))
				b.log.V(8).Info("new section", "key", k.String(), "id", id)
			}
			x.byKey[h] = id
			x.byID[id] = len(x.sections)
			x.sections = append(x.sections, &Section{ID: id, Key: k})
		}

		s := x.sections[x.byID[id]]
		s.Rows = append(s.Rows, pos)
		s.RowIDs = append(s.RowIDs, rowIDs[pos])
	}

	b.order.apply(x.sections)

	for i, s := range x.sections {
		x.byID[s.ID] = i
		for r, rid := range s.RowIDs {
			x.rows[rid] = location{section: i, row: r}
		}
	}

	x.generation = b.generation.Add(1)

	b.log.V(4).Info("index ready", "generation", x.generation, "records", len(docs),
		"sections", len(x.sections), "order", b.order.String())

	return x, nil
}
