package section_test

import (
	"math/rand"
	"slices"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/l7mp/livesections/internal/testutils"
	"github.com/l7mp/livesections/pkg/key"
	"github.com/l7mp/livesections/pkg/object"
	"github.com/l7mp/livesections/pkg/section"
)

// rows is a base collection with explicit row identities.
type rows struct {
	ids  []section.RowID
	docs []object.Document
	next section.RowID
}

func newRows(docs []object.Document) *rows {
	r := &rows{}
	for _, doc := range docs {
		r.insert(len(r.docs), doc)
	}
	return r
}

func (r *rows) insert(pos int, doc object.Document) {
	r.next++
	r.ids = slices.Insert(r.ids, pos, r.next)
	r.docs = slices.Insert(r.docs, pos, doc)
}

func (r *rows) remove(pos int) {
	r.ids = slices.Delete(r.ids, pos, pos+1)
	r.docs = slices.Delete(r.docs, pos, pos+1)
}

func (r *rows) update(pos int, doc object.Document) section.RowID {
	r.docs[pos] = doc
	return r.ids[pos]
}

func (r *rows) clone() *rows {
	return &rows{ids: slices.Clone(r.ids), docs: slices.Clone(r.docs), next: r.next}
}

var _ = Describe("Diff", func() {
	var builder *section.Builder

	build := func(r *rows, prev *section.Index) *section.Index {
		x, err := builder.Build(r.docs, r.ids, prev)
		Expect(err).NotTo(HaveOccurred())
		return x
	}

	sectionID := func(x *section.Index, k string) section.ID {
		s, _, ok := x.LookupKey(key.String(k))
		Expect(ok).To(BeTrue())
		return s.ID
	}

	BeforeEach(func() {
		builder = section.NewBuilder(keyExtractor(), section.FirstAppearance(), logr.Discard())
	})

	It("should report every record as an insertion on the initial delivery", func() {
		x := build(newRows(testutils.Letters), nil)
		cs := section.Initial(x)

		Expect(cs.Initial).To(BeTrue())
		Expect(cs.Deletions).To(BeEmpty())
		Expect(cs.Modifications).To(BeEmpty())
		Expect(cs.Insertions).To(HaveLen(3))
		Expect(cs.Insertions[sectionID(x, "b")]).To(Equal([]int{0, 1}))
		Expect(cs.Insertions[sectionID(x, "a")]).To(Equal([]int{0, 1}))
		Expect(cs.Insertions[sectionID(x, "c")]).To(Equal([]int{0}))
		Expect(cs.InsertedPaths).To(HaveLen(5))
	})

	It("should report a section move as a deletion and an insertion", func() {
		r := newRows([]object.Document{testutils.Doc(1, "x"), testutils.Doc(2, "y")})
		x1 := build(r, nil)
		xID, yID := sectionID(x1, "x"), sectionID(x1, "y")

		r2 := r.clone()
		rid := r2.update(0, testutils.Doc(1, "y"))
		x2 := build(r2, x1)

		cs := section.Diff(x1, x2, sets.New(rid))
		Expect(cs.Deletions).To(Equal(map[section.ID][]int{xID: {0}}))
		Expect(cs.Insertions).To(Equal(map[section.ID][]int{yID: {0}}))
		Expect(cs.Modifications).To(BeEmpty())
		Expect(cs.Keys[xID]).To(Equal(key.String("x")))
		Expect(cs.String()).To(Equal("x:-[0] y:+[0]"))

		Expect(x2.Len()).To(Equal(1))
		_, _, ok := x2.Lookup(xID)
		Expect(ok).To(BeFalse())
	})

	It("should report a modification in place at the new row", func() {
		r := newRows(testutils.Letters)
		x1 := build(r, nil)

		r2 := r.clone()
		r2.remove(0)
		doc := object.DeepCopy(r2.docs[1])
		doc["extra"] = "value"
		rid := r2.update(1, doc)
		x2 := build(r2, x1)

		bID := sectionID(x1, "b")
		cs := section.Diff(x1, x2, sets.New(rid))
		Expect(cs.Deletions).To(Equal(map[section.ID][]int{bID: {0}}))
		Expect(cs.Insertions).To(BeEmpty())
		Expect(cs.Modifications).To(Equal(map[section.ID][]int{bID: {0}}))
		Expect(cs.ModifiedPaths).To(Equal([]section.IndexPath{{Section: 1, Row: 0}}))
	})

	It("should report nothing for an unmodified rebuild", func() {
		r := newRows(testutils.Letters)
		x1 := build(r, nil)
		x2 := build(r.clone(), x1)
		cs := section.Diff(x1, x2, sets.New[section.RowID]())
		Expect(cs.IsEmpty()).To(BeTrue())
		Expect(cs.String()).To(Equal("∅"))
	})

	It("should report a removed section with the identity of the old index", func() {
		r := newRows(testutils.Letters)
		x1 := build(r, nil)
		cID := sectionID(x1, "c")

		r2 := r.clone()
		r2.remove(3)
		x2 := build(r2, x1)

		cs := section.Diff(x1, x2, nil)
		Expect(cs.Deletions).To(Equal(map[section.ID][]int{cID: {0}}))
		Expect(cs.DeletedPaths).To(Equal([]section.IndexPath{{Section: 2, Row: 0}}))
		Expect(cs.Sections()).To(Equal([]section.ID{cID}))
	})

	It("should filter modifications only", func() {
		r := newRows([]object.Document{testutils.Doc(1, "x"), testutils.Doc(2, "y"), testutils.Doc(3, "y")})
		x1 := build(r, nil)

		r2 := r.clone()
		rid1 := r2.update(0, testutils.Doc(1, "y"))
		doc := object.DeepCopy(r2.docs[2])
		doc["extra"] = true
		rid3 := r2.update(2, doc)
		x2 := build(r2, x1)

		cs := section.Diff(x1, x2, sets.New(rid1, rid3))
		Expect(cs.ModifiedPaths).To(HaveLen(1))

		filtered := cs.FilterModifications(func(section.ID, section.IndexPath) bool { return false })
		Expect(filtered.ModifiedPaths).To(BeEmpty())
		Expect(filtered.Modifications).To(BeEmpty())
		Expect(filtered.Deletions).To(Equal(cs.Deletions))
		Expect(filtered.Insertions).To(Equal(cs.Insertions))
		Expect(filtered.IsEmpty()).To(BeFalse())
		Expect(cs.ModifiedPaths).To(HaveLen(1))
	})

	It("should be replayable on the old sections for random changes", func() {
		builder = section.NewBuilder(nullableExtractor(), section.FirstAppearance(), logr.Discard())
		rnd := rand.New(rand.NewSource(42))
		keys := []any{"a", "b", "c", "d", int64(1), nil}

		r := newRows(testutils.RandomDocs(rnd, 0, 20, keys))
		prev := build(r, nil)
		nextID := 1000

		for round := 0; round < 200; round++ {
			r2 := r.clone()
			modified := sets.New[section.RowID]()

			for op := 0; op < 1+rnd.Intn(4); op++ {
				switch n := len(r2.docs); {
				case n > 0 && rnd.Intn(4) == 0:
					r2.remove(rnd.Intn(n))
				case n > 0 && rnd.Intn(3) == 0:
					pos := rnd.Intn(n)
					doc := object.DeepCopy(r2.docs[pos])
					doc["key"] = keys[rnd.Intn(len(keys))]
					doc["round"] = int64(round)
					modified.Insert(r2.update(pos, doc))
				case n > 0 && rnd.Intn(3) == 0:
					// a move is a deletion and an insertion with a fresh identity
					from, to := rnd.Intn(n), rnd.Intn(n)
					doc := r2.docs[from]
					r2.remove(from)
					r2.insert(to, doc)
				default:
					nextID++
					r2.insert(rnd.Intn(n+1), testutils.Doc(nextID, keys[rnd.Intn(len(keys))]))
				}
			}

			next := build(r2, prev)
			cs := section.Diff(prev, next, modified)

			replayed, err := testutils.ApplyChangeSet(testutils.Materialize(prev), next, cs)
			Expect(err).NotTo(HaveOccurred(), "round %d: %s", round, cs.String())
			Expect(replayed).To(Equal(testutils.Materialize(next)), "round %d: %s", round, cs.String())

			// rows that were not touched keep their section identity
			for _, s := range next.Sections() {
				for _, rid := range s.RowIDs {
					if modified.Has(rid) {
						continue
					}
					if ps, _, ok := prev.Locate(rid); ok {
						old, _ := prev.Section(ps)
						Expect(old.ID).To(Equal(s.ID))
					}
				}
			}

			r, prev = r2, next
		}
	})
})
