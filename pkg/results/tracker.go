package results

import (
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/l7mp/livesections/pkg/collection"
	"github.com/l7mp/livesections/pkg/section"
)

// rowTracker maintains the row identities of the current version of the base collection by
// folding the raw changes into the identities of the previous version.
type rowTracker struct {
	ids  []section.RowID
	next section.RowID
}

// reset assigns fresh identities to a collection of n records.
func (t *rowTracker) reset(n int) {
	t.ids = make([]section.RowID, n)
	for i := range t.ids {
		t.next++
		t.ids[i] = t.next
	}
}

// apply advances the identities by a raw change and returns the identities of the modified
// records. On an inconsistent change the tracker is left untouched.
func (t *rowTracker) apply(change collection.RawChange, newSize int) (sets.Set[section.RowID], error) {
	if err := change.Validate(len(t.ids), newSize); err != nil {
		return nil, err
	}

	survivors := make([]section.RowID, 0, len(t.ids)-len(change.Deletions))
	d := 0
	for pos, id := range t.ids {
		if d < len(change.Deletions) && change.Deletions[d] == pos {
			d++
			continue
		}
		survivors = append(survivors, id)
	}

	ids := make([]section.RowID, newSize)
	ins, s := 0, 0
	for pos := range ids {
		if ins < len(change.Insertions) && change.Insertions[ins] == pos {
			ins++
			t.next++
			ids[pos] = t.next
			continue
		}
		ids[pos] = survivors[s]
		s++
	}
	t.ids = ids

	modified := sets.New[section.RowID]()
	for _, pos := range change.Modifications {
		modified.Insert(ids[pos])
	}

	return modified, nil
}
