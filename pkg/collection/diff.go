package collection

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// maxSequence is the number of distinct keys that can be encoded as valid runes.
const maxSequence = utf8.MaxRune - 0x800

// encodeRune maps a key ordinal to a valid rune, skipping the surrogate range.
func encodeRune(i int) rune {
	r := rune(i)
	if r >= 0xD800 {
		r += 0x800
	}
	return r
}

// diffOrder computes the raw change that takes the old key order to the new one. Keys must be
// unique within each order. Records kept in place are reported as modified if modified returns
// true for their key; records that changed their relative position are reported as a deletion
// and an insertion.
func diffOrder(oldKeys, newKeys []string, modified func(k string) bool) RawChange {
	ordinals := make(map[string]int, len(oldKeys)+len(newKeys))
	encode := func(keys []string) []rune {
		ret := make([]rune, len(keys))
		for i, k := range keys {
			o, ok := ordinals[k]
			if !ok {
				o = len(ordinals)
				ordinals[k] = o
			}
			ret[i] = encodeRune(o)
		}
		return ret
	}
	a, b := encode(oldKeys), encode(newKeys)

	change := RawChange{}

	if len(ordinals) > maxSequence {
		// cannot encode: replace everything
		for i := range oldKeys {
			change.Deletions = append(change.Deletions, i)
		}
		for i := range newKeys {
			change.Insertions = append(change.Insertions, i)
		}
		return change
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(a, b, false)

	oldPos, newPos := 0, 0
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			for i := 0; i < n; i++ {
				if modified != nil && modified(newKeys[newPos+i]) {
					change.Modifications = append(change.Modifications, newPos+i)
				}
			}
			oldPos += n
			newPos += n
		case diffmatchpatch.DiffDelete:
			for i := 0; i < n; i++ {
				change.Deletions = append(change.Deletions, oldPos+i)
			}
			oldPos += n
		case diffmatchpatch.DiffInsert:
			for i := 0; i < n; i++ {
				change.Insertions = append(change.Insertions, newPos+i)
			}
			newPos += n
		}
	}

	return change
}
