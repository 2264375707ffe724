// Package key implements section keys and the extractors that derive them from documents.
//
// A section key is a boxed scalar: null, bool, int, float or string. Keys have a total order
// that is used by the comparator-based section order policies. Keys of different kinds are
// ordered by a fixed kind rank, null < bool < number < string, while ints and floats compare
// numerically with each other.
package key

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
)

// Kind is the type tag of a section key.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// rank collapses the numeric kinds so that ints and floats interleave.
func (k Kind) rank() int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return 2
	default:
		return 3
	}
}

// Key is a section key. The zero value is the null key. Keys are comparable with == only when
// they have the same kind; use Equal to compare across numeric kinds.
type Key struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

// Null returns the null key.
func Null() Key { return Key{} }

// Bool returns a bool key.
func Bool(v bool) Key { return Key{kind: KindBool, b: v} }

// Int returns an int key.
func Int(v int64) Key { return Key{kind: KindInt, i: v} }

// Float returns a float key. NaN is a valid key and sorts before all other numbers.
func Float(v float64) Key { return Key{kind: KindFloat, f: v} }

// String returns a string key.
func String(v string) Key { return Key{kind: KindString, s: v} }

func (k Key) Kind() Kind   { return k.kind }
func (k Key) IsNull() bool { return k.kind == KindNull }

// Value unboxes the key into a native Go value.
func (k Key) Value() any {
	switch k.kind {
	case KindBool:
		return k.b
	case KindInt:
		return k.i
	case KindFloat:
		return k.f
	case KindString:
		return k.s
	default:
		return nil
	}
}

// Compare returns -1, 0 or 1 depending on whether k sorts before, equal to or after other.
func (k Key) Compare(other Key) int {
	if r := cmp.Compare(k.kind.rank(), other.kind.rank()); r != 0 {
		return r
	}

	switch k.kind {
	case KindNull:
		return 0
	case KindBool:
		switch {
		case k.b == other.b:
			return 0
		case !k.b:
			return -1
		default:
			return 1
		}
	case KindInt:
		if other.kind == KindInt {
			return cmp.Compare(k.i, other.i)
		}
		return compareIntFloat(k.i, other.f)
	case KindFloat:
		if other.kind == KindInt {
			return -compareIntFloat(other.i, k.f)
		}
		return cmp.Compare(k.f, other.f)
	default:
		return cmp.Compare(k.s, other.s)
	}
}

func compareIntFloat(i int64, f float64) int {
	if math.IsNaN(f) {
		return 1
	}
	if r := cmp.Compare(float64(i), f); r != 0 {
		return r
	}
	// float64(i) may round: settle ties on the integer part
	if f >= math.MaxInt64 {
		return -1
	}
	if f < math.MinInt64 {
		return 1
	}
	return cmp.Compare(i, int64(f))
}

// Equal reports whether two keys denote the same section.
func (k Key) Equal(other Key) bool { return k.Compare(other) == 0 }

// Hash returns a map key that is equal for keys that are Equal.
func (k Key) Hash() string {
	switch k.kind {
	case KindNull:
		return "n"
	case KindBool:
		return "b" + strconv.FormatBool(k.b)
	case KindInt:
		return "d" + strconv.FormatInt(k.i, 10)
	case KindFloat:
		if k.f == math.Trunc(k.f) && k.f >= math.MinInt64 && k.f < math.MaxInt64 {
			return "d" + strconv.FormatInt(int64(k.f), 10)
		}
		return "f" + strconv.FormatFloat(k.f, 'g', -1, 64)
	default:
		return "s" + k.s
	}
}

// String returns a human readable representation of the key.
func (k Key) String() string {
	switch k.kind {
	case KindNull:
		return "<null>"
	case KindBool:
		return strconv.FormatBool(k.b)
	case KindInt:
		return strconv.FormatInt(k.i, 10)
	case KindFloat:
		return strconv.FormatFloat(k.f, 'g', -1, 64)
	default:
		return k.s
	}
}

// MarshalJSON encodes the key as its native JSON value.
func (k Key) MarshalJSON() ([]byte, error) {
	switch k.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return []byte(strconv.FormatBool(k.b)), nil
	case KindInt:
		return []byte(strconv.FormatInt(k.i, 10)), nil
	case KindFloat:
		if math.IsNaN(k.f) || math.IsInf(k.f, 0) {
			return []byte(strconv.Quote(k.String())), nil
		}
		return []byte(strconv.FormatFloat(k.f, 'g', -1, 64)), nil
	default:
		return []byte(strconv.Quote(k.s)), nil
	}
}
