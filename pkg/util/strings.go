package util

import (
	"cmp"
	"fmt"
	"slices"

	"k8s.io/apimachinery/pkg/util/json"
)

// Stringify renders an arbitrary value as JSON for logs and error messages, falling back to the
// Go syntax representation when the value cannot be marshaled.
func Stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

// SortedKeys returns the keys of a map in ascending order.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	ret := make([]K, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	slices.Sort(ret)
	return ret
}
