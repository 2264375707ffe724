package testutils

import (
	"fmt"
	"math/rand"

	"github.com/l7mp/livesections/pkg/object"
)

var (
	// People is a record set used for testing, sectioned by "city" or by "team".
	People = []object.Document{
		{"id": "1", "name": "Alice", "city": "Budapest", "team": int64(1), "age": int64(31)},
		{"id": "2", "name": "Bob", "city": "Vienna", "team": int64(2), "age": int64(25)},
		{"id": "3", "name": "Carol", "city": "Budapest", "team": int64(2), "age": int64(42)},
		{"id": "4", "name": "Dave", "city": "Prague", "team": int64(1), "age": int64(37)},
		{"id": "5", "name": "Eve", "city": "Vienna", "team": int64(3), "age": int64(29)},
	}

	// Letters is the record set of the first-appearance ordering example.
	Letters = []object.Document{
		{"id": "1", "key": "b"},
		{"id": "2", "key": "a"},
		{"id": "3", "key": "b"},
		{"id": "4", "key": "c"},
		{"id": "5", "key": "a"},
	}
)

// Clone returns a deep copy of a record set.
func Clone(docs []object.Document) []object.Document {
	ret := make([]object.Document, len(docs))
	for i, doc := range docs {
		ret[i] = object.DeepCopy(doc)
	}
	return ret
}

// Doc creates a record with the given id and section key.
func Doc(id int, key any) object.Document {
	return object.MustNew("id", fmt.Sprintf("%d", id), "key", key)
}

// RandomDocs creates n records with ids [base, base+n) and keys drawn from the given key space.
func RandomDocs(rnd *rand.Rand, base, n int, keys []any) []object.Document {
	ret := make([]object.Document, n)
	for i := range ret {
		ret[i] = Doc(base+i, keys[rnd.Intn(len(keys))])
	}
	return ret
}
