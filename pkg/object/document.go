// Package object defines the record model of the sectioned results engine: unstructured
// JSON-like documents that are handed out by base collections as immutable snapshots.
package object

import (
	"fmt"
	"math"

	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/util/json"
)

// Document represents an unstructured record as map[string]any. Can contain embedded maps,
// slices, and primitives (int64, float64, string, bool, nil).
type Document = map[string]any

// New creates a document from key-value pairs. Values are normalized.
func New(pairs ...any) (Document, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("document requires an even number of arguments (key-value pairs), got %d",
			len(pairs))
	}

	doc := make(Document, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		k, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("key at position %d must be a string", i)
		}
		doc[k] = Normalize(pairs[i+1])
	}

	return doc, nil
}

// MustNew is like New but panics on error.
func MustNew(pairs ...any) Document {
	doc, err := New(pairs...)
	if err != nil {
		panic(err)
	}
	return doc
}

// Normalize converts Go native numeric and container types into the canonical document value
// types.
func Normalize(val any) any {
	switch v := val.(type) {
	case map[string]any:
		ret := make(map[string]any, len(v))
		for k, sub := range v {
			ret[k] = Normalize(sub)
		}
		return ret
	case []any:
		ret := make([]any, len(v))
		for i, sub := range v {
			ret[i] = Normalize(sub)
		}
		return ret
	case []string:
		ret := make([]any, len(v))
		for i, sub := range v {
			ret[i] = sub
		}
		return ret
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return normalizeUint(uint64(v))
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return normalizeUint(v)
	case float32:
		return float64(v)
	default:
		return v
	}
}

// normalizeUint keeps unsigned values above the int64 range as floats.
func normalizeUint(v uint64) any {
	if v > math.MaxInt64 {
		return float64(v)
	}
	return int64(v)
}

// DeepCopy creates a deep copy of a document with all values normalized.
func DeepCopy(doc Document) Document {
	if doc == nil {
		return nil
	}
	return deepCopy(doc).(Document)
}

func deepCopy(val any) any {
	switch v := val.(type) {
	case map[string]any:
		ret := make(map[string]any, len(v))
		for k, sub := range v {
			ret[k] = deepCopy(sub)
		}
		return ret
	case []any:
		ret := make([]any, len(v))
		for i, sub := range v {
			ret[i] = deepCopy(sub)
		}
		return ret
	default:
		// primitives are immutable
		return Normalize(v)
	}
}

// DeepEqual checks if two documents are semantically equal.
func DeepEqual(a, b Document) bool {
	return equality.Semantic.DeepEqual(a, b)
}

// ValueEqual checks if two arbitrary document values are semantically equal.
func ValueEqual(a, b any) bool {
	return equality.Semantic.DeepEqual(Normalize(a), Normalize(b))
}

// Dump returns a deterministic JSON representation of a document for logging.
func Dump(doc Document) string {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Sprintf("%#v", doc)
	}
	return string(b)
}
