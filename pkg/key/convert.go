package key

import (
	"fmt"
	"reflect"

	"github.com/l7mp/livesections/pkg/util"
)

// FromValue boxes a native value into a key. Supported are nil, bools, all integer and float
// kinds, strings and Keys. Lists, maps and other composite values cannot be section keys.
func FromValue(d any) (Key, error) {
	if d == nil {
		return Null(), nil
	}

	if k, ok := d.(Key); ok {
		return k, nil
	}

	v := reflect.ValueOf(d)
	switch v.Kind() { //nolint:exhaustive
	case reflect.Pointer:
		if v.IsNil() {
			return Null(), nil
		}
		return FromValue(v.Elem().Interface())
	case reflect.Bool:
		return Bool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u > 1<<63-1 {
			return Float(float64(u)), nil
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(v.Float()), nil
	case reflect.String:
		return String(v.String()), nil
	}

	return Null(), fmt.Errorf("value of type %T cannot be a section key: %s", d, util.Stringify(d))
}

// MustFromValue is like FromValue but panics on error. Useful in tests.
func MustFromValue(d any) Key {
	k, err := FromValue(d)
	if err != nil {
		panic(err)
	}
	return k
}
