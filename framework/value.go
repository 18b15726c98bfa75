package framework

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ValueKind tags the shape of a tool result.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindScalar
	KindList
	KindMap
)

func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is the normalised form of whatever a tool returned. Exactly one of
// Scalar, List or Map is meaningful, selected by Kind.
type Value struct {
	Kind   ValueKind
	Scalar any
	List   []Value
	Map    map[string]Value
}

// Null is the empty value.
func Null() Value { return Value{Kind: KindNull} }

// ScalarValue wraps a string, number or boolean.
func ScalarValue(v any) Value { return Value{Kind: KindScalar, Scalar: v} }

// ListValue wraps already normalised items.
func ListValue(items ...Value) Value { return Value{Kind: KindList, List: items} }

// MapValue wraps already normalised entries.
func MapValue(entries map[string]Value) Value { return Value{Kind: KindMap, Map: entries} }

// NewValue normalises an arbitrary Go value. Slices and arrays become lists,
// maps with string keys become maps, structs are routed through JSON so their
// tags are honoured, everything else is a scalar.
func NewValue(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return ScalarValue(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = NewValue(item)
		}
		return ListValue(items...)
	case map[string]any:
		entries := make(map[string]Value, len(t))
		for k, item := range t {
			entries[k] = NewValue(item)
		}
		return MapValue(entries)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return NewValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return ListValue()
		}
		items := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = NewValue(rv.Index(i).Interface())
		}
		return ListValue(items...)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return ScalarValue(fmt.Sprint(v))
		}
		entries := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			entries[iter.Key().String()] = NewValue(iter.Value().Interface())
		}
		return MapValue(entries)
	case reflect.Struct:
		data, err := json.Marshal(v)
		if err != nil {
			return ScalarValue(fmt.Sprint(v))
		}
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return ScalarValue(string(data))
		}
		return NewValue(decoded)
	case reflect.String:
		return ScalarValue(rv.String())
	case reflect.Bool:
		return ScalarValue(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ScalarValue(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return ScalarValue(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return ScalarValue(rv.Float())
	}
	return ScalarValue(fmt.Sprint(v))
}

// Interface converts the value back into plain Go data ([]any, map[string]any,
// scalars) suitable for JSON encoding or storing in keyed memory.
func (v Value) Interface() any {
	switch v.Kind {
	case KindScalar:
		return v.Scalar
	case KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.Map))
		for k, item := range v.Map {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// IsNull reports whether the value carries nothing.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Field returns a map entry. ok is false for non-maps and missing keys.
func (v Value) Field(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Null(), false
	}
	item, ok := v.Map[key]
	return item, ok
}

// SortedKeys lists map keys in lexical order; empty for non-maps.
func (v Value) SortedKeys() []string {
	if v.Kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.Map))
	for k := range v.Map {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the value compactly. Scalars print bare, lists print as
// [a b c] and maps as map[k:v] with sorted keys, mirroring fmt's layout.
func (v Value) String() string {
	switch v.Kind {
	case KindScalar:
		return fmt.Sprint(v.Scalar)
	case KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	case KindMap:
		keys := v.SortedKeys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + v.Map[k].String()
		}
		return "map[" + strings.Join(parts, " ") + "]"
	default:
		return "<nil>"
	}
}

// MarshalJSON encodes the plain representation.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes any JSON document into a Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*v = NewValue(decoded)
	return nil
}
