// Package value holds the structured payload carried by custom messages,
// data-channel messages and user info. A Value is exactly one of string,
// ordered map, list or binary; the zero Value means "no payload".
package value

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindNone Kind = iota
	KindString
	KindMap
	KindList
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	case KindBinary:
		return "binary"
	default:
		return "none"
	}
}

// Entry is one key of an ordered map.
type Entry struct {
	Key   string
	Value Value
}

type Value struct {
	kind    Kind
	str     string
	bin     []byte
	items   []Value
	entries []Entry
}

func String(s string) Value {
	return Value{kind: KindString, str: s}
}

func Binary(b []byte) Value {
	return Value{kind: KindBinary, bin: bytes.Clone(b)}
}

func List(items ...Value) Value {
	return Value{kind: KindList, items: append([]Value{}, items...)}
}

// Map builds an ordered map. A repeated key keeps its first position and
// takes the last value.
func Map(entries ...Entry) Value {
	v := Value{kind: KindMap, entries: make([]Entry, 0, len(entries))}
	for _, e := range entries {
		v = v.With(e.Key, e.Value)
	}
	return v
}

// With returns a copy of map v with key set. Calling it on a non-map
// starts a new map.
func (v Value) With(key string, val Value) Value {
	out := Value{kind: KindMap, entries: make([]Entry, 0, len(v.entries)+1)}
	if v.kind == KindMap {
		out.entries = append(out.entries, v.entries...)
	}
	for i := range out.entries {
		if out.entries[i].Key == key {
			out.entries[i].Value = val
			return out
		}
	}
	out.entries = append(out.entries, Entry{Key: key, Value: val})
	return out
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsZero() bool { return v.kind == KindNone }

func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) Bytes() ([]byte, bool) {
	return v.bin, v.kind == KindBinary
}

func (v Value) Items() []Value {
	return v.items
}

func (v Value) Entries() []Entry {
	return v.entries
}

// Get looks a key up in a map value.
func (v Value) Get(key string) (Value, bool) {
	for _, e := range v.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Len is the string/binary length, or the element count of a list or map.
func (v Value) Len() int {
	switch v.kind {
	case KindString:
		return len(v.str)
	case KindBinary:
		return len(v.bin)
	case KindList:
		return len(v.items)
	case KindMap:
		return len(v.entries)
	}
	return 0
}

func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindString:
		return a.str == b.str
	case KindBinary:
		return bytes.Equal(a.bin, b.bin)
	case KindList:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
	case KindMap:
		if len(a.entries) != len(b.entries) {
			return false
		}
		for i := range a.entries {
			if a.entries[i].Key != b.entries[i].Key || !Equal(a.entries[i].Value, b.entries[i].Value) {
				return false
			}
		}
	}
	return true
}

// String renders v in a JSON-like form for logs and the CLI.
func (v Value) String() string {
	var b strings.Builder
	v.render(&b)
	return b.String()
}

func (v Value) render(b *strings.Builder) {
	switch v.kind {
	case KindNone:
		b.WriteString("null")
	case KindString:
		b.WriteString(strconv.Quote(v.str))
	case KindBinary:
		b.WriteString("b64:")
		b.WriteString(base64.StdEncoding.EncodeToString(v.bin))
	case KindList:
		b.WriteByte('[')
		for i, it := range v.items {
			if i > 0 {
				b.WriteByte(',')
			}
			it.render(b)
		}
		b.WriteByte(']')
	case KindMap:
		b.WriteByte('{')
		for i, e := range v.entries {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(e.Key))
			b.WriteByte(':')
			e.Value.render(b)
		}
		b.WriteByte('}')
	}
}

// From converts plain Go data into a Value. Go maps have no order, so
// their keys are sorted. Scalars other than strings are formatted as strings.
func From(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case []byte:
		return Binary(t), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = String(s)
		}
		return List(items...), nil
	case []any:
		items := make([]Value, len(t))
		for i, it := range t {
			v, err := From(it)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]Entry, 0, len(keys))
		for _, k := range keys {
			v, err := From(t[k])
			if err != nil {
				return Value{}, err
			}
			entries = append(entries, Entry{Key: k, Value: v})
		}
		return Map(entries...), nil
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]Entry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, Entry{Key: k, Value: String(t[k])})
		}
		return Map(entries...), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return String(fmt.Sprint(t)), nil
	default:
		return Value{}, fmt.Errorf("value: unsupported type %T", x)
	}
}
