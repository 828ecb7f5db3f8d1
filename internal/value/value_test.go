package value

import (
	"bytes"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestMapKeepsInsertionOrder(t *testing.T) {
	v := Map(
		Entry{Key: "zeta", Value: String("1")},
		Entry{Key: "alpha", Value: String("2")},
		Entry{Key: "mid", Value: List(String("a"), Binary([]byte{0, 1}))},
	)

	data, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !Equal(v, got) {
		t.Fatalf("decoded %s, want %s", got, v)
	}
	keys := []string{}
	for _, e := range got.Entries() {
		keys = append(keys, e.Key)
	}
	if want := []string{"zeta", "alpha", "mid"}; len(keys) != 3 || keys[0] != want[0] || keys[1] != want[1] || keys[2] != want[2] {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func TestWithReplacesInPlace(t *testing.T) {
	v := Map(Entry{Key: "a", Value: String("1")}, Entry{Key: "b", Value: String("2")})
	v = v.With("a", String("3"))

	if v.Len() != 2 {
		t.Fatalf("Len = %d, want 2", v.Len())
	}
	if v.Entries()[0].Key != "a" {
		t.Errorf("first key = %q, want a", v.Entries()[0].Key)
	}
	if s, _ := v.Entries()[0].Value.Str(); s != "3" {
		t.Errorf("a = %q, want 3", s)
	}
}

func TestBinaryStaysBinary(t *testing.T) {
	payload := bytes.Repeat([]byte{0xff, 0x00}, 100)
	data, err := Marshal(Binary(payload))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	b, ok := got.Bytes()
	if !ok {
		t.Fatalf("kind = %v, want binary", got.Kind())
	}
	if !bytes.Equal(b, payload) {
		t.Errorf("payload changed")
	}
}

func TestForeignScalarsDecodeAsStrings(t *testing.T) {
	data, err := msgpack.Marshal(map[string]any{"n": 42})
	if err != nil {
		t.Fatalf("msgpack.Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	n, ok := got.Get("n")
	if !ok {
		t.Fatalf("missing key n in %s", got)
	}
	if s, _ := n.Str(); s != "42" {
		t.Errorf("n = %q, want \"42\"", s)
	}
}

func TestEmptyInputIsZero(t *testing.T) {
	got, err := Unmarshal(nil)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("got %s, want zero value", got)
	}
}

func TestFromSortsGoMaps(t *testing.T) {
	v, err := From(map[string]any{"b": "2", "a": []any{"x", 1}})
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	if got := v.String(); got != `{"a":["x","1"],"b":"2"}` {
		t.Errorf("String() = %s", got)
	}
}
