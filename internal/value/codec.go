package value

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Wire rules:
//
//	none   -> nil
//	string -> str
//	binary -> bin
//	list   -> array
//	map    -> map with str keys, written in entry order
//
// Foreign scalars (numbers, bools) decode as their string form.

var (
	_ msgpack.CustomEncoder = Value{}
	_ msgpack.CustomDecoder = (*Value)(nil)
)

func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch v.kind {
	case KindNone:
		return enc.EncodeNil()
	case KindString:
		return enc.EncodeString(v.str)
	case KindBinary:
		return enc.EncodeBytes(v.bin)
	case KindList:
		if err := enc.EncodeArrayLen(len(v.items)); err != nil {
			return err
		}
		for _, it := range v.items {
			if err := it.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		if err := enc.EncodeMapLen(len(v.entries)); err != nil {
			return err
		}
		for _, e := range v.entries {
			if err := enc.EncodeString(e.Key); err != nil {
				return err
			}
			if err := e.Value.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("value: unknown kind %d", v.kind)
}

func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	c, err := dec.PeekCode()
	if err != nil {
		return err
	}

	switch {
	case c == msgpcode.Nil:
		*v = Value{}
		return dec.DecodeNil()

	case msgpcode.IsString(c):
		s, err := dec.DecodeString()
		if err != nil {
			return err
		}
		*v = String(s)
		return nil

	case msgpcode.IsBin(c):
		b, err := dec.DecodeBytes()
		if err != nil {
			return err
		}
		*v = Value{kind: KindBinary, bin: b}
		return nil

	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		items := make([]Value, 0, max(n, 0))
		for i := 0; i < n; i++ {
			var it Value
			if err := it.DecodeMsgpack(dec); err != nil {
				return err
			}
			items = append(items, it)
		}
		*v = Value{kind: KindList, items: items}
		return nil

	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return err
		}
		out := Value{kind: KindMap, entries: make([]Entry, 0, max(n, 0))}
		for i := 0; i < n; i++ {
			key, err := dec.DecodeString()
			if err != nil {
				return fmt.Errorf("value: map key: %w", err)
			}
			var it Value
			if err := it.DecodeMsgpack(dec); err != nil {
				return err
			}
			out = out.With(key, it)
		}
		*v = out
		return nil
	}

	scalar, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return err
	}
	*v = String(fmt.Sprint(scalar))
	return nil
}

// Marshal encodes v with the wire rules above.
func Marshal(v Value) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal decodes data produced by Marshal. Empty input is the zero Value.
func Unmarshal(data []byte) (Value, error) {
	var v Value
	if len(data) == 0 {
		return v, nil
	}
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return Value{}, fmt.Errorf("value: decode: %w", err)
	}
	return v, nil
}
