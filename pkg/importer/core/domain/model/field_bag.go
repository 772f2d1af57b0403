package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldBag is an ordered key→value bag. It carries raw source rows and projected target fields.
// Key order is the insertion order and is preserved through JSON encoding.
// The zero value is an empty bag ready to use.
type FieldBag struct {
	keys   []string
	values map[string]interface{}
}

// NewFieldBag builds a bag from alternating key/value arguments.
// It panics if a key is not a string or a value is missing.
func NewFieldBag(kv ...interface{}) FieldBag {
	if len(kv)%2 != 0 {
		panic("model.NewFieldBag: odd number of arguments")
	}
	var b FieldBag
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("model.NewFieldBag: key at position %d is %T, not string", i, kv[i]))
		}
		b.Set(key, kv[i+1])
	}
	return b
}

// FieldBagFromMap builds a bag from m with keys in the given order. Keys absent from order are dropped.
func FieldBagFromMap(order []string, m map[string]interface{}) FieldBag {
	var b FieldBag
	for _, k := range order {
		if v, ok := m[k]; ok {
			b.Set(k, v)
		}
	}
	return b
}

// Set stores value under key. A new key is appended; an existing key keeps its position.
func (b *FieldBag) Set(key string, value interface{}) {
	if b.values == nil {
		b.values = make(map[string]interface{})
	}
	if _, exists := b.values[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
}

// Get returns the value stored under key.
func (b FieldBag) Get(key string) (interface{}, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Has reports whether key is present.
func (b FieldBag) Has(key string) bool {
	_, ok := b.values[key]
	return ok
}

// Delete removes key.
func (b *FieldBag) Delete(key string) {
	if _, ok := b.values[key]; !ok {
		return
	}
	delete(b.values, key)
	for i, k := range b.keys {
		if k == key {
			b.keys = append(b.keys[:i:i], b.keys[i+1:]...)
			break
		}
	}
}

// Keys returns a copy of the keys in order.
func (b FieldBag) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// Len returns the number of keys.
func (b FieldBag) Len() int {
	return len(b.keys)
}

// Clone returns a shallow copy with independent key order and map.
func (b FieldBag) Clone() FieldBag {
	var c FieldBag
	for _, k := range b.keys {
		c.Set(k, b.values[k])
	}
	return c
}

// ToMap returns the bag as an unordered map.
func (b FieldBag) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(b.keys))
	for _, k := range b.keys {
		m[k] = b.values[k]
	}
	return m
}

// MarshalJSON encodes the bag as a JSON object with keys in insertion order.
func (b FieldBag) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range b.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(b.values[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping key order. Nested values decode as plain Go values.
func (b *FieldBag) UnmarshalJSON(data []byte) error {
	*b = FieldBag{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	return decodeOrderedObject(data, func(key string, dec *json.Decoder) error {
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return err
		}
		b.Set(key, v)
		return nil
	})
}

// decodeOrderedObject walks the top-level members of a JSON object in document order.
func decodeOrderedObject(data []byte, member func(key string, dec *json.Decoder) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if err := member(key, dec); err != nil {
			return fmt.Errorf("member %q: %w", key, err)
		}
	}
	_, err = dec.Token()
	return err
}
