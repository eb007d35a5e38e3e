package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the application-defined content of an Event: an ordered mapping
// of string keys to scalar or nested values. The sync layer never interprets
// it. Marshalling writes keys in the order they were first set, and
// unmarshalling records the order in which keys appear on the wire, so the
// payload serializes identically on both sides of a transfer.
type Payload struct {
	keys   []string
	values map[string]interface{}
}

// NewPayload creates an empty Payload.
func NewPayload() *Payload {
	return &Payload{
		keys:   []string{},
		values: map[string]interface{}{},
	}
}

// Set adds or updates a key. A new key is appended to the key order; an
// existing key keeps its original position. It returns the Payload to allow
// chaining.
func (p *Payload) Set(key string, value interface{}) *Payload {
	if p.values == nil {
		p.values = map[string]interface{}{}
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Get returns the value stored under key.
func (p *Payload) Get(key string) (interface{}, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Len returns the number of keys.
func (p *Payload) Len() int {
	return len(p.keys)
}

// Keys returns the keys in insertion order.
func (p *Payload) Keys() []string {
	res := make([]string, len(p.keys))
	copy(res, p.keys)
	return res
}

// Map returns a plain unordered copy of the payload.
func (p *Payload) Map() map[string]interface{} {
	res := make(map[string]interface{}, len(p.values))
	for k, v := range p.values {
		res[k] = v
	}
	return res
}

// Copy returns a new Payload with the same keys, order, and values.
func (p *Payload) Copy() *Payload {
	res := NewPayload()
	for _, k := range p.keys {
		res.Set(k, p.values[k])
	}
	return res
}

// MarshalJSON implements json.Marshaler. Keys are written in insertion order;
// nested values go through the standard library encoder, which orders nested
// map keys alphabetically, so the output is deterministic for a given
// Payload.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer

	b.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte(',')
		}

		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')

		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		b.Write(vb)
	}
	b.WriteByte('}')

	return b.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, recording keys in the order they
// appear in the input.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("payload is not a JSON object")
	}

	p.keys = []string{}
	p.values = map[string]interface{}{}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}

		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("payload key is not a string")
		}

		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return err
		}

		p.Set(key, value)
	}

	// consume the closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}

	return nil
}
