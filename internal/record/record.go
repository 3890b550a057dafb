// Package record defines the Record and Result Set produced by extraction.
//
// A Record keeps its fields in insertion order and marshals to a JSON object
// in that order, so JSON and CSV output follow the task's field list.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Value is a field value: either a single string or a list of strings.
type Value struct {
	Text  string
	Items []string
	Multi bool
}

// String makes a single-valued Value.
func String(s string) Value { return Value{Text: s} }

// List makes a multi-valued Value. A nil list marshals as [].
func List(items []string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{Items: items, Multi: true}
}

// Join flattens the value to one string, joining lists with sep.
func (v Value) Join(sep string) string {
	if v.Multi {
		return strings.Join(v.Items, sep)
	}
	return v.Text
}

// Empty reports whether the value carries no text.
func (v Value) Empty() bool {
	if v.Multi {
		return len(v.Items) == 0
	}
	return v.Text == ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Multi {
		return encode(v.Items)
	}
	return encode(v.Text)
}

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered set of fields.
type Record struct {
	fields []Field
}

// New builds a Record from fields in order.
func New(fields ...Field) Record {
	r := Record{}
	for _, f := range fields {
		r.Set(f.Name, f.Value)
	}
	return r
}

// Set replaces the value of name, or appends it when absent.
func (r *Record) Set(name string, v Value) {
	for i := range r.fields {
		if r.fields[i].Name == name {
			r.fields[i].Value = v
			return
		}
	}
	r.fields = append(r.fields, Field{Name: name, Value: v})
}

// Get returns the value of name.
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Text returns name joined with ", ", or "" when absent.
func (r Record) Text(name string) string {
	v, _ := r.Get(name)
	return v.Join(", ")
}

// Keys returns the field names in order.
func (r Record) Keys() []string {
	out := make([]string, len(r.fields))
	for i, f := range r.fields {
		out[i] = f.Name
	}
	return out
}

// Fields returns a copy of the fields in order.
func (r Record) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

// Len is the number of fields.
func (r Record) Len() int { return len(r.fields) }

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := encode(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	r.fields = nil
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: expected key, got %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return fmt.Errorf("record: field %q: %w", name, err)
		}
		r.Set(name, v)
	}
	return expectDelim(dec, '}')
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case string:
		return String(t), nil
	case nil:
		return String(""), nil
	case json.Delim:
		if t != '[' {
			return Value{}, fmt.Errorf("unexpected %v", t)
		}
		items := []string{}
		for dec.More() {
			var s string
			if err := dec.Decode(&s); err != nil {
				return Value{}, err
			}
			items = append(items, s)
		}
		if err := expectDelim(dec, ']'); err != nil {
			return Value{}, err
		}
		return List(items), nil
	default:
		return Value{}, fmt.Errorf("unsupported value %v", t)
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("record: expected %q, got %v", want, tok)
	}
	return nil
}

// encode marshals v without escaping <, > and &.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
