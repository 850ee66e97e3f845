// Package record implements an ordered JSON object used for vocabulary records.
//
// Records keep field insertion order across decode/encode and store every value in a
// normalized compact form. Strings are escaped only where JSON requires it, so a
// checkpoint written by this package stays human-readable and re-encodes to the same bytes
// after being read back.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNotObject is returned when a JSON document is valid but is not an object.
var ErrNotObject = errors.New("json value is not an object")

// Field is one key/value pair of a Record. Value is compact, normalized JSON.
type Field struct {
	Key   string
	Value json.RawMessage
}

// Record is an ordered set of fields. The zero value is an empty record.
type Record struct {
	fields []Field
}

// New builds a record from fields, normalizing values. Later duplicates replace earlier
// values in place.
func New(fields ...Field) (Record, error) {
	var r Record
	for _, f := range fields {
		if !gjson.ValidBytes(f.Value) {
			return Record{}, fmt.Errorf("field %q: invalid json value", f.Key)
		}
		r.set(f.Key, normalize(gjson.ParseBytes(f.Value)))
	}
	return r, nil
}

// FromStrings builds a record whose values are JSON strings, in keys order.
func FromStrings(keys, values []string) Record {
	var r Record
	for i, k := range keys {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		r.set(k, encodeString(v))
	}
	return r
}

// Parse decodes a JSON object into a Record.
func Parse(b []byte) (Record, error) {
	if !gjson.ValidBytes(b) {
		return Record{}, errors.New("invalid json")
	}
	res := gjson.ParseBytes(b)
	if !res.IsObject() {
		return Record{}, ErrNotObject
	}
	return fromResult(res), nil
}

// ParseArray decodes a JSON array whose elements are all objects.
func ParseArray(b []byte) ([]Record, error) {
	if !gjson.ValidBytes(b) {
		return nil, errors.New("invalid json")
	}
	res := gjson.ParseBytes(b)
	if !res.IsArray() {
		return nil, errors.New("json value is not an array")
	}
	out := make([]Record, 0)
	var elemErr error
	res.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			elemErr = fmt.Errorf("element %d: %w", len(out), ErrNotObject)
			return false
		}
		out = append(out, fromResult(v))
		return true
	})
	if elemErr != nil {
		return nil, elemErr
	}
	return out, nil
}

func fromResult(res gjson.Result) Record {
	var r Record
	res.ForEach(func(k, v gjson.Result) bool {
		r.set(k.String(), normalize(v))
		return true
	})
	return r
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Keys returns field names in order.
func (r Record) Keys() []string {
	out := make([]string, len(r.fields))
	for i, f := range r.fields {
		out[i] = f.Key
	}
	return out
}

// Fields returns a copy of the fields in order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Get returns the raw JSON value of key.
func (r Record) Get(key string) (json.RawMessage, bool) {
	if i := r.indexOf(key); i >= 0 {
		return r.fields[i].Value, true
	}
	return nil, false
}

// Has reports whether key is present.
func (r Record) Has(key string) bool { return r.indexOf(key) >= 0 }

// String returns the value of key as a string. Non-string values are returned as their
// JSON text; a missing key yields "".
func (r Record) String(key string) string {
	v, ok := r.Get(key)
	if !ok {
		return ""
	}
	return gjson.ParseBytes(v).String()
}

// With returns a copy of r with key set to the JSON value raw.
func (r Record) With(key string, raw json.RawMessage) (Record, error) {
	if !gjson.ValidBytes(raw) {
		return Record{}, fmt.Errorf("field %q: invalid json value", key)
	}
	out := r.Clone()
	out.set(key, normalize(gjson.ParseBytes(raw)))
	return out, nil
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := Record{fields: make([]Field, len(r.fields))}
	for i, f := range r.fields {
		out.fields[i] = Field{Key: f.Key, Value: append(json.RawMessage(nil), f.Value...)}
	}
	return out
}

// Equal reports whether both records hold the same fields in the same order.
func (r Record) Equal(o Record) bool {
	if len(r.fields) != len(o.fields) {
		return false
	}
	for i := range r.fields {
		if r.fields[i].Key != o.fields[i].Key || !bytes.Equal(r.fields[i].Value, o.fields[i].Value) {
			return false
		}
	}
	return true
}

// Merge returns base extended with every field of extra that base does not have.
// Fields of base keep their position and value.
func Merge(base, extra Record) Record {
	out := base.Clone()
	for _, f := range extra.fields {
		if out.indexOf(f.Key) >= 0 {
			continue
		}
		out.fields = append(out.fields, Field{Key: f.Key, Value: append(json.RawMessage(nil), f.Value...)})
	}
	return out
}

// MarshalJSON encodes the record as a compact JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(encodeString(f.Key))
		buf.WriteByte(':')
		buf.Write(f.Value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving field order.
func (r *Record) UnmarshalJSON(b []byte) error {
	parsed, err := Parse(b)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalIndent encodes records as an indented JSON array.
func MarshalIndent(recs []Record, indent string) ([]byte, error) {
	var compact bytes.Buffer
	compact.WriteByte('[')
	for i, r := range recs {
		if i > 0 {
			compact.WriteByte(',')
		}
		b, err := r.MarshalJSON()
		if err != nil {
			return nil, err
		}
		compact.Write(b)
	}
	compact.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", indent); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (r Record) indexOf(key string) int {
	for i, f := range r.fields {
		if f.Key == key {
			return i
		}
	}
	return -1
}

func (r *Record) set(key string, value json.RawMessage) {
	if i := r.indexOf(key); i >= 0 {
		r.fields[i].Value = value
		return
	}
	r.fields = append(r.fields, Field{Key: key, Value: value})
}

// normalize rewrites a value compactly with strings re-encoded unescaped.
func normalize(v gjson.Result) json.RawMessage {
	switch {
	case v.Type == gjson.String:
		return encodeString(v.String())
	case v.IsObject():
		var buf bytes.Buffer
		buf.WriteByte('{')
		first := true
		v.ForEach(func(k, val gjson.Result) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			buf.Write(encodeString(k.String()))
			buf.WriteByte(':')
			buf.Write(normalize(val))
			return true
		})
		buf.WriteByte('}')
		return buf.Bytes()
	case v.IsArray():
		var buf bytes.Buffer
		buf.WriteByte('[')
		first := true
		v.ForEach(func(_, val gjson.Result) bool {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			buf.Write(normalize(val))
			return true
		})
		buf.WriteByte(']')
		return buf.Bytes()
	default:
		return json.RawMessage(strings.TrimSpace(v.Raw))
	}
}

const hexDigits = "0123456789abcdef"

// encodeString quotes s escaping only what JSON requires: the quote, the backslash and
// control characters. Every other byte is written as is, including U+2028, U+2029 and
// bytes that are not valid UTF-8.
func encodeString(s string) json.RawMessage {
	buf := make([]byte, 0, len(s)+2)
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			buf = append(buf, '\\', c)
		case c == '\n':
			buf = append(buf, '\\', 'n')
		case c == '\r':
			buf = append(buf, '\\', 'r')
		case c == '\t':
			buf = append(buf, '\\', 't')
		case c < 0x20:
			buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		default:
			buf = append(buf, c)
		}
	}
	return append(buf, '"')
}
