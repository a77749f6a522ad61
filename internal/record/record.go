// Package record holds the opaque CFO records the scripts pass around and the
// canonical JSON form used both for backup files and for equality checks.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

// Record is one CFO row exactly as the platform returns it.
type Record map[string]any

// Str renders a field the way it is shown in listings. Missing and null
// values render as "".
func (r Record) Str(key string) string {
	return Text(r[key])
}

// Or is Str with a fallback for missing or null fields.
func (r Record) Or(key, def string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return def
	}
	return Text(v)
}

// Has reports whether key is present with a non-empty value.
func (r Record) Has(key string) bool {
	return Truthy(r[key])
}

// Bool is the truthiness of a field (true, 1, "1", "true", non-empty lists).
func (r Record) Bool(key string) bool {
	return Truthy(r[key])
}

// Float parses numeric fields; strings holding numbers are accepted.
func (r Record) Float(key string) float64 {
	switch v := r[key].(type) {
	case json.Number:
		f, _ := v.Float64()
		return f
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

// Strings returns list fields as strings. A scalar becomes a one-item list.
func (r Record) Strings(key string) []string {
	switch v := r[key].(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			out = append(out, Text(it))
		}
		return out
	case []string:
		return v
	default:
		return []string{Text(v)}
	}
}

// Clone returns a deep copy, safe to mutate before sending it upstream.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

// Without returns a copy without the given fields.
func (r Record) Without(keys ...string) Record {
	c := r.Clone()
	for _, k := range keys {
		delete(c, k)
	}
	return c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Record:
		return map[string]any(t.Clone())
	case []any:
		l := make([]any, len(t))
		for i, vv := range t {
			l[i] = cloneValue(vv)
		}
		return l
	default:
		return v
	}
}

// Text renders any JSON value as display text.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "1"
		}
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case []any, map[string]any, Record:
		b, err := Compact(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// Truthy follows the platform's loose boolean rules.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "0"
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case Record:
		return len(t) > 0
	}
	return true
}

// LooseEqual compares two scalar values by their text form, so 12 and "12"
// are the same KeyId.
func LooseEqual(a, b any) bool {
	return Text(a) == Text(b)
}

// Pretty encodes v the way backup files are written: 4-space indent, sorted
// keys, slashes/unicode/HTML characters left unescaped, no trailing newline.
func Pretty(v any) ([]byte, error) {
	return encode(v, "    ")
}

// Compact is the single-line canonical form used for comparisons.
func Compact(v any) ([]byte, error) {
	return encode(v, "")
}

func encode(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Equal reports whether a and b have the same canonical encoding.
func Equal(a, b any) bool {
	ab, err := Compact(a)
	if err != nil {
		return false
	}
	bb, err := Compact(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Decode parses JSON leniently (comments and trailing commas allowed) and
// keeps numbers as json.Number.
func Decode(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(b)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

// DecodeObject is Decode for documents that must be a JSON object.
func DecodeObject(b []byte) (Record, error) {
	v, err := Decode(b)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object")
	}
	return Record(m), nil
}

// From converts a decoded JSON value into a Record (nil if it is not an object).
func From(v any) Record {
	switch t := v.(type) {
	case map[string]any:
		return Record(t)
	case Record:
		return t
	}
	return nil
}

// List converts a decoded JSON array into records, skipping non-objects.
// The result is never nil so it encodes as [].
func List(v any) []Record {
	out := []Record{}
	switch t := v.(type) {
	case []any:
		for _, it := range t {
			if r := From(it); r != nil {
				out = append(out, r)
			}
		}
	case []Record:
		out = append(out, t...)
	case []map[string]any:
		for _, it := range t {
			out = append(out, Record(it))
		}
	}
	return out
}

// SortBy orders records by the text of field (byte order, stable).
func SortBy(recs []Record, field string) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Str(field) < recs[j].Str(field)
	})
}

// GroupBy buckets records by the text of field, preserving input order.
func GroupBy(recs []Record, field string) map[string][]Record {
	out := map[string][]Record{}
	for _, r := range recs {
		k := r.Str(field)
		out[k] = append(out[k], r)
	}
	return out
}
