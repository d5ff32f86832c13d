// Package document holds a JSON object whose keys keep their insertion order
// across a load, mutate and save cycle.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tailscale/hujson"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrInvalidJSON is returned when text is not a single valid JSON value.
	ErrInvalidJSON = errors.New("invalid JSON")
	// ErrNotObject is returned when valid JSON text has a non-object top-level value.
	ErrNotObject = errors.New("top-level JSON value is not an object")
)

// Document is an ordered mapping from keys to raw JSON values.
// Values are kept as compact JSON text so nested objects retain their own key
// order. String tokens inside values are stored in their minimal escaped form.
type Document struct {
	fields *orderedmap.OrderedMap[string, json.RawMessage]
}

// New returns an empty document.
func New() *Document {
	return &Document{fields: orderedmap.New[string, json.RawMessage]()}
}

// Parse decodes data as a JSON object. Duplicate keys keep the position of
// their first occurrence and the value of their last.
func Parse(data []byte) (*Document, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: document is not valid UTF-8", ErrInvalidJSON)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidJSON)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if compact.Bytes()[0] != '{' {
		return nil, fmt.Errorf("%w: found %s", ErrNotObject, kindOf(compact.Bytes()))
	}

	doc := New()
	if err := doc.fields.UnmarshalJSON(compact.Bytes()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	for pair := doc.fields.Oldest(); pair != nil; pair = pair.Next() {
		value, err := unescapeStrings(pair.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrInvalidJSON, pair.Key, err)
		}
		pair.Value = value
	}
	return doc, nil
}

// ParseLenient is Parse for JSONC input: comments and trailing commas are
// stripped before decoding.
func ParseLenient(data []byte) (*Document, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return Parse(std)
}

// ValidateValue checks that literal is exactly one JSON value and returns it compacted.
func ValidateValue(literal string) (json.RawMessage, error) {
	if !utf8.ValidString(literal) {
		return nil, fmt.Errorf("%w: value is not valid UTF-8", ErrInvalidJSON)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(literal)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if compact.Len() == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidJSON)
	}
	value, err := unescapeStrings(compact.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return value, nil
}

// Set assigns value to key. An existing key keeps its position; a new key is
// appended. It reports whether the key was already present.
func (d *Document) Set(key string, value json.RawMessage) bool {
	_, present := d.fields.Set(key, value)
	return present
}

// Get returns the raw value stored under key.
func (d *Document) Get(key string) (json.RawMessage, bool) {
	return d.fields.Get(key)
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.fields.Get(key)
	return ok
}

// Len returns the number of keys.
func (d *Document) Len() int {
	return d.fields.Len()
}

// Keys returns the keys in insertion order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, d.fields.Len())
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Marshal renders the document with 2-space indentation and a trailing newline.
// Non-ASCII and HTML-significant characters are written as-is.
func (d *Document) Marshal() ([]byte, error) {
	var flat bytes.Buffer
	flat.WriteByte('{')
	first := true
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		if !first {
			flat.WriteByte(',')
		}
		first = false

		flat.Write(appendQuoted(nil, pair.Key))
		flat.WriteByte(':')
		flat.Write(pair.Value)
	}
	flat.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, flat.Bytes(), "", "  "); err != nil {
		return nil, fmt.Errorf("failed to indent document: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// unescapeStrings rewrites every string token of compact, valid JSON so that
// only quotes, backslashes and control characters stay escaped.
func unescapeStrings(compact []byte) (json.RawMessage, error) {
	if bytes.IndexByte(compact, '"') < 0 {
		return json.RawMessage(compact), nil
	}

	out := make([]byte, 0, len(compact))
	for i := 0; i < len(compact); {
		if compact[i] != '"' {
			out = append(out, compact[i])
			i++
			continue
		}
		end := i + 1
		for compact[end] != '"' {
			if compact[end] == '\\' {
				end++
			}
			end++
		}
		var s string
		if err := json.Unmarshal(compact[i:end+1], &s); err != nil {
			return nil, err
		}
		out = appendQuoted(out, s)
		i = end + 1
	}
	return json.RawMessage(out), nil
}

// appendQuoted appends s as a JSON string, escaping only what JSON requires.
func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for _, r := range s {
		switch r {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		default:
			if r < 0x20 {
				dst = fmt.Appendf(dst, `\u%04x`, r)
			} else {
				dst = utf8.AppendRune(dst, r)
			}
		}
	}
	return append(dst, '"')
}

// kindOf names the JSON type of compact, valid JSON text.
func kindOf(compact []byte) string {
	switch compact[0] {
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
