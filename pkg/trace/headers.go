package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// HeaderMap is an insertion-ordered string-to-string map. Keys are stored
// case-folded to lowercase before storage; setting a key that already
// exists overwrites the value in place without disturbing its position,
// so a fresh Set always wins over a prior value for the same key.
//
// JSON encoding preserves the original key order; Go's encoding/json
// would otherwise sort a plain map's keys alphabetically, which loses
// the wire order a header list needs to round-trip faithfully.
type HeaderMap struct {
	m *orderedmap.OrderedMap[string, string]
}

// NewHeaderMap returns an empty HeaderMap.
func NewHeaderMap() *HeaderMap {
	return &HeaderMap{m: orderedmap.New[string, string]()}
}

// Set stores value under the lowercased key, rendering non-UTF-8 binary
// values as "<binary>".
func (h *HeaderMap) Set(key, value string) {
	if h.m == nil {
		h.m = orderedmap.New[string, string]()
	}
	if !utf8.ValidString(value) {
		value = "<binary>"
	}
	h.m.Set(strings.ToLower(key), value)
}

// Get returns the value for key (case-insensitive) and whether it was present.
func (h *HeaderMap) Get(key string) (string, bool) {
	if h == nil || h.m == nil {
		return "", false
	}
	return h.m.Get(strings.ToLower(key))
}

// Len returns the number of stored headers.
func (h *HeaderMap) Len() int {
	if h == nil || h.m == nil {
		return 0
	}
	return h.m.Len()
}

// Keys returns the header keys in insertion order.
func (h *HeaderMap) Keys() []string {
	if h == nil || h.m == nil {
		return nil
	}
	keys := make([]string, 0, h.m.Len())
	for pair := h.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Equal reports whether h and other contain the same keys, values, and order.
func (h *HeaderMap) Equal(other *HeaderMap) bool {
	hk, ok := h.Keys(), other.Keys()
	if len(hk) != len(ok) {
		return false
	}
	for i, k := range hk {
		if k != ok[i] {
			return false
		}
		hv, _ := h.Get(k)
		ov, _ := other.Get(k)
		if hv != ov {
			return false
		}
	}
	return true
}

// MarshalJSON writes the headers as a JSON object in insertion order.
func (h *HeaderMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	if h != nil && h.m != nil {
		for pair := h.m.Oldest(); pair != nil; pair = pair.Next() {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			key, err := json.Marshal(pair.Key)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(pair.Value)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the HeaderMap, preserving the
// key order as it appears in the input bytes.
func (h *HeaderMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return &json.UnmarshalTypeError{Value: "non-object", Type: nil}
	}
	h.m = orderedmap.New[string, string]()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var val string
		if err := dec.Decode(&val); err != nil {
			return err
		}
		h.Set(key, val)
	}
	// consume closing '}'
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
