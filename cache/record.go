package cache

import (
	"strconv"
	"strings"
)

// EntityKey identifies a normalized record: "Typename:id". Two objects with
// equal keys merge into the same record regardless of originating query.
type EntityKey string

// Root is the key of the synthetic record holding query-root fields.
const Root EntityKey = "__ROOT__"

// Key builds an EntityKey from a typename and an id.
func Key(typename, id string) EntityKey {
	return EntityKey(typename + ":" + id)
}

// Typename returns the type part of the key.
func (k EntityKey) Typename() string {
	if i := strings.IndexByte(string(k), ':'); i >= 0 {
		return string(k)[:i]
	}
	return string(k)
}

// ID returns the id part of the key, or "" for keys without one.
func (k EntityKey) ID() string {
	if i := strings.IndexByte(string(k), ':'); i >= 0 {
		return string(k)[i+1:]
	}
	return ""
}

// Link marks a slot value as a reference to another record.
type Link struct {
	Key EntityKey
}

// Record maps storage slots to scalar values, Links, inline objects
// (map[string]any keyed by slot) or lists of any of those. Slots are written
// only through the merge path; a merge never removes sibling slots.
type Record map[string]any

// stringifyID renders an id-like scalar as the canonical key segment.
// JSON decoding yields float64 for numeric ids.
func stringifyID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	}
	return ""
}
