package selection

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ArgumentSignature returns a stable hash of an argument set. Arguments that
// are equal after canonical ordering and numeric normalization produce the
// same signature regardless of map iteration order or source (JSON decoding
// yields float64 where document literals yield int64).
func ArgumentSignature(args map[string]any) string {
	h := xxhash.New()
	writeCanonical(h, args)
	return strconv.FormatUint(h.Sum64(), 16)
}

func writeCanonical(h *xxhash.Digest, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = h.WriteString("{")
		for _, k := range keys {
			_, _ = h.WriteString(k)
			_, _ = h.WriteString(":")
			writeCanonical(h, t[k])
			_, _ = h.WriteString(";")
		}
		_, _ = h.WriteString("}")
	case []any:
		_, _ = h.WriteString("[")
		for _, e := range t {
			writeCanonical(h, e)
			_, _ = h.WriteString(";")
		}
		_, _ = h.WriteString("]")
	case string:
		_, _ = h.WriteString("s:")
		_, _ = h.WriteString(t)
	case bool:
		_, _ = h.WriteString("b:")
		_, _ = h.WriteString(strconv.FormatBool(t))
	case nil:
		_, _ = h.WriteString("null")
	default:
		if f, ok := asFloat(t); ok {
			_, _ = h.WriteString("n:")
			_, _ = h.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
			return
		}
		_, _ = h.WriteString(fmt.Sprintf("v:%v", t))
	}
}

// valueEqual compares two scalar-ish values with numeric normalization.
func valueEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
