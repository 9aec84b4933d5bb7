package persistor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Hash computes a stable, order-independent content hash over an
// arbitrary state payload. Map keys are sorted before encoding and
// numbers/bools are encoded through fmt's default verbs, so identical
// state always yields an identical hash regardless of map iteration
// order or the caller's original JSON key order.
func Hash(state any) string {
	h := sha256.New()
	writeCanonical(h, state)
	return hex.EncodeToString(h.Sum(nil))
}

type byteWriter interface {
	Write(p []byte) (n int, err error)
}

func writeCanonical(w byteWriter, v any) {
	switch t := v.(type) {
	case nil:
		_, _ = w.Write([]byte("null"))
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_, _ = w.Write([]byte("{"))
		for _, k := range keys {
			_, _ = w.Write([]byte(k))
			_, _ = w.Write([]byte(":"))
			writeCanonical(w, t[k])
			_, _ = w.Write([]byte(","))
		}
		_, _ = w.Write([]byte("}"))
	case []any:
		_, _ = w.Write([]byte("["))
		for _, e := range t {
			writeCanonical(w, e)
			_, _ = w.Write([]byte(","))
		}
		_, _ = w.Write([]byte("]"))
	case bool:
		if t {
			_, _ = w.Write([]byte("true"))
		} else {
			_, _ = w.Write([]byte("false"))
		}
	case string:
		_, _ = w.Write([]byte(fmt.Sprintf("%q", t)))
	default:
		// Numbers and any other concrete type fall back to a stable
		// textual representation; Go's %v is deterministic per value.
		_, _ = w.Write([]byte(fmt.Sprintf("%v", t)))
	}
}
