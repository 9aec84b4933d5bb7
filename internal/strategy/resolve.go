package strategy

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches a whole-string reference like "${step-1}"
// or "${step-1.result.name}". Each dotted segment is looked up as a key
// of a nested map[string]any, so list elements cannot be addressed.
var placeholderPattern = regexp.MustCompile(`^\$\{([a-zA-Z0-9_-]+)((?:\.[a-zA-Z0-9_-]+)*)\}$`)

// resolveArgs rewrites raw's string values that are step-output
// placeholders into the referenced step's (possibly nested) result,
// per spec §3's "resolveArgs" operation. Non-placeholder strings and
// other value kinds pass through unchanged. A placeholder naming a
// step absent from executed, or a dotted path that doesn't resolve,
// aborts with ErrUnresolvedPlaceholder.
func resolveArgs(raw map[string]any, executed map[string]*Step) (map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		resolved, err := resolveValue(v, executed)
		if err != nil {
			return nil, fmt.Errorf("arg %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func resolveValue(v any, executed map[string]*Step) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	m := placeholderPattern.FindStringSubmatch(s)
	if m == nil {
		return v, nil
	}
	stepID, path := m[1], m[2]

	step, ok := executed[stepID]
	if !ok {
		return nil, fmt.Errorf("%w: step %q has not executed", ErrUnresolvedPlaceholder, stepID)
	}

	cur := step.Result
	if path == "" {
		return cur, nil
	}
	for _, segment := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q.%s is not an object", ErrUnresolvedPlaceholder, stepID, path)
		}
		next, ok := obj[segment]
		if !ok {
			return nil, fmt.Errorf("%w: field %q not found under %q", ErrUnresolvedPlaceholder, segment, stepID)
		}
		cur = next
	}
	return cur, nil
}
