package strategy

// detectStagnation implements spec §4.7's ReAct stagnation rule:
// terminate when the last two steps both failed, or when the last
// three steps share an action type with no progress (identical
// resolved inputs, meaning the planner is repeating itself).
func detectStagnation(history []*Step) bool {
	n := len(history)
	if n >= 2 && history[n-1].Err != nil && history[n-2].Err != nil {
		return true
	}
	if n >= 3 {
		a, b, c := history[n-3], history[n-2], history[n-1]
		if a.Type == b.Type && b.Type == c.Type && inputsEqual(a.Inputs, b.Inputs) && inputsEqual(b.Inputs, c.Inputs) {
			return true
		}
	}
	return false
}

func inputsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if av, ok := v.(string); ok {
			if bs, ok := bv.(string); !ok || av != bs {
				return false
			}
			continue
		}
		// Non-string values are compared by presence only; heuristic
		// equality is sufficient for stagnation detection.
	}
	return true
}
