package pipeline

import (
	"sort"

	"github.com/kodustech/agent-kernel/internal/idgen"
)

// SafeguardVerifier is the optional LLM-verification step (step 6 of
// the suggestion filtering pipeline): given a candidate suggestion, it
// decides whether the suggestion should survive.
type SafeguardVerifier interface {
	Verify(suggestion Suggestion) (keep bool, err error)
}

// KodyFineTuner clusters near-duplicate suggestions and suppresses all
// but a representative one per cluster (step 4).
type KodyFineTuner interface {
	Suppress(suggestions []Suggestion) []Suggestion
}

// FilterOptions configures one file's run through the nine-step
// suggestion filtering pipeline (spec §4.10).
type FilterOptions struct {
	AllowedCategories []string              // reviewOptions category allow-list (step 2)
	ChangedLines      map[int]bool          // line numbers touched by the diff (step 3)
	FineTuner         KodyFineTuner         // optional (step 4)
	CodeReviewVersion string                // "v2" enables severity prioritization (step 5)
	Safeguard         SafeguardVerifier     // optional (step 6)
	KodyRuleMatches   []Suggestion          // merged in at step 7
	ASTMatches        []Suggestion          // merged in at step 7
	CrossFileMatches  []Suggestion          // attached at step 7
	PreviouslySent    map[string]Suggestion // keyed by a stable dedup key, for step 8
	IsReRun           bool                  // synchronize/update event (step 8)
}

// FilterSuggestions runs the nine-step filtering pipeline over one
// file's raw LLM suggestions (spec §4.10, inside ProcessFilesReview).
func FilterSuggestions(raw []Suggestion, opts FilterOptions) ([]Suggestion, []Suggestion) {
	var discarded []Suggestion

	// 1. Assign stable ids.
	suggestions := make([]Suggestion, len(raw))
	copy(suggestions, raw)
	for i := range suggestions {
		if suggestions[i].ID == "" {
			suggestions[i].ID = idgen.New()
		}
	}

	// 2. Filter by reviewOptions category allow-list.
	suggestions, dropped := filterByCategory(suggestions, opts.AllowedCategories)
	discarded = append(discarded, dropped...)

	// 3. Filter by code-diff intersection.
	suggestions, dropped = filterByChangedLines(suggestions, opts.ChangedLines)
	discarded = append(discarded, dropped...)

	// 4. Kody fine-tuning filter (clustering-based suppression).
	if opts.FineTuner != nil {
		before := len(suggestions)
		suggestions = opts.FineTuner.Suppress(suggestions)
		if len(suggestions) < before {
			discarded = append(discarded, diffByID(raw, suggestions)...)
		}
	}

	// 5. Severity prioritization for codeReviewVersion=v2.
	if opts.CodeReviewVersion == "v2" {
		suggestions = prioritizeBySeverity(suggestions)
	}

	// 6. Safeguard filter (LLM verification).
	if opts.Safeguard != nil {
		var kept []Suggestion
		for _, s := range suggestions {
			ok, err := opts.Safeguard.Verify(s)
			if err != nil || !ok {
				discarded = append(discarded, s)
				continue
			}
			kept = append(kept, s)
		}
		suggestions = kept
	}

	// 7. Merge Kody-rules/AST suggestions; attach cross-file suggestions.
	// No severity is assigned here: each suggestion keeps the Severity it
	// arrived with.
	suggestions = append(suggestions, opts.KodyRuleMatches...)
	suggestions = append(suggestions, opts.ASTMatches...)
	for _, cf := range opts.CrossFileMatches {
		cf.CrossFile = true
		suggestions = append(suggestions, cf)
	}

	// 8. Re-run suppression / implementation check.
	if opts.IsReRun && len(opts.PreviouslySent) > 0 {
		var kept []Suggestion
		for _, s := range suggestions {
			if prev, ok := opts.PreviouslySent[dedupKey(s)]; ok {
				if prev.Implemented {
					s.PreviouslySent = true
					s.Implemented = true
				} else {
					discarded = append(discarded, s)
					continue
				}
			}
			kept = append(kept, s)
		}
		suggestions = kept
	}

	// 9. Compute rankScore.
	for i := range suggestions {
		suggestions[i].RankScore = rankScore(suggestions[i])
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].RankScore > suggestions[j].RankScore
	})

	return suggestions, discarded
}

func filterByCategory(in []Suggestion, allowed []string) (kept, dropped []Suggestion) {
	if len(allowed) == 0 {
		return in, nil
	}
	allow := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		allow[c] = true
	}
	for _, s := range in {
		if allow[s.Category] {
			kept = append(kept, s)
		} else {
			dropped = append(dropped, s)
		}
	}
	return kept, dropped
}

func filterByChangedLines(in []Suggestion, changed map[int]bool) (kept, dropped []Suggestion) {
	if changed == nil {
		return in, nil
	}
	for _, s := range in {
		if changed[s.Line] {
			kept = append(kept, s)
		} else {
			dropped = append(dropped, s)
		}
	}
	return kept, dropped
}

func prioritizeBySeverity(in []Suggestion) []Suggestion {
	weight := map[string]int{"critical": 4, "high": 3, "medium": 2, "low": 1}
	out := append([]Suggestion(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		return weight[out[i].Severity] > weight[out[j].Severity]
	})
	return out
}

func rankScore(s Suggestion) float64 {
	weight := map[string]float64{"critical": 1.0, "high": 0.75, "medium": 0.5, "low": 0.25}
	score := weight[s.Severity]
	if score == 0 {
		score = 0.4
	}
	if s.CrossFile {
		score += 0.05
	}
	return score
}

func dedupKey(s Suggestion) string {
	return s.File + ":" + s.Category + ":" + s.Content
}

func diffByID(before, after []Suggestion) []Suggestion {
	keep := make(map[string]bool, len(after))
	for _, s := range after {
		keep[s.ID] = true
	}
	var removed []Suggestion
	for _, s := range before {
		if !keep[s.ID] {
			removed = append(removed, s)
		}
	}
	return removed
}
