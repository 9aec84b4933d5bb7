package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterSuggestionsAssignsStableIDs(t *testing.T) {
	raw := []Suggestion{{File: "a.go", Line: 1, Category: "bug"}}
	kept, _ := FilterSuggestions(raw, FilterOptions{})
	require.Len(t, kept, 1)
	assert.NotEmpty(t, kept[0].ID)
}

func TestFilterSuggestionsDropsDisallowedCategory(t *testing.T) {
	raw := []Suggestion{
		{File: "a.go", Line: 1, Category: "style"},
		{File: "a.go", Line: 2, Category: "bug"},
	}
	kept, discarded := FilterSuggestions(raw, FilterOptions{AllowedCategories: []string{"bug"}})
	require.Len(t, kept, 1)
	assert.Equal(t, "bug", kept[0].Category)
	require.Len(t, discarded, 1)
	assert.Equal(t, "style", discarded[0].Category)
}

func TestFilterSuggestionsDropsOutsideChangedLines(t *testing.T) {
	raw := []Suggestion{
		{File: "a.go", Line: 5},
		{File: "a.go", Line: 99},
	}
	kept, discarded := FilterSuggestions(raw, FilterOptions{ChangedLines: map[int]bool{5: true}})
	require.Len(t, kept, 1)
	assert.Equal(t, 5, kept[0].Line)
	require.Len(t, discarded, 1)
}

func TestFilterSuggestionsRanksCriticalAboveLow(t *testing.T) {
	raw := []Suggestion{
		{File: "a.go", Line: 1, Severity: "low"},
		{File: "a.go", Line: 2, Severity: "critical"},
	}
	kept, _ := FilterSuggestions(raw, FilterOptions{})
	require.Len(t, kept, 2)
	assert.Equal(t, "critical", kept[0].Severity)
	assert.Greater(t, kept[0].RankScore, kept[1].RankScore)
}

func TestFilterSuggestionsSafeguardDropsRejected(t *testing.T) {
	raw := []Suggestion{
		{File: "a.go", Line: 1, Content: "keep"},
		{File: "a.go", Line: 2, Content: "drop"},
	}
	safeguard := safeguardFunc(func(s Suggestion) (bool, error) {
		return s.Content == "keep", nil
	})
	kept, discarded := FilterSuggestions(raw, FilterOptions{Safeguard: safeguard})
	require.Len(t, kept, 1)
	assert.Equal(t, "keep", kept[0].Content)
	require.Len(t, discarded, 1)
}

func TestFilterSuggestionsRerunSuppressesUnimplementedPrevious(t *testing.T) {
	raw := []Suggestion{
		{File: "a.go", Line: 1, Category: "bug", Content: "fix it"},
	}
	prevKey := dedupKey(raw[0])
	kept, discarded := FilterSuggestions(raw, FilterOptions{
		IsReRun:        true,
		PreviouslySent: map[string]Suggestion{prevKey: {Implemented: false}},
	})
	assert.Empty(t, kept)
	require.Len(t, discarded, 1)
}

func TestFilterSuggestionsRerunMarksImplementedPreviousSuggestionAsResolved(t *testing.T) {
	raw := []Suggestion{
		{File: "a.go", Line: 1, Category: "bug", Content: "fix it"},
	}
	prevKey := dedupKey(raw[0])
	kept, _ := FilterSuggestions(raw, FilterOptions{
		IsReRun:        true,
		PreviouslySent: map[string]Suggestion{prevKey: {Implemented: true}},
	})
	require.Len(t, kept, 1)
	assert.True(t, kept[0].Implemented)
	assert.True(t, kept[0].PreviouslySent)
}

type safeguardFunc func(Suggestion) (bool, error)

func (f safeguardFunc) Verify(s Suggestion) (bool, error) { return f(s) }
