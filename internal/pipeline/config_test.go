package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticConfigSource map[string][]byte

func (s staticConfigSource) Load(ctx context.Context, repo Repository, dir string) ([]byte, error) {
	return s[dir], nil
}

func TestResolveConfigFallsBackToGlobalWhenNothingFound(t *testing.T) {
	cfg, foundAny, err := ResolveConfig(context.Background(), staticConfigSource{}, Repository{}, []string{"pkg/foo/bar.go"}, DefaultConfig())
	require.NoError(t, err)
	assert.False(t, foundAny)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolveConfigLayersDirectoryOverRepoOverGlobal(t *testing.T) {
	src := staticConfigSource{
		"":        []byte("cadence: MANUAL\n"),
		"pkg/foo": []byte("cadence: AUTO_PAUSE\npushes_to_trigger: 5\n"),
	}
	cfg, foundAny, err := ResolveConfig(context.Background(), src, Repository{}, []string{"pkg/foo/bar.go"}, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, foundAny)
	assert.Equal(t, CadenceAutoPause, cfg.Cadence)
	assert.Equal(t, 5, cfg.PushesToTrigger)
}

func TestMatchesIgnoreGlobMatchesBaseNamePattern(t *testing.T) {
	assert.True(t, matchesIgnoreGlob("vendor/pkg/thing.lock", []string{"*.lock"}))
	assert.False(t, matchesIgnoreGlob("vendor/pkg/thing.go", []string{"*.lock"}))
}

func TestMatchesIgnoreGlobMatchesDirectoryPrefix(t *testing.T) {
	assert.True(t, matchesIgnoreGlob("generated/api/client.go", []string{"generated/*"}))
	assert.False(t, matchesIgnoreGlob("internal/api/client.go", []string{"generated/*"}))
}
