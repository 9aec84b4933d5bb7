package pipeline

import (
	"context"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// CadenceMode selects the review-cadence policy applied in ValidateConfig.
type CadenceMode string

const (
	CadenceAutomatic CadenceMode = "AUTOMATIC"
	CadenceManual    CadenceMode = "MANUAL"
	CadenceAutoPause CadenceMode = "AUTO_PAUSE"
)

// Config is the resolved per-run review configuration: per-directory
// configs inspected from changed paths, falling back to repo-level then
// global (spec §4.10 ResolveConfig), unmarshaled from YAML documents
// via gopkg.in/yaml.v3 following the pack's declarative-config
// convention (e.g. goadesign-goa-ai/features/... and the
// tarsy-style ChainConfig/StageConfig YAML shape).
type Config struct {
	IgnoreGlobs       []string    `yaml:"ignore_globs"`
	ReviewOptions     []string    `yaml:"review_options"` // category allow-list
	Cadence           CadenceMode `yaml:"cadence"`
	PushesToTrigger   int         `yaml:"pushes_to_trigger"`
	TimeWindowMins    int         `yaml:"time_window_minutes"`
	CodeReviewVersion string      `yaml:"code_review_version"`
	RetryAttempts     int         `yaml:"retry_attempts"`
}

// DefaultConfig returns the baseline configuration used when no
// directory/repo/global document overrides a field.
func DefaultConfig() Config {
	return Config{
		Cadence:           CadenceAutomatic,
		PushesToTrigger:   3,
		TimeWindowMins:    10,
		CodeReviewVersion: "v1",
		RetryAttempts:     3,
	}
}

// ParseConfig unmarshals one YAML config document, layering it over base.
func ParseConfig(base Config, raw []byte) (Config, error) {
	out := base
	if len(raw) == 0 {
		return out, nil
	}
	var doc Config
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, err
	}
	if doc.IgnoreGlobs != nil {
		out.IgnoreGlobs = doc.IgnoreGlobs
	}
	if doc.ReviewOptions != nil {
		out.ReviewOptions = doc.ReviewOptions
	}
	if doc.Cadence != "" {
		out.Cadence = doc.Cadence
	}
	if doc.PushesToTrigger > 0 {
		out.PushesToTrigger = doc.PushesToTrigger
	}
	if doc.TimeWindowMins > 0 {
		out.TimeWindowMins = doc.TimeWindowMins
	}
	if doc.CodeReviewVersion != "" {
		out.CodeReviewVersion = doc.CodeReviewVersion
	}
	if doc.RetryAttempts > 0 {
		out.RetryAttempts = doc.RetryAttempts
	}
	return out, nil
}

// ConfigSource loads a raw YAML config document for one directory (or
// the repo root when dir == ""), returning (nil, nil) when no document
// exists at that location.
type ConfigSource interface {
	Load(ctx context.Context, repo Repository, dir string) ([]byte, error)
}

// ResolveConfig implements spec §4.10's ResolveConfig stage logic:
// locate per-directory configs by inspecting changed paths, falling
// back to repo-level, then a process-wide global default. foundAny
// reports whether any directory/repo-level document was actually
// present, distinguishing "resolved to defaults because nothing
// overrides them" from "no config anywhere" (NO_CONFIG_IN_CONTEXT).
func ResolveConfig(ctx context.Context, src ConfigSource, repo Repository, changedPaths []string, global Config) (resolved Config, foundAny bool, err error) {
	resolved = global

	repoDoc, err := src.Load(ctx, repo, "")
	if err != nil {
		return Config{}, false, err
	}
	if len(repoDoc) > 0 {
		foundAny = true
	}
	resolved, err = ParseConfig(resolved, repoDoc)
	if err != nil {
		return Config{}, false, err
	}

	for _, dir := range uniqueDirs(changedPaths) {
		doc, err := src.Load(ctx, repo, dir)
		if err != nil {
			return Config{}, false, err
		}
		if len(doc) > 0 {
			foundAny = true
		}
		resolved, err = ParseConfig(resolved, doc)
		if err != nil {
			return Config{}, false, err
		}
	}
	return resolved, foundAny, nil
}

func uniqueDirs(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	var dirs []string
	for _, p := range paths {
		d := path.Dir(p)
		if d == "." || d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dirs = append(dirs, d)
	}
	return dirs
}

// matchesIgnoreGlob reports whether p matches any glob in globs, using
// shell-style matching against the full path as well as its base name
// so a bare pattern like "*.lock" matches regardless of directory.
func matchesIgnoreGlob(p string, globs []string) bool {
	base := path.Base(p)
	for _, g := range globs {
		if ok, _ := path.Match(g, p); ok {
			return true
		}
		if ok, _ := path.Match(g, base); ok {
			return true
		}
		if strings.HasPrefix(p, strings.TrimSuffix(g, "/*")+"/") {
			return true
		}
	}
	return false
}
