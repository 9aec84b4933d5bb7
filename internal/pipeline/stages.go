package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kodustech/agent-kernel/internal/backoff"
)

// Deps wires the external collaborators and tunables the twelve
// code-review stages need. VCS, FileAnalyzer, PrLevelAnalyzer, and
// Cadence are the platform-integration/LLM contracts named out of
// scope by spec §1 ("referenced only via their contracts in §6").
type Deps struct {
	VCS             VCS
	FileAnalyzer    FileAnalyzer
	PrLevelAnalyzer PrLevelAnalyzer
	Cadence         CadenceStore
	ConfigSource    ConfigSource
	GlobalConfig    Config
	Origin          Origin

	MaxFiles        int // default 500
	BatchSize       int // default 25 (20-30 range)
	FileConcurrency int // default 20 (semaphore size)
	RetryBackoff    backoff.Config
}

func (d Deps) withDefaults() Deps {
	if d.MaxFiles <= 0 {
		d.MaxFiles = 500
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 25
	}
	if d.FileConcurrency <= 0 {
		d.FileConcurrency = 20
	}
	if d.RetryBackoff.MaxAttempts <= 0 {
		d.RetryBackoff = backoff.Config{MaxAttempts: 3, Initial: 200 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2.0, Jitter: 0.1}
	}
	return d
}

// BuildReviewStages returns the twelve fixed code-review stages in the
// order spec §4.10 mandates.
func BuildReviewStages(deps Deps) []Stage {
	d := deps.withDefaults()
	return []Stage{
		validateNewCommitsStage(d),
		resolveConfigStage(d),
		validateConfigStage(d),
		fetchChangedFilesStage(d),
		initialCommentStage(d),
		processFilesPrLevelReviewStage(d),
		processFilesReviewStage(d),
		createPrLevelCommentsStage(d),
		createFileCommentsStage(d),
		aggregateResultsStage(d),
		updateCommentsAndGenerateSummaryStage(d),
		requestChangesOrApproveStage(d),
	}
}

func validateNewCommitsStage(d Deps) Stage {
	return Stage{Name: "ValidateNewCommits", Run: func(ctx context.Context, pc Context) (Context, error) {
		hasNew, err := d.VCS.HasNewCommits(ctx, pc.PullRequest)
		if err != nil {
			return pc, fmt.Errorf("validate new commits: %w", err)
		}
		out := pc.Clone()
		if !hasNew {
			out.Status = Skipped(ReasonNoNewCommits)
		}
		return out, nil
	}}
}

func resolveConfigStage(d Deps) Stage {
	return Stage{Name: "ResolveConfig", Run: func(ctx context.Context, pc Context) (Context, error) {
		files, err := d.VCS.ListChangedFiles(ctx, pc.PullRequest)
		if err != nil {
			out := pc.Clone()
			out.Status = Skipped(ReasonFailedResolveConfig)
			return out, fmt.Errorf("resolve config: list changed files: %w", err)
		}
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.Path
		}
		cfg, foundAny, err := ResolveConfig(ctx, d.ConfigSource, pc.PullRequest.Repository, paths, d.GlobalConfig)
		out := pc.Clone()
		out.ChangedFiles = files
		if err != nil {
			out.Status = Skipped(ReasonFailedResolveConfig)
			return out, fmt.Errorf("resolve config: %w", err)
		}
		if !foundAny {
			out.Status = Skipped(ReasonNoConfigInContext)
			return out, nil
		}
		out.Config = &cfg
		return out, nil
	}}
}

func validateConfigStage(d Deps) Stage {
	return Stage{Name: "ValidateConfig", Run: func(ctx context.Context, pc Context) (Context, error) {
		if pc.Config == nil {
			out := pc.Clone()
			out.Status = Skipped(ReasonConfigValidationError)
			return out, nil
		}
		state, err := d.Cadence.Load(ctx, pc.PullRequest)
		if err != nil {
			out := pc.Clone()
			out.Status = Skipped(ReasonConfigValidationError)
			return out, fmt.Errorf("validate config: load cadence state: %w", err)
		}
		window := time.Duration(pc.Config.TimeWindowMins) * time.Minute
		decision := ApplyCadence(pc.Config.Cadence, d.Origin, state, time.Now(), pc.Config.PushesToTrigger, window)

		wasPaused := state.CurrentStatus == CadenceStatusPaused
		state.CurrentStatus = decision.NextStatus
		if decision.Process {
			state.HasPriorSuccessful = true
			state.RecentSuccessfulRuns = append(state.RecentSuccessfulRuns, time.Now())
		}
		if saveErr := d.Cadence.Save(ctx, pc.PullRequest, state); saveErr != nil {
			return pc, fmt.Errorf("validate config: save cadence state: %w", saveErr)
		}

		// The burst rule transitions the PR into PAUSED for the first
		// time on this decision; post the pause comment once, not on
		// every subsequent skipped run while it remains paused.
		if decision.SkipReason == ReasonPRPausedBurstPushes && !wasPaused {
			if err := d.VCS.PostPauseComment(ctx, pc.PullRequest, decision.SkipReason); err != nil {
				return pc, fmt.Errorf("validate config: post pause comment: %w", err)
			}
		}

		out := pc.Clone()
		out.Cadence = state
		if !decision.Process {
			out.Status = Skipped(decision.SkipReason)
		}
		return out, nil
	}}
}

func fetchChangedFilesStage(d Deps) Stage {
	return Stage{Name: "FetchChangedFiles", Run: func(ctx context.Context, pc Context) (Context, error) {
		var kept []ChangedFile
		var totalAdd, totalDel int
		for _, f := range pc.ChangedFiles {
			if matchesIgnoreGlob(f.Path, pc.Config.IgnoreGlobs) {
				continue
			}
			kept = append(kept, f)
			totalAdd += f.Additions
			totalDel += f.Deletions
		}

		out := pc.Clone()
		out.ChangedFiles = kept
		out.FileStats = FileStats{TotalFiles: len(kept), TotalAdditions: totalAdd, TotalDeletions: totalDel}

		switch {
		case len(kept) == 0 && len(pc.ChangedFiles) > 0:
			out.Status = Skipped(ReasonNoFilesAfterIgnore)
		case len(kept) == 0:
			out.Status = Skipped(ReasonNoFilesInPR)
		case len(kept) > d.MaxFiles:
			out.Status = Skipped(ReasonTooManyFiles)
		}
		return out, nil
	}}
}

func initialCommentStage(d Deps) Stage {
	return Stage{Name: "InitialComment", Run: func(ctx context.Context, pc Context) (Context, error) {
		if err := d.VCS.MinimizePreviousComment(ctx, pc.PullRequest); err != nil {
			return pc, fmt.Errorf("initial comment: minimize previous: %w", err)
		}
		if err := d.VCS.PostStartReviewComment(ctx, pc.PullRequest); err != nil {
			return pc, fmt.Errorf("initial comment: post start review: %w", err)
		}
		return pc.Clone(), nil
	}}
}

func processFilesPrLevelReviewStage(d Deps) Stage {
	return Stage{Name: "ProcessFilesPrLevelReview", Run: func(ctx context.Context, pc Context) (Context, error) {
		if d.PrLevelAnalyzer == nil {
			return pc.Clone(), nil
		}
		comments, err := d.PrLevelAnalyzer.AnalyzePrLevel(ctx, pc.PullRequest, pc.ChangedFiles, *pc.Config)
		if err != nil {
			return pc, fmt.Errorf("process files pr-level review: %w", err)
		}
		out := pc.Clone()
		out.PrLevelComments = append(out.PrLevelComments, comments...)
		return out, nil
	}}
}

// processFilesReviewStage batches pc.ChangedFiles (BatchSize files per
// batch), runs file-level analysis with FileConcurrency in-flight
// files per batch, retries each file's LLM call independently via
// exponential backoff, and degrades a chunk that exhausts retries to
// an empty suggestion set rather than failing the stage (spec §4.10).
func processFilesReviewStage(d Deps) Stage {
	return Stage{Name: "ProcessFilesReview", Run: func(ctx context.Context, pc Context) (Context, error) {
		if d.FileAnalyzer == nil {
			return pc.Clone(), nil
		}

		results := make([]FileAnalysis, len(pc.ChangedFiles))
		for start := 0; start < len(pc.ChangedFiles); start += d.BatchSize {
			end := start + d.BatchSize
			if end > len(pc.ChangedFiles) {
				end = len(pc.ChangedFiles)
			}
			batch := pc.ChangedFiles[start:end]

			sem := make(chan struct{}, d.FileConcurrency)
			var wg sync.WaitGroup
			for i, file := range batch {
				wg.Add(1)
				idx, f := start+i, file
				sem <- struct{}{}
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					results[idx] = analyzeFileWithRetry(ctx, d, pc, f)
				}()
			}
			wg.Wait()
		}

		out := pc.Clone()
		out.FileAnalyses = results
		return out, nil
	}}
}

func analyzeFileWithRetry(ctx context.Context, d Deps, pc Context, file ChangedFile) FileAnalysis {
	var raw []Suggestion
	err := backoff.Do(ctx, d.RetryBackoff, nil, func(ctx context.Context) error {
		var rErr error
		raw, rErr = d.FileAnalyzer.Analyze(ctx, pc.PullRequest, file, *pc.Config)
		return rErr
	})
	if err != nil {
		// Degrade gracefully: the chunk's suggestion set is empty, the
		// error is retained on the analysis for AggregateResults/logging.
		return FileAnalysis{File: file, Err: err}
	}

	changedLines := make(map[int]bool)
	for _, h := range file.Hunks {
		for ln := h.StartLine; ln <= h.EndLine; ln++ {
			changedLines[ln] = true
		}
	}
	valid, discarded := FilterSuggestions(raw, FilterOptions{
		AllowedCategories: pc.Config.ReviewOptions,
		ChangedLines:      changedLines,
		CodeReviewVersion: pc.Config.CodeReviewVersion,
	})
	return FileAnalysis{File: file, ValidSuggestions: valid, DiscardedSuggestions: discarded}
}

func createPrLevelCommentsStage(d Deps) Stage {
	return Stage{Name: "CreatePrLevelComments", Run: func(ctx context.Context, pc Context) (Context, error) {
		if len(pc.PrLevelComments) == 0 {
			return pc.Clone(), nil
		}
		if err := d.VCS.PostPrLevelComments(ctx, pc.PullRequest, pc.PrLevelComments); err != nil {
			return pc, fmt.Errorf("create pr-level comments: %w", err)
		}
		return pc.Clone(), nil
	}}
}

func createFileCommentsStage(d Deps) Stage {
	return Stage{Name: "CreateFileComments", Run: func(ctx context.Context, pc Context) (Context, error) {
		var comments []Comment
		var autoResolve []string
		for _, fa := range pc.FileAnalyses {
			for _, s := range fa.ValidSuggestions {
				if s.Implemented {
					autoResolve = append(autoResolve, s.ID)
					continue
				}
				comments = append(comments, Comment{File: s.File, Line: s.Line, Body: s.Content})
			}
		}
		if len(comments) > 0 || len(autoResolve) > 0 {
			if err := d.VCS.PostLineComments(ctx, pc.PullRequest, comments, autoResolve); err != nil {
				return pc, fmt.Errorf("create file comments: %w", err)
			}
		}
		out := pc.Clone()
		out.LineComments = append(out.LineComments, comments...)
		return out, nil
	}}
}

func aggregateResultsStage(d Deps) Stage {
	return Stage{Name: "AggregateResults", Run: func(ctx context.Context, pc Context) (Context, error) {
		out := pc.Clone()
		critical := 0
		var overall []string
		for _, fa := range pc.FileAnalyses {
			if fa.Err != nil {
				overall = append(overall, fmt.Sprintf("%s: analysis failed: %v", fa.File.Path, fa.Err))
				continue
			}
			for _, s := range fa.ValidSuggestions {
				if s.Severity == "critical" {
					critical++
				}
			}
		}
		out.CriticalSeverityCount = critical
		out.OverallComments = overall
		return out, nil
	}}
}

func updateCommentsAndGenerateSummaryStage(d Deps) Stage {
	return Stage{Name: "UpdateCommentsAndGenerateSummary", Run: func(ctx context.Context, pc Context) (Context, error) {
		summary := summarize(pc)
		out := pc.Clone()
		out.SummaryComment = summary
		if err := d.VCS.UpdateSummaryComment(ctx, pc.PullRequest, summary); err != nil {
			return pc, fmt.Errorf("update summary: %w", err)
		}
		return out, nil
	}}
}

func summarize(pc Context) string {
	totalValid := 0
	for _, fa := range pc.FileAnalyses {
		totalValid += len(fa.ValidSuggestions)
	}
	return fmt.Sprintf("Reviewed %d file(s), %d suggestion(s), %d critical.",
		pc.FileStats.TotalFiles, totalValid, pc.CriticalSeverityCount)
}

func requestChangesOrApproveStage(d Deps) Stage {
	return Stage{Name: "RequestChangesOrApprove", Run: func(ctx context.Context, pc Context) (Context, error) {
		out := pc.Clone()

		if pc.CriticalSeverityCount > 0 {
			if err := d.VCS.RequestChanges(ctx, pc.PullRequest, "critical-severity findings"); err != nil {
				return pc, fmt.Errorf("request changes: %w", err)
			}
			out.ChangesRequested = true
			return out, nil
		}

		if len(pc.LineComments) > 0 || len(pc.PrLevelComments) > 0 {
			return out, nil
		}

		alreadyRequested, err := d.VCS.ReviewDecisionState(ctx, pc.PullRequest)
		if err != nil {
			return pc, fmt.Errorf("request changes or approve: read review state: %w", err)
		}
		if alreadyRequested {
			// Never overwrite an existing CHANGES_REQUESTED state.
			return out, nil
		}

		if err := d.VCS.Approve(ctx, pc.PullRequest); err != nil {
			return pc, fmt.Errorf("approve: %w", err)
		}
		out.Approved = true
		return out, nil
	}}
}
