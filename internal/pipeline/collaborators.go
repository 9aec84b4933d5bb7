package pipeline

import "context"

// VCS is the external platform-integration contract the stage sequence
// drives (spec §1 Out of scope: "platform integrations (code hosting)
// ... referenced only via their contracts in §6"). Concrete GitHub/
// GitLab/Bitbucket/Azure DevOps clients live outside this module.
type VCS interface {
	// HasNewCommits reports whether pr has commits after
	// pr.LastAnalyzedCommitSHA.
	HasNewCommits(ctx context.Context, pr PullRequest) (bool, error)
	// ListChangedFiles enumerates files changed between pr.BaseSHA and
	// pr.HeadSHA, already split into hunks.
	ListChangedFiles(ctx context.Context, pr PullRequest) ([]ChangedFile, error)
	// MinimizePreviousComment collapses/hides a prior review's top-level
	// comment, if the platform supports it.
	MinimizePreviousComment(ctx context.Context, pr PullRequest) error
	// PostStartReviewComment posts a "review in progress" marker comment.
	PostStartReviewComment(ctx context.Context, pr PullRequest) error
	// PostPrLevelComments materializes PR-level suggestion comments.
	PostPrLevelComments(ctx context.Context, pr PullRequest, comments []Comment) error
	// PostLineComments materializes line comments; previously posted
	// comments whose suggestion was implemented are auto-resolved.
	PostLineComments(ctx context.Context, pr PullRequest, comments []Comment, autoResolve []string) error
	// UpdateSummaryComment rewrites the initial comment with summary.
	UpdateSummaryComment(ctx context.Context, pr PullRequest, summary string) error
	// PostPauseComment notifies the PR that automatic review has been
	// paused (spec §4.10's AUTO_PAUSE burst rule: "skip and move to
	// PAUSED, posting a pause comment").
	PostPauseComment(ctx context.Context, pr PullRequest, reason SkipReason) error
	// RequestChanges requests changes on pr.
	RequestChanges(ctx context.Context, pr PullRequest, reason string) error
	// Approve approves pr.
	Approve(ctx context.Context, pr PullRequest) error
	// ReviewDecisionState reports whether pr already carries a
	// CHANGES_REQUESTED review, which RequestChangesOrApprove must never
	// silently overwrite with an approval.
	ReviewDecisionState(ctx context.Context, pr PullRequest) (changesRequested bool, err error)
}

// FileAnalyzer runs the LLM-backed analysis for one changed file,
// returning raw suggestions before the nine-step filtering pipeline.
// Implementations wrap the Agent/Strategy stack per spec §2 ("using
// the Agent/Strategy stack as a sub-component for LLM work").
type FileAnalyzer interface {
	Analyze(ctx context.Context, pr PullRequest, file ChangedFile, cfg Config) ([]Suggestion, error)
}

// PrLevelAnalyzer runs PR-level and cross-file analysis rules.
type PrLevelAnalyzer interface {
	AnalyzePrLevel(ctx context.Context, pr PullRequest, files []ChangedFile, cfg Config) ([]Comment, error)
}

// CadenceStore persists the CadenceState across runs for one pull
// request, keyed by repository + PR number.
type CadenceStore interface {
	Load(ctx context.Context, pr PullRequest) (CadenceState, error)
	Save(ctx context.Context, pr PullRequest, state CadenceState) error
}
