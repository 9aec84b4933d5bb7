// Package pipeline implements the Pipeline Executor and the fixed
// code-review stage sequence (spec §4.10): an ordered run over a typed,
// functionally-updated Context, where stage errors are logged and
// degrade to "run the next stage with the last good context" rather
// than aborting, except when a stage explicitly short-circuits via
// Status.Skipped.
package pipeline

import "time"

// Status is the pipeline context's sum type (spec §3/§6): running,
// success, skipped(reason), or error(cause). Exactly one of the
// Reason/Cause fields is meaningful for a given Kind.
type Status struct {
	Kind   StatusKind
	Reason SkipReason
	Cause  error
}

// StatusKind enumerates the pipeline context's status sum-type tags.
type StatusKind string

const (
	StatusRunning StatusKind = "running"
	StatusSuccess StatusKind = "success"
	StatusSkipped StatusKind = "skipped"
	StatusError   StatusKind = "error"
)

// SkipReason enumerates the skip reasons named in spec §6.
type SkipReason string

const (
	ReasonNoConfigInContext     SkipReason = "NO_CONFIG_IN_CONTEXT"
	ReasonNoFilesAfterIgnore    SkipReason = "NO_FILES_AFTER_IGNORE"
	ReasonTooManyFiles          SkipReason = "TOO_MANY_FILES"
	ReasonConfigValidationError SkipReason = "CONFIG_VALIDATION_ERROR"
	ReasonFirstReviewManual     SkipReason = "FIRST_REVIEW_MANUAL"
	ReasonFirstReviewAutoPause  SkipReason = "FIRST_REVIEW_AUTO_PAUSE"
	ReasonProcessingCommand     SkipReason = "PROCESSING_COMMAND"
	ReasonProcessingAutomatic   SkipReason = "PROCESSING_AUTOMATIC"
	ReasonManualRequiredToStart SkipReason = "MANUAL_REQUIRED_TO_START"
	ReasonPRPausedNeedResume    SkipReason = "PR_PAUSED_NEED_RESUME"
	ReasonPRPausedBurstPushes   SkipReason = "PR_PAUSED_BURST_PUSHES"
	ReasonFailedResolveConfig   SkipReason = "FAILED_RESOLVE_CONFIG"
	ReasonNoFilesInPR           SkipReason = "NO_FILES_IN_PR"
	// ReasonNoNewCommits is not one of spec §6's enumerated reasons; it
	// supplements them for ValidateNewCommits, which has no listed
	// reason of its own. See DESIGN.md's open-questions section.
	ReasonNoNewCommits SkipReason = "NO_NEW_COMMITS"
)

// Running is the initial status every new pipeline Context carries.
func Running() Status { return Status{Kind: StatusRunning} }

// Success marks a stage/pipeline as having completed normally.
func Success() Status { return Status{Kind: StatusSuccess} }

// Skipped short-circuits the remainder of the pipeline with reason.
func Skipped(reason SkipReason) Status { return Status{Kind: StatusSkipped, Reason: reason} }

// Errored records a non-aborting stage failure; the pipeline continues
// to the next stage per spec §4.10, but the cause is retained for the
// final summary/logging.
func Errored(cause error) Status { return Status{Kind: StatusError, Cause: cause} }

// PullRequest identifies the triple a pipeline run operates on (spec §3).
type PullRequest struct {
	OrganizationAndTeamData OrganizationAndTeamData
	Repository              Repository
	Number                  int
	HeadSHA                 string
	BaseSHA                 string
	LastAnalyzedCommitSHA   string
}

// OrganizationAndTeamData identifies the tenant/team scope of a run.
type OrganizationAndTeamData struct {
	OrganizationID string
	TeamID         string
}

// Repository identifies the repository a pull request belongs to.
type Repository struct {
	ID       string
	FullName string
	Platform string // github | gitlab | bitbucket | azure_devops
}

// ChangedFile is one file touched by the pull request, enriched with
// per-hunk line numbers by FetchChangedFiles.
type ChangedFile struct {
	Path      string
	Additions int
	Deletions int
	Hunks     []Hunk
}

// Hunk is one contiguous diff range within a ChangedFile.
type Hunk struct {
	StartLine int
	EndLine   int
}

// Suggestion is one candidate review comment, surviving some prefix of
// the nine-step filtering pipeline (spec §4.10).
type Suggestion struct {
	ID             string
	File           string
	Line           int
	Category       string
	Severity       string
	Content        string
	RankScore      float64
	CrossFile      bool
	PreviouslySent bool
	Implemented    bool
}

// FileAnalysis is the per-file outcome threaded through
// ProcessFilesReview and CreateFileComments.
type FileAnalysis struct {
	File                 ChangedFile
	ValidSuggestions     []Suggestion
	DiscardedSuggestions []Suggestion
	Err                  error
}

// Comment is a materialized review comment ready to post.
type Comment struct {
	File string
	Line int
	Body string
}

// Context is the typed object threaded through every stage. Stages
// receive it as input and return a new Context — never mutate a
// shared instance (spec §3 ownership rule).
type Context struct {
	PipelineID       string
	StartedAt        time.Time
	PipelineMetadata map[string]any

	PullRequest PullRequest
	Config      *Config

	ChangedFiles []ChangedFile
	FileStats    FileStats

	Cadence CadenceState

	PrLevelComments []Comment
	LineComments    []Comment

	FileAnalyses []FileAnalysis

	OverallComments []string
	SummaryComment  string

	CriticalSeverityCount int
	ChangesRequested      bool
	Approved              bool

	Status Status
}

// FileStats summarizes FetchChangedFiles' aggregate stats.
type FileStats struct {
	TotalFiles     int
	TotalAdditions int
	TotalDeletions int
}

// Clone returns a shallow functional-update copy of c: a stage that
// wants to "produce the next context via a functional update" starts
// from Clone() and sets only the fields it owns.
func (c Context) Clone() Context {
	out := c
	out.PipelineMetadata = cloneAnyMap(c.PipelineMetadata)
	out.ChangedFiles = append([]ChangedFile(nil), c.ChangedFiles...)
	out.PrLevelComments = append([]Comment(nil), c.PrLevelComments...)
	out.LineComments = append([]Comment(nil), c.LineComments...)
	out.FileAnalyses = append([]FileAnalysis(nil), c.FileAnalyses...)
	out.OverallComments = append([]string(nil), c.OverallComments...)
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
