package models

import (
	"fmt"
	"time"
)

// Violation is one broken validation rule.
type Violation struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Rule
}

// ValidationResult is the validator's verdict on one record.
type ValidationResult struct {
	Valid           bool        `json:"valid"`
	Violations      []Violation `json:"violations,omitempty"`
	Warnings        []string    `json:"warnings,omitempty"`
	MissingMetadata []string    `json:"missing_metadata,omitempty"`

	// ResolvedPaths are the absolute image paths that resolved, in input
	// order with duplicates kept.
	ResolvedPaths []string `json:"-"`
}

// OutcomeKind classifies a submission attempt.
type OutcomeKind string

const (
	OutcomeSubmitted OutcomeKind = "submitted"
	OutcomeDryRun    OutcomeKind = "dry-run"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeFailed    OutcomeKind = "failed"
)

// Skip reasons.
const (
	ReasonMetadataIncomplete = "metadata-incomplete"
	ReasonQuotaExceeded      = "quota-exceeded"
	ReasonNeedsReview        = "needs-review"
	ReasonRejected           = "rejected"
	ReasonCancelled          = "cancelled"
	ReasonBeforeStart        = "before-start-index"
	ReasonSetupFailed        = "setup-failed"
	ReasonNotRetried         = "not-retried"
)

// Stage names a step of the submission sequence.
type Stage string

const (
	StageAcquire      Stage = "acquire-session"
	StageNavigate     Stage = "navigate"
	StageAuthenticate Stage = "authenticate"
	StageFill         Stage = "fill-form"
	StageUpload       Stage = "upload-images"
	StageSubmit       Stage = "submit"
)

// SubmissionOutcome is the result of walking one record through the pipeline.
type SubmissionOutcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
	Stage  Stage       `json:"stage,omitempty"`
	Err    string      `json:"error,omitempty"`
}

// Submitted returns a successful live outcome.
func Submitted() SubmissionOutcome { return SubmissionOutcome{Kind: OutcomeSubmitted} }

// DryRunOK returns the outcome of a dry run that reached the submit step.
func DryRunOK() SubmissionOutcome { return SubmissionOutcome{Kind: OutcomeDryRun} }

// Skipped returns a skip outcome with the given reason.
func Skipped(reason string) SubmissionOutcome {
	return SubmissionOutcome{Kind: OutcomeSkipped, Reason: reason}
}

// Failed returns a failure at the given stage.
func Failed(stage Stage, err error) SubmissionOutcome {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return SubmissionOutcome{Kind: OutcomeFailed, Stage: stage, Err: msg}
}

// Succeeded reports whether the record went all the way through.
func (o SubmissionOutcome) Succeeded() bool {
	return o.Kind == OutcomeSubmitted || o.Kind == OutcomeDryRun
}

func (o SubmissionOutcome) String() string {
	switch o.Kind {
	case OutcomeSkipped:
		return fmt.Sprintf("skipped(%s)", o.Reason)
	case OutcomeFailed:
		return fmt.Sprintf("failed(%s, %s)", o.Err, o.Stage)
	}
	return string(o.Kind)
}

// ReportEntry is one record's line in the run report.
type ReportEntry struct {
	Index      int
	Title      string
	Validation ValidationResult
	// Outcome is nil for invalid records and for validate-only runs.
	Outcome *SubmissionOutcome
}

// RunReport summarises one invocation. It is built once by the report
// service and not modified afterwards.
type RunReport struct {
	RunID      string
	Command    string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time

	Entries []ReportEntry

	// Aborted is set when a setup failure stopped the run.
	Aborted string

	Total       int
	Invalid     int
	Submitted   int
	DryRunOK    int
	Skipped     int
	Failed      int
	SkipReasons map[string]int
}

// Succeeded counts records that were submitted or passed a dry run.
func (r *RunReport) Succeeded() int {
	return r.Submitted + r.DryRunOK
}

// Attempted counts records that reached the submission stage.
func (r *RunReport) Attempted() int {
	return r.Succeeded() + r.Failed
}

// OK reports whether the run should exit zero.
func (r *RunReport) OK() bool {
	return r.Aborted == "" && r.Invalid == 0 && r.Failed == 0
}
