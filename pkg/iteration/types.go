// Package iteration drives a plan of dependent stories to completion across
// repeated batches, the way an engineer works a backlog: pick the stories
// whose dependencies are satisfied, run as many of them concurrently as
// max_concurrent allows, gate each success against its acceptance criteria,
// retry or fail, and persist progress after every batch so a crash resumes
// instead of restarting.
package iteration

import (
	"context"
	"time"
)

// Status is the lifecycle state of one story within a run.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusRetryQueued Status = "retry_queued"
)

// Story is one unit of work in a Plan: an agent-executable change with
// acceptance criteria and dependencies on other stories by ID.
type Story struct {
	ID                 string   `yaml:"id" json:"id"`
	Title              string   `yaml:"title" json:"title"`
	Prompt             string   `yaml:"prompt" json:"prompt"`
	Dependencies       []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria,omitempty" json:"acceptance_criteria,omitempty"`
}

// Plan is the full backlog driving one iteration run.
type Plan struct {
	Name    string  `yaml:"name" json:"name"`
	Stories []Story `yaml:"stories" json:"stories"`
}

// StoryByID returns the story with the given ID, or false if none exists.
func (p *Plan) StoryByID(id string) (Story, bool) {
	for _, s := range p.Stories {
		if s.ID == id {
			return s, true
		}
	}
	return Story{}, false
}

// Mode selects when a Loop.Run call considers the run terminated. It
// mirrors the original Rust IterationMode, which is a tagged union
// (MaxIterations carries its count); Go has no enum payloads, so the count
// travels separately on Config.MaxIterationCount.
type Mode string

const (
	// ModeUntilComplete runs until every story is Completed.
	ModeUntilComplete Mode = "until_complete"
	// ModeMaxIterations runs until Config.MaxIterationCount batches have run.
	ModeMaxIterations Mode = "max_iterations"
	// ModeBatchComplete runs until the current batch is fully Completed.
	ModeBatchComplete Mode = "batch_complete"
	// ModeSingleIteration runs exactly one batch pass then stops.
	ModeSingleIteration Mode = "single_iteration"
)

// Config configures one iteration run.
type Config struct {
	Mode Mode

	// MaxIterationCount is the iteration cap for ModeMaxIterations.
	MaxIterationCount int

	// MaxConcurrent bounds how many pending stories of the current batch
	// run at once. Default 1 (serial) if zero or negative.
	MaxConcurrent int

	// MaxRetries is how many times a failed story may be requeued before
	// it is marked Failed for good.
	MaxRetries int

	// StopOnFailure aborts the whole run the first time a story exhausts
	// its retries, rather than continuing with the rest of the batch.
	StopOnFailure bool

	// RunQualityGates runs a dodgate.Gate against each successful story
	// before marking it Completed.
	RunQualityGates bool

	// PollInterval is the delay between iterations. Zero means no delay.
	PollInterval time.Duration

	// ProjectRoot is where .iteration-state.json is written.
	ProjectRoot string

	// PersistState enables writing iteration state to disk after each
	// batch. The zero value leaves persistence off; the hector iterate
	// command sets it to true.
	PersistState bool
}

// StoryResult is what a StoryExecutor reports back for one story attempt.
type StoryResult struct {
	Success bool
	Error   string

	// DiffContent is the unified diff the story produced, if any; used by
	// the quality gate's acceptance-criteria check.
	DiffContent string

	// Pipeline and Review feed dodgate.Input when RunQualityGates is set.
	// Executors that don't run a pipeline/review should leave these at
	// their zero value (Pipeline.Passed defaults false, which fails the
	// gate) unless RunQualityGates is false.
	PipelinePassed bool
	PipelineDetail string

	ReviewCriticalFindings int
	ReviewShouldBlock      bool
}

// StoryExecutor runs one story to completion, however "running" is defined
// by the caller — typically dispatching it to the Agent Scheduler as a
// prompt against a fresh or continued session.
type StoryExecutor interface {
	ExecuteStory(ctx context.Context, story Story) (StoryResult, error)
}

// EventKind identifies the kind of Event emitted during a run.
type EventKind string

const (
	EventStarted             EventKind = "started"
	EventIterationStarted    EventKind = "iteration_started"
	EventBatchStarted        EventKind = "batch_started"
	EventStoryStarted        EventKind = "story_started"
	EventStoryCompleted      EventKind = "story_completed"
	EventStoryFailed         EventKind = "story_failed"
	EventStoryRetryQueued    EventKind = "story_retry_queued"
	EventQualityGatesStarted EventKind = "quality_gates_started"
	EventQualityGatesResult  EventKind = "quality_gates_result"
	EventBatchCompleted      EventKind = "batch_completed"
	EventIterationCompleted  EventKind = "iteration_completed"
	EventProgress            EventKind = "progress"
	EventCompleted           EventKind = "completed"
	EventError               EventKind = "error"
)

// Event is one notification emitted while a Loop runs. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	Iteration  int
	BatchIndex int
	StoryCount int

	StoryID string
	Title   string
	Success bool
	Error   string

	RetryNumber int

	Completed int
	Total     int
	Percent   float64

	Message string

	Result *Result
}

// Result summarizes a completed (or aborted) iteration run.
type Result struct {
	Success            bool
	IterationCount     int
	CompletedStories   int
	FailedStories      int
	TotalStories       int
	Duration           time.Duration
	Error              string
	QualityGatesPassed bool
}
