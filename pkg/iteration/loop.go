package iteration

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loopwright/agentcore/pkg/dodgate"
	"github.com/loopwright/agentcore/pkg/model"
)

// Loop drives a Plan to completion according to Config, dispatching story
// execution to a StoryExecutor (typically the Agent Scheduler) and gating
// successes through an optional dodgate quality check.
//
// Ported from the reference loop_runner's IterationLoop: the batching,
// termination, and retry/stop-on-failure rules are the same; story
// execution and quality-gate evaluation, stubs in the original, are real
// here via StoryExecutor and pkg/dodgate.
type Loop struct {
	cfg      Config
	plan     Plan
	state    *State
	batches  []Batch
	executor StoryExecutor

	// qualityProvider, when non-nil, lets the quality gate run its
	// LLM-assisted acceptance-criteria check. Nil means RunQualityGates
	// falls back to dodgate's heuristic check.
	qualityProvider model.LLM
}

// New builds a Loop for plan under cfg, executing stories via executor. It
// fails if the plan's dependency graph has a cycle.
func New(cfg Config, plan Plan, executor StoryExecutor, qualityProvider model.LLM) (*Loop, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	batches, err := GenerateBatches(plan.Stories)
	if err != nil {
		return nil, fmt.Errorf("generate batches: %w", err)
	}

	return &Loop{
		cfg:             cfg,
		plan:            plan,
		state:           NewState(plan),
		batches:         batches,
		executor:        executor,
		qualityProvider: qualityProvider,
	}, nil
}

// Resume rebuilds a Loop from a previously persisted State, for continuing
// a run that was interrupted.
func Resume(cfg Config, plan Plan, executor StoryExecutor, qualityProvider model.LLM, state *State) (*Loop, error) {
	batches, err := GenerateBatches(plan.Stories)
	if err != nil {
		return nil, fmt.Errorf("generate batches: %w", err)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	state.resetRetryQueued()
	return &Loop{cfg: cfg, plan: plan, state: state, batches: batches, executor: executor, qualityProvider: qualityProvider}, nil
}

// Run executes the loop, sending one Event per notable occurrence to
// emit, until a termination condition is reached or ctx is cancelled.
// emit is always called synchronously from Run's goroutine; the stories of
// a batch execute concurrently, and their result events are emitted after
// the whole batch has finished.
func (l *Loop) Run(ctx context.Context, emit func(Event)) (Result, error) {
	started := time.Now()
	emit(Event{Kind: EventStarted, Total: len(l.plan.Stories)})

	for {
		if err := ctx.Err(); err != nil {
			return l.finish(started, emit, err.Error()), nil
		}

		if l.shouldTerminate() {
			break
		}

		pending := l.pendingStories()
		if len(pending) == 0 {
			if !l.state.advanceBatch(len(l.batches)) {
				break
			}
			continue
		}

		l.state.incrementIteration()
		iteration := l.state.iterationCount()
		emit(Event{Kind: EventIterationStarted, Iteration: iteration})
		emit(Event{Kind: EventBatchStarted, BatchIndex: l.state.currentBatchIndex(), StoryCount: len(pending)})

		stop, err := l.executeBatch(ctx, pending, emit)
		if err != nil {
			return l.finish(started, emit, err.Error()), nil
		}

		if l.cfg.PersistState && l.cfg.ProjectRoot != "" {
			if err := l.state.Save(l.cfg.ProjectRoot); err != nil {
				emit(Event{Kind: EventError, Message: fmt.Sprintf("persist iteration state: %v", err)})
			}
		}

		completed, failed, total := l.state.counts()
		pct := 0.0
		if total > 0 {
			pct = float64(completed) / float64(total) * 100
		}
		emit(Event{Kind: EventProgress, Completed: completed, Total: total, Percent: pct})
		emit(Event{Kind: EventIterationCompleted, Iteration: iteration, Completed: completed})

		if stop {
			break
		}

		if l.cfg.PollInterval > 0 {
			select {
			case <-ctx.Done():
				return l.finish(started, emit, ctx.Err().Error()), nil
			case <-time.After(l.cfg.PollInterval):
			}
		}
	}

	return l.finish(started, emit, ""), nil
}

// shouldTerminate implements the four Mode semantics from §4.5.1.
func (l *Loop) shouldTerminate() bool {
	switch l.cfg.Mode {
	case ModeMaxIterations:
		return l.state.iterationCount() >= l.cfg.MaxIterationCount
	case ModeBatchComplete:
		return l.currentBatchComplete()
	case ModeSingleIteration:
		return l.state.iterationCount() >= 1
	default: // ModeUntilComplete
		return l.allStoriesComplete()
	}
}

func (l *Loop) allStoriesComplete() bool {
	completed, _, total := l.state.counts()
	return total > 0 && completed == total
}

func (l *Loop) currentBatchComplete() bool {
	idx := l.state.currentBatchIndex()
	if idx >= len(l.batches) {
		return true
	}
	for _, id := range l.batches[idx].StoryIDs {
		if l.state.storyStatus(id) != StatusCompleted {
			return false
		}
	}
	return true
}

// pendingStories returns up to MaxConcurrent story IDs from the current
// batch that are Pending and not already in progress.
func (l *Loop) pendingStories() []string {
	idx := l.state.currentBatchIndex()
	if idx >= len(l.batches) {
		return nil
	}

	var pending []string
	for _, id := range l.batches[idx].StoryIDs {
		if l.state.storyStatus(id) == StatusPending {
			pending = append(pending, id)
			if len(pending) >= l.cfg.MaxConcurrent {
				break
			}
		}
	}
	return pending
}

// executeBatch runs every pending story concurrently (bounded implicitly
// by the caller only ever handing it MaxConcurrent IDs at a time) and
// applies the retry/fail/stop-on-failure rules to each result. It reports
// stop=true if StopOnFailure fired.
func (l *Loop) executeBatch(ctx context.Context, ids []string, emit func(Event)) (stop bool, err error) {
	type outcome struct {
		id     string
		title  string
		result StoryResult
		runErr error
	}

	outcomes := make([]outcome, len(ids))
	grp, grpCtx := errgroup.WithContext(ctx)

	for i, id := range ids {
		i, id := i, id
		story, _ := l.plan.StoryByID(id)
		l.state.markInProgress(id)
		emit(Event{Kind: EventStoryStarted, StoryID: id, Title: story.Title})

		grp.Go(func() error {
			res, execErr := l.executor.ExecuteStory(grpCtx, story)
			outcomes[i] = outcome{id: id, title: story.Title, result: res, runErr: execErr}
			return nil
		})
	}
	_ = grp.Wait()

	for _, oc := range outcomes {
		success := oc.runErr == nil && oc.result.Success
		errMsg := oc.result.Error
		if oc.runErr != nil {
			errMsg = oc.runErr.Error()
		}

		if !success {
			emit(Event{Kind: EventStoryFailed, StoryID: oc.id, Error: errMsg})
			if l.handleFailure(oc.id, errMsg, emit) {
				return true, nil
			}
			continue
		}

		if l.cfg.RunQualityGates {
			emit(Event{Kind: EventQualityGatesStarted, StoryID: oc.id})
			story, _ := l.plan.StoryByID(oc.id)
			gate := dodgate.New(dodgate.Input{
				StoryID:            oc.id,
				AcceptanceCriteria: story.AcceptanceCriteria,
				DiffContent:        oc.result.DiffContent,
				Pipeline:           dodgate.PipelineResult{Passed: oc.result.PipelinePassed, Detail: oc.result.PipelineDetail},
				Review: dodgate.ReviewResult{
					CriticalFindings: oc.result.ReviewCriticalFindings,
					ShouldBlock:      oc.result.ReviewShouldBlock,
				},
			})
			gateResult, gateErr := gate.Run(ctx, l.qualityProvider)
			if gateErr != nil {
				emit(Event{Kind: EventError, Message: fmt.Sprintf("quality gate for %s: %v", oc.id, gateErr)})
			}
			emit(Event{Kind: EventQualityGatesResult, StoryID: oc.id, Success: gateResult.Passed})

			if !gateResult.Passed {
				notes := ""
				if len(gateResult.FailureNotes) > 0 {
					notes = gateResult.FailureNotes[0]
				}
				emit(Event{Kind: EventStoryFailed, StoryID: oc.id, Error: notes})
				if l.handleFailure(oc.id, notes, emit) {
					return true, nil
				}
				continue
			}
		}

		l.state.markCompleted(oc.id)
		emit(Event{Kind: EventStoryCompleted, StoryID: oc.id, Success: true})
	}

	emit(Event{Kind: EventBatchCompleted, BatchIndex: l.state.currentBatchIndex()})
	return false, nil
}

// handleFailure applies the retry/fail/stop-on-failure rule to one failed
// story. It returns true if the whole run must stop.
func (l *Loop) handleFailure(id, errMsg string, emit func(Event)) bool {
	if l.state.canRetry(id, l.cfg.MaxRetries) {
		l.state.queueRetry(id, errMsg)
		emit(Event{Kind: EventStoryRetryQueued, StoryID: id})
		return false
	}

	l.state.markFailed(id, errMsg)
	return l.cfg.StopOnFailure
}

func (l *Loop) finish(started time.Time, emit func(Event), errMsg string) Result {
	l.state.markDone()
	completed, failed, total := l.state.counts()

	res := Result{
		Success:          errMsg == "" && failed == 0 && completed == total,
		IterationCount:   l.state.iterationCount(),
		CompletedStories: completed,
		FailedStories:    failed,
		TotalStories:     total,
		Duration:         time.Since(started),
		Error:            errMsg,
	}

	if l.cfg.PersistState && l.cfg.ProjectRoot != "" {
		_ = l.state.Save(l.cfg.ProjectRoot)
	}

	emit(Event{Kind: EventCompleted, Result: &res})
	return res
}

// State returns the loop's current iteration state, for callers that want
// to inspect or persist it independent of Run's own persistence.
func (l *Loop) State() *State {
	return l.state
}
