package iteration

import (
	"context"
	"testing"
)

// alwaysSucceedExecutor is a StoryExecutor stub for tests that don't care
// about the Agent Scheduler, only about batching/retry/termination logic.
type alwaysSucceedExecutor struct{}

func (alwaysSucceedExecutor) ExecuteStory(ctx context.Context, story Story) (StoryResult, error) {
	return StoryResult{Success: true}, nil
}

func plan3Stories() Plan {
	return Plan{
		Name: "test-plan",
		Stories: []Story{
			{ID: "S001", Title: "first"},
			{ID: "S002", Title: "second", Dependencies: []string{"S001"}},
			{ID: "S003", Title: "third", Dependencies: []string{"S001"}},
		},
	}
}

// TestRunDependencyOrdering mirrors the spec's scenario S4: S001 (no deps),
// S002 and S003 (both depending on S001), max_concurrent=2,
// run_quality_gates=false. S001 must complete before either S002 or S003
// starts; all three stories must end up Completed.
func TestRunDependencyOrdering(t *testing.T) {
	cfg := Config{
		Mode:            ModeUntilComplete,
		MaxConcurrent:   2,
		MaxRetries:      0,
		StopOnFailure:   true,
		RunQualityGates: false,
		PersistState:    false,
	}

	l, err := New(cfg, plan3Stories(), alwaysSucceedExecutor{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var events []Event
	result, err := l.Run(context.Background(), func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !result.Success || result.CompletedStories != 3 || result.FailedStories != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	s001CompletedAt := -1
	s002StartedAt := -1
	s003StartedAt := -1
	completed := map[string]bool{}

	for i, e := range events {
		switch {
		case e.Kind == EventStoryCompleted && e.StoryID == "S001":
			s001CompletedAt = i
		case e.Kind == EventStoryStarted && e.StoryID == "S002":
			s002StartedAt = i
		case e.Kind == EventStoryStarted && e.StoryID == "S003":
			s003StartedAt = i
		}
		if e.Kind == EventStoryCompleted {
			completed[e.StoryID] = true
		}
	}

	if s001CompletedAt < 0 || s002StartedAt < 0 || s003StartedAt < 0 {
		t.Fatalf("missing expected events: %+v", events)
	}
	if s001CompletedAt > s002StartedAt || s001CompletedAt > s003StartedAt {
		t.Fatalf("S001 must complete before S002/S003 start; S001 completed at %d, S002 started at %d, S003 started at %d",
			s001CompletedAt, s002StartedAt, s003StartedAt)
	}
	if len(completed) != 3 {
		t.Fatalf("expected 3 completed stories, got %d: %v", len(completed), completed)
	}
}

// retryThenSucceedExecutor fails the first call for a given story and
// succeeds after.
type retryThenSucceedExecutor struct {
	attempts map[string]int
}

func (e *retryThenSucceedExecutor) ExecuteStory(ctx context.Context, story Story) (StoryResult, error) {
	e.attempts[story.ID]++
	if e.attempts[story.ID] < 2 {
		return StoryResult{Success: false, Error: "transient failure"}, nil
	}
	return StoryResult{Success: true}, nil
}

func TestRunRetriesBeforeFailing(t *testing.T) {
	cfg := Config{
		Mode:          ModeUntilComplete,
		MaxConcurrent: 1,
		MaxRetries:    2,
		StopOnFailure: true,
	}

	exec := &retryThenSucceedExecutor{attempts: make(map[string]int)}
	plan := Plan{Stories: []Story{{ID: "S001", Title: "flaky"}}}

	l, err := New(cfg, plan, exec, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := l.Run(context.Background(), func(Event) {})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success || result.CompletedStories != 1 {
		t.Fatalf("expected story to eventually complete after retry, got %+v", result)
	}
	if exec.attempts["S001"] != 2 {
		t.Fatalf("expected 2 attempts, got %d", exec.attempts["S001"])
	}
}

// alwaysFailExecutor fails every story, for testing stop-on-failure.
type alwaysFailExecutor struct{}

func (alwaysFailExecutor) ExecuteStory(ctx context.Context, story Story) (StoryResult, error) {
	return StoryResult{Success: false, Error: "boom"}, nil
}

func TestRunStopsOnFailureWhenRetriesExhausted(t *testing.T) {
	cfg := Config{
		Mode:          ModeUntilComplete,
		MaxConcurrent: 2,
		MaxRetries:    0,
		StopOnFailure: true,
	}

	l, err := New(cfg, plan3Stories(), alwaysFailExecutor{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := l.Run(context.Background(), func(Event) {})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure result, got %+v", result)
	}
	if result.FailedStories == 0 {
		t.Fatalf("expected at least one failed story, got %+v", result)
	}
	if result.CompletedStories == 3 {
		t.Fatalf("stop_on_failure should have prevented all stories from completing")
	}
}
