package iteration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// stateFileName is the on-disk iteration state document, written under
// Config.ProjectRoot.
const stateFileName = ".iteration-state.json"

// StoryState is one story's persisted progress.
type StoryState struct {
	Status     Status `json:"status"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
}

// State is the full persisted snapshot of an iteration run. Reads and
// writes go through State's methods, which hold mu only long enough to
// mutate counters or maps — never across I/O or story execution.
type State struct {
	mu sync.RWMutex

	IterationCount int                    `json:"iteration_count"`
	CurrentBatch   int                    `json:"current_batch"`
	Stories        map[string]*StoryState `json:"stories"`
	InProgress     map[string]bool        `json:"in_progress,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    time.Time              `json:"completed_at,omitempty"`
	Done           bool                   `json:"done"`
}

// NewState creates a State with every story in the plan set to Pending.
func NewState(plan Plan) *State {
	stories := make(map[string]*StoryState, len(plan.Stories))
	for _, s := range plan.Stories {
		stories[s.ID] = &StoryState{Status: StatusPending}
	}
	return &State{
		Stories:    stories,
		InProgress: make(map[string]bool),
		StartedAt:  time.Now(),
	}
}

func (st *State) storyStatus(id string) Status {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if s, ok := st.Stories[id]; ok {
		return s.Status
	}
	return StatusPending
}

func (st *State) markInProgress(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.InProgress[id] = true
	if s, ok := st.Stories[id]; ok {
		s.Status = StatusInProgress
	}
}

func (st *State) clearInProgress(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.InProgress, id)
}

func (st *State) markCompleted(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.InProgress, id)
	if s, ok := st.Stories[id]; ok {
		s.Status = StatusCompleted
		s.LastError = ""
	}
}

func (st *State) markFailed(id, errMsg string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.InProgress, id)
	if s, ok := st.Stories[id]; ok {
		s.Status = StatusFailed
		s.LastError = errMsg
	}
}

// queueRetry records a retry and resets the story to Pending so the next
// iteration's batch pass picks it up again; StatusRetryQueued is reported
// through the emitted Event only, never persisted as the resting status.
func (st *State) queueRetry(id, errMsg string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.InProgress, id)
	if s, ok := st.Stories[id]; ok {
		s.Status = StatusPending
		s.RetryCount++
		s.LastError = errMsg
	}
}

// canRetry reports whether id has not yet exhausted maxRetries.
func (st *State) canRetry(id string, maxRetries int) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.Stories[id]
	if !ok {
		return false
	}
	return s.RetryCount < maxRetries
}

// resetRetryQueued flips every RetryQueued story back to Pending so the
// next iteration picks it up again.
func (st *State) resetRetryQueued() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.Stories {
		if s.Status == StatusRetryQueued {
			s.Status = StatusPending
		}
	}
}

func (st *State) counts() (completed, failed, total int) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	total = len(st.Stories)
	for _, s := range st.Stories {
		switch s.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}
	return
}

func (st *State) incrementIteration() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.IterationCount++
}

func (st *State) iterationCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.IterationCount
}

func (st *State) advanceBatch(total int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.CurrentBatch >= total-1 {
		return false
	}
	st.CurrentBatch++
	return true
}

func (st *State) currentBatchIndex() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.CurrentBatch
}

func (st *State) markDone() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.Done = true
	st.CompletedAt = time.Now()
}

// snapshot returns a deep-enough copy of st suitable for JSON encoding
// without holding the lock during I/O.
func (st *State) snapshot() State {
	st.mu.RLock()
	defer st.mu.RUnlock()

	stories := make(map[string]*StoryState, len(st.Stories))
	for id, s := range st.Stories {
		cp := *s
		stories[id] = &cp
	}
	inProgress := make(map[string]bool, len(st.InProgress))
	for id := range st.InProgress {
		inProgress[id] = true
	}

	return State{
		IterationCount: st.IterationCount,
		CurrentBatch:   st.CurrentBatch,
		Stories:        stories,
		InProgress:     inProgress,
		StartedAt:      st.StartedAt,
		CompletedAt:    st.CompletedAt,
		Done:           st.Done,
	}
}

// Save writes st to <projectRoot>/.iteration-state.json atomically: the
// document is written to a temp file in the same directory, then renamed
// into place, so a crash mid-write never leaves a truncated or partially
// written state file behind. The standard library has no atomic-file-write
// helper and nothing in the example corpus wraps one either, so this is a
// small stdlib-only implementation (see DESIGN.md).
func (st *State) Save(projectRoot string) error {
	snap := st.snapshot()

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal iteration state: %w", err)
	}

	path := filepath.Join(projectRoot, stateFileName)
	tmp, err := os.CreateTemp(projectRoot, ".iteration-state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp state file into place: %w", err)
	}
	return nil
}

// LoadState reads a previously persisted state file, for resuming a run.
func LoadState(projectRoot string) (*State, error) {
	path := filepath.Join(projectRoot, stateFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read iteration state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal iteration state: %w", err)
	}
	if st.Stories == nil {
		st.Stories = make(map[string]*StoryState)
	}
	if st.InProgress == nil {
		st.InProgress = make(map[string]bool)
	}
	return &st, nil
}
