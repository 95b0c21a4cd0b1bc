// Package fallback runs a primary LLM against a chain of backup providers,
// switching to the next candidate when the current one fails in a way that
// warrants a retry elsewhere.
package fallback

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/loopwright/agentcore/pkg/model"
)

// Candidate is one entry in the fallback chain: a named, ready-to-use LLM.
type Candidate struct {
	Name string
	LLM  model.LLM
}

// Chain tries each candidate in order until one succeeds or all are
// exhausted. It never retries the same candidate twice.
type Chain struct {
	candidates []Candidate
	logger     *slog.Logger
}

// New builds a Chain. The first candidate is the primary; the rest are
// fallbacks tried in order. At least one candidate is required.
func New(candidates []Candidate, logger *slog.Logger) (*Chain, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("fallback: at least one candidate is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{candidates: candidates, logger: logger}, nil
}

// AttemptResult records the outcome of trying one candidate, for
// observability/debugging of why the chain fell through.
type AttemptResult struct {
	CandidateName string
	Err           error
	Reason        model.FailureReason
}

// GenerateContent runs the chain, attempting each candidate's
// GenerateContent in order. The returned iterator yields events from the
// first candidate that starts producing output. A candidate is considered
// failed (and the chain falls through to the next one) only if the FIRST
// event/error pair from it is an error — once a candidate starts
// successfully streaming, its subsequent errors propagate to the caller
// rather than triggering another fallback (switching providers mid-stream
// would silently duplicate output already emitted to the caller).
//
// attempts, if non-nil, is populated with one AttemptResult per candidate
// tried (including the eventual success, whose Err is nil).
func (c *Chain) GenerateContent(ctx context.Context, req *model.Request, stream bool, attempts *[]AttemptResult) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		for i, cand := range c.candidates {
			seq := cand.LLM.GenerateContent(ctx, req, stream)

			started := false
			failed := false
			var failErr error

			for resp, err := range seq {
				if !started {
					started = true
					if err != nil {
						failed = true
						failErr = err
						reason := model.ClassifyError(err)
						if attempts != nil {
							*attempts = append(*attempts, AttemptResult{CandidateName: cand.Name, Err: err, Reason: reason})
						}
						c.logger.Warn("fallback: candidate failed on first event",
							"candidate", cand.Name, "reason", reason, "error", err)
						break
					}
					if attempts != nil {
						*attempts = append(*attempts, AttemptResult{CandidateName: cand.Name})
					}
				}
				if !yield(resp, err) {
					return
				}
			}

			if !failed {
				return
			}

			reason := model.ClassifyError(failErr)
			if !reason.ShouldFallback() || i == len(c.candidates)-1 {
				yield(nil, fmt.Errorf("fallback: candidate %q failed (%s): %w", cand.Name, reason, failErr))
				return
			}
			// fall through to next candidate
		}
	}
}
