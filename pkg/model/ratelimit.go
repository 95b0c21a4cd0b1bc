// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"context"
	"iter"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited wraps an LLM with a client-side token-bucket limiter so a
// provider's own 429s are pre-empted where possible. It complements, and
// does not replace, the RateLimited retry-after honoring a caller applies
// on top of the fallback chain.
type RateLimited struct {
	llm     LLM
	limiter *rate.Limiter
}

// NewRateLimited wraps llm with a limiter allowing up to requestsPerMinute
// calls per minute, with a burst of burst concurrent calls admitted without
// waiting. A non-positive requestsPerMinute disables limiting entirely.
func NewRateLimited(llm LLM, requestsPerMinute int, burst int) LLM {
	if requestsPerMinute <= 0 {
		return llm
	}
	if burst <= 0 {
		burst = 1
	}
	every := rate.Every(time.Minute / time.Duration(requestsPerMinute))
	return &RateLimited{llm: llm, limiter: rate.NewLimiter(every, burst)}
}

func (r *RateLimited) Name() string       { return r.llm.Name() }
func (r *RateLimited) Provider() Provider  { return r.llm.Provider() }
func (r *RateLimited) Close() error        { return r.llm.Close() }

// GenerateContent waits for the limiter before delegating to the wrapped
// LLM. A limiter wait that fails because the context was canceled surfaces
// as a FailureCanceled ProviderError, which stops the fallback chain. Any
// other failed wait (a deadline or burst the limiter can never satisfy)
// surfaces as FailureRateLimited, which the chain treats like a provider's
// own 429.
func (r *RateLimited) GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if err := r.limiter.Wait(ctx); err != nil {
			reason := FailureRateLimited
			if ctx.Err() == context.Canceled {
				reason = FailureCanceled
			}
			yield(nil, &ProviderError{Reason: reason, Provider: r.llm.Provider(), Err: err})
			return
		}
		for resp, err := range r.llm.GenerateContent(ctx, req, stream) {
			if !yield(resp, err) {
				return
			}
		}
	}
}

var _ LLM = (*RateLimited)(nil)
