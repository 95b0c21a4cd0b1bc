package fallback

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopwright/agentcore/pkg/model"
)

type fakeLLM struct {
	name   string
	events []fakeEvent
}

type fakeEvent struct {
	resp *model.Response
	err  error
}

func (f *fakeLLM) Name() string          { return f.name }
func (f *fakeLLM) Provider() model.Provider { return model.ProviderUnknown }
func (f *fakeLLM) Close() error          { return nil }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		for _, e := range f.events {
			if !yield(e.resp, e.err) {
				return
			}
		}
	}
}

func TestChain_PrimarySucceeds(t *testing.T) {
	primary := &fakeLLM{name: "primary", events: []fakeEvent{
		{resp: &model.Response{FinishReason: model.FinishReasonStop}},
	}}
	chain, err := New([]Candidate{{Name: "primary", LLM: primary}}, nil)
	require.NoError(t, err)

	var attempts []AttemptResult
	var got []*model.Response
	for resp, err := range chain.GenerateContent(context.Background(), &model.Request{}, false, &attempts) {
		require.NoError(t, err)
		got = append(got, resp)
	}
	assert.Len(t, got, 1)
	require.Len(t, attempts, 1)
	assert.Equal(t, "primary", attempts[0].CandidateName)
	assert.NoError(t, attempts[0].Err)
}

func TestChain_FallsThroughOnRateLimit(t *testing.T) {
	primary := &fakeLLM{name: "primary", events: []fakeEvent{
		{err: &model.ProviderError{Reason: model.FailureRateLimited, Err: errors.New("429")}},
	}}
	backup := &fakeLLM{name: "backup", events: []fakeEvent{
		{resp: &model.Response{FinishReason: model.FinishReasonStop}},
	}}
	chain, err := New([]Candidate{{Name: "primary", LLM: primary}, {Name: "backup", LLM: backup}}, nil)
	require.NoError(t, err)

	var attempts []AttemptResult
	var got []*model.Response
	for resp, err := range chain.GenerateContent(context.Background(), &model.Request{}, false, &attempts) {
		require.NoError(t, err)
		got = append(got, resp)
	}
	assert.Len(t, got, 1)
	require.Len(t, attempts, 2)
	assert.Equal(t, "primary", attempts[0].CandidateName)
	assert.Equal(t, model.FailureRateLimited, attempts[0].Reason)
	assert.Equal(t, "backup", attempts[1].CandidateName)
	assert.NoError(t, attempts[1].Err)
}

func TestChain_AllFail(t *testing.T) {
	primary := &fakeLLM{name: "primary", events: []fakeEvent{
		{err: &model.ProviderError{Reason: model.FailureServerError, Err: errors.New("500")}},
	}}
	backup := &fakeLLM{name: "backup", events: []fakeEvent{
		{err: &model.ProviderError{Reason: model.FailureTimeout, Err: errors.New("timeout")}},
	}}
	chain, err := New([]Candidate{{Name: "primary", LLM: primary}, {Name: "backup", LLM: backup}}, nil)
	require.NoError(t, err)

	var gotErr error
	for _, err := range chain.GenerateContent(context.Background(), &model.Request{}, false, nil) {
		if err != nil {
			gotErr = err
		}
	}
	require.Error(t, gotErr)
}

func TestChain_MidStreamErrorDoesNotFallThrough(t *testing.T) {
	primary := &fakeLLM{name: "primary", events: []fakeEvent{
		{resp: &model.Response{Partial: true}},
		{err: &model.ProviderError{Reason: model.FailureServerError, Err: errors.New("500 mid-stream")}},
	}}
	backup := &fakeLLM{name: "backup", events: []fakeEvent{
		{resp: &model.Response{FinishReason: model.FinishReasonStop}},
	}}
	chain, err := New([]Candidate{{Name: "primary", LLM: primary}, {Name: "backup", LLM: backup}}, nil)
	require.NoError(t, err)

	var sawMidStreamErr bool
	for _, err := range chain.GenerateContent(context.Background(), &model.Request{}, true, nil) {
		if err != nil {
			sawMidStreamErr = true
		}
	}
	assert.True(t, sawMidStreamErr, "an error after a successful start must propagate, not trigger fallback")
}
