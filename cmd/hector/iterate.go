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

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"gopkg.in/yaml.v3"

	"github.com/loopwright/agentcore/pkg/agent"
	"github.com/loopwright/agentcore/pkg/config"
	"github.com/loopwright/agentcore/pkg/iteration"
	"github.com/loopwright/agentcore/pkg/session"
)

// IterateCmd drives a plan of dependent stories to completion, dispatching
// each story to the named agent as a single-turn prompt.
type IterateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`
	Plan   string `arg:"" name:"plan" help:"Plan YAML file path." placeholder:"PATH"`
	Agent  string `short:"a" help:"Agent name to execute stories. Defaults to the config's first/default agent."`

	Mode            string        `help:"Iteration mode: until_complete, max_iterations, batch_complete, single_iteration." default:"until_complete"`
	MaxIterations   int           `help:"Iteration cap for mode=max_iterations."`
	MaxConcurrent   int           `help:"Max stories to run concurrently per batch." default:"1"`
	MaxRetries      int           `help:"Max retries per failed story." default:"1"`
	StopOnFailure   bool          `help:"Stop the whole run the first time a story exhausts its retries." default:"true"`
	RunQualityGates bool          `help:"Run the quality gate against each successful story before marking it done."`
	PollInterval    time.Duration `help:"Delay between iterations."`
	ProjectRoot     string        `help:"Directory .iteration-state.json is written to." default:"."`
	Resume          bool          `help:"Resume from a previously persisted .iteration-state.json."`
}

func (c *IterateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	_ = config.LoadEnvFiles()

	cfg, loader, err := config.LoadConfigFile(ctx, c.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if loader != nil {
		defer loader.Close()
	}

	agentName := c.Agent
	if agentName == "" {
		names := cfg.ListAgents()
		if len(names) == 0 {
			return fmt.Errorf("configuration defines no agents")
		}
		agentName = names[0]
	}

	ag, err := buildAgent(cfg, agentName)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}

	planData, err := os.ReadFile(c.Plan)
	if err != nil {
		return fmt.Errorf("read plan: %w", err)
	}
	var plan iteration.Plan
	if err := yaml.Unmarshal(planData, &plan); err != nil {
		return fmt.Errorf("parse plan: %w", err)
	}

	svc := session.InMemoryService()
	executor := &agentStoryExecutor{agent: ag, sessions: svc}

	iterCfg := iteration.Config{
		Mode:              iteration.Mode(c.Mode),
		MaxIterationCount: c.MaxIterations,
		MaxConcurrent:     c.MaxConcurrent,
		MaxRetries:        c.MaxRetries,
		StopOnFailure:     c.StopOnFailure,
		RunQualityGates:   c.RunQualityGates,
		PollInterval:      c.PollInterval,
		ProjectRoot:       c.ProjectRoot,
		PersistState:      true,
	}

	var loop *iteration.Loop
	if c.Resume {
		st, err := iteration.LoadState(c.ProjectRoot)
		if err != nil {
			return fmt.Errorf("load iteration state: %w", err)
		}
		loop, err = iteration.Resume(iterCfg, plan, executor, nil, st)
		if err != nil {
			return fmt.Errorf("resume iteration loop: %w", err)
		}
	} else {
		loop, err = iteration.New(iterCfg, plan, executor, nil)
		if err != nil {
			return fmt.Errorf("build iteration loop: %w", err)
		}
	}

	result, err := loop.Run(ctx, printIterationEvent)
	if err != nil {
		return fmt.Errorf("run iteration loop: %w", err)
	}

	fmt.Printf("\ndone: %d/%d stories completed, %d failed, %d iterations (%s)\n",
		result.CompletedStories, result.TotalStories, result.FailedStories, result.IterationCount, result.Duration)
	if !result.Success {
		return fmt.Errorf("iteration run did not complete successfully")
	}
	return nil
}

func printIterationEvent(e iteration.Event) {
	switch e.Kind {
	case iteration.EventStarted:
		fmt.Printf("[iteration] starting run: %d stories\n", e.Total)
	case iteration.EventBatchStarted:
		fmt.Printf("[iteration] batch %d: %d stories\n", e.BatchIndex, e.StoryCount)
	case iteration.EventStoryStarted:
		fmt.Printf("[iteration]   %s: %s — started\n", e.StoryID, e.Title)
	case iteration.EventStoryCompleted:
		fmt.Printf("[iteration]   %s: completed\n", e.StoryID)
	case iteration.EventStoryFailed:
		fmt.Printf("[iteration]   %s: failed — %s\n", e.StoryID, e.Error)
	case iteration.EventStoryRetryQueued:
		fmt.Printf("[iteration]   %s: retrying\n", e.StoryID)
	case iteration.EventQualityGatesResult:
		fmt.Printf("[iteration]   %s: quality gate %s\n", e.StoryID, passFail(e.Success))
	case iteration.EventProgress:
		fmt.Printf("[iteration] progress: %d/%d (%.0f%%)\n", e.Completed, e.Total, e.Percent)
	case iteration.EventError:
		fmt.Printf("[iteration] error: %s\n", e.Message)
	}
}

func passFail(ok bool) string {
	if ok {
		return "passed"
	}
	return "failed"
}

// agentStoryExecutor dispatches one story to the Agent Scheduler as a
// single-turn prompt built from the story's title and acceptance criteria,
// running it in a fresh session so stories don't share conversation state.
type agentStoryExecutor struct {
	agent    agent.Agent
	sessions session.Service
}

func (e *agentStoryExecutor) ExecuteStory(ctx context.Context, story iteration.Story) (iteration.StoryResult, error) {
	sessResp, err := e.sessions.Create(ctx, &session.CreateRequest{
		AppName: "hector-iterate",
		UserID:  "iteration-loop",
	})
	if err != nil {
		return iteration.StoryResult{}, fmt.Errorf("create session for story %s: %w", story.ID, err)
	}

	ictx := agent.NewInvocationContext(ctx, agent.InvocationContextParams{
		Agent:       e.agent,
		Session:     sessResp.Session,
		UserContent: agent.NewTextContent(storyPrompt(story), a2a.MessageRoleUser),
	})

	// Persist the prompt and each complete event: the agent reads the
	// conversation back from the session on every step.
	appender, _ := sessResp.Session.(interface{ AppendEvent(*agent.Event) })
	if appender != nil {
		userEvent := agent.NewEvent(ictx.InvocationID())
		userEvent.Author = agent.AuthorUser
		userEvent.Message = a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: storyPrompt(story)})
		appender.AppendEvent(userEvent)
	}

	var lastText strings.Builder
	for event, err := range e.agent.Run(ictx) {
		if err != nil {
			return iteration.StoryResult{Success: false, Error: err.Error()}, nil
		}
		if appender != nil && event != nil && !event.Partial {
			appender.AppendEvent(event)
		}
		if event != nil {
			lastText.WriteString(event.TextContent())
		}
	}

	return iteration.StoryResult{Success: true, DiffContent: lastText.String(), PipelinePassed: true}, nil
}

func storyPrompt(story iteration.Story) string {
	var b strings.Builder
	b.WriteString(story.Title)
	if story.Prompt != "" {
		b.WriteString("\n\n")
		b.WriteString(story.Prompt)
	}
	if len(story.AcceptanceCriteria) > 0 {
		b.WriteString("\n\nAcceptance criteria:\n")
		for _, c := range story.AcceptanceCriteria {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	return b.String()
}
