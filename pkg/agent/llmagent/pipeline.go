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

package llmagent

import (
	"fmt"

	"github.com/loopwright/agentcore/pkg/agent"
	"github.com/loopwright/agentcore/pkg/loopdetect"
	"github.com/loopwright/agentcore/pkg/memory"
	"github.com/loopwright/agentcore/pkg/model"
)

// processorContext is the context threaded through a Pipeline run. It gives
// processors read access to the invocation, the owning agent's configuration,
// and (per run) the loop detector, so the default tools processor can strip
// tool names the detector has escalated past Warning.
type processorContext struct {
	agent.InvocationContext

	agentRef             *llmAgent
	loopDetector         *loopdetect.Detector
	sessionMemory        *memory.SessionMemory
	sessionMemoryManager *memory.SessionMemoryManager
}

// newProcessorContext builds a processorContext for one Flow step.
func newProcessorContext(ctx agent.InvocationContext, a *llmAgent, ld *loopdetect.Detector, sm *memory.SessionMemory, smm *memory.SessionMemoryManager) *processorContext {
	return &processorContext{
		InvocationContext:    ctx,
		agentRef:             a,
		loopDetector:         ld,
		sessionMemory:        sm,
		sessionMemoryManager: smm,
	}
}

// RequestProcessor prepares or amends a model.Request before it is sent to
// the LLM. Custom processors supplied via Config.RequestProcessors run after
// the pipeline's default processors (contents, instruction, tools, session memory).
type RequestProcessor interface {
	ProcessRequest(ctx *processorContext, req *model.Request) error
}

// ResponseProcessor inspects or amends a model.Response after the LLM call,
// before it is turned into an agent.Event.
type ResponseProcessor interface {
	ProcessResponse(ctx *processorContext, req *model.Request, resp *model.Response) error
}

// Pipeline runs the ordered chain of request/response processors for a Flow.
// The zero value is not usable; construct with NewPipeline.
type Pipeline struct {
	requestProcessors  []RequestProcessor
	responseProcessors []ResponseProcessor
}

// NewPipeline builds a Pipeline seeded with the default processors: contents
// (conversation history), instruction (system prompt), tools (tool
// declarations, filtered by the run's loop detector), and session memory.
func NewPipeline() *Pipeline {
	return &Pipeline{
		requestProcessors: []RequestProcessor{
			&contentsRequestProcessor{},
			&instructionRequestProcessor{},
			&toolsRequestProcessor{},
			&sessionMemoryRequestProcessor{},
		},
	}
}

// AddRequestProcessor appends a processor to run after the defaults.
func (p *Pipeline) AddRequestProcessor(proc RequestProcessor) {
	p.requestProcessors = append(p.requestProcessors, proc)
}

// AddResponseProcessor appends a processor to run after the defaults.
func (p *Pipeline) AddResponseProcessor(proc ResponseProcessor) {
	p.responseProcessors = append(p.responseProcessors, proc)
}

// ProcessRequest runs every request processor in order, stopping at the
// first error.
func (p *Pipeline) ProcessRequest(ctx *processorContext, req *model.Request) error {
	for _, proc := range p.requestProcessors {
		if err := proc.ProcessRequest(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// ProcessResponse runs every response processor in order, stopping at the
// first error.
func (p *Pipeline) ProcessResponse(ctx *processorContext, req *model.Request, resp *model.Response) error {
	for _, proc := range p.responseProcessors {
		if err := proc.ProcessResponse(ctx, req, resp); err != nil {
			return err
		}
	}
	return nil
}

// contentsRequestProcessor populates req.Messages from session history,
// delegating to the agent's own buildMessages (branch filtering, working
// memory, thinking-block reconstruction, etc).
type contentsRequestProcessor struct{}

func (contentsRequestProcessor) ProcessRequest(ctx *processorContext, req *model.Request) error {
	req.Messages = ctx.agentRef.buildMessages(ctx.InvocationContext)
	return nil
}

// instructionRequestProcessor assembles the system instruction from the
// global instruction, the agent's own instruction, and the reasoning loop's
// completion guidelines, in that order.
type instructionRequestProcessor struct{}

func (instructionRequestProcessor) ProcessRequest(ctx *processorContext, req *model.Request) error {
	a := ctx.agentRef
	var parts []string

	global := a.globalInstruction
	if a.globalInstructionProvider != nil {
		g, err := a.globalInstructionProvider(ctx.InvocationContext)
		if err != nil {
			return fmt.Errorf("global instruction provider: %w", err)
		}
		global = g
	}
	if global != "" {
		parts = append(parts, global)
	}

	instruction := a.instruction
	if a.instructionProvider != nil {
		i, err := a.instructionProvider(ctx.InvocationContext)
		if err != nil {
			return fmt.Errorf("instruction provider: %w", err)
		}
		instruction = i
	}
	if instruction != "" {
		parts = append(parts, instruction)
	}

	if completion := a.buildCompletionInstruction(); completion != "" {
		parts = append(parts, completion)
	}

	req.SystemInstruction = joinInstructions(parts)
	return nil
}

// toolsRequestProcessor populates req.Tools and req.Config. Tool names the
// run's loop detector has escalated to StripTools or beyond are omitted from
// the declarations sent to the model, so it can no longer call them.
type toolsRequestProcessor struct{}

func (toolsRequestProcessor) ProcessRequest(ctx *processorContext, req *model.Request) error {
	defs := ctx.agentRef.collectToolDefinitions(ctx.InvocationContext)

	if ctx.loopDetector != nil {
		filtered := defs[:0]
		for _, d := range defs {
			if ctx.loopDetector.IsStripped(d.Name) {
				continue
			}
			filtered = append(filtered, d)
		}
		defs = filtered
	}

	req.Tools = defs
	req.Config = ctx.agentRef.generateConfig
	return nil
}

// sessionMemoryRequestProcessor keeps the Layer 2 session memory message
// (§4.3.7) up to date at a fixed index in req.Messages, right after the
// contents processor has populated conversation history. A no-op when the
// run's agent has session memory disabled.
type sessionMemoryRequestProcessor struct{}

func (sessionMemoryRequestProcessor) ProcessRequest(ctx *processorContext, req *model.Request) error {
	if ctx.sessionMemory == nil || ctx.sessionMemoryManager == nil {
		return nil
	}
	req.Messages = ctx.sessionMemoryManager.UpdateOrInsert(req.Messages, ctx.sessionMemory)
	return nil
}
