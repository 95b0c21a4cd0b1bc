// Package hector is the root of the agentcore module, a declarative AI coding agent.
//
// Agents, LLMs and tools are defined in YAML configuration and run by the
// hector command-line tool. Messages and parts use the A2A (Agent-to-Agent)
// message types from github.com/a2aproject/a2a-go.
//
// # Quick Start
//
// Install Hector:
//
//	go install github.com/loopwright/agentcore/cmd/hector@latest
//
// Create a simple agent configuration:
//
//	yaml
//	agents:
//	  assistant:
//	    name: "My Assistant"
//	    llm: "gpt-4o"
//	    prompt:
//	      system_prompt: "You are a helpful assistant"
//
//	llms:
//	  gpt-4o:
//	    provider: "openai"
//	    model: "gpt-4o-mini"
//	    api_key: "${OPENAI_API_KEY}"
//
// Run the agent:
//
//	hector chat my-agent.yaml
//
// Other commands: iterate, validate, info, schema and version.
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/loopwright/agentcore/pkg/agent"
//	    "github.com/loopwright/agentcore/pkg/config"
//	)
//
// # Key Features
//
//   - **Declarative YAML**: Define agents, LLMs and tools without code
//   - **Multi-Agent Orchestration**: sub-agent transfer, agents as tools, and sequential/parallel/loop workflows
//   - **Built-in Tools**: Search, file ops, commands, todos
//
// # Alpha Status
//
// Hector is currently in alpha development. APIs may change, and some
// features are experimental. We welcome feedback and contributions!
//
// # Documentation
//
// For complete documentation, see:
//   - [README](https://github.com/loopwright/agentcore/blob/main/README.md)
//   - [API Reference](https://godoc.org/github.com/loopwright/agentcore)
//   - [Configuration Guide](https://github.com/loopwright/agentcore/blob/main/docs/CONFIGURATION.md)
//
// # License
//
// AGPL-3.0 - See LICENSE.md for details.
package hector
