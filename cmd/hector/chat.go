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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/loopwright/agentcore/pkg/agent"
	"github.com/loopwright/agentcore/pkg/config"
	"github.com/loopwright/agentcore/pkg/session"
)

// ChatCmd drives an agent either for a single --input prompt or, when no
// input is given, as an interactive REPL against the local session service.
type ChatCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`
	Agent  string `short:"a" help:"Agent name to run. Defaults to the config's first/default agent."`
	Input  string `short:"i" help:"Run a single prompt non-interactively and exit."`
}

func (c *ChatCmd) Run(cli *CLI) error {
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

	svc := session.InMemoryService()
	sessResp, err := svc.Create(ctx, &session.CreateRequest{
		AppName: "hector",
		UserID:  "cli-user",
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	sess := sessResp.Session

	if c.Input != "" {
		return runTurn(ctx, ag, sess, c.Input, os.Stdout)
	}
	return runREPL(ctx, ag, sess)
}

// runTurn drives one invocation of ag for a single user message, streaming
// printed output to w as events arrive.
func runTurn(ctx context.Context, ag agent.Agent, sess agent.Session, input string, w *os.File) error {
	ictx := agent.NewInvocationContext(ctx, agent.InvocationContextParams{
		Agent:       ag,
		Session:     sess,
		UserContent: agent.NewTextContent(input, a2a.MessageRoleUser),
	})

	// Persist the user message and each complete event: the agent reads the
	// conversation back from the session on every step.
	appender, _ := sess.(interface{ AppendEvent(*agent.Event) })
	if appender != nil {
		userEvent := agent.NewEvent(ictx.InvocationID())
		userEvent.Author = agent.AuthorUser
		userEvent.Message = a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: input})
		appender.AppendEvent(userEvent)
	}

	for event, err := range ag.Run(ictx) {
		if err != nil {
			return fmt.Errorf("agent run: %w", err)
		}
		if appender != nil && event != nil && !event.Partial {
			appender.AppendEvent(event)
		}
		printEvent(w, event)
	}
	return nil
}

func printEvent(w *os.File, event *agent.Event) {
	if event == nil {
		return
	}
	if text := event.TextContent(); text != "" {
		fmt.Fprint(w, text)
		if !event.Partial {
			fmt.Fprintln(w)
		}
	}
	for _, call := range event.ToolCalls {
		fmt.Fprintf(w, "\n[tool] %s(%v)\n", call.Name, call.Args)
	}
}

// runREPL runs an interactive loop reading lines from stdin until /quit
// or EOF, printing agent output for each turn.
func runREPL(ctx context.Context, ag agent.Agent, sess agent.Session) error {
	fmt.Printf("hector chat — agent %q. Type /quit to exit.\n", ag.Name())
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/quit", "/exit":
			return nil
		case "/clear":
			fmt.Println("(context is not cleared mid-session; start a new run to reset)")
			continue
		}

		if err := runTurn(ctx, ag, sess, line, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println()
	}
}
