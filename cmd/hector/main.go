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

// Command hector is the CLI for the agentcore coding agent.
//
// Usage:
//
//	hector chat config.yaml
//	hector chat config.yaml --input "explain this function"
//	hector validate config.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/loopwright/agentcore/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Chat     ChatCmd     `cmd:"" help:"Run an agent interactively or for a single prompt."`
	Info     InfoCmd     `cmd:"" help:"Show agent information from a config file."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for config files."`
	Iterate  IterateCmd  `cmd:"" help:"Drive a plan of dependent stories to completion."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("hector version %s\n", version)
	return nil
}

// InfoCmd shows agent information defined in a config file.
type InfoCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." placeholder:"PATH"`
	Agent  string `arg:"" optional:"" help:"Agent name to show info for."`
}

func (c *InfoCmd) Run(cli *CLI) error {
	ctx := context.Background()
	_ = config.LoadEnvFiles()

	cfg, loader, err := config.LoadConfigFile(ctx, c.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer loader.Close()

	if c.Agent == "" {
		fmt.Println("Available agents:")
		for _, name := range cfg.ListAgents() {
			ag, _ := cfg.GetAgent(name)
			desc := ag.Description
			if desc == "" {
				desc = "(no description)"
			}
			fmt.Printf("  - %s: %s\n", name, desc)
		}
		return nil
	}

	ag, ok := cfg.GetAgent(c.Agent)
	if !ok {
		return fmt.Errorf("agent %q not found", c.Agent)
	}

	fmt.Printf("\nAgent: %s\n", c.Agent)
	fmt.Printf("————————————————————————————————\n")
	if ag.Description != "" {
		fmt.Printf("Description: %s\n", ag.Description)
	}
	fmt.Printf("LLM:         %s\n", ag.LLM)
	if len(ag.Tools) > 0 {
		fmt.Printf("Tools:       %v\n", ag.Tools)
	}
	if ag.Reasoning != nil {
		fmt.Printf("Max iters:   %d\n", ag.Reasoning.MaxIterations)
	}

	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("hector"),
		kong.Description("agentcore - a config-first AI coding agent"),
		kong.UsageOnError(),
	)

	_, _, _, cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
