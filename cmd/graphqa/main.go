// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command graphqa is the command-line client for the GraphQA server.
//
// Usage:
//
//	graphqa ask "Which files are the largest?"
//	graphqa ask --json "Who touched the auth package last month?"
//	graphqa tools list --category Security
//	graphqa tools show large_files_analysis
//	graphqa tools add --file orphan_files.yaml
//	graphqa tools delete orphan_files
//	graphqa schema status
//
// The server address comes from --server, then GRAPHQA_URL, then
// http://localhost:8080.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const (
	version        = "0.1.0"
	defaultServer  = "http://localhost:8080"
	serverEnv      = "GRAPHQA_URL"
	requestTimeout = 60 * time.Second
)

// cli carries the I/O and prompts used by every command.
type cli struct {
	server string
	out    io.Writer
	errOut io.Writer

	// color enables lipgloss styling.
	color bool

	// interactive reports whether prompts can be shown.
	interactive bool

	// confirm asks a yes/no question.
	confirm func(title string) (bool, error)
}

func main() {
	c := &cli{
		out:         os.Stdout,
		errOut:      os.Stderr,
		color:       isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
		interactive: isatty.IsTerminal(os.Stdin.Fd()),
		confirm:     huhConfirm,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(c).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "graphqa",
		Short:         "Ask questions about a code graph",
		Long:          "GraphQA answers natural-language questions about a code graph by running curated Cypher tools or generated read-only queries.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if c.server == "" {
				c.server = os.Getenv(serverEnv)
			}
			if c.server == "" {
				c.server = defaultServer
			}
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)
	root.PersistentFlags().StringVar(&c.server, "server", "", "GraphQA server URL (default $"+serverEnv+" or "+defaultServer+")")

	root.AddCommand(c.newAskCmd(), c.newToolsCmd(), c.newSchemaCmd())
	return root
}

func (c *cli) client() *apiClient {
	return newAPIClient(c.server, requestTimeout)
}

func (c *cli) renderer() renderer {
	return renderer{w: c.out, st: newStyles(c.color)}
}

func huhConfirm(title string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, fmt.Errorf("confirm: %w", err)
	}
	return ok, nil
}
