// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/GraphQA/services/graphqa"
	"github.com/AleutianAI/GraphQA/services/graphqa/orchestrator"
)

// errSessionFailed makes the process exit non-zero after a Failed session
// has been printed.
var errSessionFailed = errors.New("session failed")

type askFlags struct {
	json     bool
	docs     bool
	docsOnly bool
	tools    []string
	params   map[string]string
}

func (c *cli) newAskCmd() *cobra.Command {
	var f askFlags
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask a question and stream the reasoning steps",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAsk(cmd, strings.Join(args, " "), f)
		},
	}
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the finished session as JSON")
	cmd.Flags().BoolVar(&f.docs, "docs", false, "Include the curated graph docs when generating a query")
	cmd.Flags().BoolVar(&f.docsOnly, "docs-only", false, "Generate from the curated graph docs instead of the live schema")
	cmd.Flags().StringSliceVar(&f.tools, "tool", nil, "Run these tools instead of classifying the question")
	cmd.Flags().StringToStringVar(&f.params, "param", nil, "Parameter for a parameterized tool, as name=value")
	return cmd
}

func (f askFlags) request(question string, cmd *cobra.Command) graphqa.QueryRequest {
	req := graphqa.QueryRequest{Question: question, Tools: f.tools}
	if cmd.Flags().Changed("docs") {
		req.IncludeGraphDocs = &f.docs
	}
	if cmd.Flags().Changed("docs-only") {
		req.UseDocsOnly = &f.docsOnly
	}
	if len(f.params) > 0 {
		req.Params = make(map[string]any, len(f.params))
		for k, v := range f.params {
			req.Params[k] = v
		}
	}
	return req
}

func (c *cli) runAsk(cmd *cobra.Command, question string, f askFlags) error {
	ctx := cmd.Context()
	req := f.request(question, cmd)
	api := c.client()

	if f.json {
		sess, err := api.Query(ctx, req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sess); err != nil {
			return err
		}
		if sess.Status == orchestrator.StatusFailed {
			return errSessionFailed
		}
		return nil
	}

	r := c.renderer()
	status := ""
	err := api.QueryStream(ctx, req, func(name string, ev *orchestrator.Event) error {
		if ev == nil {
			return nil
		}
		switch ev.Kind {
		case orchestrator.EventStep:
			if ev.Step != nil {
				r.step(*ev.Step)
			}
		case orchestrator.EventFinal, orchestrator.EventError:
			status = ev.Status
			r.final(ev.Answer, ev.Status)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if status == "" {
		return fmt.Errorf("stream ended without a final event")
	}
	if status == orchestrator.StatusFailed {
		return errSessionFailed
	}
	return nil
}
