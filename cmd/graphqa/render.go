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
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/GraphQA/services/graphqa"
	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
	"github.com/AleutianAI/GraphQA/services/graphqa/orchestrator"
)

// maxPreviewRows is the number of result rows printed under each step.
const maxPreviewRows = 5

// styles holds the terminal styles. Plain styles render text unchanged and
// are used when stdout is not a terminal.
type styles struct {
	title   lipgloss.Style
	ok      lipgloss.Style
	failed  lipgloss.Style
	muted   lipgloss.Style
	code    lipgloss.Style
	answer  lipgloss.Style
	heading lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00D7FF")),
		ok:     lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F")),
		failed: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F5F")),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
		code:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB000")).PaddingLeft(4),
		answer: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00D7FF")).
			Padding(0, 1),
		heading: lipgloss.NewStyle().Bold(true).Underline(true),
	}
}

// renderer writes sessions, tools and schema status for humans.
type renderer struct {
	w  io.Writer
	st styles
}

func (r renderer) step(s orchestrator.ReasoningStep) {
	name := s.ToolName
	if name == "" {
		name = catalog.DynamicToolName
	}
	marker := r.st.ok.Render("✓")
	if !s.OK() {
		marker = r.st.failed.Render("✗")
	}
	fmt.Fprintf(r.w, "%s %s %s\n", marker, r.st.title.Render(fmt.Sprintf("[%d] %s", s.Index+1, name)), r.st.muted.Render(s.Description))

	if s.GeneratedQuery != "" {
		for _, line := range strings.Split(strings.TrimSpace(s.GeneratedQuery), "\n") {
			fmt.Fprintln(r.w, r.st.code.Render(line))
		}
	}
	if !s.OK() {
		msg := s.Error
		if s.Reason != "" {
			msg = s.Reason + ": " + msg
		}
		fmt.Fprintf(r.w, "    %s\n", r.st.failed.Render(msg))
		return
	}

	summary := fmt.Sprintf("%d result%s in %.0fms", s.ResultCount, plural(s.ResultCount), s.Timing.LatencyMS)
	if s.Truncated {
		summary += " (truncated)"
	}
	fmt.Fprintf(r.w, "    %s\n", r.st.muted.Render(summary))
	for i, row := range s.Results {
		if i == maxPreviewRows {
			fmt.Fprintf(r.w, "    %s\n", r.st.muted.Render(fmt.Sprintf("… %d more", len(s.Results)-maxPreviewRows)))
			break
		}
		fmt.Fprintf(r.w, "    %s\n", formatRow(row))
	}
}

func (r renderer) final(answer, status string) {
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, r.st.answer.Render(strings.TrimSpace(answer)))
	statusStyle := r.st.ok
	if status != orchestrator.StatusCompleted {
		statusStyle = r.st.failed
	}
	fmt.Fprintln(r.w, statusStyle.Render(status))
}

func (r renderer) session(s *orchestrator.Session) {
	for _, step := range s.Steps {
		r.step(step)
	}
	r.final(s.Answer, s.Status)
}

func (r renderer) tools(tools []catalog.ToolDescriptor) {
	if len(tools) == 0 {
		fmt.Fprintln(r.w, r.st.muted.Render("No tools."))
		return
	}
	width := len("NAME")
	for _, t := range tools {
		width = max(width, len(t.Name))
	}
	fmt.Fprintln(r.w, r.st.heading.Render(fmt.Sprintf("%-*s  %-12s  %-7s  %s", width, "NAME", "CATEGORY", "ORIGIN", "DESCRIPTION")))
	for _, t := range tools {
		origin := "custom"
		if t.BuiltIn {
			origin = "builtin"
		}
		fmt.Fprintf(r.w, "%-*s  %-12s  %-7s  %s\n", width, t.Name, t.Category, origin, truncate(t.Description, 60))
	}
	fmt.Fprintln(r.w, r.st.muted.Render(fmt.Sprintf("%d tool%s", len(tools), plural(len(tools)))))
}

func (r renderer) tool(t catalog.ToolDescriptor) {
	fmt.Fprintln(r.w, r.st.title.Render(t.Name))
	fmt.Fprintf(r.w, "Category:    %s\n", t.Category)
	fmt.Fprintf(r.w, "Built-in:    %t\n", t.BuiltIn)
	fmt.Fprintf(r.w, "Description: %s\n", t.Description)
	if len(t.Keywords) > 0 {
		fmt.Fprintf(r.w, "Keywords:    %s\n", strings.Join(t.Keywords, ", "))
	}
	if len(t.Parameters) > 0 {
		fmt.Fprintf(r.w, "Parameters:  %s\n", strings.Join(t.ParameterNames(), ", "))
	}
	if t.Query != "" {
		fmt.Fprintln(r.w, "Query:")
		for _, line := range strings.Split(strings.TrimSpace(t.Query), "\n") {
			fmt.Fprintln(r.w, r.st.code.Render(line))
		}
	}
}

func (r renderer) schema(resp graphqa.SchemaResponse) {
	st := resp.Status
	state := r.st.ok.Render("cached")
	switch {
	case !st.Cached:
		state = r.st.muted.Render("empty")
	case st.Expired:
		state = r.st.failed.Render("expired")
	}
	fmt.Fprintf(r.w, "Schema:        %s\n", state)
	if st.CapturedAt != nil {
		fmt.Fprintf(r.w, "Captured:      %s (%.0fs ago)\n", st.CapturedAt.Format("2006-01-02 15:04:05"), st.AgeSeconds)
	}
	fmt.Fprintf(r.w, "TTL:           %.0fs\n", st.TTLSeconds)
	fmt.Fprintf(r.w, "Labels:        %d\n", st.LabelCount)
	fmt.Fprintf(r.w, "Relationships: %d\n", st.RelationshipCount)
	if resp.Stale {
		fmt.Fprintln(r.w, r.st.failed.Render("Serving a stale snapshot"))
	}
	if st.LastError != "" {
		fmt.Fprintf(r.w, "Last error:    %s\n", r.st.failed.Render(st.LastError))
	}
}

func formatRow(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, row[k])
	}
	return truncate(strings.Join(parts, "  "), 120)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
