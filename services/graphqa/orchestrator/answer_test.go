// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"strings"
	"testing"
)

func TestRenderSummary(t *testing.T) {
	steps := []ReasoningStep{
		{
			ToolName:    "large_files_analysis",
			Category:    "Quality",
			Status:      StepOK,
			ResultCount: 5,
			Results: []map[string]any{
				{"file_path": "a.go", "lines_of_code": 900},
				{"file_path": "b.go", "lines_of_code": 800},
				{"file_path": "c.go", "lines_of_code": 700},
				{"file_path": "d.go", "lines_of_code": 600},
			},
		},
		{
			ToolName: "text2cypher",
			Status:   StepError,
			Reason:   "mutating-operation-detected",
			Error:    "query rejected",
		},
	}

	got, err := renderSummary("show me large files", steps)
	if err != nil {
		t.Fatalf("renderSummary: %v", err)
	}
	for _, want := range []string{
		"Here are the results for your query: 'show me large files'",
		"large_files_analysis (Quality):",
		"Found 5 results",
		"file_path: a.go, lines_of_code: 900",
		"file_path: c.go",
		"text2cypher: failed (mutating-operation-detected): query rejected",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "d.go") {
		t.Errorf("summary should quote only the top 3 rows:\n%s", got)
	}
}

func TestRenderAnswerPrompt(t *testing.T) {
	steps := []ReasoningStep{{ToolName: "t", Status: StepOK, ResultCount: 7, Results: []map[string]any{{"x": 1}}}}
	got, err := renderAnswerPrompt("why?", steps)
	if err != nil {
		t.Fatalf("renderAnswerPrompt: %v", err)
	}
	for _, want := range []string{"User question: why?", "Tool: t", "Results: 7 items", "1. x: 1", "and 6 more results"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestFormatRow_SkipsEmptyValues(t *testing.T) {
	got := formatRow(map[string]any{"b": "", "a": 1, "c": nil, "d": "x"})
	if got != "a: 1, d: x" {
		t.Errorf("formatRow = %q", got)
	}
}
