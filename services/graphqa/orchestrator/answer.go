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
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// NoResultsAnswer is the answer when no step returned rows.
const NoResultsAnswer = "I couldn't find any relevant information in the database"

// NoToolAnswer is the answer when nothing could be selected.
const NoToolAnswer = "I couldn't find a suitable analysis tool for your question. Try rephrasing it or naming a tool explicitly."

const (
	// summaryTopRows is the number of rows quoted per step in the templated summary.
	summaryTopRows = 3

	// promptSampleRows is the number of rows per step shown to the model.
	promptSampleRows = 5
)

// =============================================================================
// Templates
// =============================================================================

// answerData is the input to both answer templates.
type answerData struct {
	Question string
	Steps    []answerStep
}

type answerStep struct {
	ToolName    string
	Category    string
	OK          bool
	Error       string
	Reason      string
	ResultCount int
	Rows        []string
	More        int
}

const answerPromptTemplate = `You are an expert code analysis assistant. Answer the user's question using only the tool results below.

Guidelines:
- Lead with the two or three most important findings.
- Reference actual files, methods and numbers from the results.
- If a tool failed, say so briefly and do not guess its output.
- End with concrete next steps.

User question: {{.Question}}

Tool results:
{{range .Steps -}}
{{if .OK -}}
Tool: {{.ToolName}}{{if .Category}} ({{.Category}}){{end}}
Results: {{.ResultCount}} items
{{range $i, $r := .Rows}}  {{inc $i}}. {{$r}}
{{end}}{{if .More}}  ... and {{.More}} more results
{{end}}
{{else -}}
Tool: {{.ToolName}} failed: {{.Error}}

{{end}}
{{- end}}`

const summaryTemplate = `Here are the results for your query: '{{.Question}}'
{{range .Steps}}
{{if .OK -}}
{{.ToolName}}{{if .Category}} ({{.Category}}){{end}}:
Found {{.ResultCount}} results
{{- range .Rows}}
  - {{.}}
{{- end}}
{{else -}}
{{.ToolName}}: failed ({{if .Reason}}{{.Reason}}{{else}}error{{end}}){{if .Error}}: {{.Error}}{{end}}
{{end -}}
{{end}}`

var templateFuncs = template.FuncMap{"inc": func(i int) int { return i + 1 }}

var (
	answerPrompt    = template.Must(template.New("answer").Funcs(templateFuncs).Parse(answerPromptTemplate))
	summaryRenderer = template.Must(template.New("summary").Funcs(templateFuncs).Parse(summaryTemplate))
)

// buildAnswerData flattens steps for the templates, keeping at most
// rowLimit rows per step.
func buildAnswerData(question string, steps []ReasoningStep, rowLimit int) answerData {
	data := answerData{Question: question, Steps: make([]answerStep, 0, len(steps))}
	for _, s := range steps {
		as := answerStep{
			ToolName:    s.ToolName,
			Category:    s.Category,
			OK:          s.OK(),
			Error:       s.Error,
			Reason:      s.Reason,
			ResultCount: s.ResultCount,
		}
		for i, row := range s.Results {
			if i >= rowLimit {
				break
			}
			as.Rows = append(as.Rows, formatRow(row))
		}
		if s.ResultCount > len(as.Rows) {
			as.More = s.ResultCount - len(as.Rows)
		}
		data.Steps = append(data.Steps, as)
	}
	return data
}

func renderAnswerPrompt(question string, steps []ReasoningStep) (string, error) {
	var buf bytes.Buffer
	if err := answerPrompt.Execute(&buf, buildAnswerData(question, steps, promptSampleRows)); err != nil {
		return "", fmt.Errorf("render answer prompt: %w", err)
	}
	return buf.String(), nil
}

// renderSummary builds the templated answer used when the model is not
// available or fails.
func renderSummary(question string, steps []ReasoningStep) (string, error) {
	var buf bytes.Buffer
	if err := summaryRenderer.Execute(&buf, buildAnswerData(question, steps, summaryTopRows)); err != nil {
		return "", fmt.Errorf("render summary: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// formatRow renders a row as "k: v" pairs in key order, skipping empty values.
func formatRow(row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := row[k]
		if v == nil || v == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v", k, v))
	}
	return strings.Join(parts, ", ")
}
