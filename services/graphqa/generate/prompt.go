// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generate

import (
	"bytes"
	"fmt"
	"text/template"
)

// =============================================================================
// Prompt Builder
// =============================================================================

// promptData is the input to generationPromptTemplate.
type promptData struct {
	Question string
	Schema   string
	Docs     string
	RowCap   int
	Feedback *Feedback
}

// generationPromptTemplate renders the text-to-Cypher request.
//
// The response contract is a single JSON object so the jsonObject strategy
// can parse it; the other strategies exist for models that ignore it.
const generationPromptTemplate = `You are a Cypher expert for a code analysis graph database.
Write one Cypher query that answers the question below.
{{if .Schema}}
{{.Schema}}
{{- end}}
{{if .Docs}}
GRAPH DOCUMENTATION:
{{.Docs}}
{{- end}}
{{if and (not .Schema) (not .Docs)}}
No schema information is available. Use the labels and relationship types
implied by the question and keep the query simple.
{{end}}
Constraints:
- The query must be read-only. Never use CREATE, MERGE, DELETE, DETACH, SET, REMOVE or DROP,
  and never call procedures that write.
- Always end the query with a LIMIT clause of at most {{.RowCap}} rows.
- Use only labels, relationship types and properties that exist in the graph.
- Relationship direction carries meaning; follow the documented direction.
{{if .Feedback}}
Your previous query was rejected.
Previous query:
{{.Feedback.PreviousQuery}}
Rejection reason: {{.Feedback.Reason}}
Write a corrected query that satisfies every constraint.
{{end}}
Respond with a single JSON object and nothing else:
{"query": "<cypher>", "explanation": "<one or two sentences on what the query returns>"}

Question: {{.Question}}
`

var generationPrompt = template.Must(template.New("generate").Parse(generationPromptTemplate))

func renderPrompt(data promptData) (string, error) {
	var buf bytes.Buffer
	if err := generationPrompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render generation prompt: %w", err)
	}
	return buf.String(), nil
}
