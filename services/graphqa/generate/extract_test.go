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

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantOK       bool
		wantQuery    string
		wantSource   string
		wantStrategy string
	}{
		{
			name:         "bare json",
			raw:          `{"query":"MATCH (n) RETURN n LIMIT 1","explanation":"e"}`,
			wantOK:       true,
			wantQuery:    "MATCH (n) RETURN n LIMIT 1",
			wantSource:   SourceLLM,
			wantStrategy: "json_object",
		},
		{
			name:         "fenced json",
			raw:          "```json\n{\"query\": \"MATCH (c:Class) RETURN c LIMIT 2\", \"explanation\": \"x\"}\n```",
			wantOK:       true,
			wantQuery:    "MATCH (c:Class) RETURN c LIMIT 2",
			wantSource:   SourceLLM,
			wantStrategy: "json_object",
		},
		{
			name:         "json with chatter",
			raw:          "Here is the answer: {\"query\": \"MATCH (f:File) RETURN f\"} done",
			wantOK:       true,
			wantQuery:    "MATCH (f:File) RETURN f",
			wantSource:   SourceLLM,
			wantStrategy: "json_object",
		},
		{
			name:         "json with fenced query value",
			raw:          "{\"query\": \"```cypher\\nMATCH (a) RETURN a\\n```\"}",
			wantOK:       true,
			wantQuery:    "MATCH (a) RETURN a",
			wantSource:   SourceLLM,
			wantStrategy: "json_object",
		},
		{
			name:         "json missing query falls through",
			raw:          "{\"explanation\": \"nothing\"}\nMATCH (x) RETURN x",
			wantOK:       true,
			wantQuery:    "MATCH (x) RETURN x",
			wantSource:   SourceFallback,
			wantStrategy: "clause_scan",
		},
		{
			name:         "cypher fence",
			raw:          "```cypher\nMATCH (m:Method)\nRETURN m.name\n```",
			wantOK:       true,
			wantQuery:    "MATCH (m:Method)\nRETURN m.name",
			wantSource:   SourceFallback,
			wantStrategy: "fenced_block",
		},
		{
			name:         "untagged fence starting with clause",
			raw:          "```\nOPTIONAL MATCH (d:Developer) RETURN d\n```",
			wantOK:       true,
			wantQuery:    "OPTIONAL MATCH (d:Developer) RETURN d",
			wantSource:   SourceFallback,
			wantStrategy: "fenced_block",
		},
		{
			name:         "plain text query",
			raw:          "The query is:\n\nMATCH (f:File)\nWHERE f.total_lines > 500\nRETURN f.path\n\nThis finds large files.",
			wantOK:       true,
			wantQuery:    "MATCH (f:File)\nWHERE f.total_lines > 500\nRETURN f.path",
			wantSource:   SourceFallback,
			wantStrategy: "clause_scan",
		},
		{
			name:   "nothing",
			raw:    "Sorry, I cannot answer.",
			wantOK: false,
		},
		{
			name:   "empty",
			raw:    "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gq, strategy, ok := extract(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (gq=%+v)", ok, tt.wantOK, gq)
			}
			if !ok {
				return
			}
			if gq.Query != tt.wantQuery {
				t.Errorf("Query = %q, want %q", gq.Query, tt.wantQuery)
			}
			if gq.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", gq.Source, tt.wantSource)
			}
			if strategy != tt.wantStrategy {
				t.Errorf("strategy = %q, want %q", strategy, tt.wantStrategy)
			}
		})
	}
}
