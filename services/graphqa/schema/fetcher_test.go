// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/GraphQA/services/graphqa/graphdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers queries by prefix match.
type fakeRunner struct {
	answers map[string][]map[string]any
	fail    map[string]error
	seen    []string
}

func (r *fakeRunner) Execute(_ context.Context, query string, _ map[string]any, _ int) (graphdb.QueryResult, error) {
	r.seen = append(r.seen, query)
	for prefix, err := range r.fail {
		if strings.HasPrefix(query, prefix) {
			return graphdb.QueryResult{}, err
		}
	}
	for prefix, rows := range r.answers {
		if strings.HasPrefix(query, prefix) {
			return graphdb.QueryResult{Records: rows}, nil
		}
	}
	return graphdb.QueryResult{}, nil
}

func baseAnswers() map[string][]map[string]any {
	return map[string][]map[string]any{
		"CALL db.labels()": {{"label": "File"}, {"label": "Method"}},
		"CALL db.relationshipTypes()": {
			{"relationshipType": "DECLARES"},
			{"relationshipType": "CALLS"},
		},
		"CALL db.schema.nodeTypeProperties()": {
			{"nodeLabels": []any{"File"}, "propertyName": "path"},
			{"nodeLabels": []any{"File"}, "propertyName": "total_lines"},
			{"nodeLabels": []any{"Method"}, "propertyName": "name"},
			{"nodeLabels": []any{"Method"}, "propertyName": nil},
		},
		"CALL db.schema.relTypeProperties()": {
			{"relType": ":`CALLS`", "propertyName": "count"},
		},
		"MATCH (a)-[r]->(b)": {
			{"relType": "DECLARES", "startLabels": []any{"File"}, "endLabels": []any{"Method"}},
			{"relType": "CALLS", "startLabels": []any{"Method"}, "endLabels": []any{"Method"}},
		},
	}
}

func TestNeo4jFetcher_BuildsSnapshot(t *testing.T) {
	r := &fakeRunner{answers: baseAnswers()}
	snap, err := NewNeo4jFetcher(r, 0, nil).FetchSchema(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"File", "Method"}, snap.LabelNames())
	assert.Equal(t, []string{"path", "total_lines"}, snap.Labels["File"])
	assert.Equal(t, []string{"name"}, snap.Labels["Method"])

	require.Len(t, snap.Relationships, 2)
	calls := snap.Relationships[0]
	assert.Equal(t, "CALLS", calls.Type)
	assert.Equal(t, []string{"Method"}, calls.StartLabels)
	assert.Equal(t, []string{"count"}, calls.Properties)
	assert.Equal(t, "DECLARES", snap.Relationships[1].Type)
}

func TestNeo4jFetcher_LabelFailureFails(t *testing.T) {
	boom := errors.New("unauthorized")
	r := &fakeRunner{answers: baseAnswers(), fail: map[string]error{"CALL db.labels()": boom}}
	_, err := NewNeo4jFetcher(r, 0, nil).FetchSchema(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestNeo4jFetcher_FallsBackToKeySampling(t *testing.T) {
	answers := baseAnswers()
	answers["MATCH (n:`File`)"] = []map[string]any{{"properties": []any{"path", "language"}}}
	r := &fakeRunner{
		answers: answers,
		fail:    map[string]error{"CALL db.schema.nodeTypeProperties()": errors.New("no such procedure")},
	}
	snap, err := NewNeo4jFetcher(r, 0, nil).FetchSchema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"language", "path"}, snap.Labels["File"])
	assert.Empty(t, snap.Labels["Method"])
}

func TestNeo4jFetcher_PatternFailureDegrades(t *testing.T) {
	r := &fakeRunner{answers: baseAnswers(), fail: map[string]error{"MATCH (a)-[r]->(b)": errors.New("timeout")}}
	snap, err := NewNeo4jFetcher(r, 0, nil).FetchSchema(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Relationships, 2)
	assert.Empty(t, snap.Relationships[0].StartLabels)
}

func TestSnapshot_Render(t *testing.T) {
	r := &fakeRunner{answers: baseAnswers()}
	snap, err := NewNeo4jFetcher(r, 0, nil).FetchSchema(context.Background())
	require.NoError(t, err)

	text := snap.Render()
	for _, want := range []string{
		"NODE LABELS:\n- File\n- Method\n",
		"RELATIONSHIP TYPES:\n- CALLS\n- DECLARES\n",
		"- (:File)-[:DECLARES]->(:Method)",
		"File: path, total_lines",
		"RELATIONSHIP PROPERTIES:\nCALLS: count",
	} {
		assert.Contains(t, text, want)
	}
	assert.Equal(t, text, snap.Render(), "render must be deterministic")
}

func TestSnapshot_RenderEmpty(t *testing.T) {
	var nilSnap *Snapshot
	assert.Equal(t, "", nilSnap.Render())
	assert.Equal(t, "", (&Snapshot{}).Render())
}

func TestQuoteIdentAndTrimRelType(t *testing.T) {
	assert.Equal(t, "`we``ird`", quoteIdent("we`ird"))
	assert.Equal(t, "CALLS", trimRelType(":`CALLS`"))
	assert.Equal(t, "CALLS", trimRelType("CALLS"))
}
