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
	"encoding/json"
	"regexp"
	"strings"
)

// extractStrategy turns a raw model response into a query.
// ok is false when the strategy does not apply; the next one is tried.
type extractStrategy struct {
	name string
	fn   func(raw string) (GeneratedQuery, bool)
}

// strategies are tried in order. The first success wins.
var strategies = []extractStrategy{
	{name: "json_object", fn: jsonObject},
	{name: "fenced_block", fn: fencedBlock},
	{name: "clause_scan", fn: clauseScan},
}

var (
	fenceRe = regexp.MustCompile("(?s)```([A-Za-z]*)[ \t]*\r?\n?(.*?)```")

	// clauseStartRe matches a line that begins a read query.
	clauseStartRe = regexp.MustCompile(`(?i)^\s*(MATCH|OPTIONAL\s+MATCH|WITH|UNWIND|CALL|RETURN)\b`)
)

// jsonObject parses {"query": ..., "explanation": ...}, bare or fenced.
func jsonObject(raw string) (GeneratedQuery, bool) {
	candidates := []string{strings.TrimSpace(raw)}
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		candidates = append(candidates, strings.TrimSpace(m[2]))
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		candidates = append(candidates, raw[start:end+1])
	}

	for _, c := range candidates {
		if !strings.HasPrefix(c, "{") {
			continue
		}
		var payload struct {
			Query       string `json:"query"`
			Cypher      string `json:"cypher"`
			Explanation string `json:"explanation"`
		}
		if err := json.Unmarshal([]byte(c), &payload); err != nil {
			continue
		}
		q := strings.TrimSpace(payload.Query)
		if q == "" {
			q = strings.TrimSpace(payload.Cypher)
		}
		if q == "" {
			continue
		}
		return GeneratedQuery{
			Query:       stripFence(q),
			Explanation: strings.TrimSpace(payload.Explanation),
			Source:      SourceLLM,
		}, true
	}
	return GeneratedQuery{}, false
}

// fencedBlock takes the first fenced block tagged cypher, or an untagged
// block that starts with a clause.
func fencedBlock(raw string) (GeneratedQuery, bool) {
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		lang := strings.ToLower(m[1])
		body := strings.TrimSpace(m[2])
		if body == "" {
			continue
		}
		if lang == "cypher" || (lang == "" && clauseStartRe.MatchString(body)) {
			return GeneratedQuery{Query: body, Source: SourceFallback}, true
		}
	}
	return GeneratedQuery{}, false
}

// clauseScan takes everything from the first line that starts a clause up
// to the first blank line.
func clauseScan(raw string) (GeneratedQuery, bool) {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		if !clauseStartRe.MatchString(line) {
			continue
		}
		var picked []string
		for _, l := range lines[i:] {
			if strings.TrimSpace(l) == "" || strings.HasPrefix(strings.TrimSpace(l), "```") {
				break
			}
			picked = append(picked, l)
		}
		q := strings.TrimSpace(strings.Join(picked, "\n"))
		if q != "" {
			return GeneratedQuery{Query: q, Source: SourceFallback}, true
		}
	}
	return GeneratedQuery{}, false
}

// extract runs the strategies in order.
func extract(raw string) (GeneratedQuery, string, bool) {
	for _, s := range strategies {
		if gq, ok := s.fn(raw); ok && strings.TrimSpace(gq.Query) != "" {
			return gq, s.name, true
		}
	}
	return GeneratedQuery{}, "", false
}

func stripFence(q string) string {
	if m := fenceRe.FindStringSubmatch(q); m != nil {
		return strings.TrimSpace(m[2])
	}
	return q
}
