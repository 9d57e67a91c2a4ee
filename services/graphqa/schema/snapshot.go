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
	"fmt"
	"sort"
	"strings"
	"time"
)

// Relationship describes one relationship type observed in the graph.
type Relationship struct {
	Type        string   `json:"type"`
	StartLabels []string `json:"start_labels"`
	EndLabels   []string `json:"end_labels"`
	Properties  []string `json:"properties"`
}

// Snapshot is a point-in-time description of the graph structure.
//
// A Snapshot is never modified after the fetcher returns it. Refreshing the
// cache replaces the pointer.
type Snapshot struct {
	// Labels maps each node label to its sorted property names.
	Labels map[string][]string `json:"labels"`

	// Relationships are sorted by Type.
	Relationships []Relationship `json:"relationships"`

	CapturedAt time.Time `json:"captured_at"`
}

// LabelNames returns the node labels in sorted order.
func (s *Snapshot) LabelNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Labels))
	for name := range s.Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render formats the snapshot as prompt text.
//
// Description:
//
//	Sections appear in a fixed order: node labels, relationship types,
//	relationship patterns, node properties and relationship properties.
//	Empty sections are omitted. A nil snapshot renders as "".
//
// Outputs:
//   - string: Deterministic text for the same snapshot content.
func (s *Snapshot) Render() string {
	if s == nil || (len(s.Labels) == 0 && len(s.Relationships) == 0) {
		return ""
	}

	var b strings.Builder
	b.WriteString("DATABASE SCHEMA:\n")

	labels := s.LabelNames()
	if len(labels) > 0 {
		b.WriteString("\nNODE LABELS:\n")
		for _, l := range labels {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}

	if len(s.Relationships) > 0 {
		b.WriteString("\nRELATIONSHIP TYPES:\n")
		for _, r := range s.Relationships {
			fmt.Fprintf(&b, "- %s\n", r.Type)
		}

		var patterns []string
		for _, r := range s.Relationships {
			if len(r.StartLabels) == 0 && len(r.EndLabels) == 0 {
				continue
			}
			patterns = append(patterns, fmt.Sprintf("- (:%s)-[:%s]->(:%s)",
				strings.Join(r.StartLabels, "|"), r.Type, strings.Join(r.EndLabels, "|")))
		}
		if len(patterns) > 0 {
			b.WriteString("\nRELATIONSHIP PATTERNS:\n")
			b.WriteString(strings.Join(patterns, "\n"))
			b.WriteString("\n")
		}
	}

	wroteHeader := false
	for _, l := range labels {
		props := s.Labels[l]
		if len(props) == 0 {
			continue
		}
		if !wroteHeader {
			b.WriteString("\nNODE PROPERTIES:\n")
			wroteHeader = true
		}
		fmt.Fprintf(&b, "%s: %s\n", l, strings.Join(props, ", "))
	}

	wroteHeader = false
	for _, r := range s.Relationships {
		if len(r.Properties) == 0 {
			continue
		}
		if !wroteHeader {
			b.WriteString("\nRELATIONSHIP PROPERTIES:\n")
			wroteHeader = true
		}
		fmt.Fprintf(&b, "%s: %s\n", r.Type, strings.Join(r.Properties, ", "))
	}

	return b.String()
}

// sortedUnique returns a sorted copy of in without duplicates or empty strings.
func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
