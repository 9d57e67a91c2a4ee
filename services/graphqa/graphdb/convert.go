// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphdb

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ConvertValue turns driver values into JSON-friendly Go values.
//
// Description:
//
//	Nodes become {"element_id", "labels", "properties"}, relationships
//	become {"element_id", "type", "start", "end", "properties"} and paths
//	become {"nodes", "relationships"}. Temporal and spatial types are
//	rendered with their String method. Lists and maps are converted
//	recursively. Everything else is returned unchanged.
//
// Thread Safety: Safe for concurrent use.
func ConvertValue(v any) any {
	switch val := v.(type) {
	case neo4j.Node:
		return nodeMap(val)
	case neo4j.Relationship:
		return relationshipMap(val)
	case neo4j.Path:
		nodes := make([]any, 0, len(val.Nodes))
		for _, n := range val.Nodes {
			nodes = append(nodes, nodeMap(n))
		}
		rels := make([]any, 0, len(val.Relationships))
		for _, r := range val.Relationships {
			rels = append(rels, relationshipMap(r))
		}
		return map[string]any{"nodes": nodes, "relationships": rels}
	case neo4j.Date:
		return val.String()
	case neo4j.LocalTime:
		return val.String()
	case neo4j.LocalDateTime:
		return val.String()
	case neo4j.Time:
		return val.String()
	case neo4j.Duration:
		return val.String()
	case neo4j.Point2D:
		return val.String()
	case neo4j.Point3D:
		return val.String()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ConvertValue(item)
		}
		return out
	case map[string]any:
		return convertProps(val)
	default:
		return v
	}
}

func nodeMap(n neo4j.Node) map[string]any {
	return map[string]any{
		"element_id": n.ElementId,
		"labels":     n.Labels,
		"properties": convertProps(n.Props),
	}
}

func relationshipMap(r neo4j.Relationship) map[string]any {
	return map[string]any{
		"element_id": r.ElementId,
		"type":       r.Type,
		"start":      r.StartElementId,
		"end":        r.EndElementId,
		"properties": convertProps(r.Props),
	}
}

func convertProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = ConvertValue(v)
	}
	return out
}
