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
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/GraphQA/services/graphqa/graphdb"
)

// Fetcher loads a fresh snapshot from the data store.
type Fetcher interface {
	FetchSchema(ctx context.Context) (*Snapshot, error)
}

const (
	labelsQuery = "CALL db.labels() YIELD label RETURN label ORDER BY label"

	relTypesQuery = "CALL db.relationshipTypes() YIELD relationshipType RETURN relationshipType ORDER BY relationshipType"

	nodePropsQuery = "CALL db.schema.nodeTypeProperties() YIELD nodeLabels, propertyName RETURN nodeLabels, propertyName"

	relPropsQuery = "CALL db.schema.relTypeProperties() YIELD relType, propertyName RETURN relType, propertyName"

	patternQuery = `MATCH (a)-[r]->(b)
WITH a, r, b LIMIT $sample
RETURN DISTINCT type(r) AS relType, labels(a) AS startLabels, labels(b) AS endLabels`

	// metadataRowCap bounds every introspection query.
	metadataRowCap = 10000

	// DefaultPatternSample is the number of relationships sampled for patterns.
	DefaultPatternSample = 1000
)

// Neo4jFetcher builds snapshots with Neo4j's schema procedures.
//
// Description:
//
//	Labels and relationship types are required; a failure there fails the
//	fetch. Property and pattern queries are best effort. When the
//	db.schema procedures are unavailable, node properties fall back to
//	sampling keys(n) of one node per label.
//
// Thread Safety: Safe for concurrent use if the Runner is.
type Neo4jFetcher struct {
	runner        graphdb.Runner
	patternSample int
	logger        *slog.Logger
}

// NewNeo4jFetcher creates a fetcher over runner.
func NewNeo4jFetcher(runner graphdb.Runner, patternSample int, logger *slog.Logger) *Neo4jFetcher {
	if patternSample <= 0 {
		patternSample = DefaultPatternSample
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Neo4jFetcher{runner: runner, patternSample: patternSample, logger: logger}
}

// FetchSchema implements Fetcher.
func (f *Neo4jFetcher) FetchSchema(ctx context.Context) (*Snapshot, error) {
	labelRes, err := f.runner.Execute(ctx, labelsQuery, nil, metadataRowCap)
	if err != nil {
		return nil, fmt.Errorf("fetch labels: %w", err)
	}
	relRes, err := f.runner.Execute(ctx, relTypesQuery, nil, metadataRowCap)
	if err != nil {
		return nil, fmt.Errorf("fetch relationship types: %w", err)
	}

	labelProps := make(map[string][]string)
	for _, rec := range labelRes.Records {
		if l, ok := rec["label"].(string); ok && l != "" {
			labelProps[l] = nil
		}
	}

	rels := make(map[string]*Relationship)
	for _, rec := range relRes.Records {
		if t, ok := rec["relationshipType"].(string); ok && t != "" {
			rels[t] = &Relationship{Type: t}
		}
	}

	if err := f.fillNodeProperties(ctx, labelProps); err != nil {
		f.logger.Warn("schema node properties unavailable", slog.String("error", err.Error()))
	}
	if err := f.fillRelProperties(ctx, rels); err != nil {
		f.logger.Warn("schema relationship properties unavailable", slog.String("error", err.Error()))
	}
	if err := f.fillPatterns(ctx, rels); err != nil {
		f.logger.Warn("schema relationship patterns unavailable", slog.String("error", err.Error()))
	}

	snap := &Snapshot{Labels: make(map[string][]string, len(labelProps))}
	for l, props := range labelProps {
		snap.Labels[l] = sortedUnique(props)
	}
	for _, r := range rels {
		snap.Relationships = append(snap.Relationships, Relationship{
			Type:        r.Type,
			StartLabels: sortedUnique(r.StartLabels),
			EndLabels:   sortedUnique(r.EndLabels),
			Properties:  sortedUnique(r.Properties),
		})
	}
	sort.Slice(snap.Relationships, func(i, j int) bool {
		return snap.Relationships[i].Type < snap.Relationships[j].Type
	})
	return snap, nil
}

func (f *Neo4jFetcher) fillNodeProperties(ctx context.Context, labelProps map[string][]string) error {
	res, err := f.runner.Execute(ctx, nodePropsQuery, nil, metadataRowCap)
	if err == nil {
		for _, rec := range res.Records {
			prop, _ := rec["propertyName"].(string)
			if prop == "" {
				continue
			}
			for _, l := range toStrings(rec["nodeLabels"]) {
				if _, known := labelProps[l]; known {
					labelProps[l] = append(labelProps[l], prop)
				}
			}
		}
		return nil
	}

	f.logger.Debug("nodeTypeProperties failed, sampling keys per label", slog.String("error", err.Error()))
	for l := range labelProps {
		q := fmt.Sprintf("MATCH (n:%s) RETURN keys(n) AS properties LIMIT 1", quoteIdent(l))
		sample, serr := f.runner.Execute(ctx, q, nil, 1)
		if serr != nil {
			return serr
		}
		for _, rec := range sample.Records {
			labelProps[l] = append(labelProps[l], toStrings(rec["properties"])...)
		}
	}
	return nil
}

func (f *Neo4jFetcher) fillRelProperties(ctx context.Context, rels map[string]*Relationship) error {
	res, err := f.runner.Execute(ctx, relPropsQuery, nil, metadataRowCap)
	if err != nil {
		return err
	}
	for _, rec := range res.Records {
		prop, _ := rec["propertyName"].(string)
		raw, _ := rec["relType"].(string)
		if r, ok := rels[trimRelType(raw)]; ok && prop != "" {
			r.Properties = append(r.Properties, prop)
		}
	}
	return nil
}

func (f *Neo4jFetcher) fillPatterns(ctx context.Context, rels map[string]*Relationship) error {
	res, err := f.runner.Execute(ctx, patternQuery, map[string]any{"sample": f.patternSample}, metadataRowCap)
	if err != nil {
		return err
	}
	for _, rec := range res.Records {
		t, _ := rec["relType"].(string)
		r, ok := rels[t]
		if !ok {
			continue
		}
		r.StartLabels = append(r.StartLabels, toStrings(rec["startLabels"])...)
		r.EndLabels = append(r.EndLabels, toStrings(rec["endLabels"])...)
	}
	return nil
}

// trimRelType turns ":`CALLS`" into "CALLS".
func trimRelType(s string) string {
	s = strings.TrimPrefix(s, ":")
	s = strings.TrimPrefix(s, "`")
	return strings.TrimSuffix(s, "`")
}

// quoteIdent backtick-quotes a label for use in a query.
func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vv}
	default:
		return nil
	}
}
