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
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/AleutianAI/GraphQA/services/graphqa/catalog"
)

// =============================================================================
// Classifier
// =============================================================================

// BM25 tuning constants.
const (
	// bm25K1 controls term frequency saturation.
	bm25K1 = 1.5

	// bm25B controls document length normalization.
	bm25B = 0.75
)

// Classifier defaults.
const (
	DefaultMaxTools        = 3
	DefaultMinScore        = 0.5
	DefaultMinMatchedTerms = 2
)

// ClassifierConfig tunes candidate selection.
type ClassifierConfig struct {
	// MaxTools caps the number of catalog tools selected per question.
	MaxTools int

	// MinScore is the minimum normalised BM25 score in [0, 1].
	MinScore float64

	// MinMatchedTerms is the minimum number of distinct query terms a tool
	// document must contain to be a BM25 candidate.
	MinMatchedTerms int
}

func (c ClassifierConfig) withDefaults() ClassifierConfig {
	if c.MaxTools <= 0 {
		c.MaxTools = DefaultMaxTools
	}
	if c.MinScore <= 0 {
		c.MinScore = DefaultMinScore
	}
	if c.MinMatchedTerms <= 0 {
		c.MinMatchedTerms = DefaultMinMatchedTerms
	}
	return c
}

// Candidate is one shortlisted catalog tool.
type Candidate struct {
	Tool catalog.ToolDescriptor

	// Score is 1 for a keyword hit, otherwise the normalised BM25 score.
	Score float64

	// Signal is "keyword" or "bm25".
	Signal string

	// MatchedTerms is the number of distinct query terms in the tool document.
	MatchedTerms int
}

// Classifier shortlists catalog tools for a question.
//
// # Description
//
// Two signals are combined. A descriptor keyword found as a phrase in the
// normalised question selects the tool outright. Otherwise the question is
// scored with Okapi BM25 over each tool's name, description and keywords.
// The index is rebuilt per call from the descriptors passed in, so catalog
// mutations are visible immediately.
//
// # Thread Safety
//
// Classifier is immutable and safe for concurrent use.
type Classifier struct {
	cfg ClassifierConfig
}

// NewClassifier creates a Classifier. Zero fields in cfg take defaults.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	return &Classifier{cfg: cfg.withDefaults()}
}

// Classify returns up to MaxTools candidates ordered by score, then by
// catalog order. Dynamic descriptors are never candidates. An empty result
// means the question should take the dynamic-query path.
func (c *Classifier) Classify(question string, tools []catalog.ToolDescriptor) []Candidate {
	eligible := make([]catalog.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if t.Dynamic || t.Name == catalog.DynamicToolName {
			continue
		}
		eligible = append(eligible, t)
	}
	if len(eligible) == 0 || strings.TrimSpace(question) == "" {
		return nil
	}

	phrase := " " + strings.Join(tokenize(question, false), " ") + " "
	idx := buildBM25Index(eligible)
	scores := idx.score(question)

	type ranked struct {
		Candidate
		order int
	}
	var out []ranked
	for i, t := range eligible {
		if keywordHit(phrase, t.Keywords) {
			out = append(out, ranked{Candidate{Tool: t, Score: 1, Signal: "keyword", MatchedTerms: scores[t.Name].matched}, i})
			continue
		}
		s := scores[t.Name]
		if s.matched >= c.cfg.MinMatchedTerms && s.normalized >= c.cfg.MinScore {
			out = append(out, ranked{Candidate{Tool: t, Score: s.normalized, Signal: "bm25", MatchedTerms: s.matched}, i})
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].order < out[b].order
	})
	if len(out) > c.cfg.MaxTools {
		out = out[:c.cfg.MaxTools]
	}

	result := make([]Candidate, len(out))
	for i, r := range out {
		result[i] = r.Candidate
	}
	return result
}

// keywordHit reports whether any keyword appears as a whole-word phrase in
// the padded, normalised question.
func keywordHit(paddedQuestion string, keywords []string) bool {
	for _, kw := range keywords {
		norm := strings.Join(tokenize(kw, false), " ")
		if norm == "" {
			continue
		}
		if strings.Contains(paddedQuestion, " "+norm+" ") {
			return true
		}
	}
	return false
}

// =============================================================================
// BM25 Index
// =============================================================================

type bm25Doc struct {
	name string
	tf   map[string]int
	len  int
}

type bm25Index struct {
	docs   []bm25Doc
	idf    map[string]float64
	avgLen float64
}

type bm25Score struct {
	normalized float64
	matched    int
}

// buildBM25Index indexes name, description and keywords of each tool.
// IDF uses Lucene-style smoothing: log((N+1)/(df+1)) + 1.
func buildBM25Index(tools []catalog.ToolDescriptor) *bm25Index {
	docs := make([]bm25Doc, 0, len(tools))
	df := make(map[string]int)
	totalLen := 0

	for _, t := range tools {
		parts := append([]string{t.Name, t.Description}, t.Keywords...)
		terms := tokenize(strings.Join(parts, " "), true)
		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}
		for term := range tf {
			df[term]++
		}
		docs = append(docs, bm25Doc{name: t.Name, tf: tf, len: len(terms)})
		totalLen += len(terms)
	}

	n := len(docs)
	idf := make(map[string]float64, len(df))
	for term, freq := range df {
		idf[term] = math.Log(float64(n+1)/float64(freq+1)) + 1.0
	}
	avg := 0.0
	if n > 0 {
		avg = float64(totalLen) / float64(n)
	}
	return &bm25Index{docs: docs, idf: idf, avgLen: avg}
}

// score returns normalised scores keyed by tool name. Tools with no
// matching term are omitted.
func (idx *bm25Index) score(query string) map[string]bm25Score {
	out := make(map[string]bm25Score)
	if len(idx.docs) == 0 || idx.avgLen == 0 {
		return out
	}

	queryTerms := make(map[string]struct{})
	for _, t := range tokenize(query, true) {
		queryTerms[t] = struct{}{}
	}
	if len(queryTerms) == 0 {
		return out
	}

	raw := make(map[string]float64, len(idx.docs))
	var maxScore float64
	for _, doc := range idx.docs {
		var s float64
		matched := 0
		lengthNorm := bm25K1 * (1.0 - bm25B + bm25B*float64(doc.len)/idx.avgLen)
		for term := range queryTerms {
			tf, ok := doc.tf[term]
			if !ok {
				continue
			}
			matched++
			f := float64(tf)
			s += idx.idf[term] * (f * (bm25K1 + 1)) / (f + lengthNorm)
		}
		if s <= 0 {
			continue
		}
		raw[doc.name] = s
		out[doc.name] = bm25Score{matched: matched}
		if s > maxScore {
			maxScore = s
		}
	}

	for name, s := range raw {
		v := out[name]
		v.normalized = s / maxScore
		out[name] = v
	}
	return out
}

// =============================================================================
// Tokenization
// =============================================================================

// stopWords are dropped from both questions and tool documents.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "give": {}, "how": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "list": {}, "me": {}, "my": {}, "of": {},
	"on": {}, "or": {}, "our": {}, "please": {}, "show": {}, "that": {}, "the": {},
	"there": {}, "this": {}, "to": {}, "what": {}, "which": {}, "who": {}, "with": {},
	"find": {}, "get": {}, "all": {}, "any": {}, "we": {}, "you": {}, "have": {},
}

// tokenize lowercases s and splits it on anything that is not a letter or
// digit. With dropStop, stop words and single characters are removed.
func tokenize(s string, dropStop bool) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if !dropStop {
		return fields
	}
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
