// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard validates Cypher text before execution.
//
// The guard rejects statements that can mutate the graph and makes sure a
// result-size bound is present. It works on a token stream rather than raw
// substrings, so identifiers such as "createdAt", property accesses such as
// n.delete and string literals never trigger a rejection.
//
// Thread Safety:
//
//	Guard is immutable after construction and safe for concurrent use.
package guard

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrQueryRejected is matched by every rejection.
var ErrQueryRejected = errors.New("query rejected")

// Rejection reasons.
const (
	ReasonMutatingOperation  = "mutating-operation-detected"
	ReasonSyntacticallyEmpty = "syntactically-empty"
)

// DefaultRowCap is used when New is given a non-positive cap.
const DefaultRowCap = 100

// writeProcedurePrefixes name procedures that run Cypher given as a string
// argument, write in batches or install write hooks. Matched against the
// lower-cased dotted name.
var writeProcedurePrefixes = []string{
	"apoc.cypher.doit",
	"apoc.cypher.runwrite",
	"apoc.cypher.runmany",
	"apoc.cypher.runfile",
	"apoc.cypher.runschema",
	"apoc.periodic.",
	"apoc.do.",
	"apoc.trigger.",
	"apoc.refactor.",
	"apoc.atomic.",
	"apoc.schema.assert",
}

// mutatingKeywords are matched case-insensitively as whole tokens.
var mutatingKeywords = map[string]struct{}{
	"create": {},
	"merge":  {},
	"delete": {},
	"set":    {},
	"remove": {},
	"drop":   {},
}

// RejectionError describes why a query was refused.
type RejectionError struct {
	// Reason is one of the Reason* constants.
	Reason string

	// Token is the offending keyword as written, empty for empty queries.
	Token string
}

func (e *RejectionError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("query rejected: %s (%q)", e.Reason, e.Token)
	}
	return "query rejected: " + e.Reason
}

// Unwrap lets errors.Is(err, ErrQueryRejected) match.
func (e *RejectionError) Unwrap() error {
	return ErrQueryRejected
}

// Result is the outcome of a successful validation.
type Result struct {
	// Query is the text to execute. It equals the input unless a bound was appended.
	Query string

	// LimitAppended is true when the guard added LIMIT <cap>.
	LimitAppended bool
}

// Guard validates and bounds queries.
type Guard struct {
	rowCap int
}

// New creates a Guard that appends LIMIT rowCap to unbounded queries.
func New(rowCap int) *Guard {
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}
	return &Guard{rowCap: rowCap}
}

// RowCap returns the bound appended to unbounded queries.
func (g *Guard) RowCap() int {
	return g.rowCap
}

// Validate checks query against the read-only policy and bounds it.
//
// Description:
//
//	The query is tokenised with string literals, backtick identifiers and
//	comments skipped. A keyword token counts as mutating only when it is
//	not preceded by ".", ":" or "$" and not followed by ":" (a map key).
//	After CALL, each segment of the dotted procedure name is checked, so
//	apoc.create.node and apoc.refactor.mergeNodes are refused while
//	db.labels is allowed. Procedures that execute Cypher passed as a
//	string or write in batches (apoc.cypher.doIt, apoc.periodic.*,
//	apoc.do.*, ...) are refused by name, since their argument text is
//	never tokenised.
//
//	Bounding works per top-level UNION branch. A branch whose last RETURN
//	has no LIMIT after it gets "\nLIMIT <cap>" inserted right after its
//	final token, so trailing ";" separators are dropped and trailing
//	comments stay after the bound. Subquery braces are not branches.
//	Statements without a top-level RETURN (standalone procedure calls) are
//	not modified.
//
// Inputs:
//   - query: Cypher text.
//
// Outputs:
//   - Result: The possibly bounded query.
//   - error: *RejectionError wrapping ErrQueryRejected on refusal.
//
// Limitations:
//   - Each UNION branch is capped separately, so a union of n branches can
//     return up to n*cap rows. The executor's row cap bounds the total.
//
// Thread Safety: Pure function of the input and the configured cap.
func (g *Guard) Validate(query string) (Result, error) {
	toks := tokenize(query)
	end := len(toks)
	for end > 0 && isSemicolon(toks[end-1]) {
		end--
	}
	if end == 0 {
		return Result{}, &RejectionError{Reason: ReasonSyntacticallyEmpty}
	}

	for i, t := range toks {
		if !isKeywordPosition(toks, i) {
			continue
		}
		lower := strings.ToLower(t.text)
		if _, bad := mutatingKeywords[lower]; bad {
			return Result{}, &RejectionError{Reason: ReasonMutatingOperation, Token: t.text}
		}
		if lower == "call" {
			if seg, bad := mutatingProcedureSegment(toks, i+1); bad {
				return Result{}, &RejectionError{Reason: ReasonMutatingOperation, Token: seg}
			}
			if name, bad := writeProcedure(toks, i+1); bad {
				return Result{}, &RejectionError{Reason: ReasonMutatingOperation, Token: name}
			}
		}
	}

	cuts := g.branchCuts(toks[:end])
	if len(cuts) == 0 {
		return Result{Query: query}, nil
	}
	return Result{Query: g.splice(query, toks, end, cuts), LimitAppended: true}, nil
}

// branchCuts returns the byte offsets after which a LIMIT must be inserted,
// one per unbounded top-level UNION branch, in source order.
func (g *Guard) branchCuts(toks []token) []int {
	var cuts []int
	from, depth := 0, 0
	flush := func(to int) {
		if at, ok := unboundedBranchEnd(toks, from, to); ok {
			cuts = append(cuts, at)
		}
	}
	for i, t := range toks {
		if t.kind == tokPunct {
			depth = nest(depth, t.text)
			continue
		}
		if depth == 0 && isKeywordPosition(toks, i) && strings.EqualFold(t.text, "union") {
			flush(i)
			from = i + 1
		}
	}
	flush(len(toks))
	return cuts
}

// unboundedBranchEnd inspects toks[from:to]. It reports the end offset of
// the branch when its last top-level RETURN has no LIMIT after it.
func unboundedBranchEnd(toks []token, from, to int) (int, bool) {
	depth, lastReturn, limited := 0, -1, false
	for i := from; i < to; i++ {
		t := toks[i]
		if t.kind == tokPunct {
			depth = nest(depth, t.text)
			continue
		}
		if depth > 0 || !isKeywordPosition(toks, i) {
			continue
		}
		switch strings.ToLower(t.text) {
		case "return":
			lastReturn, limited = i, false
		case "limit":
			if lastReturn >= 0 {
				limited = true
			}
		}
	}
	if lastReturn < 0 || limited {
		return 0, false
	}
	return toks[to-1].end, true
}

// splice inserts the bound at each cut. When the last cut closes the
// statement, the trailing ";" tokens are removed from what follows it.
func (g *Guard) splice(query string, toks []token, end int, cuts []int) string {
	limit := fmt.Sprintf("\nLIMIT %d", g.rowCap)
	var b strings.Builder
	prev := 0
	for _, at := range cuts {
		b.WriteString(query[prev:at])
		b.WriteString(limit)
		prev = at
	}
	if prev != toks[end-1].end {
		b.WriteString(query[prev:])
		return b.String()
	}
	for _, t := range toks[end:] {
		b.WriteString(query[prev:t.start])
		prev = t.end
	}
	b.WriteString(query[prev:])
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}

func isSemicolon(t token) bool {
	return t.kind == tokPunct && t.text == ";"
}

// nest tracks brace depth for subqueries and map literals.
func nest(depth int, punct string) int {
	switch punct {
	case "{":
		return depth + 1
	case "}":
		if depth > 0 {
			return depth - 1
		}
	}
	return depth
}

// isKeywordPosition reports whether toks[i] is a bare word in keyword position.
func isKeywordPosition(toks []token, i int) bool {
	if toks[i].kind != tokWord {
		return false
	}
	if i > 0 && toks[i-1].kind == tokPunct {
		switch toks[i-1].text {
		case ".", ":", "$":
			return false
		}
	}
	if i+1 < len(toks) && toks[i+1].kind == tokPunct && toks[i+1].text == ":" {
		return false
	}
	return true
}

// mutatingProcedureSegment walks a dotted procedure name starting at toks[i].
// A segment is mutating when it equals a mutating keyword or starts with one
// followed by an upper-case letter (camelCase procedure names).
func mutatingProcedureSegment(toks []token, i int) (string, bool) {
	for i < len(toks) && toks[i].kind == tokWord {
		seg := toks[i].text
		lower := strings.ToLower(seg)
		for kw := range mutatingKeywords {
			if lower == kw {
				return seg, true
			}
			if len(seg) > len(kw) && strings.HasPrefix(lower, kw) && unicode.IsUpper(rune(seg[len(kw)])) {
				return seg, true
			}
		}
		if i+1 < len(toks) && toks[i+1].kind == tokPunct && toks[i+1].text == "." {
			i += 2
			continue
		}
		break
	}
	return "", false
}

// writeProcedure reads the dotted procedure name starting at toks[i] and
// reports it when it matches writeProcedurePrefixes or ends in ".write"
// (graph algorithm write mode).
func writeProcedure(toks []token, i int) (string, bool) {
	var parts []string
	for i < len(toks) && toks[i].kind == tokWord {
		parts = append(parts, toks[i].text)
		if i+1 < len(toks) && toks[i+1].kind == tokPunct && toks[i+1].text == "." {
			i += 2
			continue
		}
		break
	}
	if len(parts) == 0 {
		return "", false
	}
	name := strings.Join(parts, ".")
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".write") {
		return name, true
	}
	for _, prefix := range writeProcedurePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return name, true
		}
	}
	return "", false
}
