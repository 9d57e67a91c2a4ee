// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokString
	tokIdent // backtick-quoted identifier
	tokPunct
)

type token struct {
	kind tokenKind
	text string

	// start and end are byte offsets of text in the source.
	start, end int
}

// tokenize splits Cypher text into a flat token stream.
//
// Comments are dropped. Unterminated strings, identifiers and block
// comments run to the end of the input. Multi-character operators are
// emitted one rune at a time; the guard only inspects ".", ":", "$" and ";".
func tokenize(src string) []token {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])

		switch {
		case unicode.IsSpace(r):
			i += size

		case r == '/' && i+1 < len(src) && src[i+1] == '/':
			for i < len(src) && src[i] != '\n' {
				i++
			}

		case r == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				i = len(src)
			} else {
				i += 2 + end + 2
			}

		case r == '\'' || r == '"':
			start := i
			i = skipQuoted(src, i+1, byte(r))
			toks = append(toks, token{kind: tokString, text: src[start:i], start: start, end: i})

		case r == '`':
			start := i
			i++
			for i < len(src) {
				if src[i] == '`' {
					if i+1 < len(src) && src[i+1] == '`' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], start: start, end: i})

		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(src) {
				r2, s2 := utf8.DecodeRuneInString(src[i:])
				if r2 != '_' && !unicode.IsLetter(r2) && !unicode.IsDigit(r2) {
					break
				}
				i += s2
			}
			toks = append(toks, token{kind: tokWord, text: src[start:i], start: start, end: i})

		case unicode.IsDigit(r):
			start := i
			for i < len(src) && src[i] >= '0' && src[i] <= '9' {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], start: start, end: i})

		default:
			toks = append(toks, token{kind: tokPunct, text: src[i : i+size], start: i, end: i + size})
			i += size
		}
	}
	return toks
}

// skipQuoted returns the index just past the closing quote, honouring
// backslash escapes.
func skipQuoted(src string, i int, quote byte) int {
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
		case quote:
			return i + 1
		default:
			i++
		}
	}
	return len(src)
}
