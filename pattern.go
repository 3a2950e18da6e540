// Copyright (c) 2020–2024 The labbench developers. All rights reserved.
// Project site: https://github.com/gotmc/labbench
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package labbench

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultFilter matches every INSTR resource.
const DefaultFilter = "?*::INSTR"

// Pattern is a compiled VISA resource expression.
type Pattern struct {
	expr string
	re   *regexp.Regexp
}

// CompilePattern translates a VISA resource expression into a regular
// expression anchored at both ends. The VISA grammar is a small regular
// language:
//
//	?      any one character
//	*      zero or more of the preceding item
//	+      one or more of the preceding item
//	[...]  character class, [^...] negated
//	|      alternation
//	(...)  grouping
//
// Every other character is literal, notably '.'. Matching is case
// insensitive as in VISA.
func CompilePattern(expr string) (*Pattern, error) {
	var b strings.Builder
	b.WriteString("(?i)^(?:")
	inClass := false
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if inClass {
			if c == ']' {
				inClass = false
			}
			if c == '\\' {
				b.WriteString(`\\`)
				continue
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '?':
			b.WriteByte('.')
		case '*', '+', '|', '(', ')':
			b.WriteByte(c)
		case '[':
			inClass = true
			b.WriteByte(c)
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	if inClass {
		return nil, fmt.Errorf("resource expression %q: unterminated character class", expr)
	}
	b.WriteString(")$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("resource expression %q: %w", expr, err)
	}
	return &Pattern{expr: expr, re: re}, nil
}

// MustCompilePattern is like CompilePattern but panics on error.
func MustCompilePattern(expr string) *Pattern {
	p, err := CompilePattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether resource matches the expression.
func (p *Pattern) Match(resource string) bool { return p.re.MatchString(resource) }

func (p *Pattern) String() string { return p.expr }

// Filter returns the resources matching p, keeping their order.
func (p *Pattern) Filter(resources []string) []string {
	var out []string
	for _, r := range resources {
		if p.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
