package resolver

import (
	"fmt"
	"strconv"
	"strings"
)

// segmentKind discriminates a path segment.
type segmentKind int

const (
	segField segmentKind = iota
	segIndex
)

// segment is one step of a parsed path: either a named field access
// (.foo or [foo]) or a numeric index ([0]).
type segment struct {
	kind  segmentKind
	name  string
	index int
}

// path is the parsed form of the text between ${ and }.
type path struct {
	root     string
	segments []segment
}

// parsePath parses an identifier(.identifier | [n] | [k])* expression.
// It never returns an error: text outside this grammar makes it return
// ok=false, and ResolveString then keeps the whole ${...} as a literal
// substring, per SPEC_FULL.md
// §4.1 ("no arithmetic/conditionals ... literal substring").
func parsePath(expr string) (p path, ok bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return path{}, false
	}

	i := 0
	n := len(expr)

	readIdent := func() (string, bool) {
		start := i
		if i >= n || !isIdentStart(expr[i]) {
			return "", false
		}
		i++
		for i < n && isIdentPart(expr[i]) {
			i++
		}
		return expr[start:i], true
	}

	root, ok := readIdent()
	if !ok {
		return path{}, false
	}
	p.root = root

	for i < n {
		switch expr[i] {
		case '.':
			i++
			ident, ok := readIdent()
			if !ok {
				return path{}, false
			}
			p.segments = append(p.segments, segment{kind: segField, name: ident})
		case '[':
			i++
			start := i
			for i < n && expr[i] != ']' {
				i++
			}
			if i >= n {
				return path{}, false
			}
			inner := expr[start:i]
			i++ // consume ']'
			if idx, err := strconv.Atoi(strings.TrimSpace(inner)); err == nil {
				p.segments = append(p.segments, segment{kind: segIndex, index: idx})
			} else {
				trimmed := strings.Trim(strings.TrimSpace(inner), `"'`)
				if trimmed == "" {
					return path{}, false
				}
				p.segments = append(p.segments, segment{kind: segField, name: trimmed})
			}
		default:
			// Anything else (operators, whitespace, parens) is outside
			// this grammar entirely; refuse to parse rather than guess.
			return path{}, false
		}
	}

	return p, true
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (p path) String() string {
	var b strings.Builder
	b.WriteString(p.root)
	for _, s := range p.segments {
		switch s.kind {
		case segField:
			b.WriteString(".")
			b.WriteString(s.name)
		case segIndex:
			fmt.Fprintf(&b, "[%d]", s.index)
		}
	}
	return b.String()
}
