// Package urnbuild compiles each entity type's urn_template into a pure,
// deterministic Build function, and — when the template is unambiguous —
// an inverse Parse. Grounded on the teacher's global-id scheme
// (compiler/gen/sql/globalid.go: Type:ID, base64, Decode), generalized
// from a single fixed "Type:ID" shape to arbitrary multi-param templates.
package urnbuild

import (
	"fmt"
	"regexp"
	"strings"

	catalog "github.com/syssam/metacatalog"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// reservedEscapes are the URN-grammar reserved characters called out in
// SPEC_FULL.md §4.2: paren, comma, colon. They're escaped in param values
// so they can't be confused with template structure.
var reservedEscapes = []struct{ raw, escaped string }{
	{`\`, `\\`}, // escape char itself, must run first
	{`(`, `\(`},
	{`)`, `\)`},
	{`,`, `\,`},
	{`:`, `\:`},
}

func escapeValue(v string) string {
	for _, e := range reservedEscapes {
		v = strings.ReplaceAll(v, e.raw, e.escaped)
	}
	return v
}

func unescapeValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			b.WriteByte(v[i+1])
			i++
			continue
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

// segment is one piece of a compiled template: either a literal run or a
// named placeholder.
type segment struct {
	literal     string
	placeholder string
	isLiteral   bool
}

// Builder is the compiled form of one entity type's urn_template.
type Builder struct {
	EntityType string
	Template   string
	segments   []segment
	// parseRe is non-nil when the template is unambiguous and therefore
	// round-trippable; group names match placeholder names.
	parseRe *regexp.Regexp
}

// Compile parses template into a Builder for entityType. identifying and
// optional name the full set of declared params; every placeholder in the
// template must be one of them (already enforced by the registry loader,
// re-checked here defensively).
func Compile(entityType, template string, identifying, optional []string) (*Builder, error) {
	declared := make(map[string]bool, len(identifying)+len(optional))
	for _, p := range identifying {
		declared[p] = true
	}
	for _, p := range optional {
		declared[p] = true
	}

	var segs []segment
	last := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(template, -1) {
		start, end := loc[0], loc[1]
		name := template[loc[2]:loc[3]]
		if !declared[name] {
			return nil, &catalog.URNConstructionError{EntityType: entityType, Param: name}
		}
		if start > last {
			segs = append(segs, segment{literal: template[last:start], isLiteral: true})
		}
		segs = append(segs, segment{placeholder: name})
		last = end
	}
	if last < len(template) {
		segs = append(segs, segment{literal: template[last:], isLiteral: true})
	}

	b := &Builder{EntityType: entityType, Template: template, segments: segs}
	b.parseRe = compileParseRegexp(segs)
	return b, nil
}

// compileParseRegexp builds an inverse-parsing regexp when the template is
// unambiguous: no two placeholders may be adjacent without an intervening
// literal to anchor the split. Returns nil when ambiguous.
func compileParseRegexp(segs []segment) *regexp.Regexp {
	var pattern strings.Builder
	pattern.WriteString("^")
	prevWasPlaceholder := false
	for _, s := range segs {
		if s.isLiteral {
			pattern.WriteString(regexp.QuoteMeta(s.literal))
			prevWasPlaceholder = false
			continue
		}
		if prevWasPlaceholder {
			return nil // two placeholders with nothing between them: ambiguous
		}
		// A value is a run of unescaped characters or backslash escapes, so
		// an escaped separator inside a value never ends the match.
		fmt.Fprintf(&pattern, `(?P<%s>(?:[^\\]|\\.)+?)`, s.placeholder)
		prevWasPlaceholder = true
	}
	pattern.WriteString("$")
	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil
	}
	return re
}

// Parseable reports whether this template supports Parse.
func (b *Builder) Parseable() bool {
	return b.parseRe != nil
}

// Build substitutes params into the template. Every placeholder in the
// template must have a corresponding entry in params; a missing one makes
// Build return *catalog.URNConstructionError naming that placeholder.
func (b *Builder) Build(params map[string]string) (catalog.URN, error) {
	var out strings.Builder
	for _, s := range b.segments {
		if s.isLiteral {
			out.WriteString(s.literal)
			continue
		}
		v, ok := params[s.placeholder]
		if !ok {
			return "", &catalog.URNConstructionError{EntityType: b.EntityType, Param: s.placeholder}
		}
		out.WriteString(escapeValue(v))
	}
	return catalog.URN(out.String()), nil
}

// ErrURNNotParseable is returned by Parse when the template is ambiguous.
var ErrURNNotParseable = fmt.Errorf("urnbuild: template is not round-trippable")

// Parse inverts Build when the template is unambiguous.
func (b *Builder) Parse(urn catalog.URN) (map[string]string, error) {
	if b.parseRe == nil {
		return nil, ErrURNNotParseable
	}
	m := b.parseRe.FindStringSubmatch(string(urn))
	if m == nil {
		return nil, fmt.Errorf("urnbuild: urn %q does not match template %q", urn, b.Template)
	}
	out := make(map[string]string, len(m)-1)
	for i, name := range b.parseRe.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		out[name] = unescapeValue(m[i])
	}
	return out, nil
}
