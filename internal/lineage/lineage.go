// Package lineage implements the Lineage Template Resolver (SPEC_FULL.md
// §4.7/§4.7.1): turns one fine-grained lineage entry (a transformation
// type, a confidence score, and whatever column-level variables the
// aspect payload carried) into the description text and edge properties
// a DERIVES_FROM relationship should carry. Values arrive already
// projected by the Relationship Rule Engine (Entry.Vars); this package
// reads the Registry's optional lineage_config section for per-
// transformation-type templates, falling back to a generic description
// when the Registry declares none.
package lineage

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/syssam/metacatalog/internal/registry"
)

var templatePlaceholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// defaultPattern is used when the Registry declares no lineage_config, or
// no entry for a given transformation type and no default either.
var defaultPattern = registry.LineagePattern{
	DescriptionTemplate: "{transformation_type} transformation (confidence {confidence_score})",
}

// Entry is one element of a fineGrainedLineages-shaped aspect array.
type Entry struct {
	TransformationType string
	ConfidenceScore    float64
	// Vars are the additional payload-derived values available to the
	// description template and relationship_properties projections (e.g.
	// upstream/downstream column names).
	Vars map[string]any
}

// Resolver renders lineage templates against Entry values.
type Resolver struct {
	cfg *registry.LineageConfig
}

// NewResolver builds a Resolver from reg's optional lineage_config
// section.
func NewResolver(reg *registry.Registry) *Resolver {
	return &Resolver{cfg: reg.Lineage()}
}

// Resolve renders e's description and computes the relationship
// properties a DERIVES_FROM edge for e should carry. confidence_score is
// always present in both the template variables and the returned
// properties (SPEC_FULL.md §4.7.1's "confidence_score passthrough").
func (r *Resolver) Resolve(e Entry) (description string, properties map[string]any) {
	pattern := r.patternFor(e.TransformationType)

	vars := make(map[string]any, len(e.Vars)+2)
	for k, v := range e.Vars {
		vars[k] = v
	}
	vars["transformation_type"] = e.TransformationType
	vars["confidence_score"] = e.ConfidenceScore

	description = render(pattern.DescriptionTemplate, vars)

	properties = map[string]any{"confidence_score": e.ConfidenceScore}
	for propKey, varName := range pattern.RelationshipProperties {
		if v, ok := vars[varName]; ok {
			properties[propKey] = v
		}
	}
	return description, properties
}

func (r *Resolver) patternFor(transformationType string) registry.LineagePattern {
	if r.cfg == nil {
		return defaultPattern
	}
	if p, ok := r.cfg.Patterns[transformationType]; ok {
		return p
	}
	if r.cfg.Default.DescriptionTemplate != "" {
		return r.cfg.Default
	}
	return defaultPattern
}

// render substitutes {name} placeholders in tmpl from vars; an
// unresolvable placeholder is left as a literal marker rather than
// silently dropped, so a malformed template is visible in the rendered
// description instead of producing misleading prose.
func render(tmpl string, vars map[string]any) string {
	return templatePlaceholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := vars[name]
		if !ok {
			return match
		}
		return fmt.Sprintf("%v", v)
	})
}

// JoinColumns is a small convenience for building a Vars entry out of a
// projected column-name list, since fine-grained lineage payloads
// typically carry an array of column paths per side.
func JoinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}
