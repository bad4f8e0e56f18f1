package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr/vm"

	catalog "github.com/syssam/metacatalog"
	"github.com/syssam/metacatalog/internal/registry"
	"github.com/syssam/metacatalog/internal/urnbuild"
)

// Projection is one relationship tuple a rule produced from a single
// aspect write, ready for the session coordinator to persist via the
// Graph Writer.
type Projection struct {
	Rule              string
	SrcURN            catalog.URN
	RelType           string
	DstURN            catalog.URN
	DiscriminatorHash string
	Properties        map[string]any
	AutoCreateMissing bool
}

// BuilderLookup resolves an entity type to its compiled URN builder, so a
// from_params selector can construct a destination URN from projected
// params. The Operation Synthesizer (§4.6) owns the builder set and
// implements this.
type BuilderLookup func(entityType string) (*urnbuild.Builder, bool)

// compiledRule caches the expr programs a rule's paths need, so Evaluate
// never recompiles a script.
type compiledRule struct {
	rule       *registry.RelationshipRule
	srcExpr    *vm.Program
	dstExpr    *vm.Program
	propsExpr  map[string]*vm.Program
	srcSelExpr *vm.Program
	dstSelExpr *vm.Program
}

// Engine evaluates every relationship rule triggered by a given aspect
// write against that aspect's payload.
type Engine struct {
	reg      *registry.Registry
	builders BuilderLookup
	compiled map[string][]*compiledRule // by trigger aspect name
}

// NewEngine compiles every rule declared in reg once, up front, so that
// per-write evaluation never touches expr.Compile.
func NewEngine(reg *registry.Registry, builders BuilderLookup) (*Engine, error) {
	e := &Engine{reg: reg, builders: builders, compiled: map[string][]*compiledRule{}}

	for _, entityType := range reg.EntityTypes() {
		for aspectName := range reg.AspectsOf(entityType) {
			for _, r := range reg.RelationshipRulesFor(aspectName) {
				if _, done := indexOf(e.compiled[aspectName], r); done {
					continue
				}
				cr, err := compileRule(r)
				if err != nil {
					return nil, err
				}
				e.compiled[aspectName] = append(e.compiled[aspectName], cr)
			}
		}
	}
	return e, nil
}

func indexOf(crs []*compiledRule, r *registry.RelationshipRule) (int, bool) {
	for i, cr := range crs {
		if cr.rule == r {
			return i, true
		}
	}
	return -1, false
}

func compileRule(r *registry.RelationshipRule) (*compiledRule, error) {
	cr := &compiledRule{rule: r, propsExpr: map[string]*vm.Program{}}
	var err error
	if isExprPath(r.ExtractSrc) {
		if cr.srcExpr, err = compileExpr(r.ExtractSrc); err != nil {
			return nil, err
		}
	}
	if isExprPath(r.ExtractDst) {
		if cr.dstExpr, err = compileExpr(r.ExtractDst); err != nil {
			return nil, err
		}
	}
	for key, path := range r.ExtractProps {
		if isExprPath(path) {
			prog, err := compileExpr(path)
			if err != nil {
				return nil, err
			}
			cr.propsExpr[key] = prog
		}
	}
	if isExprPath(r.SourceSelector.Path) {
		if cr.srcSelExpr, err = compileExpr(r.SourceSelector.Path); err != nil {
			return nil, err
		}
	}
	if isExprPath(r.DestinationSelector.Path) {
		if cr.dstSelExpr, err = compileExpr(r.DestinationSelector.Path); err != nil {
			return nil, err
		}
	}
	return cr, nil
}

// Evaluate runs every rule triggered by writing aspectName on ownerURN
// (whose entity type is entityType) against payload, returning every
// relationship tuple the rules produced. A rule whose selectors can't
// resolve a destination for a given fan-out element is skipped for that
// element rather than failing the whole evaluation, since partial payload
// data (e.g. an upstream lineage entry missing a platform) is common.
func (e *Engine) Evaluate(entityType string, ownerURN catalog.URN, aspectName string, payload catalog.Payload) ([]Projection, error) {
	var out []Projection
	for _, cr := range e.compiled[aspectName] {
		if cr.rule.TriggerEntity != "" && cr.rule.TriggerEntity != entityType {
			continue
		}
		projs, err := e.evaluateRule(cr, ownerURN, payload)
		if err != nil {
			return nil, &catalog.RuleEvaluationError{Rule: cr.rule.Name, Path: cr.rule.ExtractDst, Err: err}
		}
		out = append(out, projs...)
	}
	return out, nil
}

func (e *Engine) evaluateRule(cr *compiledRule, ownerURN catalog.URN, payload catalog.Payload) ([]Projection, error) {
	r := cr.rule
	rawPayload := map[string]any(payload)

	dstElems, err := e.extractDst(cr, rawPayload)
	if err != nil {
		return nil, err
	}

	var out []Projection
	for _, elem := range dstElems {
		src, err := e.resolveSelector(cr, r.SourceSelector, cr.srcSelExpr, ownerURN, rawPayload, elem)
		if err != nil {
			continue
		}
		dst, err := e.resolveSelector(cr, r.DestinationSelector, cr.dstSelExpr, ownerURN, rawPayload, elem)
		if err != nil {
			continue
		}
		if !r.AllowSelfLoop && src == dst {
			continue
		}

		props := map[string]any{}
		for key, path := range r.ExtractProps {
			var v any
			var ok bool
			if prog, isExpr := cr.propsExpr[key]; isExpr {
				v, err = runExpr(prog, rawPayload, elem)
				ok = err == nil
			} else {
				v, ok = projectElem(elem, rawPayload, path)
			}
			if ok {
				props[key] = v
			}
		}

		discValues := make([]string, 0, len(r.Edge.Discriminators))
		for _, d := range r.Edge.Discriminators {
			if v, ok := props[d]; ok {
				if s, ok := asString(v); ok {
					discValues = append(discValues, s)
				}
			}
		}

		out = append(out, Projection{
			Rule:              r.Name,
			SrcURN:            src,
			RelType:           r.Edge.Type,
			DstURN:            dst,
			DiscriminatorHash: discriminatorHash(discValues),
			Properties:        props,
			AutoCreateMissing: r.AutoCreateMissing,
		})
	}
	return out, nil
}

func (e *Engine) extractDst(cr *compiledRule, payload map[string]any) ([]any, error) {
	if cr.dstExpr != nil {
		v, err := runExpr(cr.dstExpr, payload, nil)
		if err != nil {
			return nil, err
		}
		if arr, ok := v.([]any); ok {
			return arr, nil
		}
		return []any{v}, nil
	}
	return projectMany(payload, cr.rule.ExtractDst)
}

// resolveSelector turns a Selector into a concrete URN given the current
// owner URN, the full payload, and the current fan-out element.
func (e *Engine) resolveSelector(cr *compiledRule, sel registry.Selector, compiledExpr *vm.Program, ownerURN catalog.URN, payload map[string]any, elem any) (catalog.URN, error) {
	switch sel.Kind {
	case registry.SelectorOwning:
		return ownerURN, nil

	case registry.SelectorFromURN:
		var v any
		var ok bool
		var err error
		if compiledExpr != nil {
			v, err = runExpr(compiledExpr, payload, elem)
			ok = err == nil
		} else {
			v, ok = projectElem(elem, payload, sel.Path)
		}
		if !ok {
			return "", fmt.Errorf("rules: from_urn selector path %q did not resolve", sel.Path)
		}
		s, ok := asString(v)
		if !ok {
			return "", fmt.Errorf("rules: from_urn selector path %q did not resolve to a string", sel.Path)
		}
		return catalog.URN(s), nil

	case registry.SelectorFromParams:
		builder, ok := e.builders(sel.Entity)
		if !ok {
			return "", fmt.Errorf("rules: no urn builder registered for entity type %q", sel.Entity)
		}
		params := make(map[string]string, len(sel.Params))
		for name, path := range sel.Params {
			v, ok := projectElem(elem, payload, path)
			if !ok {
				return "", fmt.Errorf("rules: from_params selector: param %q path %q did not resolve", name, path)
			}
			s, ok := asString(v)
			if !ok {
				return "", fmt.Errorf("rules: from_params selector: param %q did not resolve to a string", name)
			}
			params[name] = s
		}
		return builder.Build(params)

	default:
		return "", fmt.Errorf("rules: unknown selector kind %q", sel.Kind)
	}
}

// discriminatorHash produces a stable, order-independent merge key from a
// rule's discriminator property values.
func discriminatorHash(values []string) string {
	if len(values) == 0 {
		return ""
	}
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x1f")))
	return hex.EncodeToString(sum[:])[:16]
}
