package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	catalog "github.com/syssam/metacatalog"
)

// Load reads the Registry document at path, resolves any `include:`
// entries relative to path's directory, and validates the merged result.
// Validation failures are fatal: Load never returns a partially valid
// Registry (SPEC_FULL.md §4.1).
func Load(path string) (*Registry, error) {
	doc, err := loadMerged(path, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return compile(doc)
}

// LoadBytes parses a single in-memory document with no includes. Used by
// tests and by callers that assemble a Registry document programmatically.
func LoadBytes(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, catalog.NewRegistryParseError(err)
	}
	return compile(&doc)
}

func loadMerged(path string, visited map[string]bool) (*document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, catalog.NewRegistryParseError(fmt.Errorf("resolve path %q: %w", path, err))
	}
	if visited[abs] {
		return nil, catalog.NewRegistryReferenceError(fmt.Errorf("include cycle at %q", path))
	}
	visited[abs] = true

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, catalog.NewRegistryParseError(fmt.Errorf("read %q: %w", path, err))
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, catalog.NewRegistryParseError(fmt.Errorf("parse %q: %w", path, err))
	}

	merged := &document{
		Entities:      map[string]entityDoc{},
		Aspects:       map[string]aspectDoc{},
		LineageConfig: doc.LineageConfig,
	}
	dir := filepath.Dir(abs)
	for _, inc := range doc.Include {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(dir, incPath)
		}
		child, err := loadMerged(incPath, visited)
		if err != nil {
			return nil, err
		}
		if err := mergeInto(merged, child); err != nil {
			return nil, err
		}
	}
	if err := mergeInto(merged, &doc); err != nil {
		return nil, err
	}
	return merged, nil
}

func mergeInto(dst, src *document) error {
	for name, e := range src.Entities {
		if _, dup := dst.Entities[name]; dup {
			return catalog.NewRegistryReferenceError(fmt.Errorf("entity %q declared more than once across includes", name))
		}
		dst.Entities[name] = e
	}
	for name, a := range src.Aspects {
		if _, dup := dst.Aspects[name]; dup {
			return catalog.NewRegistryReferenceError(fmt.Errorf("aspect %q declared more than once across includes", name))
		}
		dst.Aspects[name] = a
	}
	dst.RelationshipRules = append(dst.RelationshipRules, src.RelationshipRules...)
	if src.LineageConfig != nil {
		dst.LineageConfig = src.LineageConfig
	}
	return nil
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// compile runs validation passes (1)-(5) from SPEC_FULL.md §4.1, in order,
// and assembles the queryable Registry. Reference-integrity problems found
// within a single pass are aggregated rather than stopping at the first.
func compile(doc *document) (*Registry, error) {
	reg := &Registry{
		entities:       make(map[string]*EntityDef, len(doc.Entities)),
		aspects:        make(map[string]*AspectDef, len(doc.Aspects)),
		rulesByTrigger: make(map[string][]*RelationshipRule),
	}

	// Pass 2 (partial) + compile: aspects first, since entities reference them.
	var errs *multierror.Error
	for name, a := range doc.Aspects {
		kind := AspectKind(a.Type)
		if !kind.Valid() {
			errs = multierror.Append(errs, fmt.Errorf("aspect %q: invalid kind %q", name, a.Type))
			continue
		}
		reg.aspects[name] = &AspectDef{
			Name:       name,
			Kind:       kind,
			Properties: a.Properties,
			Required:   a.Required,
		}
	}

	for name, e := range doc.Entities {
		ent := &EntityDef{
			Name:              name,
			IdentifyingParams: e.IdentifyingParams,
			OptionalParams:    e.OptionalParams,
			URNTemplate:       e.URNTemplate,
			Aspects:           make(map[string]AspectKind, len(e.Aspects)),
		}
		for aspectName, kindStr := range e.Aspects {
			kind := AspectKind(kindStr)
			if !kind.Valid() {
				errs = multierror.Append(errs, fmt.Errorf("entity %q: aspect %q: invalid kind %q", name, aspectName, kindStr))
				continue
			}
			// Pass (2): the aspect must be globally declared.
			global, ok := reg.aspects[aspectName]
			if !ok {
				errs = multierror.Append(errs, fmt.Errorf("entity %q: aspect %q is not declared in the top-level aspects section", name, aspectName))
				continue
			}
			if global.Kind != kind {
				errs = multierror.Append(errs, fmt.Errorf("entity %q: aspect %q declared as %q but aspects section declares %q", name, aspectName, kind, global.Kind))
				continue
			}
			ent.Aspects[aspectName] = kind
		}
		reg.entities[name] = ent
	}
	if errs != nil && errs.Len() > 0 {
		return nil, catalog.NewRegistryReferenceError(errs.ErrorOrNil())
	}

	// Pass (3): URN templates refer only to declared params.
	for name, ent := range reg.entities {
		declared := make(map[string]bool, len(ent.IdentifyingParams)+len(ent.OptionalParams))
		for _, p := range ent.IdentifyingParams {
			declared[p] = true
		}
		for _, p := range ent.OptionalParams {
			declared[p] = true
		}
		for _, m := range placeholderRe.FindAllStringSubmatch(ent.URNTemplate, -1) {
			if !declared[m[1]] {
				errs = multierror.Append(errs, fmt.Errorf("entity %q: urn_template references undeclared param %q", name, m[1]))
			}
		}
	}
	if errs != nil && errs.Len() > 0 {
		return nil, catalog.NewRegistryReferenceError(errs.ErrorOrNil())
	}

	// Passes (4)-(5): relationship rules.
	for i, rd := range doc.RelationshipRules {
		rule, ruleErrs := compileRule(reg, i, rd)
		if len(ruleErrs) > 0 {
			for _, e := range ruleErrs {
				errs = multierror.Append(errs, e)
			}
			continue
		}
		reg.rules = append(reg.rules, rule)
		reg.rulesByTrigger[rule.Trigger] = append(reg.rulesByTrigger[rule.Trigger], rule)
	}
	if errs != nil && errs.Len() > 0 {
		return nil, catalog.NewRegistryKindMismatchError(errs.ErrorOrNil())
	}

	reg.lineage = compileLineage(doc.LineageConfig)
	return reg, nil
}

func compileRule(reg *Registry, index int, rd relationshipRuleDoc) (*RelationshipRule, []error) {
	var errs []error
	name := fmt.Sprintf("%s#%d", rd.Trigger, index)

	aspectDef, ok := reg.aspects[rd.Trigger]
	if !ok {
		errs = append(errs, fmt.Errorf("relationship_rules[%d]: trigger aspect %q is not declared", index, rd.Trigger))
	}
	if rd.TriggerEntity != "" {
		if _, ok := reg.entities[rd.TriggerEntity]; !ok {
			errs = append(errs, fmt.Errorf("relationship_rules[%d]: trigger_entity %q is not declared", index, rd.TriggerEntity))
		} else if aspectDef != nil {
			if _, ok := reg.entities[rd.TriggerEntity].Aspects[rd.Trigger]; !ok {
				errs = append(errs, fmt.Errorf("relationship_rules[%d]: entity %q does not declare aspect %q", index, rd.TriggerEntity, rd.Trigger))
			}
		}
	}

	src, srcErrs := compileSelector(reg, index, "source_selector", rd.SourceSelector)
	dst, dstErrs := compileSelector(reg, index, "destination_selector", rd.DestinationSelector)
	errs = append(errs, srcErrs...)
	errs = append(errs, dstErrs...)

	if rd.Edge.Type == "" {
		errs = append(errs, fmt.Errorf("relationship_rules[%d]: edge.type is required", index))
	}
	if rd.Extract.Src == "" {
		errs = append(errs, fmt.Errorf("relationship_rules[%d]: extract.src is required", index))
	}
	if rd.Extract.Dst == "" {
		errs = append(errs, fmt.Errorf("relationship_rules[%d]: extract.dst is required", index))
	}

	if len(errs) > 0 {
		return nil, errs
	}

	return &RelationshipRule{
		Name:                name,
		Trigger:             rd.Trigger,
		TriggerEntity:       rd.TriggerEntity,
		ExtractSrc:          rd.Extract.Src,
		ExtractDst:          rd.Extract.Dst,
		ExtractProps:        rd.Extract.Props,
		SourceSelector:      src,
		DestinationSelector: dst,
		Edge:                EdgeSpec{Type: rd.Edge.Type, Discriminators: rd.Edge.Discriminators},
		AutoCreateMissing:   rd.AutoCreateMissing,
		AllowSelfLoop:       rd.AllowSelfLoop,
	}, nil
}

func compileSelector(reg *Registry, index int, field string, sd selectorDoc) (Selector, []error) {
	var errs []error
	kind := SelectorKind(sd.Kind)
	switch kind {
	case SelectorOwning:
		// no further references to validate
	case SelectorFromURN:
		if sd.Entity != "" {
			if _, ok := reg.entities[sd.Entity]; !ok {
				errs = append(errs, fmt.Errorf("relationship_rules[%d].%s: entity %q is not declared", index, field, sd.Entity))
			}
		}
		if sd.Path == "" {
			errs = append(errs, fmt.Errorf("relationship_rules[%d].%s: from_urn selector requires a path", index, field))
		}
	case SelectorFromParams:
		if sd.Entity == "" {
			errs = append(errs, fmt.Errorf("relationship_rules[%d].%s: from_params selector requires entity", index, field))
		} else if _, ok := reg.entities[sd.Entity]; !ok {
			errs = append(errs, fmt.Errorf("relationship_rules[%d].%s: entity %q is not declared", index, field, sd.Entity))
		}
	default:
		errs = append(errs, fmt.Errorf("relationship_rules[%d].%s: unknown selector kind %q", index, field, sd.Kind))
	}
	return Selector{Kind: kind, Entity: sd.Entity, Path: sd.Path, Params: sd.Params}, errs
}

func compileLineage(ld *lineageConfigDoc) *LineageConfig {
	if ld == nil {
		return nil
	}
	lc := &LineageConfig{
		Default: LineagePattern{
			DescriptionTemplate:    ld.TransformationTemplates.Default.DescriptionTemplate,
			RelationshipProperties: ld.TransformationTemplates.Default.RelationshipProperties,
		},
		Patterns: make(map[string]LineagePattern, len(ld.TransformationTemplates.Patterns)),
	}
	for k, p := range ld.TransformationTemplates.Patterns {
		lc.Patterns[k] = LineagePattern{
			DescriptionTemplate:    p.DescriptionTemplate,
			RelationshipProperties: p.RelationshipProperties,
		}
	}
	return lc
}
