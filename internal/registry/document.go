package registry

// document mirrors the YAML shape described in SPEC_FULL.md §6, field for
// field. It is the wire/file format; Load compiles it into a Registry.
type document struct {
	Include           []string                  `yaml:"include"`
	Entities          map[string]entityDoc      `yaml:"entities"`
	Aspects           map[string]aspectDoc      `yaml:"aspects"`
	RelationshipRules []relationshipRuleDoc     `yaml:"relationship_rules"`
	LineageConfig     *lineageConfigDoc         `yaml:"lineage_config"`
}

type entityDoc struct {
	IdentifyingParams []string          `yaml:"identifying_params"`
	OptionalParams    []string          `yaml:"optional_params"`
	URNTemplate       string            `yaml:"urn_template"`
	Aspects           map[string]string `yaml:"aspects"`
}

type aspectDoc struct {
	Type       string   `yaml:"type"`
	Properties []string `yaml:"properties"`
	Required   []string `yaml:"required"`
}

type selectorDoc struct {
	Kind   string            `yaml:"kind"`
	Entity string            `yaml:"entity"`
	Path   string            `yaml:"path"`
	Params map[string]string `yaml:"params"`
}

type extractDoc struct {
	Src   string            `yaml:"src"`
	Dst   string            `yaml:"dst"`
	Props map[string]string `yaml:"props"`
}

type edgeDoc struct {
	Type           string   `yaml:"type"`
	Discriminators []string `yaml:"discriminators"`
}

type relationshipRuleDoc struct {
	Trigger             string      `yaml:"trigger"`
	TriggerEntity       string      `yaml:"trigger_entity"`
	Extract             extractDoc  `yaml:"extract"`
	SourceSelector      selectorDoc `yaml:"source_selector"`
	DestinationSelector selectorDoc `yaml:"destination_selector"`
	Edge                edgeDoc     `yaml:"edge"`
	AutoCreateMissing   bool        `yaml:"auto_create_missing"`
	AllowSelfLoop       bool        `yaml:"allow_self_loop"`
}

type lineagePatternDoc struct {
	DescriptionTemplate    string            `yaml:"description_template"`
	RelationshipProperties map[string]string `yaml:"relationship_properties"`
}

type lineageConfigDoc struct {
	TransformationTemplates struct {
		Default  lineagePatternDoc            `yaml:"default"`
		Patterns map[string]lineagePatternDoc `yaml:"patterns"`
	} `yaml:"transformation_templates"`
}
