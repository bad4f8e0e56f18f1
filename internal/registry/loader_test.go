package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalog "github.com/syssam/metacatalog"
	"github.com/syssam/metacatalog/internal/registry"
)

const validDoc = `
entities:
  Dataset:
    identifying_params: [platform, name, env]
    urn_template: "urn:li:dataset:({platform},{name},{env})"
    aspects:
      datasetProperties: versioned
      ownership: versioned
  CorpUser:
    identifying_params: [username]
    urn_template: "urn:li:corpuser:{username}"
    aspects: {}
aspects:
  datasetProperties:
    type: versioned
    properties: [description]
    required: [description]
  ownership:
    type: versioned
    properties: [owners]
    required: [owners]
relationship_rules:
  - trigger: ownership
    extract: {src: "owning", dst: "owners[].owner", props: {type: "owners[].type"}}
    source_selector: {kind: owning}
    destination_selector: {kind: from_urn, entity: CorpUser, path: "owners[].owner"}
    edge: {type: OWNED_BY, discriminators: [type]}
    auto_create_missing: true
`

func TestLoadBytes_Valid(t *testing.T) {
	reg, err := registry.LoadBytes([]byte(validDoc))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"Dataset", "CorpUser"}, reg.EntityTypes())

	tmpl, ok := reg.URNTemplate("Dataset")
	require.True(t, ok)
	assert.Equal(t, "urn:li:dataset:({platform},{name},{env})", tmpl)

	kind, ok := reg.AspectKindOf("ownership")
	require.True(t, ok)
	assert.Equal(t, registry.KindVersioned, kind)

	rules := reg.RelationshipRulesFor("ownership")
	require.Len(t, rules, 1)
	assert.Equal(t, "OWNED_BY", rules[0].Edge.Type)
}

func TestLoadBytes_UnknownAspectKind(t *testing.T) {
	_, err := registry.LoadBytes([]byte(`
entities:
  Dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects:
      foo: bogus
aspects:
  foo:
    type: bogus
`))
	require.Error(t, err)
}

func TestLoadBytes_EntityAspectNotGloballyDeclared(t *testing.T) {
	_, err := registry.LoadBytes([]byte(`
entities:
  Dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects:
      datasetProperties: versioned
aspects: {}
`))
	require.Error(t, err)
}

func TestLoadBytes_EntityAspectKindMismatch(t *testing.T) {
	_, err := registry.LoadBytes([]byte(`
entities:
  Dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects:
      schemaMetadata: versioned
aspects:
  schemaMetadata:
    type: timeseries
`))
	require.Error(t, err)
}

func TestLoadBytes_URNTemplateUndeclaredParam(t *testing.T) {
	_, err := registry.LoadBytes([]byte(`
entities:
  Dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:({name},{env})"
    aspects: {}
aspects: {}
`))
	require.Error(t, err)
}

func TestLoadBytes_RelationshipRuleUnknownTrigger(t *testing.T) {
	_, err := registry.LoadBytes([]byte(`
entities:
  Dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects: {}
aspects: {}
relationship_rules:
  - trigger: ownership
    extract: {src: "owning", dst: "owners[].owner"}
    source_selector: {kind: owning}
    destination_selector: {kind: from_urn, entity: Dataset, path: "owners[].owner"}
    edge: {type: OWNED_BY}
`))
	require.Error(t, err)
}

func TestLoad_Includes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	extra := filepath.Join(dir, "extra.yaml")

	require.NoError(t, os.WriteFile(extra, []byte(`
entities:
  CorpUser:
    identifying_params: [username]
    urn_template: "urn:li:corpuser:{username}"
    aspects: {}
aspects: {}
`), 0o600))

	require.NoError(t, os.WriteFile(base, []byte(`
include: ["extra.yaml"]
entities:
  Dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects: {}
aspects: {}
`), 0o600))

	reg, err := registry.Load(base)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Dataset", "CorpUser"}, reg.EntityTypes())
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(a, []byte(`include: ["b.yaml"]
entities: {}
aspects: {}
`), 0o600))
	require.NoError(t, os.WriteFile(b, []byte(`include: ["a.yaml"]
entities: {}
aspects: {}
`), 0o600))

	_, err := registry.Load(a)
	require.Error(t, err)
}

func TestLoadBytes_ParseError(t *testing.T) {
	_, err := registry.LoadBytes([]byte("not: [valid: yaml"))
	require.Error(t, err)
	var regErr *catalog.RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "parse", regErr.Stage)
}
