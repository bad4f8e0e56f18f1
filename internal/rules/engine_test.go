package rules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalog "github.com/syssam/metacatalog"
	"github.com/syssam/metacatalog/internal/registry"
	"github.com/syssam/metacatalog/internal/rules"
	"github.com/syssam/metacatalog/internal/urnbuild"
)

const lineageDoc = `
entities:
  Dataset:
    identifying_params: [platform, name]
    urn_template: "urn:li:dataset:({platform},{name})"
    aspects:
      upstreamLineage: versioned
aspects:
  upstreamLineage:
    type: versioned
    required: []
relationship_rules:
  - trigger: upstreamLineage
    extract:
      src: "owning"
      dst: "upstreams[]"
      props:
        type: "upstreams[].type"
    source_selector:
      kind: owning
    destination_selector:
      kind: from_params
      entity: Dataset
      params:
        platform: "upstreams[].platform"
        name: "upstreams[].name"
    edge:
      type: DownstreamOf
      discriminators: []
`

func testBuilders(t *testing.T, reg *registry.Registry) rules.BuilderLookup {
	t.Helper()
	cache := map[string]*urnbuild.Builder{}
	return func(entityType string) (*urnbuild.Builder, bool) {
		if b, ok := cache[entityType]; ok {
			return b, true
		}
		def, ok := reg.Entity(entityType)
		if !ok {
			return nil, false
		}
		b, err := urnbuild.Compile(entityType, def.URNTemplate, def.IdentifyingParams, def.OptionalParams)
		require.NoError(t, err)
		cache[entityType] = b
		return b, true
	}
}

func TestEngine_EvaluateFanOutWithFromParamsDestination(t *testing.T) {
	reg, err := registry.LoadBytes([]byte(lineageDoc))
	require.NoError(t, err)

	eng, err := rules.NewEngine(reg, testBuilders(t, reg))
	require.NoError(t, err)

	owner := catalog.URN("urn:li:dataset:(mysql,fact_orders)")
	payload := catalog.Payload{
		"upstreams": []any{
			map[string]any{"platform": "mysql", "name": "raw_orders", "type": "TRANSFORMED"},
			map[string]any{"platform": "mysql", "name": "raw_customers", "type": "TRANSFORMED"},
		},
	}

	projs, err := eng.Evaluate("Dataset", owner, "upstreamLineage", payload)
	require.NoError(t, err)
	require.Len(t, projs, 2)

	assert.Equal(t, owner, projs[0].SrcURN)
	assert.Equal(t, "DownstreamOf", projs[0].RelType)
	assert.Equal(t, catalog.URN("urn:li:dataset:(mysql,raw_orders)"), projs[0].DstURN)
	assert.Equal(t, "TRANSFORMED", projs[0].Properties["type"])
}

func TestEngine_SkipsSelfLoopByDefault(t *testing.T) {
	reg, err := registry.LoadBytes([]byte(lineageDoc))
	require.NoError(t, err)
	eng, err := rules.NewEngine(reg, testBuilders(t, reg))
	require.NoError(t, err)

	owner := catalog.URN("urn:li:dataset:(mysql,fact_orders)")
	payload := catalog.Payload{
		"upstreams": []any{
			map[string]any{"platform": "mysql", "name": "fact_orders", "type": "TRANSFORMED"},
		},
	}

	projs, err := eng.Evaluate("Dataset", owner, "upstreamLineage", payload)
	require.NoError(t, err)
	assert.Empty(t, projs)
}

func TestEngine_NoRulesForUntriggeredAspect(t *testing.T) {
	reg, err := registry.LoadBytes([]byte(lineageDoc))
	require.NoError(t, err)
	eng, err := rules.NewEngine(reg, testBuilders(t, reg))
	require.NoError(t, err)

	projs, err := eng.Evaluate("Dataset", catalog.URN("urn:li:dataset:(mysql,x)"), "datasetProperties", catalog.Payload{})
	require.NoError(t, err)
	assert.Empty(t, projs)
}
