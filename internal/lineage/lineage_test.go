package lineage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/metacatalog/internal/lineage"
	"github.com/syssam/metacatalog/internal/registry"
)

const doc = `
entities:
  Dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects: {}
lineage_config:
  transformation_templates:
    default:
      description_template: "{transformation_type} (confidence {confidence_score})"
    patterns:
      TRANSFORMED:
        description_template: "{column} derived via {transformation_type} from {source_column}"
        relationship_properties:
          column: column
          source_column: source_column
`

func TestResolve_UsesMatchingPattern(t *testing.T) {
	reg, err := registry.LoadBytes([]byte(doc))
	require.NoError(t, err)
	r := lineage.NewResolver(reg)

	desc, props := r.Resolve(lineage.Entry{
		TransformationType: "TRANSFORMED",
		ConfidenceScore:    0.95,
		Vars:               map[string]any{"column": "total", "source_column": "amount"},
	})

	assert.Equal(t, "total derived via TRANSFORMED from amount", desc)
	assert.Equal(t, "total", props["column"])
	assert.Equal(t, "amount", props["source_column"])
	assert.Equal(t, 0.95, props["confidence_score"])
}

func TestResolve_FallsBackToDefaultPattern(t *testing.T) {
	reg, err := registry.LoadBytes([]byte(doc))
	require.NoError(t, err)
	r := lineage.NewResolver(reg)

	desc, props := r.Resolve(lineage.Entry{TransformationType: "COPY", ConfidenceScore: 1.0})
	assert.Equal(t, "COPY (confidence 1)", desc)
	assert.Equal(t, 1.0, props["confidence_score"])
}

func TestResolve_NoLineageConfigUsesBuiltinDefault(t *testing.T) {
	reg, err := registry.LoadBytes([]byte(`
entities:
  Dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects: {}
`))
	require.NoError(t, err)
	r := lineage.NewResolver(reg)

	desc, _ := r.Resolve(lineage.Entry{TransformationType: "COPY", ConfidenceScore: 0.5})
	assert.Contains(t, desc, "COPY transformation")
}
