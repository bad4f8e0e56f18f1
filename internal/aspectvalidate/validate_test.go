package aspectvalidate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalog "github.com/syssam/metacatalog"
	"github.com/syssam/metacatalog/internal/aspectvalidate"
	"github.com/syssam/metacatalog/internal/registry"
)

const doc = `
entities:
  Dataset:
    identifying_params: [name]
    urn_template: "urn:li:dataset:{name}"
    aspects:
      datasetProperties: versioned
      schemaMetadata: timeseries
aspects:
  datasetProperties:
    type: versioned
    required: [description]
  schemaMetadata:
    type: timeseries
    required: [fields]
`

func loadReg(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.LoadBytes([]byte(doc))
	require.NoError(t, err)
	return reg
}

func TestValidateWrite_OK(t *testing.T) {
	reg := loadReg(t)
	err := aspectvalidate.ValidateWrite(reg, "Dataset", "datasetProperties", registry.KindVersioned,
		catalog.Payload{"description": "x"})
	assert.NoError(t, err)
}

func TestValidateWrite_MissingRequiredField(t *testing.T) {
	reg := loadReg(t)
	err := aspectvalidate.ValidateWrite(reg, "Dataset", "datasetProperties", registry.KindVersioned,
		catalog.Payload{})
	require.Error(t, err)
	assert.True(t, catalog.IsValidationError(err))
}

func TestValidateWrite_NullRequiredFieldFails(t *testing.T) {
	reg := loadReg(t)
	err := aspectvalidate.ValidateWrite(reg, "Dataset", "datasetProperties", registry.KindVersioned,
		catalog.Payload{"description": nil})
	require.Error(t, err)
}

func TestValidateWrite_UnknownAspect(t *testing.T) {
	reg := loadReg(t)
	err := aspectvalidate.ValidateWrite(reg, "Dataset", "bogus", registry.KindVersioned, catalog.Payload{})
	require.Error(t, err)
}

func TestValidateWrite_KindMismatch(t *testing.T) {
	reg := loadReg(t)
	err := aspectvalidate.ValidateWrite(reg, "Dataset", "schemaMetadata", registry.KindVersioned,
		catalog.Payload{"fields": []any{}})
	require.Error(t, err)
}

func TestValidateWrite_UnknownFieldsPreserved(t *testing.T) {
	reg := loadReg(t)
	err := aspectvalidate.ValidateWrite(reg, "Dataset", "datasetProperties", registry.KindVersioned,
		catalog.Payload{"description": "x", "extra": "anything"})
	assert.NoError(t, err)
}
