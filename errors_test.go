package catalog_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	catalog "github.com/syssam/metacatalog"
)

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := &catalog.NotFoundError{EntityType: "Dataset", URN: "urn:li:dataset:(x)"}
		assert.Equal(t, "catalog: Dataset urn:li:dataset:(x) not found", err.Error())
	})

	t.Run("Error with aspect", func(t *testing.T) {
		err := &catalog.NotFoundError{EntityType: "Dataset", URN: "urn:li:dataset:(x)", Aspect: "datasetProperties"}
		assert.Equal(t, `catalog: Dataset: aspect "datasetProperties" not found on urn:li:dataset:(x)`, err.Error())
	})

	t.Run("Is", func(t *testing.T) {
		err := &catalog.NotFoundError{EntityType: "Dataset", URN: "urn:li:dataset:(x)"}
		assert.True(t, errors.Is(err, catalog.ErrNotFound))

		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, errors.Is(wrapped, catalog.ErrNotFound))

		assert.False(t, errors.Is(errors.New("other error"), catalog.ErrNotFound))
	})
}

func TestDependencyViolationError(t *testing.T) {
	err := &catalog.DependencyViolationError{URN: "urn:li:dataset:(x)", AspectCount: 2, IncomingEdgeCount: 1}
	assert.True(t, errors.Is(err, catalog.ErrDependencyViolation))
	assert.Contains(t, err.Error(), "2 aspects, 1 incoming edges remain")
}

func TestStoreConflictError(t *testing.T) {
	inner := errors.New("unique constraint violated")
	err := &catalog.StoreConflictError{URN: "urn:li:dataset:(x)", Aspect: "schemaMetadata", Attempts: 5, Err: inner}
	assert.True(t, errors.Is(err, catalog.ErrStoreConflict))
	assert.True(t, errors.Is(err, inner))
}

func TestStoreUnavailableError(t *testing.T) {
	inner := errors.New("connection refused")
	err := &catalog.StoreUnavailableError{Err: inner, Transient: true}
	assert.True(t, errors.Is(err, catalog.ErrStoreUnavailable))
	assert.True(t, err.Transient)
}

func TestValidationError(t *testing.T) {
	err := &catalog.ValidationError{Reason: "missing_field", EntityType: "Dataset", Aspect: "datasetProperties", Field: "description"}
	assert.True(t, catalog.IsValidationError(err))
	assert.Contains(t, err.Error(), `missing required field "description"`)
}

func TestURNConstructionError(t *testing.T) {
	err := &catalog.URNConstructionError{EntityType: "Dataset", Param: "platform"}
	assert.Contains(t, err.Error(), `missing identifying param "platform"`)
}

func TestRegistryError(t *testing.T) {
	inner := errors.New("bad yaml")
	err := catalog.NewRegistryParseError(inner)
	assert.Equal(t, "parse", err.Stage)
	assert.True(t, errors.Is(err, inner))
}

func TestRuleEvaluationError(t *testing.T) {
	inner := errors.New("field not found")
	err := &catalog.RuleEvaluationError{Rule: "ownership-edge", Path: "owners[0].owner", Err: inner}
	assert.True(t, errors.Is(err, inner))
	assert.Contains(t, err.Error(), "ownership-edge")
}
