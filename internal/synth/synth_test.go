package synth_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalog "github.com/syssam/metacatalog"
	"github.com/syssam/metacatalog/internal/registry"
	"github.com/syssam/metacatalog/internal/session"
	"github.com/syssam/metacatalog/internal/store"
	"github.com/syssam/metacatalog/internal/synth"
)

const doc = `
entities:
  Dataset:
    identifying_params: [platform, name]
    urn_template: "urn:li:dataset:({platform},{name})"
    aspects:
      datasetProperties: versioned
      upstreamLineage: versioned
      schemaMetadata: timeseries
aspects:
  datasetProperties:
    type: versioned
    required: [description]
  upstreamLineage:
    type: versioned
    required: []
  schemaMetadata:
    type: timeseries
    required: [fields]
relationship_rules:
  - trigger: upstreamLineage
    extract: {src: "owning", dst: "upstreams[]", props: {transformation_type: "type", confidence_score: "confidenceScore"}}
    source_selector: {kind: owning}
    destination_selector: {kind: from_params, entity: Dataset, params: {platform: "upstreams[].platform", name: "upstreams[].name"}}
    edge: {type: DownstreamOf, discriminators: []}
    auto_create_missing: true
`

func newSynth(t *testing.T) *synth.Synthesizer {
	s, _ := newSynthWithDB(t)
	return s
}

func newSynthWithDB(t *testing.T) (*synth.Synthesizer, *sql.DB) {
	t.Helper()
	reg, err := registry.LoadBytes([]byte(doc))
	require.NoError(t, err)

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	conn := store.OpenDB(store.SQLite, db)
	require.NoError(t, conn.Bootstrap(context.Background()))
	writer := store.NewWriter(conn)

	coord := session.New(4)
	s, err := synth.New(reg, writer, coord)
	require.NoError(t, err)
	return s, db
}

func TestWriteVersionedAspect_BuildsURNAndWritesVersion(t *testing.T) {
	ctx := context.Background()
	s := newSynth(t)

	urn, version, err := s.WriteVersionedAspect(ctx, "Dataset",
		map[string]any{"platform": "mysql", "name": "fact_orders"},
		"datasetProperties", catalog.Payload{"description": "orders fact table"})
	require.NoError(t, err)
	assert.Equal(t, catalog.URN("urn:li:dataset:(mysql,fact_orders)"), urn)
	assert.Equal(t, int64(1), version)

	rec, err := s.GetLatestVersionedAspect(ctx, urn, "datasetProperties")
	require.NoError(t, err)
	assert.Equal(t, "orders fact table", rec.Payload["description"])
}

func TestWriteVersionedAspect_RejectsMissingRequiredField(t *testing.T) {
	ctx := context.Background()
	s := newSynth(t)
	_, _, err := s.WriteVersionedAspect(ctx, "Dataset",
		map[string]any{"platform": "mysql", "name": "x"}, "datasetProperties", catalog.Payload{})
	require.Error(t, err)
	assert.True(t, catalog.IsValidationError(err))
}

func TestWriteVersionedAspect_ProjectsRelationshipAndAutoCreatesEntity(t *testing.T) {
	ctx := context.Background()
	s := newSynth(t)

	_, _, err := s.WriteVersionedAspect(ctx, "Dataset",
		map[string]any{"platform": "mysql", "name": "fact_orders"},
		"upstreamLineage",
		catalog.Payload{"upstreams": []any{
			map[string]any{"platform": "mysql", "name": "raw_orders"},
		}})
	require.NoError(t, err)

	upstream, err := s.GetEntity(ctx, catalog.URN("urn:li:dataset:(mysql,raw_orders)"))
	require.NoError(t, err)
	assert.Equal(t, "Dataset", upstream.EntityType)
}

func TestWriteVersionedAspect_ProjectsLineageDescriptionOntoEdge(t *testing.T) {
	ctx := context.Background()
	s, db := newSynthWithDB(t)

	_, _, err := s.WriteVersionedAspect(ctx, "Dataset",
		map[string]any{"platform": "mysql", "name": "fact_orders"},
		"upstreamLineage",
		catalog.Payload{"upstreams": []any{
			map[string]any{"platform": "mysql", "name": "raw_orders", "type": "VIEW", "confidenceScore": 0.9},
		}})
	require.NoError(t, err)

	var propsJSON string
	err = db.QueryRowContext(ctx,
		`SELECT properties FROM catalog_edges WHERE src_urn = ? AND rel_type = ? AND dst_urn = ?`,
		"urn:li:dataset:(mysql,fact_orders)", "DownstreamOf", "urn:li:dataset:(mysql,raw_orders)").
		Scan(&propsJSON)
	require.NoError(t, err)
	assert.Contains(t, propsJSON, `"description"`)
	assert.Contains(t, propsJSON, "VIEW transformation")
	assert.Contains(t, propsJSON, `"confidence_score":0.9`)
}

func TestWriteTimeseriesAspect_Appends(t *testing.T) {
	ctx := context.Background()
	s := newSynth(t)

	urn, err := s.WriteTimeseriesAspect(ctx, "Dataset",
		map[string]any{"platform": "mysql", "name": "fact_orders"},
		"schemaMetadata", catalog.Payload{"fields": []any{"id", "total"}}, 1000)
	require.NoError(t, err)

	rows, err := s.GetTimeseriesRange(ctx, urn, "schemaMetadata", 0, 2000)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestDeleteEntity_CascadeRemovesAspectsAndEdges(t *testing.T) {
	ctx := context.Background()
	s := newSynth(t)

	urn, _, err := s.WriteVersionedAspect(ctx, "Dataset",
		map[string]any{"platform": "mysql", "name": "fact_orders"},
		"datasetProperties", catalog.Payload{"description": "x"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteEntity(ctx, urn, true))
	_, err = s.GetEntity(ctx, urn)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
