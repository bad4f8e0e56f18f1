package store

import (
	"time"

	catalog "github.com/syssam/metacatalog"
)

// Entity is a row of catalog_entities: a node identified by URN, carrying
// the identifying params the Operation Synthesizer resolved from the write
// request plus the housekeeping timestamps.
type Entity struct {
	URN        catalog.URN
	EntityType string
	Params     map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AspectRecord is a row of catalog_aspects, for either kind. Version is
// meaningful only for versioned aspects (monotone, starting at 1); TsMs is
// meaningful only for timeseries aspects.
type AspectRecord struct {
	ID        int64
	URN       catalog.URN
	Aspect    string
	Version   int64
	TsMs      int64
	Kind      string
	Payload   catalog.Payload
	Latest    bool
	CreatedAt time.Time
}

// Edge is a row of catalog_edges: a typed, directed relationship produced
// by the Rule Engine or the Lineage Resolver.
type Edge struct {
	SrcURN            catalog.URN
	RelType           string
	DstURN            catalog.URN
	DiscriminatorHash string
	Properties        map[string]any
	Via               string
	CreatedAt         time.Time
}
