// Package aspectvalidate implements the Aspect Validator (SPEC_FULL.md
// §4.3): given an entity type, an aspect name, and a payload, it confirms
// the aspect is declared on the entity with the expected kind and that
// every required field is present and non-null. Unknown fields are
// forward-compatible and never rejected.
package aspectvalidate

import (
	catalog "github.com/syssam/metacatalog"
	"github.com/syssam/metacatalog/internal/registry"
)

// ValidateWrite checks a write of aspectName (of kind opKind) against
// entityType using reg, and that payload carries every required field.
func ValidateWrite(reg *registry.Registry, entityType, aspectName string, opKind registry.AspectKind, payload catalog.Payload) error {
	declaredKind, ok := reg.AspectsOf(entityType)[aspectName]
	if !ok {
		return &catalog.ValidationError{Reason: "unknown_aspect", EntityType: entityType, Aspect: aspectName}
	}
	if declaredKind != opKind {
		return &catalog.ValidationError{Reason: "kind_mismatch", EntityType: entityType, Aspect: aspectName}
	}

	def, ok := reg.Aspect(aspectName)
	if !ok {
		// Unreachable once the Registry has passed loader validation: every
		// entity-declared aspect is cross-checked against a global aspect
		// definition at load time.
		return &catalog.ValidationError{Reason: "unknown_aspect", EntityType: entityType, Aspect: aspectName}
	}
	for _, field := range def.Required {
		v, present := payload[field]
		if !present || v == nil {
			return &catalog.ValidationError{Reason: "missing_field", EntityType: entityType, Aspect: aspectName, Field: field}
		}
	}
	return nil
}
