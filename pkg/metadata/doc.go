// Package metadata holds the schema registry: per entity the attribute type
// tags, navigation target sets and option set members, and per action the
// parameter descriptors.
//
// The catalog is produced by an external generator and loaded read-only:
//
//	reg, err := metadata.LoadFile("dataverse-gen/registry.yaml")
//	if err != nil {
//	    return err
//	}
//	tag, err := reg.AttributeType("opportunity", "estimatedvalue")
//
// Loading checks the document against an embedded CUE schema and the struct
// tags on EntityMetadata and ActionMetadata. A Registry is immutable; Watcher
// builds a new one whenever the catalog file changes.
package metadata
