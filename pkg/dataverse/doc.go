// Package dataverse provides the core record types shared by the metadata,
// coercion, client and workflow packages.
//
// # Records
//
//   - Entity: a logical-name-tagged attribute bag plus an identifier
//   - EntityReference: a pointer to one record by logical name and id
//   - EntityCollection: an ordered page of entities with a more-records flag
//   - PartyList: ordered (reference, role) pairs for activity party attributes
//   - OptionSetValue: a known member of a closed integer enumeration
//
// Entities are created per request and discarded after the call completes.
// Nothing in this package talks to the remote service.
//
// # Error Classification
//
// Every failure surfaced by the module is an *Error with one of four kinds:
//
//   - KindSchemaNotFound: unknown logical name, attribute or action
//   - KindValidation: a caller-supplied value does not fit the declared shape
//   - KindDeserialization: a wire value does not satisfy its declared type
//   - KindService: the remote call failed (status code and message pass through)
//
// Use the predicates to branch on the kind:
//
//	if dataverse.IsService(err) {
//	    // remote failure, surfaced to the operator
//	}
package dataverse
