package dataverse

import (
	"fmt"
	"sort"
	"strings"
)

// Entity is a logical-name-tagged attribute bag plus an identifier.
// Attribute keys are checked against the schema registry when the entity is
// serialized, never silently dropped.
type Entity struct {
	// LogicalName identifies the entity kind (e.g. "opportunity").
	LogicalName string `json:"logicalName"`

	// ID is the record identifier. Empty for records not yet created.
	ID string `json:"id,omitempty"`

	// Attributes holds typed attribute values keyed by attribute logical name.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// NewEntity creates an empty entity of the given logical name.
func NewEntity(logicalName string) *Entity {
	return &Entity{
		LogicalName: logicalName,
		Attributes:  make(map[string]any),
	}
}

// Set assigns an attribute value and returns the entity for chaining.
func (e *Entity) Set(name string, value any) *Entity {
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[name] = value
	return e
}

// Get returns an attribute value and whether it is present.
func (e *Entity) Get(name string) (any, bool) {
	v, ok := e.Attributes[name]
	return v, ok
}

// Has reports whether the attribute is present. A present nil value means
// "clear this attribute" on update.
func (e *Entity) Has(name string) bool {
	_, ok := e.Attributes[name]
	return ok
}

// Remove deletes an attribute from the bag.
func (e *Entity) Remove(name string) {
	delete(e.Attributes, name)
}

// String returns a string attribute value, or "" when absent or not a string.
func (e *Entity) String(name string) string {
	if s, ok := e.Attributes[name].(string); ok {
		return s
	}
	return ""
}

// Keys returns the present attribute names in sorted order.
func (e *Entity) Keys() []string {
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Referencer is implemented by values that identify a record: an
// EntityReference or an *Entity.
type Referencer interface {
	ToReference() EntityReference
}

// ToReference returns a reference to this entity. A nil entity gives the
// zero reference.
func (e *Entity) ToReference() EntityReference {
	if e == nil {
		return EntityReference{}
	}
	return EntityReference{LogicalName: e.LogicalName, ID: e.ID}
}

// Clone returns a shallow copy with its own attribute map.
func (e *Entity) Clone() *Entity {
	out := &Entity{LogicalName: e.LogicalName, ID: e.ID, Attributes: make(map[string]any, len(e.Attributes))}
	for k, v := range e.Attributes {
		out.Attributes[k] = v
	}
	return out
}

// EntityReference points at a specific record by logical name and id.
type EntityReference struct {
	LogicalName string `json:"logicalName"`
	ID          string `json:"id"`

	// Name is display metadata only and takes no part in equality.
	Name string `json:"name,omitempty"`
}

// NewEntityReference creates a reference without a display name.
func NewEntityReference(logicalName, id string) EntityReference {
	return EntityReference{LogicalName: logicalName, ID: id}
}

// Equal reports whether two references point at the same record.
func (r EntityReference) Equal(other EntityReference) bool {
	return r.LogicalName == other.LogicalName && NormalizeID(r.ID) == NormalizeID(other.ID)
}

// ToReference returns r.
func (r EntityReference) ToReference() EntityReference {
	return r
}

// IsZero reports whether the reference is unset.
func (r EntityReference) IsZero() bool {
	return r.LogicalName == "" && r.ID == ""
}

// String implements fmt.Stringer.
func (r EntityReference) String() string {
	return fmt.Sprintf("%s(%s)", r.LogicalName, r.ID)
}

// NormalizeID lowercases a GUID and strips surrounding braces so that ids
// from different sources compare equal.
func NormalizeID(id string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(id), "{}"))
}

// EntityCollection is an ordered page of entities.
type EntityCollection struct {
	// Entities are the records in the order returned by the service.
	Entities []*Entity `json:"entities"`

	// MoreRecords is true when more records may exist beyond this page.
	MoreRecords bool `json:"moreRecords"`

	// PagingCookie is passed back for the next page, if the service supplied one.
	PagingCookie string `json:"pagingCookie,omitempty"`

	// TotalRecordCount is the total match count when the service reports it, else -1.
	TotalRecordCount int `json:"totalRecordCount"`
}

// Len returns the number of entities in the collection.
func (c *EntityCollection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Entities)
}
