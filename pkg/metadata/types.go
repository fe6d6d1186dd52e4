package metadata

import "strings"

// AttributeType is the declared type tag of an entity attribute.
type AttributeType string

const (
	TypeInteger     AttributeType = "Integer"
	TypeDouble      AttributeType = "Double"
	TypeDecimal     AttributeType = "Decimal"
	TypeBigInt      AttributeType = "BigInt"
	TypeBoolean     AttributeType = "Boolean"
	TypeString      AttributeType = "String"
	TypeGuid        AttributeType = "Guid"
	TypeOptionset   AttributeType = "Optionset"
	TypeLookup      AttributeType = "Lookup"
	TypeDateOnly    AttributeType = "DateOnly:UserLocal"
	TypeDateAndTime AttributeType = "DateAndTime:UserLocal"
	TypePartyList   AttributeType = "PartyList"
)

// AttributeTypes lists every supported tag.
var AttributeTypes = []AttributeType{
	TypeInteger, TypeDouble, TypeDecimal, TypeBigInt, TypeBoolean, TypeString,
	TypeGuid, TypeOptionset, TypeLookup, TypeDateOnly, TypeDateAndTime, TypePartyList,
}

// Valid reports whether the tag is a supported attribute type.
func (t AttributeType) Valid() bool {
	for _, known := range AttributeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsRelationship reports whether values of this type point at other records.
func (t AttributeType) IsRelationship() bool {
	return t == TypeLookup || t == TypePartyList
}

// StructuralProperty classifies an action parameter.
type StructuralProperty string

const (
	PrimitiveType StructuralProperty = "PrimitiveType"
	EntityType    StructuralProperty = "EntityType"
	EnumType      StructuralProperty = "EnumType"
	Collection    StructuralProperty = "Collection"
)

// OperationType distinguishes actions from functions.
type OperationType string

const (
	OperationAction   OperationType = "Action"
	OperationFunction OperationType = "Function"
)

// OptionValue is one member of an option set.
type OptionValue struct {
	Value int    `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// EntityMetadata describes one entity kind.
type EntityMetadata struct {
	// TypeName is the service type name (e.g. "mscrm.opportunity").
	TypeName string `yaml:"typeName,omitempty" json:"typeName,omitempty"`

	LogicalName        string `yaml:"logicalName" json:"logicalName" validate:"required"`
	CollectionName     string `yaml:"collectionName" json:"collectionName" validate:"required"`
	PrimaryIDAttribute string `yaml:"primaryIdAttribute" json:"primaryIdAttribute" validate:"required"`

	// AttributeTypes maps attribute logical names to their type tag.
	AttributeTypes map[string]AttributeType `yaml:"attributeTypes" json:"attributeTypes" validate:"required,dive,keys,required,endkeys,attrtype"`

	// Navigation maps lookup attributes and relationship names to the
	// logical names they may point at.
	Navigation map[string][]string `yaml:"navigation,omitempty" json:"navigation,omitempty" validate:"dive,keys,required,endkeys,min=1,dive,required"`

	// OptionSets carries the known members of each Optionset attribute.
	OptionSets map[string][]OptionValue `yaml:"optionSets,omitempty" json:"optionSets,omitempty"`
}

// ParameterType describes one action parameter.
type ParameterType struct {
	TypeName           string             `yaml:"typeName" json:"typeName" validate:"required"`
	StructuralProperty StructuralProperty `yaml:"structuralProperty" json:"structuralProperty" validate:"required,oneof=PrimitiveType EntityType EnumType Collection"`

	// Nullable marks the parameter as optional.
	Nullable bool `yaml:"nullable,omitempty" json:"nullable,omitempty"`
}

// ElementTypeName returns the element type of a Collection(...) type name,
// or the type name itself.
func (p ParameterType) ElementTypeName() string {
	name := p.TypeName
	if strings.HasPrefix(name, "Collection(") && strings.HasSuffix(name, ")") {
		return name[len("Collection(") : len(name)-1]
	}
	return name
}

// ActionMetadata describes a named remote operation.
type ActionMetadata struct {
	OperationName  string                   `yaml:"operationName" json:"operationName" validate:"required"`
	OperationType  OperationType            `yaml:"operationType" json:"operationType" validate:"required,oneof=Action Function"`
	BoundParameter string                   `yaml:"boundParameter,omitempty" json:"boundParameter,omitempty"`
	ParameterTypes map[string]ParameterType `yaml:"parameterTypes" json:"parameterTypes" validate:"dive"`
}

// Catalog is the generator output the registry is built from.
type Catalog struct {
	Entities map[string]EntityMetadata `yaml:"entities" json:"entities"`
	Actions  map[string]ActionMetadata `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// NormalizeTypeName strips the "mscrm." namespace prefix so that
// "mscrm.account" and "account" refer to the same logical name.
func NormalizeTypeName(name string) string {
	return strings.TrimPrefix(name, "mscrm.")
}

// IsEdmType reports whether the type name is a primitive Edm type.
func IsEdmType(name string) bool {
	return strings.HasPrefix(name, "Edm.")
}
