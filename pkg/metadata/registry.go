package metadata

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
)

// Registry is the immutable schema catalog. It is built once by NewRegistry
// and is safe for concurrent reads. Metadata returned by its lookups must not
// be modified.
type Registry struct {
	entities     map[string]*EntityMetadata
	byCollection map[string]*EntityMetadata
	actions      map[string]*ActionMetadata
}

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("attrtype", func(fl validator.FieldLevel) bool {
		return AttributeType(fl.Field().String()).Valid()
	})
	return v
}

// NewRegistry validates a catalog and builds a registry from a deep copy of it.
func NewRegistry(cat Catalog) (*Registry, error) {
	r := &Registry{
		entities:     make(map[string]*EntityMetadata, len(cat.Entities)),
		byCollection: make(map[string]*EntityMetadata, len(cat.Entities)),
		actions:      make(map[string]*ActionMetadata, len(cat.Actions)),
	}

	for key, em := range cat.Entities {
		md, err := buildEntity(key, em)
		if err != nil {
			return nil, err
		}
		r.entities[md.LogicalName] = md
		if other, dup := r.byCollection[md.CollectionName]; dup {
			return nil, fmt.Errorf("entities %s and %s share collection name %s", other.LogicalName, md.LogicalName, md.CollectionName)
		}
		r.byCollection[md.CollectionName] = md
	}

	for key, am := range cat.Actions {
		md, err := buildAction(key, am)
		if err != nil {
			return nil, err
		}
		r.actions[md.OperationName] = md
	}

	return r, nil
}

func buildEntity(key string, em EntityMetadata) (*EntityMetadata, error) {
	if em.LogicalName == "" {
		em.LogicalName = key
	}
	if em.LogicalName != key {
		return nil, fmt.Errorf("entity %s: logical name %s does not match its key", key, em.LogicalName)
	}
	if err := structValidator.Struct(em); err != nil {
		return nil, fmt.Errorf("entity %s: %w", key, err)
	}

	md := &EntityMetadata{
		TypeName:           em.TypeName,
		LogicalName:        em.LogicalName,
		CollectionName:     em.CollectionName,
		PrimaryIDAttribute: em.PrimaryIDAttribute,
		AttributeTypes:     make(map[string]AttributeType, len(em.AttributeTypes)),
		Navigation:         make(map[string][]string, len(em.Navigation)),
		OptionSets:         make(map[string][]OptionValue, len(em.OptionSets)),
	}
	if md.TypeName == "" {
		md.TypeName = "mscrm." + md.LogicalName
	}
	for attr, tag := range em.AttributeTypes {
		md.AttributeTypes[attr] = tag
	}
	for nav, targets := range em.Navigation {
		normalized := make([]string, len(targets))
		for i, t := range targets {
			normalized[i] = NormalizeTypeName(t)
		}
		md.Navigation[nav] = normalized
	}
	for attr, opts := range em.OptionSets {
		if md.AttributeTypes[attr] != TypeOptionset {
			return nil, fmt.Errorf("entity %s: option set declared for %s which is not an Optionset attribute", key, attr)
		}
		md.OptionSets[attr] = append([]OptionValue(nil), opts...)
	}

	if _, ok := md.AttributeTypes[md.PrimaryIDAttribute]; !ok {
		return nil, fmt.Errorf("entity %s: primary id attribute %s is not declared", key, md.PrimaryIDAttribute)
	}
	for attr, tag := range md.AttributeTypes {
		if tag == TypeLookup && len(md.Navigation[attr]) == 0 {
			return nil, fmt.Errorf("entity %s: lookup attribute %s has no navigation targets", key, attr)
		}
	}

	return md, nil
}

func buildAction(key string, am ActionMetadata) (*ActionMetadata, error) {
	if am.OperationName == "" {
		am.OperationName = key
	}
	if am.OperationName != key {
		return nil, fmt.Errorf("action %s: operation name %s does not match its key", key, am.OperationName)
	}
	if err := structValidator.Struct(am); err != nil {
		return nil, fmt.Errorf("action %s: %w", key, err)
	}

	md := &ActionMetadata{
		OperationName:  am.OperationName,
		OperationType:  am.OperationType,
		BoundParameter: am.BoundParameter,
		ParameterTypes: make(map[string]ParameterType, len(am.ParameterTypes)),
	}
	for name, p := range am.ParameterTypes {
		md.ParameterTypes[name] = p
	}
	return md, nil
}

func notInitialized() error {
	return dataverse.NewSchemaNotFoundError("schema registry is not initialized")
}

// Entity returns the metadata for a logical name.
func (r *Registry) Entity(logicalName string) (*EntityMetadata, error) {
	if r == nil {
		return nil, notInitialized()
	}
	md, ok := r.entities[NormalizeTypeName(logicalName)]
	if !ok {
		return nil, dataverse.NewSchemaNotFoundError("unknown entity").WithLogicalName(logicalName)
	}
	return md, nil
}

// EntityByCollection returns the metadata for an entity set name.
func (r *Registry) EntityByCollection(collection string) (*EntityMetadata, error) {
	if r == nil {
		return nil, notInitialized()
	}
	md, ok := r.byCollection[collection]
	if !ok {
		return nil, dataverse.NewSchemaNotFoundError("unknown entity collection").WithDetail("collection", collection)
	}
	return md, nil
}

// AttributeType returns the declared tag of an attribute.
func (r *Registry) AttributeType(logicalName, attribute string) (AttributeType, error) {
	md, err := r.Entity(logicalName)
	if err != nil {
		return "", err
	}
	tag, ok := md.AttributeTypes[attribute]
	if !ok {
		return "", dataverse.NewSchemaNotFoundError("unknown attribute").
			WithLogicalName(md.LogicalName).
			WithAttribute(attribute)
	}
	return tag, nil
}

// AllowedTargets returns the logical names a lookup attribute or relationship
// may point at. A PartyList attribute without a navigation entry returns nil,
// meaning any target is allowed.
func (r *Registry) AllowedTargets(logicalName, navigation string) ([]string, error) {
	md, err := r.Entity(logicalName)
	if err != nil {
		return nil, err
	}
	targets, ok := md.Navigation[navigation]
	if !ok {
		if md.AttributeTypes[navigation] == TypePartyList {
			return nil, nil
		}
		return nil, dataverse.NewSchemaNotFoundError("unknown navigation").
			WithLogicalName(md.LogicalName).
			WithAttribute(navigation)
	}
	return targets, nil
}

// IsAllowedTarget reports whether target is in the allowed set. A nil set
// allows everything.
func IsAllowedTarget(targets []string, target string) bool {
	if targets == nil {
		return true
	}
	target = NormalizeTypeName(target)
	for _, t := range targets {
		if t == target {
			return true
		}
	}
	return false
}

// OptionLabel returns the label of a known option set code.
func (r *Registry) OptionLabel(logicalName, attribute string, value int) (string, bool) {
	md, err := r.Entity(logicalName)
	if err != nil {
		return "", false
	}
	for _, opt := range md.OptionSets[attribute] {
		if opt.Value == value {
			return opt.Label, true
		}
	}
	return "", false
}

// HasOptionSet reports whether the registry knows any members for an attribute.
func (r *Registry) HasOptionSet(logicalName, attribute string) bool {
	md, err := r.Entity(logicalName)
	if err != nil {
		return false
	}
	return len(md.OptionSets[attribute]) > 0
}

// Action returns the descriptor of a named action or function.
func (r *Registry) Action(name string) (*ActionMetadata, error) {
	if r == nil {
		return nil, notInitialized()
	}
	md, ok := r.actions[name]
	if !ok {
		return nil, dataverse.NewSchemaNotFoundError("unknown action").WithLogicalName(name)
	}
	return md, nil
}

// EntityNames returns all entity logical names, sorted.
func (r *Registry) EntityNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.entities))
	for n := range r.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ActionNames returns all action names, sorted.
func (r *Registry) ActionNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
