package coerce

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/wire"
)

// Diagnostic records a non-fatal coercion finding, such as an option set code
// the registry does not know about.
type Diagnostic struct {
	LogicalName string    `json:"logicalName"`
	Attribute   string    `json:"attribute"`
	Value       int       `json:"value"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Engine converts between wire values and typed values using the registry.
// Apart from the diagnostics log it holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	registry     *metadata.Registry
	zone         ZoneSource
	logger       zerolog.Logger
	onDiagnostic func(Diagnostic)

	mu          sync.Mutex
	diagnostics []Diagnostic
}

// Option configures an Engine.
type Option func(*Engine)

// WithZone sets the source of the caller's time zone.
func WithZone(zone ZoneSource) Option {
	return func(e *Engine) { e.zone = zone }
}

// WithLogger sets the logger diagnostics are written to.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger.With().Str("component", "coerce").Logger() }
}

// WithDiagnosticHook registers a callback invoked for every diagnostic.
func WithDiagnosticHook(fn func(Diagnostic)) Option {
	return func(e *Engine) { e.onDiagnostic = fn }
}

// New creates an engine over a registry. A nil registry is accepted; every
// registry-backed call then fails with a schema-not-found error.
func New(registry *metadata.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		zone:     LocalZone,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the engine reads from.
func (e *Engine) Registry() *metadata.Registry {
	return e.registry
}

// Diagnostics returns a copy of the diagnostics recorded so far.
func (e *Engine) Diagnostics() []Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Diagnostic(nil), e.diagnostics...)
}

func (e *Engine) diagnose(f field, value int, message string) {
	d := Diagnostic{
		LogicalName: f.logicalName,
		Attribute:   f.attribute,
		Value:       value,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	}

	e.mu.Lock()
	e.diagnostics = append(e.diagnostics, d)
	e.mu.Unlock()

	e.logger.Warn().
		Str("entity", f.logicalName).
		Str("attribute", f.attribute).
		Int("value", value).
		Msg(message)

	if e.onDiagnostic != nil {
		e.onDiagnostic(d)
	}
}

func (e *Engine) location() *time.Location {
	if e.zone == nil {
		return time.Local
	}
	if loc := e.zone.Location(); loc != nil {
		return loc
	}
	return time.UTC
}

// field names the attribute or parameter being coerced, for error context.
type field struct {
	logicalName string
	attribute   string
}

func (f field) deserializationError(tag metadata.AttributeType, err error) error {
	return dataverse.NewDeserializationError(fmt.Sprintf("wire value does not satisfy %s", tag), err).
		WithLogicalName(f.logicalName).
		WithAttribute(f.attribute)
}

func (f field) validationError(message string, err error) *dataverse.Error {
	return dataverse.NewValidationError(message, err).
		WithLogicalName(f.logicalName).
		WithAttribute(f.attribute)
}

// ToTyped converts a wire value to its typed form for a tag, without
// attribute context: option set codes come back as raw ints.
func (e *Engine) ToTyped(raw any, tag metadata.AttributeType) (any, error) {
	return e.toTyped(field{}, raw, tag)
}

// ToWire converts a typed value to its wire form for a tag, without attribute
// context: reference targets are not checked.
func (e *Engine) ToWire(typed any, tag metadata.AttributeType) (any, error) {
	return e.toWire(field{}, typed, tag, nil)
}

// AttributeToTyped converts a wire value of a declared attribute.
func (e *Engine) AttributeToTyped(logicalName, attribute string, raw any) (any, error) {
	tag, err := e.registry.AttributeType(logicalName, attribute)
	if err != nil {
		return nil, err
	}
	return e.toTyped(field{logicalName: metadata.NormalizeTypeName(logicalName), attribute: attribute}, raw, tag)
}

// AttributeToWire converts a typed value of a declared attribute. An
// attribute the registry does not declare for the entity is a validation
// error.
func (e *Engine) AttributeToWire(logicalName, attribute string, typed any) (any, error) {
	md, err := e.registry.Entity(logicalName)
	if err != nil {
		return nil, err
	}
	f := field{logicalName: md.LogicalName, attribute: attribute}
	tag, ok := md.AttributeTypes[attribute]
	if !ok {
		return nil, f.validationError("attribute is not declared for the entity", nil)
	}

	var targets []string
	if tag.IsRelationship() {
		targets, err = e.registry.AllowedTargets(md.LogicalName, attribute)
		if err != nil {
			return nil, err
		}
	}
	return e.toWire(f, typed, tag, targets)
}

// EntityToWire serializes every present attribute of an entity. The id is not
// included; callers address the record separately.
func (e *Engine) EntityToWire(entity *dataverse.Entity) (wire.Record, error) {
	if entity == nil {
		return nil, dataverse.NewValidationError("entity is nil", nil)
	}
	md, err := e.registry.Entity(entity.LogicalName)
	if err != nil {
		return nil, err
	}

	rec := make(wire.Record, len(entity.Attributes))
	for _, attr := range entity.Keys() {
		v, err := e.AttributeToWire(md.LogicalName, attr, entity.Attributes[attr])
		if err != nil {
			return nil, err
		}
		rec[attr] = v
	}
	return rec, nil
}

// EntityFromWire builds a typed entity from a wire record. With a nil column
// list every declared attribute present in the record is read; otherwise only
// the requested columns that are also declared. Keys the registry does not
// declare, such as service annotations, are ignored.
func (e *Engine) EntityFromWire(logicalName string, rec wire.Record, columns []string) (*dataverse.Entity, error) {
	md, err := e.registry.Entity(logicalName)
	if err != nil {
		return nil, err
	}

	entity := dataverse.NewEntity(md.LogicalName)
	if id, ok := rec[md.PrimaryIDAttribute].(string); ok {
		entity.ID = dataverse.NormalizeID(id)
	}

	read := func(attr string) error {
		raw, present := rec[attr]
		if !present {
			return nil
		}
		v, err := e.AttributeToTyped(md.LogicalName, attr, raw)
		if err != nil {
			return err
		}
		entity.Attributes[attr] = v
		return nil
	}

	if columns == nil {
		for attr := range md.AttributeTypes {
			if err := read(attr); err != nil {
				return nil, err
			}
		}
		return entity, nil
	}

	for _, attr := range columns {
		if _, declared := md.AttributeTypes[attr]; !declared {
			continue
		}
		if err := read(attr); err != nil {
			return nil, err
		}
	}
	return entity, nil
}

// ReferenceToWire converts a reference to its wire form after checking that
// the target entity exists in the registry and the id is a GUID.
func (e *Engine) ReferenceToWire(ref dataverse.EntityReference) (wire.Record, error) {
	if _, err := e.registry.Entity(ref.LogicalName); err != nil {
		return nil, err
	}
	return referenceRecord(field{}, ref)
}
