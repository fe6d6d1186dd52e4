package coerce

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/wire"
)

// ODataTypePrefix qualifies entity logical names in action payloads.
const ODataTypePrefix = "Microsoft.Dynamics.CRM."

// baseEntity is the parameter type that accepts any entity.
const baseEntity = "crmbaseentity"

var edmTypes = map[string]metadata.AttributeType{
	"Edm.Int16":          metadata.TypeInteger,
	"Edm.Int32":          metadata.TypeInteger,
	"Edm.Byte":           metadata.TypeInteger,
	"Edm.SByte":          metadata.TypeInteger,
	"Edm.Int64":          metadata.TypeBigInt,
	"Edm.Double":         metadata.TypeDouble,
	"Edm.Single":         metadata.TypeDouble,
	"Edm.Decimal":        metadata.TypeDecimal,
	"Edm.Boolean":        metadata.TypeBoolean,
	"Edm.String":         metadata.TypeString,
	"Edm.Guid":           metadata.TypeGuid,
	"Edm.DateTimeOffset": metadata.TypeDateAndTime,
	"Edm.Date":           metadata.TypeDateOnly,
}

// EdmAttributeType maps a primitive Edm type name to the coercion tag used for it.
func EdmAttributeType(typeName string) (metadata.AttributeType, bool) {
	tag, ok := edmTypes[typeName]
	return tag, ok
}

// BuildActionPayload validates and coerces the parameters of a named action or
// function. Unknown parameters and missing non-nullable parameters are
// rejected. For bound operations target names the record the operation is
// invoked on; it must be nil for unbound ones.
func (e *Engine) BuildActionPayload(name string, params map[string]any, target *dataverse.EntityReference) (*wire.ActionRequest, error) {
	action, err := e.registry.Action(name)
	if err != nil {
		return nil, err
	}
	req := &wire.ActionRequest{Action: action, Parameters: make(wire.Record, len(params))}

	if err := e.bindTarget(action, target, req); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(params))
	for pname := range params {
		names = append(names, pname)
	}
	sort.Strings(names)

	for _, pname := range names {
		pt, declared := action.ParameterTypes[pname]
		if !declared || pname == action.BoundParameter {
			return nil, dataverse.NewValidationError("unknown parameter", nil).
				WithLogicalName(action.OperationName).
				WithAttribute(pname)
		}
		value := params[pname]
		if isNil(value) {
			continue
		}
		f := field{logicalName: action.OperationName, attribute: pname}
		v, err := e.parameterToWire(f, pt, value)
		if err != nil {
			return nil, err
		}
		req.Parameters[pname] = v
	}

	required := make([]string, 0, len(action.ParameterTypes))
	for pname, pt := range action.ParameterTypes {
		if pt.Nullable || pname == action.BoundParameter {
			continue
		}
		if _, ok := req.Parameters[pname]; !ok {
			required = append(required, pname)
		}
	}
	if len(required) > 0 {
		sort.Strings(required)
		return nil, dataverse.NewValidationError("missing required parameter", nil).
			WithLogicalName(action.OperationName).
			WithAttribute(required[0]).
			WithDetail("missing", required)
	}

	return req, nil
}

func (e *Engine) bindTarget(action *metadata.ActionMetadata, target *dataverse.EntityReference, req *wire.ActionRequest) error {
	if action.BoundParameter == "" {
		if target != nil {
			return dataverse.NewValidationError("operation is not bound to an entity", nil).
				WithLogicalName(action.OperationName)
		}
		return nil
	}
	f := field{logicalName: action.OperationName, attribute: action.BoundParameter}
	if target == nil {
		return f.validationError("bound operation requires a target record", nil)
	}
	if pt, ok := action.ParameterTypes[action.BoundParameter]; ok {
		want := metadata.NormalizeTypeName(pt.TypeName)
		if want != baseEntity && metadata.NormalizeTypeName(target.LogicalName) != want {
			return f.validationError(fmt.Sprintf("target must be %s, got %s", want, target.LogicalName), nil)
		}
	}
	md, err := e.registry.Entity(target.LogicalName)
	if err != nil {
		return err
	}
	if _, err := referenceRecord(f, *target); err != nil {
		return err
	}
	req.Target = &wire.Target{Entity: md, ID: dataverse.NormalizeID(target.ID)}
	return nil
}

func (e *Engine) parameterToWire(f field, pt metadata.ParameterType, value any) (any, error) {
	switch pt.StructuralProperty {
	case metadata.PrimitiveType:
		return e.primitiveParameter(f, pt.TypeName, value)
	case metadata.EntityType:
		return e.entityParameter(f, pt.TypeName, value)
	case metadata.EnumType:
		return enumParameter(f, value)
	case metadata.Collection:
		return e.collectionParameter(f, pt, value)
	}
	return nil, dataverse.NewSchemaNotFoundError(fmt.Sprintf("unsupported structural property %q", pt.StructuralProperty)).
		WithLogicalName(f.logicalName).
		WithAttribute(f.attribute)
}

func isComposite(value any) bool {
	switch value.(type) {
	case *dataverse.Entity, dataverse.Entity, dataverse.EntityReference, *dataverse.EntityReference,
		dataverse.PartyList, wire.Record, map[string]any:
		return true
	}
	kind := reflect.ValueOf(value).Kind()
	return kind == reflect.Slice || kind == reflect.Array || kind == reflect.Map
}

func (e *Engine) primitiveParameter(f field, typeName string, value any) (any, error) {
	if isComposite(value) {
		return nil, f.validationError(fmt.Sprintf("%s parameter requires a scalar, got %T", typeName, value), nil)
	}
	tag, ok := EdmAttributeType(typeName)
	if !ok {
		return nil, dataverse.NewSchemaNotFoundError(fmt.Sprintf("unsupported primitive type %q", typeName)).
			WithLogicalName(f.logicalName).
			WithAttribute(f.attribute)
	}
	if tag == metadata.TypeInteger {
		if osv, ok := value.(dataverse.OptionSetValue); ok {
			value = osv.Value
		}
	}
	return e.toWire(f, value, tag, nil)
}

func (e *Engine) entityParameter(f field, typeName string, value any) (any, error) {
	want := metadata.NormalizeTypeName(typeName)
	accepts := func(logicalName string) error {
		if want == baseEntity || metadata.NormalizeTypeName(logicalName) == want {
			return nil
		}
		return f.validationError(fmt.Sprintf("parameter requires %s, got %s", want, logicalName), nil)
	}

	var entity *dataverse.Entity
	switch v := value.(type) {
	case *dataverse.Entity:
		entity = v
	case dataverse.Entity:
		entity = &v
	case dataverse.EntityReference, *dataverse.EntityReference:
		ref, _ := referenceOf(v)
		if err := accepts(ref.LogicalName); err != nil {
			return nil, err
		}
		md, err := e.registry.Entity(ref.LogicalName)
		if err != nil {
			return nil, err
		}
		if _, err := referenceRecord(f, ref); err != nil {
			return nil, err
		}
		return wire.Record{
			wire.KeyODataType:     ODataTypePrefix + md.LogicalName,
			md.PrimaryIDAttribute: dataverse.NormalizeID(ref.ID),
		}, nil
	default:
		return nil, f.validationError(fmt.Sprintf("parameter requires an entity or entity reference, got %T", value), nil)
	}

	if err := accepts(entity.LogicalName); err != nil {
		return nil, err
	}
	rec, err := e.EntityToWire(entity)
	if err != nil {
		return nil, err
	}
	md, err := e.registry.Entity(entity.LogicalName)
	if err != nil {
		return nil, err
	}
	rec[wire.KeyODataType] = ODataTypePrefix + md.LogicalName
	if entity.ID != "" {
		if _, set := rec[md.PrimaryIDAttribute]; !set {
			rec[md.PrimaryIDAttribute] = dataverse.NormalizeID(entity.ID)
		}
	}
	return rec, nil
}

func enumParameter(f field, value any) (any, error) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil, f.validationError("enum parameter is empty", nil)
		}
		return v, nil
	case dataverse.OptionSetValue:
		return strconv.Itoa(v.Value), nil
	}
	if i, ok := asInt64(value); ok {
		return strconv.FormatInt(i, 10), nil
	}
	return nil, f.validationError(fmt.Sprintf("enum parameter requires a member name or code, got %T", value), nil)
}

func (e *Engine) collectionParameter(f field, pt metadata.ParameterType, value any) (any, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, f.validationError(fmt.Sprintf("collection parameter requires a slice, got %T", value), nil)
	}

	elemType := pt.ElementTypeName()
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		ef := field{logicalName: f.logicalName, attribute: fmt.Sprintf("%s[%d]", f.attribute, i)}
		if isNil(elem) {
			return nil, ef.validationError("collection element is nil", nil)
		}
		var (
			v   any
			err error
		)
		if metadata.IsEdmType(elemType) {
			v, err = e.primitiveParameter(ef, elemType, elem)
		} else {
			v, err = e.entityParameter(ef, elemType, elem)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
