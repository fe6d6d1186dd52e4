package script

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
)

// Struct constructors tag the typed values scripts build.
var (
	refCtor    = starlark.String("ref")
	entityCtor = starlark.String("entity")
	partyCtor  = starlark.String("party")
	itemCtor   = starlark.String("item")
)

func builtinRef(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var logicalName, id string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "logicalName", &logicalName, "id", &id); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(dataverse.NormalizeID(id)); err != nil {
		return nil, fmt.Errorf("%s: id %q is not a GUID", b.Name(), id)
	}
	return refValue(dataverse.NewEntityReference(logicalName, id)), nil
}

func builtinEntity(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var logicalName string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &logicalName); err != nil {
		return nil, err
	}
	attrs := starlark.NewDict(len(kwargs))
	for _, kv := range kwargs {
		if err := attrs.SetKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return starlarkstruct.FromStringDict(entityCtor, starlark.StringDict{
		"logicalName": starlark.String(logicalName),
		"attributes":  attrs,
	}), nil
}

func builtinParty(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		role    int
		ref     starlark.Value = starlark.None
		address string
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "role", &role, "ref?", &ref, "address?", &address); err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(partyCtor, starlark.StringDict{
		"role":    starlark.MakeInt(role),
		"ref":     ref,
		"address": starlark.String(address),
	}), nil
}

func refValue(ref dataverse.EntityReference) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(refCtor, starlark.StringDict{
		"logicalName": starlark.String(ref.LogicalName),
		"id":          starlark.String(ref.ID),
	})
}

func itemValue(item *dataverse.Entity) (starlark.Value, error) {
	attrs := starlark.NewDict(len(item.Attributes))
	for _, name := range item.Keys() {
		v, err := toStarlark(item.Attributes[name])
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		if err := attrs.SetKey(starlark.String(name), v); err != nil {
			return nil, err
		}
	}
	return starlarkstruct.FromStringDict(itemCtor, starlark.StringDict{
		"logicalName": starlark.String(item.LogicalName),
		"id":          starlark.String(item.ID),
		"ref":         refValue(item.ToReference()),
		"attributes":  attrs,
	}), nil
}

// toStarlark converts a typed attribute value.
func toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		return starlark.String(val.String()), nil
	case *apd.Decimal:
		return starlark.String(val.Text('f')), nil
	case *big.Int:
		return starlark.MakeBigInt(val), nil
	case uuid.UUID:
		return starlark.String(val.String()), nil
	case time.Time:
		return starlark.String(val.Format(time.RFC3339)), nil
	case dataverse.OptionSetValue:
		return starlark.MakeInt(val.Value), nil
	case dataverse.EntityReference:
		return refValue(val), nil
	case dataverse.PartyList:
		list := make([]starlark.Value, len(val))
		for i, p := range val {
			ref := starlark.Value(starlark.None)
			if !p.Party.IsZero() {
				ref = refValue(p.Party)
			}
			list[i] = starlarkstruct.FromStringDict(partyCtor, starlark.StringDict{
				"role":    starlark.MakeInt(int(p.Role)),
				"ref":     ref,
				"address": starlark.String(p.AddressUsed),
			})
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlark converts a script value into the typed values the coercion
// engine accepts.
func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return val.BigInt(), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val)
	case starlark.Tuple:
		return fromIterable(val)
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			gv, err := fromStarlark(item[1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = gv
		}
		return out, nil
	case *starlarkstruct.Struct:
		return fromStruct(val)
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(seq starlark.Indexable) (any, error) {
	items := make([]any, seq.Len())
	parties := seq.Len() > 0
	for i := 0; i < seq.Len(); i++ {
		gv, err := fromStarlark(seq.Index(i))
		if err != nil {
			return nil, err
		}
		if _, ok := gv.(dataverse.ActivityParty); !ok {
			parties = false
		}
		items[i] = gv
	}
	if !parties {
		return items, nil
	}
	list := make(dataverse.PartyList, len(items))
	for i, item := range items {
		list[i] = item.(dataverse.ActivityParty)
	}
	return list, nil
}

func fromStruct(s *starlarkstruct.Struct) (any, error) {
	switch s.Constructor() {
	case refCtor:
		return dataverse.NewEntityReference(structString(s, "logicalName"), structString(s, "id")), nil
	case itemCtor:
		ref, _ := s.Attr("ref")
		return fromStarlark(ref)
	case entityCtor:
		e := dataverse.NewEntity(structString(s, "logicalName"))
		attrs, _ := s.Attr("attributes")
		converted, err := fromStarlark(attrs)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", e.LogicalName, err)
		}
		for name, value := range converted.(map[string]any) {
			e.Set(name, value)
		}
		return e, nil
	case partyCtor:
		p := dataverse.ActivityParty{AddressUsed: structString(s, "address")}
		role, _ := s.Attr("role")
		if i, ok := role.(starlark.Int); ok {
			n, _ := i.Int64()
			p.Role = dataverse.ParticipationType(n)
		}
		if ref, _ := s.Attr("ref"); ref != nil && ref != starlark.None {
			gv, err := fromStarlark(ref)
			if err != nil {
				return nil, err
			}
			r, ok := gv.(dataverse.EntityReference)
			if !ok {
				return nil, fmt.Errorf("party ref must be a ref, got %T", gv)
			}
			p.Party = r
		}
		return p, nil
	}

	out := make(map[string]any)
	for _, name := range s.AttrNames() {
		attr, err := s.Attr(name)
		if err != nil {
			continue
		}
		gv, err := fromStarlark(attr)
		if err != nil {
			return nil, err
		}
		out[name] = gv
	}
	return out, nil
}

func structString(s *starlarkstruct.Struct, name string) string {
	v, err := s.Attr(name)
	if err != nil {
		return ""
	}
	str, _ := starlark.AsString(v)
	return str
}
