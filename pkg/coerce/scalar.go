package coerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/wire"
)

const dateLayout = "2006-01-02"

var (
	errNotNumeric = errors.New("value is not numeric")
	errOutOfRange = errors.New("value is out of range")
)

func (e *Engine) toTyped(f field, raw any, tag metadata.AttributeType) (any, error) {
	if raw == nil {
		return nil, nil
	}

	var (
		v   any
		err error
	)
	switch tag {
	case metadata.TypeInteger:
		v, err = decodeInteger(raw)
	case metadata.TypeDouble:
		v, err = decodeDouble(raw)
	case metadata.TypeDecimal:
		v, err = decodeDecimal(raw)
	case metadata.TypeBigInt:
		v, err = decodeBigInt(raw)
	case metadata.TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			err = fmt.Errorf("expected boolean, got %T", raw)
		}
		v = b
	case metadata.TypeString:
		s, ok := raw.(string)
		if !ok {
			err = fmt.Errorf("expected string, got %T", raw)
		}
		v = s
	case metadata.TypeGuid:
		v, err = decodeGuid(raw)
	case metadata.TypeOptionset:
		return e.decodeOptionset(f, raw)
	case metadata.TypeLookup:
		v, err = decodeReference(raw)
	case metadata.TypeDateOnly:
		v, err = decodeDateOnly(raw)
	case metadata.TypeDateAndTime:
		var t time.Time
		t, err = decodeDateTime(raw)
		v = t.In(e.location())
	case metadata.TypePartyList:
		v, err = decodePartyList(raw)
	default:
		return nil, dataverse.NewSchemaNotFoundError(fmt.Sprintf("unsupported attribute type %q", tag)).
			WithLogicalName(f.logicalName).
			WithAttribute(f.attribute)
	}
	if err != nil {
		return nil, f.deserializationError(tag, err)
	}
	return v, nil
}

// toWire converts a typed value. targets restricts reference logical names
// for Lookup and PartyList values; nil or empty means unrestricted.
func (e *Engine) toWire(f field, typed any, tag metadata.AttributeType, targets []string) (any, error) {
	if isNil(typed) {
		return nil, nil
	}

	var (
		v   any
		err error
	)
	switch tag {
	case metadata.TypeInteger:
		v, err = encodeInteger(typed)
	case metadata.TypeDouble:
		v, err = encodeDouble(typed)
	case metadata.TypeDecimal:
		v, err = encodeDecimal(typed)
	case metadata.TypeBigInt:
		v, err = encodeBigInt(typed)
	case metadata.TypeBoolean:
		b, ok := typed.(bool)
		if !ok {
			err = fmt.Errorf("expected bool, got %T", typed)
		}
		v = b
	case metadata.TypeString:
		s, ok := typed.(string)
		if !ok {
			err = fmt.Errorf("expected string, got %T", typed)
		}
		v = s
	case metadata.TypeGuid:
		v, err = encodeGuid(typed)
	case metadata.TypeOptionset:
		return e.encodeOptionset(f, typed)
	case metadata.TypeLookup:
		return encodeLookup(f, typed, targets)
	case metadata.TypeDateOnly:
		v, err = encodeDateOnly(typed)
	case metadata.TypeDateAndTime:
		v, err = encodeDateTime(typed)
	case metadata.TypePartyList:
		return encodePartyList(f, typed, targets)
	default:
		return nil, dataverse.NewSchemaNotFoundError(fmt.Sprintf("unsupported attribute type %q", tag)).
			WithLogicalName(f.logicalName).
			WithAttribute(f.attribute)
	}
	if err != nil {
		return nil, f.validationError(fmt.Sprintf("value does not fit %s", tag), err)
	}
	return v, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	case reflect.Slice:
		// A nil PartyList means absent; an empty one is a value.
		return rv.IsNil()
	}
	return false
}

// numberText returns the decimal text of a wire number.
func numberText(raw any) (string, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.String(), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", errNotNumeric
		}
		return s, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", errNotNumeric
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	}
	if i, ok := asInt64(raw); ok {
		return strconv.FormatInt(i, 10), nil
	}
	return "", fmt.Errorf("%w: %T", errNotNumeric, raw)
}

// asInt64 accepts any Go integer kind, including named types, and integral
// json.Number values.
func asInt64(v any) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		i, err := n.Int64()
		return i, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}

func parseInt32(text string) (int, error) {
	i, err := strconv.ParseInt(text, 10, 32)
	if err == nil {
		return int(i), nil
	}
	f, ferr := strconv.ParseFloat(text, 64)
	if ferr != nil {
		return 0, fmt.Errorf("%w: %q", errNotNumeric, text)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%q is not an integer", text)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %q", errOutOfRange, text)
	}
	return int(f), nil
}

func decodeInteger(raw any) (int, error) {
	text, err := numberText(raw)
	if err != nil {
		return 0, err
	}
	return parseInt32(text)
}

func encodeInteger(typed any) (int, error) {
	i, ok := asInt64(typed)
	if !ok {
		return 0, fmt.Errorf("expected an integer, got %T", typed)
	}
	if i < math.MinInt32 || i > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d", errOutOfRange, i)
	}
	return int(i), nil
}

func decodeDouble(raw any) (float64, error) {
	text, err := numberText(raw)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errNotNumeric, text)
	}
	return f, nil
}

func encodeDouble(typed any) (float64, error) {
	var f float64
	switch v := typed.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	default:
		i, ok := asInt64(typed)
		if !ok {
			return 0, fmt.Errorf("expected a number, got %T", typed)
		}
		f = float64(i)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v cannot be sent", f)
	}
	return f, nil
}

func decodeDecimal(raw any) (*apd.Decimal, error) {
	text, err := numberText(raw)
	if err != nil {
		return nil, err
	}
	d, _, err := apd.NewFromString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errNotNumeric, text)
	}
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("%q is not a finite decimal", text)
	}
	return d, nil
}

func encodeDecimal(typed any) (json.Number, error) {
	var d *apd.Decimal
	switch v := typed.(type) {
	case *apd.Decimal:
		d = v
	case apd.Decimal:
		d = &v
	case string, json.Number:
		text, _ := numberText(v)
		parsed, _, err := apd.NewFromString(text)
		if err != nil {
			return "", fmt.Errorf("%w: %q", errNotNumeric, text)
		}
		d = parsed
	case float64:
		d = new(apd.Decimal)
		if _, err := d.SetFloat64(v); err != nil {
			return "", err
		}
	default:
		i, ok := asInt64(typed)
		if !ok {
			return "", fmt.Errorf("expected a decimal, got %T", typed)
		}
		d = apd.New(i, 0)
	}
	if d.Form != apd.Finite {
		return "", fmt.Errorf("%s cannot be sent", d.String())
	}
	return json.Number(d.Text('f')), nil
}

func decodeBigInt(raw any) (*big.Int, error) {
	text, err := numberText(raw)
	if err != nil {
		return nil, err
	}
	b, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not an integer", text)
	}
	return b, nil
}

func encodeBigInt(typed any) (json.Number, error) {
	switch v := typed.(type) {
	case *big.Int:
		return json.Number(v.String()), nil
	case big.Int:
		return json.Number(v.String()), nil
	case string, json.Number:
		b, err := decodeBigInt(v)
		if err != nil {
			return "", err
		}
		return json.Number(b.String()), nil
	}
	i, ok := asInt64(typed)
	if !ok {
		return "", fmt.Errorf("expected a big integer, got %T", typed)
	}
	return json.Number(strconv.FormatInt(i, 10)), nil
}

func decodeGuid(raw any) (uuid.UUID, error) {
	s, ok := raw.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("expected GUID string, got %T", raw)
	}
	return uuid.Parse(s)
}

func encodeGuid(typed any) (string, error) {
	switch v := typed.(type) {
	case uuid.UUID:
		return v.String(), nil
	case *uuid.UUID:
		return v.String(), nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return "", err
		}
		return id.String(), nil
	}
	return "", fmt.Errorf("expected GUID, got %T", typed)
}

func (e *Engine) decodeOptionset(f field, raw any) (any, error) {
	code, err := decodeInteger(raw)
	if err != nil {
		return nil, f.deserializationError(metadata.TypeOptionset, err)
	}
	if f.logicalName == "" {
		return code, nil
	}
	if label, ok := e.registry.OptionLabel(f.logicalName, f.attribute, code); ok {
		return dataverse.OptionSetValue{Value: code, Label: label}, nil
	}
	e.diagnose(f, code, e.unknownOptionReason(f, "passing raw value through"))
	return code, nil
}

func (e *Engine) unknownOptionReason(f field, action string) string {
	if !e.registry.HasOptionSet(f.logicalName, f.attribute) {
		return "option set has no members in registry; " + action
	}
	return "option set code not in registry; " + action
}

func (e *Engine) encodeOptionset(f field, typed any) (any, error) {
	var code int
	switch v := typed.(type) {
	case dataverse.OptionSetValue:
		code = v.Value
	case *dataverse.OptionSetValue:
		code = v.Value
	default:
		i, err := encodeInteger(typed)
		if err != nil {
			return nil, f.validationError("value does not fit Optionset", err)
		}
		code = i
	}
	if f.logicalName != "" {
		if _, ok := e.registry.OptionLabel(f.logicalName, f.attribute, code); !ok {
			e.diagnose(f, code, e.unknownOptionReason(f, "sending raw value"))
		}
	}
	return code, nil
}

func asRecord(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case map[string]any:
		return v, true
	case wire.Record:
		return v, true
	}
	return nil, false
}

func decodeReference(raw any) (dataverse.EntityReference, error) {
	rec, ok := asRecord(raw)
	if !ok {
		return dataverse.EntityReference{}, fmt.Errorf("expected reference object, got %T", raw)
	}
	id, _ := rec[wire.KeyID].(string)
	logicalName, _ := rec[wire.KeyLogicalName].(string)
	if id == "" || logicalName == "" {
		return dataverse.EntityReference{}, errors.New("reference requires id and logicalName")
	}
	name, _ := rec[wire.KeyName].(string)
	return dataverse.EntityReference{
		LogicalName: metadata.NormalizeTypeName(logicalName),
		ID:          dataverse.NormalizeID(id),
		Name:        name,
	}, nil
}

// referenceOf extracts a reference from the typed values a relationship
// attribute accepts. Entities must carry both logical name and id.
func referenceOf(typed any) (dataverse.EntityReference, error) {
	switch v := typed.(type) {
	case dataverse.EntityReference:
		return v, nil
	case *dataverse.EntityReference:
		return *v, nil
	case *dataverse.Entity:
		if v.LogicalName == "" || v.ID == "" {
			return dataverse.EntityReference{}, errors.New("entity must carry a logical name and id to be referenced")
		}
		return v.ToReference(), nil
	case dataverse.Entity:
		if v.LogicalName == "" || v.ID == "" {
			return dataverse.EntityReference{}, errors.New("entity must carry a logical name and id to be referenced")
		}
		return v.ToReference(), nil
	}
	return dataverse.EntityReference{}, fmt.Errorf("expected entity reference or entity, got %T", typed)
}

func referenceRecord(f field, ref dataverse.EntityReference) (wire.Record, error) {
	if ref.LogicalName == "" {
		return nil, f.validationError("reference has no logical name", nil)
	}
	id, err := uuid.Parse(ref.ID)
	if err != nil {
		return nil, f.validationError("reference id is not a GUID", err)
	}
	rec := wire.Record{
		wire.KeyID:          id.String(),
		wire.KeyLogicalName: metadata.NormalizeTypeName(ref.LogicalName),
	}
	if ref.Name != "" {
		rec[wire.KeyName] = ref.Name
	}
	return rec, nil
}

func checkTarget(f field, targets []string, logicalName string) error {
	if len(targets) == 0 || metadata.IsAllowedTarget(targets, logicalName) {
		return nil
	}
	return f.validationError(fmt.Sprintf("%s is not an allowed target", logicalName), nil).
		WithDetail("allowed", targets)
}

func encodeLookup(f field, typed any, targets []string) (any, error) {
	ref, err := referenceOf(typed)
	if err != nil {
		return nil, f.validationError("value does not fit Lookup", err)
	}
	if err := checkTarget(f, targets, ref.LogicalName); err != nil {
		return nil, err
	}
	return referenceRecord(f, ref)
}

func decodeDateOnly(raw any) (time.Time, error) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected date string, got %T", raw)
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		// Some endpoints return the date with a zeroed time component.
		full, ferr := time.Parse(time.RFC3339, s)
		if ferr != nil {
			return time.Time{}, fmt.Errorf("invalid date %q", s)
		}
		t = full
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func encodeDateOnly(typed any) (string, error) {
	switch v := typed.(type) {
	case time.Time:
		return v.Format(dateLayout), nil
	case *time.Time:
		return v.Format(dateLayout), nil
	case string:
		t, err := decodeDateOnly(v)
		if err != nil {
			return "", err
		}
		return t.Format(dateLayout), nil
	}
	return "", fmt.Errorf("expected time.Time, got %T", typed)
}

func decodeDateTime(raw any) (time.Time, error) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected timestamp string, got %T", raw)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

func encodeDateTime(typed any) (string, error) {
	switch v := typed.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case *time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case string:
		t, err := decodeDateTime(v)
		if err != nil {
			return "", err
		}
		return t.UTC().Format(time.RFC3339), nil
	}
	return "", fmt.Errorf("expected time.Time, got %T", typed)
}

func decodePartyList(raw any) (dataverse.PartyList, error) {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []wire.Record:
		for _, r := range v {
			items = append(items, r)
		}
	case []map[string]any:
		for _, r := range v {
			items = append(items, r)
		}
	default:
		return nil, fmt.Errorf("expected party list, got %T", raw)
	}

	parties := make(dataverse.PartyList, 0, len(items))
	for i, item := range items {
		rec, ok := asRecord(item)
		if !ok {
			return nil, fmt.Errorf("party %d: expected object, got %T", i, item)
		}
		var party dataverse.ActivityParty
		if p := rec[wire.KeyPartyID]; p != nil {
			ref, err := decodeReference(p)
			if err != nil {
				return nil, fmt.Errorf("party %d: %w", i, err)
			}
			party.Party = ref
		}
		party.AddressUsed, _ = rec[wire.KeyAddressUsed].(string)
		if party.Party.IsZero() && party.AddressUsed == "" {
			return nil, fmt.Errorf("party %d: neither partyid nor addressused present", i)
		}
		mask, err := decodeInteger(rec[wire.KeyParticipationTypeMask])
		if err != nil {
			return nil, fmt.Errorf("party %d: participationtypemask: %w", i, err)
		}
		party.Role = dataverse.ParticipationType(mask)
		if err := party.Role.Validate(); err != nil {
			return nil, fmt.Errorf("party %d: %w", i, err)
		}
		parties = append(parties, party)
	}
	return parties, nil
}

func encodePartyList(f field, typed any, targets []string) (any, error) {
	var parties dataverse.PartyList
	switch v := typed.(type) {
	case dataverse.PartyList:
		parties = v
	case *dataverse.PartyList:
		parties = *v
	case []dataverse.ActivityParty:
		parties = v
	default:
		return nil, f.validationError("value does not fit PartyList", fmt.Errorf("expected PartyList, got %T", typed))
	}

	out := make([]any, 0, len(parties))
	for i, party := range parties {
		if err := party.Role.Validate(); err != nil {
			return nil, f.validationError(fmt.Sprintf("party %d", i), err)
		}
		rec := wire.Record{wire.KeyParticipationTypeMask: int(party.Role)}
		if party.AddressUsed != "" {
			rec[wire.KeyAddressUsed] = party.AddressUsed
		}
		switch {
		case !party.Party.IsZero():
			if err := checkTarget(f, targets, party.Party.LogicalName); err != nil {
				return nil, err
			}
			ref, err := referenceRecord(f, party.Party)
			if err != nil {
				return nil, err
			}
			rec[wire.KeyPartyID] = ref
		case party.AddressUsed == "":
			return nil, f.validationError(fmt.Sprintf("party %d has neither a reference nor an address", i), nil)
		}
		out = append(out, rec)
	}
	return out, nil
}
