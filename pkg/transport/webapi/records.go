package webapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/wire"
)

// Web API annotations.
const (
	annotationLookupLogicalName = "@Microsoft.Dynamics.CRM.lookuplogicalname"
	annotationFormattedValue    = "@OData.Community.Display.V1.FormattedValue"
	annotationMoreRecords       = "@Microsoft.Dynamics.CRM.morerecords"
	annotationPagingCookie      = "@Microsoft.Dynamics.CRM.fetchxmlpagingcookie"
	annotationTotalCount        = "@Microsoft.Dynamics.CRM.totalrecordcount"
	annotationBind              = "@odata.bind"
)

// partyMasks maps the standard party list attributes of activities to their
// participation type.
var partyMasks = map[string]int{
	"from":              1,
	"to":                2,
	"cc":                3,
	"bcc":               4,
	"requiredattendees": 5,
	"optionalattendees": 6,
	"organizer":         7,
	"resources":         10,
	"customers":         11,
}

func lookupValueKey(attr string) string {
	return "_" + attr + "_value"
}

func partiesKey(md *metadata.EntityMetadata) string {
	return md.LogicalName + "_activity_parties"
}

// toWebAPI converts an entity record to a request body: lookups become
// @odata.bind references and party lists are merged into the activity
// parties collection. The collection is written whenever a party list
// attribute is present, so an empty list clears the parties.
func (t *Transport) toWebAPI(md *metadata.EntityMetadata, rec wire.Record) (map[string]any, error) {
	out := make(map[string]any, len(rec))
	var parties []any
	hasParties := false

	for attr, v := range rec {
		switch md.AttributeTypes[attr] {
		case metadata.TypeLookup:
			if err := t.lookupToWebAPI(md, attr, v, out); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", md.LogicalName, attr, err)
			}
		case metadata.TypePartyList:
			hasParties = true
			entries, _ := v.([]any)
			for _, e := range entries {
				party, err := t.partyToWebAPI(e)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", md.LogicalName, attr, err)
				}
				parties = append(parties, party)
			}
		default:
			out[attr] = v
		}
	}
	if hasParties {
		if parties == nil {
			parties = []any{}
		}
		out[partiesKey(md)] = parties
	}
	return out, nil
}

// lookupToWebAPI writes the binding for one lookup. Lookups with more than
// one target entity bind through the target-qualified navigation property,
// for example customerid_account.
func (t *Transport) lookupToWebAPI(md *metadata.EntityMetadata, attr string, v any, out map[string]any) error {
	targets := md.Navigation[attr]
	if v == nil {
		if len(targets) <= 1 {
			out[attr+annotationBind] = nil
			return nil
		}
		for _, target := range targets {
			out[attr+"_"+target+annotationBind] = nil
		}
		return nil
	}

	ref, ok := asRecord(v)
	if !ok {
		return fmt.Errorf("expected reference, got %T", v)
	}
	bind, err := t.bindReference(ref)
	if err != nil {
		return err
	}
	if len(targets) <= 1 {
		out[attr+annotationBind] = bind
		return nil
	}
	logicalName, _ := ref[wire.KeyLogicalName].(string)
	out[attr+"_"+metadata.NormalizeTypeName(logicalName)+annotationBind] = bind
	return nil
}

// partyAttributes returns the party list attributes of md present in rec
// and the participation masks they carry.
func partyAttributes(md *metadata.EntityMetadata, rec wire.Record) (present []string, declared int) {
	for attr, tag := range md.AttributeTypes {
		if tag != metadata.TypePartyList {
			continue
		}
		declared++
		if _, ok := rec[attr]; ok {
			present = append(present, attr)
		}
	}
	return present, declared
}

// keptParties reads the current parties of a record and returns, in request
// form, those whose participation type is not being replaced.
func (t *Transport) keptParties(ctx context.Context, md *metadata.EntityMetadata, id string, replaced []string) ([]any, error) {
	masks := make(map[string]bool, len(replaced))
	for _, attr := range replaced {
		mask, ok := partyMasks[attr]
		if !ok {
			return nil, dataverse.NewValidationError(
				fmt.Sprintf("party list %s has no known participation type; update every party list of %s together", attr, md.LogicalName), nil).
				WithLogicalName(md.LogicalName)
		}
		masks[strconv.Itoa(mask)] = true
	}

	key := partiesKey(md)
	query := url.Values{
		"$select": {md.PrimaryIDAttribute},
		"$expand": {key + "($select=participationtypemask,_partyid_value,addressused)"},
	}
	var body map[string]any
	if _, err := t.do(ctx, request{method: http.MethodGet, path: entityPath(md, id), query: query}, &body); err != nil {
		return nil, err
	}

	entries, _ := body[key].([]any)
	kept := []any{}
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok || masks[fmt.Sprint(entry[wire.KeyParticipationTypeMask])] {
			continue
		}
		party := map[string]any{wire.KeyParticipationTypeMask: entry[wire.KeyParticipationTypeMask]}
		lookupKey := lookupValueKey(wire.KeyPartyID)
		if ref := lookupFromWebAPI(entry, lookupKey, entry[lookupKey]); ref != nil {
			party[wire.KeyPartyID] = ref
		}
		if addr, ok := entry[wire.KeyAddressUsed]; ok {
			party[wire.KeyAddressUsed] = addr
		}
		converted, err := t.partyToWebAPI(party)
		if err != nil {
			return nil, dataverse.NewDeserializationError("existing party cannot be kept", err).
				WithLogicalName(md.LogicalName)
		}
		kept = append(kept, converted)
	}
	return kept, nil
}

func (t *Transport) bindReference(v any) (string, error) {
	ref, ok := asRecord(v)
	if !ok {
		return "", fmt.Errorf("expected reference, got %T", v)
	}
	logicalName, _ := ref[wire.KeyLogicalName].(string)
	id, _ := ref[wire.KeyID].(string)
	target, err := t.registry.Entity(logicalName)
	if err != nil {
		return "", err
	}
	return bindPath(target, id), nil
}

func (t *Transport) partyToWebAPI(v any) (map[string]any, error) {
	entry, ok := asRecord(v)
	if !ok {
		return nil, fmt.Errorf("expected party entry, got %T", v)
	}
	out := map[string]any{
		wire.KeyParticipationTypeMask: entry[wire.KeyParticipationTypeMask],
	}
	if addr, ok := entry[wire.KeyAddressUsed]; ok {
		out[wire.KeyAddressUsed] = addr
	}
	if party, ok := asRecord(entry[wire.KeyPartyID]); ok {
		logicalName, _ := party[wire.KeyLogicalName].(string)
		bind, err := t.bindReference(party)
		if err != nil {
			return nil, err
		}
		out[wire.KeyPartyID+"_"+metadata.NormalizeTypeName(logicalName)+annotationBind] = bind
	}
	return out, nil
}

// fromWebAPI converts a response body to a wire record holding the declared
// attributes that are present.
func fromWebAPI(md *metadata.EntityMetadata, body map[string]any) wire.Record {
	rec := make(wire.Record, len(md.AttributeTypes))
	for attr, tag := range md.AttributeTypes {
		switch tag {
		case metadata.TypeLookup:
			key := lookupValueKey(attr)
			v, ok := body[key]
			if !ok {
				continue
			}
			rec[attr] = lookupFromWebAPI(body, key, v)
		case metadata.TypePartyList:
			mask, known := partyMasks[attr]
			entries, ok := body[partiesKey(md)].([]any)
			if !known || !ok {
				if v, ok := body[attr]; ok {
					rec[attr] = v
				}
				continue
			}
			rec[attr] = partiesFromWebAPI(entries, mask)
		default:
			if v, ok := body[attr]; ok {
				rec[attr] = v
			}
		}
	}
	return rec
}

func lookupFromWebAPI(body map[string]any, key string, v any) any {
	id, ok := v.(string)
	if !ok || id == "" {
		return nil
	}
	ref := map[string]any{wire.KeyID: id}
	if ln, ok := body[key+annotationLookupLogicalName].(string); ok {
		ref[wire.KeyLogicalName] = ln
	}
	if name, ok := body[key+annotationFormattedValue].(string); ok {
		ref[wire.KeyName] = name
	}
	return ref
}

func partiesFromWebAPI(entries []any, mask int) []any {
	out := []any{}
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if fmt.Sprint(entry[wire.KeyParticipationTypeMask]) != fmt.Sprint(mask) {
			continue
		}
		party := map[string]any{wire.KeyParticipationTypeMask: entry[wire.KeyParticipationTypeMask]}
		key := lookupValueKey(wire.KeyPartyID)
		if ref := lookupFromWebAPI(entry, key, entry[key]); ref != nil {
			party[wire.KeyPartyID] = ref
		}
		if addr, ok := entry[wire.KeyAddressUsed]; ok {
			party[wire.KeyAddressUsed] = addr
		}
		out = append(out, party)
	}
	return out
}

// paramToWebAPI rewrites references nested in action parameters as
// @odata.bind entries.
func (t *Transport) paramToWebAPI(v any) (any, error) {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			conv, err := t.paramToWebAPI(e)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case wire.Record, map[string]any:
		rec, _ := asRecord(val)
		out := make(map[string]any, len(rec))
		for k, e := range rec {
			if isReference(e) {
				bind, err := t.bindReference(e)
				if err != nil {
					return nil, err
				}
				out[k+annotationBind] = bind
				continue
			}
			out[k] = e
		}
		return out, nil
	}
	return v, nil
}

// isReference reports whether v has the wire shape of a lookup value.
func isReference(v any) bool {
	rec, ok := asRecord(v)
	if !ok {
		return false
	}
	_, hasID := rec[wire.KeyID]
	_, hasName := rec[wire.KeyLogicalName]
	_, hasType := rec[wire.KeyODataType]
	return hasID && hasName && !hasType
}

func asRecord(v any) (map[string]any, bool) {
	switch r := v.(type) {
	case map[string]any:
		return r, true
	case wire.Record:
		return r, true
	}
	return nil, false
}
