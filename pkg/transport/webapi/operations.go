package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/fetch"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/wire"
)

// Create posts a new record and returns the id from the OData-EntityId
// header.
func (t *Transport) Create(ctx context.Context, md *metadata.EntityMetadata, rec wire.Record) (string, error) {
	body, err := t.toWebAPI(md, rec)
	if err != nil {
		return "", dataverse.NewValidationError("record cannot be sent", err).WithLogicalName(md.LogicalName)
	}
	header, err := t.do(ctx, request{method: http.MethodPost, path: md.CollectionName, body: body}, nil)
	if err != nil {
		return "", err
	}
	id, ok := idFromEntityID(header.Get("OData-EntityId"))
	if !ok {
		return "", dataverse.NewDeserializationError("response has no OData-EntityId header", nil).
			WithLogicalName(md.LogicalName)
	}
	return id, nil
}

// Update patches an existing record. The If-Match header prevents the
// PATCH from creating the record. The service replaces the whole activity
// parties collection, so when only some party lists change the parties of
// the others are read back and sent again.
func (t *Transport) Update(ctx context.Context, md *metadata.EntityMetadata, id string, rec wire.Record) error {
	body, err := t.toWebAPI(md, rec)
	if err != nil {
		return dataverse.NewValidationError("record cannot be sent", err).WithLogicalName(md.LogicalName)
	}
	if present, declared := partyAttributes(md, rec); len(present) > 0 && len(present) < declared {
		kept, err := t.keptParties(ctx, md, id, present)
		if err != nil {
			return err
		}
		key := partiesKey(md)
		parties, _ := body[key].([]any)
		body[key] = append(parties, kept...)
	}
	_, err = t.do(ctx, request{
		method:  http.MethodPatch,
		path:    entityPath(md, id),
		body:    body,
		headers: map[string]string{"If-Match": "*"},
	}, nil)
	return err
}

// Delete removes a record.
func (t *Transport) Delete(ctx context.Context, md *metadata.EntityMetadata, id string) error {
	_, err := t.do(ctx, request{method: http.MethodDelete, path: entityPath(md, id)}, nil)
	return err
}

// Retrieve reads one record.
func (t *Transport) Retrieve(ctx context.Context, md *metadata.EntityMetadata, id string, columns []string) (wire.Record, error) {
	var query url.Values
	if columns != nil {
		sel := []string{md.PrimaryIDAttribute}
		for _, c := range columns {
			if c == md.PrimaryIDAttribute {
				continue
			}
			if md.AttributeTypes[c] == metadata.TypeLookup {
				c = lookupValueKey(c)
			}
			sel = append(sel, c)
		}
		query = url.Values{"$select": {strings.Join(sel, ",")}}
	}

	var body map[string]any
	if _, err := t.do(ctx, request{method: http.MethodGet, path: entityPath(md, id), query: query}, &body); err != nil {
		return nil, err
	}
	return fromWebAPI(md, body), nil
}

type pageBody struct {
	Value []map[string]any `json:"value"`

	MoreRecords  bool   `json:"@Microsoft.Dynamics.CRM.morerecords"`
	PagingCookie string `json:"@Microsoft.Dynamics.CRM.fetchxmlpagingcookie"`
	TotalCount   *int   `json:"@Microsoft.Dynamics.CRM.totalrecordcount"`
}

// RetrieveMultiple sends a fetch expression against the entity set.
func (t *Transport) RetrieveMultiple(ctx context.Context, md *metadata.EntityMetadata, q *fetch.Query) (*wire.Page, error) {
	text, err := q.XML()
	if err != nil {
		return nil, dataverse.NewValidationError("query cannot be rendered", err).WithLogicalName(md.LogicalName)
	}

	var body pageBody
	if _, err := t.do(ctx, request{method: http.MethodGet, path: md.CollectionName, query: url.Values{"fetchXml": {text}}}, &body); err != nil {
		return nil, err
	}

	page := &wire.Page{
		Records:          make([]wire.Record, 0, len(body.Value)),
		MoreRecords:      body.MoreRecords,
		PagingCookie:     body.PagingCookie,
		TotalRecordCount: -1,
	}
	if body.TotalCount != nil {
		page.TotalRecordCount = *body.TotalCount
	}
	for _, v := range body.Value {
		page.Records = append(page.Records, fromWebAPI(md, v))
	}
	return page, nil
}

// Associate adds $ref links for each related record.
func (t *Transport) Associate(ctx context.Context, md *metadata.EntityMetadata, id, relationship string, related []wire.Target) error {
	for _, target := range related {
		ref := map[string]any{"@odata.id": t.baseURL.String() + entityPath(target.Entity, target.ID)}
		path := entityPath(md, id) + "/" + relationship + "/$ref"
		if _, err := t.do(ctx, request{method: http.MethodPost, path: path, body: ref}, nil); err != nil {
			return err
		}
	}
	return nil
}

// Disassociate deletes the $ref link for each related record.
func (t *Transport) Disassociate(ctx context.Context, md *metadata.EntityMetadata, id, relationship string, related []wire.Target) error {
	for _, target := range related {
		path := entityPath(md, id) + "/" + relationship + "(" + target.ID + ")/$ref"
		if _, err := t.do(ctx, request{method: http.MethodDelete, path: path}, nil); err != nil {
			return err
		}
	}
	return nil
}

// Execute invokes an action with POST or a function with GET. Bound
// operations are addressed through the target record.
func (t *Transport) Execute(ctx context.Context, req *wire.ActionRequest) (wire.Record, error) {
	action := req.Action
	path := action.OperationName
	if req.Target != nil {
		path = entityPath(req.Target.Entity, req.Target.ID) + "/Microsoft.Dynamics.CRM." + action.OperationName
	}

	params := make(map[string]any, len(req.Parameters))
	for name, v := range req.Parameters {
		conv, err := t.paramToWebAPI(v)
		if err != nil {
			return nil, dataverse.NewValidationError("parameter cannot be sent", err).
				WithLogicalName(action.OperationName).
				WithAttribute(name)
		}
		params[name] = conv
	}

	var (
		resp wire.Record
		err  error
	)
	if action.OperationType == metadata.OperationFunction {
		fnPath, query, ferr := functionCall(path, params)
		if ferr != nil {
			return nil, dataverse.NewValidationError("function parameters cannot be encoded", ferr).
				WithLogicalName(action.OperationName)
		}
		_, err = t.do(ctx, request{method: http.MethodGet, path: fnPath, query: query}, &resp)
	} else {
		_, err = t.do(ctx, request{method: http.MethodPost, path: path, body: params}, &resp)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = wire.Record{}
	}
	return resp, nil
}

// functionCall renders name(p1=@p1,...) with parameter aliases in the query.
func functionCall(path string, params map[string]any) (string, url.Values, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	query := url.Values{}
	args := make([]string, len(names))
	for i, name := range names {
		alias := "@p" + strconv.Itoa(i+1)
		args[i] = name + "=" + alias
		data, err := json.Marshal(params[name])
		if err != nil {
			return "", nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		query.Set(alias, string(data))
	}
	if len(names) == 0 {
		query = nil
	}
	return path + "(" + strings.Join(args, ",") + ")", query, nil
}
