package client

import (
	"context"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/fetch"
	"github.com/scottdurow/dataverseify/pkg/metadata"
)

// RetrieveMultiple runs a query. Projected, ordered and filtered attributes
// must be declared; condition literals are coerced to their attribute types
// before the query is sent. The result never exceeds the query's top.
func (c *Client) RetrieveMultiple(ctx context.Context, q *fetch.Query) (result *dataverse.EntityCollection, err error) {
	if q == nil {
		return nil, dataverse.NewValidationError("query is nil", nil).WithOperation(OpRetrieveMultiple)
	}
	ctx, k := c.begin(ctx, OpRetrieveMultiple, q.Entity.Name)
	defer func() { err = k.end(err) }()

	if err := q.Validate(); err != nil {
		return nil, err
	}
	md, err := c.registry().Entity(q.Entity.Name)
	if err != nil {
		return nil, err
	}
	prepared, err := c.prepareQuery(md, q)
	if err != nil {
		return nil, err
	}

	page, err := c.transport.RetrieveMultiple(ctx, md, prepared)
	if err != nil {
		return nil, serviceError(OpRetrieveMultiple, md.LogicalName, err)
	}

	records := page.Records
	more := page.MoreRecords
	if prepared.Top > 0 && len(records) > prepared.Top {
		records = records[:prepared.Top]
		more = true
	}

	result = &dataverse.EntityCollection{
		Entities:         make([]*dataverse.Entity, 0, len(records)),
		MoreRecords:      more,
		PagingCookie:     page.PagingCookie,
		TotalRecordCount: page.TotalRecordCount,
	}
	cols := prepared.Columns()
	for _, rec := range records {
		entity, err := c.engine.EntityFromWire(md.LogicalName, rec, cols)
		if err != nil {
			return nil, err
		}
		result.Entities = append(result.Entities, entity)
	}
	return result, nil
}

// FetchXML parses a fetch expression and runs it.
func (c *Client) FetchXML(ctx context.Context, text string) (*dataverse.EntityCollection, error) {
	q, err := fetch.Parse(text)
	if err != nil {
		return nil, err
	}
	return c.RetrieveMultiple(ctx, q)
}

// prepareQuery checks attribute names and returns a copy of the query with
// canonical condition literals.
func (c *Client) prepareQuery(md *metadata.EntityMetadata, q *fetch.Query) (*fetch.Query, error) {
	undeclared := func(attr string) error {
		if _, ok := md.AttributeTypes[attr]; ok {
			return nil
		}
		return dataverse.NewSchemaNotFoundError("unknown attribute").
			WithLogicalName(md.LogicalName).
			WithAttribute(attr).
			WithOperation(OpRetrieveMultiple)
	}

	out := q.Clone()
	out.Entity.Name = md.LogicalName
	for _, a := range out.Entity.Attributes {
		if err := undeclared(a.Name); err != nil {
			return nil, err
		}
	}
	for _, o := range out.Entity.Orders {
		if err := undeclared(o.Attribute); err != nil {
			return nil, err
		}
	}
	if out.Entity.Filter == nil {
		return out, nil
	}
	for i, cond := range out.Entity.Filter.Conditions {
		if err := undeclared(cond.Attribute); err != nil {
			return nil, err
		}
		if !cond.Operator.TakesValue() {
			continue
		}
		v, err := c.engine.LiteralToWire(md.LogicalName, cond.Attribute, cond.Value)
		if err != nil {
			return nil, err
		}
		out.Entity.Filter.Conditions[i].Value = v
	}
	return out, nil
}
