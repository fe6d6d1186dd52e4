package client

import (
	"context"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/wire"
)

// Create inserts a record and returns its id. Every present attribute must be
// declared and fit its type; an id set on the entity is sent as the primary
// key.
func (c *Client) Create(ctx context.Context, entity *dataverse.Entity) (id string, err error) {
	if entity == nil {
		return "", dataverse.NewValidationError("entity is nil", nil).WithOperation(OpCreate)
	}
	ctx, k := c.begin(ctx, OpCreate, entity.LogicalName)
	defer func() { err = k.end(err) }()

	md, err := c.registry().Entity(entity.LogicalName)
	if err != nil {
		return "", err
	}
	rec, err := c.engine.EntityToWire(entity)
	if err != nil {
		return "", err
	}
	if entity.ID != "" {
		pk, err := recordID(OpCreate, md.LogicalName, entity.ID)
		if err != nil {
			return "", err
		}
		rec[md.PrimaryIDAttribute] = pk
	}

	id, err = c.transport.Create(ctx, md, rec)
	if err != nil {
		return "", serviceError(OpCreate, md.LogicalName, err)
	}
	return dataverse.NormalizeID(id), nil
}

// Update sends the present attributes of an entity. Attributes left out of
// the bag are not touched on the service.
func (c *Client) Update(ctx context.Context, entity *dataverse.Entity) (err error) {
	if entity == nil {
		return dataverse.NewValidationError("entity is nil", nil).WithOperation(OpUpdate)
	}
	ctx, k := c.begin(ctx, OpUpdate, entity.LogicalName)
	defer func() { err = k.end(err) }()

	md, err := c.registry().Entity(entity.LogicalName)
	if err != nil {
		return err
	}
	id, err := recordID(OpUpdate, md.LogicalName, entity.ID)
	if err != nil {
		return err
	}
	rec, err := c.engine.EntityToWire(entity)
	if err != nil {
		return err
	}
	delete(rec, md.PrimaryIDAttribute)

	if err := c.transport.Update(ctx, md, id, rec); err != nil {
		return serviceError(OpUpdate, md.LogicalName, err)
	}
	return nil
}

// Delete removes a record given as an EntityReference or an *Entity.
func (c *Client) Delete(ctx context.Context, record dataverse.Referencer) (err error) {
	var target dataverse.EntityReference
	if record != nil {
		target = record.ToReference()
	}
	ctx, k := c.begin(ctx, OpDelete, target.LogicalName)
	defer func() { err = k.end(err) }()

	if target.LogicalName == "" {
		return dataverse.NewValidationError("delete target requires a logical name", nil)
	}
	md, err := c.registry().Entity(target.LogicalName)
	if err != nil {
		return err
	}
	id, err := recordID(OpDelete, md.LogicalName, target.ID)
	if err != nil {
		return err
	}

	if err := c.transport.Delete(ctx, md, id); err != nil {
		return serviceError(OpDelete, md.LogicalName, err)
	}
	return nil
}

// Retrieve reads one record. The returned entity holds the requested columns
// that the schema declares, coerced to their typed form.
func (c *Client) Retrieve(ctx context.Context, logicalName, id string, columns ColumnSet) (entity *dataverse.Entity, err error) {
	ctx, k := c.begin(ctx, OpRetrieve, logicalName)
	defer func() { err = k.end(err) }()

	md, err := c.registry().Entity(logicalName)
	if err != nil {
		return nil, err
	}
	id, err = recordID(OpRetrieve, md.LogicalName, id)
	if err != nil {
		return nil, err
	}

	cols := declaredColumns(md, columns)
	rec, err := c.transport.Retrieve(ctx, md, id, cols)
	if err != nil {
		return nil, serviceError(OpRetrieve, md.LogicalName, err)
	}

	entity, err = c.engine.EntityFromWire(md.LogicalName, rec, cols)
	if err != nil {
		return nil, err
	}
	if entity.ID == "" {
		entity.ID = id
	}
	return entity, nil
}

// declaredColumns intersects a column set with the declared attributes. It
// returns nil for all columns.
func declaredColumns(md *metadata.EntityMetadata, columns ColumnSet) []string {
	if columns.All() {
		return nil
	}
	cols := make([]string, 0, len(columns.columns))
	seen := make(map[string]bool, len(columns.columns))
	for _, name := range columns.columns {
		if _, ok := md.AttributeTypes[name]; !ok || seen[name] {
			continue
		}
		seen[name] = true
		cols = append(cols, name)
	}
	return cols
}

// Associate links related records to a record through a declared
// relationship.
func (c *Client) Associate(ctx context.Context, logicalName, id, relationship string, related []dataverse.EntityReference) (err error) {
	ctx, k := c.begin(ctx, OpAssociate, logicalName)
	defer func() { err = k.end(err) }()

	md, recID, targets, err := c.relationship(OpAssociate, logicalName, id, relationship, related)
	if err != nil {
		return err
	}
	if err := c.transport.Associate(ctx, md, recID, relationship, targets); err != nil {
		return serviceError(OpAssociate, md.LogicalName, err)
	}
	return nil
}

// Disassociate removes links between a record and related records.
func (c *Client) Disassociate(ctx context.Context, logicalName, id, relationship string, related []dataverse.EntityReference) (err error) {
	ctx, k := c.begin(ctx, OpDisassociate, logicalName)
	defer func() { err = k.end(err) }()

	md, recID, targets, err := c.relationship(OpDisassociate, logicalName, id, relationship, related)
	if err != nil {
		return err
	}
	if err := c.transport.Disassociate(ctx, md, recID, relationship, targets); err != nil {
		return serviceError(OpDisassociate, md.LogicalName, err)
	}
	return nil
}

// relationship validates a relationship call: the navigation must be
// declared and every related reference must point at an allowed target.
func (c *Client) relationship(op, logicalName, id, relationship string, related []dataverse.EntityReference) (*metadata.EntityMetadata, string, []wire.Target, error) {
	md, err := c.registry().Entity(logicalName)
	if err != nil {
		return nil, "", nil, err
	}
	recID, err := recordID(op, md.LogicalName, id)
	if err != nil {
		return nil, "", nil, err
	}
	allowed, err := c.registry().AllowedTargets(md.LogicalName, relationship)
	if err != nil {
		return nil, "", nil, err
	}
	if len(related) == 0 {
		return nil, "", nil, dataverse.NewValidationError("at least one related record is required", nil).
			WithLogicalName(md.LogicalName).
			WithAttribute(relationship)
	}

	targets := make([]wire.Target, 0, len(related))
	for _, ref := range related {
		if !metadata.IsAllowedTarget(allowed, ref.LogicalName) {
			return nil, "", nil, dataverse.NewValidationError("related record is not an allowed target", nil).
				WithLogicalName(md.LogicalName).
				WithAttribute(relationship).
				WithDetail("target", ref.LogicalName)
		}
		targetMD, err := c.registry().Entity(ref.LogicalName)
		if err != nil {
			return nil, "", nil, err
		}
		refID, err := recordID(op, targetMD.LogicalName, ref.ID)
		if err != nil {
			return nil, "", nil, err
		}
		targets = append(targets, wire.Target{Entity: targetMD, ID: refID})
	}
	return md, recID, targets, nil
}
