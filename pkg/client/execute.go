package client

import (
	"context"

	"github.com/scottdurow/dataverseify/pkg/wire"
)

// Execute invokes an action or function. Parameters are validated and
// coerced against the registered descriptor; unknown or missing parameters
// fail before anything is sent. The decoded response record is returned.
func (c *Client) Execute(ctx context.Context, req Request) (resp wire.Record, err error) {
	ctx, k := c.begin(ctx, OpExecute, req.LogicalName)
	defer func() { err = k.end(err) }()

	payload, err := c.engine.BuildActionPayload(req.LogicalName, req.Parameters, req.Target)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("action", payload.Action.OperationName).
		Int("parameters", len(payload.Parameters)).
		Msg("executing action")

	resp, err = c.transport.Execute(ctx, payload)
	if err != nil {
		return nil, serviceError(OpExecute, req.LogicalName, err)
	}
	if resp == nil {
		resp = wire.Record{}
	}
	return resp, nil
}
