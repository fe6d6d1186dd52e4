// Package client implements the service client: typed create, update,
// delete, retrieve, query, relationship and action operations over a
// transport that speaks wire records. Every call is checked against the
// schema registry and coerced before anything is sent.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/scottdurow/dataverseify/pkg/coerce"
	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/fetch"
	"github.com/scottdurow/dataverseify/pkg/metadata"
	"github.com/scottdurow/dataverseify/pkg/telemetry"
	"github.com/scottdurow/dataverseify/pkg/wire"
)

// Operation names used in errors, logs, spans and metrics.
const (
	OpCreate           = "create"
	OpUpdate           = "update"
	OpDelete           = "delete"
	OpRetrieve         = "retrieve"
	OpRetrieveMultiple = "retrieveMultiple"
	OpAssociate        = "associate"
	OpDisassociate     = "disassociate"
	OpExecute          = "execute"
)

// Transport carries wire records to the remote service. Implementations
// return *dataverse.Error service errors for remote failures; any other
// error is wrapped as one by the client.
type Transport interface {
	Create(ctx context.Context, md *metadata.EntityMetadata, rec wire.Record) (string, error)
	Update(ctx context.Context, md *metadata.EntityMetadata, id string, rec wire.Record) error
	Delete(ctx context.Context, md *metadata.EntityMetadata, id string) error
	Retrieve(ctx context.Context, md *metadata.EntityMetadata, id string, columns []string) (wire.Record, error)
	RetrieveMultiple(ctx context.Context, md *metadata.EntityMetadata, q *fetch.Query) (*wire.Page, error)
	Associate(ctx context.Context, md *metadata.EntityMetadata, id, relationship string, related []wire.Target) error
	Disassociate(ctx context.Context, md *metadata.EntityMetadata, id, relationship string, related []wire.Target) error
	Execute(ctx context.Context, req *wire.ActionRequest) (wire.Record, error)
}

// ServiceClient is the typed surface the workflow and the CLI depend on.
type ServiceClient interface {
	Create(ctx context.Context, entity *dataverse.Entity) (string, error)
	Update(ctx context.Context, entity *dataverse.Entity) error
	Delete(ctx context.Context, record dataverse.Referencer) error
	Retrieve(ctx context.Context, logicalName, id string, columns ColumnSet) (*dataverse.Entity, error)
	RetrieveMultiple(ctx context.Context, q *fetch.Query) (*dataverse.EntityCollection, error)
	Associate(ctx context.Context, logicalName, id, relationship string, related []dataverse.EntityReference) error
	Disassociate(ctx context.Context, logicalName, id, relationship string, related []dataverse.EntityReference) error
	Execute(ctx context.Context, req Request) (wire.Record, error)
}

// Request invokes a named action or function. Target binds the call to a
// record for bound operations.
type Request struct {
	LogicalName string
	Parameters  map[string]any
	Target      *dataverse.EntityReference
}

// Client is the default ServiceClient. It holds no per-call state.
type Client struct {
	transport Transport
	engine    *coerce.Engine
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
}

var _ ServiceClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger.With().Str("component", "client").Logger() }
}

// WithMetrics records call counts and latencies.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer wraps every call in a span.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// New creates a client over a transport and a coercion engine. A nil engine
// behaves like one without a registry.
func New(transport Transport, engine *coerce.Engine, opts ...Option) *Client {
	if engine == nil {
		engine = coerce.New(nil)
	}
	c := &Client{
		transport: transport,
		engine:    engine,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Engine returns the coercion engine used by the client.
func (c *Client) Engine() *coerce.Engine {
	return c.engine
}

func (c *Client) registry() *metadata.Registry {
	return c.engine.Registry()
}

// call tracks one instrumented operation.
type call struct {
	client *Client
	op     string
	entity string
	span   trace.Span
	timer  *telemetry.Timer
}

func (c *Client) begin(ctx context.Context, op, entity string) (context.Context, *call) {
	ctx, span := c.tracer.StartClientSpan(ctx, op, entity)
	return ctx, &call{client: c, op: op, entity: entity, span: span, timer: telemetry.NewTimer()}
}

// end records the outcome and returns err classified.
func (k *call) end(err error) error {
	duration := k.timer.Duration()
	k.client.metrics.RecordClientCall(k.op, k.entity, duration)

	if err != nil {
		// Transports may hand out shared errors, so the operation goes on a copy.
		if dvErr, ok := err.(*dataverse.Error); ok && dvErr.Operation == "" {
			err = dvErr.Clone().WithOperation(k.op)
		}
		kind := dataverse.KindOf(err)
		k.client.metrics.RecordClientError(k.op, string(kind))
		k.span.SetAttributes(telemetry.AttrErrorKind.String(string(kind)))
		k.client.logger.Debug().
			Err(err).
			Str("operation", k.op).
			Str("entity", k.entity).
			Dur("duration", duration).
			Msg("call failed")
	} else {
		k.client.logger.Debug().
			Str("operation", k.op).
			Str("entity", k.entity).
			Dur("duration", duration).
			Msg("call completed")
	}
	telemetry.End(k.span, err)
	return err
}

// serviceError classifies a transport failure. Errors the transport already
// classified pass through unchanged.
func serviceError(op, logicalName string, err error) error {
	var dvErr *dataverse.Error
	if errors.As(err, &dvErr) {
		return err
	}
	msg := "transport call failed"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		msg = "call was cancelled before the service replied"
	}
	return dataverse.NewServiceError(0, msg, err).
		WithOperation(op).
		WithLogicalName(logicalName)
}

// recordID validates and canonicalizes a record id.
func recordID(op, logicalName, id string) (string, error) {
	if id == "" {
		return "", dataverse.NewValidationError("record id is required", nil).
			WithOperation(op).
			WithLogicalName(logicalName)
	}
	parsed, err := uuid.Parse(dataverse.NormalizeID(id))
	if err != nil {
		return "", dataverse.NewValidationError(fmt.Sprintf("record id %q is not a GUID", id), err).
			WithOperation(op).
			WithLogicalName(logicalName)
	}
	return parsed.String(), nil
}
