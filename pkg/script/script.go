// Package script builds transition requests from Starlark programs.
//
// A script defines build(item), which receives one matched record and
// returns a dict naming the operation and its parameters:
//
//	action = "WinOpportunity"
//
//	def build(item):
//	    return {
//	        "logicalName": "WinOpportunity",
//	        "Status": 3,
//	        "OpportunityClose": entity("opportunityclose",
//	            subject = "Won: " + item.attributes["name"],
//	            opportunityid = item.ref),
//	    }
//
// The item is a struct with logicalName, id, ref and an attributes dict in
// which lookups are refs. The helpers ref(logicalName, id),
// entity(logicalName, **attrs) and party(role, ref = None, address = "")
// construct typed values. A "target" key in the returned dict binds the
// operation to a record. An optional label(item) names records in progress
// messages.
package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/scottdurow/dataverseify/pkg/client"
	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/fetch"
	"github.com/scottdurow/dataverseify/pkg/workflow"
)

const (
	// DefaultTimeout bounds one call into the script.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxSteps bounds the work of one call into the script.
	DefaultMaxSteps = 1_000_000

	keyLogicalName = "logicalName"
	keyTarget      = "target"
)

// Builder turns matched records into requests by calling a script.
type Builder struct {
	name     string
	action   string
	build    starlark.Callable
	label    starlark.Callable
	timeout  time.Duration
	maxSteps uint64
	logger   zerolog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithTimeout bounds each script call.
func WithTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithMaxSteps bounds the Starlark steps of each script call.
func WithMaxSteps(n uint64) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxSteps = n
		}
	}
}

// WithLogger receives script print output at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Builder) { b.logger = logger.With().Str("component", "script").Logger() }
}

// Load compiles the script at path.
func Load(path string, opts ...Option) (*Builder, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return Compile(filepath.Base(path), string(src), opts...)
}

// Compile executes the top level of a script and checks that it defines
// build. Top-level statements run once, without a deadline.
func Compile(name, src string, opts ...Option) (*Builder, error) {
	b := &Builder{
		name:     name,
		timeout:  DefaultTimeout,
		maxSteps: DefaultMaxSteps,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	globals, err := starlark.ExecFile(b.thread(), name, src, predeclared())
	if err != nil {
		return nil, b.invalid("failed to load script", err)
	}

	build, ok := globals["build"].(starlark.Callable)
	if !ok {
		return nil, b.invalid("script must define build(item)", nil)
	}
	b.build = build

	if v, ok := globals["label"]; ok {
		fn, ok := v.(starlark.Callable)
		if !ok {
			return nil, b.invalid("label must be a function", nil)
		}
		b.label = fn
	}
	if v, ok := globals["action"]; ok {
		s, ok := starlark.AsString(v)
		if !ok {
			return nil, b.invalid("action must be a string", nil)
		}
		b.action = s
	}
	return b, nil
}

// Name returns the script name.
func (b *Builder) Name() string {
	return b.name
}

// Action returns the operation the script declares, if any.
func (b *Builder) Action() string {
	return b.action
}

// Build calls build(item) and converts its result into a request.
func (b *Builder) Build(ctx context.Context, item *dataverse.Entity) (client.Request, error) {
	v, err := b.call(ctx, b.build, item)
	if err != nil {
		return client.Request{}, err
	}
	dict, ok := v.(*starlark.Dict)
	if !ok {
		return client.Request{}, b.invalid(fmt.Sprintf("build returned %s, want dict", v.Type()), nil)
	}
	out, err := fromStarlark(dict)
	if err != nil {
		return client.Request{}, b.invalid("build returned an unsupported value", err)
	}
	params := out.(map[string]any)

	req := client.Request{}
	name, ok := params[keyLogicalName].(string)
	if !ok || name == "" {
		return client.Request{}, b.invalid("build result needs a logicalName string", nil)
	}
	req.LogicalName = name
	delete(params, keyLogicalName)

	if t, ok := params[keyTarget]; ok {
		ref, ok := t.(dataverse.EntityReference)
		if !ok {
			return client.Request{}, b.invalid(fmt.Sprintf("target must be a ref, got %T", t), nil)
		}
		req.Target = &ref
		delete(params, keyTarget)
	}
	req.Parameters = params
	return req, nil
}

// Label calls label(item) when the script defines it, else returns the
// record's name attribute.
func (b *Builder) Label(item *dataverse.Entity) string {
	if b.label == nil {
		return item.String("name")
	}
	v, err := b.call(context.Background(), b.label, item)
	if err != nil {
		b.logger.Warn().Err(err).Str("id", item.ID).Msg("label failed")
		return item.ID
	}
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

// Definition wraps the script into a workflow definition over q.
func (b *Builder) Definition(name string, q *fetch.Query) *workflow.Definition {
	return &workflow.Definition{
		Name:   name,
		Query:  q,
		Action: b.action,
		Build:  b.Build,
		Label:  b.Label,
	}
}

func (b *Builder) call(ctx context.Context, fn starlark.Callable, item *dataverse.Entity) (starlark.Value, error) {
	arg, err := itemValue(item)
	if err != nil {
		return nil, b.invalid("failed to convert item", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	thread := b.thread()
	thread.SetMaxExecutionSteps(b.maxSteps)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(fmt.Sprintf("execution timeout after %v", b.timeout))
		case <-done:
		}
	}()

	v, err := starlark.Call(thread, fn, starlark.Tuple{arg}, nil)
	if err != nil {
		return nil, b.invalid(fmt.Sprintf("%s failed", fn.Name()), err)
	}
	return v, nil
}

func (b *Builder) thread() *starlark.Thread {
	return &starlark.Thread{
		Name: b.name,
		Print: func(_ *starlark.Thread, msg string) {
			b.logger.Debug().Str("script", b.name).Msg(msg)
		},
	}
}

func (b *Builder) invalid(msg string, err error) error {
	return dataverse.NewValidationError(msg, err).
		WithOperation("script").
		WithDetail("script", b.name)
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"ref":    starlark.NewBuiltin("ref", builtinRef),
		"entity": starlark.NewBuiltin("entity", builtinEntity),
		"party":  starlark.NewBuiltin("party", builtinParty),
	}
}
