package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scottdurow/dataverseify/pkg/client"
	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/telemetry"
)

// Runner drives definitions through query, confirmation and sequential
// transition. A Runner holds no per-run state; concurrent runs are
// independent.
type Runner struct {
	client    client.ServiceClient
	confirmer Confirmer
	progress  Progress
	notifier  Notifier

	gate     Gate
	recorder Recorder
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithGate installs a policy gate evaluated before confirmation.
func WithGate(g Gate) Option {
	return func(r *Runner) { r.gate = g }
}

// WithRecorder persists run history.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithLogger sets the runner logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger.With().Str("component", "workflow").Logger() }
}

// WithMetrics records run and item outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer traces runs and items.
func WithTracer(t *telemetry.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// NewRunner creates a runner. Nil collaborators are replaced by silent ones,
// except the confirmer: without one every run is declined.
func NewRunner(c client.ServiceClient, confirmer Confirmer, progress Progress, notifier Notifier, opts ...Option) *Runner {
	r := &Runner{
		client:    c,
		confirmer: confirmer,
		progress:  progress,
		notifier:  notifier,
		logger:    zerolog.Nop(),
	}
	if r.confirmer == nil {
		r.confirmer = Decline
	}
	if r.progress == nil {
		r.progress = NopProgress{}
	}
	if r.notifier == nil {
		r.notifier = NopNotifier{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a definition. The returned result is never nil. The error
// is non-nil when the query, the policy gate, the confirmer or a request
// builder failed; a service failure while transitioning is reported in the
// result as StatePartiallyFailed with a nil error.
func (r *Runner) Run(ctx context.Context, def *Definition) (res *Result, err error) {
	res = &Result{
		RunID:     uuid.New().String(),
		State:     StateIdle,
		History:   []State{StateIdle},
		StartedAt: time.Now(),
	}
	if def != nil {
		res.Definition = def.Name
		if def.Query != nil {
			res.Entity = def.Query.Entity.Name
		}
	}
	if err := def.validate(); err != nil {
		res.advance(StateFailed)
		res.Err = err
		res.FinishedAt = time.Now()
		return res, err
	}

	msgs := def.Messages.withDefaults()
	logger := r.logger.With().Str("run_id", res.RunID).Str("definition", def.Name).Logger()

	ctx, span := r.tracer.StartRunSpan(ctx, res.RunID, def.Name)
	r.metrics.RecordRunStarted(def.Name)
	defer func() {
		res.FinishedAt = time.Now()
		if err != nil {
			res.Err = err
		}
		span.SetAttributes(telemetry.AttrRunState.String(string(res.State)))
		telemetry.End(span, res.Err)
		r.metrics.RecordRunCompleted(def.Name, string(res.State), res.FinishedAt.Sub(res.StartedAt))
		if res.Matched > 0 {
			r.record(ctx, logger, "run finished", func() error { return r.recorder.RunFinished(ctx, res) })
		}
		logger.Info().
			Str("state", string(res.State)).
			Int("matched", res.Matched).
			Int("succeeded", res.Succeeded).
			Msg("run finished")
	}()

	res.advance(StateQuerying)
	logger.Debug().Str("query", def.Query.String()).Msg("querying records")
	matches, err := r.client.RetrieveMultiple(ctx, def.Query)
	if err != nil {
		res.advance(StateFailed)
		return res, err
	}

	n := matches.Len()
	res.Matched = n
	if n == 0 {
		res.advance(StateNoMatches)
		r.notifier.Notify(msgs.NoMatchesTitle, msgs.NoMatchesText)
		return res, nil
	}
	res.advance(StateHasMatches)
	r.record(ctx, logger, "run started", func() error { return r.recorder.RunStarted(ctx, res) })

	if r.gate != nil {
		in := GateInput{
			Definition: def.Name,
			Entity:     def.Query.Entity.Name,
			Action:     def.Action,
			Count:      n,
			Top:        def.Query.Top,
		}
		if err := r.gate.Allow(ctx, in); err != nil {
			r.metrics.RecordPolicyDenial(def.Name)
			res.advance(StateFailed)
			return res, err
		}
	}

	res.advance(StateConfirming)
	ok, err := r.confirmer.Confirm(ctx, Prompt{
		Title: msgs.ConfirmTitle,
		Text:  msgs.ConfirmText(n),
		Count: n,
	})
	if err != nil {
		res.advance(StateFailed)
		return res, err
	}
	if !ok {
		res.advance(StateDeclined)
		return res, nil
	}
	res.advance(StateConfirmed)

	res.advance(StateTransitioning)
	r.progress.Start()
	for i, item := range matches.Entities {
		label := def.label(item)
		r.progress.Report(i+1, n, msgs.Progress(i+1, n, label))

		result, err := r.transition(ctx, def, res.RunID, i, item, label)
		res.Items = append(res.Items, result)
		r.record(ctx, logger, "item finished", func() error { return r.recorder.ItemFinished(ctx, res.RunID, result) })

		if err == nil {
			res.Succeeded++
			r.metrics.RecordItem(def.Name, "success")
			continue
		}
		r.metrics.RecordItem(def.Name, "failed")
		r.progress.Stop()

		if !dataverse.IsService(err) {
			logger.Error().Err(err).Int("index", i+1).Msg("transition could not be sent")
			res.advance(StateFailed)
			return res, err
		}

		logger.Warn().Err(err).Int("index", i+1).Int("succeeded", res.Succeeded).Msg("transition failed, stopping run")
		res.Err = err
		res.advance(StatePartiallyFailed)
		r.notifier.Notify(msgs.FailureTitle, msgs.FailureText(err))
		return res, nil
	}
	r.progress.Stop()

	res.advance(StateCompleted)
	r.notifier.Notify(msgs.SuccessTitle, msgs.SuccessText(res.Succeeded))
	return res, nil
}

// transition builds and sends the request for one record.
func (r *Runner) transition(ctx context.Context, def *Definition, runID string, i int, item *dataverse.Entity, label string) (ItemResult, error) {
	result := ItemResult{
		Index:   i + 1,
		Record:  item.ToReference(),
		Label:   label,
		Started: time.Now(),
	}
	ctx, span := r.tracer.StartItemSpan(ctx, runID, i+1, item.ID)

	req, err := def.Build(ctx, item)
	if err == nil {
		_, err = r.client.Execute(ctx, req)
	}
	result.Duration = time.Since(result.Started)
	result.Err = err
	telemetry.End(span, err)
	return result, err
}

// record calls the recorder when one is configured. Recorder failures are
// logged and do not stop the run.
func (r *Runner) record(ctx context.Context, logger zerolog.Logger, what string, fn func() error) {
	if r.recorder == nil {
		return
	}
	if err := fn(); err != nil {
		logger.Error().Err(err).Str("record", what).Msg("failed to record run history")
	}
}

func (d *Definition) validate() error {
	if d == nil {
		return dataverse.NewValidationError("definition is nil", nil).WithOperation("workflow")
	}
	return d.Validate()
}
