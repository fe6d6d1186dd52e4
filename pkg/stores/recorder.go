package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/workflow"
)

// Recorder writes workflow run history to a Store. It implements
// workflow.Recorder.
type Recorder struct {
	store Store
}

var _ workflow.Recorder = (*Recorder)(nil)

// NewRecorder creates a recorder over store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// RunStarted inserts the run row once the query has matched records.
func (r *Recorder) RunStarted(ctx context.Context, res *workflow.Result) error {
	run := &Run{
		ID:         res.RunID,
		Definition: res.Definition,
		Entity:     res.Entity,
		State:      string(res.State),
		Matched:    res.Matched,
		StartedAt:  res.StartedAt,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return err
	}
	return r.event(ctx, res.RunID, EventLevelInfo, fmt.Sprintf("matched %d %s records", res.Matched, res.Entity), nil)
}

// ItemFinished inserts one item row. Failures are also logged as events.
func (r *Recorder) ItemFinished(ctx context.Context, runID string, item workflow.ItemResult) error {
	row := &RunItem{
		RunID:     runID,
		Index:     item.Index,
		Entity:    item.Record.LogicalName,
		RecordID:  item.Record.ID,
		Label:     item.Label,
		Outcome:   ItemOutcomeSuccess,
		StartedAt: item.Started,
		Duration:  item.Duration,
	}
	if item.Err != nil {
		msg := item.Err.Error()
		row.Outcome = ItemOutcomeFailed
		row.Error = &msg
	}
	if err := r.store.AddRunItem(ctx, row); err != nil {
		return err
	}
	if item.Err == nil {
		return nil
	}
	return r.event(ctx, runID, EventLevelError, fmt.Sprintf("item %d failed", item.Index), errorDetails(item.Err))
}

// RunFinished stores the final state and counters.
func (r *Recorder) RunFinished(ctx context.Context, res *workflow.Result) error {
	run := &Run{
		ID:         res.RunID,
		State:      string(res.State),
		Matched:    res.Matched,
		Succeeded:  res.Succeeded,
		FinishedAt: &res.FinishedAt,
	}
	level := EventLevelInfo
	var details map[string]any
	if res.Err != nil {
		msg := res.Err.Error()
		run.Error = &msg
		level = EventLevelError
		details = errorDetails(res.Err)
	}
	if err := r.store.FinishRun(ctx, run); err != nil {
		return err
	}
	return r.event(ctx, res.RunID, level, fmt.Sprintf("run %s: %d of %d succeeded", res.State, res.Succeeded, res.Matched), details)
}

func (r *Recorder) event(ctx context.Context, runID string, level EventLevel, msg string, details map[string]any) error {
	event := &Event{RunID: &runID, Level: level, Message: msg}
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to encode event details: %w", err)
		}
		s := string(data)
		event.Details = &s
	}
	return r.store.AppendEvent(ctx, event)
}

func errorDetails(err error) map[string]any {
	details := map[string]any{"kind": string(dataverse.KindOf(err))}
	var dvErr *dataverse.Error
	if errors.As(err, &dvErr) {
		if dvErr.StatusCode != 0 {
			details["status"] = dvErr.StatusCode
		}
		if dvErr.Code != "" {
			details["code"] = dvErr.Code
		}
		if dvErr.Operation != "" {
			details["operation"] = dvErr.Operation
		}
	}
	return details
}
