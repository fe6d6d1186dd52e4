package stores

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/workflow"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "runs.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check should fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("migrate should fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	// A second migration is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to re-run migrations: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "run_items", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		Definition: "close-opportunities",
		Entity:     "opportunity",
		State:      "has_matches",
		Matched:    2,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if run.ID == "" || run.StartedAt.IsZero() {
		t.Fatalf("CreateRun did not fill defaults: %+v", run)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Definition != run.Definition || got.Matched != 2 || got.FinishedAt != nil || got.Error != nil {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(run.StartedAt) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, run.StartedAt)
	}

	msg := "[service] timeout"
	finish := &Run{ID: run.ID, State: "partially_failed", Matched: 2, Succeeded: 1, Error: &msg}
	if err := store.FinishRun(ctx, finish); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}
	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.State != "partially_failed" || got.Succeeded != 1 || got.FinishedAt == nil || got.Error == nil || *got.Error != msg {
		t.Errorf("finished run = %+v", got)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.FinishRun(ctx, &Run{ID: "missing", State: "completed"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, def := range []string{"close-opportunities", "transition", "close-opportunities"} {
		run := &Run{
			Definition: def,
			Entity:     "opportunity",
			State:      "completed",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
		}
		if i == 1 {
			run.State = "declined"
		}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter RunFilter
		want   []time.Time
	}{
		{name: "all newest first", filter: RunFilter{}, want: []time.Time{base.Add(2 * time.Hour), base.Add(time.Hour), base}},
		{name: "by definition", filter: RunFilter{Definition: "close-opportunities"}, want: []time.Time{base.Add(2 * time.Hour), base}},
		{name: "by state", filter: RunFilter{State: "declined"}, want: []time.Time{base.Add(time.Hour)}},
		{name: "limit and offset", filter: RunFilter{Limit: 1, Offset: 1}, want: []time.Time{base.Add(time.Hour)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := store.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("failed to list runs: %v", err)
			}
			if len(runs) != len(tt.want) {
				t.Fatalf("got %d runs, want %d", len(runs), len(tt.want))
			}
			for i, run := range runs {
				if !run.StartedAt.Equal(tt.want[i]) {
					t.Errorf("run %d started at %v, want %v", i, run.StartedAt, tt.want[i])
				}
			}
		})
	}
}

func TestRunItemsAndEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{Definition: "close-opportunities", Entity: "opportunity", State: "transitioning"}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	msg := "timeout"
	items := []*RunItem{
		{RunID: run.ID, Index: 2, Entity: "opportunity", RecordID: "b", Outcome: ItemOutcomeFailed, Error: &msg, StartedAt: time.Now(), Duration: 1500 * time.Millisecond},
		{RunID: run.ID, Index: 1, Entity: "opportunity", RecordID: "a", Label: "Alpha", Outcome: ItemOutcomeSuccess, StartedAt: time.Now(), Duration: 20 * time.Millisecond},
	}
	for _, item := range items {
		if err := store.AddRunItem(ctx, item); err != nil {
			t.Fatalf("failed to add item: %v", err)
		}
	}
	if err := store.AddRunItem(ctx, items[0]); err == nil {
		t.Error("expected error for duplicate item index")
	}
	if err := store.AddRunItem(ctx, &RunItem{RunID: "missing", Index: 1, Entity: "x", RecordID: "y", Outcome: ItemOutcomeSuccess, StartedAt: time.Now()}); err == nil {
		t.Error("expected foreign key error for unknown run")
	}

	got, err := store.ListRunItems(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list items: %v", err)
	}
	if len(got) != 2 || got[0].Index != 1 || got[0].Label != "Alpha" || got[1].Outcome != ItemOutcomeFailed {
		t.Fatalf("items = %+v", got)
	}
	if got[1].Duration != 1500*time.Millisecond || got[1].Error == nil || *got[1].Error != "timeout" {
		t.Errorf("failed item = %+v", got[1])
	}

	for _, level := range []EventLevel{EventLevelInfo, EventLevelError} {
		if err := store.AppendEvent(ctx, &Event{RunID: &run.ID, Level: level, Message: string(level) + " event"}); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}
	if err := store.AppendEvent(ctx, &Event{Level: EventLevelInfo, Message: "global"}); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	events, err := store.GetEvents(ctx, &run.ID, nil, 0, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 2 || events[0].Message != "info event" {
		t.Errorf("run events = %+v", events)
	}
	errLevel := EventLevelError
	events, err = store.GetEvents(ctx, nil, &errLevel, 0, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 || events[0].Level != EventLevelError {
		t.Errorf("error events = %+v", events)
	}
	all, err := store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil || len(all) != 3 {
		t.Errorf("all events = %d, err = %v", len(all), err)
	}
}

func TestDeleteRunsBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := &Run{Definition: "d", Entity: "opportunity", State: "completed", StartedAt: time.Now().Add(-48 * time.Hour)}
	recent := &Run{Definition: "d", Entity: "opportunity", State: "completed"}
	for _, run := range []*Run{old, recent} {
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}
	if err := store.AddRunItem(ctx, &RunItem{RunID: old.ID, Index: 1, Entity: "opportunity", RecordID: "a", Outcome: ItemOutcomeSuccess, StartedAt: old.StartedAt}); err != nil {
		t.Fatalf("failed to add item: %v", err)
	}

	n, err := store.DeleteRunsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteRunsBefore() error: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d runs, want 1", n)
	}
	if _, err := store.GetRun(ctx, recent.ID); err != nil {
		t.Errorf("recent run deleted: %v", err)
	}
	items, err := store.ListRunItems(ctx, old.ID)
	if err != nil || len(items) != 0 {
		t.Errorf("items of deleted run = %v, err = %v", items, err)
	}
}

func TestRecorder(t *testing.T) {
	store := setupTestStore(t)
	rec := NewRecorder(store)
	ctx := context.Background()

	res := &workflow.Result{
		RunID:      "7d0e4f0e-1111-4c7a-9a52-000000000001",
		Definition: "close-opportunities",
		Entity:     "opportunity",
		State:      workflow.StateHasMatches,
		Matched:    2,
		StartedAt:  time.Now(),
	}
	if err := rec.RunStarted(ctx, res); err != nil {
		t.Fatalf("RunStarted() error: %v", err)
	}

	timeout := dataverse.NewServiceError(504, "timeout", nil).WithCode("0x80040216").WithOperation("execute")
	for i, itemErr := range []error{nil, timeout} {
		item := workflow.ItemResult{
			Index:    i + 1,
			Record:   dataverse.NewEntityReference("opportunity", fmt.Sprintf("6f1c2a8e-5b1d-4f0a-9c3e-%012d", i+1)),
			Label:    "Opportunity",
			Err:      itemErr,
			Started:  time.Now(),
			Duration: time.Millisecond,
		}
		if err := rec.ItemFinished(ctx, res.RunID, item); err != nil {
			t.Fatalf("ItemFinished() error: %v", err)
		}
	}

	res.State = workflow.StatePartiallyFailed
	res.Succeeded = 1
	res.Err = timeout
	res.FinishedAt = time.Now()
	if err := rec.RunFinished(ctx, res); err != nil {
		t.Fatalf("RunFinished() error: %v", err)
	}

	run, err := store.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("GetRun() error: %v", err)
	}
	if run.State != "partially_failed" || run.Succeeded != 1 || run.Matched != 2 || run.Error == nil {
		t.Errorf("run = %+v", run)
	}

	items, err := store.ListRunItems(ctx, res.RunID)
	if err != nil {
		t.Fatalf("ListRunItems() error: %v", err)
	}
	if len(items) != 2 || items[0].Outcome != ItemOutcomeSuccess || items[1].Outcome != ItemOutcomeFailed {
		t.Errorf("items = %+v", items)
	}

	errLevel := EventLevelError
	events, err := store.GetEvents(ctx, &res.RunID, &errLevel, 0, 0)
	if err != nil {
		t.Fatalf("GetEvents() error: %v", err)
	}
	if len(events) != 2 || events[0].Details == nil {
		t.Fatalf("error events = %+v", events)
	}
	want := `{"code":"0x80040216","kind":"service","operation":"execute","status":504}`
	if *events[0].Details != want {
		t.Errorf("details = %s, want %s", *events[0].Details, want)
	}
}
