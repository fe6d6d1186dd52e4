package stores

import (
	"context"
	"time"
)

// ItemOutcome is the result of one attempted transition.
type ItemOutcome string

const (
	ItemOutcomeSuccess ItemOutcome = "success"
	ItemOutcomeFailed  ItemOutcome = "failed"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one workflow run.
type Run struct {
	ID         string     `json:"id"`
	Definition string     `json:"definition"`
	Entity     string     `json:"entity"`
	State      string     `json:"state"`
	Matched    int        `json:"matched"`
	Succeeded  int        `json:"succeeded"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunItem is one attempted transition of a run.
type RunItem struct {
	RunID     string        `json:"run_id"`
	Index     int           `json:"index"`
	Entity    string        `json:"entity"`
	RecordID  string        `json:"record_id"`
	Label     string        `json:"label"`
	Outcome   ItemOutcome   `json:"outcome"`
	Error     *string       `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Event represents an append-only log event
type Event struct {
	ID        string     `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	CreatedAt time.Time  `json:"created_at"`
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Definition string
	State      string
	Limit      int
	Offset     int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRunsBefore(ctx context.Context, before time.Time) (int64, error)

	// Item operations
	AddRunItem(ctx context.Context, item *RunItem) error
	ListRunItems(ctx context.Context, runID string) ([]*RunItem, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
