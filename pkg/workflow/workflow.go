package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scottdurow/dataverseify/pkg/client"
	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/fetch"
)

// Prompt is what the confirmer shows before any record is touched.
type Prompt struct {
	Title string
	Text  string
	Count int
}

// Confirmer asks the operator to accept a bulk transition.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

// Progress displays which record is being transitioned.
type Progress interface {
	Start()
	Report(i, n int, message string)
	Stop()
}

// Notifier shows the outcome of a run.
type Notifier interface {
	Notify(title, text string)
}

// GateInput describes a run about to be confirmed.
type GateInput struct {
	Definition string `json:"definition"`
	Entity     string `json:"entity"`
	Action     string `json:"action"`
	Count      int    `json:"count"`
	Top        int    `json:"top"`
}

// Gate may veto a run after the query and before confirmation. A veto is a
// validation error.
type Gate interface {
	Allow(ctx context.Context, in GateInput) error
}

// Recorder persists run history.
type Recorder interface {
	RunStarted(ctx context.Context, res *Result) error
	ItemFinished(ctx context.Context, runID string, item ItemResult) error
	RunFinished(ctx context.Context, res *Result) error
}

// BuildFunc produces the request that transitions one matched record.
type BuildFunc func(ctx context.Context, item *dataverse.Entity) (client.Request, error)

// Definition describes one kind of bulk transition.
type Definition struct {
	// Name identifies the definition in logs, metrics and run history.
	Name string

	// Query selects the records to transition. Top must be positive.
	Query *fetch.Query

	// Action is the operation Build invokes, for policy checks.
	Action string

	// Build creates the request for one record.
	Build BuildFunc

	// Label names a record in progress messages. Defaults to its "name".
	Label func(item *dataverse.Entity) string

	Messages Messages
}

// Messages are the texts shown to the operator.
type Messages struct {
	NoMatchesTitle string
	NoMatchesText  string
	ConfirmTitle   string
	ConfirmText    func(n int) string
	Progress       func(i, n int, label string) string
	SuccessTitle   string
	SuccessText    func(n int) string
	FailureTitle   string
	FailureText    func(err error) string
}

// DefaultMessages are used for any message a definition leaves empty.
var DefaultMessages = Messages{
	NoMatchesTitle: "",
	NoMatchesText:  "There are no matching records!",
	ConfirmTitle:   "Continue?",
	ConfirmText: func(n int) string {
		return fmt.Sprintf("Are you sure you want to update the %d matching records?", n)
	},
	Progress: func(i, n int, label string) string {
		return fmt.Sprintf("Updating record %d of %d - '%s', Please Wait...", i, n, label)
	},
	SuccessTitle: "Success",
	SuccessText: func(n int) string {
		return fmt.Sprintf("%d records updated", n)
	},
	FailureTitle: "Error",
	FailureText: func(err error) string {
		return fmt.Sprintf("Could not update records:\n%s\n", message(err))
	},
}

func (m Messages) withDefaults() Messages {
	d := DefaultMessages
	if m.NoMatchesTitle != "" {
		d.NoMatchesTitle = m.NoMatchesTitle
	}
	if m.NoMatchesText != "" {
		d.NoMatchesText = m.NoMatchesText
	}
	if m.ConfirmTitle != "" {
		d.ConfirmTitle = m.ConfirmTitle
	}
	if m.ConfirmText != nil {
		d.ConfirmText = m.ConfirmText
	}
	if m.Progress != nil {
		d.Progress = m.Progress
	}
	if m.SuccessTitle != "" {
		d.SuccessTitle = m.SuccessTitle
	}
	if m.SuccessText != nil {
		d.SuccessText = m.SuccessText
	}
	if m.FailureTitle != "" {
		d.FailureTitle = m.FailureTitle
	}
	if m.FailureText != nil {
		d.FailureText = m.FailureText
	}
	return d
}

// message is the remote message of a service error, or the error text.
func message(err error) string {
	var dvErr *dataverse.Error
	if errors.As(err, &dvErr) && dvErr.Message != "" {
		return dvErr.Message
	}
	return err.Error()
}

// Validate checks that the definition can run.
func (d *Definition) Validate() error {
	invalid := func(msg string) error {
		return dataverse.NewValidationError(msg, nil).WithOperation("workflow").WithLogicalName(d.Name)
	}
	switch {
	case d.Name == "":
		return invalid("definition requires a name")
	case d.Query == nil:
		return invalid("definition requires a query")
	case d.Query.Top <= 0:
		return invalid("definition query must be bounded by a positive top")
	case d.Build == nil:
		return invalid("definition requires a request builder")
	}
	return d.Query.Validate()
}

func (d *Definition) label(item *dataverse.Entity) string {
	if d.Label != nil {
		return d.Label(item)
	}
	return item.String("name")
}

// ItemResult is the outcome of one attempted transition.
type ItemResult struct {
	Index    int                       `json:"index"`
	Record   dataverse.EntityReference `json:"record"`
	Label    string                    `json:"label"`
	Err      error                     `json:"-"`
	Started  time.Time                 `json:"started"`
	Duration time.Duration             `json:"duration"`
}

// Succeeded reports whether the transition went through.
func (i ItemResult) Succeeded() bool {
	return i.Err == nil
}

// Result is the outcome of a run.
type Result struct {
	RunID      string       `json:"runId"`
	Definition string       `json:"definition"`
	Entity     string       `json:"entity"`
	State      State        `json:"state"`
	History    []State      `json:"history"`
	Matched    int          `json:"matched"`
	Succeeded  int          `json:"succeeded"`
	Err        error        `json:"-"`
	Items      []ItemResult `json:"items"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// advance moves the run to the next state.
func (r *Result) advance(to State) {
	if !CanTransition(r.State, to) {
		panic(fmt.Sprintf("workflow: illegal transition %s -> %s", r.State, to))
	}
	r.State = to
	r.History = append(r.History, to)
}
