package workflow

import (
	"context"

	"github.com/rs/zerolog"
)

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, p Prompt) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, p Prompt) (bool, error) {
	return f(ctx, p)
}

// Accept confirms every run.
var Accept Confirmer = ConfirmFunc(func(context.Context, Prompt) (bool, error) { return true, nil })

// Decline declines every run.
var Decline Confirmer = ConfirmFunc(func(context.Context, Prompt) (bool, error) { return false, nil })

// NopProgress discards progress.
type NopProgress struct{}

func (NopProgress) Start()                  {}
func (NopProgress) Report(int, int, string) {}
func (NopProgress) Stop()                   {}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string) {}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify logs the notification at info level.
func (n LogNotifier) Notify(title, text string) {
	n.Logger.Info().Str("title", title).Msg(text)
}

// LogProgress writes progress reports to a logger.
type LogProgress struct {
	Logger zerolog.Logger
}

func (p LogProgress) Start() {}

// Report logs one progress step.
func (p LogProgress) Report(i, n int, message string) {
	p.Logger.Info().Int("item", i).Int("total", n).Msg(message)
}

func (p LogProgress) Stop() {}
