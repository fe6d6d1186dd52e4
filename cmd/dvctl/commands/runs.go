package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/scottdurow/dataverseify/pkg/stores"
)

func newRunsCommand(opts *globalOptions) *cobra.Command {
	var filter stores.RunFilter

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List bulk transition history",
		Example: `  dvctl runs
  dvctl runs --definition close-opportunities --state partially_failed
  dvctl runs show 3b0c9f1e-2f6a-4d7b-9c51-5d2f8f0e4a11`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := a.requireStore(cmd)
			if err != nil {
				return err
			}
			runs, err := store.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("no runs recorded"))
				return nil
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				BorderStyle(mutedStyle).
				Headers("id", "definition", "entity", "state", "matched", "succeeded", "started")
			for _, r := range runs {
				t.Row(r.ID, r.Definition, r.Entity, r.State,
					fmt.Sprint(r.Matched), fmt.Sprint(r.Succeeded),
					r.StartedAt.Local().Format(time.DateTime))
			}
			fmt.Fprintln(out, t.String())
			return nil
		},
	}

	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().StringVar(&filter.Definition, "definition", "", "only runs of this definition")
	cmd.Flags().StringVar(&filter.State, "state", "", "only runs in this final state")

	cmd.AddCommand(newRunsShowCommand(opts))
	cmd.AddCommand(newRunsPruneCommand(opts))

	return cmd
}

func newRunsShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its items and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := a.requireStore(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			run, err := store.GetRun(ctx, args[0])
			if errors.Is(err, stores.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}
			items, err := store.ListRunItems(ctx, run.ID)
			if err != nil {
				return err
			}
			events, err := store.GetEvents(ctx, &run.ID, nil, 0, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, map[string]any{
					"run":    run,
					"items":  items,
					"events": events,
				})
			}

			fmt.Fprintf(out, "%s %s\n", titleStyle.Render(run.Definition), mutedStyle.Render(run.ID))
			fmt.Fprintf(out, "entity:    %s\nstate:     %s\nmatched:   %d\nsucceeded: %d\nstarted:   %s\n",
				run.Entity, run.State, run.Matched, run.Succeeded, run.StartedAt.Local().Format(time.DateTime))
			if run.Error != nil {
				fmt.Fprintf(out, "error:     %s\n", errorStyle.Render(*run.Error))
			}

			if len(items) > 0 {
				t := table.New().
					Border(lipgloss.NormalBorder()).
					BorderStyle(mutedStyle).
					Headers("#", "record", "label", "outcome", "duration", "error")
				for _, it := range items {
					msg := ""
					if it.Error != nil {
						msg = *it.Error
					}
					t.Row(fmt.Sprint(it.Index), it.RecordID, it.Label, string(it.Outcome),
						it.Duration.Round(time.Millisecond).String(), msg)
				}
				fmt.Fprintln(out, t.String())
			}
			for _, ev := range events {
				fmt.Fprintf(out, "%s %-5s %s\n", mutedStyle.Render(ev.CreatedAt.Local().Format(time.TimeOnly)), ev.Level, ev.Message)
			}
			return nil
		},
	}
}

func newRunsPruneCommand(opts *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := a.requireStore(cmd)
			if err != nil {
				return err
			}
			n, err := store.DeleteRunsBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d runs\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the runs to delete")

	return cmd
}

func (a *app) requireStore(cmd *cobra.Command) (*stores.SQLiteStore, error) {
	store, err := a.openStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("run history is disabled in the config")
	}
	return store, nil
}
