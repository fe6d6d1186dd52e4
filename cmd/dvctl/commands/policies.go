package commands

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/scottdurow/dataverseify/pkg/policy"
)

func newPoliciesCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Inspect and try the run guardrails",
		Long: `Policies are Rego modules evaluated after the query and before confirmation.
Each defines deny rules over input.run (definition, entity, action, count,
top). Built-in policies bound the run size and require declared actions;
extra modules are loaded from the paths listed under "policies" in the config.`,
	}

	cmd.AddCommand(newPoliciesListCommand(opts))
	cmd.AddCommand(newPoliciesCheckCommand(opts))

	return cmd
}

func newPoliciesListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			gate, err := a.newGate(cmd.Context())
			if err != nil {
				return err
			}
			policies := gate.ListPolicies()

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, policies)
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				BorderStyle(mutedStyle).
				Headers("name", "severity", "enabled", "source", "description")
			for _, p := range policies {
				source := p.Source
				if p.Builtin {
					source = "builtin"
				}
				t.Row(p.Name, string(p.Severity), fmt.Sprint(p.Enabled), source, p.Description)
			}
			fmt.Fprintln(out, t.String())
			return nil
		},
	}
}

func newPoliciesCheckCommand(opts *globalOptions) *cobra.Command {
	var in policy.RunInput

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate the policies against a hypothetical run",
		Example: `  dvctl policies check --entity opportunity --action WinOpportunity --count 10 --top 10`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			gate, err := a.newGate(cmd.Context())
			if err != nil {
				return err
			}
			if in.Top == 0 {
				in.Top = a.cfg.Workflow.Top
			}

			decision, err := gate.Evaluate(cmd.Context(), policy.Input{Run: in})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				if err := printJSON(out, decision); err != nil {
					return err
				}
			} else {
				for _, v := range decision.Violations {
					fmt.Fprintf(out, "%s %s: %s\n", errorStyle.Render("deny"), v.Policy, v.Message)
				}
				for _, v := range decision.Warnings {
					fmt.Fprintf(out, "%s %s: %s\n", mutedStyle.Render("warn"), v.Policy, v.Message)
				}
				if decision.Allowed {
					fmt.Fprintln(out, titleStyle.Render("allowed"))
				}
			}
			if !decision.Allowed {
				return fmt.Errorf("run denied by %d policy violations", len(decision.Violations))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&in.Definition, "definition", "adhoc", "definition name")
	cmd.Flags().StringVar(&in.Entity, "entity", "", "queried entity")
	cmd.Flags().StringVar(&in.Action, "action", "", "transition action")
	cmd.Flags().IntVar(&in.Count, "count", 0, "number of matched records")
	cmd.Flags().IntVar(&in.Top, "top", 0, "run bound (default from config)")
	_ = cmd.MarkFlagRequired("entity")

	return cmd
}
