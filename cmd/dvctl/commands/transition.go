package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scottdurow/dataverseify/pkg/fetch"
	"github.com/scottdurow/dataverseify/pkg/script"
)

func newTransitionCommand(opts *globalOptions) *cobra.Command {
	var (
		fetchPath  string
		scriptPath string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "transition",
		Short: "Run a scripted bulk transition",
		Long: `Select records with a FetchXML query and transition each one with the request
built by a Starlark script.

The script defines build(item), returning a dict with "logicalName" naming the
action and its parameters. It may also define label(item) for progress
messages and an "action" global used by policies.

  action = "WinOpportunity"

  def label(item):
      return item.attributes.get("name", item.id)

  def build(item):
      return {
          "logicalName": "WinOpportunity",
          "Status": 3,
          "OpportunityClose": entity("opportunityclose",
              subject = "Won",
              opportunityid = item.ref),
      }

A query without top is bounded by workflow.top from the config.`,
		Example: `  dvctl transition --fetch open.xml --script win.star
  dvctl transition --fetch open.xml --script win.star --name quarter-close --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(fetchPath)
			if err != nil {
				return fmt.Errorf("failed to read fetch file: %w", err)
			}
			q, err := fetch.Parse(string(text))
			if err != nil {
				return err
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			if q.Top == 0 {
				q.Top = a.cfg.Workflow.Top
			}

			b, err := script.Load(scriptPath,
				script.WithTimeout(a.cfg.Workflow.ScriptTimeout),
				script.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}
			if name == "" {
				name = b.Name()
			}

			runner, err := a.newRunner(cmd.Context(), cmd)
			if err != nil {
				return err
			}

			a.logger.Info().
				Str("definition", name).
				Str("entity", q.Entity.Name).
				Str("action", b.Action()).
				Int("top", q.Top).
				Msg("Starting scripted transition")

			res, err := runner.Run(cmd.Context(), b.Definition(name, q))
			return reportRun(cmd, opts, res, err)
		},
	}

	cmd.Flags().StringVar(&fetchPath, "fetch", "", "FetchXML file selecting the records")
	cmd.Flags().StringVar(&scriptPath, "script", "", "Starlark file building each request")
	cmd.Flags().StringVar(&name, "name", "", "definition name recorded in history (default: script file name)")
	_ = cmd.MarkFlagRequired("fetch")
	_ = cmd.MarkFlagRequired("script")

	return cmd
}
