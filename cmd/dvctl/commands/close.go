package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/scottdurow/dataverseify/pkg/workflow"
)

func newCloseOpportunitiesCommand(opts *globalOptions) *cobra.Command {
	var (
		accountID string
		top       int
	)

	cmd := &cobra.Command{
		Use:   "close-opportunities",
		Short: "Close an account's open opportunities as won",
		Long: `Query the open opportunities of an account and, after confirmation, close
each one as won with a WinOpportunity request.

Records are closed one at a time. The first failure stops the run; records
already closed stay closed.`,
		Example: `  # Close up to 10 open opportunities of an account
  dvctl close-opportunities --account 6f1c2a8e-5b1d-4f0a-9c3e-000000000001

  # Without prompting, against the fixture store
  dvctl close-opportunities --account 6f1c2a8e-5b1d-4f0a-9c3e-000000000001 --offline --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(accountID); err != nil {
				return fmt.Errorf("invalid account id %q: %w", accountID, err)
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			if top <= 0 {
				top = a.cfg.Workflow.Top
			}

			runner, err := a.newRunner(cmd.Context(), cmd)
			if err != nil {
				return err
			}

			a.logger.Info().
				Str("account", accountID).
				Int("top", top).
				Msg("Closing open opportunities")

			res, err := runner.Run(cmd.Context(), workflow.CloseOpportunities(accountID, top))
			return reportRun(cmd, opts, res, err)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account id whose opportunities are closed")
	cmd.Flags().IntVar(&top, "top", 0, "maximum number of opportunities to close (default from config)")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
