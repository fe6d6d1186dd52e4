package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/scottdurow/dataverseify/pkg/client"
	"github.com/scottdurow/dataverseify/pkg/fetch"
)

func newQueryCommand(opts *globalOptions) *cobra.Command {
	var fetchPath string

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a FetchXML query",
		Long: `Run a FetchXML query and print the typed results.

Only a single entity with attributes, orders and one flat filter is
supported. Link entities, nested filters and aggregates are rejected.`,
		Example: `  dvctl query --fetch open-opportunities.xml
  cat query.xml | dvctl query --fetch - --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, fetchPath)
			if err != nil {
				return fmt.Errorf("failed to read fetch expression: %w", err)
			}
			q, err := fetch.Parse(text)
			if err != nil {
				return err
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.newClient()
			if err != nil {
				return err
			}
			coll, err := c.RetrieveMultiple(cmd.Context(), q)
			if err != nil {
				return err
			}

			a.logger.Debug().Str("entity", q.Entity.Name).Int("records", coll.Len()).Msg("Query completed")

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), coll)
			}
			renderEntities(cmd.OutOrStdout(), coll, q.Columns())
			return nil
		},
	}

	cmd.Flags().StringVarP(&fetchPath, "fetch", "f", "", "FetchXML file, or - for stdin")
	_ = cmd.MarkFlagRequired("fetch")

	return cmd
}

func newRetrieveCommand(opts *globalOptions) *cobra.Command {
	var columns []string

	cmd := &cobra.Command{
		Use:   "retrieve <entity> <id>",
		Short: "Retrieve one record",
		Example: `  dvctl retrieve opportunity 1d4e2b7c-0000-0000-0000-000000000001
  dvctl retrieve account 6f1c2a8e-5b1d-4f0a-9c3e-000000000001 --columns name,creditlimit`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.newClient()
			if err != nil {
				return err
			}

			cs := client.AllColumns()
			if len(columns) > 0 {
				cs = client.Columns(columns...)
			}
			e, err := c.Retrieve(cmd.Context(), args[0], args[1], cs)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), e)
			}
			renderEntity(cmd.OutOrStdout(), e)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&columns, "columns", nil, "attributes to retrieve (default: all)")

	return cmd
}

func newWhoAmICommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the calling user id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.newClient()
			if err != nil {
				return err
			}
			resp, err := c.Execute(cmd.Context(), client.Request{LogicalName: "WhoAmI"})
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp["UserId"])
			return nil
		},
	}
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}
