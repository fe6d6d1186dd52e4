package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	registry   string
	offline    bool
	yes        bool
	jsonOutput bool
	verbose    bool

	version string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "dvctl",
		Short: "dvctl - typed bulk transitions for Dataverse",
		Long: `dvctl queries a Dataverse environment, asks for confirmation and then drives
each matching record through a state-transition request, one at a time.

Every value sent or received is checked against a schema registry produced by
the code generator, so mistyped attributes fail before any request is made.

Features:
  - Bounded FetchXML queries
  - Typed actions such as WinOpportunity
  - Starlark scripts for custom transitions
  - Rego guardrails evaluated before confirmation
  - Run history in SQLite
  - Offline mode backed by fixtures`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&opts.registry, "registry", "", "schema registry catalog (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&opts.offline, "offline", false, "serve calls from the in-memory fixture store")
	rootCmd.PersistentFlags().BoolVarP(&opts.yes, "yes", "y", false, "confirm bulk transitions without prompting")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newCloseOpportunitiesCommand(opts))
	rootCmd.AddCommand(newTransitionCommand(opts))
	rootCmd.AddCommand(newQueryCommand(opts))
	rootCmd.AddCommand(newRetrieveCommand(opts))
	rootCmd.AddCommand(newWhoAmICommand(opts))
	rootCmd.AddCommand(newRegistryCommand(opts))
	rootCmd.AddCommand(newPoliciesCommand(opts))
	rootCmd.AddCommand(newRunsCommand(opts))

	return rootCmd
}
