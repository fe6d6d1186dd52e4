package commands

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scottdurow/dataverseify/pkg/metadata"
)

func newRegistryCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the schema registry",
		Long: `Inspect the schema registry catalog produced by the code generator.

The catalog declares every entity, attribute type, lookup target, option set
and action the client may use.`,
	}

	cmd.AddCommand(newRegistryValidateCommand(opts))
	cmd.AddCommand(newRegistryInspectCommand(opts))
	cmd.AddCommand(newRegistryWatchCommand(opts))

	return cmd
}

func newRegistryValidateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a registry catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			path := a.cfg.Registry
			if len(args) > 0 {
				path = args[0]
			}
			reg, err := metadata.LoadFile(path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid: %d entities, %d actions\n",
				path, len(reg.EntityNames()), len(reg.ActionNames()))
			return nil
		},
	}
}

func newRegistryInspectCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [entity|action]",
		Short: "List the registry or show one entity or action",
		Example: `  dvctl registry inspect
  dvctl registry inspect opportunity
  dvctl registry inspect WinOpportunity --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			reg, err := a.loadRegistry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				if opts.jsonOutput {
					return printJSON(out, map[string][]string{
						"entities": reg.EntityNames(),
						"actions":  reg.ActionNames(),
					})
				}
				fmt.Fprintln(out, titleStyle.Render("Entities"))
				for _, n := range reg.EntityNames() {
					fmt.Fprintf(out, "  %s\n", n)
				}
				fmt.Fprintln(out, titleStyle.Render("Actions"))
				for _, n := range reg.ActionNames() {
					fmt.Fprintf(out, "  %s\n", n)
				}
				return nil
			}

			name := args[0]
			var v any
			if md, err := reg.Entity(name); err == nil {
				if !opts.jsonOutput {
					renderEntityMetadata(cmd, md)
					return nil
				}
				v = md
			} else if am, aerr := reg.Action(name); aerr == nil {
				v = am
			} else {
				return err
			}

			if opts.jsonOutput {
				return printJSON(out, v)
			}
			data, err := yaml.Marshal(v)
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func renderEntityMetadata(cmd *cobra.Command, md *metadata.EntityMetadata) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", titleStyle.Render(md.LogicalName),
		mutedStyle.Render(fmt.Sprintf("(%s, id %s)", md.CollectionName, md.PrimaryIDAttribute)))

	names := make([]string, 0, len(md.AttributeTypes))
	for n := range md.AttributeTypes {
		names = append(names, n)
	}
	sort.Strings(names)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("attribute", "type", "targets / options")
	for _, n := range names {
		detail := ""
		switch tag := md.AttributeTypes[n]; {
		case tag.IsRelationship():
			detail = fmt.Sprint(md.Navigation[n])
		case tag == metadata.TypeOptionset:
			for _, o := range md.OptionSets[n] {
				detail += fmt.Sprintf("%d=%s ", o.Value, o.Label)
			}
		}
		t.Row(n, string(md.AttributeTypes[n]), detail)
	}
	fmt.Fprintln(out, t.String())
}

func newRegistryWatchCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-validate the registry whenever it changes",
		Long: `Watch the registry catalog and report whether each saved version is valid.
Useful while regenerating the catalog. Stops on interrupt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			if _, err := a.loadRegistry(); err != nil {
				a.logger.Warn().Err(err).Msg("Current registry is invalid")
			}

			w := metadata.NewWatcher(a.logger)
			defer w.Close()

			out := cmd.OutOrStdout()
			err = w.Watch(cmd.Context(), a.cfg.Registry, func(reg *metadata.Registry, err error) {
				if err != nil {
					fmt.Fprintln(out, errorStyle.Render("invalid: "+err.Error()))
					return
				}
				fmt.Fprintf(out, "valid: %d entities, %d actions\n", len(reg.EntityNames()), len(reg.ActionNames()))
			})
			if err != nil {
				return err
			}

			<-cmd.Context().Done()
			return nil
		},
	}
}
