package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/workflow"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderEntities prints a collection as a table. With no columns, the union
// of attribute names is shown.
func renderEntities(w io.Writer, coll *dataverse.EntityCollection, columns []string) {
	if coll.Len() == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no records"))
		return
	}
	if len(columns) == 0 {
		columns = attributeNames(coll.Entities)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(append([]string{"id"}, columns...)...)
	for _, e := range coll.Entities {
		row := make([]string, 0, len(columns)+1)
		row = append(row, e.ID)
		for _, c := range columns {
			row = append(row, formatValue(e.Attributes[c]))
		}
		t.Row(row...)
	}
	fmt.Fprintln(w, t.String())

	if coll.MoreRecords {
		fmt.Fprintln(w, mutedStyle.Render("more records are available"))
	}
}

// renderEntity prints one record as attribute/value pairs.
func renderEntity(w io.Writer, e *dataverse.Entity) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s %s", e.LogicalName, e.ID)))
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("attribute", "value")
	for _, k := range e.Keys() {
		t.Row(k, formatValue(e.Attributes[k]))
	}
	fmt.Fprintln(w, t.String())
}

func attributeNames(entities []*dataverse.Entity) []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range entities {
		for k := range e.Attributes {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// runSummary is the JSON form of a workflow result.
type runSummary struct {
	RunID      string        `json:"runId"`
	Definition string        `json:"definition"`
	Entity     string        `json:"entity"`
	State      string        `json:"state"`
	Matched    int           `json:"matched"`
	Succeeded  int           `json:"succeeded"`
	Error      string        `json:"error,omitempty"`
	Items      []itemSummary `json:"items"`
}

type itemSummary struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Label    string `json:"label"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

func summarize(res *workflow.Result) runSummary {
	s := runSummary{
		RunID:      res.RunID,
		Definition: res.Definition,
		Entity:     res.Entity,
		State:      string(res.State),
		Matched:    res.Matched,
		Succeeded:  res.Succeeded,
		Items:      make([]itemSummary, 0, len(res.Items)),
	}
	if res.Err != nil {
		s.Error = res.Err.Error()
	}
	for _, it := range res.Items {
		is := itemSummary{
			Index:    it.Index,
			ID:       it.Record.ID,
			Label:    it.Label,
			Duration: it.Duration.String(),
		}
		if it.Err != nil {
			is.Error = it.Err.Error()
		}
		s.Items = append(s.Items, is)
	}
	return s
}

// reportRun prints the result and turns a partial failure into a non-zero
// exit.
func reportRun(cmd *cobra.Command, opts *globalOptions, res *workflow.Result, err error) error {
	if res != nil && opts.jsonOutput {
		if perr := printJSON(cmd.OutOrStdout(), summarize(res)); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if res.State == workflow.StatePartiallyFailed {
		return fmt.Errorf("run %s stopped after %d of %d records", res.RunID, res.Succeeded, res.Matched)
	}
	return nil
}
