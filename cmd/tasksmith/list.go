package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/tasksmith/internal/app"
	"github.com/dshills/tasksmith/internal/integration/task"
)

type listEntry struct {
	Source   string            `json:"source"`
	Key      string            `json:"key"`
	Template task.TaskTemplate `json:"template"`
}

func newListCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List task templates from every enabled source",
		Long:    `List task templates from every enabled source, most recently run first.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			coll := application.Templates(cmd.Context(), app.Request{})
			reportSourceErrors(cmd.ErrOrStderr(), coll.Errors)

			entries := make([]listEntry, 0, len(coll.Templates))
			for _, st := range coll.Templates {
				entries = append(entries, listEntry{
					Source:   st.Source,
					Key:      task.TemplateKey(st.Source, st.Template.Label),
					Template: st.Template,
				})
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return printTemplates(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print templates as JSON")
	return cmd
}

func printTemplates(w io.Writer, entries []listEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("No tasks found."))
		return nil
	}

	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d tasks", len(entries))))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tLABEL\tCOMMAND")
	for _, e := range entries {
		command := e.Template.Command
		if len(e.Template.Args) > 0 {
			command += " " + strings.Join(e.Template.Args, " ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Source, e.Template.Label, truncate(command, 60))
	}
	return tw.Flush()
}

func reportSourceErrors(w io.Writer, errs []task.SourceError) {
	for _, serr := range errs {
		fmt.Fprintln(w, warningStyle.Render("warning: "+serr.Error()))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
