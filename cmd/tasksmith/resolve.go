package main

import (
	"github.com/spf13/cobra"
)

func newResolveCmd(g *globalFlags) *cobra.Command {
	var rf requestFlags
	cmd := &cobra.Command{
		Use:   "resolve <label>",
		Short: "Resolve a task against an editor snapshot and print it as JSON",
		Long: `Resolve a task against an editor snapshot and print it as JSON.

The label may be the template label, the resolved label, or source:label
when several sources define the same label.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := rf.request()
			if err != nil {
				return err
			}
			application, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			s, err := application.Find(cmd.Context(), req, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s.Task)
		},
	}
	rf.register(cmd)
	return cmd
}
