package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"flowgen/internal/ui"
	"flowgen/internal/views"
)

func historyCmd() *cobra.Command {
	h := &cobra.Command{Use: "history", Short: "Browse past workflow requests"}
	h.AddCommand(historyListCmd())
	h.AddCommand(historyShowCmd())
	h.AddCommand(historyExportCmd())
	return h
}

func historyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflow requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			page := views.NewHistory(rt.Client, rt.Store)
			if err := page.Load(cmd.Context()); err != nil {
				return err
			}
			return printJSONOrTable(cmd.OutOrStdout(), page.Items(), page.Render)
		},
	}
}

func historyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one workflow request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			page := views.NewHistory(rt.Client, rt.Store)
			wf, err := page.Select(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSONOrTable(cmd.OutOrStdout(), wf, func(w io.Writer) { views.RenderDetail(w, wf) })
		},
	}
}

func historyExportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write the workflow JSON to n8n-workflow-<id>.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			page := views.NewHistory(rt.Client, rt.Store)
			wf, err := page.Select(cmd.Context(), id)
			if err != nil {
				return err
			}
			doc := views.Document(wf)
			if doc == "" {
				return fmt.Errorf("workflow %d has no generated JSON yet", id)
			}
			if !cmd.Flags().Changed("dir") {
				dir = rt.Config.Output.Dir
			}
			path, err := views.WriteDocument(dir, id, doc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.StyleSuccess.Render("Saved "+path))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory (defaults to output.dir)")
	return cmd
}
