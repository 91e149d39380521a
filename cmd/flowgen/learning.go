package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"flowgen/internal/ui"
	"flowgen/internal/views"
)

func learningCmd() *cobra.Command {
	var source string
	l := &cobra.Command{
		Use:   "learning",
		Short: "Show learning statistics, recent runs and examples",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			page := views.NewLearning(rt.Client)
			page.Source = source
			if err := page.Load(cmd.Context()); err != nil {
				return err
			}
			return printJSONOrTable(cmd.OutOrStdout(), map[string]any{
				"stats":    page.Stats(),
				"logs":     page.Logs(),
				"examples": page.Examples(),
			}, page.Render)
		},
	}
	l.Flags().StringVar(&source, "source", "", "only show examples from this source")
	l.AddCommand(learningRunCmd())
	l.AddCommand(learningStatsCmd())
	l.AddCommand(learningLogsCmd())
	l.AddCommand(learningExamplesCmd())
	l.AddCommand(learningExampleCmd())
	return l
}

func learningRunCmd() *cobra.Command {
	var (
		wait  bool
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a learning cycle on the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			page := views.NewLearning(rt.Client)
			page.RefetchDelay = delay
			defer page.Close()
			refreshed := make(chan error, 1)
			page.OnRefresh(func(err error) { refreshed <- err })

			msg, err := page.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), ui.StyleSuccess.Render(msg))
			if !wait {
				return nil
			}
			fmt.Fprintln(cmd.ErrOrStderr(), ui.StyleMuted.Render(fmt.Sprintf("Reloading in %s...", delay)))
			select {
			case err := <-refreshed:
				if err != nil {
					return err
				}
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			return printJSONOrTable(cmd.OutOrStdout(), page.Stats(), page.Render)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the delayed reload and show the page")
	cmd.Flags().DurationVar(&delay, "delay", views.DefaultRefetchDelay, "delay before the reload")
	return cmd
}

func learningStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show learning statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			stats, err := rt.Client.LearningStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSONOrTable(cmd.OutOrStdout(), stats, func(w io.Writer) { views.RenderStats(w, stats) })
		},
	}
}

func learningLogsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List recent learning runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			logs, err := rt.Client.ListLearningLogs(cmd.Context(), 0, limit)
			if err != nil {
				return err
			}
			return printJSONOrTable(cmd.OutOrStdout(), logs, func(w io.Writer) { views.RenderLogs(w, logs) })
		},
	}
	cmd.Flags().IntVar(&limit, "limit", views.LearningLogLimit, "number of runs to list")
	return cmd
}

func learningExamplesCmd() *cobra.Command {
	var (
		source string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "examples",
		Short: "List learned examples",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			examples, err := rt.Client.ListExamples(cmd.Context(), 0, limit, source)
			if err != nil {
				return err
			}
			return printJSONOrTable(cmd.OutOrStdout(), examples, func(w io.Writer) { views.RenderExamples(w, examples) })
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "filter by source")
	cmd.Flags().IntVar(&limit, "limit", views.LearningExampleLimit, "number of examples to list")
	return cmd
}

func learningExampleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example <id>",
		Short: "Show one learned example with its workflow JSON",
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
			ex, err := rt.Client.GetExample(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSONOrTable(cmd.OutOrStdout(), ex, func(w io.Writer) { views.RenderExample(w, ex) })
		},
	}
}
