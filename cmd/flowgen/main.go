package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"flowgen/internal/app"
	"flowgen/internal/config"
	sdk "flowgen/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "flowgen",
	Short: "Generate n8n workflows from plain-language requirements",
	Long: `flowgen turns a plain-language requirement into an importable n8n workflow.
Core concepts:
- Requirement: what the workflow should do, in your own words.
- Analysis: the backend lists the components it found and asks about what is missing.
- Development spec: a markdown plan you review, edit or approve before any JSON is written.
- Test & optimize: the generated document is checked and normalized; the final JSON is what you export.
- History: every request is kept by the backend; show or export any of them later.
- LLM configurations: provider settings used by the backend; exactly one is active.
- Learning: the backend ingests example workflows and uses them as references.
- Dev backend: 'flowgen dev serve' runs a local backend for trying things out.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := app.LoadEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", errorMessage(err))
		os.Exit(1)
	}
}

func initConfig() {
	app.ConfigureViper(viper.GetViper())
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default ./"+config.FileName+")")
	flags.String("api-url", "", "backend base URL")
	flags.String("token", "", "bearer token sent to the backend")
	flags.Duration("timeout", 0, "per-request timeout")
	flags.Bool("json", false, "output JSON")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("api.url", flags.Lookup("api-url"))
	_ = viper.BindPFlag("api.token", flags.Lookup("token"))
	_ = viper.BindPFlag("api.timeout", flags.Lookup("timeout"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(newCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(llmCmd())
	rootCmd.AddCommand(learningCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(devCmd())
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage " + config.FileName}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var dir string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(dir)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to write the config file to")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetViper())
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.API.Token != "" {
				shown.API.Token = "***"
			}
			if shown.Dev.JWTSecret != "" {
				shown.Dev.JWTSecret = "***"
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), shown)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(shown)
		},
	}
}

// --- helpers ---

func loadRuntime() (*app.Runtime, error) {
	cfg, err := app.ResolveConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return app.New(cfg, os.Stderr), nil
}

// printJSONOrTable writes v as JSON when --json is set, otherwise calls render.
func printJSONOrTable(w io.Writer, v any, render func(io.Writer)) error {
	if viper.GetBool("json") {
		return printJSON(w, v)
	}
	render(w)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

// errorMessage prefers the backend's detail over the transport error text.
func errorMessage(err error) string {
	return sdk.ErrorMessage(err, err.Error())
}
