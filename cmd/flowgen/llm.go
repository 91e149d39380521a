package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"flowgen/internal/ui"
	"flowgen/internal/views"
)

func llmCmd() *cobra.Command {
	l := &cobra.Command{Use: "llm", Short: "Manage LLM provider configurations"}
	l.AddCommand(llmListCmd())
	l.AddCommand(llmShowCmd())
	l.AddCommand(llmAddCmd())
	l.AddCommand(llmActivateCmd())
	l.AddCommand(llmDeleteCmd())
	return l
}

func llmListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			page := views.NewSettings(rt.Client)
			if err := page.Load(cmd.Context()); err != nil {
				return err
			}
			return printJSONOrTable(cmd.OutOrStdout(), page.Configs(), page.Render)
		},
	}
}

func llmShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one configuration",
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
			c, err := rt.Client.GetLLMConfig(cmd.Context(), id)
			if err != nil {
				return err
			}
			if c.APIKey != "" {
				c.APIKey = views.MaskKey(c.APIKey)
			}
			return printJSONOrTable(cmd.OutOrStdout(), c, func(w io.Writer) { views.RenderConfig(w, c) })
		},
	}
}

func llmAddCmd() *cobra.Command {
	form := views.NewConfigForm()
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a configuration",
		Long: `Adds a provider configuration. Without --name the form is filled in
interactively, starting from the values given as flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("name") {
				p := ui.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
				if form, err = promptConfigForm(p, form); err != nil {
					return err
				}
			}
			page := views.NewSettings(rt.Client)
			created, err := page.Add(cmd.Context(), form)
			if err != nil {
				return err
			}
			return printJSONOrTable(cmd.OutOrStdout(), created, func(w io.Writer) {
				fmt.Fprintln(w, ui.StyleSuccess.Render(fmt.Sprintf("Configuration '%s' created", created.Name)))
				page.Render(w)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&form.Name, "name", form.Name, "configuration name")
	f.StringVar(&form.Provider, "provider", form.Provider, "provider: openai, anthropic, ollama or custom")
	f.StringVar(&form.ModelName, "model", form.ModelName, "model name")
	f.StringVar(&form.APIKey, "api-key", "", "provider API key")
	f.StringVar(&form.APIURL, "api-url", "", "provider API URL (ollama and custom)")
	f.IntVar(&form.Temperature, "temperature", form.Temperature, "temperature in hundredths, 0-100")
	f.IntVar(&form.MaxTokens, "max-tokens", form.MaxTokens, "maximum tokens, 100-32000")
	f.BoolVar(&form.IsDefault, "default", false, "make this the default and active configuration")
	return cmd
}

// promptConfigForm asks for every field the form shows for the chosen provider.
func promptConfigForm(p *ui.Prompter, form views.ConfigForm) (views.ConfigForm, error) {
	var err error
	if form.Name, err = p.Line("Name", form.Name); err != nil {
		return form, err
	}
	provider, err := p.Choose("Provider ["+form.Provider+"]", views.Providers)
	if err != nil {
		return form, err
	}
	form.Provider = orDefault(provider, form.Provider)
	for _, field := range form.Fields() {
		switch field {
		case views.FieldAPIKey:
			form.APIKey, err = p.Line("API key", form.APIKey)
		case views.FieldAPIURL:
			form.APIURL, err = p.Line("API URL", form.APIURL)
		case views.FieldModel:
			form.ModelName, err = p.Line("Model", form.ModelName)
		case views.FieldTemperature:
			form.Temperature, err = promptInt(p, "Temperature (0-100)", form.Temperature)
		case views.FieldMaxTokens:
			form.MaxTokens, err = promptInt(p, "Max tokens", form.MaxTokens)
		case views.FieldDefault:
			form.IsDefault, err = p.Confirm("Use as default?", form.IsDefault)
		}
		if err != nil {
			return form, err
		}
	}
	return form, nil
}

func promptInt(p *ui.Prompter, label string, def int) (int, error) {
	s, err := p.Line(label, strconv.Itoa(def))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", label, s)
	}
	return n, nil
}

func llmActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <id>",
		Short: "Make a configuration the active one",
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
			page := views.NewSettings(rt.Client)
			if err := page.Activate(cmd.Context(), id); err != nil {
				return err
			}
			return printJSONOrTable(cmd.OutOrStdout(), page.Configs(), page.Render)
		},
	}
}

func llmDeleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a configuration",
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
			if !force {
				p := ui.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
				ok, err := p.Confirm(fmt.Sprintf("Delete configuration %d?", id), false)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			page := views.NewSettings(rt.Client)
			if err := page.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), ui.StyleSuccess.Render("Configuration deleted"))
			return printJSONOrTable(cmd.OutOrStdout(), page.Configs(), page.Render)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete without confirmation")
	return cmd
}
