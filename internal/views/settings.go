package views

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jedib0t/go-pretty/v6/table"

	"flowgen/internal/ui"
	sdk "flowgen/sdk/go"
)

// Providers lists the providers offered by the settings form.
var Providers = []string{sdk.ProviderOpenAI, sdk.ProviderAnthropic, sdk.ProviderOllama, sdk.ProviderCustom}

// Field names a settings form input.
type Field string

const (
	FieldName        Field = "name"
	FieldProvider    Field = "provider"
	FieldAPIKey      Field = "api_key"
	FieldAPIURL      Field = "api_url"
	FieldModel       Field = "model_name"
	FieldTemperature Field = "temperature"
	FieldMaxTokens   Field = "max_tokens"
	FieldDefault     Field = "is_default"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ConfigForm is the new-configuration form.
type ConfigForm struct {
	Name        string `validate:"required"`
	Provider    string `validate:"required,oneof=openai anthropic ollama custom"`
	APIKey      string
	APIURL      string `validate:"omitempty,url"`
	ModelName   string `validate:"required"`
	Temperature int    `validate:"gte=0,lte=100"`
	MaxTokens   int    `validate:"gte=100,lte=32000"`
	IsDefault   bool
}

// NewConfigForm returns a form with the default values.
func NewConfigForm() ConfigForm {
	return ConfigForm{
		Provider:    sdk.ProviderOpenAI,
		ModelName:   "gpt-4-turbo-preview",
		Temperature: 70,
		MaxTokens:   4000,
	}
}

// Fields returns the inputs shown for the form's provider. Ollama takes no API key;
// only ollama and custom take an API URL.
func (f ConfigForm) Fields() []Field {
	fields := []Field{FieldName, FieldProvider}
	if f.Provider != sdk.ProviderOllama {
		fields = append(fields, FieldAPIKey)
	}
	if f.Provider == sdk.ProviderOllama || f.Provider == sdk.ProviderCustom {
		fields = append(fields, FieldAPIURL)
	}
	return append(fields, FieldModel, FieldTemperature, FieldMaxTokens, FieldDefault)
}

// Shows reports whether field is part of the form for its provider.
func (f ConfigForm) Shows(field Field) bool {
	for _, it := range f.Fields() {
		if it == field {
			return true
		}
	}
	return false
}

// visible returns the form with the fields hidden for its provider cleared.
func (f ConfigForm) visible() ConfigForm {
	if !f.Shows(FieldAPIKey) {
		f.APIKey = ""
	}
	if !f.Shows(FieldAPIURL) {
		f.APIURL = ""
	}
	return f
}

// Validate checks the shape of the fields shown for the form's provider.
func (f ConfigForm) Validate() error {
	err := validate.Struct(f.visible())
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	name := strings.ToLower(fe.Field())
	switch fe.Field() {
	case "ModelName":
		name = "model"
	case "MaxTokens":
		name = "max tokens"
	case "APIURL":
		name = "api url"
	}
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", name, strings.Join(Providers, ", "))
	case "url":
		return name + " must be a valid URL"
	case "gte":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", name)
	}
}

// Config converts the form to a request body. Hidden fields are dropped.
func (f ConfigForm) Config() sdk.LLMConfig {
	cfg := sdk.LLMConfig{
		Name:        strings.TrimSpace(f.Name),
		Provider:    f.Provider,
		ModelName:   strings.TrimSpace(f.ModelName),
		Temperature: f.Temperature,
		MaxTokens:   f.MaxTokens,
		IsDefault:   f.IsDefault,
	}
	if f.Shows(FieldAPIKey) {
		cfg.APIKey = f.APIKey
	}
	if f.Shows(FieldAPIURL) {
		cfg.APIURL = f.APIURL
	}
	return cfg
}

// SettingsBackend manages provider configurations.
type SettingsBackend interface {
	ListLLMConfigs(ctx context.Context) ([]sdk.LLMConfig, error)
	CreateLLMConfig(ctx context.Context, cfg sdk.LLMConfig) (sdk.LLMConfig, error)
	ActivateLLMConfig(ctx context.Context, id int64) (sdk.Message, error)
	DeleteLLMConfig(ctx context.Context, id int64) (sdk.Message, error)
}

// Settings lists provider configurations and edits them.
type Settings struct {
	backend SettingsBackend
	configs []sdk.LLMConfig
	err     string
}

// NewSettings returns a settings page.
func NewSettings(backend SettingsBackend) *Settings {
	return &Settings{backend: backend}
}

// Load fetches all configurations.
func (s *Settings) Load(ctx context.Context) error {
	configs, err := s.backend.ListLLMConfigs(ctx)
	if err != nil {
		s.err = sdk.ErrorMessage(err, "Failed to load configurations")
		return err
	}
	s.err = ""
	s.configs = configs
	return nil
}

// Configs returns the loaded configurations.
func (s *Settings) Configs() []sdk.LLMConfig {
	return append([]sdk.LLMConfig(nil), s.configs...)
}

// Active returns the active configuration, if any.
func (s *Settings) Active() (sdk.LLMConfig, bool) {
	for _, c := range s.configs {
		if c.IsActive {
			return c, true
		}
	}
	return sdk.LLMConfig{}, false
}

// Add validates and creates a configuration, then reloads.
func (s *Settings) Add(ctx context.Context, form ConfigForm) (sdk.LLMConfig, error) {
	if err := form.Validate(); err != nil {
		return sdk.LLMConfig{}, err
	}
	created, err := s.backend.CreateLLMConfig(ctx, form.Config())
	if err != nil {
		return sdk.LLMConfig{}, err
	}
	return created, s.Load(ctx)
}

// Activate makes id the active configuration, then reloads.
func (s *Settings) Activate(ctx context.Context, id int64) error {
	if _, err := s.backend.ActivateLLMConfig(ctx, id); err != nil {
		return err
	}
	return s.Load(ctx)
}

// Delete removes id, then reloads.
func (s *Settings) Delete(ctx context.Context, id int64) error {
	if _, err := s.backend.DeleteLLMConfig(ctx, id); err != nil {
		return err
	}
	return s.Load(ctx)
}

// Render writes the configuration list.
func (s *Settings) Render(w io.Writer) {
	if s.err != "" {
		fmt.Fprintln(w, ui.StyleError.Render("error: "+s.err))
		return
	}
	if len(s.configs) == 0 {
		fmt.Fprintln(w, ui.StyleMuted.Render("No LLM configurations. Add one with `flowgen llm add`."))
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Name", "Provider", "Model", "Temperature", "Max tokens", "Active", "Default"})
	for _, c := range s.configs {
		tw.AppendRow(table.Row{c.ID, c.Name, c.Provider, c.ModelName, c.Temperature, c.MaxTokens, mark(c.IsActive), mark(c.IsDefault)})
	}
	tw.Render()
}

// RenderConfig writes one configuration. The API key is masked.
func RenderConfig(w io.Writer, c sdk.LLMConfig) {
	fmt.Fprintf(w, "%s #%d\n", ui.StyleTitle.Render(c.Name), c.ID)
	fmt.Fprintf(w, "  provider:    %s\n", c.Provider)
	fmt.Fprintf(w, "  model:       %s\n", c.ModelName)
	if c.APIURL != "" {
		fmt.Fprintf(w, "  api url:     %s\n", c.APIURL)
	}
	if c.APIKey != "" {
		fmt.Fprintf(w, "  api key:     %s\n", MaskKey(c.APIKey))
	}
	fmt.Fprintf(w, "  temperature: %d\n", c.Temperature)
	fmt.Fprintf(w, "  max tokens:  %d\n", c.MaxTokens)
	fmt.Fprintf(w, "  active:      %t\n", c.IsActive)
	fmt.Fprintf(w, "  default:     %t\n", c.IsDefault)
	if c.CreatedAt != "" {
		fmt.Fprintf(w, "  created:     %s\n", c.CreatedAt)
	}
}

// MaskKey keeps the last four characters of an API key.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", 8) + key[len(key)-4:]
}

func mark(b bool) string {
	if b {
		return ui.StyleSuccess.Render("✓")
	}
	return ""
}
