package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"flowgen/internal/config"
	"flowgen/internal/logging"
	"flowgen/internal/session"
	sdk "flowgen/sdk/go"
)

// EnvPrefix is the prefix of environment overrides, e.g. FLOWGEN_API_URL.
const EnvPrefix = "FLOWGEN"

// Runtime is what a command needs to talk to the backend.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Client *sdk.Client
	Store  *session.Store
}

// LoadEnv loads dotenv files into the process environment without overriding variables that are
// already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ConfigureViper wires environment lookups for config keys: api.url reads FLOWGEN_API_URL.
func ConfigureViper(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// ResolveConfig loads the config file named by the "config" key (flowgen.yml in the working
// directory by default, optional) and applies flag and environment overrides on top.
func ResolveConfig(v *viper.Viper) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := v.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(".")
	}
	if err != nil {
		return nil, err
	}
	overrideString(v, "api.url", &cfg.API.URL)
	overrideString(v, "api.token", &cfg.API.Token)
	overrideString(v, "output.dir", &cfg.Output.Dir)
	overrideString(v, "log.level", &cfg.Log.Level)
	overrideString(v, "dev.addr", &cfg.Dev.Addr)
	overrideString(v, "dev.workspace", &cfg.Dev.Workspace)
	overrideString(v, "dev.jwt_secret", &cfg.Dev.JWTSecret)
	overrideString(v, "dev.learning_cron", &cfg.Dev.LearningCron)
	if v.IsSet("api.timeout") {
		cfg.API.Timeout = v.GetDuration("api.timeout")
	}
	if v.IsSet("dev.learning_enabled") {
		cfg.Dev.LearningEnabled = v.GetBool("dev.learning_enabled")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
}

// New builds the logger, API client and session store for cfg. Logs go to logOut.
func New(cfg *config.Config, logOut io.Writer) *Runtime {
	logger := logging.Setup(logOut, cfg.Log.Level)
	client := sdk.New(cfg.API.URL)
	client.BearerToken = cfg.API.Token
	client.Timeout = cfg.API.Timeout
	client.Logger = logging.WithModule("client")
	return &Runtime{
		Config: cfg,
		Logger: logger,
		Client: client,
		Store:  session.New(),
	}
}
