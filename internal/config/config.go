package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"

	envPrefix = "CHAT"
)

type GeminiConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	Backend    string `mapstructure:"backend"`
	Collection string `mapstructure:"collection"`
	Table      string `mapstructure:"table"`
	BoltPath   string `mapstructure:"bolt_path"`
	DSN        string `mapstructure:"dsn"`
}

type HTTPConfig struct {
	Addr              string `mapstructure:"addr"`
	MaxQuestionLength int    `mapstructure:"max_question_length"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the merged view of defaults, the optional config file and the
// environment.
type Config struct {
	Gemini            GeminiConfig `mapstructure:"gemini"`
	ParamPrefix       string       `mapstructure:"param_prefix"`
	SystemInstruction string       `mapstructure:"system_instruction"`
	Store             StoreConfig  `mapstructure:"store"`
	HTTP              HTTPConfig   `mapstructure:"http"`
	Log               LogConfig    `mapstructure:"log"`
	Theme             string       `mapstructure:"theme"`
}

var defaults = map[string]any{
	"gemini.base_url":          "https://generativelanguage.googleapis.com",
	"gemini.model":             "gemini-2.0-flash",
	"gemini.api_key":           "",
	"gemini.timeout":           "30s",
	"param_prefix":             "",
	"system_instruction":       "",
	"store.backend":            BackendDynamoDB,
	"store.collection":         "chatHistory",
	"store.table":              "",
	"store.bolt_path":          "",
	"store.dsn":                "",
	"http.addr":                ":8080",
	"http.max_question_length": 4000,
	"log.level":                "info",
	"log.format":               "json",
	"theme":                    "dark",
}

// Unprefixed variables kept for existing Lambda deployments.
var legacyEnv = map[string]string{
	"gemini.api_key":           "GEMINI_API_KEY",
	"store.table":              "STATE_TABLE",
	"param_prefix":             "PARAM_PREFIX",
	"http.max_question_length": "MAX_QUESTION_LENGTH",
}

// New returns a viper instance with defaults and environment bindings
// installed. Callers may bind command-line flags onto it before Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		_ = v.BindEnv(key, prefixed, legacy)
	}
	return v
}

// Load reads the optional config file at path (YAML or TOML, by extension)
// into v and decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = New()
	}
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Theme = strings.ToLower(strings.TrimSpace(c.Theme))
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	c.Gemini.APIKey = strings.TrimSpace(c.Gemini.APIKey)
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendDynamoDB:
		if strings.TrimSpace(c.Store.Table) == "" {
			errs = append(errs, errors.New("store.table is required for the dynamodb backend"))
		}
	case BackendBolt:
		if strings.TrimSpace(c.Store.BoltPath) == "" {
			errs = append(errs, errors.New("store.bolt_path is required for the bolt backend"))
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if strings.TrimSpace(c.Store.Collection) == "" {
		errs = append(errs, errors.New("store.collection must not be empty"))
	}
	if c.Gemini.APIKey == "" && c.ParamPrefix == "" {
		errs = append(errs, errors.New("gemini.api_key or param_prefix is required"))
	}
	if c.Gemini.Timeout <= 0 {
		errs = append(errs, errors.New("gemini.timeout must be positive"))
	}
	if c.HTTP.MaxQuestionLength <= 0 {
		errs = append(errs, errors.New("http.max_question_length must be positive"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	switch c.Theme {
	case "dark", "light":
	default:
		errs = append(errs, fmt.Errorf("unknown theme %q", c.Theme))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}
