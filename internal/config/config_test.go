package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	require.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	require.Equal(t, 30*time.Second, cfg.Gemini.Timeout)
	require.Equal(t, BackendDynamoDB, cfg.Store.Backend)
	require.Equal(t, "chatHistory", cfg.Store.Collection)
	require.Equal(t, 4000, cfg.HTTP.MaxQuestionLength)
	require.Equal(t, "dark", cfg.Theme)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CHAT_STORE_BACKEND", "Bolt")
	t.Setenv("CHAT_STORE_BOLT_PATH", "/tmp/chat.db")
	t.Setenv("CHAT_GEMINI_TIMEOUT", "5s")
	t.Setenv("GEMINI_API_KEY", " secret ")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	require.Equal(t, BackendBolt, cfg.Store.Backend)
	require.Equal(t, "/tmp/chat.db", cfg.Store.BoltPath)
	require.Equal(t, 5*time.Second, cfg.Gemini.Timeout)
	require.Equal(t, "secret", cfg.Gemini.APIKey)
	require.NoError(t, cfg.Validate())
}

func TestLoad_LegacyLambdaEnvironment(t *testing.T) {
	t.Setenv("STATE_TABLE", "chat-state")
	t.Setenv("PARAM_PREFIX", "/chat/prod/")
	t.Setenv("MAX_QUESTION_LENGTH", "300")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	require.Equal(t, "chat-state", cfg.Store.Table)
	require.Equal(t, "/chat/prod", cfg.ParamPrefix)
	require.Equal(t, 300, cfg.HTTP.MaxQuestionLength)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "chat.yaml", `
gemini:
  model: gemini-1.5-pro
  api_key: k
store:
  backend: postgres
  dsn: postgres://localhost/chat
log:
  format: console
theme: light
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)
	require.Equal(t, "gemini-1.5-pro", cfg.Gemini.Model)
	require.Equal(t, BackendPostgres, cfg.Store.Backend)
	require.Equal(t, "postgres://localhost/chat", cfg.Store.DSN)
	require.Equal(t, "console", cfg.Log.Format)
	require.Equal(t, "light", cfg.Theme)
	require.Equal(t, "chatHistory", cfg.Store.Collection)
	require.NoError(t, cfg.Validate())
}

func TestLoad_TOMLFileWithEnvOverride(t *testing.T) {
	path := writeFile(t, "chat.toml", `
system_instruction = "Answer briefly."

[store]
backend = "bolt"
bolt_path = "from-file.db"
collection = "work"
`)
	t.Setenv("CHAT_STORE_COLLECTION", "personal")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	require.Equal(t, "Answer briefly.", cfg.SystemInstruction)
	require.Equal(t, "from-file.db", cfg.Store.BoltPath)
	require.Equal(t, "personal", cfg.Store.Collection)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load(New(), "")
		require.NoError(t, err)
		cfg.Store.Table = "chat"
		cfg.Gemini.APIKey = "k"
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"unknown backend":   func(c *Config) { c.Store.Backend = "redis" },
		"missing table":     func(c *Config) { c.Store.Table = "" },
		"missing bolt path": func(c *Config) { c.Store.Backend = BackendBolt },
		"missing dsn":       func(c *Config) { c.Store.Backend = BackendPostgres },
		"no key source":     func(c *Config) { c.Gemini.APIKey = "" },
		"empty collection":  func(c *Config) { c.Store.Collection = " " },
		"zero timeout":      func(c *Config) { c.Gemini.Timeout = 0 },
		"zero max length":   func(c *Config) { c.HTTP.MaxQuestionLength = 0 },
		"bad log format":    func(c *Config) { c.Log.Format = "xml" },
		"bad theme":         func(c *Config) { c.Theme = "neon" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	withPrefix := valid()
	withPrefix.Gemini.APIKey = ""
	withPrefix.ParamPrefix = "/chat"
	require.NoError(t, withPrefix.Validate())
}
