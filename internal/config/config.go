package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"taskpilot/internal/task"
)

// DefaultPath is where the CLI looks for a config file.
const DefaultPath = "taskpilot.yaml"

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all taskpilot configuration.
type Config struct {
	LLM          LLMConfig          `yaml:"llm" toml:"llm"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	Store        StoreConfig        `yaml:"store" toml:"store"`
	Actor        task.Actor         `yaml:"actor" toml:"actor"`
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
}

// LLMConfig configures the model client.
type LLMConfig struct {
	Provider   string `yaml:"provider" toml:"provider"` // openai, gemini
	APIKey     string `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	Model      string `yaml:"model" toml:"model"`
	BaseURL    string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	Timeout    string `yaml:"timeout" toml:"timeout"`
	MaxRetries int    `yaml:"max_retries" toml:"max_retries"`
}

// ConversationConfig bounds each request.
type ConversationConfig struct {
	MaxTurns     int    `yaml:"max_turns" toml:"max_turns"`
	ToolTimeout  string `yaml:"tool_timeout" toml:"tool_timeout"`
	SystemPrompt string `yaml:"system_prompt,omitempty" toml:"system_prompt,omitempty"`
}

// StoreConfig selects the task store.
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite, sqlite3, memory
	Path   string `yaml:"path" toml:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string `yaml:"addr" toml:"addr"`
	ReadTimeout     string `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level      string          `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format     string          `yaml:"format" toml:"format"` // json, console
	File       string          `yaml:"file,omitempty" toml:"file,omitempty"`
	Categories map[string]bool `yaml:"categories,omitempty" toml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:   "openai",
			Model:      "gpt-4o-mini",
			Timeout:    "60s",
			MaxRetries: 3,
		},
		Conversation: ConversationConfig{
			MaxTurns:    6,
			ToolTimeout: "10s",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join("data", "taskpilot.db"),
		},
		Actor: task.DemoActor(),
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     "15s",
			WriteTimeout:    "90s",
			ShutdownTimeout: "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a YAML or TOML file (chosen by extension),
// then applies environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	case isTOML(path):
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration, as TOML when path ends in .toml and YAML otherwise.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := c.Marshal(isTOML(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Marshal encodes the configuration as TOML or YAML.
func (c *Config) Marshal(asTOML bool) ([]byte, error) {
	if asTOML {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		return buf.Bytes(), nil
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.LLM.APIKey != "" {
		cp.LLM.APIKey = "********"
	}
	return &cp
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadDotEnv loads KEY=VALUE files into the environment. Variables that are
// already set win, and missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env", ".env.local"}
	}
	for _, name := range paths {
		values, err := godotenv.Read(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		for k, v := range values {
			if _, exists := os.LookupEnv(k); exists {
				continue
			}
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	openaiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	geminiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	switch c.LLM.Provider {
	case "gemini":
		if geminiKey != "" {
			c.LLM.APIKey = geminiKey
		}
	case "openai":
		if openaiKey != "" {
			c.LLM.APIKey = openaiKey
		}
	case "":
		// Prefer OpenAI when both are present
		if openaiKey != "" {
			c.LLM.Provider, c.LLM.APIKey = "openai", openaiKey
		} else if geminiKey != "" {
			c.LLM.Provider, c.LLM.APIKey = "gemini", geminiKey
		}
	}

	if v := strings.TrimSpace(os.Getenv("TASKPILOT_MODEL")); v != "" {
		c.LLM.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("TASKPILOT_DB")); v != "" {
		c.Store.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("TASKPILOT_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("TASKPILOT_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
}

// HasAPIKey reports whether a model key is configured.
func (c *Config) HasAPIKey() bool {
	return strings.TrimSpace(c.LLM.APIKey) != ""
}

// APIKeyEnv names the environment variable that supplies the active provider's key.
func (c *Config) APIKeyEnv() string {
	if c.LLM.Provider == "gemini" {
		return "GEMINI_API_KEY"
	}
	return "OPENAI_API_KEY"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// GetToolTimeout returns the per-tool store timeout as a duration.
func (c *Config) GetToolTimeout() time.Duration {
	return parseDuration(c.Conversation.ToolTimeout, 10*time.Second)
}

// GetReadTimeout returns the HTTP read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second)
}

// GetWriteTimeout returns the HTTP write timeout.
func (c *Config) GetWriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 90*time.Second)
}

// GetShutdownTimeout returns how long the server waits for in-flight requests.
func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"openai", "gemini"}

// ValidDrivers lists all supported store drivers.
var ValidDrivers = []string{"sqlite", "sqlite3", "memory"}

// Validate checks the configuration. A missing API key is not an error here;
// commands that need the model check HasAPIKey themselves.
func (c *Config) Validate() error {
	var errs []error
	if !contains(ValidProviders, c.LLM.Provider) {
		errs = append(errs, fmt.Errorf("llm.provider %q (valid: %v)", c.LLM.Provider, ValidProviders))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries must be >= 0"))
	}
	if c.Conversation.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("conversation.max_turns must be >= 1"))
	}
	if !contains(ValidDrivers, c.Store.Driver) {
		errs = append(errs, fmt.Errorf("store.driver %q (valid: %v)", c.Store.Driver, ValidDrivers))
	}
	if c.Store.Driver != "memory" && strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, fmt.Errorf("store.path is required for driver %s", c.Store.Driver))
	}
	if strings.TrimSpace(c.Actor.ID) == "" {
		errs = append(errs, fmt.Errorf("actor.id is required"))
	}
	for name, v := range map[string]string{
		"llm.timeout":               c.LLM.Timeout,
		"conversation.tool_timeout": c.Conversation.ToolTimeout,
		"server.read_timeout":       c.Server.ReadTimeout,
		"server.write_timeout":      c.Server.WriteTimeout,
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
