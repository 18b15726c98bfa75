package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mukut03/agents/framework"
)

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "agent.yaml"

// Storage drivers understood by persistence.Open.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Environment overrides applied after the file is read.
const (
	EnvLLMEndpoint   = "AGENT_LLM_ENDPOINT"
	EnvLLMModel      = "AGENT_LLM_MODEL"
	EnvMaxIterations = "AGENT_MAX_ITERATIONS"
	EnvLogLevel      = "AGENT_LOG_LEVEL"
)

// Config matches agent.yaml.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Agent   AgentConfig   `yaml:"agent"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
}

// LLMConfig configures the Ollama client.
type LLMConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	Stream      bool          `yaml:"stream"`
}

// AgentConfig controls the orchestration loop.
type AgentConfig struct {
	MaxIterations     int    `yaml:"max_iterations"`
	MemoryMaxMessages int    `yaml:"memory_max_messages"`
	SystemPrompt      string `yaml:"system_prompt"`
	LenientRepair     bool   `yaml:"lenient_repair"`
}

// LoggingConfig describes log output.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	JSON          bool   `yaml:"json"`
	TelemetryFile string `yaml:"telemetry_file"`
	Debug         bool   `yaml:"llm_debug"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig selects the snapshot store.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Default returns the configuration used when agent.yaml is missing.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.1",
			Temperature: 0.1,
			Timeout:     3 * time.Minute,
			MaxRetries:  2,
		},
		Agent: AgentConfig{
			MaxIterations:     5,
			MemoryMaxMessages: framework.DefaultMaxMessages,
		},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Addr: ":8080"},
		Storage: StorageConfig{Driver: DriverFile, Path: filepath.Join(".agent", "sessions")},
	}
}

// Load reads path on top of Default and applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultFileName
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk, creating parent directories.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config missing")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLLMEndpoint); ok && v != "" {
		c.LLM.Endpoint = v
	}
	if v, ok := lookup(EnvLLMModel); ok && v != "" {
		c.LLM.Model = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvMaxIterations); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &framework.ConfigError{Field: "agent.max_iterations", Message: fmt.Sprintf("%s is not an integer: %q", EnvMaxIterations, v)}
		}
		c.Agent.MaxIterations = n
	}
	return nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Agent.MaxIterations <= 0:
		return &framework.ConfigError{Field: "agent.max_iterations", Message: "must be positive"}
	case c.Agent.MemoryMaxMessages <= 0:
		return &framework.ConfigError{Field: "agent.memory_max_messages", Message: "must be positive"}
	case c.LLM.MaxTokens < 0:
		return &framework.ConfigError{Field: "llm.max_tokens", Message: "must not be negative"}
	case c.LLM.MaxRetries < 0:
		return &framework.ConfigError{Field: "llm.max_retries", Message: "must not be negative"}
	case c.LLM.Timeout < 0:
		return &framework.ConfigError{Field: "llm.timeout", Message: "must not be negative"}
	}
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
	default:
		return &framework.ConfigError{Field: "storage.driver", Message: fmt.Sprintf("unknown driver %q", c.Storage.Driver)}
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return &framework.ConfigError{Field: "storage.path", Message: "required"}
	}
	return nil
}

// LLMOptions converts the llm section into per-request options.
func (c *Config) LLMOptions() *framework.LLMOptions {
	return &framework.LLMOptions{
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		MaxTokens:   c.LLM.MaxTokens,
	}
}
