package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// defaultConfigFile is looked for in the working directory when no config
// path is given.
const defaultConfigFile = "relay.yaml"

// Config holds everything the relay needs: the endpoint, the credential
// string and the invocation defaults, plus the serve-mode settings.
//
// Values come from an optional YAML file, overridden by environment
// variables (RELAY_* and LLM_API_SECRET). API keys are kept as the raw
// comma-separated string the user supplied; parsing and deduplication
// happen in ParseKeys.
type Config struct {
	// EndpointURL is the base URL of the OpenAI-compatible API, e.g.
	// "https://api.openai.com/v1".
	EndpointURL string `yaml:"endpoint_url"`
	// Model is the model name sent with every completion call.
	Model string `yaml:"model"`
	// APIKeys is the raw comma-separated credential string.
	APIKeys string `yaml:"api_keys"`
	// SystemPrompt is prepended to every conversation when set.
	SystemPrompt string `yaml:"system_prompt"`
	Temperature  float64 `yaml:"temperature"`
	// MaxAttempts caps the failover loop; zero means one attempt per key.
	MaxAttempts int `yaml:"max_attempts"`

	// ListenAddr is the serve-mode bind address.
	ListenAddr string `yaml:"listen_addr"`
	// APISecret signs the serve-mode bearer tokens.
	APISecret string `yaml:"api_secret"`
}

// LoadConfig reads configuration from the given YAML file (or relay.yaml in
// the working directory when path is empty, if present) and applies
// environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Temperature: 0.7,
		ListenAddr:  ":8080",
	}

	explicit := path != ""
	if path == "" {
		path = defaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case explicit:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	setString(&c.EndpointURL, "RELAY_ENDPOINT_URL")
	setString(&c.Model, "RELAY_MODEL")
	setString(&c.APIKeys, "RELAY_API_KEYS")
	setString(&c.SystemPrompt, "RELAY_SYSTEM_PROMPT")
	setString(&c.ListenAddr, "RELAY_LISTEN_ADDR")
	setString(&c.APISecret, "LLM_API_SECRET")

	if v := os.Getenv("RELAY_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Temperature = f
		}
	}
	if v := os.Getenv("RELAY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxAttempts = n
		}
	}
}

// LoadEnvFile loads environment variables from a .env file if present,
// trying the working directory first and then walking up the parent
// directories. Missing files are not an error.
func LoadEnvFile(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env from working directory")
		return
	}

	workDir, err := os.Getwd()
	if err != nil {
		logger.Warn("could not determine working directory", zap.Error(err))
		return
	}

	for dir := workDir; dir != "/"; dir = filepath.Dir(dir) {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			logger.Debug("loaded .env", zap.String("path", envPath))
			return
		}
	}

	logger.Debug("no .env file found, using existing environment")
}
