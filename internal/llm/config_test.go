package llm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoint_url: https://api.example.com/v1
model: gpt-4o
api_keys: "key-a,key-b"
temperature: 0.2
max_attempts: 5
listen_addr: ":9090"
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1", cfg.EndpointURL)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "key-a,key-b", cfg.APIKeys)
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, ":9090", cfg.ListenAddr)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoint_url: https://file.example.com/v1
model: file-model
`), 0o600))

	t.Setenv("RELAY_ENDPOINT_URL", "https://env.example.com/v1")
	t.Setenv("RELAY_API_KEYS", "env-key")
	t.Setenv("RELAY_TEMPERATURE", "0.9")
	t.Setenv("LLM_API_SECRET", "env-secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com/v1", cfg.EndpointURL)
	assert.Equal(t, "file-model", cfg.Model, "file value survives when env is unset")
	assert.Equal(t, "env-key", cfg.APIKeys)
	assert.Equal(t, 0.9, cfg.Temperature)
	assert.Equal(t, "env-secret", cfg.APISecret)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no relay.yaml here

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Temperature)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Zero(t, cfg.MaxAttempts)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
