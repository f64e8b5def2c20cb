package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault_Validates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_ScannerRequiresEndpoints(t *testing.T) {
	cfg := Default()
	cfg.Scanner.Enabled = true
	require.ErrorContains(t, cfg.Validate(), "scanner.url")

	cfg.Scanner.URL = "http://scanner.local/scan"
	require.ErrorContains(t, cfg.Validate(), "scanner.callback_url")

	cfg.Scanner.CallbackURL = "http://registry.local/v1/scans/callback"
	require.ErrorContains(t, cfg.Validate(), "scanner.callback_secret")

	cfg.Scanner.CallbackSecret = "s3cret"
	require.NoError(t, cfg.Validate())
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	require.ErrorContains(t, cfg.Validate(), "log.level")
}

func TestValidate_TracingExporter(t *testing.T) {
	cfg := Default()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaeger"
	require.ErrorContains(t, cfg.Validate(), "tracing.exporter")

	cfg.Tracing.Exporter = "otlp"
	require.ErrorContains(t, cfg.Validate(), "otlp_endpoint")

	cfg.Tracing.OTLPEndpoint = "localhost:4317"
	require.NoError(t, cfg.Validate())
}

func TestSaveSigningSecret_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, SaveSigningSecret(path, "generated-secret"))

	var cfg Config
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, "generated-secret", cfg.Storage.SigningSecret)
}

func TestSaveSigningSecret_PreservesOtherSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	existing := "# registry settings\nserver:\n  addr: \":9090\"\nstorage:\n  root: /data/bundles\n"
	require.NoError(t, os.WriteFile(path, []byte(existing), 0600))

	require.NoError(t, SaveSigningSecret(path, "generated-secret"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# registry settings")

	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/data/bundles", cfg.Storage.Root)
	assert.Equal(t, "generated-secret", cfg.Storage.SigningSecret)
}

func TestSaveSigningSecret_OverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveSigningSecret(path, "first"))
	require.NoError(t, SaveSigningSecret(path, "second"))

	var cfg Config
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, "second", cfg.Storage.SigningSecret)
}
