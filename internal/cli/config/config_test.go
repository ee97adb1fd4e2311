package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	cfg, err := LoadConfig(path, "", nil)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(dir, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, filepath.Join(dir, DefaultObjectsDir), cfg.ObjectsDir)
	assert.Equal(t, filepath.Join(dir, DefaultPipeline), cfg.Pipeline)
	assert.Equal(t, DefaultEnv, cfg.Environment)
	assert.Equal(t, DefaultParallelism, cfg.Parallelism)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: prod
parallelism: 8
docs_dir: notebooks
`), 0o644))

	cfg, err := LoadConfig(path, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.Equal(t, filepath.Join(dir, "notebooks"), cfg.DocsDir)
	assert.Equal(t, path, GetConfigFileUsed())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environments:
  prod:
    state_path: prod-state.db
`), 0o644))

	cfg, err := LoadConfig(path, "prod", nil)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Environment)
	assert.Equal(t, filepath.Join(dir, "prod-state.db"), cfg.StatePath)
}

func TestLoadConfigEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	t.Setenv("LOOM_ENVIRONMENT", "staging")
	cfg, err := LoadConfig(path, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Environment)
}

func TestLoadConfigFlagsWin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("parallelism: 2\n"), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("parallelism", 0, "")
	require.NoError(t, flags.Set("parallelism", "16"))

	cfg, err := LoadConfig(path, "", flags)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Parallelism)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Parallelism: 0, Environment: "dev", OutputFormat: "text"}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Parallelism: 1, Environment: "", OutputFormat: "text"}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Parallelism: 1, Environment: "dev", OutputFormat: "xml"}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Parallelism: 1, Environment: "dev", OutputFormat: "json"}
	assert.NoError(t, cfg.Validate())
}
