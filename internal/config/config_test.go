package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CODELOOM_CONFIG_DIR", t.TempDir())
	t.Setenv("CODELOOM_CONFIG", "")
	t.Setenv("CODELOOM_DATA_DIR", "")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 4747, cfg.Port)
	assert.Equal(t, 5000, cfg.GapTimeoutMs)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_ProjectFileWithComments(t *testing.T) {
	t.Setenv("CODELOOM_CONFIG_DIR", t.TempDir())
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "codeloom.jsonc"), `{
		// default model
		"model": "anthropic/claude-sonnet",
		"port": 9090,
	}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet", cfg.Model)
	assert.Equal(t, 9090, cfg.Port)
}

func TestLoad_ProjectOverridesGlobal(t *testing.T) {
	globalDir := t.TempDir()
	t.Setenv("CODELOOM_CONFIG_DIR", globalDir)
	writeFile(t, filepath.Join(globalDir, "codeloom.json"), `{"model": "global/model", "port": 1111}`)

	projectDir := t.TempDir()
	writeFile(t, filepath.Join(projectDir, "codeloom.json"), `{"model": "project/model"}`)

	cfg, err := Load(projectDir)
	require.NoError(t, err)
	assert.Equal(t, "project/model", cfg.Model)
	assert.Equal(t, 1111, cfg.Port, "unset project fields keep the global value")
}

func TestLoad_EnvInterpolation(t *testing.T) {
	t.Setenv("CODELOOM_CONFIG_DIR", t.TempDir())
	t.Setenv("TEST_LOOM_KEY", "secret-key")

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "codeloom.json"),
		`{"provider": {"anthropic": {"apiKey": "{env:TEST_LOOM_KEY}"}}}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "secret-key", cfg.Provider["anthropic"].APIKey)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CODELOOM_CONFIG_DIR", t.TempDir())
	t.Setenv("CODELOOM_MODEL", "openai/gpt-x")
	t.Setenv("CODELOOM_PORT", "7777")

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "codeloom.json"), `{"model": "file/model", "port": 1}`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-x", cfg.Model)
	assert.Equal(t, 7777, cfg.Port)
}

func TestSplitModel(t *testing.T) {
	p, m := SplitModel("anthropic/claude-sonnet")
	assert.Equal(t, "anthropic", p)
	assert.Equal(t, "claude-sonnet", m)

	p, m = SplitModel("ark/ep/with/slashes")
	assert.Equal(t, "ark", p)
	assert.Equal(t, "ep/with/slashes", m)

	p, m = SplitModel("bare-model")
	assert.Equal(t, "", p)
	assert.Equal(t, "bare-model", m)
}
