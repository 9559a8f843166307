// Package config loads codeloom configuration from JSONC files and the
// environment.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// ProviderConfig holds per-provider credentials and endpoint overrides.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
}

// Config is the resolved application configuration.
type Config struct {
	// DataDir is where sessions, messages, and parts are persisted.
	DataDir string `json:"dataDir,omitempty"`
	Port    int    `json:"port,omitempty"`

	// Model selects the default provider and model, "provider/model".
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
	MaxSteps  int    `json:"maxSteps,omitempty"`

	// GapTimeoutMs bounds how long a client waits on a missing stream
	// sequence number before skipping it.
	GapTimeoutMs int `json:"gapTimeoutMs,omitempty"`

	LogLevel  string `json:"logLevel,omitempty"`
	LogPretty bool   `json:"logPretty,omitempty"`

	Provider map[string]ProviderConfig `json:"provider,omitempty"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		DataDir:      defaultDataDir(),
		Port:         4747,
		GapTimeoutMs: 5000,
		LogLevel:     "info",
		Provider:     make(map[string]ProviderConfig),
	}
}

// Load resolves configuration from multiple sources (priority order):
// 1. Global config (~/.config/codeloom/)
// 2. Project config (directory)
// 3. CODELOOM_CONFIG file
// 4. Environment variables
//
// A .env file in the project directory is loaded first so file contents can
// reference its variables through {env:VAR} placeholders.
func Load(directory string) (*Config, error) {
	if directory != "" {
		godotenv.Load(filepath.Join(directory, ".env"))
	}

	config := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	globalDir := globalConfigDir()
	loadOnce(filepath.Join(globalDir, "codeloom.json"), globalDir)
	loadOnce(filepath.Join(globalDir, "codeloom.jsonc"), globalDir)

	if directory != "" {
		loadOnce(filepath.Join(directory, "codeloom.json"), directory)
		loadOnce(filepath.Join(directory, "codeloom.jsonc"), directory)
	}

	if path := os.Getenv("CODELOOM_CONFIG"); path != "" {
		loadOnce(path, filepath.Dir(path))
	}

	applyEnvOverrides(config)

	return config, nil
}

// loadFile loads a single config file with interpolation support.
func loadFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	merge(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")
		return escaped
	})

	return []byte(str)
}

// merge overlays source onto target. Later sources win.
func merge(target, source *Config) {
	if source.DataDir != "" {
		target.DataDir = source.DataDir
	}
	if source.Port != 0 {
		target.Port = source.Port
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.MaxTokens != 0 {
		target.MaxTokens = source.MaxTokens
	}
	if source.MaxSteps != 0 {
		target.MaxSteps = source.MaxSteps
	}
	if source.GapTimeoutMs != 0 {
		target.GapTimeoutMs = source.GapTimeoutMs
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.LogPretty {
		target.LogPretty = true
	}
	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]ProviderConfig)
		}
		for k, v := range source.Provider {
			merged := target.Provider[k]
			if v.APIKey != "" {
				merged.APIKey = v.APIKey
			}
			if v.BaseURL != "" {
				merged.BaseURL = v.BaseURL
			}
			target.Provider[k] = merged
		}
	}
}

// applyEnvOverrides applies environment variable overrides, the highest
// priority source.
func applyEnvOverrides(config *Config) {
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"google":    "GOOGLE_API_KEY",
	}
	for provider, envVar := range providerEnvMap {
		apiKey := os.Getenv(envVar)
		if apiKey == "" {
			continue
		}
		if config.Provider == nil {
			config.Provider = make(map[string]ProviderConfig)
		}
		p := config.Provider[provider]
		if p.APIKey == "" {
			p.APIKey = apiKey
			config.Provider[provider] = p
		}
	}

	if dir := os.Getenv("CODELOOM_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}
	if port := os.Getenv("CODELOOM_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			config.Port = n
		}
	}
	if model := os.Getenv("CODELOOM_MODEL"); model != "" {
		config.Model = model
	}
	if level := os.Getenv("CODELOOM_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
}

// SplitModel splits a "provider/model" selector into its halves. The model
// half may itself contain slashes.
func SplitModel(model string) (providerID, modelID string) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return "", model
	}
	return parts[0], parts[1]
}

// globalConfigDir returns the global config directory,
// CODELOOM_CONFIG_DIR or ~/.config/codeloom.
func globalConfigDir() string {
	if dir := os.Getenv("CODELOOM_CONFIG_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codeloom")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "codeloom")
}

// defaultDataDir returns where session data lives absent configuration,
// ~/.local/share/codeloom.
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "codeloom")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share", "codeloom")
}
