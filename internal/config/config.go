// Package config loads the orchestrator's typed Config tree via viper,
// adapted from the teacher's internal/infrastructure/config.Load
// (layered YAML + env override + mapstructure unmarshal), generalized
// from the teacher's gateway/agent domain to the runner/backend/RLM
// domain of SPEC_FULL.md.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the orchestrator's full typed configuration (§6 CLI table,
// SPEC_FULL.md Ambient Stack "Configuration").
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	RLM     RLMConfig     `mapstructure:"rlm"`
	Log     LogConfig     `mapstructure:"log"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
}

// BackendConfig selects and configures the default and per-phase
// backends (§4.1-§4.3, §6 "backend", "review-backend/fix-backend/test-backend").
type BackendConfig struct {
	Default string `mapstructure:"default"` // "claude" | "codex"
	Review  string `mapstructure:"review"`
	Fix     string `mapstructure:"fix"`
	Test    string `mapstructure:"test"`

	Model string `mapstructure:"model"`

	ClaudeAPIKey  string `mapstructure:"claude_api_key"`
	ClaudeBaseURL string `mapstructure:"claude_base_url"`

	CodexCLIPath string `mapstructure:"codex_cli_path"`
	CodexSandbox string `mapstructure:"codex_sandbox"`
}

// RunnerConfig maps directly to §6's CLI table and internal/runner.Config.
type RunnerConfig struct {
	SkillKey      string `mapstructure:"skill"`
	StartAt       string `mapstructure:"start_at"`
	ReviewOnly    bool   `mapstructure:"review_only"`
	Loop          bool   `mapstructure:"loop"`
	MaxIterations int    `mapstructure:"max_iterations"`
	TestCommand   string `mapstructure:"test_command"`
	Cleanup       bool   `mapstructure:"cleanup"`
}

// RLMConfig configures the recursive-LM REPL (§4.7), including the
// sandboxed-execution allowlist settings referenced by SPEC_FULL.md's
// Ambient Stack "Configuration" section.
type RLMConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	MaxIterations    int      `mapstructure:"max_iterations"` // default 50
	Model            string   `mapstructure:"model"`          // default "haiku"
	MaxHistoryTokens int      `mapstructure:"max_history_tokens"`
	RecentCount      int      `mapstructure:"recent_count"`
	Languages        []string `mapstructure:"languages"`
}

// SandboxConfig bounds the RLM code-execution namespace's subprocess
// (§4.7's python3 sandbox).
type SandboxConfig struct {
	PythonPath     string   `mapstructure:"python_path"`
	AllowedImports []string `mapstructure:"allowed_imports"`
}

// LogConfig matches internal/logging.Config.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Debug  bool   `mapstructure:"debug"`
}

// Load reads config.yaml from cwd, else from the process's working
// directory (if present in either), applies defaults, then overlays DAYDREAM_-prefixed environment
// variables — the same low-to-high layering the teacher's
// infrastructure/config.Load applies (defaults → file → env), minus
// the teacher's two-tier global/project split since this tool has no
// per-user global config directory.
func Load(cwd string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if cwd != "" {
		v.AddConfigPath(cwd)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("DAYDREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.default", "claude")
	v.SetDefault("backend.codex_cli_path", "codex")
	v.SetDefault("backend.codex_sandbox", "workspace-write")

	v.SetDefault("runner.start_at", "review")
	v.SetDefault("runner.max_iterations", 5)
	v.SetDefault("runner.test_command", "")

	v.SetDefault("rlm.max_iterations", 50)
	v.SetDefault("rlm.model", "haiku")
	v.SetDefault("rlm.max_history_tokens", 8000)
	v.SetDefault("rlm.recent_count", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// ResolveDebugLogPath builds the append-only debug log path described
// in §6, rooted at cwd.
func ResolveDebugLogPath(cwd string, name string) string {
	if cwd == "" {
		return name
	}
	return filepath.Join(cwd, name)
}

