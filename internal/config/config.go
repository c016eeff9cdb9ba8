// Package config provides configuration loading and management for stanfix.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// DefaultModel is the model used for the agent and for change review.
	DefaultModel = "o4-mini"
	// DefaultPHPStanPath is the analysis binary path relative to the work dir.
	DefaultPHPStanPath = "./vendor/bin/phpstan"
	// DefaultDir is the directory stanfix keeps its state in.
	DefaultDir = ".stanfix"
)

// Config is the root configuration.
type Config struct {
	Model            string         `json:"model"                         mapstructure:"model"                yaml:"model"`
	InitialLevel     int            `json:"initial_stan_level"            mapstructure:"initial_stan_level"   yaml:"initial_stan_level"`
	MaxLevel         int            `json:"max_stan_level"                mapstructure:"max_stan_level"       yaml:"max_stan_level"`
	Directories      string         `json:"directories"                   mapstructure:"directories"          yaml:"directories"`
	MaxTurns         int            `json:"max_turns"                     mapstructure:"max_turns"            yaml:"max_turns"`
	MaxErrors        int            `json:"max_errors"                    mapstructure:"max_errors"           yaml:"max_errors"`
	VerifyEscalation bool           `json:"verify_escalation"             mapstructure:"verify_escalation"    yaml:"verify_escalation"`
	WorkDir          string         `json:"workdir"                       mapstructure:"workdir"              yaml:"workdir"`
	Verbose          bool           `json:"verbose"                       mapstructure:"verbose"              yaml:"verbose"`
	Analysis         AnalysisConfig `json:"analysis"                      mapstructure:"analysis"             yaml:"analysis"`
	Gate             GateConfig     `json:"gate"                          mapstructure:"gate"                 yaml:"gate"`
	OpenAI           OpenAIConfig   `json:"openai"                        mapstructure:"openai"               yaml:"openai"`
	Journal          JournalConfig  `json:"journal"                       mapstructure:"journal"              yaml:"journal"`
}

// AnalysisConfig describes how the analysis binary is invoked.
type AnalysisConfig struct {
	Binary      string `json:"binary"       mapstructure:"binary"       yaml:"binary"`
	MemoryLimit string `json:"memory_limit" mapstructure:"memory_limit" yaml:"memory_limit"`
	MaxLines    int    `json:"max_lines"    mapstructure:"max_lines"    yaml:"max_lines"`
}

// GateBackendOpenAI reviews writes through the OpenAI Responses API. Any other
// backend names an agent CLI invoked per review.
const GateBackendOpenAI = "openai"

// GateConfig configures the change review model. Cmd is the full command line
// of the "exec" backend.
type GateConfig struct {
	Backend string   `json:"backend"       mapstructure:"backend" yaml:"backend"`
	Model   string   `json:"model"         mapstructure:"model"   yaml:"model"`
	Cmd     []string `json:"cmd,omitempty" mapstructure:"cmd"     yaml:"cmd,omitempty"`
}

// OpenAIConfig holds credentials and endpoint settings shared by both models.
type OpenAIConfig struct {
	BaseURL   string `json:"base_url,omitempty"    mapstructure:"base_url"    yaml:"base_url,omitempty"`
	APIKey    string `json:"api_key,omitempty"     mapstructure:"api_key"     yaml:"-"`
	APIKeyEnv string `json:"api_key_env,omitempty" mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	// Timeout in seconds; zero leaves model calls unbounded.
	Timeout int `json:"timeout,omitempty" mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// JournalConfig configures the session journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Path    string `json:"path"    mapstructure:"path"    yaml:"path"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Model:        DefaultModel,
		InitialLevel: 0,
		MaxLevel:     10,
		Directories:  "app",
		MaxTurns:     10,
		MaxErrors:    10,
		WorkDir:      ".",
		Analysis: AnalysisConfig{
			Binary:      DefaultPHPStanPath,
			MemoryLimit: "2G",
			MaxLines:    500,
		},
		Gate: GateConfig{
			Backend: GateBackendOpenAI,
			Model:   DefaultModel,
		},
		OpenAI: OpenAIConfig{
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(DefaultDir, "stanfix.db"),
		},
	}
}

// Validate checks the config against the schema and the cross-field rules
// the schema cannot express.
func (c Config) Validate() error {
	if err := ValidateSettings(c); err != nil {
		return err
	}
	if c.MaxLevel < c.InitialLevel {
		return fmt.Errorf("max_stan_level (%d) must be >= initial_stan_level (%d)", c.MaxLevel, c.InitialLevel)
	}
	if c.Gate.Backend == "exec" && len(c.Gate.Cmd) == 0 {
		return fmt.Errorf("gate.cmd is required for the exec backend")
	}
	if len(strings.Fields(c.Directories)) == 0 {
		return fmt.Errorf("directories must name at least one directory")
	}
	return nil
}

// JournalPath resolves the journal path against the work dir.
func (c Config) JournalPath() string {
	if filepath.IsAbs(c.Journal.Path) {
		return c.Journal.Path
	}
	return filepath.Join(c.WorkDir, c.Journal.Path)
}
