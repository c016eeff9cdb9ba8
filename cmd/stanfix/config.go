package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalagman/stanfix/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix      = "STANFIX"
	configFileName = "config.yaml"
)

var defaultConfigPath = filepath.Join(config.DefaultDir, configFileName)

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"model":              "model",
	"initial-stan-level": "initial_stan_level",
	"max-stan-level":     "max_stan_level",
	"directories":        "directories",
	"max-turns":          "max_turns",
	"max-errors":         "max_errors",
	"verify-escalation":  "verify_escalation",
	"workdir":            "workdir",
	"verbose":            "verbose",
	"phpstan":            "analysis.binary",
	"gate-model":         "gate.model",
	"gate-backend":       "gate.backend",
}

func addConfigFlags(cmd *cobra.Command, v *viper.Viper) error {
	d := config.Defaults()
	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file path (default "+defaultConfigPath+" under the work dir)")
	flags.String("model", d.Model, "model used by the fixing agent")
	flags.Int("initial-stan-level", d.InitialLevel, "PHPStan level to start at")
	flags.Int("max-stan-level", d.MaxLevel, "highest PHPStan level to reach")
	flags.String("directories", d.Directories, "space separated directories to analyse")
	flags.Int("max-turns", d.MaxTurns, "maximum agent turns")
	flags.Int("max-errors", d.MaxErrors, "diagnostic lines returned per analysis")
	flags.Bool("verify-escalation", d.VerifyEscalation, "re-run analysis before admitting a level change")
	flags.String("workdir", d.WorkDir, "project directory to fix")
	flags.BoolP("verbose", "v", d.Verbose, "debug logging and colored diffs of reviewed writes")
	flags.String("phpstan", d.Analysis.Binary, "PHPStan binary, relative to the work dir")
	flags.String("gate-model", d.Gate.Model, "model used to review proposed writes")
	flags.String("gate-backend", d.Gate.Backend, "review backend: openai, codex, claude, gemini, opencode or exec")
	flags.Bool("no-journal", false, "do not record the session journal")

	if err := v.BindPFlag("config", flags.Lookup("config")); err != nil {
		return fmt.Errorf("bind config flag: %w", err)
	}
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("bind %s flag: %w", flag, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	v.SetDefault("model", d.Model)
	v.SetDefault("initial_stan_level", d.InitialLevel)
	v.SetDefault("max_stan_level", d.MaxLevel)
	v.SetDefault("directories", d.Directories)
	v.SetDefault("max_turns", d.MaxTurns)
	v.SetDefault("max_errors", d.MaxErrors)
	v.SetDefault("verify_escalation", d.VerifyEscalation)
	v.SetDefault("workdir", d.WorkDir)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("analysis.binary", d.Analysis.Binary)
	v.SetDefault("analysis.memory_limit", d.Analysis.MemoryLimit)
	v.SetDefault("analysis.max_lines", d.Analysis.MaxLines)
	v.SetDefault("gate.backend", d.Gate.Backend)
	v.SetDefault("gate.model", d.Gate.Model)
	v.SetDefault("openai.base_url", d.OpenAI.BaseURL)
	v.SetDefault("openai.api_key", d.OpenAI.APIKey)
	v.SetDefault("openai.api_key_env", d.OpenAI.APIKeyEnv)
	v.SetDefault("openai.timeout", d.OpenAI.Timeout)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
}

// loadConfig merges defaults, the optional config file, STANFIX_* environment
// variables and flags, in increasing precedence.
func loadConfig(v *viper.Viper) (config.Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, explicit := resolveConfigPath(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		if explicit || !errors.As(err, &pathErr) {
			return config.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// resolveConfigPath returns the config file to read and whether it was
// requested explicitly.
func resolveConfigPath(v *viper.Viper) (string, bool) {
	if path := v.GetString("config"); path != "" {
		return path, true
	}
	workDir := v.GetString("workdir")
	if workDir == "" {
		workDir = "."
	}
	return filepath.Join(workDir, defaultConfigPath), false
}

func configCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}

func writeConfigFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
