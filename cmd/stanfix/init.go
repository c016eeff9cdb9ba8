package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/stanfix/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func initCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Install a default config in the work dir",
		Long:  "Create the " + config.DefaultDir + " directory in the work dir and write a default " + configFileName + " unless one exists.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			workDir := v.GetString("workdir")
			if workDir == "" {
				workDir = "."
			}
			if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
				return fmt.Errorf("work dir %s is not a directory", workDir)
			}

			path := filepath.Join(workDir, defaultConfigPath)
			if _, err := os.Stat(path); err == nil {
				log.Info().Str("path", path).Msg("config already exists, skipping")
				return nil
			}

			data, err := defaultConfigYAML()
			if err != nil {
				return fmt.Errorf("marshal default config: %w", err)
			}
			log.Info().Str("path", path).Msg("installing default config")
			if err := writeConfigFile(path, string(data)); err != nil {
				return fmt.Errorf("write default config: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "stanfix initialized successfully")
			return err
		},
	}
}

// defaultConfigYAML renders the defaults without workdir, which only makes
// sense relative to where the file lives.
func defaultConfigYAML() ([]byte, error) {
	raw, err := yaml.Marshal(config.Defaults())
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	delete(doc, "workdir")
	return yaml.Marshal(doc)
}
