package main

import (
	"fmt"
	"path/filepath"

	"github.com/metalagman/stanfix/internal/mcpserver"
	"github.com/metalagman/stanfix/internal/tools"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func mcpCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the fixing tools over MCP stdio",
		Long: "Expose read_file, write_file and run_phpstan to an external MCP client over stdio. " +
			"Writes still go through the change review; the client owns the turn budget.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			workDir, err := filepath.Abs(cfg.WorkDir)
			if err != nil {
				return fmt.Errorf("resolve work dir: %w", err)
			}
			analyzer, err := newAnalyzer(cfg, workDir)
			if err != nil {
				return err
			}
			changeGate, err := newGate(cfg, workDir)
			if err != nil {
				return err
			}
			surface, err := tools.NewSurface(tools.Config{
				Root:         workDir,
				Directories:  cfg.Directories,
				MaxErrors:    cfg.MaxErrors,
				DefaultLevel: cfg.InitialLevel,
			}, changeGate, analyzer)
			if err != nil {
				return err
			}
			srv, err := mcpserver.New(mcpserver.Config{Name: "stanfix", Version: version}, surface)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}
