package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/metalagman/stanfix/internal/agent"
	"github.com/metalagman/stanfix/internal/analysis"
	"github.com/metalagman/stanfix/internal/config"
	"github.com/metalagman/stanfix/internal/gate"
	"github.com/metalagman/stanfix/internal/llm/cliagent"
	"github.com/metalagman/stanfix/internal/llm/chat"
	"github.com/metalagman/stanfix/internal/llm/openaiapi"
	"github.com/metalagman/stanfix/internal/lock"
	"github.com/metalagman/stanfix/internal/logging"
	"github.com/metalagman/stanfix/internal/snapshot"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "stanfix",
		Short: "stanfix fixes PHPStan findings level by level with an LLM agent",
		Long: "stanfix runs PHPStan on a project and lets an agent fix the reported issues, " +
			"starting at the initial level and advancing one level at a time up to the maximum. " +
			"Every write is reviewed by a second model before it lands.",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env is optional.
			_ = godotenv.Load()
			verbose, _ := cmd.Flags().GetBool("verbose")
			logging.Init(verbose)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if noJournal, _ := cmd.Flags().GetBool("no-journal"); noJournal {
				cfg.Journal.Enabled = false
			}
			logging.Init(cfg.Verbose)
			return runFix(cmd, cfg)
		},
	}
	if err := addConfigFlags(cmd, v); err != nil {
		panic(err)
	}
	cmd.AddCommand(initCmd(v))
	cmd.AddCommand(configCmd(v))
	cmd.AddCommand(sessionsCmd(v))
	cmd.AddCommand(mcpCmd(v))
	return cmd
}

func runFix(cmd *cobra.Command, cfg config.Config) error {
	ctx := cmd.Context()
	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("resolve work dir: %w", err)
	}

	sessionLock, ok, err := lock.TryAcquire(filepath.Join(workDir, config.DefaultDir))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("another stanfix session is running in %s", workDir)
	}
	defer func() { _ = sessionLock.Release() }()

	analyzer, err := newAnalyzer(cfg, workDir)
	if err != nil {
		return err
	}
	var gateOpts []gate.Option
	if cfg.Verbose {
		gateOpts = append(gateOpts, gate.WithObserver(diffPrinter(cmd.ErrOrStderr())))
	}
	changeGate, err := newGate(cfg, workDir, gateOpts...)
	if err != nil {
		return err
	}
	model, err := chat.NewClient(chat.Config{
		Model:     cfg.Model,
		BaseURL:   cfg.OpenAI.BaseURL,
		APIKey:    cfg.OpenAI.APIKey,
		APIKeyEnv: cfg.OpenAI.APIKeyEnv,
		Timeout:   time.Duration(cfg.OpenAI.Timeout) * time.Second,
	}, nil)
	if err != nil {
		return fmt.Errorf("init agent model: %w", err)
	}

	structure, err := snapshot.Summarize(workDir)
	if err != nil {
		return fmt.Errorf("summarize project: %w", err)
	}

	deps := agent.Deps{
		Chat:     model,
		Analyzer: analyzer,
		Gate:     changeGate,
	}
	if cfg.Journal.Enabled {
		cfg.WorkDir = workDir
		store, closeFn, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		deps.Journal = store
	}

	orch, err := agent.New(agent.Options{
		Model:            cfg.Model,
		InitialLevel:     cfg.InitialLevel,
		MaxLevel:         cfg.MaxLevel,
		Directories:      cfg.Directories,
		MaxTurns:         cfg.MaxTurns,
		MaxErrors:        cfg.MaxErrors,
		VerifyEscalation: cfg.VerifyEscalation,
		WorkDir:          workDir,
		ProjectStructure: structure,
	}, deps)
	if err != nil {
		return err
	}

	res, err := orch.Run(ctx)
	if errors.Is(err, agent.ErrMaxTurnsExceeded) {
		_, werr := fmt.Fprintf(cmd.OutOrStdout(), "Exiting after %d turns\n", res.Turns)
		return werr
	}
	if err != nil {
		return err
	}
	log.Debug().
		Str("session", res.SessionID).
		Str("outcome", string(res.Outcome)).
		Int("level", res.Level).
		Int("escalations", res.Escalations).
		Msg("result")
	return renderFinal(cmd.OutOrStdout(), res.FinalOutput)
}

func newAnalyzer(cfg config.Config, workDir string) (*analysis.Runner, error) {
	r, err := analysis.NewRunner(analysis.Config{
		Binary:      cfg.Analysis.Binary,
		WorkDir:     workDir,
		MemoryLimit: cfg.Analysis.MemoryLimit,
		MaxLines:    cfg.Analysis.MaxLines,
	})
	if err != nil {
		return nil, fmt.Errorf("init analysis: %w", err)
	}
	return r, nil
}

func newGate(cfg config.Config, workDir string, opts ...gate.Option) (*gate.Gate, error) {
	reviewer, err := newReviewer(cfg)
	if err != nil {
		return nil, err
	}
	g, err := gate.New(reviewer, append([]gate.Option{gate.WithRoot(workDir)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("init gate: %w", err)
	}
	return g, nil
}

func newReviewer(cfg config.Config) (gate.Reviewer, error) {
	if cfg.Gate.Backend != "" && cfg.Gate.Backend != config.GateBackendOpenAI {
		r, err := cliagent.NewReviewer(cliagent.Config{
			Backend: cfg.Gate.Backend,
			Model:   cfg.Gate.Model,
			Cmd:     cfg.Gate.Cmd,
		})
		if err != nil {
			return nil, fmt.Errorf("init gate model: %w", err)
		}
		log.Debug().Strs("cmd", r.Command()).Msg("gate reviews through agent cli")
		return r, nil
	}
	r, err := openaiapi.NewClient(openaiapi.Config{
		Model:     cfg.Gate.Model,
		BaseURL:   cfg.OpenAI.BaseURL,
		APIKey:    cfg.OpenAI.APIKey,
		APIKeyEnv: cfg.OpenAI.APIKeyEnv,
		Timeout:   time.Duration(cfg.OpenAI.Timeout) * time.Second,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("init gate model: %w", err)
	}
	return r, nil
}
