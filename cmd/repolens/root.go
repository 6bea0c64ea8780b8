package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"repolens/internal/analysis"
	"repolens/internal/analyzers"
	"repolens/internal/cache"
	"repolens/internal/config"
	"repolens/internal/engine"
	"repolens/internal/gitrepo"
	"repolens/internal/logging"
	"repolens/internal/stage"
	"repolens/internal/store"
	"repolens/internal/version"
)

var (
	rootFlag      string
	logFormatFlag string
	logLevelFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "repolens",
	Short: "repolens - repository analysis orchestration",
	Long: `repolens analyzes git repositories: structure, tech stack, and
cross-repository correlation. Results are fingerprinted by commit and
cached, so re-analyzing an unchanged repository is free.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("repolens version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", ".",
		"Directory holding the .repolens state directory")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "",
		"Log format: human or json (default: from config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level: debug, info, warn, or error (default: from config)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(rootFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	format := cfg.Logging.Format
	if logFormatFlag != "" {
		format = logFormatFlag
	}
	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	return logging.NewLogger(logging.Config{
		Format: logging.Format(format),
		Level:  logging.Level(level),
	})
}

// resolvePath anchors config-relative paths at the root directory.
func resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootFlag, path)
}

func openStore(cfg *config.Config, logger *logging.Logger) (*store.Store, error) {
	return store.Open(resolvePath(cfg.Store.Path), store.Options{
		CompressPayloads: cfg.Store.CompressPayloads,
	}, logger)
}

func buildExecutor(stageName string, sc config.StageConfig, scipIndexPath string, logger *logging.Logger) (*stage.Executor, error) {
	strategies, err := analyzers.BuildStrategies(sc.Strategies, analyzers.Options{
		SCIPIndexPath: scipIndexPath,
	})
	if err != nil {
		return nil, fmt.Errorf("configure %s stage: %w", stageName, err)
	}
	timeout := time.Duration(sc.TimeoutMs) * time.Millisecond
	return stage.NewExecutor(stageName, sc.Required, timeout, logger, strategies...), nil
}

func buildOrchestrator(cfg *config.Config, st *store.Store, logger *logging.Logger) (*engine.Orchestrator, error) {
	if !gitrepo.IsGitAvailable() {
		return nil, fmt.Errorf("git executable not found on PATH")
	}

	structural, err := buildExecutor(analysis.StageStructural, cfg.Stages.Structural, cfg.Stages.ScipIndexPath, logger)
	if err != nil {
		return nil, err
	}
	techstack, err := buildExecutor(analysis.StageTechStack, cfg.Stages.TechStack, cfg.Stages.ScipIndexPath, logger)
	if err != nil {
		return nil, err
	}

	git := gitrepo.NewExecClient(gitrepo.Options{
		CloneDir:     resolvePath(cfg.Git.CloneDir),
		CloneDepth:   cfg.Git.CloneDepth,
		ProbeTimeout: time.Duration(cfg.Git.ProbeTimeoutMs) * time.Millisecond,
		CloneTimeout: time.Duration(cfg.Git.CloneTimeoutMs) * time.Millisecond,
	}, logger)

	idx := cache.NewIndex(st, logger)

	orch := engine.New(git, st, idx, structural, techstack, engine.Config{
		Workers:          cfg.Pool.Workers,
		QueueSize:        cfg.Pool.QueueSize,
		MaxFileSizeBytes: cfg.Stages.MaxFileSizeBytes,
	}, logger)
	orch.Start(cfg.Pool.Workers)
	return orch, nil
}
