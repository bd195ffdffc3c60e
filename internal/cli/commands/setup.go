package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapplan/internal/cli/config"
	"github.com/leapstack-labs/leapplan/internal/cli/output"
	"github.com/leapstack-labs/leapplan/internal/engine"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with a discovered engine and a
// renderer. Returns the context and a cleanup function that must be called
// (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cmdCtx := NewCommandContextWithoutEngine(cmd)

	if err := cmdCtx.Cfg.ValidateDirectories(); err != nil {
		return nil, nil, err
	}

	eng, err := createEngine(cmd, cmdCtx.Cfg, cmdCtx.Logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = eng.Close()
	}

	if err := eng.Discover(cmd.Context()); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to discover models: %w", err)
	}

	cmdCtx.Engine = eng
	return cmdCtx, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	mode, err := output.ParseMode(cfg.OutputFormat)
	if err != nil {
		mode = output.ModeAuto
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}
}

// getConfig returns the current configuration.
// It uses config.GetCurrentConfig() if available, otherwise falls back to environment variables.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		ModelsDir:    getEnvOrDefault("LEAPPLAN_MODELS_DIR", config.DefaultModelsDir),
		State:        getEnvOrDefault("LEAPPLAN_STATE", config.DefaultState),
		Environment:  getEnvOrDefault("LEAPPLAN_ENVIRONMENT", config.DefaultEnv),
		OutputFormat: getEnvOrDefault("LEAPPLAN_OUTPUT", config.DefaultOutput),
		Suggestions:  config.DefaultSuggestions,
		Verbose:      os.Getenv("LEAPPLAN_VERBOSE") == "true",
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func createEngine(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (*engine.Engine, error) {
	return engine.New(cmd.Context(), engine.Config{
		ModelsDir:           cfg.ModelsDir,
		State:               cfg.State,
		Environment:         cfg.Environment,
		S3:                  cfg.S3,
		ExternalPrefixes:    cfg.ExternalPrefixes,
		OpaquePrefixes:      cfg.OpaquePrefixes,
		Suggestions:         cfg.Suggestions,
		SimilarityThreshold: cfg.SimilarityThreshold,
		DisabledRules:       cfg.DisabledRules(),
		SeverityOverrides:   cfg.SeverityOverrides(),
		MaxParallel:         cfg.MaxParallel,
		Logger:              logger,
	})
}
