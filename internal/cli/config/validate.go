package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/leapstack-labs/leapplan/internal/cli/output"
	"github.com/leapstack-labs/leapplan/internal/state"
	"github.com/leapstack-labs/leapplan/pkg/core"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ModelsDir == "" {
		return fmt.Errorf("models_dir is required")
	}
	if _, err := output.ParseMode(c.OutputFormat); err != nil {
		return err
	}
	if err := state.ValidateEnvironment(c.Environment); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	for _, env := range c.Environments {
		if err := state.ValidateEnvironment(env); err != nil {
			return fmt.Errorf("environments: %w", err)
		}
	}
	switch strings.ToLower(c.Suggestions) {
	case "", "similarity", "exact", "off", "none":
	default:
		return fmt.Errorf("suggestions must be one of similarity, exact, off; got %q", c.Suggestions)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be between 0 and 1; got %v", c.SimilarityThreshold)
	}
	if c.MaxParallel < 0 {
		return fmt.Errorf("max_parallel must not be negative")
	}
	for id, sev := range c.Rules.Severity {
		if _, ok := core.ParseSeverity(sev); !ok {
			return fmt.Errorf("rules.severity.%s: unknown severity %q", id, sev)
		}
	}
	return nil
}

// ValidateDirectories checks if required directories exist.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.ModelsDir); os.IsNotExist(err) {
		return fmt.Errorf("models directory does not exist: %s\nHint: Create the directory or use --models-dir to specify a different path", c.ModelsDir)
	}
	return nil
}

// DisabledRules returns the disabled rule IDs as a set.
func (c *Config) DisabledRules() map[string]bool {
	if len(c.Rules.Disabled) == 0 {
		return nil
	}
	out := make(map[string]bool, len(c.Rules.Disabled))
	for _, id := range c.Rules.Disabled {
		out[strings.ToUpper(strings.TrimSpace(id))] = true
	}
	return out
}

// SeverityOverrides returns the parsed per-rule severities.
func (c *Config) SeverityOverrides() map[string]core.Severity {
	if len(c.Rules.Severity) == 0 {
		return nil
	}
	out := make(map[string]core.Severity, len(c.Rules.Severity))
	for id, s := range c.Rules.Severity {
		if sev, ok := core.ParseSeverity(s); ok {
			out[strings.ToUpper(id)] = sev
		}
	}
	return out
}
