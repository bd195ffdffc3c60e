// Package config loads leapplan CLI configuration.
//
// Values are layered with koanf: built-in defaults, then leapplan.yaml,
// then LEAPPLAN_* environment variables, then explicitly set flags.
package config

import (
	"github.com/leapstack-labs/leapplan/internal/state"
)

// Config holds all CLI configuration options.
type Config struct {
	ProjectRoot string `koanf:"-"`

	ModelsDir string `koanf:"models_dir"`
	// State is a directory or a sqlite://, postgres:// or s3:// URL.
	State        string   `koanf:"state"`
	Environment  string   `koanf:"environment"`
	Environments []string `koanf:"environments"` // planned by plan --all
	OutputFormat string   `koanf:"output"`
	Verbose      bool     `koanf:"verbose"`

	ExternalPrefixes []string `koanf:"external_prefixes"`
	OpaquePrefixes   []string `koanf:"opaque_prefixes"`

	Suggestions         string  `koanf:"suggestions"`
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
	MaxParallel         int     `koanf:"max_parallel"`

	Rules RulesConfig    `koanf:"rules"`
	S3    state.S3Config `koanf:"s3"`
}

// RulesConfig tunes the model validation rules.
type RulesConfig struct {
	Disabled []string          `koanf:"disabled"`
	Severity map[string]string `koanf:"severity"` // rule ID -> error|warning|info
}

// Default configuration values.
const (
	DefaultModelsDir   = "models"
	DefaultState       = ".leapplan/state"
	DefaultEnv         = "dev"
	DefaultOutput      = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultSuggestions = "similarity"
)

// ConfigFileNames are searched for, in order, in the project root.
var ConfigFileNames = []string{"leapplan.yaml", "leapplan.yml"}
