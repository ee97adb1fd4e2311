// Package config provides configuration management for the loom CLI.
package config

// Defaults for project layout.
const (
	DefaultDocsDir     = "docs"
	DefaultScriptsDir  = ".loom/scripts"
	DefaultPipeline    = "pipeline.star"
	DefaultStateFile   = ".loom/state.db"
	DefaultObjectsDir  = ".loom/objects"
	DefaultEnv         = "dev"
	DefaultParallelism = 4
	DefaultOutput      = "text"
)

// Config holds all CLI configuration options.
type Config struct {
	DocsDir      string               `koanf:"docs_dir"`
	ScriptsDir   string               `koanf:"scripts_dir"`
	Pipeline     string               `koanf:"pipeline"`
	StatePath    string               `koanf:"state_path"`
	ObjectsDir   string               `koanf:"objects_dir"`
	Environment  string               `koanf:"environment"`
	Parallelism  int                  `koanf:"parallelism"`
	Verbose      bool                 `koanf:"verbose"`
	OutputFormat string               `koanf:"output"`
	Environments map[string]EnvConfig `koanf:"environments"`

	// ProjectRoot is the resolved project directory. Not read from
	// the config file.
	ProjectRoot string `koanf:"-"`
}

// EnvConfig holds environment-specific overrides.
type EnvConfig struct {
	StatePath  string `koanf:"state_path"`
	ObjectsDir string `koanf:"objects_dir"`
	Pipeline   string `koanf:"pipeline"`
}
