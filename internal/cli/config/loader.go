package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// maxUpwardSearchLevels limits how far up the directory tree to
// search for a project config file.
const maxUpwardSearchLevels = 10

var configFileUsed string

// GetConfigFileUsed returns the config file path used by the last
// LoadConfig call.
func GetConfigFileUsed() string {
	return configFileUsed
}

// configExistsIn checks if a loom config file exists in the directory.
func configExistsIn(dir string) bool {
	for _, name := range []string{"loom.yaml", "loom.yml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// findProjectRootUpward searches upward from startDir for a loom
// config file. Returns empty string if none is found.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configExistsIn(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path against baseDir unless it is
// empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// LoadConfig loads configuration from file, environment variables,
// and flags. Precedence (highest to lowest): flags > env vars >
// config file > defaults.
func LoadConfig(cfgFile string, envOverride string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	configFileUsed = ""

	projectRoot := ""
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		projectRoot = filepath.Dir(abs)
		cfgFile = abs
	} else if cwd, err := os.Getwd(); err == nil {
		if root := findProjectRootUpward(cwd); root != "" {
			projectRoot = root
		} else {
			projectRoot = cwd
		}
	} else {
		projectRoot = "."
	}

	if err := k.Load(confmap.Provider(map[string]interface{}{
		"docs_dir":    DefaultDocsDir,
		"scripts_dir": DefaultScriptsDir,
		"pipeline":    DefaultPipeline,
		"state_path":  DefaultStateFile,
		"objects_dir": DefaultObjectsDir,
		"environment": DefaultEnv,
		"parallelism": DefaultParallelism,
		"verbose":     false,
		"output":      DefaultOutput,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile == "" {
		for _, name := range []string{"loom.yaml", "loom.yml"} {
			candidate := filepath.Join(projectRoot, name)
			if _, err := os.Stat(candidate); err == nil {
				cfgFile = candidate
				break
			}
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
		configFileUsed = cfgFile
	}

	// LOOM_STATE_PATH -> state_path
	if err := k.Load(env.Provider("LOOM_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "LOOM_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			name := strings.ReplaceAll(f.Name, "-", "_")
			return name, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if envOverride != "" {
		cfg.Environment = envOverride
	}
	if envCfg, ok := cfg.Environments[cfg.Environment]; ok {
		if envCfg.StatePath != "" {
			cfg.StatePath = envCfg.StatePath
		}
		if envCfg.ObjectsDir != "" {
			cfg.ObjectsDir = envCfg.ObjectsDir
		}
		if envCfg.Pipeline != "" {
			cfg.Pipeline = envCfg.Pipeline
		}
	}

	cfg.ProjectRoot = projectRoot
	cfg.DocsDir = resolvePathRelativeTo(cfg.DocsDir, projectRoot)
	cfg.ScriptsDir = resolvePathRelativeTo(cfg.ScriptsDir, projectRoot)
	cfg.Pipeline = resolvePathRelativeTo(cfg.Pipeline, projectRoot)
	cfg.StatePath = resolvePathRelativeTo(cfg.StatePath, projectRoot)
	cfg.ObjectsDir = resolvePathRelativeTo(cfg.ObjectsDir, projectRoot)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
