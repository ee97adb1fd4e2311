package config

import "fmt"

var validOutputs = map[string]bool{
	"text": true,
	"json": true,
}

// Validate checks the loaded configuration for coherence.
func (c *Config) Validate() error {
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", c.Parallelism)
	}
	if c.Environment == "" {
		return fmt.Errorf("environment must not be empty")
	}
	if !validOutputs[c.OutputFormat] {
		return fmt.Errorf("invalid output format %q (expected text or json)", c.OutputFormat)
	}
	return nil
}
