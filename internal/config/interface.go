package config

import "context"

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads configuration from a given path and translates it into the
	// format-agnostic model. An empty path yields Defaults.
	Load(ctx context.Context, path string) (*Config, error)
}
