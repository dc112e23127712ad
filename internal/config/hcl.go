package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/justme409/aiprojectengineerv3/internal/ctxlog"
)

// HCLLoader reads service configuration from an HCL file.
type HCLLoader struct{}

// NewHCLLoader creates a new HCL loader.
func NewHCLLoader() *HCLLoader {
	return &HCLLoader{}
}

// Load implements Loader.
func (l *HCLLoader) Load(ctx context.Context, path string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)
	if path == "" {
		logger.Debug("No configuration file given, using defaults.")
		return Defaults(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse config %s: %w", path, diags)
	}

	cfg := &Config{}
	if diags := gohcl.DecodeBody(file.Body, evalContext(), cfg); diags.HasErrors() {
		return nil, fmt.Errorf("decode config %s: %w", path, diags)
	}
	cfg.Normalize()
	logger.Debug("Configuration loaded.", "path", path)
	return cfg, nil
}

// evalContext exposes the process environment as env.* inside configuration
// expressions.
func evalContext() *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}
