package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dcshock/pipectl/config"
	"github.com/dcshock/pipectl/logging"
	"github.com/dcshock/pipectl/pipeline"
)

// DefaultConfigPath is used when neither --config-path nor
// PIPECTL_CONFIG_PATH is set.
const DefaultConfigPath = "config.yaml"

// loaded is a merged config ready to run.
type loaded struct {
	path      string
	tree      *config.Tree
	cfg       *config.Config
	overrides []config.Override
}

func (g *globalFlags) resolveConfigPath() string {
	if g.configPath != "" {
		return g.configPath
	}
	if p := os.Getenv(pipeline.EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

// loadConfig reads the document and merges environment overrides, then --set
// overrides, on top of it.
func loadConfig(g *globalFlags) (*loaded, error) {
	path := g.resolveConfigPath()
	base, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	envOverrides, err := config.EnvOverrides(config.EnvPrefix)
	if err != nil {
		return nil, err
	}
	setOverrides, err := config.ParseOverrides(g.sets)
	if err != nil {
		return nil, err
	}
	overrides := append(envOverrides, setOverrides...)
	tree, err := config.ApplyOverrides(base, overrides, nil)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Decode(tree)
	if err != nil {
		return nil, err
	}
	return &loaded{path: path, tree: tree, cfg: cfg, overrides: overrides}, nil
}

// newLogger builds the run logger. cli.log_level and cli.debug take
// precedence over logging.level.
func newLogger(cfg *config.Config, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	lc := cfg.Logging
	switch {
	case cfg.CLI.Debug:
		lc.Level = "DEBUG"
	case cfg.CLI.LogLevel != "":
		lc.Level = cfg.CLI.LogLevel
	}
	logger, closer, err := logging.New(lc, stdout)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: logging: %w", config.ErrConfigInvalid, err)
	}
	return logger, closer, nil
}

func overrideStrings(overrides []config.Override) []string {
	out := make([]string, len(overrides))
	for i, o := range overrides {
		out[i] = o.String()
	}
	return out
}
