package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	headerColor = color.New(color.FgBlue, color.Bold)
	dimColor    = color.New(color.FgHiBlack)
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	envFile    string
	sets       []string
}

// NewRootCommand returns the pipectl command tree. Running the root command
// runs the pipeline.
func NewRootCommand(version string) *cobra.Command {
	if version == "" {
		version = "dev"
	}
	g := &globalFlags{}
	rf := &runFlags{}

	root := &cobra.Command{
		Use:     "pipectl",
		Version: version,
		Short:   "Run the lettered A-L stage pipeline",
		Long: `pipectl runs a fixed sequence of lettered stages (A-L) against one YAML
configuration, with overrides from PIPECTL_ environment variables and --set.

Each stage runs in-process when the stage table names a built-in unit and
falls back to an external module_<letter> executable.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDotEnv(g.envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return exitError(runPipeline(cmd, g, rf))
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config-path", "", "Path to the YAML config (default $PIPECTL_CONFIG_PATH or config.yaml)")
	pf.StringArrayVar(&g.sets, "set", nil, "Override a config key, KEY=VALUE with a dotted key (repeatable)")
	pf.StringVar(&g.envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")

	rf.register(root)

	root.AddCommand(newValidateCommand(g))
	root.AddCommand(newModulesCommand(g))
	return root
}

// Execute runs the command tree with ctx and args.
func Execute(ctx context.Context, version string, args []string) error {
	root := NewRootCommand(version)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// loadDotEnv loads path when it exists. Variables already set win.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return exitError(fmt.Errorf("load %s: %w", path, err))
	}
	return nil
}
