package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dcshock/pipectl/config"
)

func newValidateCommand(g *globalFlags) *cobra.Command {
	var checkPaths bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load, merge and validate the config without running anything",
		Long: `Validate loads the config, applies environment and --set overrides and
checks the result: required sections, the typed schema and, with --paths or
flags.validate_config_keys, that *_csv, *_file, *_path, *_template and
absolute *_dir keys name existing paths.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ld, err := loadConfig(g)
			if err != nil {
				return exitError(err)
			}
			v := config.Validator{CheckPaths: checkPaths}
			out := cmd.OutOrStdout()
			if err := v.Validate(cmd.Context(), ld.tree); err != nil {
				var verr *config.ValidationError
				if errors.As(err, &verr) {
					_, _ = failedColor.Fprintf(out, "%s: %d problem(s)\n", ld.path, len(verr.Problems))
					for _, p := range verr.Problems {
						fmt.Fprintf(out, "  - %s\n", p)
					}
				}
				return exitError(err)
			}
			_, _ = successColor.Fprintf(out, "%s: OK\n", ld.path)
			if len(ld.overrides) > 0 {
				_, _ = dimColor.Fprintf(out, "overrides: %v\n", overrideStrings(ld.overrides))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkPaths, "paths", false, "Also check that path-like keys exist")
	return cmd
}
