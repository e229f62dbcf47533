package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dcshock/pipectl/pipeline"
	"github.com/dcshock/pipectl/stages"
)

func newModulesCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List modules A-L with their output dir and invocation strategies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ld, err := loadConfig(g)
			if err != nil {
				return exitError(err)
			}
			reg, err := pipeline.BuildRegistry(ld.cfg, stages.NewCatalog(nil))
			if err != nil {
				return exitError(err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODULE\tOUTPUT DIR\tSTRATEGIES")
			for _, m := range reg.Modules() {
				entry, _ := reg.Get(m)
				names := make([]string, len(entry.Strategies))
				for i, s := range entry.Strategies {
					names[i] = s.Name()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m, pipeline.OutputDir(ld.cfg.Outputs.Root, m), strings.Join(names, ", "))
			}
			return tw.Flush()
		},
	}
}
