package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/dcshock/pipectl/pipeline"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	skippedColor = color.New(color.FgYellow, color.Bold)
	failedColor  = color.New(color.FgRed, color.Bold)
)

func outcomeColor(o pipeline.Outcome) *color.Color {
	switch o {
	case pipeline.Success:
		return successColor
	case pipeline.Skipped:
		return skippedColor
	default:
		return failedColor
	}
}

// printSummary writes one "Module X: STATUS" line per recorded stage.
func printSummary(w io.Writer, summary *pipeline.RunSummary) {
	_, _ = headerColor.Fprintln(w, "Pipeline summary:")
	for _, res := range summary.Results() {
		fmt.Fprintf(w, "Module %s: %s", res.Module, outcomeColor(res.Outcome).Sprint(res.Outcome))
		if res.Reason != "" && res.Outcome != pipeline.Success {
			_, _ = dimColor.Fprintf(w, " (%s)", res.Reason)
		}
		fmt.Fprintln(w)
	}
}
