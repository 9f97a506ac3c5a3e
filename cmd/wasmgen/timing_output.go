package main

import (
	"fmt"
	"io"
	"time"

	"wasmgen/internal/buildpipeline"
)

// printStageTimings writes one line per pipeline stage for input, then the
// session's phase report.
func printStageTimings(out io.Writer, input string, res *buildpipeline.BuildResult) {
	if out == nil || res == nil {
		return
	}
	fmt.Fprintf(out, "timings for %s:\n", input)
	stages := []buildpipeline.Stage{
		buildpipeline.StageLoad,
		buildpipeline.StageCompile,
		buildpipeline.StageRefcount,
		buildpipeline.StageFinalize,
		buildpipeline.StageSerialize,
		buildpipeline.StageWrite,
	}
	for _, stage := range stages {
		if !res.Timings.Has(stage) {
			continue
		}
		fmt.Fprintf(out, "  %-16s %8.2f ms\n", stage, toMillis(res.Timings.Duration(stage)))
	}
	fmt.Fprintf(out, "  %-16s %8.2f ms\n", "total", toMillis(res.Timings.Sum(stages...)))
	for _, phase := range res.Report.Phases {
		if phase.Note == "" {
			continue
		}
		fmt.Fprintf(out, "  %s: %s\n", phase.Name, phase.Note)
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
