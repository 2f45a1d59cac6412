package registration

import (
	"fmt"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/montanaflynn/stats"
)

// MedianFitness returns the median fitness of the steps, or zero for a run without steps.
func (r *Report) MedianFitness() float64 {
	if len(r.Steps) == 0 {
		return 0
	}
	fitness := make(stats.Float64Data, 0, len(r.Steps))
	for _, step := range r.Steps {
		fitness = append(fitness, step.Result.Fitness)
	}
	median, err := fitness.Median()
	if err != nil {
		return 0
	}
	return median
}

// String prints out a table of each step, with the sizes of both clouds and the alignment
// found.
func (r *Report) String() string {
	t := table.NewWriter()
	// the footer carries the output path, which must keep its case
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle(fmt.Sprintf("run %s", r.RunID))
	t.AppendHeader(table.Row{"#", "Pair", "Model samples", "Fragment samples", "Iterations", "Converged", "Fitness", "Translation", "Rotation"})
	for _, step := range r.Steps {
		tra := step.Result.Transform.Translation()
		t.AppendRow(table.Row{
			step.Step,
			fmt.Sprintf("%d-%d", step.Step-1, step.Step),
			step.SourcePoints,
			step.TargetPoints,
			step.Result.Iterations,
			step.Result.Converged,
			fmt.Sprintf("%.6f", step.Result.Fitness),
			fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", tra.X, tra.Y, tra.Z),
			fmt.Sprintf("%.2f deg", step.Result.Transform.RotationAngle()*180/math.Pi),
		})
	}
	t.AppendFooter(table.Row{"", "points", r.Points, "", "", "median", fmt.Sprintf("%.6f", r.MedianFitness()), r.Output, ""})
	return t.Render()
}
