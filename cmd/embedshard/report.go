package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
)

// workerStats summarizes one rank after training.
type workerStats struct {
	Rank        int
	TableShape  []int
	TableBytes  int
	Collectives uint64
	FinalLoss   float32
}

// report is the outcome of a training run.
type report struct {
	GroupID string
	Losses  []float32 // global loss per step
	Workers []workerStats
}

// newProgressBar returns a bar advanced once per training step.
func newProgressBar(steps int, out io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(steps,
		progressbar.OptionSetDescription("training"),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
}

// Table renders the per-worker summary.
func (r *report) Table() string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	table.Headers("Rank", "Table shard", "Size", "Collectives", "Final loss")
	for _, w := range r.Workers {
		table.Row(
			fmt.Sprintf("%d", w.Rank),
			fmt.Sprintf("%v", w.TableShape),
			humanize.Bytes(uint64(w.TableBytes)),
			humanize.Comma(int64(w.Collectives)),
			fmt.Sprintf("%.5f", w.FinalLoss),
		)
	}
	return table.String()
}

// Summary renders the loss trajectory and the per-worker table.
func (r *report) Summary() string {
	if len(r.Losses) == 0 {
		return fmt.Sprintf("group %s: no steps run\n%s", r.GroupID, r.Table())
	}
	title := lipgloss.NewStyle().Bold(true)
	return fmt.Sprintf("%s\nloss: %.5f -> %.5f over %s steps\n%s",
		title.Render("group "+r.GroupID),
		r.Losses[0], r.Losses[len(r.Losses)-1], humanize.Comma(int64(len(r.Losses))),
		r.Table())
}
