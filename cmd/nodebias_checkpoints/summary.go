package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/nodebias/nodebias/ml/train/optimizers"
)

// Summary writes one column per checkpoint with its training progress and sizes.
func Summary(w io.Writer, checkpoints []*checkpoint) {
	_, _ = fmt.Fprintln(w, titleStyle.Render("Summary"))
	table := newPlainTable(false, lipgloss.Right, lipgloss.Left)
	addRow := func(label string, fn func(c *checkpoint) string) {
		row := make([]string, 0, len(checkpoints)+1)
		row = append(row, label)
		for _, c := range checkpoints {
			row = append(row, fn(c))
		}
		table.Row(row...)
	}
	optSteps := func(s optimizers.State) string {
		if s == nil {
			return "-"
		}
		return humanize.Comma(int64(s.NumSteps()))
	}
	finalLoss := func(losses [][]float64) string {
		if len(losses) == 0 || len(losses[len(losses)-1]) == 0 {
			return "-"
		}
		last := losses[len(losses)-1]
		return fmt.Sprintf("%.8f", last[len(last)-1])
	}

	addRow("checkpoint", func(c *checkpoint) string { return c.name })
	addRow("# runs", func(c *checkpoint) string { return humanize.Comma(int64(c.history.NumRuns())) })
	addRow("# epochs", func(c *checkpoint) string { return humanize.Comma(int64(c.history.NumEpochs())) })
	addRow("node optimizer steps", func(c *checkpoint) string { return optSteps(c.optStateNode) })
	addRow("context optimizer steps", func(c *checkpoint) string { return optSteps(c.optStateCtx) })
	addRow("final node loss", func(c *checkpoint) string { return finalLoss(c.history.LossesNode) })
	addRow("final context loss", func(c *checkpoint) string { return finalLoss(c.history.LossesCtx) })
	addRow("# environments", func(c *checkpoint) string { return humanize.Comma(int64(c.learner.NumEnvs())) })
	addRow("# variables", func(c *checkpoint) string {
		return humanize.Comma(int64(c.learner.Model().Trainable().NumVariables() + c.learner.Contexts().NumVariables()))
	})
	addRow("# model parameters", func(c *checkpoint) string {
		return humanize.Comma(int64(c.learner.Model().Trainable().Size()))
	})
	addRow("# context parameters", func(c *checkpoint) string {
		return humanize.Comma(int64(c.learner.Contexts().Size()))
	})
	addRow("# bytes", func(c *checkpoint) string {
		return humanize.Bytes(uint64(8 * (c.learner.Model().Trainable().Size() + c.learner.Contexts().Size())))
	})
	_, _ = fmt.Fprintln(w, table.Render())
}
