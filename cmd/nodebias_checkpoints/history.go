package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// Columns of the exported history CSV.
const (
	CheckpointCol   = "checkpoint"
	RunCol          = "run"
	EpochCol        = "epoch"
	LossNodeCol     = "loss_node"
	LossCtxCol      = "loss_ctx"
	NumStepsNodeCol = "nb_steps_node"
	NumStepsCtxCol  = "nb_steps_ctx"
)

// ReportHistory lists the epochs of the checkpoint history. If last > 0 only the last epochs are listed.
func ReportHistory(w io.Writer, c *checkpoint, last int) {
	_, _ = fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("History of %q", c.name)))
	table := newPlainTable(true, lipgloss.Right)
	table.Headers("Run", "Epoch", "Node Loss", "Context Loss", "Node Steps", "Context Steps")
	records := c.history.Records()
	if last > 0 && len(records) > last {
		records = records[len(records)-last:]
	}
	for _, r := range records {
		table.Row(fmt.Sprintf("%d", r.Run), humanize.Comma(int64(r.Epoch)),
			fmt.Sprintf("%.8f", r.LossNode), fmt.Sprintf("%.8f", r.LossCtx),
			humanize.Comma(int64(r.NumStepsNode)), humanize.Comma(int64(r.NumStepsCtx)))
	}
	_, _ = fmt.Fprintln(w, table.Render())
}

// HistoryDataFrame returns the histories of all checkpoints in one data frame, one row per epoch.
func HistoryDataFrame(checkpoints []*checkpoint) dataframe.DataFrame {
	var names []string
	var runs, epochs, stepsNode, stepsCtx []int
	var lossesNode, lossesCtx []float64
	for _, c := range checkpoints {
		for _, r := range c.history.Records() {
			names = append(names, c.name)
			runs = append(runs, r.Run)
			epochs = append(epochs, r.Epoch)
			lossesNode = append(lossesNode, r.LossNode)
			lossesCtx = append(lossesCtx, r.LossCtx)
			stepsNode = append(stepsNode, r.NumStepsNode)
			stepsCtx = append(stepsCtx, r.NumStepsCtx)
		}
	}
	return dataframe.New(
		series.New(names, series.String, CheckpointCol),
		series.New(runs, series.Int, RunCol),
		series.New(epochs, series.Int, EpochCol),
		series.New(lossesNode, series.Float, LossNodeCol),
		series.New(lossesCtx, series.Float, LossCtxCol),
		series.New(stepsNode, series.Int, NumStepsNodeCol),
		series.New(stepsCtx, series.Int, NumStepsCtxCol),
	)
}

// ExportCSV writes the histories of all checkpoints to filePath.
func ExportCSV(filePath string, checkpoints []*checkpoint) error {
	df := HistoryDataFrame(checkpoints)
	if df.Err != nil {
		return errors.Wrap(df.Err, "failed to build history data frame")
	}
	if df.Nrow() == 0 {
		return errors.New("no history recorded in the checkpoints, nothing to export")
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", filePath)
	}
	if err = df.WriteCSV(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write history to %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", filePath)
}
