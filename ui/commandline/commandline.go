// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line.
package commandline

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/nodebias/nodebias/ml/train"
)

// ReportHistory writes a table with one row per training run of history: number of epochs,
// final losses and total number of solver steps.
func ReportHistory(w io.Writer, history *train.History) error {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Run", "Epochs", "Final Node Loss", "Final Context Loss", "Node Solver Steps", "Context Solver Steps")
	for run := range history.NumRuns() {
		lossesNode, lossesCtx := history.LossesNode[run], history.LossesCtx[run]
		var totalNode, totalCtx int
		for ii := range history.NumStepsNode[run] {
			totalNode += history.NumStepsNode[run][ii]
			totalCtx += history.NumStepsCtx[run][ii]
		}
		row := []string{fmt.Sprintf("%d", run), fmt.Sprintf("%d", len(lossesNode)), "-", "-",
			humanize.Comma(int64(totalNode)), humanize.Comma(int64(totalCtx))}
		if len(lossesNode) > 0 {
			row[2] = fmt.Sprintf("%.8f", lossesNode[len(lossesNode)-1])
			row[3] = fmt.Sprintf("%.8f", lossesCtx[len(lossesCtx)-1])
		}
		table.Row(row...)
	}
	_, err := fmt.Fprintln(w, table.String())
	return err
}
