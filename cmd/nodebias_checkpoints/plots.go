package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nodebias/nodebias/ml/train"
	"github.com/nodebias/nodebias/ui/plots"
	"github.com/pkg/errors"
)

var flagPlot = flag.String("plot", "",
	fmt.Sprintf("Directory where to write PNG plots of the training history and of the metrics collected in file %q. "+
		"You can control which metrics to plot with -metrics_names and -metrics_types", plots.TrainingPlotFileName))

// BuildPlots writes one history plot per checkpoint, and one plot per metric type with the points of all
// checkpoints, into dir.
func BuildPlots(w io.Writer, dir string, checkpoints []*checkpoint, points [][]plots.Point) error {
	if err := os.MkdirAll(dir, train.DirPermMode); err != nil {
		return errors.Wrapf(err, "failed to create plots directory %q", dir)
	}
	var written []string
	for ii, c := range checkpoints {
		if c.history.NumEpochs() == 0 {
			continue
		}
		filePath := filepath.Join(dir, fmt.Sprintf("history_%d.png", ii+1))
		if err := plots.HistoryPNG(c.history, filePath); err != nil {
			return errors.WithMessagef(err, "checkpoint %q", c.path)
		}
		written = append(written, fmt.Sprintf("%s (%s)", filePath, c.name))
	}

	// Prefix the short names with the checkpoint number, if there is more than one.
	var all []plots.Point
	for ii, modelPoints := range points {
		for _, pt := range modelPoints {
			if len(checkpoints) > 1 {
				pt.Short = fmt.Sprintf("#%d %s", ii+1, pt.Short)
			}
			all = append(all, pt)
		}
	}
	for _, metricType := range plots.NewPoints(all).MetricTypes() {
		filePath := filepath.Join(dir, fmt.Sprintf("metrics_%s.png", metricType))
		if err := plots.PointsPNG(all, metricType, filePath); err != nil {
			return err
		}
		written = append(written, filePath)
	}
	_, _ = fmt.Fprintf(w, "\nPlots written to %q:\n", dir)
	for _, filePath := range written {
		_, _ = fmt.Fprintf(w, "\t%s\n", filePath)
	}
	return nil
}
