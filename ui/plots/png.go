package plots

import (
	"fmt"
	"math"
	"slices"

	"github.com/nodebias/nodebias/ml/train"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PNG chart dimensions.
var (
	PNGWidth  = 10 * vg.Inch
	PNGHeight = 6 * vg.Inch
)

// HistoryPNG renders the node and context losses per epoch of every run in history into a
// PNG file. Runs are drawn one after the other in the epoch axis. The loss axis is in log scale
// if all losses are positive and not constant.
func HistoryPNG(history *train.History, filePath string) error {
	if history == nil || history.NumEpochs() == 0 {
		return errors.New("plots: empty training history, nothing to plot")
	}
	p := plot.New()
	p.Title.Text = "Training Losses"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"
	if useLogScale(append(slices.Clone(history.LossesNode), history.LossesCtx...)...) {
		setLogScale(p)
	}
	p.Add(plotter.NewGrid())

	offset := 0
	for run := range history.NumRuns() {
		for kindIdx, losses := range [][]float64{history.LossesNode[run], history.LossesCtx[run]} {
			if len(losses) == 0 {
				continue
			}
			xys := make(plotter.XYs, len(losses))
			for ii, loss := range losses {
				xys[ii].X = float64(offset + ii)
				xys[ii].Y = loss
			}
			line, err := plotter.NewLine(xys)
			if err != nil {
				return errors.Wrapf(err, "plots: failed to create line for run %d", run)
			}
			line.Color = plotutil.Color(run)
			line.Dashes = plotutil.Dashes(kindIdx)
			p.Add(line)
			p.Legend.Add(fmt.Sprintf("#%d %s", run, []string{"node", "ctx"}[kindIdx]), line)
		}
		offset += len(history.LossesNode[run])
	}
	return save(p, filePath)
}

// PointsPNG renders the points of the given metric type into a PNG file, with one line per
// run and metric.
func PointsPNG(raw []Point, metricType, filePath string) error {
	points := NewPoints(raw).Filter(func(p Point) bool { return p.MetricType == metricType })
	if len(points) == 0 {
		return errors.Errorf("plots: no points of metric type %q to plot", metricType)
	}
	values := make([]float64, len(points))
	var shorts []string
	for ii, pt := range points {
		values[ii] = pt.Value
		if !slices.Contains(shorts, pt.Short) {
			shorts = append(shorts, pt.Short)
		}
	}
	slices.Sort(shorts)

	p := plot.New()
	p.Title.Text = metricType
	p.X.Label.Text = "step"
	p.Y.Label.Text = metricType
	if useLogScale(values) {
		setLogScale(p)
	}
	p.Add(plotter.NewGrid())
	lineIdx := 0
	for _, runID := range points.Runs() {
		for _, short := range shorts {
			steps, values := points.Series(runID, short)
			if len(steps) == 0 {
				continue
			}
			xys := make(plotter.XYs, len(steps))
			for ii := range steps {
				xys[ii] = plotter.XY{X: steps[ii], Y: values[ii]}
			}
			label := short
			if runID != "" {
				label = fmt.Sprintf("%s %s", shortRunID(runID), short)
			}
			line, linePoints, err := plotter.NewLinePoints(xys)
			if err != nil {
				return errors.Wrapf(err, "plots: failed to create line for %q", label)
			}
			line.Color = plotutil.Color(lineIdx)
			linePoints.Color = line.Color
			linePoints.Shape = plotutil.Shape(lineIdx)
			p.Add(line, linePoints)
			p.Legend.Add(label, line, linePoints)
			lineIdx++
		}
	}
	return save(p, filePath)
}

func shortRunID(runID string) string {
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

func setLogScale(p *plot.Plot) {
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
}

// useLogScale returns whether all values are positive and not all the same.
func useLogScale(runs ...[]float64) bool {
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, values := range runs {
		for _, v := range values {
			if !(v > 0) {
				return false
			}
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}
	}
	return minV < maxV
}

func save(p *plot.Plot, filePath string) error {
	if err := p.Save(PNGWidth, PNGHeight, filePath); err != nil {
		return errors.Wrapf(err, "plots: failed to save plot to %q", filePath)
	}
	return nil
}
