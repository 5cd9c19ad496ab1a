package plots

import (
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/nodebias/nodebias/ml/data"
	"github.com/nodebias/nodebias/ml/train"
	"github.com/nodebias/nodebias/ml/train/metrics"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// CollectorName is the name of the hooks registered by AttachToLoop.
	CollectorName = "nodebias.ui.plots.collector"

	// RunIDKey is the key in train.Loop.SharedData where the current run id is published.
	RunIDKey = "plots.run_id"
)

// collector writes one set of points per epoch to the plot points file.
type collector struct {
	dir, filePath string
	runID         string
	writer        *PointsWriter
}

// AttachToLoop registers hooks to the training loop that append, at the end of every epoch, the mean
// losses, the solver steps and the weight metrics to the file TrainingPlotFileName in dir.
//
// Each Train call gets a new random run id, stored in the points and in loop.SharedData[RunIDKey].
func AttachToLoop(loop *train.Loop, dir string) {
	dir = data.ReplaceTildeInDir(dir)
	c := &collector{dir: dir, filePath: filepath.Join(dir, TrainingPlotFileName)}
	loop.OnStart(CollectorName, 0, c.onStart)
	loop.OnEpoch(CollectorName, 0, c.onEpoch)
	loop.OnEnd(CollectorName, 0, c.onEnd)
}

func (c *collector) onStart(loop *train.Loop) error {
	if c.writer != nil {
		// Previous run was interrupted before its end.
		if err := c.close(); err != nil {
			klog.Warningf("plots: previous run %s: %+v", c.runID, err)
		}
	}
	if err := os.MkdirAll(c.dir, train.DirPermMode); err != nil {
		return errors.Wrapf(err, "failed to create directory %q for plot points", c.dir)
	}
	c.runID = uuid.NewString()
	loop.SharedData[RunIDKey] = c.runID
	writer, err := NewPointsWriter(c.filePath)
	if err != nil {
		return err
	}
	c.writer = writer
	klog.V(1).Infof("plots: run %s collecting points into %q", c.runID, c.filePath)
	return nil
}

func (c *collector) onEpoch(loop *train.Loop, info train.EpochInfo) error {
	step := float64(loop.LoopStep)
	c.emit(step, "Node Loss", "N/loss", metrics.LossMetricType, info.LossNode)
	c.emit(step, "Context Loss", "C/loss", metrics.LossMetricType, info.LossCtx)
	c.emit(step, "Node Solver Steps", "N/nfe", metrics.StepsMetricType, float64(info.NumStepsNode))
	c.emit(step, "Context Solver Steps", "C/nfe", metrics.StepsMetricType, float64(info.NumStepsCtx))
	for _, m := range loop.TrainMetrics() {
		if m.MetricType() == metrics.WeightMetricType {
			c.emit(step, "Train: "+m.Name(), "T/"+m.ShortName(), m.MetricType(), m.Value())
		}
	}
	return nil
}

func (c *collector) emit(step float64, name, short, metricType string, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	c.writer.Write(Point{
		RunID:      c.runID,
		MetricName: name,
		Short:      short,
		MetricType: metricType,
		Step:       step,
		Value:      value,
	})
}

func (c *collector) onEnd(_ *train.Loop, _ *train.History) error {
	return c.close()
}

func (c *collector) close() error {
	if c.writer == nil {
		return nil
	}
	err := c.writer.Close()
	c.writer = nil
	return err
}
