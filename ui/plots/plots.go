// Package plots collects training plot points into a file in the checkpoint directory, and renders
// them (or a training history) as PNG charts using gonum/plot.
package plots

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"

	"github.com/nodebias/nodebias/ml/data"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TrainingPlotFileName is the file within a checkpoint directory where the plot points collected
// during training are appended, one JSON object per line.
const TrainingPlotFileName = "training_plot_points.json"

// Point is one measurement of a metric during training.
type Point struct {
	// RunID identifies the training run (one Train call) that generated the point.
	RunID string `json:",omitempty"`

	// MetricName is the full name of the metric and Short its label (e.g. "N/loss").
	MetricName string
	Short      string

	// MetricType is "loss", "steps" or "weight": metrics of the same type are plotted together.
	MetricType string

	// Step is the global step (number of batches) at which the metric was measured.
	Step float64

	Value float64
}

// LoadPointsFromCheckpoint loads the points in the file TrainingPlotFileName of a checkpoint directory.
func LoadPointsFromCheckpoint(checkpointDir string) ([]Point, error) {
	checkpointDir = data.ReplaceTildeInDir(checkpointDir)
	return LoadPoints(filepath.Join(checkpointDir, TrainingPlotFileName))
}

// LoadPoints parses the points saved in filePath, in the order they were written.
//
// A training interrupted while writing can leave the last line truncated: it is skipped with a warning.
// A malformed line anywhere else is an error.
func LoadPoints(filePath string) ([]Point, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plot points file %q", filePath)
	}
	lines := bytes.Split(contents, []byte("\n"))
	var points []Point
	for lineNum, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var point Point
		if err := json.Unmarshal(line, &point); err != nil {
			if lineNum == len(lines)-1 {
				klog.Warningf("plots: skipping truncated last line of %q: %v", filePath, err)
				break
			}
			return nil, errors.Wrapf(err, "plot points file %q, line %d", filePath, lineNum+1)
		}
		points = append(points, point)
	}
	return points, nil
}

// PointsWriter appends points to a file from a background goroutine, so writing never blocks training.
type PointsWriter struct {
	filePath string
	points   chan Point
	done     chan error
}

// NewPointsWriter opens (creating if needed) filePath for appending points.
// Call Close to flush and close the file.
func NewPointsWriter(filePath string) (*PointsWriter, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o664)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open plot points file %q for append", filePath)
	}
	w := &PointsWriter{
		filePath: filePath,
		points:   make(chan Point, 100),
		done:     make(chan error, 1),
	}
	go w.run(f)
	return w, nil
}

// run encodes points until the channel is closed. After the first error, remaining points are discarded.
func (w *PointsWriter) run(f *os.File) {
	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	var err error
	for point := range w.points {
		if err != nil {
			continue
		}
		if err = enc.Encode(point); err != nil {
			err = errors.Wrapf(err, "failed to write point %+v to %q", point, w.filePath)
			klog.Errorf("plots: %v", err)
		}
	}
	if err == nil {
		err = errors.Wrapf(buf.Flush(), "failed to write to %q", w.filePath)
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "failed to close %q", w.filePath)
	}
	w.done <- err
}

// Write enqueues the point to be written. It must not be called after Close.
func (w *PointsWriter) Write(point Point) {
	w.points <- point
}

// Close waits for all points to be written and closes the file. It returns the first error that occurred.
func (w *PointsWriter) Close() error {
	close(w.points)
	return <-w.done
}

// Points is a collection of Point sorted by Step. Points of the same step keep the order they were
// collected in.
type Points []Point

// NewPoints returns the points sorted by Step.
func NewPoints(raw []Point) Points {
	points := slices.Clone(raw)
	slices.SortStableFunc(points, func(a, b Point) int {
		switch {
		case a.Step < b.Step:
			return -1
		case a.Step > b.Step:
			return 1
		}
		return 0
	})
	return points
}

// Filter returns the points for which fn returns true.
func (points Points) Filter(fn func(p Point) bool) Points {
	var filtered Points
	for _, p := range points {
		if fn(p) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// MetricsNames returns the names of the metrics, sorted by their type and then by their name.
func (points Points) MetricsNames() []string {
	nameToType := make(map[string]string)
	for _, p := range points {
		nameToType[p.MetricName] = p.MetricType
	}
	names := make([]string, 0, len(nameToType))
	for name := range nameToType {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if nameToType[a] != nameToType[b] {
			if nameToType[a] < nameToType[b] {
				return -1
			}
			return 1
		}
		if a < b {
			return -1
		} else if a > b {
			return 1
		}
		return 0
	})
	return names
}

// MetricTypes returns the sorted metric types.
func (points Points) MetricTypes() []string {
	var types []string
	for _, p := range points {
		if !slices.Contains(types, p.MetricType) {
			types = append(types, p.MetricType)
		}
	}
	slices.Sort(types)
	return types
}

// Runs returns the run ids in the order of their first point.
func (points Points) Runs() []string {
	var runs []string
	for _, p := range points {
		if !slices.Contains(runs, p.RunID) {
			runs = append(runs, p.RunID)
		}
	}
	return runs
}

// Series returns the steps and values of the metric (matched by its short name) in the given run.
func (points Points) Series(runID, short string) (steps, values []float64) {
	for _, p := range points {
		if p.RunID == runID && p.Short == short {
			steps = append(steps, p.Step)
			values = append(values, p.Value)
		}
	}
	return
}
