package main

import (
	"flag"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/nodebias/nodebias/ml/data"
	"github.com/nodebias/nodebias/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagMetrics = flag.Bool("metrics", false,
		fmt.Sprintf("Lists the metrics collected for plotting in file %q", plots.TrainingPlotFileName))
	flagMetricsLabels = flag.Bool("metrics_labels", false,
		fmt.Sprintf("Lists the metrics labels (short names) with their full description from file %q", plots.TrainingPlotFileName))
	flagMetricsNames = flag.String("metrics_names", "", "Regular expression that if matches the name or short name, the metric is included.")
	flagMetricsTypes = flag.String("metrics_types", "", "Comma-separate list of metric types to include in metrics reports.")
)

// ModelNameAndMetric identifies one column of the metrics table: a metric (by its short name) of a checkpoint.
type ModelNameAndMetric struct{ ModelName, MetricName, MetricType string }

// metricsFilter selects the points to report, given -metrics_names and -metrics_types.
type metricsFilter struct {
	names *regexp.Regexp
	types map[string]bool
}

func newMetricsFilter(namesRegexp, types string) (*metricsFilter, error) {
	f := &metricsFilter{}
	if namesRegexp != "" {
		var err error
		f.names, err = regexp.Compile(namesRegexp)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to compile -metrics_names=%q matcher", namesRegexp)
		}
	}
	if types != "" {
		f.types = make(map[string]bool)
		for _, name := range strings.Split(types, ",") {
			f.types[name] = true
		}
	}
	return f, nil
}

func (f *metricsFilter) accept(point plots.Point) bool {
	if f.names == nil && f.types == nil {
		return true
	}
	foundName := f.names != nil && (f.names.MatchString(point.MetricName) || f.names.MatchString(point.Short))
	foundType := f.types != nil && f.types[point.MetricType]
	return foundName || foundType
}

// loadPoints loads the plot points of every checkpoint, only keeping the ones accepted by the filter.
func loadPoints(checkpoints []*checkpoint, filter *metricsFilter) ([][]plots.Point, error) {
	points := make([][]plots.Point, len(checkpoints))
	var foundSomething bool
	for ii, c := range checkpoints {
		filePath := filepath.Join(c.path, plots.TrainingPlotFileName)
		if !data.FileExists(filePath) {
			continue
		}
		all, err := plots.LoadPoints(filePath)
		if err != nil {
			return nil, err
		}
		for _, pt := range all {
			if filter.accept(pt) {
				points[ii] = append(points[ii], pt)
			}
		}
		foundSomething = foundSomething || len(points[ii]) > 0
	}
	if !foundSomething {
		klog.Errorf("No metrics found in file %q in the checkpoints", plots.TrainingPlotFileName)
	}
	return points, nil
}

func metrics(w io.Writer, checkpoints []*checkpoint) error {
	filter, err := newMetricsFilter(*flagMetricsNames, *flagMetricsTypes)
	if err != nil {
		return err
	}
	points, err := loadPoints(checkpoints, filter)
	if err != nil {
		return err
	}
	names := make([]string, len(checkpoints))
	for ii, c := range checkpoints {
		names[ii] = c.name
	}
	metricsOrder, shortToName := orderMetrics(names, points)
	if *flagMetricsLabels {
		ReportMetricsLabels(w, shortToName)
	}
	if *flagMetrics {
		ReportMetrics(w, names, metricsOrder, points)
	}
	if *flagPlot != "" {
		return BuildPlots(w, *flagPlot, checkpoints, points)
	}
	return nil
}

// orderMetrics maps each checkpoint metric to its column in the metrics table, starting from 1 (column 0 is
// the global step).
func orderMetrics(names []string, points [][]plots.Point) (metricsOrder map[ModelNameAndMetric]int, shortToName map[string]string) {
	shortToName = make(map[string]string)
	used := make(map[ModelNameAndMetric]bool)
	for modelIdx, modelPoints := range points {
		for _, pt := range modelPoints {
			shortToName[pt.Short] = pt.MetricName
			used[ModelNameAndMetric{names[modelIdx], pt.Short, pt.MetricType}] = true
		}
	}
	inOrder := slices.SortedFunc(maps.Keys(used), func(a, b ModelNameAndMetric) int {
		if c := strings.Compare(a.MetricType, b.MetricType); c != 0 {
			return c
		}
		if c := strings.Compare(a.MetricName, b.MetricName); c != 0 {
			return c
		}
		return strings.Compare(a.ModelName, b.ModelName)
	})
	metricsOrder = make(map[ModelNameAndMetric]int, len(inOrder))
	for idx, nameMetric := range inOrder {
		metricsOrder[nameMetric] = idx + 1
	}
	return
}

// ReportMetricsLabels list all metrics short and long names.
func ReportMetricsLabels(w io.Writer, shortToName map[string]string) {
	_, _ = fmt.Fprintln(w, titleStyle.Render("Metrics Labels"))
	table := newPlainTable(true, lipgloss.Center, lipgloss.Left)
	table.Headers("Short", "MetricName")
	for _, short := range slices.Sorted(maps.Keys(shortToName)) {
		table.Row(short, shortToName[short])
	}
	_, _ = fmt.Fprintln(w, table.Render())
}

// ReportMetrics writes one row per global step, merging the points of all checkpoints.
func ReportMetrics(w io.Writer, names []string, metricsOrder map[ModelNameAndMetric]int, points [][]plots.Point) {
	_, _ = fmt.Fprintln(w, titleStyle.Render("Metrics Table"))
	table := newPlainTable(true, lipgloss.Right)
	header := make([]string, 1+len(metricsOrder))
	header[0] = "Global Step"
	for nameMetric, idx := range metricsOrder {
		if len(names) == 1 {
			header[idx] = nameMetric.MetricName
		} else {
			header[idx] = fmt.Sprintf("%s: %s", nameMetric.ModelName, nameMetric.MetricName)
		}
	}
	table.Headers(header...)

	// Merge the points of all checkpoints by global step.
	rows := make(map[int64][]string)
	for modelIdx, modelPoints := range points {
		for _, pt := range modelPoints {
			colIdx, found := metricsOrder[ModelNameAndMetric{names[modelIdx], pt.Short, pt.MetricType}]
			if !found {
				continue
			}
			step := int64(pt.Step)
			row, found := rows[step]
			if !found {
				row = make([]string, 1+len(metricsOrder))
				row[0] = humanize.Comma(step)
				rows[step] = row
			}
			row[colIdx] = fmt.Sprintf("%.3g", pt.Value)
		}
	}
	for _, step := range slices.Sorted(maps.Keys(rows)) {
		table.Row(rows[step]...)
	}
	_, _ = fmt.Fprintln(w, table.Render())
}
