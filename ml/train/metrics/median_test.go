package metrics

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedian(t *testing.T) {
	metric := NewMedianMetric("median", "med", StepsMetricType, 5, nil)
	assert.Equal(t, 5.0, metric.Update(5))
	assert.Equal(t, 3.0, metric.Update(1)) // {1, 5}
	assert.Equal(t, 5.0, metric.Update(9)) // {1, 5, 9}
	assert.Equal(t, 7.0, metric.Update(100)) // {1, 5, 9, 100}: mean of the two central values.
	assert.Equal(t, 9.0, metric.Update(200)) // {1, 5, 9, 100, 200}
	metric.Reset()
	assert.Equal(t, 0.0, metric.Value())
	assert.Equal(t, 2.0, metric.Update(2))

	// Window sliding: only the last 5 values count.
	for _, v := range []float64{10, 10, 10, 40, 40, 40, 40, 40} {
		metric.Update(v)
	}
	assert.Equal(t, 40.0, metric.Value())
	assert.Equal(t, "40", NewMedianMetric("m", "m", StepsMetricType, 0, nil).PrettyPrint(40))
}

func TestMedianLargeWindow(t *testing.T) {
	const numValues = 1001
	metric := NewMedianMetric("median", "med", StepsMetricType, numValues, nil)
	rng := rand.New(rand.NewPCG(1, 2))
	values := make([]float64, 0, numValues)
	var median float64
	for range numValues {
		v := 1 / (rng.Float64()*0.99 + 0.01)
		values = append(values, v)
		median = metric.Update(v)
	}
	slices.Sort(values)
	assert.Equal(t, values[numValues/2], median)
	require.Equal(t, median, metric.Value())
}

func TestMetrics(t *testing.T) {
	mean := NewMeanMetric("Mean Loss", "loss", LossMetricType, nil)
	for _, v := range []float64{1, 2, 3, 6} {
		mean.Update(v)
	}
	assert.InDelta(t, 3.0, mean.Value(), 1e-12)
	assert.Equal(t, "Mean Loss", mean.Name())
	assert.Equal(t, "loss", mean.ShortName())
	assert.Equal(t, LossMetricType, mean.MetricType())
	assert.Equal(t, "3", mean.PrettyPrint(mean.Value()))
	mean.Reset()
	assert.Equal(t, 0.0, mean.Value())

	ema := NewExponentialMovingAverageMetric("Moving Average Loss", "~loss", LossMetricType,
		func(v float64) string { return "x" }, 0.5)
	assert.Equal(t, 4.0, ema.Update(4)) // First value: plain average.
	assert.Equal(t, 3.0, ema.Update(2))
	assert.Equal(t, 2.5, ema.Update(2)) // Weight capped at 0.5 from now on.
	assert.Equal(t, "x", ema.PrettyPrint(1))

	last := NewLastValueMetric("Last", "last", WeightMetricType, nil)
	last.Update(1)
	assert.Equal(t, 0.25, last.Update(0.25))
	assert.Equal(t, 0.25, last.Value())
}
