/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package metrics holds a library of streaming metrics, updated one value at a time during training,
// and displayed by progress bars and plots.
package metrics

import (
	"fmt"
	"math"
)

// Interface for a Metric.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably a few characters) to display in progress bars or
	// similar UIs.
	ShortName() string

	// MetricType is a key for metrics that share the same quantity or semantics. Eg.:
	// "Moving-Average-Loss" and "Batch-Loss" would both have the same
	// "loss" metric type, and for instance, can be displayed on the same plot, sharing
	// the Y-axis.
	MetricType() string

	// Update the metric with a new value, and returns the current value of the metric.
	Update(value float64) float64

	// Value returns the current value of the metric, without updating it.
	Value() float64

	// PrettyPrint is used to pretty-print a metric value, usually in a short form.
	PrettyPrint(value float64) string

	// Reset metrics internal counters, when starting a new evaluation.
	Reset()
}

const (
	LossMetricType   = "loss"
	StepsMetricType  = "steps"
	WeightMetricType = "weight"
)

// PrettyPrintFn is a function to convert a metric value to a short string format.
type PrettyPrintFn func(value float64) string

// baseMetric holds the naming and pretty-printing of all metrics.
type baseMetric struct {
	name, shortName, metricType string
	pPrintFn                    PrettyPrintFn
}

func (m *baseMetric) Name() string {
	return m.name
}

func (m *baseMetric) ShortName() string {
	return m.shortName
}

func (m *baseMetric) MetricType() string {
	return m.metricType
}

// PrettyPrint implements Interface.
func (m *baseMetric) PrettyPrint(value float64) string {
	if m.pPrintFn != nil {
		return m.pPrintFn(value)
	}
	return fmt.Sprintf("%.3g", value)
}

// lastValueMetric simply holds the last value given.
type lastValueMetric struct {
	baseMetric
	value float64
}

// NewLastValueMetric creates a metric that reports the last value it was updated with.
func NewLastValueMetric(name, shortName, metricType string, pPrintFn PrettyPrintFn) Interface {
	return &lastValueMetric{baseMetric: baseMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: pPrintFn}}
}

func (m *lastValueMetric) Update(value float64) float64 {
	m.value = value
	return value
}

func (m *lastValueMetric) Value() float64 { return m.value }

func (m *lastValueMetric) Reset() { m.value = 0 }

// meanMetric implements a metric that keeps the mean of the values.
type meanMetric struct {
	baseMetric
	mean  float64
	count float64
}

// NewMeanMetric creates a metric that keeps the mean of all values since the last Reset.
// pPrintFn can be left as nil, and a default will be used.
func NewMeanMetric(name, shortName, metricType string, pPrintFn PrettyPrintFn) Interface {
	return &meanMetric{baseMetric: baseMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: pPrintFn}}
}

func (m *meanMetric) Update(value float64) float64 {
	m.count++
	m.mean += (value - m.mean) / m.count
	return m.mean
}

func (m *meanMetric) Value() float64 { return m.mean }

func (m *meanMetric) Reset() {
	m.mean, m.count = 0, 0
}

// movingAverageMetric implements a metric that keeps the mean of a metric.
//
// It behaves just like a meanMetric, but each new value has weight of newExampleWeight, and
// the stored weight is capped at (1-newExampleWeight).
type movingAverageMetric struct {
	meanMetric
	newExampleWeight float64
}

// NewExponentialMovingAverageMetric creates a metric that takes new values with
// the given weight (newExampleWeight), and decays the rest to 1-newExampleWeight.
//
// A typical value of newExampleWeight is 0.01, the smaller the value, the slower the moving average moves.
// pPrintFn can be left as nil, and a default will be used.
//
// This doesn't have a set prior, it will start being a normal average until there are enough terms, and it becomes
// an exponential moving average.
func NewExponentialMovingAverageMetric(name, shortName, metricType string, pPrintFn PrettyPrintFn, newExampleWeight float64) Interface {
	return &movingAverageMetric{meanMetric: meanMetric{baseMetric: baseMetric{
		name: name, shortName: shortName, metricType: metricType, pPrintFn: pPrintFn}},
		newExampleWeight: newExampleWeight}
}

func (m *movingAverageMetric) Update(value float64) float64 {
	m.count++
	weight := math.Max(m.newExampleWeight, 1/m.count)
	m.mean = m.mean*(1-weight) + value*weight
	return m.mean
}
