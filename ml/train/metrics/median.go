package metrics

import "slices"

// DefaultMedianWindow is the number of values kept by median metrics when windowSize <= 0.
const DefaultMedianWindow = 101

// windowedMedianMetric reports the exact median of the last values it was updated with.
type windowedMedianMetric struct {
	baseMetric

	window []float64 // Ring buffer with the last values.
	next   int       // Position in window of the next value.
	full   bool      // Whether the window has wrapped around.
	sorted []float64 // Scratch space.
	median float64
}

// NewMedianMetric creates a metric that reports the median of the last windowSize values (or
// DefaultMedianWindow if windowSize <= 0).
//
// The median of an even number of values is the mean of the two central ones.
//
// prettyPrintFn can be left as nil, and a default will be used.
func NewMedianMetric(name, shortName, metricType string, windowSize int, prettyPrintFn PrettyPrintFn) Interface {
	if windowSize <= 0 {
		windowSize = DefaultMedianWindow
	}
	return &windowedMedianMetric{
		baseMetric: baseMetric{name: name, shortName: shortName, metricType: metricType, pPrintFn: prettyPrintFn},
		window:     make([]float64, windowSize),
		sorted:     make([]float64, 0, windowSize),
	}
}

// Update implements Interface: it takes one more value and returns the median of the window.
func (m *windowedMedianMetric) Update(x float64) float64 {
	m.window[m.next] = x
	m.next++
	if m.next == len(m.window) {
		m.next = 0
		m.full = true
	}
	values := m.window[:m.next]
	if m.full {
		values = m.window
	}
	m.sorted = append(m.sorted[:0], values...)
	slices.Sort(m.sorted)
	n := len(m.sorted)
	if n%2 == 1 {
		m.median = m.sorted[n/2]
	} else {
		m.median = (m.sorted[n/2-1] + m.sorted[n/2]) / 2
	}
	return m.median
}

// Value implements Interface.
func (m *windowedMedianMetric) Value() float64 {
	return m.median
}

// Reset implements Interface.
func (m *windowedMedianMetric) Reset() {
	m.next, m.full, m.median = 0, false, 0
}
