package initializers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitializers(t *testing.T) {
	rng := NewRNG(1)
	assert.Equal(t, []float64{0, 0, 0}, Zero(rng, []int{3}))
	assert.Equal(t, []float64{1, 1, 1, 1}, One(rng, []int{2, 2}))

	values := RandomUniformFn(-1, 2)(rng, []int{100})
	assert.Len(t, values, 100)
	for _, v := range values {
		assert.GreaterOrEqual(t, v, -1.0)
		assert.Less(t, v, 2.0)
	}

	limit := math.Sqrt(6.0 / (4 + 8))
	weights := XavierUniform(rng, []int{4, 8})
	assert.Len(t, weights, 32)
	for _, v := range weights {
		assert.LessOrEqual(t, math.Abs(v), limit)
	}

	normal := RandomNormalFn(0.01)(rng, []int{1000})
	var sum float64
	for _, v := range normal {
		sum += v
	}
	assert.InDelta(t, 0.0, sum/1000, 0.01)

	// Same seed, same values.
	assert.Equal(t, XavierUniform(NewRNG(7), []int{3, 3}), XavierUniform(NewRNG(7), []int{3, 3}))
}
