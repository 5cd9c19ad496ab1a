package activations

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	assert.Equal(t, 0.0, Apply(TypeRelu, -2))
	assert.Equal(t, 2.0, Apply(TypeRelu, 2))
	assert.InDelta(t, -0.6, Apply(TypeLeakyRelu, -2), 1e-12)
	assert.InDelta(t, 0.5, Apply(TypeSigmoid, 0), 1e-12)
	assert.InDelta(t, math.Tanh(0.3), Apply(TypeTanh, 0.3), 1e-12)
	assert.InDelta(t, 1/(1+math.Exp(-1)), Apply(TypeSwish, 1), 1e-12)
	assert.Equal(t, Apply(TypeSwish, 0.7), Apply(TypeSilu, 0.7))
	assert.InDelta(t, seluScale*2, Apply(TypeSelu, 2), 1e-12)
	assert.Equal(t, -3.0, Apply(TypeNone, -3))
	assert.Panics(t, func() { Apply(Type(100), 1) })

	x := []float64{-1, 0, 1}
	ApplyInPlace(TypeRelu, x)
	assert.Equal(t, []float64{0, 0, 1}, x)
}

func TestFromName(t *testing.T) {
	for _, name := range TypeValues() {
		activation, err := FromName(name)
		require.NoError(t, err)
		assert.Equal(t, name, activation.String())
	}
	activation, err := FromName("")
	require.NoError(t, err)
	assert.Equal(t, TypeNone, activation)
	_, err = FromName("gelu")
	require.Error(t, err)
	assert.Equal(t, "Type(100)", Type(100).String())
}
