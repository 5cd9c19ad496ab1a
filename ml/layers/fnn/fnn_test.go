package fnn

import (
	"testing"

	"github.com/nodebias/nodebias/ml/layers/initializers"
	"github.com/nodebias/nodebias/ml/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinear(t *testing.T) {
	net, err := New(2, 3).Done()
	require.NoError(t, err)
	assert.Equal(t, 1, net.NumLayers())
	p := params.New().
		Add("fnn/layer_0/weights", []float64{1, 2, 3, 4, 5, 6}, 2, 3).
		Add("fnn/layer_0/biases", []float64{0.5, 0, -0.5})
	// y = x * W + b
	assert.Equal(t, []float64{9.5, 12, 14.5}, net.Apply(p, []float64{1, 2}))
}

func TestHiddenLayers(t *testing.T) {
	net, err := New(4, 2).NumHiddenLayers(2, 8).Activation("tanh").Scope("f").Done()
	require.NoError(t, err)
	p := net.Init(initializers.NewRNG(1))
	assert.Equal(t, []string{
		"f/layer_0/weights", "f/layer_0/biases",
		"f/layer_1/weights", "f/layer_1/biases",
		"f/layer_2/weights", "f/layer_2/biases",
	}, p.Names())
	assert.Equal(t, 4*8+8+8*8+8+8*2+2, p.Size())
	y := net.Apply(p, []float64{1, -1, 0.5, 0})
	assert.Len(t, y, 2)

	// Same seed, same parameters.
	assert.True(t, params.Equal(p, net.Init(initializers.NewRNG(1))))

	// No biases.
	net, err = New(4, 2).UseBias(false).Initializer(initializers.One).Done()
	require.NoError(t, err)
	p = net.Init(initializers.NewRNG(1))
	assert.Equal(t, []string{"fnn/layer_0/weights"}, p.Names())
	assert.Equal(t, []float64{2, 2}, net.Apply(p, []float64{1, 1, 1, -1}))
}

func TestErrors(t *testing.T) {
	_, err := New(2, 2).Activation("nope").Done()
	require.Error(t, err)
	_, err = New(0, 2).Done()
	require.Error(t, err)
	_, err = New(2, 2).NumHiddenLayers(-1, 3).Done()
	require.Error(t, err)

	net, err := New(2, 2).Done()
	require.NoError(t, err)
	p := net.Init(initializers.NewRNG(0))
	assert.Panics(t, func() { net.Apply(p, []float64{1}) })
	assert.Panics(t, func() { net.Apply(params.New(), []float64{1, 2}) })
}
