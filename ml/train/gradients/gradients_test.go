/*
 *	Copyright 2025 Jan Pfeifer
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

package gradients

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/nodebias/nodebias/ml/params"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

// scaledModel has a trainable tree and a non-trainable scale.
type scaledModel struct {
	weights *params.Tree
	scale   float64
}

func (m scaledModel) Trainable() *params.Tree { return m.weights }

func (m scaledModel) WithTrainable(p *params.Tree) scaledModel {
	m.weights = p
	return m
}

// loss = scale * (x0^2 + 3*x1 + x0*y0)
func scaledLoss(m scaledModel) (float64, int, error) {
	x := m.weights.MustGet("x").Value
	y := m.weights.MustGet("y").Value
	return m.scale * (x[0]*x[0] + 3*x[1] + x[0]*y[0]), 7, nil
}

func TestValueAndGrad(t *testing.T) {
	m := scaledModel{
		weights: params.New().Add("x", []float64{2, -1}).Add("y", []float64{0.5}),
		scale:   2,
	}
	for _, settings := range []*Settings{nil, {Formula: fd.Central, Concurrent: true}, {Formula: fd.Forward}} {
		value, aux, grads, err := ValueAndGrad(scaledLoss, m, settings)
		require.NoError(t, err)
		assert.InDelta(t, 2*(4-3+1), value, 1e-12)
		assert.Equal(t, 7, aux)
		require.NoError(t, m.weights.CheckCompatible(grads))
		assert.InDeltaSlice(t, []float64{2 * (2*2 + 0.5), 2 * 3}, grads.MustGet("x").Value, 1e-4)
		assert.InDeltaSlice(t, []float64{2 * 2}, grads.MustGet("y").Value, 1e-4)
	}
	// The point itself must not be changed.
	assert.Equal(t, []float64{2, -1}, m.weights.MustGet("x").Value)
}

func TestValueAndGradTree(t *testing.T) {
	p := params.New().Add("w", []float64{1, 2, 3})
	sumSq := func(p *params.Tree) (float64, struct{}, error) {
		var sum float64
		for _, v := range p.MustGet("w").Value {
			sum += v * v
		}
		return sum, struct{}{}, nil
	}
	value, _, grads, err := ValueAndGrad(sumSq, p, DefaultSettings())
	require.NoError(t, err)
	assert.InDelta(t, 14.0, value, 1e-12)
	assert.InDeltaSlice(t, []float64{2, 4, 6}, grads.MustGet("w").Value, 1e-5)
}

func TestValueAndGradErrors(t *testing.T) {
	p := params.New().Add("w", []float64{1})
	failing := func(p *params.Tree) (float64, int, error) {
		return 0, 0, errors.New("boom")
	}
	_, _, _, err := ValueAndGrad(failing, p, nil)
	require.ErrorContains(t, err, "boom")

	// Fails only away from the origin.
	failsPerturbed := func(p *params.Tree) (float64, int, error) {
		if p.MustGet("w").Value[0] != 1 {
			return 0, 0, errors.New("perturbed")
		}
		return 1, 0, nil
	}
	_, _, _, err = ValueAndGrad(failsPerturbed, p, &Settings{Formula: fd.Central, Concurrent: true})
	require.ErrorContains(t, err, "perturbed")

	panicking := func(p *params.Tree) (float64, int, error) {
		_ = p.MustGet("missing")
		return 0, 0, nil
	}
	_, _, _, err = ValueAndGrad(panicking, p, nil)
	require.Error(t, err)
	require.NotPanics(t, func() {
		_ = exceptions.TryCatch[error](func() { _, _, _, _ = ValueAndGrad(panicking, p, nil) })
	})

	_, _, _, err = ValueAndGrad(failing, params.New(), nil)
	require.Error(t, err, "no trainable parameters")

	formula, err := FormulaByName("forward")
	require.NoError(t, err)
	assert.Equal(t, fd.Forward.Stencil, formula.Stencil)
	_, err = FormulaByName("spline")
	require.Error(t, err)
}
