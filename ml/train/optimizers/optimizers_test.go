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

package optimizers

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/nodebias/nodebias/ml/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quadraticParams() *params.Tree {
	return params.New().
		Add("a", []float64{1, -2}).
		Add("b", []float64{3})
}

// quadraticGrads returns the gradient of 0.5*||p||^2, which is p itself.
func quadraticGrads(p *params.Tree) *params.Tree {
	return p.Clone()
}

func minimize(t *testing.T, opt Interface, numSteps int) (*params.Tree, State) {
	p := quadraticParams()
	state, err := opt.Init(p)
	require.NoError(t, err)
	for range numSteps {
		var updates *params.Tree
		updates, state, err = opt.Update(quadraticGrads(p), state)
		require.NoError(t, err)
		p = p.Apply(updates)
	}
	return p, state
}

func TestSGD(t *testing.T) {
	opt := StochasticGradientDescent().LearningRate(0.5).Done()
	p := quadraticParams()
	state, err := opt.Init(p)
	require.NoError(t, err)
	updates, newState, err := opt.Update(quadraticGrads(p), state)
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.5, 1}, updates.MustGet("a").Value)
	assert.Equal(t, []float64{-1.5}, updates.MustGet("b").Value)
	assert.Equal(t, 0, state.NumSteps(), "input state must not change")
	assert.Equal(t, 1, newState.NumSteps())

	p, state = minimize(t, StochasticGradientDescent().LearningRate(0.1).Momentum(0.5, false).Done(), 100)
	assert.Less(t, p.Norm(), 1e-6)
	assert.Equal(t, 100, state.NumSteps())
}

func TestAdam(t *testing.T) {
	// First step of Adam is -lr * sign(grad), modulo epsilon.
	opt := Adam().LearningRate(0.1).Done()
	p := quadraticParams()
	state, err := opt.Init(p)
	require.NoError(t, err)
	updates, _, err := opt.Update(quadraticGrads(p), state)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-0.1, 0.1}, updates.MustGet("a").Value, 1e-6)
	assert.InDeltaSlice(t, []float64{-0.1}, updates.MustGet("b").Value, 1e-6)

	for _, name := range []string{"adam", "adamax"} {
		opt, err := ByName(Params{ParamLearningRate: 0.05}, name)
		require.NoError(t, err)
		p, state := minimize(t, opt, 1000)
		assert.Less(t, p.Norm(), 0.1, "optimizer %q didn't converge: %s", name, p)
		assert.Equal(t, 1000, state.NumSteps())
	}
}

func TestByName(t *testing.T) {
	assert.Equal(t, []string{"adam", "adamax", "sgd"}, KnownNames())
	_, err := ByName(nil, "lbfgs")
	require.Error(t, err)

	opt, err := FromParams(nil)
	require.NoError(t, err)
	_, isAdam := opt.(*adam)
	assert.True(t, isAdam, "default optimizer should be adam")

	// Wrong state type.
	sgdState, err := StochasticGradientDescent().Done().Init(quadraticParams())
	require.NoError(t, err)
	_, _, err = opt.Update(quadraticParams(), sgdState)
	require.Error(t, err)

	// Gradients of a different structure.
	adamState, err := opt.Init(quadraticParams())
	require.NoError(t, err)
	_, _, err = opt.Update(params.New().Add("a", []float64{1, 2}), adamState)
	require.Error(t, err)
}

func TestClipping(t *testing.T) {
	opt := StochasticGradientDescent().LearningRate(1).ClipGradNorm(1).Done()
	state, err := opt.Init(quadraticParams())
	require.NoError(t, err)
	grads := params.New().Add("a", []float64{3, 0}).Add("b", []float64{4})
	updates, _, err := opt.Update(grads, state)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, updates.Norm(), 1e-9)

	opt = StochasticGradientDescent().FromParams(Params{ParamLearningRate: 1.0, ParamClipStepByValue: 0.5}).Done()
	updates, _, err = opt.Update(grads, state)
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.5, 0}, updates.MustGet("a").Value)
	assert.Equal(t, []float64{-0.5}, updates.MustGet("b").Value)
}

func TestStateSerialization(t *testing.T) {
	for _, name := range KnownNames() {
		opt, err := ByName(Params{ParamSGDMomentum: 0.9}, name)
		require.NoError(t, err)
		_, state := minimize(t, opt, 3)

		var buf bytes.Buffer
		require.NoError(t, EncodeState(&buf, state))
		decoded, err := DecodeState(&buf)
		require.NoError(t, err)
		assert.Equal(t, state, decoded, "optimizer %q", name)

		// Continuing from the decoded state must give the same update.
		p := quadraticParams()
		u1, _, err := opt.Update(quadraticGrads(p), state)
		require.NoError(t, err)
		u2, _, err := opt.Update(quadraticGrads(p), decoded)
		require.NoError(t, err)
		assert.True(t, params.Equal(u1, u2))
	}

	filePath := filepath.Join(t.TempDir(), "opt_state.gob")
	_, state := minimize(t, Adam().Done(), 2)
	require.NoError(t, SaveState(filePath, state))
	loaded, err := LoadState(filePath)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.NumSteps())
	_, err = LoadState(filepath.Join(t.TempDir(), "missing.gob"))
	require.Error(t, err)
	require.Error(t, EncodeState(&bytes.Buffer{}, nil))
}

func TestAdamNoNaN(t *testing.T) {
	opt := Adam().Done()
	p := params.New().Add("x", []float64{0, 0})
	state, err := opt.Init(p)
	require.NoError(t, err)
	updates, _, err := opt.Update(p.ZerosLike(), state)
	require.NoError(t, err)
	for _, v := range updates.MustGet("x").Value {
		assert.False(t, math.IsNaN(v))
		assert.Equal(t, 0.0, v)
	}
}
