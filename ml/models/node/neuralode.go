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

// Package node implements a reference learner for the train package: a neural ODE whose vector field
// is a feedforward network over the state concatenated with the context of the environment, and one
// context vector per environment.
package node

import (
	"github.com/nodebias/nodebias/ml/layers/fnn"
	"github.com/nodebias/nodebias/ml/layers/initializers"
	"github.com/nodebias/nodebias/ml/ode"
	"github.com/nodebias/nodebias/ml/params"
	"github.com/nodebias/nodebias/ml/train/gradients"
	"github.com/pkg/errors"
)

// VectorFieldScope is the prefix of the names of the network variables.
const VectorFieldScope = "vector_field"

// NeuralODE models dy/dt = f(y, c), with f a FNN and c the context of the environment.
//
// It is immutable: WithTrainable returns a new NeuralODE sharing the network and integrator.
type NeuralODE struct {
	net        *fnn.Network
	integrator ode.Integrator
	params     *params.Tree
}

var _ gradients.Differentiable[*NeuralODE] = (*NeuralODE)(nil)

// NewNeuralODE creates a NeuralODE with the network initialized from cfg.Seed.
func NewNeuralODE(cfg Config) (*NeuralODE, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	net, err := fnn.New(cfg.StateDim+cfg.ContextDim, cfg.StateDim).
		NumHiddenLayers(cfg.HiddenLayers, cfg.HiddenNodes).
		Activation(cfg.Activation).
		Scope(VectorFieldScope).
		Done()
	if err != nil {
		return nil, errors.WithMessage(err, "creating vector field network")
	}
	return &NeuralODE{
		net:        net,
		integrator: cfg.Integrator.Value,
		params:     net.Init(initializers.NewRNG(cfg.Seed)),
	}, nil
}

// Trainable implements gradients.Differentiable.
func (m *NeuralODE) Trainable() *params.Tree { return m.params }

// WithTrainable implements gradients.Differentiable.
func (m *NeuralODE) WithTrainable(p *params.Tree) *NeuralODE {
	return &NeuralODE{net: m.net, integrator: m.integrator, params: p}
}

// Integrator used to solve the ODE.
func (m *NeuralODE) Integrator() ode.Integrator { return m.integrator }

// VectorField returns the ODE function for the given context.
func (m *NeuralODE) VectorField(context []float64) ode.Func {
	stateDim := m.net.OutputDim()
	input := make([]float64, stateDim+len(context))
	copy(input[stateDim:], context)
	return func(_ float64, y, dy []float64) {
		copy(input[:stateDim], y)
		copy(dy, m.net.Apply(m.params, input))
	}
}

// Predict integrates the ODE from y0 at times[0], in the environment with the given context, and returns
// the states at all times, and the number of steps taken by the integrator.
func (m *NeuralODE) Predict(y0, context []float64, times []float64) ([][]float64, int, error) {
	if len(y0)+len(context) != m.net.InputDim() {
		return nil, 0, errors.Errorf("state (%d) plus context (%d) dimensions don't match the network input (%d)",
			len(y0), len(context), m.net.InputDim())
	}
	traj, numSteps, err := m.integrator.Integrate(m.VectorField(context), y0, times)
	if err != nil {
		return nil, numSteps, errors.WithMessagef(err, "integrating with %s", m.integrator.Name())
	}
	return traj, numSteps, nil
}
