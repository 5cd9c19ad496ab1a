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

// Package optimizers implements a collection of gradient based optimizers, that can be used by train.Trainer,
// or by themselves. They all implement optimizers.Interface.
//
// Optimizers are stateless objects: the state (moments, step counters, etc.) is created by Interface.Init
// and threaded explicitly through Interface.Update, which returns a new State and never changes the one
// given. This allows a trainer to hold more than one optimizer state, each evolving on its own schedule.
package optimizers

import (
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/nodebias/nodebias/ml/params"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Interface implemented by optimizer implementations.
type Interface interface {
	// Init creates a new optimizer state for the structure of the given parameters.
	// The state is only compatible with parameters (and gradients) of the same structure.
	Init(p *params.Tree) (State, error)

	// Update takes the gradients of the loss with respect to the parameters and the current state, and
	// returns the updates to be added to the parameters (see params.Tree.Apply) and the new state.
	//
	// The given state is not modified.
	Update(grads *params.Tree, state State) (updates *params.Tree, newState State, err error)
}

// State is the opaque state of an optimizer. Concrete states are registered with encoding/gob,
// see EncodeState and DecodeState.
type State interface {
	// NumSteps returns the number of updates already taken with this state.
	NumSteps() int
}

// Params holds hyperparameters used to create optimizers by name. See KnownOptimizers.
type Params map[string]any

// GetParamOr returns the parameter value for key converted to T, or defaultValue if it is not set
// or of a different type.
func GetParamOr[T any](p Params, key string, defaultValue T) T {
	if p == nil {
		return defaultValue
	}
	vAny, found := p[key]
	if !found {
		return defaultValue
	}
	v, ok := vAny.(T)
	if !ok {
		return defaultValue
	}
	return v
}

var (
	// KnownOptimizers is a map of known optimizers by name to their default constructors.
	// This provides an easy quick start point. One can hyperparameter-tune the optimizers
	// for usually slightly better results.
	KnownOptimizers = map[string]func(p Params) Interface{
		"sgd":    func(p Params) Interface { return StochasticGradientDescent().FromParams(p).Done() },
		"adam":   func(p Params) Interface { return Adam().FromParams(p).Done() },
		"adamax": func(p Params) Interface { return Adam().Adamax().FromParams(p).Done() },
	}

	// ParamOptimizer is the parameter with the name of the optimizer.
	// The default value is "adam", and the valid values are "sgd", "adam" and "adamax".
	ParamOptimizer = "optimizer"

	// ParamLearningRate is the parameter name for the learning rate. It is used by all optimizers.
	ParamLearningRate = "learning_rate"

	// ParamClipStepByValue is a clip scalar value for each individual value of the update, after
	// being scaled by the learning rate and optimizer.
	// The step applied will be `Clip(step, -clip_step_by_value, +clip_step_by_value)`.
	// Defaults to no clipping, and values are expected to be float64.
	ParamClipStepByValue = "clip_step_by_value"

	// ParamClipGradNorm, if > 0, rescales the gradients so their global L2 norm is at most this value,
	// before they are used by the optimizer.
	ParamClipGradNorm = "clip_grad_norm"
)

// FromParams creates an optimizer from the hyperparameters.
// See [ParamOptimizer]. The default is "adam".
func FromParams(p Params) (Interface, error) {
	return ByName(p, GetParamOr(p, ParamOptimizer, "adam"))
}

// ByName returns an optimizer given the name, configured with the given hyperparameters (it can be nil).
func ByName(p Params, optName string) (Interface, error) {
	optBuilder, found := KnownOptimizers[optName]
	if !found {
		return nil, errors.Errorf("unknown optimizer %q, valid values are %v", optName, KnownNames())
	}
	return optBuilder(p), nil
}

// KnownNames returns the sorted names of the KnownOptimizers.
func KnownNames() []string {
	names := make([]string, 0, len(KnownOptimizers))
	for name := range KnownOptimizers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// clipping holds the common clipping configuration for all optimizers.
type clipping struct {
	clipStepByValue float64
	clipGradNorm    float64
}

func (c *clipping) fromParams(p Params) {
	c.clipStepByValue = GetParamOr(p, ParamClipStepByValue, c.clipStepByValue)
	c.clipGradNorm = GetParamOr(p, ParamClipGradNorm, c.clipGradNorm)
}

// clipGrads rescales the gradients if their global norm is larger than clipGradNorm.
func (c *clipping) clipGrads(grads *params.Tree) *params.Tree {
	if c.clipGradNorm <= 0 {
		return grads
	}
	norm := grads.Norm()
	if norm <= c.clipGradNorm {
		return grads
	}
	return grads.Scale(c.clipGradNorm / norm)
}

// clipStep clips each value of the update in place.
func (c *clipping) clipStep(step []float64) {
	if c.clipStepByValue <= 0 {
		return
	}
	for ii, v := range step {
		step[ii] = math.Max(-c.clipStepByValue, math.Min(c.clipStepByValue, v))
	}
}

// checkGrads verifies the gradients structure matches the state's.
func checkGrads(grads *params.Tree, names []string, sizes []int) error {
	if grads == nil {
		return errors.New("optimizer: nil gradients")
	}
	if grads.NumVariables() != len(names) {
		return errors.Errorf("optimizer: state created for %d variables (%q), but gradients have %d variables (%q)",
			len(names), names, grads.NumVariables(), grads.Names())
	}
	var err error
	ii := 0
	grads.EnumerateVariables(func(v *params.Variable) {
		if err != nil {
			return
		}
		if v.Name != names[ii] || v.Size() != sizes[ii] {
			err = errors.Errorf("optimizer: state variable #%d is %q (size %d), but gradient is %q (size %d)",
				ii, names[ii], sizes[ii], v.Name, v.Size())
		}
		ii++
	})
	return err
}

// structureOf returns names and sizes of the variables of p.
func structureOf(p *params.Tree) (names []string, sizes []int) {
	if p == nil {
		exceptions.Panicf("optimizer: nil parameters")
	}
	names = p.Names()
	sizes = make([]int, 0, len(names))
	p.EnumerateVariables(func(v *params.Variable) {
		sizes = append(sizes, v.Size())
	})
	return
}

// SGDDefaultLearningRate is the default learning rate used by the StochasticGradientDescent optimizer.
const SGDDefaultLearningRate = 0.1

// SGDConfig holds the configuration of a stochastic gradient descent optimizer, created with
// StochasticGradientDescent. Once configured call Done.
type SGDConfig struct {
	learningRate float64
	momentum     float64
	nesterov     bool
	schedule     Schedule
	clipping
}

// StochasticGradientDescent creates the configuration of an optimizer that performs SGD, optionally with momentum.
func StochasticGradientDescent() *SGDConfig {
	return &SGDConfig{learningRate: SGDDefaultLearningRate}
}

// LearningRate sets the base learning rate. Default is SGDDefaultLearningRate.
func (c *SGDConfig) LearningRate(value float64) *SGDConfig {
	c.learningRate = value
	return c
}

// Momentum sets the momentum factor (0 disables it, the default). If nesterov is true it uses
// Nesterov momentum.
func (c *SGDConfig) Momentum(momentum float64, nesterov bool) *SGDConfig {
	c.momentum = momentum
	c.nesterov = nesterov
	return c
}

// Schedule sets a learning rate schedule. The default is a constant learning rate.
func (c *SGDConfig) Schedule(schedule Schedule) *SGDConfig {
	c.schedule = schedule
	return c
}

// ClipStepByValue see ParamClipStepByValue.
func (c *SGDConfig) ClipStepByValue(value float64) *SGDConfig {
	c.clipStepByValue = value
	return c
}

// ClipGradNorm see ParamClipGradNorm.
func (c *SGDConfig) ClipGradNorm(value float64) *SGDConfig {
	c.clipGradNorm = value
	return c
}

// ParamSGDMomentum is the hyperparameter for SGD momentum, see SGDConfig.Momentum.
var ParamSGDMomentum = "sgd_momentum"

// FromParams reads the learning rate, momentum and clipping hyperparameters, if set.
func (c *SGDConfig) FromParams(p Params) *SGDConfig {
	c.learningRate = GetParamOr(p, ParamLearningRate, c.learningRate)
	c.momentum = GetParamOr(p, ParamSGDMomentum, c.momentum)
	c.clipping.fromParams(p)
	if c.schedule == nil {
		c.schedule = ScheduleFromParams(p)
	}
	return c
}

// Done finishes the configuration and returns the optimizer.
func (c *SGDConfig) Done() Interface {
	return &sgd{config: *c}
}

type sgd struct {
	config SGDConfig
}

// SGDState is the state of the StochasticGradientDescent optimizer.
type SGDState struct {
	Step     int
	Names    []string
	Sizes    []int
	Velocity [][]float64 // Only used with momentum.
}

// NumSteps implements State.
func (s *SGDState) NumSteps() int { return s.Step }

// Init implements Interface.
func (o *sgd) Init(p *params.Tree) (State, error) {
	state := &SGDState{}
	state.Names, state.Sizes = structureOf(p)
	if o.config.momentum > 0 {
		state.Velocity = make([][]float64, len(state.Sizes))
		for ii, size := range state.Sizes {
			state.Velocity[ii] = make([]float64, size)
		}
	}
	return state, nil
}

// Update implements Interface.
func (o *sgd) Update(grads *params.Tree, state State) (*params.Tree, State, error) {
	s, ok := state.(*SGDState)
	if !ok {
		return nil, nil, errors.Errorf("sgd optimizer: invalid state type %T", state)
	}
	if err := checkGrads(grads, s.Names, s.Sizes); err != nil {
		return nil, nil, err
	}
	cfg := &o.config
	grads = cfg.clipGrads(grads)
	newState := &SGDState{Step: s.Step + 1, Names: s.Names, Sizes: s.Sizes}
	learningRate := cfg.learningRate * scheduleFactor(cfg.schedule, newState.Step)
	useMomentum := cfg.momentum > 0 && s.Velocity != nil
	if useMomentum {
		newState.Velocity = make([][]float64, len(s.Velocity))
	}
	ii := 0
	updates := params.Map(grads, func(g *params.Variable) []float64 {
		step := append([]float64(nil), g.Value...)
		if useMomentum {
			velocity := append([]float64(nil), s.Velocity[ii]...)
			floats.Scale(cfg.momentum, velocity)
			floats.Add(velocity, g.Value)
			newState.Velocity[ii] = velocity
			if cfg.nesterov {
				floats.AddScaled(step, cfg.momentum, velocity)
			} else {
				copy(step, velocity)
			}
		}
		floats.Scale(-learningRate, step)
		cfg.clipStep(step)
		ii++
		return step
	})
	return updates, newState, nil
}
