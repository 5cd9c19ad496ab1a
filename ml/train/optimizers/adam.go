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
	"math"

	"github.com/nodebias/nodebias/ml/params"
	"github.com/pkg/errors"
)

const (
	// AdamDefaultLearningRate is used by Adam if no learning rate is set.
	AdamDefaultLearningRate = 0.001
)

var (
	// ParamAdamEpsilon can be used to configure the default value of epsilon. It must be a float64.
	ParamAdamEpsilon = "adam_epsilon"

	// ParamAdamBeta1 is the moving average coefficient for the gradient (momentum), the numerator.
	// The default value is 0.9
	ParamAdamBeta1 = "adam_beta1"

	// ParamAdamBeta2 is the moving average coefficient for the variance, the denominator.
	// The default value is 0.999
	ParamAdamBeta2 = "adam_beta2"
)

// Adam optimization is a stochastic gradient descent method that is based on adaptive estimation of first-order and
// second-order moments. According to [Kingma et al., 2014](http://arxiv.org/abs/1412.6980),
// the method is "*computationally efficient, has little memory requirement, invariant to diagonal rescaling of
// gradients, and is well suited for problems that are large in terms of data/parameters*".
//
// It returns a configuration object that can be used to set its parameters. Once configured call Done, and it
// will return an optimizers.Interface.
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: AdamDefaultLearningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
	}
}

// AdamConfig holds the configuration for an Adam configuration, create using Adam(), and once configured
// call Done to create an Adam based optimizers.Interface.
type AdamConfig struct {
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
	adamax       bool // Works as Adamax.
	schedule     Schedule
	clipping
}

// LearningRate sets the base learning rate. Default is AdamDefaultLearningRate.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas sets the two moving averages constants (exponential decays). They default to 0.9 and 0.999.
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon used on the denominator as a small constant for stability.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// Adamax configure Adam to use a L-infinity (== max, which gives the name) for
// the second moment, instead of L2, as described in the same Adam paper.
func (c *AdamConfig) Adamax() *AdamConfig {
	c.adamax = true
	return c
}

// Schedule sets a learning rate schedule. The default is a constant learning rate.
func (c *AdamConfig) Schedule(schedule Schedule) *AdamConfig {
	c.schedule = schedule
	return c
}

// ClipStepByValue see ParamClipStepByValue.
func (c *AdamConfig) ClipStepByValue(value float64) *AdamConfig {
	c.clipStepByValue = value
	return c
}

// ClipGradNorm see ParamClipGradNorm.
func (c *AdamConfig) ClipGradNorm(value float64) *AdamConfig {
	c.clipGradNorm = value
	return c
}

// FromParams will configure Adam with hyperparameters, if they are set.
// See ParamLearningRate, ParamAdamEpsilon, ParamAdamBeta1, ParamAdamBeta2, ParamClipStepByValue,
// ParamClipGradNorm and the schedule parameters (ScheduleFromParams).
func (c *AdamConfig) FromParams(p Params) *AdamConfig {
	c.learningRate = GetParamOr(p, ParamLearningRate, c.learningRate)
	c.epsilon = GetParamOr(p, ParamAdamEpsilon, c.epsilon)
	c.beta1 = GetParamOr(p, ParamAdamBeta1, c.beta1)
	c.beta2 = GetParamOr(p, ParamAdamBeta2, c.beta2)
	c.clipping.fromParams(p)
	if c.schedule == nil {
		c.schedule = ScheduleFromParams(p)
	}
	return c
}

// Done will finish the configuration and construct an optimizers.Interface that implements Adam to specification.
func (c *AdamConfig) Done() Interface {
	return &adam{config: *c}
}

// adam implements the Adam algorithm as an optimizers.Interface.
type adam struct {
	config AdamConfig
}

// AdamState holds the moments for each variable, in the order of the variables of the parameters
// it was initialized from.
type AdamState struct {
	Step  int
	Names []string
	Sizes []int

	// M is the first moment (moving average of the gradients) and V the second moment (moving average
	// of the square of the gradients, or for Adamax, the exponentially weighted infinity norm).
	M, V [][]float64
}

// NumSteps implements State.
func (s *AdamState) NumSteps() int { return s.Step }

// Init implements Interface.
func (o *adam) Init(p *params.Tree) (State, error) {
	state := &AdamState{}
	state.Names, state.Sizes = structureOf(p)
	state.M = make([][]float64, len(state.Sizes))
	state.V = make([][]float64, len(state.Sizes))
	for ii, size := range state.Sizes {
		state.M[ii] = make([]float64, size)
		state.V[ii] = make([]float64, size)
	}
	return state, nil
}

// Update implements Interface.
func (o *adam) Update(grads *params.Tree, state State) (*params.Tree, State, error) {
	s, ok := state.(*AdamState)
	if !ok {
		return nil, nil, errors.Errorf("adam optimizer: invalid state type %T", state)
	}
	if err := checkGrads(grads, s.Names, s.Sizes); err != nil {
		return nil, nil, err
	}
	if len(s.M) != len(s.Names) || len(s.V) != len(s.Names) {
		return nil, nil, errors.Errorf("adam optimizer: corrupt state with %d variables but %d/%d moments",
			len(s.Names), len(s.M), len(s.V))
	}
	cfg := &o.config
	grads = cfg.clipGrads(grads)
	newState := &AdamState{
		Step:  s.Step + 1,
		Names: s.Names,
		Sizes: s.Sizes,
		M:     make([][]float64, len(s.M)),
		V:     make([][]float64, len(s.V)),
	}
	t := float64(newState.Step)
	learningRate := cfg.learningRate * scheduleFactor(cfg.schedule, newState.Step)
	debiasM := 1.0 - math.Pow(cfg.beta1, t)
	debiasV := 1.0 - math.Pow(cfg.beta2, t)

	ii := 0
	updates := params.Map(grads, func(g *params.Variable) []float64 {
		m := make([]float64, len(g.Value))
		v := make([]float64, len(g.Value))
		step := make([]float64, len(g.Value))
		for jj, grad := range g.Value {
			m[jj] = cfg.beta1*s.M[ii][jj] + (1-cfg.beta1)*grad
			if cfg.adamax {
				v[jj] = math.Max(cfg.beta2*s.V[ii][jj], math.Abs(grad))
				step[jj] = -learningRate * (m[jj] / debiasM) / (v[jj] + cfg.epsilon)
			} else {
				v[jj] = cfg.beta2*s.V[ii][jj] + (1-cfg.beta2)*grad*grad
				step[jj] = -learningRate * (m[jj] / debiasM) / (math.Sqrt(v[jj]/debiasV) + cfg.epsilon)
			}
		}
		cfg.clipStep(step)
		newState.M[ii] = m
		newState.V[ii] = v
		ii++
		return step
	})
	return updates, newState, nil
}
