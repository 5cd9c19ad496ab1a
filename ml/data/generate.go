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

package data

import (
	"math/rand/v2"

	"github.com/nodebias/nodebias/ml/ode"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LotkaVolterraParams are the coefficients of the predator-prey equations:
//
//	dx/dt = Alpha*x - Beta*x*y
//	dy/dt = Delta*x*y - Gamma*y
type LotkaVolterraParams struct {
	Alpha, Beta, Gamma, Delta float64
}

// Func returns the vector field of the equations.
func (p LotkaVolterraParams) Func() ode.Func {
	return func(_ float64, y, dy []float64) {
		dy[0] = p.Alpha*y[0] - p.Beta*y[0]*y[1]
		dy[1] = p.Delta*y[0]*y[1] - p.Gamma*y[1]
	}
}

// LotkaVolterraConfig configures the generation of a multi-environment predator-prey dataset, where
// each environment has its own coefficients. Create it with LotkaVolterra, and once configured call
// Generate or Dataset.
type LotkaVolterraConfig struct {
	envs             []LotkaVolterraParams
	numTrajectories  int
	horizon          float64
	numTimes         int
	initMin, initMax float64
	seed             uint64
	integrator       ode.Integrator
}

// LotkaVolterra returns the default configuration: 4 environments with Alpha=Gamma=0.5 and
// Beta, Delta in {0.5, 0.75}; 4 trajectories per environment sampled at 20 points over [0, 10);
// initial populations uniform in [1, 3); integrated with RK4 (10 sub-steps per interval).
func LotkaVolterra() *LotkaVolterraConfig {
	c := &LotkaVolterraConfig{
		numTrajectories: 4,
		horizon:         10,
		numTimes:        20,
		initMin:         1,
		initMax:         3,
		integrator:      &ode.RK4{SubSteps: 10},
	}
	for _, beta := range []float64{0.5, 0.75} {
		for _, delta := range []float64{0.5, 0.75} {
			c.envs = append(c.envs, LotkaVolterraParams{Alpha: 0.5, Beta: beta, Gamma: 0.5, Delta: delta})
		}
	}
	return c
}

// Environments sets the coefficients of each environment.
func (c *LotkaVolterraConfig) Environments(envs ...LotkaVolterraParams) *LotkaVolterraConfig {
	c.envs = envs
	return c
}

// Trajectories sets the number of trajectories per environment.
func (c *LotkaVolterraConfig) Trajectories(numTrajectories int) *LotkaVolterraConfig {
	c.numTrajectories = numTrajectories
	return c
}

// Horizon sets the time horizon and the number of equally spaced time points, starting at 0.
func (c *LotkaVolterraConfig) Horizon(horizon float64, numTimes int) *LotkaVolterraConfig {
	c.horizon = horizon
	c.numTimes = numTimes
	return c
}

// InitialRange sets the range of the uniformly sampled initial populations.
func (c *LotkaVolterraConfig) InitialRange(initMin, initMax float64) *LotkaVolterraConfig {
	c.initMin, c.initMax = initMin, initMax
	return c
}

// Seed sets the seed of the random initial populations.
func (c *LotkaVolterraConfig) Seed(seed uint64) *LotkaVolterraConfig {
	c.seed = seed
	return c
}

// Integrator sets the integrator used to generate the trajectories.
func (c *LotkaVolterraConfig) Integrator(integrator ode.Integrator) *LotkaVolterraConfig {
	c.integrator = integrator
	return c
}

// Generate the trajectories, indexed as [env][traj][time][dim], and the times they are sampled at.
// The same initial populations are used across environments.
func (c *LotkaVolterraConfig) Generate() (trajectories [][][][]float64, times []float64, err error) {
	if len(c.envs) == 0 || c.numTrajectories <= 0 {
		return nil, nil, errors.Errorf("lotka-volterra: needs at least one environment and one trajectory, got %d and %d",
			len(c.envs), c.numTrajectories)
	}
	if c.numTimes < 2 || c.horizon <= 0 {
		return nil, nil, errors.Errorf("lotka-volterra: invalid horizon %g with %d time points", c.horizon, c.numTimes)
	}
	if c.initMin <= 0 || c.initMax < c.initMin {
		return nil, nil, errors.Errorf("lotka-volterra: invalid initial range [%g, %g)", c.initMin, c.initMax)
	}
	times = make([]float64, c.numTimes)
	for ii := range times {
		times[ii] = c.horizon * float64(ii) / float64(c.numTimes)
	}
	rng := rand.New(rand.NewPCG(c.seed, c.seed^0x5DEECE66D))
	initialStates := make([][]float64, c.numTrajectories)
	for ii := range initialStates {
		initialStates[ii] = []float64{
			c.initMin + (c.initMax-c.initMin)*rng.Float64(),
			c.initMin + (c.initMax-c.initMin)*rng.Float64(),
		}
	}
	trajectories = make([][][][]float64, len(c.envs))
	var totalSteps int
	for env, envParams := range c.envs {
		trajectories[env] = make([][][]float64, c.numTrajectories)
		for traj, y0 := range initialStates {
			states, numSteps, err := c.integrator.Integrate(envParams.Func(), y0, times)
			if err != nil {
				return nil, nil, errors.WithMessagef(err, "lotka-volterra: integrating environment #%d, trajectory #%d", env, traj)
			}
			trajectories[env][traj] = states
			totalSteps += numSteps
		}
	}
	klog.V(1).Infof("Generated Lotka-Volterra dataset: %d environments x %d trajectories x %d time points (%d integrator steps)",
		len(c.envs), c.numTrajectories, c.numTimes, totalSteps)
	return trajectories, times, nil
}

// Dataset generates the trajectories and returns them as an InMemory dataset.
func (c *LotkaVolterraConfig) Dataset(name string, batchSize int) (*InMemory, error) {
	trajectories, times, err := c.Generate()
	if err != nil {
		return nil, err
	}
	return NewInMemory(name, trajectories, times, batchSize)
}
