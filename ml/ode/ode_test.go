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

package ode

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/nodebias/nodebias/models/polymorphicjson"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decay(_ float64, y, dy []float64) {
	for ii := range y {
		dy[ii] = -y[ii]
	}
}

// oscillator is the harmonic oscillator x'' = -x, as a first order system.
func oscillator(_ float64, y, dy []float64) {
	dy[0] = y[1]
	dy[1] = -y[0]
}

func TestIntegrators(t *testing.T) {
	times := []float64{0, 0.5, 1, 2}
	for _, name := range []string{"rk4", "dopri5"} {
		t.Run(name, func(t *testing.T) {
			integrator, err := ByName(name)
			require.NoError(t, err)
			assert.Equal(t, name, integrator.Name())
			if dopri, ok := integrator.(*Dopri5); ok {
				dopri.RTol, dopri.ATol = 1e-7, 1e-9
			}

			y0 := []float64{1, 2}
			traj, numSteps, err := integrator.Integrate(decay, y0, times)
			require.NoError(t, err)
			require.Len(t, traj, len(times))
			assert.Equal(t, []float64{1, 2}, traj[0])
			assert.Equal(t, []float64{1, 2}, y0, "initial state must not be modified")
			assert.Greater(t, numSteps, 0)
			for ii, tt := range times {
				assert.InDelta(t, math.Exp(-tt), traj[ii][0], 1e-4, "t=%g", tt)
				assert.InDelta(t, 2*math.Exp(-tt), traj[ii][1], 2e-4, "t=%g", tt)
			}

			traj, _, err = integrator.Integrate(oscillator, []float64{1, 0}, []float64{0, math.Pi / 2, math.Pi})
			require.NoError(t, err)
			assert.InDelta(t, 0.0, traj[1][0], 1e-3)
			assert.InDelta(t, -1.0, traj[1][1], 1e-3)
			assert.InDelta(t, -1.0, traj[2][0], 1e-3)
		})
	}
}

func TestRK4NumSteps(t *testing.T) {
	rk4 := &RK4{SubSteps: 3}
	_, numSteps, err := rk4.Integrate(decay, []float64{1}, []float64{0, 1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 9, numSteps)
}

func TestDopri5Tolerance(t *testing.T) {
	loose := &Dopri5{RTol: 1e-2, ATol: 1e-4, MaxSteps: 1000}
	tight := &Dopri5{RTol: 1e-8, ATol: 1e-10, MaxSteps: 100000}
	times := []float64{0, 10}
	trajLoose, stepsLoose, err := loose.Integrate(oscillator, []float64{1, 0}, times)
	require.NoError(t, err)
	trajTight, stepsTight, err := tight.Integrate(oscillator, []float64{1, 0}, times)
	require.NoError(t, err)
	assert.Greater(t, stepsTight, stepsLoose)
	assert.InDelta(t, math.Cos(10), trajTight[1][0], 1e-6)
	assert.Less(t, math.Abs(trajTight[1][0]-math.Cos(10)), math.Abs(trajLoose[1][0]-math.Cos(10))+1e-12)

	limited := &Dopri5{RTol: 1e-10, ATol: 1e-12, MaxSteps: 5}
	_, numSteps, err := limited.Integrate(oscillator, []float64{1, 0}, times)
	require.Error(t, err)
	assert.Equal(t, 5, numSteps)
}

func TestIntegrateErrors(t *testing.T) {
	for _, integrator := range []Integrator{NewRK4(), NewDopri5()} {
		_, _, err := integrator.Integrate(decay, []float64{1}, []float64{0, 1, 1})
		require.Error(t, err, "times not strictly increasing")
		_, _, err = integrator.Integrate(decay, nil, []float64{0, 1})
		require.Error(t, err, "empty state")
		_, _, err = integrator.Integrate(decay, []float64{1}, nil)
		require.Error(t, err, "no times")

		blowUp := func(_ float64, y, dy []float64) { dy[0] = math.Inf(1) }
		_, _, err = integrator.Integrate(blowUp, []float64{1}, []float64{0, 1})
		require.Error(t, err, "%s should detect divergence", integrator.Name())
	}
	_, err := ByName("euler")
	require.Error(t, err)
}

func TestIntegratorJSON(t *testing.T) {
	type config struct {
		Integrator polymorphicjson.Wrapper[Integrator] `json:"integrator"`
	}
	for _, integrator := range []Integrator{&RK4{SubSteps: 7}, &Dopri5{RTol: 1e-5, ATol: 1e-8, MaxSteps: 100}} {
		jsonData, err := json.Marshal(config{Integrator: polymorphicjson.Wrap(integrator)})
		require.NoError(t, err)
		assert.Contains(t, string(jsonData), `"json_type":"`+integrator.Name()+`"`)
		var loaded config
		require.NoError(t, json.Unmarshal(jsonData, &loaded))
		assert.Equal(t, integrator, loaded.Integrator.Value)
	}
}
