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
	"math"
	"slices"

	"github.com/pkg/errors"
)

// Dormand-Prince 5(4) Butcher tableau.
var (
	dopriC = [7]float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1, 1}
	dopriA = [7][6]float64{
		{},
		{1.0 / 5},
		{3.0 / 40, 9.0 / 40},
		{44.0 / 45, -56.0 / 15, 32.0 / 9},
		{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
		{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
	}
	// dopriE is the difference between the 5th and the embedded 4th order weights.
	dopriE = [7]float64{
		35.0/384 - 5179.0/57600,
		0,
		500.0/1113 - 7571.0/16695,
		125.0/192 - 393.0/640,
		-2187.0/6784 + 92097.0/339200,
		11.0/84 - 187.0/2100,
		-1.0 / 40,
	}
)

// Dopri5 is the adaptive step Dormand-Prince 5(4) integrator.
//
// The local error is controlled with a mixed tolerance: each component's error is scaled by
// ATol + RTol*max(|y|, |y_next|), and a step is accepted if the RMS of the scaled errors is <= 1.
type Dopri5 struct {
	RTol float64 `json:"rtol"`
	ATol float64 `json:"atol"`

	// MaxSteps is the maximum number of steps (accepted or rejected) for the whole integration.
	MaxSteps int `json:"max_steps"`

	// InitialStep, if > 0, is the first step size tried. Otherwise, 1% of the first interval is used.
	InitialStep float64 `json:"initial_step,omitempty"`
}

// NewDopri5 returns a Dopri5 integrator with rtol=1e-3, atol=1e-6 and at most 4096 steps.
func NewDopri5() *Dopri5 {
	return &Dopri5{RTol: 1e-3, ATol: 1e-6, MaxSteps: 4096}
}

// Name implements Integrator.
func (d *Dopri5) Name() string { return "dopri5" }

// JSONTags implements polymorphicjson.JSONIdentifiable.
func (d *Dopri5) JSONTags() (typeName string, interfaceName string) { return d.Name(), InterfaceName }

const (
	dopriSafety    = 0.9
	dopriMinFactor = 0.2
	dopriMaxFactor = 10.0
)

// Integrate implements Integrator.
func (d *Dopri5) Integrate(f Func, y0 []float64, times []float64) ([][]float64, int, error) {
	if err := checkTimes(y0, times); err != nil {
		return nil, 0, err
	}
	if d.RTol <= 0 && d.ATol <= 0 {
		return nil, 0, errors.Errorf("ode: dopri5 requires a positive RTol or ATol, got rtol=%g, atol=%g", d.RTol, d.ATol)
	}
	dim := len(y0)
	var k [7][]float64
	for ii := range k {
		k[ii] = make([]float64, dim)
	}
	tmp := make([]float64, dim)
	yNext := make([]float64, dim)
	y := slices.Clone(y0)
	traj := make([][]float64, 0, len(times))
	traj = append(traj, slices.Clone(y))
	if len(times) == 1 {
		return traj, 0, nil
	}

	h := d.InitialStep
	if h <= 0 {
		h = 0.01 * (times[1] - times[0])
	}
	t := times[0]
	numSteps := 0
	f(t, y, k[0])
	for ii := 1; ii < len(times); ii++ {
		tEnd := times[ii]
		for t < tEnd {
			if d.MaxSteps > 0 && numSteps >= d.MaxSteps {
				return nil, numSteps, errors.Errorf("ode: dopri5 reached the maximum number of steps (%d) at t=%g",
					d.MaxSteps, t)
			}
			// Don't step over the next output time.
			hStep := h
			if t+hStep >= tEnd {
				hStep = tEnd - t
			}
			for stage := 1; stage < 7; stage++ {
				copy(tmp, y)
				for jj := 0; jj < stage; jj++ {
					if a := dopriA[stage][jj]; a != 0 {
						for kk := range tmp {
							tmp[kk] += hStep * a * k[jj][kk]
						}
					}
				}
				if stage == 6 {
					copy(yNext, tmp)
				}
				f(t+dopriC[stage]*hStep, tmp, k[stage])
			}
			numSteps++

			// Scaled RMS error of the embedded solution.
			var sumSq float64
			for kk := range y {
				var errK float64
				for stage := range k {
					errK += dopriE[stage] * k[stage][kk]
				}
				errK *= hStep
				scale := d.ATol + d.RTol*math.Max(math.Abs(y[kk]), math.Abs(yNext[kk]))
				sumSq += (errK / scale) * (errK / scale)
			}
			errNorm := math.Sqrt(sumSq / float64(dim))
			if math.IsNaN(errNorm) || math.IsInf(errNorm, 0) {
				return nil, numSteps, errors.Errorf("ode: dopri5 diverged at t=%g", t)
			}

			factor := dopriMaxFactor
			if errNorm > 0 {
				factor = math.Min(dopriMaxFactor, math.Max(dopriMinFactor, dopriSafety*math.Pow(errNorm, -0.2)))
			}
			if errNorm <= 1 {
				// Accept: FSAL, the last stage is the derivative at the new point.
				clipped := hStep < h
				if hStep == tEnd-t {
					t = tEnd
				} else {
					t += hStep
				}
				copy(y, yNext)
				copy(k[0], k[6])
				if clipped {
					h = math.Max(h, hStep*factor)
				} else {
					h = hStep * factor
				}
				continue
			}
			h = hStep * factor
			if h < 1e-12*math.Max(1, math.Abs(t)) {
				return nil, numSteps, errors.Errorf("ode: dopri5 step size underflow at t=%g", t)
			}
		}
		if err := checkFinite(tEnd, y); err != nil {
			return nil, numSteps, err
		}
		traj = append(traj, slices.Clone(y))
	}
	return traj, numSteps, nil
}
