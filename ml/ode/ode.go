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

// Package ode implements numerical integrators for ordinary differential equations dy/dt = f(t, y).
//
// An Integrator solves an initial value problem and returns the solution sampled at the requested
// time points, along with the number of steps the solver took, which is reported by the learners as
// a diagnostic of how stiff the learned dynamics are.
//
// Two integrators are provided: RK4, the classic fixed step Runge-Kutta method, and Dopri5, the
// adaptive Dormand-Prince 5(4) method.
package ode

import (
	"math"
	"slices"

	"github.com/nodebias/nodebias/models/polymorphicjson"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Func computes the derivative dy/dt at time t and state y, and writes it to dy.
// It must not keep references to y or dy.
type Func func(t float64, y, dy []float64)

// Integrator solves an initial value problem.
//
// Integrators can be serialized to JSON with polymorphicjson.Wrapper[Integrator].
type Integrator interface {
	polymorphicjson.JSONIdentifiable

	// Integrate f from y0 at times[0], returning the state at each of the given times (so traj[0] is a
	// copy of y0), and the total number of steps (accepted and rejected) taken.
	//
	// Times must be strictly increasing.
	Integrate(f Func, y0 []float64, times []float64) (traj [][]float64, numSteps int, err error)

	// Name of the integrator, as used by ByName.
	Name() string
}

// KnownIntegrators maps names to constructors of integrators with default settings.
var KnownIntegrators = map[string]func() Integrator{
	"rk4":    func() Integrator { return NewRK4() },
	"dopri5": func() Integrator { return NewDopri5() },
}

// InterfaceName used to identify integrators in JSON.
const InterfaceName = "ode.Integrator"

func init() {
	polymorphicjson.Register(func() Integrator { return NewRK4() })
	polymorphicjson.Register(func() Integrator { return NewDopri5() })
}

// ByName returns an integrator with default settings given its name.
func ByName(name string) (Integrator, error) {
	builder, found := KnownIntegrators[name]
	if !found {
		names := make([]string, 0, len(KnownIntegrators))
		for key := range KnownIntegrators {
			names = append(names, key)
		}
		slices.Sort(names)
		return nil, errors.Errorf("unknown integrator %q, valid values are %q", name, names)
	}
	return builder(), nil
}

// checkTimes validates the time points and the initial state.
func checkTimes(y0, times []float64) error {
	if len(y0) == 0 {
		return errors.New("ode: empty initial state")
	}
	if len(times) == 0 {
		return errors.New("ode: no time points given")
	}
	for ii := 1; ii < len(times); ii++ {
		if !(times[ii] > times[ii-1]) {
			return errors.Errorf("ode: times must be strictly increasing, got times[%d]=%g after times[%d]=%g",
				ii, times[ii], ii-1, times[ii-1])
		}
	}
	return nil
}

// checkFinite returns an error if the state has a NaN or infinite value.
func checkFinite(t float64, y []float64) error {
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("ode: solution diverged at t=%g", t)
		}
	}
	return nil
}

// RK4 is the classic 4th order Runge-Kutta integrator, taking a fixed number of equally sized
// sub-steps between consecutive time points.
type RK4 struct {
	// SubSteps is the number of steps taken between consecutive time points. Defaults to 4.
	SubSteps int `json:"sub_steps"`
}

// NewRK4 returns a RK4 integrator with 4 sub-steps per interval.
func NewRK4() *RK4 {
	return &RK4{SubSteps: 4}
}

// Name implements Integrator.
func (r *RK4) Name() string { return "rk4" }

// JSONTags implements polymorphicjson.JSONIdentifiable.
func (r *RK4) JSONTags() (typeName string, interfaceName string) { return r.Name(), InterfaceName }

// Integrate implements Integrator.
func (r *RK4) Integrate(f Func, y0 []float64, times []float64) ([][]float64, int, error) {
	if err := checkTimes(y0, times); err != nil {
		return nil, 0, err
	}
	subSteps := max(r.SubSteps, 1)
	dim := len(y0)
	k1, k2, k3, k4 := make([]float64, dim), make([]float64, dim), make([]float64, dim), make([]float64, dim)
	tmp := make([]float64, dim)
	y := slices.Clone(y0)
	traj := make([][]float64, 0, len(times))
	traj = append(traj, slices.Clone(y))
	numSteps := 0
	for ii := 1; ii < len(times); ii++ {
		h := (times[ii] - times[ii-1]) / float64(subSteps)
		t := times[ii-1]
		for range subSteps {
			f(t, y, k1)
			floats.AddScaledTo(tmp, y, h/2, k1)
			f(t+h/2, tmp, k2)
			floats.AddScaledTo(tmp, y, h/2, k2)
			f(t+h/2, tmp, k3)
			floats.AddScaledTo(tmp, y, h, k3)
			f(t+h, tmp, k4)
			for jj := range y {
				y[jj] += h / 6 * (k1[jj] + 2*k2[jj] + 2*k3[jj] + k4[jj])
			}
			t += h
			numSteps++
		}
		if err := checkFinite(times[ii], y); err != nil {
			return nil, numSteps, err
		}
		traj = append(traj, slices.Clone(y))
	}
	return traj, numSteps, nil
}
