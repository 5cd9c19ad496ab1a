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

// Package initializers include several weight initializers, used to create the values of new variables.
package initializers

import (
	"math"
	"math/rand/v2"

	"github.com/nodebias/nodebias/ml/params"
)

// VariableInitializer returns the values to initialize a variable of the given shape, using rng as
// the source of randomness.
type VariableInitializer func(rng *rand.Rand, shape []int) []float64

// Zero initializes variables with zero.
func Zero(_ *rand.Rand, shape []int) []float64 {
	return make([]float64, params.ShapeSize(shape))
}

// One initializes variables with one.
func One(_ *rand.Rand, shape []int) []float64 {
	values := make([]float64, params.ShapeSize(shape))
	for ii := range values {
		values[ii] = 1
	}
	return values
}

// RandomNormalFn returns an initializer that generates random normal values with the given standard deviation
// and mean set to 0.
func RandomNormalFn(stddev float64) VariableInitializer {
	return func(rng *rand.Rand, shape []int) []float64 {
		values := make([]float64, params.ShapeSize(shape))
		for ii := range values {
			values[ii] = stddev * rng.NormFloat64()
		}
		return values
	}
}

// RandomUniformFn return an initializer that generates a random uniform values from [min, max).
func RandomUniformFn(min, max float64) VariableInitializer {
	return func(rng *rand.Rand, shape []int) []float64 {
		values := make([]float64, params.ShapeSize(shape))
		for ii := range values {
			values[ii] = min + (max-min)*rng.Float64()
		}
		return values
	}
}

// XavierUniform initializes a [fanIn, fanOut] weights matrix with values uniformly sampled from
// [-limit, limit), with limit = sqrt(6 / (fanIn + fanOut)), as described in
// "Understanding the difficulty of training deep feedforward neural networks", Glorot and Bengio, 2010.
//
// For shapes that are not 2D, the fan-in and fan-out are both taken as the number of values.
func XavierUniform(rng *rand.Rand, shape []int) []float64 {
	fanIn, fanOut := params.ShapeSize(shape), params.ShapeSize(shape)
	if len(shape) == 2 {
		fanIn, fanOut = shape[0], shape[1]
	}
	limit := math.Sqrt(6.0 / float64(max(fanIn+fanOut, 1)))
	return RandomUniformFn(-limit, limit)(rng, shape)
}

// NewRNG creates a random number generator from a seed.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0xDA3E39CB94B95BDB))
}
