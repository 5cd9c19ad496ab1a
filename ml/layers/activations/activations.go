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

// Package activations implements several common activations, and includes a generic Apply method to apply an
// activation by its type.
//
// There is also FromName to convert an activation name (string) to its type.
package activations

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Type is an enum for the supported activation functions.
//
// It is converted to snake-format strings (e.g.: TypeLeakyRelu -> "leaky_relu"), and can be converted
// from string by using FromName.
type Type int

const (
	TypeNone Type = iota
	TypeRelu
	TypeSigmoid
	TypeLeakyRelu
	TypeSelu

	TypeSwish

	// TypeSilu is an alias to TypeSwish
	TypeSilu

	TypeTanh
)

var typeNames = map[Type]string{
	TypeNone:      "none",
	TypeRelu:      "relu",
	TypeSigmoid:   "sigmoid",
	TypeLeakyRelu: "leaky_relu",
	TypeSelu:      "selu",
	TypeSwish:     "swish",
	TypeSilu:      "silu",
	TypeTanh:      "tanh",
}

// String implements fmt.Stringer.
func (t Type) String() string {
	if name, found := typeNames[t]; found {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// TypeValues returns the names of all activation types, sorted.
func TypeValues() []string {
	names := make([]string, 0, len(typeNames))
	for _, name := range typeNames {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Apply the given activation type to x.
// The TypeNone activation is a no-op.
//
// It panics for invalid activation values.
func Apply(activation Type, x float64) float64 {
	switch activation {
	case TypeNone:
		return x
	case TypeRelu:
		return Relu(x)
	case TypeLeakyRelu:
		return LeakyRelu(x)
	case TypeSigmoid:
		return Sigmoid(x)
	case TypeTanh:
		return math.Tanh(x)
	case TypeSwish, TypeSilu:
		return Swish(x)
	case TypeSelu:
		return Selu(x)
	default:
		exceptions.Panicf("Apply got invalid activation value %d: options are %v", int(activation), TypeValues())
	}
	return 0
}

// ApplyInPlace applies the activation to all values of x.
func ApplyInPlace(activation Type, x []float64) {
	if activation == TypeNone {
		return
	}
	for ii, v := range x {
		x[ii] = Apply(activation, v)
	}
}

// FromName converts the name of an activation to its type.
//
// An empty string is converted to TypeNone.
func FromName(activationName string) (Type, error) {
	if activationName == "" {
		return TypeNone, nil
	}
	for activation, name := range typeNames {
		if name == activationName {
			return activation, nil
		}
	}
	return TypeNone, errors.Errorf("invalid activation name %q: options are %v", activationName, TypeValues())
}

// Relu activation function. It returns Max(x, 0), and is commonly used as an activation function in neural networks.
func Relu(x float64) float64 {
	return math.Max(x, 0)
}

// LeakyRelu activation function. It allows a small gradient when the unit is not active (x < 0).
// The `alpha` parameter is fixed at 0.3.
func LeakyRelu(x float64) float64 {
	if x >= 0 {
		return x
	}
	return 0.3 * x
}

// Sigmoid returns 1/(1+exp(-x)).
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// Swish activation (or SiLU) returns `x * Sigmoid(x)`.
//
// The SiLU activation function was introduced in "Gaussian Error Linear Units
// (GELUs)" [Hendrycks et al. 2016](https://arxiv.org/abs/1606.08415) and
// "Sigmoid-Weighted Linear Units for Neural Network Function Approximation in
// Reinforcement Learning"
// [Elfwing et al. 2017](https://arxiv.org/abs/1702.03118) and was independently
// discovered (and called swish) in "Searching for Activation Functions"
// [Ramachandran et al. 2017](https://arxiv.org/abs/1710.05941)
func Swish(x float64) float64 {
	return x * Sigmoid(x)
}

const (
	seluAlpha = 1.67326324
	seluScale = 1.05070098
)

// Selu stands for Scaled Exponential Linear Unit (SELU) activation function is defined as:
// . $scale * x$ if $x > 0$
// . $scale * \alpha * (e^x - 1)$ if $x < 0$
//
// Ideally, it should be matched with a "LecunNormal initializer" and the dropout variant called "AlphaDropout".
func Selu(x float64) float64 {
	if x > 0 {
		return seluScale * x
	}
	return seluScale * seluAlpha * (math.Exp(x) - 1)
}
