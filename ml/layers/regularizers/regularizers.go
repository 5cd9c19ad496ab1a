/*
 *	Copyright 2024 Jan Pfeifer
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

// Package regularizers adds tools to facilitate add regularization to the weights learned.
//
// A Regularizer returns the amount of regularization loss for the given values, to be added to the loss.
package regularizers

import (
	"github.com/nodebias/nodebias/ml/params"
	"gonum.org/v1/gonum/floats"
)

// Regularizer returns the regularization loss of the given values.
type Regularizer func(values []float64) float64

// L1Norm is the sum of the absolute values.
func L1Norm(values []float64) float64 {
	return floats.Norm(values, 1)
}

// L1 creates a L1 regularizer (amount * sum(|x|)).
// If amount is 0, the regularizer is a no-op.
func L1(amount float64) Regularizer {
	return func(values []float64) float64 {
		if amount == 0 {
			return 0
		}
		return amount * L1Norm(values)
	}
}

// L2 creates a L2 regularizer (amount * sum(x^2)).
// If amount is 0, the regularizer is a no-op.
func L2(amount float64) Regularizer {
	return func(values []float64) float64 {
		if amount == 0 {
			return 0
		}
		return amount * floats.Dot(values, values)
	}
}

// Combine regularizers into one that returns the sum of all of them.
// Nil regularizers are ignored.
func Combine(regs ...Regularizer) Regularizer {
	return func(values []float64) float64 {
		var total float64
		for _, reg := range regs {
			if reg != nil {
				total += reg(values)
			}
		}
		return total
	}
}

// Tree applies the regularizer to all variables of the parameters tree, and returns the sum.
func Tree(reg Regularizer, p *params.Tree) float64 {
	if reg == nil || p == nil {
		return 0
	}
	var total float64
	p.EnumerateVariables(func(v *params.Variable) {
		total += reg(v.Value)
	})
	return total
}
