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

// Package gradients computes the value and the gradient of scalar loss functions with respect to
// the trainable parameters of their leading argument, using finite differences.
//
// The loss functions must be pure: they are evaluated many times, possibly concurrently, at
// perturbed copies of the parameters.
package gradients

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/nodebias/nodebias/ml/params"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
)

// Differentiable is implemented by values with trainable parameters.
//
// WithTrainable must return a copy of the value with the trainable parameters replaced, leaving
// the original untouched.
type Differentiable[T any] interface {
	Trainable() *params.Tree
	WithTrainable(p *params.Tree) T
}

// LossFn is a scalar function of its differentiable argument, returning also an auxiliary
// value that is not differentiated.
type LossFn[P Differentiable[P], A any] func(p P) (loss float64, aux A, err error)

// Settings for the finite differences.
type Settings struct {
	// Formula used for the finite differences, fd.Central (the default), fd.Forward or fd.Backward.
	Formula fd.Formula

	// Step is the finite difference step. If 0 the Formula's default step is used.
	Step float64

	// Concurrent evaluates the loss at the perturbed points in parallel.
	Concurrent bool
}

// DefaultSettings uses central differences, sequentially.
func DefaultSettings() *Settings {
	return &Settings{Formula: fd.Central}
}

// FormulaByName returns the finite differences formula for "central", "forward" or "backward".
func FormulaByName(name string) (fd.Formula, error) {
	switch name {
	case "central":
		return fd.Central, nil
	case "forward":
		return fd.Forward, nil
	case "backward":
		return fd.Backward, nil
	}
	return fd.Formula{}, errors.Errorf("unknown finite differences formula %q, valid values are \"central\", \"forward\" and \"backward\"", name)
}

// ValueAndGrad evaluates fn at p, and its gradient with respect to p.Trainable().
//
// The gradient is returned as a tree with the same structure as p.Trainable(). Errors (or panics
// with an error) from fn during any of the evaluations are returned, the first one reported wins.
func ValueAndGrad[P Differentiable[P], A any](fn LossFn[P, A], p P, settings *Settings) (
	value float64, aux A, grads *params.Tree, err error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	trainable := p.Trainable()
	if trainable == nil || trainable.Size() == 0 {
		err = errors.New("gradients: no trainable parameters to differentiate")
		return
	}
	value, aux, err = evaluate(fn, p)
	if err != nil {
		return
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	f := func(x []float64) float64 {
		loss, _, evalErr := evaluate(fn, p.WithTrainable(trainable.FromFlat(x)))
		if evalErr != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = evalErr
			}
			mu.Unlock()
			return 0
		}
		return loss
	}
	x := trainable.Flatten()
	dst := make([]float64, len(x))
	fd.Gradient(dst, f, x, &fd.Settings{
		Formula:     settings.Formula,
		Step:        settings.Step,
		OriginKnown: true,
		OriginValue: value,
		Concurrent:  settings.Concurrent,
	})
	if firstErr != nil {
		err = errors.WithMessage(firstErr, "gradients: loss failed at a perturbed point")
		return
	}
	grads = trainable.FromFlat(dst)
	return
}

// evaluate calls fn converting panics with an error to a returned error.
func evaluate[P Differentiable[P], A any](fn LossFn[P, A], p P) (loss float64, aux A, err error) {
	panicErr := exceptions.TryCatch[error](func() {
		loss, aux, err = fn(p)
	})
	if panicErr != nil {
		err = panicErr
	}
	return
}
