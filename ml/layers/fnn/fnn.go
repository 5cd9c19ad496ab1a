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

// Package fnn implements a generic FNN (Feedforward Neural Network) with various configurations.
// It should suffice for the common cases and can be extended as needed.
//
// The network doesn't hold its parameters: Network.Init creates them into a params.Tree, and
// Network.Apply evaluates the network for the given parameters, so the same network can be
// evaluated at different parameter values (e.g. when computing numeric gradients).
//
// E.g: A FNN with 2 hidden layers of 32 nodes:
//
//	net := must.M1(fnn.New(inputDim, outputDim).
//		NumHiddenLayers(2, 32).
//		Activation("swish").
//		Done())
//	p := net.Init(initializers.NewRNG(seed))
//	y := net.Apply(p, x)
package fnn

import (
	"fmt"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/nodebias/nodebias/ml/layers/activations"
	"github.com/nodebias/nodebias/ml/layers/initializers"
	"github.com/nodebias/nodebias/ml/params"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultNumHiddenNodes used if only the number of hidden layers is given.
	DefaultNumHiddenNodes = 10

	// DefaultScope is the default prefix of the variable names.
	DefaultScope = "fnn"
)

// Config is created with New and can be configured with its methods.
type Config struct {
	inputDim, outputDim             int
	numHiddenLayers, numHiddenNodes int
	activation                      activations.Type
	useBias                         bool
	scope                           string
	initializer                     initializers.VariableInitializer

	err error
}

// New creates the configuration of a FNN mapping vectors of dimension inputDim to outputDim.
// By default, it has no hidden layers, uses biases and "swish" activation in the hidden layers.
func New(inputDim, outputDim int) *Config {
	return &Config{
		inputDim:    inputDim,
		outputDim:   outputDim,
		activation:  activations.TypeSwish,
		useBias:     true,
		scope:       DefaultScope,
		initializer: initializers.XavierUniform,
	}
}

// NumHiddenLayers sets the number of hidden layers and the number of nodes in each of them.
// If numNodes is 0, DefaultNumHiddenNodes is used.
func (c *Config) NumHiddenLayers(numLayers, numNodes int) *Config {
	if numLayers < 0 || numNodes < 0 {
		c.err = errors.Errorf("fnn: invalid number of hidden layers (%d) or nodes (%d)", numLayers, numNodes)
		return c
	}
	if numNodes == 0 {
		numNodes = DefaultNumHiddenNodes
	}
	c.numHiddenLayers, c.numHiddenNodes = numLayers, numNodes
	return c
}

// Activation sets the activation of the hidden layers, by name. See activations.TypeValues.
// The output layer has no activation.
func (c *Config) Activation(name string) *Config {
	activation, err := activations.FromName(name)
	if err != nil {
		c.err = errors.WithMessage(err, "fnn")
		return c
	}
	c.activation = activation
	return c
}

// UseBias sets whether to add a bias term to every layer. Default is true.
func (c *Config) UseBias(useBias bool) *Config {
	c.useBias = useBias
	return c
}

// Scope sets the prefix of the variable names. Default is DefaultScope.
func (c *Config) Scope(scope string) *Config {
	c.scope = scope
	return c
}

// Initializer sets the initializer of the weights. Biases are always initialized to zero.
// Default is initializers.XavierUniform.
func (c *Config) Initializer(initializer initializers.VariableInitializer) *Config {
	c.initializer = initializer
	return c
}

// Done validates the configuration and returns the Network.
func (c *Config) Done() (*Network, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.inputDim <= 0 || c.outputDim <= 0 {
		return nil, errors.Errorf("fnn: input (%d) and output (%d) dimensions must be > 0", c.inputDim, c.outputDim)
	}
	net := &Network{
		inputDim:    c.inputDim,
		outputDim:   c.outputDim,
		activation:  c.activation,
		initializer: c.initializer,
	}
	in := c.inputDim
	for ii := range c.numHiddenLayers + 1 {
		out := c.numHiddenNodes
		if ii == c.numHiddenLayers {
			out = c.outputDim
		}
		l := layer{
			weights: fmt.Sprintf("%s/layer_%d/weights", c.scope, ii),
			in:      in,
			out:     out,
		}
		if c.useBias {
			l.biases = fmt.Sprintf("%s/layer_%d/biases", c.scope, ii)
		}
		net.layers = append(net.layers, l)
		in = out
	}
	return net, nil
}

// Network is a configured FNN. It is stateless and safe for concurrent use.
type Network struct {
	inputDim, outputDim int
	activation          activations.Type
	initializer         initializers.VariableInitializer
	layers              []layer
}

type layer struct {
	weights, biases string // Variable names, biases is empty if not used.
	in, out         int
}

// InputDim of the network.
func (n *Network) InputDim() int { return n.inputDim }

// OutputDim of the network.
func (n *Network) OutputDim() int { return n.outputDim }

// NumLayers including the output layer.
func (n *Network) NumLayers() int { return len(n.layers) }

// Init creates the parameters of the network, using rng for the initializer of the weights.
func (n *Network) Init(rng *rand.Rand) *params.Tree {
	p := params.New()
	n.AddTo(p, rng)
	return p
}

// AddTo adds the parameters of the network to an existing tree.
func (n *Network) AddTo(p *params.Tree, rng *rand.Rand) {
	for _, l := range n.layers {
		shape := []int{l.in, l.out}
		p.Add(l.weights, n.initializer(rng, shape), shape...)
		if l.biases != "" {
			p.Add(l.biases, initializers.Zero(rng, []int{l.out}))
		}
	}
}

// Apply evaluates the network on x, with parameters p, and returns a new slice with the output.
//
// It panics (with exceptions.Panicf) if p is missing any of the variables of the network or x has
// the wrong dimension.
func (n *Network) Apply(p *params.Tree, x []float64) []float64 {
	if len(x) != n.inputDim {
		exceptions.Panicf("fnn: input has dimension %d, network expects %d", len(x), n.inputDim)
	}
	h := mat.NewVecDense(len(x), append([]float64(nil), x...))
	for ii, l := range n.layers {
		w := p.MustGet(l.weights)
		if w.Size() != l.in*l.out {
			exceptions.Panicf("fnn: variable %q has shape %s, expected [%d %d]", l.weights, w.ShapeString(), l.in, l.out)
		}
		next := mat.NewVecDense(l.out, nil)
		next.MulVec(mat.NewDense(l.in, l.out, w.Value).T(), h)
		values := next.RawVector().Data
		if l.biases != "" {
			floats.Add(values, p.MustGet(l.biases).Value)
		}
		if ii < len(n.layers)-1 {
			activations.ApplyInPlace(n.activation, values)
		}
		h = next
	}
	return h.RawVector().Data
}
