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

package node

import (
	"encoding/json"
	"os"

	"github.com/nodebias/nodebias/ml/layers/activations"
	"github.com/nodebias/nodebias/ml/ode"
	"github.com/nodebias/nodebias/models/polymorphicjson"
	"github.com/pkg/errors"
)

// Config of a Learner and its NeuralODE. It is saved as JSON along with the parameters.
type Config struct {
	// StateDim is the dimension of the ODE state, and ContextDim of the context of each environment.
	StateDim   int `json:"state_dim"`
	ContextDim int `json:"context_dim"`

	// NumEnvs is the number of environments, each with its own context.
	NumEnvs int `json:"num_envs"`

	// HiddenLayers and HiddenNodes of the vector field network.
	HiddenLayers int `json:"hidden_layers"`
	HiddenNodes  int `json:"hidden_nodes"`

	// Activation of the hidden layers, see activations.TypeValues.
	Activation string `json:"activation"`

	// Integrator used to solve the ODE.
	Integrator polymorphicjson.Wrapper[ode.Integrator] `json:"integrator"`

	// ContextL1 is the weight of the L1 norm of the contexts in the loss.
	ContextL1 float64 `json:"context_l1"`

	// ModelL2 is the weight of the L2 regularization of the network parameters. Default is 0.
	ModelL2 float64 `json:"model_l2,omitempty"`

	// Seed used to initialize the network.
	Seed uint64 `json:"seed"`

	// Parallelism is the number of environments integrated at the same time by Learner.Loss.
	// 0 (the default) integrates them sequentially and -1 uses one goroutine per environment.
	Parallelism int `json:"parallelism,omitempty"`
}

// DefaultConfig returns a small network with 2 hidden layers of 32 nodes, "swish" activation, contexts of
// dimension 2 and the "rk4" integrator.
func DefaultConfig(stateDim, numEnvs int) Config {
	return Config{
		StateDim:     stateDim,
		ContextDim:   2,
		NumEnvs:      numEnvs,
		HiddenLayers: 2,
		HiddenNodes:  32,
		Activation:   activations.TypeSwish.String(),
		Integrator:   polymorphicjson.Wrap[ode.Integrator](ode.NewRK4()),
		ContextL1:    1e-3,
		Seed:         1,
	}
}

// Validate the configuration.
func (c Config) Validate() error {
	if c.StateDim <= 0 || c.ContextDim <= 0 || c.NumEnvs <= 0 {
		return errors.Errorf("invalid dimensions: state_dim=%d, context_dim=%d and num_envs=%d must be > 0",
			c.StateDim, c.ContextDim, c.NumEnvs)
	}
	if c.HiddenLayers < 0 || c.HiddenNodes < 0 {
		return errors.Errorf("invalid network: hidden_layers=%d and hidden_nodes=%d must be >= 0", c.HiddenLayers, c.HiddenNodes)
	}
	if _, err := activations.FromName(c.Activation); err != nil {
		return err
	}
	if c.Integrator.Value == nil {
		return errors.New("no integrator configured")
	}
	if c.Parallelism < -1 {
		return errors.Errorf("invalid parallelism %d, it must be >= -1", c.Parallelism)
	}
	if c.ContextL1 < 0 || c.ModelL2 < 0 {
		return errors.Errorf("regularization weights must be >= 0, got context_l1=%g and model_l2=%g", c.ContextL1, c.ModelL2)
	}
	return nil
}

// sameShapes returns an error if the parameters of the two configurations are not interchangeable.
func (c Config) sameShapes(other Config) error {
	if c.StateDim != other.StateDim || c.ContextDim != other.ContextDim || c.NumEnvs != other.NumEnvs ||
		c.HiddenLayers != other.HiddenLayers || c.HiddenNodes != other.HiddenNodes {
		return errors.Errorf("incompatible learner configurations: state_dim=%d/%d, context_dim=%d/%d, num_envs=%d/%d, "+
			"hidden_layers=%d/%d, hidden_nodes=%d/%d",
			c.StateDim, other.StateDim, c.ContextDim, other.ContextDim, c.NumEnvs, other.NumEnvs,
			c.HiddenLayers, other.HiddenLayers, c.HiddenNodes, other.HiddenNodes)
	}
	return nil
}

// SaveConfig writes the configuration as indented JSON to filePath.
func SaveConfig(filePath string, cfg Config) error {
	contents, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize learner configuration")
	}
	if err = os.WriteFile(filePath, contents, 0660); err != nil {
		return errors.Wrapf(err, "failed to write learner configuration to %q", filePath)
	}
	return nil
}

// LoadConfig reads a configuration saved with SaveConfig.
func LoadConfig(filePath string) (Config, error) {
	var cfg Config
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read learner configuration from %q", filePath)
	}
	if err = json.Unmarshal(contents, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse learner configuration in %q", filePath)
	}
	if err = cfg.Validate(); err != nil {
		return cfg, errors.WithMessagef(err, "invalid learner configuration in %q", filePath)
	}
	return cfg, nil
}
