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

package train

import (
	"github.com/pkg/errors"
)

// Config of one Trainer.Train call.
type Config struct {
	// NumEpochs to train, must be > 0.
	NumEpochs int

	// UpdateContextEvery n batches a context step follows the node step: for batch indices i
	// with i%n == 0. It must be > 0 and not larger than the number of steps per epoch.
	UpdateContextEvery int

	// PrintErrorEvery n epochs the mean losses are logged. The first 4 epochs and the last one
	// are always logged.
	PrintErrorEvery int

	// SavePath, if not empty, is the directory where the trainer is saved at the end of training.
	SavePath string
}

// DefaultConfig returns a configuration that updates the contexts at every batch and logs every 100 epochs.
// NumEpochs must still be set.
func DefaultConfig() Config {
	return Config{
		UpdateContextEvery: 1,
		PrintErrorEvery:    100,
	}
}

// Validate checks the configuration against the number of steps per epoch of the dataset.
func (c Config) Validate(stepsPerEpoch int) error {
	if stepsPerEpoch <= 0 {
		return errors.Errorf("dataset has no batches (steps per epoch is %d), cannot train", stepsPerEpoch)
	}
	if c.NumEpochs <= 0 {
		return errors.Errorf("number of epochs must be > 0, got %d", c.NumEpochs)
	}
	if c.UpdateContextEvery <= 0 {
		return errors.Errorf("update_context_every must be > 0, got %d", c.UpdateContextEvery)
	}
	if c.UpdateContextEvery > stepsPerEpoch {
		return errors.Errorf("update_context_every (%d) must be smaller than or equal to the number of steps per epoch (%d)",
			c.UpdateContextEvery, stepsPerEpoch)
	}
	if c.PrintErrorEvery <= 0 {
		return errors.Errorf("print_error_every must be > 0, got %d", c.PrintErrorEvery)
	}
	return nil
}

// shouldLog returns whether the epoch aggregates are logged.
func (c Config) shouldLog(epoch int) bool {
	return epoch%c.PrintErrorEvery == 0 || epoch <= 3 || epoch == c.NumEpochs-1
}
