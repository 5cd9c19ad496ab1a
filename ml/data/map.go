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

package data

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// MapFn transforms a batch. It must not modify the batch given, only return a new one.
type MapFn func(batch *Batch) (*Batch, error)

// mapDataset implements a Dataset that maps a function to a wrapped dataset.
type mapDataset struct {
	ds Dataset
	fn MapFn
}

// Map returns a Dataset with the result of applying (mapping) fn to the batches yielded by the provided dataset.
func Map(dataset Dataset, fn MapFn) Dataset {
	return &mapDataset{ds: dataset, fn: fn}
}

// Name implements Dataset.
func (mapDS *mapDataset) Name() string { return mapDS.ds.Name() + " [Map]" }

// BatchSize implements Dataset.
func (mapDS *mapDataset) BatchSize() int { return mapDS.ds.BatchSize() }

// NumTrajectories implements Dataset.
func (mapDS *mapDataset) NumTrajectories() int { return mapDS.ds.NumTrajectories() }

// Reset implements Dataset.
func (mapDS *mapDataset) Reset() { mapDS.ds.Reset() }

// Yield implements Dataset.
func (mapDS *mapDataset) Yield() (*Batch, error) {
	batch, err := mapDS.ds.Yield()
	if err != nil {
		return nil, err
	}
	batch, err = mapDS.fn(batch)
	if err != nil {
		return nil, errors.WithMessagef(err, "while executing MapFn provided for data.Map() over %q", mapDS.ds.Name())
	}
	return batch, nil
}

// GaussianNoise returns a MapFn that adds gaussian noise with the given standard deviation to every
// observed state, except the initial ones, which are kept exact.
func GaussianNoise(stddev float64, seed uint64) MapFn {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	return func(batch *Batch) (*Batch, error) {
		if stddev < 0 {
			return nil, errors.Errorf("noise standard deviation must be >= 0, got %g", stddev)
		}
		noisy := &Batch{
			Trajectories: make([][][][]float64, len(batch.Trajectories)),
			Times:        batch.Times,
		}
		for env, envTrajs := range batch.Trajectories {
			noisy.Trajectories[env] = make([][][]float64, len(envTrajs))
			for traj, states := range envTrajs {
				newStates := make([][]float64, len(states))
				for tIdx, state := range states {
					newState := make([]float64, len(state))
					for ii, v := range state {
						if tIdx > 0 {
							v += stddev * rng.NormFloat64()
						}
						newState[ii] = v
					}
					newStates[tIdx] = newState
				}
				noisy.Trajectories[env][traj] = newStates
			}
		}
		return noisy, nil
	}
}
