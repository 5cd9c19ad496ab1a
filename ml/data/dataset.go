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
	"io"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Batch of trajectories: for every environment, the same number of trajectories, all sampled at Times.
type Batch struct {
	// Trajectories indexed as [env][traj][time][dim].
	Trajectories [][][][]float64

	// Times shared by all trajectories.
	Times []float64
}

// NumEnvs returns the number of environments in the batch.
func (b *Batch) NumEnvs() int { return len(b.Trajectories) }

// Size returns the number of trajectories per environment in the batch.
func (b *Batch) Size() int {
	if len(b.Trajectories) == 0 {
		return 0
	}
	return len(b.Trajectories[0])
}

// Dim returns the dimension of the state, or 0 for an empty batch.
func (b *Batch) Dim() int {
	if b.Size() == 0 || len(b.Trajectories[0][0]) == 0 {
		return 0
	}
	return len(b.Trajectories[0][0][0])
}

// Dataset yields batches of trajectories, one epoch at a time.
//
// It follows the usual iteration protocol: Yield returns io.EOF at the end of the epoch, and
// Reset restarts it.
type Dataset interface {
	// Name of the dataset, used for logging.
	Name() string

	// BatchSize is the number of trajectories per environment in each batch. The last batch of an
	// epoch may be smaller.
	BatchSize() int

	// NumTrajectories is the number of trajectories per environment in one epoch.
	NumTrajectories() int

	// Yield the next batch, or io.EOF when the epoch is over.
	Yield() (*Batch, error)

	// Reset restarts the dataset for a new epoch.
	Reset()
}

// StepsPerEpoch returns the number of batches yielded by the dataset per epoch.
func StepsPerEpoch(ds Dataset) int {
	batchSize := ds.BatchSize()
	if batchSize <= 0 {
		return 0
	}
	return (ds.NumTrajectories() + batchSize - 1) / batchSize
}

// InMemory is a Dataset over trajectories held in memory.
type InMemory struct {
	name         string
	trajectories [][][][]float64
	times        []float64
	batchSize    int

	rng   *rand.Rand // nil if not shuffling.
	order []int
	next  int
}

var _ Dataset = (*InMemory)(nil)

// NewInMemory creates a dataset from trajectories indexed as [env][traj][time][dim], sampled at
// the given times. All environments must have the same number of trajectories, and all
// trajectories the same number of time steps (len(times)) and dimension.
func NewInMemory(name string, trajectories [][][][]float64, times []float64, batchSize int) (*InMemory, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("dataset %q: batch size must be > 0, got %d", name, batchSize)
	}
	if len(trajectories) == 0 || len(trajectories[0]) == 0 {
		return nil, errors.Errorf("dataset %q: no trajectories", name)
	}
	if len(times) == 0 {
		return nil, errors.Errorf("dataset %q: no time points", name)
	}
	numTrajs := len(trajectories[0])
	dim := -1
	for env, envTrajs := range trajectories {
		if len(envTrajs) != numTrajs {
			return nil, errors.Errorf("dataset %q: environment #%d has %d trajectories, but environment #0 has %d",
				name, env, len(envTrajs), numTrajs)
		}
		for traj, states := range envTrajs {
			if len(states) != len(times) {
				return nil, errors.Errorf("dataset %q: trajectory (env=%d, traj=%d) has %d time steps, expected %d",
					name, env, traj, len(states), len(times))
			}
			for _, state := range states {
				if dim < 0 {
					dim = len(state)
				}
				if len(state) != dim || dim == 0 {
					return nil, errors.Errorf("dataset %q: trajectory (env=%d, traj=%d) has states of dimension %d, expected %d",
						name, env, traj, len(state), dim)
				}
			}
		}
	}
	ds := &InMemory{
		name:         name,
		trajectories: trajectories,
		times:        times,
		batchSize:    batchSize,
		order:        make([]int, numTrajs),
	}
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	return ds, nil
}

// Shuffle makes the dataset yield trajectories in a different random order at every epoch, using
// a random number generator seeded with seed. The same trajectory indices are used for all environments.
// It returns the dataset itself.
func (ds *InMemory) Shuffle(seed uint64) *InMemory {
	ds.rng = rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	ds.Reset()
	return ds
}

// Name implements Dataset.
func (ds *InMemory) Name() string { return ds.name }

// BatchSize implements Dataset.
func (ds *InMemory) BatchSize() int { return ds.batchSize }

// NumTrajectories implements Dataset.
func (ds *InMemory) NumTrajectories() int { return len(ds.order) }

// NumEnvs returns the number of environments.
func (ds *InMemory) NumEnvs() int { return len(ds.trajectories) }

// Dim returns the dimension of the states.
func (ds *InMemory) Dim() int { return len(ds.trajectories[0][0][0]) }

// Times returns the time points of the trajectories. It should not be modified.
func (ds *InMemory) Times() []float64 { return ds.times }

// Trajectories returns all trajectories, indexed as [env][traj][time][dim]. They should not be modified.
func (ds *InMemory) Trajectories() [][][][]float64 { return ds.trajectories }

// Reset implements Dataset.
func (ds *InMemory) Reset() {
	ds.next = 0
	if ds.rng != nil {
		ds.rng.Shuffle(len(ds.order), func(i, j int) {
			ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
		})
	}
}

// Yield implements Dataset.
func (ds *InMemory) Yield() (*Batch, error) {
	if ds.next >= len(ds.order) {
		return nil, io.EOF
	}
	end := min(ds.next+ds.batchSize, len(ds.order))
	indices := ds.order[ds.next:end]
	ds.next = end
	batch := &Batch{
		Trajectories: make([][][][]float64, len(ds.trajectories)),
		Times:        ds.times,
	}
	for env, envTrajs := range ds.trajectories {
		batch.Trajectories[env] = make([][][]float64, len(indices))
		for ii, trajIdx := range indices {
			batch.Trajectories[env][ii] = envTrajs[trajIdx]
		}
	}
	return batch, nil
}
