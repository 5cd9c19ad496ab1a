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
	"slices"

	"github.com/nodebias/nodebias/ml/npz"
	"github.com/pkg/errors"
)

// Names of the arrays in the histories archive.
const (
	HistoryLossesNode   = "losses_node"
	HistoryLossesCtx    = "losses_cont"
	HistoryNumStepsNode = "nb_steps_node"
	HistoryNumStepsCtx  = "nb_steps_cont"
	HistoryRunEpochs    = "run_epochs"
)

// History of the per-epoch aggregates of every Train call (a "run"), in order.
//
// Each run is one block: LossesNode[run][epoch] and so on.
type History struct {
	LossesNode, LossesCtx     [][]float64
	NumStepsNode, NumStepsCtx [][]int
}

// EpochRecord is one row of the history.
type EpochRecord struct {
	// Run is the index of the Train call, and Epoch the epoch within the run.
	Run, Epoch int

	LossNode, LossCtx         float64
	NumStepsNode, NumStepsCtx int
}

// NumRuns returns the number of runs (Train calls) recorded.
func (h *History) NumRuns() int {
	return len(h.LossesNode)
}

// NumEpochs returns the total number of epochs recorded, over all runs.
func (h *History) NumEpochs() int {
	total := 0
	for _, run := range h.LossesNode {
		total += len(run)
	}
	return total
}

// Records returns all epochs recorded, in order.
func (h *History) Records() []EpochRecord {
	records := make([]EpochRecord, 0, h.NumEpochs())
	for run := range h.LossesNode {
		for epoch := range h.LossesNode[run] {
			records = append(records, EpochRecord{
				Run:          run,
				Epoch:        epoch,
				LossNode:     h.LossesNode[run][epoch],
				LossCtx:      h.LossesCtx[run][epoch],
				NumStepsNode: h.NumStepsNode[run][epoch],
				NumStepsCtx:  h.NumStepsCtx[run][epoch],
			})
		}
	}
	return records
}

// Clone returns a deep copy of the history.
func (h *History) Clone() *History {
	cloneAll := func(blocks [][]float64) [][]float64 {
		out := make([][]float64, len(blocks))
		for ii, b := range blocks {
			out[ii] = slices.Clone(b)
		}
		return out
	}
	cloneAllInts := func(blocks [][]int) [][]int {
		out := make([][]int, len(blocks))
		for ii, b := range blocks {
			out[ii] = slices.Clone(b)
		}
		return out
	}
	return &History{
		LossesNode:   cloneAll(h.LossesNode),
		LossesCtx:    cloneAll(h.LossesCtx),
		NumStepsNode: cloneAllInts(h.NumStepsNode),
		NumStepsCtx:  cloneAllInts(h.NumStepsCtx),
	}
}

// runHistory accumulates the epochs of one run.
type runHistory struct {
	lossesNode, lossesCtx     []float64
	numStepsNode, numStepsCtx []int
}

func newRunHistory(numEpochs int) *runHistory {
	return &runHistory{
		lossesNode:   make([]float64, 0, numEpochs),
		lossesCtx:    make([]float64, 0, numEpochs),
		numStepsNode: make([]int, 0, numEpochs),
		numStepsCtx:  make([]int, 0, numEpochs),
	}
}

func (r *runHistory) append(info EpochInfo) {
	r.lossesNode = append(r.lossesNode, info.LossNode)
	r.lossesCtx = append(r.lossesCtx, info.LossCtx)
	r.numStepsNode = append(r.numStepsNode, info.NumStepsNode)
	r.numStepsCtx = append(r.numStepsCtx, info.NumStepsCtx)
}

// appendRun stacks the run as a new block.
func (h *History) appendRun(r *runHistory) {
	h.LossesNode = append(h.LossesNode, r.lossesNode)
	h.LossesCtx = append(h.LossesCtx, r.lossesCtx)
	h.NumStepsNode = append(h.NumStepsNode, r.numStepsNode)
	h.NumStepsCtx = append(h.NumStepsCtx, r.numStepsCtx)
}

// ToArchive converts the history to named arrays: losses are stacked into arrays shaped
// [total_epochs, 1], and the number of epochs of each run goes into [runs].
//
// Step counts are shaped [runs, epochs] when every run has the same number of epochs. Otherwise,
// since the runs can't be stacked as rows, they are concatenated into [total_epochs], and the run
// boundaries are only given by HistoryRunEpochs.
func (h *History) ToArchive() *npz.Archive {
	numEpochs := h.NumEpochs()
	lossesNode := make([]float64, 0, numEpochs)
	lossesCtx := make([]float64, 0, numEpochs)
	stepsNode := make([]int64, 0, numEpochs)
	stepsCtx := make([]int64, 0, numEpochs)
	runEpochs := make([]int64, 0, h.NumRuns())
	for run := range h.LossesNode {
		lossesNode = append(lossesNode, h.LossesNode[run]...)
		lossesCtx = append(lossesCtx, h.LossesCtx[run]...)
		for epoch := range h.NumStepsNode[run] {
			stepsNode = append(stepsNode, int64(h.NumStepsNode[run][epoch]))
			stepsCtx = append(stepsCtx, int64(h.NumStepsCtx[run][epoch]))
		}
		runEpochs = append(runEpochs, int64(len(h.LossesNode[run])))
	}
	stepsShape := []int{numEpochs}
	if len(runEpochs) > 0 && slices.Min(runEpochs) == slices.Max(runEpochs) {
		stepsShape = []int{len(runEpochs), int(runEpochs[0])}
	}
	return npz.New().
		Set(HistoryLossesNode, npz.Float64Array(lossesNode, numEpochs, 1)).
		Set(HistoryLossesCtx, npz.Float64Array(lossesCtx, numEpochs, 1)).
		Set(HistoryNumStepsNode, npz.Int64Array(stepsNode, stepsShape...)).
		Set(HistoryNumStepsCtx, npz.Int64Array(stepsCtx, stepsShape...)).
		Set(HistoryRunEpochs, npz.Int64Array(runEpochs))
}

// HistoryFromArchive is the inverse of History.ToArchive. If the run boundaries are missing, they are
// taken from the rows of the step counts when these are shaped [runs, epochs], or else all epochs are
// taken as a single run.
func HistoryFromArchive(ar *npz.Archive) (*History, error) {
	arrays := make(map[string]*npz.Array, 4)
	for _, name := range []string{HistoryLossesNode, HistoryLossesCtx, HistoryNumStepsNode, HistoryNumStepsCtx} {
		array, err := ar.Require(name)
		if err != nil {
			return nil, errors.WithMessage(err, "invalid histories archive")
		}
		arrays[name] = array
	}
	lossesNode := arrays[HistoryLossesNode].AsFloat64()
	lossesCtx := arrays[HistoryLossesCtx].AsFloat64()
	stepsNode := arrays[HistoryNumStepsNode].AsInt64()
	stepsCtx := arrays[HistoryNumStepsCtx].AsInt64()
	numEpochs := len(lossesNode)
	if len(lossesCtx) != numEpochs || len(stepsNode) != numEpochs || len(stepsCtx) != numEpochs {
		return nil, errors.Errorf("invalid histories archive: mismatched lengths %s=%d, %s=%d, %s=%d, %s=%d",
			HistoryLossesNode, numEpochs, HistoryLossesCtx, len(lossesCtx),
			HistoryNumStepsNode, len(stepsNode), HistoryNumStepsCtx, len(stepsCtx))
	}

	var runEpochs []int64
	if array, found := ar.Get(HistoryRunEpochs); found {
		runEpochs = array.AsInt64()
	} else if shape := arrays[HistoryNumStepsNode].Shape; len(shape) == 2 && shape[0] > 0 && shape[1] > 0 {
		for range shape[0] {
			runEpochs = append(runEpochs, int64(shape[1]))
		}
	} else if numEpochs > 0 {
		runEpochs = []int64{int64(numEpochs)}
	}
	h := &History{}
	start := 0
	for run, n := range runEpochs {
		end := start + int(n)
		if n <= 0 || end > numEpochs {
			return nil, errors.Errorf("invalid histories archive: run #%d has %d epochs, but only %d epochs left",
				run, n, numEpochs-start)
		}
		r := &runHistory{
			lossesNode:   slices.Clone(lossesNode[start:end]),
			lossesCtx:    slices.Clone(lossesCtx[start:end]),
			numStepsNode: make([]int, 0, n),
			numStepsCtx:  make([]int, 0, n),
		}
		for ii := start; ii < end; ii++ {
			r.numStepsNode = append(r.numStepsNode, int(stepsNode[ii]))
			r.numStepsCtx = append(r.numStepsCtx, int(stepsCtx[ii]))
		}
		h.appendRun(r)
		start = end
	}
	if start != numEpochs {
		return nil, errors.Errorf("invalid histories archive: runs cover %d epochs, but there are %d", start, numEpochs)
	}
	return h, nil
}
