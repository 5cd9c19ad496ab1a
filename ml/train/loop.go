/*
 *	Copyright 2023 Jan Pfeifer
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
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/nodebias/nodebias/ml/train/metrics"
	"github.com/pkg/errors"
)

// Priority for hooks, the lowest values are run first. Defaults to 0, but negative
// values are ok.
type Priority int

// StepKind identifies which of the two parameter groups a training step updated.
type StepKind int

const (
	// NodeStep updates the model (neural ODE) parameters.
	NodeStep StepKind = iota

	// ContextStep updates the per-environment contexts.
	ContextStep
)

func (k StepKind) String() string {
	switch k {
	case NodeStep:
		return "node"
	case ContextStep:
		return "ctx"
	}
	return "unknown"
}

// StepInfo describes one finished training step.
type StepInfo struct {
	Kind StepKind

	// Epoch within the current Train call, and Batch index within the epoch, both starting at 0.
	Epoch, Batch int

	// Loss of the batch before the update, and NumSteps taken by the integrator to compute it.
	Loss     float64
	NumSteps int

	// Weights are a copy of the environment weights refreshed after this step.
	Weights []float64
}

// EpochInfo holds the aggregates of one finished epoch.
type EpochInfo struct {
	Epoch int

	// LossNode and LossCtx are the mean losses of the node and context steps of the epoch.
	LossNode, LossCtx float64

	// NumStepsNode and NumStepsCtx are the sum of integrator steps of the epoch.
	NumStepsNode, NumStepsCtx int

	// NumBatchesNode and NumBatchesCtx count the steps of each kind taken in the epoch.
	NumBatchesNode, NumBatchesCtx int

	Duration time.Duration
}

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop) error

// OnStepFn is the type of OnStep hooks.
type OnStepFn func(loop *Loop, info StepInfo) error

// OnEpochFn is the type of OnEpoch hooks.
type OnEpochFn func(loop *Loop, info EpochInfo) error

// OnEndFn is the type of OnEnd hooks. history is a copy that includes the run just finished.
type OnEndFn func(loop *Loop, history *History) error

// Loop holds the progress of a Trainer.Train call and the hooks attached to it.
//
// In itself it doesn't do much, but one can attach functionality to it, like
// progress bars, plotting tools, custom logging, etc.
//
// The public attributes are meant for reading only, don't change them -- behavior
// can be undefined.
type Loop struct {
	// LoopStep is the index of the batch currently being trained, counted across all Train calls.
	// The node step and the context step of the same batch share the LoopStep.
	LoopStep int

	// StartStep is the value of LoopStep at the start of the current Train call.
	StartStep int

	// EndStep is one-past the last step of the current Train call.
	EndStep int

	// Epoch is the current epoch within the Train call, starting from 0.
	Epoch int

	// NumEpochs, StepsPerEpoch and TotalSteps of the current Train call.
	NumEpochs, StepsPerEpoch, TotalSteps int

	// Run counts the Train calls: 0 during the first one.
	Run int

	// SharedData allows for cross-tools to publish and consume information. Keys (strings)
	// and semantics/type of their values are not specified by loop.
	SharedData map[string]any

	// TrainStepDurations collected during training, one per node or context step.
	TrainStepDurations []time.Duration

	trainMetrics                              []metrics.Interface
	nodeLoss, ctxLoss, maxWeight, solverSteps metrics.Interface
	started                                   bool

	// Registered hooks.
	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onStep  *priorityHooks[*hookWithName[OnStepFn]]
	onEpoch *priorityHooks[*hookWithName[OnEpochFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a new training loop. Usually one uses Trainer.Loop instead.
func NewLoop() *Loop {
	loop := &Loop{
		SharedData: make(map[string]any),
		onStart:    newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:     newPriorityHooks[*hookWithName[OnStepFn]](),
		onEpoch:    newPriorityHooks[*hookWithName[OnEpochFn]](),
		onEnd:      newPriorityHooks[*hookWithName[OnEndFn]](),
	}
	loop.nodeLoss = metrics.NewExponentialMovingAverageMetric("Moving Average Node Loss", "~node", metrics.LossMetricType, nil, 0.05)
	loop.ctxLoss = metrics.NewExponentialMovingAverageMetric("Moving Average Context Loss", "~ctx", metrics.LossMetricType, nil, 0.05)
	loop.maxWeight = metrics.NewLastValueMetric("Max Environment Weight", "w_max", metrics.WeightMetricType,
		func(v float64) string { return fmt.Sprintf("%.3f", v) })
	loop.solverSteps = metrics.NewMedianMetric("Median Solver Steps", "nfe", metrics.StepsMetricType, 0,
		func(v float64) string { return fmt.Sprintf("%.0f", v) })
	loop.trainMetrics = []metrics.Interface{loop.nodeLoss, loop.ctxLoss, loop.maxWeight, loop.solverSteps}
	return loop
}

// TrainMetrics returns the running metrics updated at every step: moving average of the node and context
// losses, the largest environment weight and the median number of solver steps.
// They are reset at the start of every Train call.
func (loop *Loop) TrainMetrics() []metrics.Interface {
	return loop.trainMetrics
}

// begin is called at the start of Trainer.Train, and calls the OnStart hooks.
func (loop *Loop) begin(numEpochs, stepsPerEpoch int) (err error) {
	if loop.started {
		loop.Run++
	}
	loop.started = true
	loop.NumEpochs = numEpochs
	loop.StepsPerEpoch = stepsPerEpoch
	loop.TotalSteps = numEpochs * stepsPerEpoch
	loop.StartStep = loop.LoopStep
	loop.EndStep = loop.StartStep + loop.TotalSteps
	loop.Epoch = 0
	loop.TrainStepDurations = make([]time.Duration, 0, 2*loop.TotalSteps)
	for _, m := range loop.trainMetrics {
		m.Reset()
	}
	loop.onStart.Enumerate(func(hook *hookWithName[OnStartFn]) {
		if err != nil {
			// After the first error stop.
			return
		}
		err = hook.fn(loop)
		if err != nil {
			err = errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	})
	return
}

// step is called after every node or context step, and calls the OnStep hooks.
// It interrupts training if the loss is not finite.
func (loop *Loop) step(info StepInfo, elapsed time.Duration) (err error) {
	loop.TrainStepDurations = append(loop.TrainStepDurations, elapsed)
	if info.Kind == NodeStep {
		loop.nodeLoss.Update(info.Loss)
	} else {
		loop.ctxLoss.Update(info.Loss)
	}
	if len(info.Weights) > 0 {
		loop.maxWeight.Update(slices.Max(info.Weights))
	}
	loop.solverSteps.Update(float64(info.NumSteps))

	loop.onStep.Enumerate(func(hook *hookWithName[OnStepFn]) {
		if err != nil {
			return
		}
		err = hook.fn(loop, info)
		if err != nil {
			err = errors.WithMessagef(err, "OnStep(hook %q)", hook.name)
		}
	})
	if err != nil {
		return err
	}
	if math.IsNaN(info.Loss) {
		return errors.Errorf("%s batch loss is NaN, training interrupted", info.Kind)
	}
	if math.IsInf(info.Loss, 0) {
		return errors.Errorf("%s batch loss is infinity (%f), training interrupted", info.Kind, info.Loss)
	}
	return nil
}

// epoch is called at the end of each epoch, and calls the OnEpoch hooks.
func (loop *Loop) epoch(info EpochInfo) (err error) {
	loop.onEpoch.Enumerate(func(hook *hookWithName[OnEpochFn]) {
		if err != nil {
			return
		}
		err = hook.fn(loop, info)
		if err != nil {
			err = errors.WithMessagef(err, "OnEpoch(hook %q)", hook.name)
		}
	})
	return
}

// end is called once the Train call finished all its epochs, and calls the OnEnd hooks.
func (loop *Loop) end(history *History) (err error) {
	loop.onEnd.Enumerate(func(hook *hookWithName[OnEndFn]) {
		if err != nil {
			return
		}
		err = hook.fn(loop, history)
		if err != nil {
			err = errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	})
	return
}

// MedianTrainStepDuration returns the median duration of each training step. It returns 1 millisecond
// if no training step was recorded (to avoid potential division by 0).
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		// Return something different than 0 to avoid division by 0.
		return time.Millisecond
	}
	times := slices.Clone(loop.TrainStepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a Train call.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{
		name: name,
		fn:   fn,
	})
}

// OnStep adds a hook with given priority and name (for error reporting) to each step.
// The function `fn` is called after each node step and after each context step.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{
		name: name,
		fn:   fn,
	})
}

// OnEpoch adds a hook with given priority and name (for error reporting) called at the end of every epoch.
func (loop *Loop) OnEpoch(name string, priority Priority, fn OnEpochFn) {
	loop.onEpoch.Add(priority, &hookWithName[OnEpochFn]{
		name: name,
		fn:   fn,
	})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a Train call,
// after the trainer state has been updated and saved.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{
		name: name,
		fn:   fn,
	})
}

// hookWithName stores a hook name and function.
type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks organizes hooks for type F per priority.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook at the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// Enumerate will call fn for all registered hooks in priority order.
func (h *priorityHooks[H]) Enumerate(fn func(hook H)) {
	keys := make([]Priority, 0, len(h.hooks))
	for key := range h.hooks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		for _, hook := range h.hooks[key] {
			fn(hook)
		}
	}
}
