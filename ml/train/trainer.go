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

// Package train holds the Trainer, that trains a model (a neural ODE) jointly with one context vector per
// environment, alternating gradient steps between the two parameter groups, and reweighting the environments
// adaptively after every step.
//
// Attach progress bars, plots and other tools to the training with the hooks of Trainer.Loop.
package train

import (
	"io"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/nodebias/nodebias/ml/data"
	"github.com/nodebias/nodebias/ml/params"
	"github.com/nodebias/nodebias/ml/train/gradients"
	"github.com/nodebias/nodebias/ml/train/optimizers"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// WeightsEpsilon is added to every environment statistic before normalizing it into weights, so that
// an environment with zero error keeps a non-zero weight and the normalization never divides by zero.
const WeightsEpsilon = 1e-8

// NoSeed makes NewTrainer generate a random seed.
const NoSeed = uint64(0)

// Aux holds the side outputs of a loss evaluation.
type Aux struct {
	// NumSteps taken by the integrator to compute the loss.
	NumSteps int

	// Term1 holds one non-negative statistic per environment, used to refresh the environment weights.
	Term1 []float64

	// Term2 holds one regularization value per environment. It is only kept for diagnostics.
	Term2 []float64
}

// LossFn computes the loss of a batch, given the model, the contexts and the environment weights.
// It must be a pure function of its inputs.
type LossFn[M any] func(model M, contexts *params.Tree, batch *data.Batch, weights []float64) (loss float64, aux Aux, err error)

// Learner is the model and contexts being trained, with the loss that ties them together.
type Learner[M gradients.Differentiable[M]] interface {
	// Model returns the current model.
	Model() M

	// SetModel replaces the model.
	SetModel(model M)

	// Contexts returns the per-environment context parameters.
	Contexts() *params.Tree

	// SetContexts replaces the contexts.
	SetContexts(contexts *params.Tree)

	// NumEnvs is the number of environments, the length of the weights and of Aux.Term1.
	NumEnvs() int

	// Loss is the LossFn of the learner.
	Loss(model M, contexts *params.Tree, batch *data.Batch, weights []float64) (loss float64, aux Aux, err error)

	// Save the learner into the directory.
	Save(dir string) error

	// Load the learner from the directory.
	Load(dir string) error
}

// Trainer alternates node steps (on the model) and context steps (on the contexts) over a dataset.
//
// The model, the contexts, the optimizer states and the history are only updated at the end of
// a successful Train call.
type Trainer[M gradients.Differentiable[M]] struct {
	dataset        data.Dataset
	learner        Learner[M]
	optNode, optCtx optimizers.Interface

	seed uint64
	rng  *rand.Rand

	optStateNode, optStateCtx optimizers.State
	history                   *History

	gradSettings *gradients.Settings
	loop         *Loop

	nodeStepOnce, ctxStepOnce sync.Once
}

// NewTrainer creates a trainer for the learner over the dataset, with the given optimizers for the model
// and for the contexts. If seed is NoSeed, a random one is generated.
//
// The optimizer states are initialized from the trainable parameters of the model and from the contexts.
func NewTrainer[M gradients.Differentiable[M]](ds data.Dataset, learner Learner[M], optNode, optCtx optimizers.Interface,
	seed uint64) (*Trainer[M], error) {
	if ds == nil || learner == nil || optNode == nil || optCtx == nil {
		return nil, errors.New("NewTrainer requires a dataset, a learner and two optimizers")
	}
	if seed == NoSeed {
		seed = rand.Uint64()
	}
	t := &Trainer[M]{
		dataset:      ds,
		learner:      learner,
		optNode:      optNode,
		optCtx:       optCtx,
		seed:         seed,
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		history:      &History{},
		gradSettings: gradients.DefaultSettings(),
		loop:         NewLoop(),
	}
	var err error
	t.optStateNode, err = optNode.Init(learner.Model().Trainable())
	if err != nil {
		return nil, errors.WithMessage(err, "failed to initialize the node optimizer")
	}
	t.optStateCtx, err = optCtx.Init(learner.Contexts())
	if err != nil {
		return nil, errors.WithMessage(err, "failed to initialize the context optimizer")
	}
	klog.V(1).Infof("Trainer created for dataset %q with seed %d", ds.Name(), seed)
	return t, nil
}

// WithGradientSettings configures the finite differences used to compute the gradients.
// It returns the trainer, so calls can be cascaded.
func (t *Trainer[M]) WithGradientSettings(settings *gradients.Settings) *Trainer[M] {
	t.gradSettings = settings
	return t
}

// Learner being trained.
func (t *Trainer[M]) Learner() Learner[M] { return t.learner }

// Dataset used for training.
func (t *Trainer[M]) Dataset() data.Dataset { return t.dataset }

// Loop holds the training progress and the hooks, see Loop.OnStart, Loop.OnStep, Loop.OnEpoch and Loop.OnEnd.
func (t *Trainer[M]) Loop() *Loop { return t.loop }

// Seed used to create the trainer.
func (t *Trainer[M]) Seed() uint64 { return t.seed }

// NewSeed returns a new seed derived from the trainer's random key, for components that need
// their own randomness (e.g. shuffling a dataset).
func (t *Trainer[M]) NewSeed() uint64 { return t.rng.Uint64() }

// OptStateNode returns the current state of the node optimizer.
func (t *Trainer[M]) OptStateNode() optimizers.State { return t.optStateNode }

// OptStateCtx returns the current state of the context optimizer.
func (t *Trainer[M]) OptStateCtx() optimizers.State { return t.optStateCtx }

// History returns the per-epoch aggregates of all Train calls so far.
func (t *Trainer[M]) History() *History { return t.history }

// Train the learner for cfg.NumEpochs epochs over the dataset.
//
// At every batch a node step is taken, followed by a context step if the batch index is a multiple of
// cfg.UpdateContextEvery. The environment weights are refreshed after every step from the Aux.Term1 of
// the step's loss. At the end the learner and optimizer states are updated, the run is appended to the
// history, and if cfg.SavePath is set, the trainer is saved.
func (t *Trainer[M]) Train(cfg Config) error {
	stepsPerEpoch := data.StepsPerEpoch(t.dataset)
	if err := cfg.Validate(stepsPerEpoch); err != nil {
		return errors.WithMessagef(err, "Trainer.Train(dataset=%q)", t.dataset.Name())
	}
	var err error
	panicErr := exceptions.TryCatch[error](func() { err = t.train(cfg, stepsPerEpoch) })
	if panicErr != nil {
		return errors.WithMessage(panicErr, "Trainer.Train() panicked")
	}
	return err
}

func (t *Trainer[M]) train(cfg Config, stepsPerEpoch int) error {
	loop := t.loop
	numEnvs := t.learner.NumEnvs()
	if numEnvs <= 0 {
		return errors.Errorf("learner has %d environments, cannot train", numEnvs)
	}
	totalSteps := cfg.NumEpochs * stepsPerEpoch
	klog.Infof("\n\n=== Beginning training with dataset %q ===", t.dataset.Name())
	klog.Infof("    Number of examples per batch: %d", t.dataset.BatchSize())
	klog.Infof("    Number of train steps per epoch: %d", stepsPerEpoch)
	klog.Infof("    Number of training epochs: %d", cfg.NumEpochs)
	klog.Infof("    Total number of training steps: %d", totalSteps)

	if err := loop.begin(cfg.NumEpochs, stepsPerEpoch); err != nil {
		return err
	}
	weights := make([]float64, numEnvs)
	for ii := range weights {
		weights[ii] = 1.0 / float64(numEnvs)
	}
	model := t.learner.Model()
	contexts := t.learner.Contexts()
	optStateNode, optStateCtx := t.optStateNode, t.optStateCtx
	run := newRunHistory(cfg.NumEpochs)

	startTime := time.Now()
	for epoch := range cfg.NumEpochs {
		loop.Epoch = epoch
		epochStart := time.Now()
		info := EpochInfo{Epoch: epoch}
		var sumLossNode, sumLossCtx float64
		t.dataset.Reset()
		for batchIdx := 0; ; batchIdx++ {
			batch, err := t.dataset.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				return errors.WithMessagef(err, "epoch %d: failed reading batch %d from dataset %q", epoch, batchIdx, t.dataset.Name())
			}

			// Node step.
			stepStart := time.Now()
			var (
				loss float64
				aux  Aux
			)
			model, optStateNode, loss, aux, err = t.trainStepNode(model, contexts, batch, weights, optStateNode)
			if err != nil {
				return errors.WithMessagef(err, "epoch %d, batch %d", epoch, batchIdx)
			}
			weights, err = refreshWeights(aux.Term1, numEnvs)
			if err != nil {
				return errors.WithMessagef(err, "epoch %d, batch %d: node step", epoch, batchIdx)
			}
			sumLossNode += loss
			info.NumStepsNode += aux.NumSteps
			info.NumBatchesNode++
			err = loop.step(StepInfo{Kind: NodeStep, Epoch: epoch, Batch: batchIdx, Loss: loss,
				NumSteps: aux.NumSteps, Weights: slices.Clone(weights)}, time.Since(stepStart))
			if err != nil {
				return errors.WithMessagef(err, "epoch %d, batch %d", epoch, batchIdx)
			}

			// Context step.
			if batchIdx%cfg.UpdateContextEvery == 0 {
				stepStart = time.Now()
				contexts, optStateCtx, loss, aux, err = t.trainStepCtx(model, contexts, batch, weights, optStateCtx)
				if err != nil {
					return errors.WithMessagef(err, "epoch %d, batch %d", epoch, batchIdx)
				}
				weights, err = refreshWeights(aux.Term1, numEnvs)
				if err != nil {
					return errors.WithMessagef(err, "epoch %d, batch %d: context step", epoch, batchIdx)
				}
				sumLossCtx += loss
				info.NumStepsCtx += aux.NumSteps
				info.NumBatchesCtx++
				err = loop.step(StepInfo{Kind: ContextStep, Epoch: epoch, Batch: batchIdx, Loss: loss,
					NumSteps: aux.NumSteps, Weights: slices.Clone(weights)}, time.Since(stepStart))
				if err != nil {
					return errors.WithMessagef(err, "epoch %d, batch %d", epoch, batchIdx)
				}
			}
			loop.LoopStep++
		}

		if info.NumBatchesNode == 0 {
			return errors.Errorf("epoch %d: dataset %q yielded no batches, no node step taken", epoch, t.dataset.Name())
		}
		if info.NumBatchesCtx == 0 {
			return errors.Errorf("epoch %d: no context step taken over %d batches", epoch, info.NumBatchesNode)
		}
		info.LossNode = sumLossNode / float64(info.NumBatchesNode)
		info.LossCtx = sumLossCtx / float64(info.NumBatchesCtx)
		info.Duration = time.Since(epochStart)
		run.append(info)
		if cfg.shouldLog(epoch) {
			klog.Infof("Epoch: %5d LossNeuralODE: %.8f LossContext: %.8f", epoch, info.LossNode, info.LossCtx)
		}
		if err := loop.epoch(info); err != nil {
			return errors.WithMessagef(err, "epoch %d", epoch)
		}
	}

	wallTime := time.Since(startTime)
	hours := int(wallTime.Hours())
	minutes := int(wallTime.Minutes()) % 60
	seconds := int(wallTime.Seconds()) % 60
	klog.Infof("Total gradient descent training time: %d hours %d mins %d secs", hours, minutes, seconds)

	t.learner.SetModel(model)
	t.learner.SetContexts(contexts)
	t.optStateNode, t.optStateCtx = optStateNode, optStateCtx
	t.history.appendRun(run)

	if cfg.SavePath != "" {
		if err := t.Save(cfg.SavePath); err != nil {
			return err
		}
	}
	return loop.end(t.history.Clone())
}

// trainStepNode computes the loss and the gradient with respect to the trainable parameters of the model,
// with the contexts held constant, and applies the node optimizer update.
func (t *Trainer[M]) trainStepNode(model M, contexts *params.Tree, batch *data.Batch, weights []float64,
	optState optimizers.State) (newModel M, newOptState optimizers.State, loss float64, aux Aux, err error) {
	t.nodeStepOnce.Do(func() {
		klog.V(1).Infof("First call to the node step: batch of %d environments x %d trajectories", batch.NumEnvs(), batch.Size())
	})
	var lossFn gradients.LossFn[M, Aux] = func(m M) (float64, Aux, error) {
		return t.learner.Loss(m, contexts, batch, weights)
	}
	loss, aux, grads, err := gradients.ValueAndGrad(lossFn, model, t.gradSettings)
	if err != nil {
		err = errors.WithMessage(err, "node step")
		return
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		err = errors.Errorf("node step: loss is %g", loss)
		return
	}
	updates, newOptState, err := t.optNode.Update(grads, optState)
	if err != nil {
		err = errors.WithMessage(err, "node step optimizer update")
		return
	}
	newModel = model.WithTrainable(model.Trainable().Apply(updates))
	return
}

// trainStepCtx computes the loss and the gradient with respect to the contexts, with the model held
// constant, and applies the context optimizer update.
func (t *Trainer[M]) trainStepCtx(model M, contexts *params.Tree, batch *data.Batch, weights []float64,
	optState optimizers.State) (newContexts *params.Tree, newOptState optimizers.State, loss float64, aux Aux, err error) {
	t.ctxStepOnce.Do(func() {
		klog.V(1).Infof("First call to the context step: batch of %d environments x %d trajectories", batch.NumEnvs(), batch.Size())
	})
	swapped := swapArgs(LossFn[M](t.learner.Loss))
	var lossFn gradients.LossFn[*params.Tree, Aux] = func(c *params.Tree) (float64, Aux, error) {
		return swapped(c, model, batch, weights)
	}
	loss, aux, grads, err := gradients.ValueAndGrad(lossFn, contexts, t.gradSettings)
	if err != nil {
		err = errors.WithMessage(err, "context step")
		return
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		err = errors.Errorf("context step: loss is %g", loss)
		return
	}
	updates, newOptState, err := t.optCtx.Update(grads, optState)
	if err != nil {
		err = errors.WithMessage(err, "context step optimizer update")
		return
	}
	newContexts = contexts.Apply(updates)
	return
}

// swapArgs adapts a loss so the contexts become the leading argument, and the model an auxiliary one.
func swapArgs[M any](lossFn LossFn[M]) func(contexts *params.Tree, model M, batch *data.Batch, weights []float64) (float64, Aux, error) {
	return func(contexts *params.Tree, model M, batch *data.Batch, weights []float64) (float64, Aux, error) {
		return lossFn(model, contexts, batch, weights)
	}
}

// refreshWeights normalizes term1 (plus WeightsEpsilon) into environment weights summing to 1.
func refreshWeights(term1 []float64, numEnvs int) ([]float64, error) {
	if len(term1) != numEnvs {
		return nil, errors.Errorf("loss returned term1 with %d values, but there are %d environments", len(term1), numEnvs)
	}
	weights := make([]float64, numEnvs)
	for ii, v := range term1 {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Errorf("invalid term1[%d]=%g for environment weights, it must be finite and >= 0", ii, v)
		}
		weights[ii] = v + WeightsEpsilon
	}
	// Scaling by the largest entry first keeps the sum finite.
	floats.Scale(1/floats.Max(weights), weights)
	floats.Scale(1/floats.Sum(weights), weights)
	return weights, nil
}
