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
	"path/filepath"

	"github.com/nodebias/nodebias/internal/workerspool"
	"github.com/nodebias/nodebias/ml/data"
	"github.com/nodebias/nodebias/ml/layers/regularizers"
	"github.com/nodebias/nodebias/ml/npz"
	"github.com/nodebias/nodebias/ml/params"
	"github.com/nodebias/nodebias/ml/train"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Files written by Learner.Save.
const (
	ModelFile    = "model.npz"
	ContextsFile = "contexts.npz"
	ConfigFile   = "learner.json"
)

// ContextsVar is the name of the contexts variable, shaped [NumEnvs, ContextDim].
const ContextsVar = "contexts"

// Learner holds a NeuralODE and the contexts of each environment.
//
// Its loss for an environment e (term1[e]) is the mean squared error of the predicted trajectories
// (excluding the initial state, which is given), and its regularization (term2[e]) is the L1 norm of
// the context of e. The total loss is sum_e(weights[e]*term1[e]) + ContextL1*sum_e(term2[e]).
type Learner struct {
	config   Config
	model    *NeuralODE
	contexts *params.Tree
	workers  *workerspool.Pool
}

var _ train.Learner[*NeuralODE] = (*Learner)(nil)

// NewLearner creates a learner with a freshly initialized model and contexts set to zero.
func NewLearner(cfg Config) (*Learner, error) {
	model, err := NewNeuralODE(cfg)
	if err != nil {
		return nil, err
	}
	return &Learner{
		config:   cfg,
		model:    model,
		contexts: params.New().Add(ContextsVar, make([]float64, cfg.NumEnvs*cfg.ContextDim), cfg.NumEnvs, cfg.ContextDim),
		workers:  workerspool.New(cfg.Parallelism),
	}, nil
}

// LoadLearner creates a learner from the configuration and parameters saved in dir.
func LoadLearner(dir string) (*Learner, error) {
	cfg, err := LoadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}
	l, err := NewLearner(cfg)
	if err != nil {
		return nil, err
	}
	if err = l.Load(dir); err != nil {
		return nil, err
	}
	return l, nil
}

// Config of the learner.
func (l *Learner) Config() Config { return l.config }

// Model implements train.Learner.
func (l *Learner) Model() *NeuralODE { return l.model }

// SetModel implements train.Learner.
func (l *Learner) SetModel(model *NeuralODE) { l.model = model }

// Contexts implements train.Learner.
func (l *Learner) Contexts() *params.Tree { return l.contexts }

// SetContexts implements train.Learner.
func (l *Learner) SetContexts(contexts *params.Tree) { l.contexts = contexts }

// NumEnvs implements train.Learner.
func (l *Learner) NumEnvs() int { return l.config.NumEnvs }

// Context returns the context of environment env, for the given contexts tree.
func (l *Learner) Context(contexts *params.Tree, env int) []float64 {
	ctxDim := l.config.ContextDim
	return contexts.MustGet(ContextsVar).Value[env*ctxDim : (env+1)*ctxDim]
}

// Loss implements train.Learner.
func (l *Learner) Loss(model *NeuralODE, contexts *params.Tree, batch *data.Batch, weights []float64) (
	loss float64, aux train.Aux, err error) {
	numEnvs := l.config.NumEnvs
	if batch.NumEnvs() != numEnvs {
		return 0, aux, errors.Errorf("batch has %d environments, learner was configured with %d", batch.NumEnvs(), numEnvs)
	}
	if len(weights) != numEnvs {
		return 0, aux, errors.Errorf("got %d weights for %d environments", len(weights), numEnvs)
	}
	if dim := batch.Dim(); dim != l.config.StateDim {
		return 0, aux, errors.Errorf("batch states have dimension %d, learner was configured with %d", dim, l.config.StateDim)
	}
	aux.Term1 = make([]float64, numEnvs)
	aux.Term2 = make([]float64, numEnvs)
	numSteps := make([]int, numEnvs)
	envErrs := make([]error, numEnvs)
	l.workers.Run(numEnvs, func(env int) {
		aux.Term1[env], numSteps[env], envErrs[env] = envMSE(model, l.Context(contexts, env), batch, env)
	})
	// Reduced in environment order, so results don't depend on the parallelism.
	for env := range numEnvs {
		aux.NumSteps += numSteps[env]
		if envErrs[env] != nil {
			return 0, aux, envErrs[env]
		}
		aux.Term2[env] = regularizers.L1Norm(l.Context(contexts, env))
		loss += weights[env]*aux.Term1[env] + l.config.ContextL1*aux.Term2[env]
	}
	loss += regularizers.Tree(regularizers.L2(l.config.ModelL2), model.Trainable())
	return loss, aux, nil
}

// envMSE returns the mean squared error of the predictions of the trajectories of environment env
// and the number of solver steps used.
func envMSE(model *NeuralODE, context []float64, batch *data.Batch, env int) (mse float64, numSteps int, err error) {
	var sumSquares float64
	var count int
	for trajIdx, traj := range batch.Trajectories[env] {
		pred, steps, predErr := model.Predict(traj[0], context, batch.Times)
		numSteps += steps
		if predErr != nil {
			return 0, numSteps, errors.WithMessagef(predErr, "environment %d, trajectory %d", env, trajIdx)
		}
		for ti := 1; ti < len(traj); ti++ {
			for d, target := range traj[ti] {
				diff := pred[ti][d] - target
				sumSquares += diff * diff
				count++
			}
		}
	}
	if count > 0 {
		mse = sumSquares / float64(count)
	}
	return mse, numSteps, nil
}

// Save implements train.Learner: it writes the model parameters, the contexts and the configuration into dir.
func (l *Learner) Save(dir string) error {
	modelArchive := npz.New()
	l.model.Trainable().EnumerateVariables(func(v *params.Variable) {
		modelArchive.Set(v.Name, npz.Float64Array(v.Value, v.Shape...))
	})
	if err := modelArchive.Save(filepath.Join(dir, ModelFile)); err != nil {
		return errors.WithMessage(err, "saving model parameters")
	}
	ctxVar := l.contexts.MustGet(ContextsVar)
	err := npz.New().Set(ContextsVar, npz.Float64Array(ctxVar.Value, ctxVar.Shape...)).Save(filepath.Join(dir, ContextsFile))
	if err != nil {
		return errors.WithMessage(err, "saving contexts")
	}
	if err = SaveConfig(filepath.Join(dir, ConfigFile), l.config); err != nil {
		return err
	}
	klog.V(1).Infof("Learner saved to %q", dir)
	return nil
}

// Load implements train.Learner: it reads the model parameters and contexts saved in dir.
// The saved configuration must have the same shapes as the learner's, and its integrator and
// regularization replace the current ones.
func (l *Learner) Load(dir string) error {
	cfg, err := LoadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return err
	}
	if err = l.config.sameShapes(cfg); err != nil {
		return errors.WithMessagef(err, "loading learner from %q", dir)
	}
	model, err := NewNeuralODE(cfg)
	if err != nil {
		return err
	}

	modelArchive, err := npz.Load(filepath.Join(dir, ModelFile))
	if err != nil {
		return errors.WithMessage(err, "loading model parameters")
	}
	loaded := params.New()
	var loadErr error
	model.Trainable().EnumerateVariables(func(v *params.Variable) {
		if loadErr != nil {
			return
		}
		var values []float64
		values, loadErr = requireShape(modelArchive, v.Name, v.Shape)
		if loadErr == nil {
			loaded.Add(v.Name, values, v.Shape...)
		}
	})
	if loadErr != nil {
		return errors.WithMessagef(loadErr, "loading model parameters from %q", dir)
	}

	ctxArchive, err := npz.Load(filepath.Join(dir, ContextsFile))
	if err != nil {
		return errors.WithMessage(err, "loading contexts")
	}
	ctxValues, err := requireShape(ctxArchive, ContextsVar, []int{cfg.NumEnvs, cfg.ContextDim})
	if err != nil {
		return errors.WithMessagef(err, "loading contexts from %q", dir)
	}

	l.config = cfg
	l.workers = workerspool.New(cfg.Parallelism)
	l.model = model.WithTrainable(loaded)
	l.contexts = params.New().Add(ContextsVar, ctxValues, cfg.NumEnvs, cfg.ContextDim)
	return nil
}

// requireShape returns the values of the named array, checking it has the given shape.
func requireShape(ar *npz.Archive, name string, shape []int) ([]float64, error) {
	array, err := ar.Require(name)
	if err != nil {
		return nil, err
	}
	if array.Floats == nil || params.ShapeSize(array.Shape) != params.ShapeSize(shape) || len(array.Shape) != len(shape) {
		return nil, errors.Errorf("array %q has shape %v, expected float64 values with shape %v", name, array.Shape, shape)
	}
	for ii, dim := range shape {
		if array.Shape[ii] != dim {
			return nil, errors.Errorf("array %q has shape %v, expected %v", name, array.Shape, shape)
		}
	}
	return array.Floats, nil
}
