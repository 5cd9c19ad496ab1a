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
	"os"
	"path/filepath"

	"github.com/nodebias/nodebias/ml/data"
	"github.com/nodebias/nodebias/ml/npz"
	"github.com/nodebias/nodebias/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Files written by Trainer.Save, besides the ones written by the learner.
const (
	HistoriesFile    = "train_histories.npz"
	OptStateNodeFile = "opt_state_node.gob"
	OptStateCtxFile  = "opt_state_ctx.gob"
)

// DirPermMode is the default directory creation permission (before umask) used.
var DirPermMode = os.FileMode(0770)

// Save the histories, the optimizer states and the learner into dir, creating it if needed.
func (t *Trainer[M]) Save(dir string) error {
	dir = data.ReplaceTildeInDir(dir)
	klog.Infof("Saving model and results into %s folder", dir)
	if err := os.MkdirAll(dir, DirPermMode); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory %q", dir)
	}
	if err := t.history.ToArchive().Save(filepath.Join(dir, HistoriesFile)); err != nil {
		return errors.WithMessagef(err, "saving training histories to %q", dir)
	}
	if err := optimizers.SaveState(filepath.Join(dir, OptStateNodeFile), t.optStateNode); err != nil {
		return errors.WithMessage(err, "saving node optimizer state")
	}
	if err := optimizers.SaveState(filepath.Join(dir, OptStateCtxFile), t.optStateCtx); err != nil {
		return errors.WithMessage(err, "saving context optimizer state")
	}
	if err := t.learner.Save(dir); err != nil {
		return errors.WithMessagef(err, "saving learner to %q", dir)
	}
	return nil
}

// Load the histories, the optimizer states and the learner from dir, replacing the current ones.
//
// Any missing or corrupt file is an error, and in that case the trainer is left unchanged, except
// possibly for the learner, if it was the one that failed loading.
func (t *Trainer[M]) Load(dir string) error {
	dir = data.ReplaceTildeInDir(dir)
	klog.Infof("No training, loading model and results from %s folder", dir)
	history, err := LoadHistory(dir)
	if err != nil {
		return err
	}
	optStateNode, err := optimizers.LoadState(filepath.Join(dir, OptStateNodeFile))
	if err != nil {
		return errors.WithMessage(err, "loading node optimizer state")
	}
	optStateCtx, err := optimizers.LoadState(filepath.Join(dir, OptStateCtxFile))
	if err != nil {
		return errors.WithMessage(err, "loading context optimizer state")
	}
	if err = t.learner.Load(dir); err != nil {
		return errors.WithMessagef(err, "loading learner from %q", dir)
	}
	t.history = history
	t.optStateNode, t.optStateCtx = optStateNode, optStateCtx
	return nil
}

// HasOptStates returns whether both optimizer state files are present in dir.
func HasOptStates(dir string) bool {
	dir = data.ReplaceTildeInDir(dir)
	return data.FileExists(filepath.Join(dir, OptStateNodeFile)) && data.FileExists(filepath.Join(dir, OptStateCtxFile))
}

// LoadResetOptimizers loads the histories and the learner from dir, like Load, but ignores any optimizer
// state saved there: both optimizer states are initialized anew for the loaded parameters.
func (t *Trainer[M]) LoadResetOptimizers(dir string) error {
	dir = data.ReplaceTildeInDir(dir)
	klog.Infof("Loading model and results from %s folder, with fresh optimizer states", dir)
	history, err := LoadHistory(dir)
	if err != nil {
		return err
	}
	if err = t.learner.Load(dir); err != nil {
		return errors.WithMessagef(err, "loading learner from %q", dir)
	}
	optStateNode, err := t.optNode.Init(t.learner.Model().Trainable())
	if err != nil {
		return errors.WithMessage(err, "initializing node optimizer state")
	}
	optStateCtx, err := t.optCtx.Init(t.learner.Contexts())
	if err != nil {
		return errors.WithMessage(err, "initializing context optimizer state")
	}
	t.history = history
	t.optStateNode, t.optStateCtx = optStateNode, optStateCtx
	return nil
}

// LoadHistory loads only the training histories saved in dir.
func LoadHistory(dir string) (*History, error) {
	dir = data.ReplaceTildeInDir(dir)
	ar, err := npz.Load(filepath.Join(dir, HistoriesFile))
	if err != nil {
		return nil, errors.WithMessagef(err, "loading training histories from %q", dir)
	}
	history, err := HistoryFromArchive(ar)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading training histories from %q", dir)
	}
	return history, nil
}
