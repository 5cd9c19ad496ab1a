// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/nodebias/nodebias/ml/data"
	"github.com/nodebias/nodebias/ml/models/node"
	"github.com/nodebias/nodebias/ml/ode"
	"github.com/nodebias/nodebias/ml/train"
	"github.com/nodebias/nodebias/ml/train/optimizers"
	"github.com/nodebias/nodebias/models/polymorphicjson"
	"github.com/nodebias/nodebias/ui/commandline"
	"github.com/nodebias/nodebias/ui/plots"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Scopes of the optimizer hyperparameters, e.g.: -set="ctx/learning_rate=0.01".
const (
	NodeScope = "node"
	CtxScope  = "ctx"
)

// HistoryPlotFile is the name of the PNG file with the losses written into the checkpoint directory.
const HistoryPlotFile = "train_histories.png"

// createDefaultSettings defines all hyperparameters that can be changed with -set.
func createDefaultSettings() *commandline.Settings {
	modelDefaults := node.DefaultConfig(0, 0)
	return commandline.NewSettings().
		// Data.
		Set("trajectories", 4).
		Set("horizon", 10.0).
		Set("num_times", 20).
		Set("batch_size", 1).
		Set("noise", 0.0).

		// Training loop.
		Set("num_epochs", 1000).
		Set("update_context_every", 1).
		Set("print_error_every", 100).

		// Model.
		Set("context_dim", modelDefaults.ContextDim).
		Set("hidden_layers", modelDefaults.HiddenLayers).
		Set("hidden_nodes", modelDefaults.HiddenNodes).
		Set("activation", modelDefaults.Activation).
		Set("integrator", "rk4").
		Set("rk4_sub_steps", ode.NewRK4().SubSteps).
		Set("dopri5_rtol", ode.NewDopri5().RTol).
		Set("dopri5_atol", ode.NewDopri5().ATol).
		Set("context_l1", modelDefaults.ContextL1).
		Set("model_l2", modelDefaults.ModelL2).
		Set("model_seed", modelDefaults.Seed).
		Set("parallelism", modelDefaults.Parallelism).

		// Optimizers: each can be overridden in the scopes NodeScope and CtxScope.
		Set(optimizers.ParamOptimizer, "adam").
		Set(optimizers.ParamLearningRate, 1e-3).
		Set(optimizers.ParamClipGradNorm, 0.0).
		Set(optimizers.ParamCosineScheduleSteps, 0)
}

// options of one run, set from the command-line flags.
type options struct {
	dataPath, saveDataPath string
	dataDir, dataHash      string
	checkpoint             string
	load, restart          bool
	plot, progress         bool
	seed                   uint64
}

// createDataset loads the trajectories from the CSV file (downloading it first if it is a URL), or
// generates them.
func createDataset(ctx context.Context, s *commandline.Settings, opts options) (*data.InMemory, error) {
	batchSize := commandline.GetOr(s, commandline.RootScope, "batch_size", 1)
	var ds *data.InMemory
	var err error
	if opts.dataPath != "" {
		var dataPath string
		dataPath, err = data.FetchCSV(ctx, opts.dataPath, opts.dataDir, opts.dataHash)
		if err != nil {
			return nil, err
		}
		ds, err = data.LoadCSV(dataPath, batchSize)
	} else {
		ds, err = data.LotkaVolterra().
			Trajectories(commandline.GetOr(s, commandline.RootScope, "trajectories", 4)).
			Horizon(commandline.GetOr(s, commandline.RootScope, "horizon", 10.0),
				commandline.GetOr(s, commandline.RootScope, "num_times", 20)).
			Seed(opts.seed).
			Dataset("lotka-volterra", batchSize)
	}
	if err != nil {
		return nil, err
	}
	if opts.saveDataPath != "" {
		if err = data.SaveCSV(data.ReplaceTildeInDir(opts.saveDataPath), ds); err != nil {
			return nil, err
		}
		klog.Infof("Trajectories saved to %q", opts.saveDataPath)
	}
	return ds, nil
}

// createLearnerConfig builds the model configuration from the settings.
func createLearnerConfig(s *commandline.Settings, stateDim, numEnvs int) (node.Config, error) {
	root := commandline.RootScope
	cfg := node.DefaultConfig(stateDim, numEnvs)
	cfg.ContextDim = commandline.GetOr(s, root, "context_dim", cfg.ContextDim)
	cfg.HiddenLayers = commandline.GetOr(s, root, "hidden_layers", cfg.HiddenLayers)
	cfg.HiddenNodes = commandline.GetOr(s, root, "hidden_nodes", cfg.HiddenNodes)
	cfg.Activation = commandline.GetOr(s, root, "activation", cfg.Activation)
	cfg.ContextL1 = commandline.GetOr(s, root, "context_l1", cfg.ContextL1)
	cfg.ModelL2 = commandline.GetOr(s, root, "model_l2", cfg.ModelL2)
	cfg.Seed = commandline.GetOr(s, root, "model_seed", cfg.Seed)
	cfg.Parallelism = commandline.GetOr(s, root, "parallelism", cfg.Parallelism)

	integrator, err := ode.ByName(commandline.GetOr(s, root, "integrator", "rk4"))
	if err != nil {
		return cfg, err
	}
	switch i := integrator.(type) {
	case *ode.RK4:
		i.SubSteps = commandline.GetOr(s, root, "rk4_sub_steps", i.SubSteps)
	case *ode.Dopri5:
		i.RTol = commandline.GetOr(s, root, "dopri5_rtol", i.RTol)
		i.ATol = commandline.GetOr(s, root, "dopri5_atol", i.ATol)
	}
	cfg.Integrator = polymorphicjson.Wrap(integrator)
	return cfg, cfg.Validate()
}

// createOptimizers for the model and the contexts, using the hyperparameters of the corresponding scopes.
func createOptimizers(s *commandline.Settings) (optNode, optCtx optimizers.Interface, err error) {
	optNode, err = optimizers.FromParams(s.Params(NodeScope))
	if err != nil {
		return nil, nil, errors.WithMessage(err, "node optimizer")
	}
	optCtx, err = optimizers.FromParams(s.Params(CtxScope))
	if err != nil {
		return nil, nil, errors.WithMessage(err, "context optimizer")
	}
	return
}

// run creates the dataset, learner and trainer and trains (or only loads) the model.
func run(ctx context.Context, s *commandline.Settings, opts options) error {
	ds, err := createDataset(ctx, s, opts)
	if err != nil {
		return err
	}
	var trainDS data.Dataset = ds
	if noise := commandline.GetOr(s, commandline.RootScope, "noise", 0.0); noise > 0 {
		trainDS = data.Map(ds, data.GaussianNoise(noise, opts.seed))
	}
	learnerCfg, err := createLearnerConfig(s, ds.Dim(), ds.NumEnvs())
	if err != nil {
		return err
	}
	learner, err := node.NewLearner(learnerCfg)
	if err != nil {
		return err
	}
	optNode, optCtx, err := createOptimizers(s)
	if err != nil {
		return err
	}
	trainer, err := train.NewTrainer[*node.NeuralODE](trainDS, learner, optNode, optCtx, opts.seed)
	if err != nil {
		return err
	}

	checkpoint := data.ReplaceTildeInDir(opts.checkpoint)
	hasCheckpoint := checkpoint != "" && data.FileExists(filepath.Join(checkpoint, node.ConfigFile))
	if opts.load {
		if !hasCheckpoint {
			return errors.Errorf("-load requires an existing checkpoint in -checkpoint, %q has none", opts.checkpoint)
		}
		if err = loadCheckpoint(trainer, checkpoint); err != nil {
			return err
		}
		return commandline.ReportHistory(os.Stdout, trainer.History())
	}
	if hasCheckpoint && !opts.restart {
		klog.Infof("Resuming training from checkpoint %q", checkpoint)
		if err = loadCheckpoint(trainer, checkpoint); err != nil {
			return err
		}
	}

	if opts.progress {
		commandline.AttachProgressBar(trainer.Loop())
	}
	if opts.plot && checkpoint != "" {
		plots.AttachToLoop(trainer.Loop(), checkpoint)
	}
	cfg := train.DefaultConfig()
	cfg.NumEpochs = commandline.GetOr(s, commandline.RootScope, "num_epochs", cfg.NumEpochs)
	cfg.UpdateContextEvery = commandline.GetOr(s, commandline.RootScope, "update_context_every", cfg.UpdateContextEvery)
	cfg.PrintErrorEvery = commandline.GetOr(s, commandline.RootScope, "print_error_every", cfg.PrintErrorEvery)
	cfg.SavePath = checkpoint
	if err = trainer.Train(cfg); err != nil {
		return err
	}
	if err = commandline.ReportHistory(os.Stdout, trainer.History()); err != nil {
		return err
	}
	if opts.plot && checkpoint != "" {
		plotPath := filepath.Join(checkpoint, HistoryPlotFile)
		if err = plots.HistoryPNG(trainer.History(), plotPath); err != nil {
			return err
		}
		klog.Infof("Losses plotted in %q", plotPath)
	}
	return nil
}

// loadCheckpoint loads the trainer from checkpoint. If the optimizer states were removed (see
// nodebias_checkpoints -reset_optimizer), the model and the histories are loaded and the optimizers
// start from scratch.
func loadCheckpoint(trainer *train.Trainer[*node.NeuralODE], checkpoint string) error {
	if train.HasOptStates(checkpoint) {
		return trainer.Load(checkpoint)
	}
	klog.Warningf("Optimizer states missing in checkpoint %q, they will be reset", checkpoint)
	return trainer.LoadResetOptimizers(checkpoint)
}
