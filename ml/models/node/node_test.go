package node

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/nodebias/nodebias/ml/data"
	"github.com/nodebias/nodebias/ml/ode"
	"github.com/nodebias/nodebias/ml/params"
	"github.com/nodebias/nodebias/ml/train"
	"github.com/nodebias/nodebias/ml/train/optimizers"
	"github.com/nodebias/nodebias/models/polymorphicjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig(numEnvs int) Config {
	cfg := DefaultConfig(2, numEnvs)
	cfg.HiddenLayers = 1
	cfg.HiddenNodes = 4
	return cfg
}

func TestNeuralODE(t *testing.T) {
	model, err := NewNeuralODE(smallConfig(3))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"vector_field/layer_0/weights", "vector_field/layer_0/biases",
		"vector_field/layer_1/weights", "vector_field/layer_1/biases",
	}, model.Trainable().Names())
	assert.Equal(t, 4*4+4+4*2+2, model.Trainable().Size())

	times := []float64{0, 0.5, 1}
	traj, numSteps, err := model.Predict([]float64{1, 2}, []float64{0, 0}, times)
	require.NoError(t, err)
	require.Len(t, traj, 3)
	assert.Equal(t, []float64{1, 2}, traj[0])
	assert.Equal(t, 2*4, numSteps, "rk4 takes 4 sub-steps per interval by default")

	// WithTrainable doesn't change the original.
	zeros := model.WithTrainable(model.Trainable().ZerosLike())
	assert.False(t, params.Equal(model.Trainable(), zeros.Trainable()))
	traj, _, err = zeros.Predict([]float64{1, 2}, []float64{3, 4}, times)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, traj[2], "zero vector field keeps the state constant")

	_, _, err = model.Predict([]float64{1, 2, 3}, []float64{0, 0}, times)
	require.Error(t, err)
}

func TestLoss(t *testing.T) {
	cfg := smallConfig(2)
	cfg.ContextL1 = 0.5
	learner, err := NewLearner(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, learner.NumEnvs())
	assert.Equal(t, []int{2, 2}, learner.Contexts().MustGet(ContextsVar).Shape)

	// A zero vector field predicts constant trajectories.
	model := learner.Model().WithTrainable(learner.Model().Trainable().ZerosLike())
	contexts := params.New().Add(ContextsVar, []float64{1, -1, 0, 2}, 2, 2)
	batch := &data.Batch{
		Times: []float64{0, 1},
		Trajectories: [][][][]float64{
			{{{1, 1}, {2, 1}}}, // env 0: errors (1, 0)
			{{{0, 0}, {1, 1}}}, // env 1: errors (1, 1)
		},
	}
	loss, aux, err := learner.Loss(model, contexts, batch, []float64{0.25, 0.75})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1}, aux.Term1)
	assert.Equal(t, []float64{2, 2}, aux.Term2)
	assert.InDelta(t, 0.25*0.5+0.75*1+0.5*(2+2), loss, 1e-12)
	assert.Equal(t, 2*4, aux.NumSteps)

	// Mismatched inputs.
	_, _, err = learner.Loss(model, contexts, batch, []float64{1})
	require.Error(t, err)
	batch.Trajectories = batch.Trajectories[:1]
	_, _, err = learner.Loss(model, contexts, batch, []float64{0.5, 0.5})
	require.Error(t, err)
}

func TestParallelLoss(t *testing.T) {
	cfg := smallConfig(4)
	sequential, err := NewLearner(cfg)
	require.NoError(t, err)

	trajectories, times, err := data.LotkaVolterra().Trajectories(2).Horizon(1, 5).Generate()
	require.NoError(t, err)
	batch := &data.Batch{Times: times, Trajectories: trajectories}
	weights := []float64{0.1, 0.2, 0.3, 0.4}
	wantLoss, wantAux, err := sequential.Loss(sequential.Model(), sequential.Contexts(), batch, weights)
	require.NoError(t, err)
	for _, parallelism := range []int{-1, 2} {
		cfg.Parallelism = parallelism
		parallel, err := NewLearner(cfg)
		require.NoError(t, err)
		loss, aux, err := parallel.Loss(parallel.Model(), parallel.Contexts(), batch, weights)
		require.NoError(t, err)
		assert.Equal(t, wantLoss, loss, "parallelism=%d", parallelism)
		assert.Equal(t, wantAux, aux, "parallelism=%d", parallelism)
	}

	cfg.Parallelism = -2
	require.Error(t, cfg.Validate())
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(3)
	cfg.Integrator = polymorphicjson.Wrap[ode.Integrator](&ode.Dopri5{RTol: 1e-4, ATol: 1e-7, MaxSteps: 500})
	learner, err := NewLearner(cfg)
	require.NoError(t, err)
	learner.SetContexts(params.New().Add(ContextsVar, []float64{1, 2, 3, 4, 5, 6}, 3, 2))
	require.NoError(t, learner.Save(dir))
	for _, file := range []string{ModelFile, ContextsFile, ConfigFile} {
		assert.FileExists(t, filepath.Join(dir, file))
	}

	loaded, err := LoadLearner(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded.Config())
	assert.True(t, params.Equal(learner.Model().Trainable(), loaded.Model().Trainable()))
	assert.True(t, params.Equal(learner.Contexts(), loaded.Contexts()))
	assert.Equal(t, []float64{5, 6}, loaded.Context(loaded.Contexts(), 2))
	assert.IsType(t, &ode.Dopri5{}, loaded.Model().Integrator())

	// Learners with different shapes can't load it.
	other, err := NewLearner(smallConfig(2))
	require.NoError(t, err)
	require.Error(t, other.Load(dir))
	_, err = LoadLearner(t.TempDir())
	require.Error(t, err)
}

func TestTrainLotkaVolterra(t *testing.T) {
	ds, err := data.LotkaVolterra().Trajectories(4).Horizon(2, 5).Seed(3).Dataset("lotka-volterra", 2)
	require.NoError(t, err)
	learner, err := NewLearner(smallConfig(ds.NumEnvs()))
	require.NoError(t, err)
	trainer, err := train.NewTrainer[*NeuralODE](ds, learner,
		optimizers.Adam().LearningRate(1e-2).Done(),
		optimizers.Adam().LearningRate(1e-2).Done(), 1)
	require.NoError(t, err)

	dir := t.TempDir()
	cfg := train.DefaultConfig()
	cfg.NumEpochs = 3
	cfg.SavePath = dir
	require.NoError(t, trainer.Train(cfg))
	history := trainer.History()
	require.Equal(t, 3, history.NumEpochs())
	for _, loss := range history.LossesNode[0] {
		assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0))
	}
	// 4 environments x 2 trajectories per batch x 4 intervals x 4 sub-steps, for each of the 2 batches.
	assert.Equal(t, 2*4*2*4*4, history.NumStepsNode[0][0])

	loaded, err := LoadLearner(dir)
	require.NoError(t, err)
	assert.True(t, params.Equal(learner.Model().Trainable(), loaded.Model().Trainable()))
	assert.True(t, params.Equal(learner.Contexts(), loaded.Contexts()))
}
