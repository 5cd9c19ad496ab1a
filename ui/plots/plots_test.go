package plots

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nodebias/nodebias/ml/data"
	"github.com/nodebias/nodebias/ml/models/node"
	"github.com/nodebias/nodebias/ml/train"
	"github.com/nodebias/nodebias/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointsWriter(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), TrainingPlotFileName)
	writer, err := NewPointsWriter(filePath)
	require.NoError(t, err)
	writer.Write(Point{RunID: "a", MetricName: "Node Loss", Short: "N/loss", MetricType: "loss", Step: 2, Value: 0.5})
	writer.Write(Point{RunID: "a", MetricName: "Node Solver Steps", Short: "N/nfe", MetricType: "steps", Step: 2, Value: 64})
	writer.Write(Point{RunID: "b", MetricName: "Node Loss", Short: "N/loss", MetricType: "loss", Step: 1, Value: 1})
	require.NoError(t, writer.Close())

	raw, err := LoadPoints(filePath)
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.Equal(t, "a", raw[0].RunID)

	points := NewPoints(raw)
	assert.Equal(t, 1.0, points[0].Step)
	assert.Equal(t, 2.0, raw[0].Step, "NewPoints doesn't change its input")
	assert.Equal(t, []string{"Node Loss", "Node Solver Steps"}, points.MetricsNames())
	assert.Equal(t, []string{"loss", "steps"}, points.MetricTypes())
	assert.Equal(t, []string{"b", "a"}, points.Runs())
	steps, values := points.Series("a", "N/loss")
	assert.Equal(t, []float64{2}, steps)
	assert.Equal(t, []float64{0.5}, values)

	losses := points.Filter(func(p Point) bool { return p.MetricType == "loss" })
	assert.Len(t, losses, 2)
	assert.Len(t, points, 3)

	_, err = LoadPoints(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	_, err = NewPointsWriter(filepath.Join(t.TempDir(), "missing", "points.json"))
	require.Error(t, err)
}

func TestLoadPointsTruncated(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), TrainingPlotFileName)
	contents := `{"RunID":"a","MetricName":"Node Loss","Short":"N/loss","MetricType":"loss","Step":1,"Value":1}
{"RunID":"a","MetricName":"Node Loss","Short":"N/loss","MetricType":"loss","Step":2,"Va`
	require.NoError(t, os.WriteFile(filePath, []byte(contents), 0o644))
	raw, err := LoadPoints(filePath)
	require.NoError(t, err)
	require.Len(t, raw, 1)

	// A malformed line that is not the last one is an error.
	require.NoError(t, os.WriteFile(filePath, []byte("{bad\n"+contents), 0o644))
	_, err = LoadPoints(filePath)
	require.Error(t, err)
}

func TestAttachToLoop(t *testing.T) {
	ds, err := data.LotkaVolterra().Trajectories(2).Horizon(1, 3).Seed(1).Dataset("lv", 1)
	require.NoError(t, err)
	cfg := node.DefaultConfig(ds.Dim(), ds.NumEnvs())
	cfg.HiddenLayers, cfg.HiddenNodes = 1, 4
	learner, err := node.NewLearner(cfg)
	require.NoError(t, err)
	trainer, err := train.NewTrainer[*node.NeuralODE](ds, learner,
		optimizers.Adam().Done(), optimizers.Adam().Done(), 1)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "checkpoint")
	AttachToLoop(trainer.Loop(), dir)
	trainCfg := train.DefaultConfig()
	trainCfg.NumEpochs = 3
	require.NoError(t, trainer.Train(trainCfg))
	firstRunID := trainer.Loop().SharedData[RunIDKey].(string)
	require.NoError(t, trainer.Train(trainCfg))
	secondRunID := trainer.Loop().SharedData[RunIDKey].(string)
	assert.NotEqual(t, firstRunID, secondRunID)

	raw, err := LoadPointsFromCheckpoint(dir)
	require.NoError(t, err)
	perRun := make(map[string]int)
	for _, pt := range raw {
		perRun[pt.RunID]++
	}
	// 2 losses, 2 solver steps and the max weight, for each of the 3 epochs.
	assert.Equal(t, map[string]int{firstRunID: 15, secondRunID: 15}, perRun)
	assert.Equal(t, 2.0, raw[0].Step, "2 batches per epoch")

	pngPath := filepath.Join(t.TempDir(), "loss.png")
	require.NoError(t, PointsPNG(raw, "loss", pngPath))
	assertPNG(t, pngPath)
	require.Error(t, PointsPNG(raw, "accuracy", pngPath))
}

func TestHistoryPNG(t *testing.T) {
	history := &train.History{
		LossesNode:   [][]float64{{1, 0.5, 0.25}, {0.2, 0.1}},
		LossesCtx:    [][]float64{{1.1, 0.6, 0.3}, {0.25, 0.12}},
		NumStepsNode: [][]int{{10, 10, 10}, {10, 10}},
		NumStepsCtx:  [][]int{{10, 10, 10}, {10, 10}},
	}
	pngPath := filepath.Join(t.TempDir(), "history.png")
	require.NoError(t, HistoryPNG(history, pngPath))
	assertPNG(t, pngPath)

	require.Error(t, HistoryPNG(&train.History{}, pngPath))
}

func assertPNG(t *testing.T, filePath string) {
	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	require.Greater(t, len(contents), 8)
	assert.Equal(t, "\x89PNG", string(contents[:4]))
}
