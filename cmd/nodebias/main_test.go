package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/nodebias/nodebias/ml/data"
	"github.com/nodebias/nodebias/ml/models/node"
	"github.com/nodebias/nodebias/ml/ode"
	"github.com/nodebias/nodebias/ml/params"
	"github.com/nodebias/nodebias/ml/train"
	"github.com/nodebias/nodebias/ml/train/optimizers"
	"github.com/nodebias/nodebias/ui/commandline"
	"github.com/nodebias/nodebias/ui/plots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smallSettings = "trajectories=2;horizon=1;num_times=3;num_epochs=2;print_error_every=1;hidden_layers=1;hidden_nodes=4"

func TestCreateLearnerConfig(t *testing.T) {
	s := createDefaultSettings()
	require.NoError(t, commandline.ParseSettings(s, "hidden_nodes=8;integrator=dopri5;dopri5_rtol=1e-4;model_seed=3"))
	cfg, err := createLearnerConfig(s, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.HiddenNodes)
	assert.Equal(t, uint64(3), cfg.Seed)
	dopri5, ok := cfg.Integrator.Value.(*ode.Dopri5)
	require.True(t, ok)
	assert.Equal(t, 1e-4, dopri5.RTol)

	require.NoError(t, commandline.ParseSettings(s, "integrator=euler"))
	_, err = createLearnerConfig(s, 2, 4)
	require.Error(t, err)
}

func TestCreateOptimizers(t *testing.T) {
	s := createDefaultSettings()
	require.NoError(t, commandline.ParseSettings(s, "ctx/optimizer=sgd;ctx/learning_rate=0.01"))
	optNode, optCtx, err := createOptimizers(s)
	require.NoError(t, err)
	p := params.New().Add("w", []float64{1, 2})
	nodeState, err := optNode.Init(p)
	require.NoError(t, err)
	assert.IsType(t, &optimizers.AdamState{}, nodeState)
	ctxState, err := optCtx.Init(p)
	require.NoError(t, err)
	assert.IsType(t, &optimizers.SGDState{}, ctxState)

	require.NoError(t, commandline.ParseSettings(s, "node/optimizer=lbfgs"))
	_, _, err = createOptimizers(s)
	require.Error(t, err)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	s := createDefaultSettings()
	require.NoError(t, commandline.ParseSettings(s, smallSettings))
	root := t.TempDir()
	opts := options{
		checkpoint:   filepath.Join(root, "checkpoint"),
		saveDataPath: filepath.Join(root, "data.csv"),
		plot:         true,
		seed:         1,
	}
	require.NoError(t, run(ctx, s, opts))
	for _, file := range []string{node.ConfigFile, node.ModelFile, node.ContextsFile, train.HistoriesFile,
		train.OptStateNodeFile, train.OptStateCtxFile, plots.TrainingPlotFileName, HistoryPlotFile} {
		assert.True(t, data.FileExists(filepath.Join(opts.checkpoint, file)), "missing %q in checkpoint", file)
	}
	require.True(t, data.FileExists(opts.saveDataPath))

	// Resume training from the saved data: the history gets a second run.
	opts.dataPath, opts.saveDataPath = opts.saveDataPath, ""
	require.NoError(t, run(ctx, s, opts))
	history, err := train.LoadHistory(opts.checkpoint)
	require.NoError(t, err)
	assert.Equal(t, 2, history.NumRuns())

	// Resume after the optimizer states were removed: they restart from scratch.
	for _, file := range []string{train.OptStateNodeFile, train.OptStateCtxFile} {
		require.NoError(t, os.Remove(filepath.Join(opts.checkpoint, file)))
	}
	require.False(t, train.HasOptStates(opts.checkpoint))
	require.NoError(t, run(ctx, s, opts))
	history, err = train.LoadHistory(opts.checkpoint)
	require.NoError(t, err)
	assert.Equal(t, 3, history.NumRuns())
	assert.True(t, train.HasOptStates(opts.checkpoint))

	// Load only.
	opts.load = true
	require.NoError(t, run(ctx, s, opts))
	opts.checkpoint = filepath.Join(root, "missing")
	require.Error(t, run(ctx, s, opts))
}

func TestRunFromURL(t *testing.T) {
	ctx := context.Background()
	trajectories, times, err := data.LotkaVolterra().Trajectories(2).Horizon(1, 3).Generate()
	require.NoError(t, err)
	var csv bytes.Buffer
	require.NoError(t, data.WriteCSV(&csv, trajectories, times))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(csv.Bytes())
	}))
	defer server.Close()

	s := createDefaultSettings()
	require.NoError(t, commandline.ParseSettings(s, smallSettings+";num_epochs=1"))
	root := t.TempDir()
	opts := options{
		dataPath: server.URL + "/lv.csv",
		dataDir:  filepath.Join(root, "cache"),
		seed:     1,
	}
	require.NoError(t, run(ctx, s, opts))
	assert.True(t, data.FileExists(filepath.Join(opts.dataDir, "lv.csv")))

	opts.dataHash = "0123"
	require.Error(t, run(ctx, s, opts), "checksum mismatch")
}
