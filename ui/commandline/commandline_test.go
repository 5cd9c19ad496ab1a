// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"flag"
	"testing"
	"time"

	"github.com/nodebias/nodebias/ml/data"
	"github.com/nodebias/nodebias/ml/models/node"
	"github.com/nodebias/nodebias/ml/train"
	"github.com/nodebias/nodebias/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestSettings() *Settings {
	return NewSettings().
		Set("x", 11.0).
		Set("y", 7).
		Set("z", false).
		Set("s", "foo").
		Set("list_int", []int{}).
		Set("list_float", []float64{}).
		Set("list_str", []string{})
}

func TestParseSettings(t *testing.T) {
	s := createTestSettings()

	require.NoError(t, ParseSettings(s,
		"x=13;a/z=true;/a/b/y=3_000;s=bar;list_int=1,3,7;list_float=0.1,1.2,3e3;list_str=a,b;"))
	x, found := s.Get(RootScope, "x")
	assert.True(t, found)
	assert.Equal(t, 13.0, x.(float64))

	assert.Equal(t, 7, GetOr(s, RootScope, "y", 0))
	assert.Equal(t, 7, GetOr(s, "a", "y", 0))
	assert.Equal(t, 3000, GetOr(s, "a/b", "y", 0))

	assert.False(t, GetOr(s, RootScope, "z", true))
	assert.True(t, GetOr(s, "a", "z", false))
	assert.Equal(t, "bar", GetOr(s, RootScope, "s", ""))

	assert.Equal(t, []int{1, 3, 7}, GetOr(s, RootScope, "list_int", []int{}))
	assert.Equal(t, []float64{0.1, 1.2, 3e3}, GetOr(s, RootScope, "list_float", []float64{}))
	assert.Equal(t, []string{"a", "b"}, GetOr(s, RootScope, "list_str", []string{}))
	assert.Equal(t, []string{"a", "a/b"}, s.Scopes())

	p := s.Params("a")
	assert.Equal(t, true, p["z"])
	assert.Equal(t, 13.0, p["x"])

	// Parameter "q" is unknown.
	require.Error(t, ParseSettings(s, "q=3"))

	// Parameter "q" is still unknown in root.
	s.SetIn("c", "q", 13)
	require.Error(t, ParseSettings(s, "q=3"))

	// Cannot set the wrong type of value.
	require.Error(t, ParseSettings(s, "y=3.14"))
	require.Error(t, ParseSettings(s, "list_int=1,a"))
	require.Error(t, ParseSettings(s, "x"))
}

func TestSettingsFlagAndPrint(t *testing.T) {
	s := createTestSettings()
	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	settingsFlag := CreateSettingsFlagIn(flags, s, "")
	require.NoError(t, flags.Parse([]string{"-set", "ctx/x=0.5"}))
	require.NoError(t, ParseSettings(s, *settingsFlag))
	assert.Equal(t, 0.5, GetOr(s, "ctx", "x", 0.0))
	assert.Equal(t, 11.0, GetOr(s, "node", "x", 0.0))
	assert.Contains(t, flags.Lookup("set").Usage, `"list_str": default value is []`)

	out := SprintSettings(s)
	assert.Contains(t, out, `"x": (float64) 11`)
	assert.Contains(t, out, `"ctx" / "x": (float64) 0.5`)
}

func TestProgressBar(t *testing.T) {
	ds, err := data.LotkaVolterra().Trajectories(2).Horizon(1, 3).Seed(1).Dataset("lv", 1)
	require.NoError(t, err)
	cfg := node.DefaultConfig(ds.Dim(), ds.NumEnvs())
	cfg.HiddenLayers, cfg.HiddenNodes = 1, 4
	learner, err := node.NewLearner(cfg)
	require.NoError(t, err)
	trainer, err := train.NewTrainer[*node.NeuralODE](ds, learner,
		optimizers.Adam().Done(), optimizers.Adam().Done(), 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	AttachProgressBarTo(trainer.Loop(), &buf)
	trainCfg := train.DefaultConfig()
	trainCfg.NumEpochs = 2
	require.NoError(t, trainer.Train(trainCfg))
	output := buf.String()
	assert.Contains(t, output, "Training (2 epochs, 4 steps)")
	assert.Contains(t, output, "Global Step")
	assert.Contains(t, output, "Moving Average Node Loss")

	// A second run draws a new progress bar.
	buf.Reset()
	require.NoError(t, trainer.Train(trainCfg))
	assert.Contains(t, buf.String(), " / 8")

	buf.Reset()
	require.NoError(t, ReportHistory(&buf, trainer.History()))
	report := buf.String()
	assert.Contains(t, report, "Final Node Loss")
	assert.Contains(t, report, "Context Solver Steps")
	assert.Equal(t, 2, trainer.History().NumRuns())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.50s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2.00ms", FormatDuration(2*time.Millisecond))
	assert.Equal(t, "12.35µs", FormatDuration(12346*time.Nanosecond))
	assert.Equal(t, "0.00s", FormatDuration(0))
	assert.Equal(t, "-3.25s", FormatDuration(-3250*time.Millisecond))
	assert.Equal(t, "1h2m4s", FormatDuration(time.Hour+2*time.Minute+3600*time.Millisecond))
	assert.Equal(t, "1m0s", FormatDuration(time.Minute+200*time.Millisecond))
}
