// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// nodebias trains a context-conditioned Neural ODE on multi-environment trajectories, alternating one
// gradient step on the shared model with one on the per-environment contexts.
//
// Data is either loaded from a CSV file or URL (-data) or generated from Lotka-Volterra environments. The model,
// contexts, optimizer states, histories and plot points are saved into -checkpoint.
package main

import (
	"context"
	"flag"

	"github.com/nodebias/nodebias/ui/commandline"
	"k8s.io/klog/v2"
)

var (
	flagData       = flag.String("data", "", "CSV file or http(s) URL with the trajectories (columns env,traj,t,x0,...). If empty, Lotka-Volterra data is generated.")
	flagDataDir    = flag.String("data_dir", "~/.nodebias/data", "Directory where datasets given by URL in -data are downloaded to.")
	flagDataHash   = flag.String("data_sha256", "", "If set, the sha256 (hex) the -data file must have.")
	flagSaveData   = flag.String("save_data", "", "If set, the (generated) trajectories are saved to this CSV file.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory to save and load checkpoints from. If left empty, nothing is saved.")
	flagLoad       = flag.Bool("load", false, "No training: load the model and results from -checkpoint and report them.")
	flagRestart    = flag.Bool("restart", false, "Ignore any existing checkpoint in -checkpoint and train from scratch.")
	flagPlot       = flag.Bool("plot", true, "Collect plot points and write a PNG of the losses into -checkpoint.")
	flagProgress   = flag.Bool("progress", true, "Display a progress bar while training.")
	flagSeed       = flag.Uint64("seed", 0, "Seed used to shuffle the data and add noise. If 0 a random seed is used.")
)

func main() {
	settings := createDefaultSettings()
	settingsFlag := commandline.CreateSettingsFlag(settings, "")
	klog.InitFlags(nil)
	flag.Parse()
	if err := commandline.ParseSettings(settings, *settingsFlag); err != nil {
		klog.Fatalf("Invalid -set: %+v", err)
	}
	klog.V(1).Info(commandline.SprintSettings(settings))

	opts := options{
		dataPath:     *flagData,
		dataDir:      *flagDataDir,
		dataHash:     *flagDataHash,
		saveDataPath: *flagSaveData,
		checkpoint:   *flagCheckpoint,
		load:         *flagLoad,
		restart:      *flagRestart,
		plot:         *flagPlot,
		progress:     *flagProgress,
		seed:         *flagSeed,
	}
	if err := run(context.Background(), settings, opts); err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}
