// nodebias_checkpoints reports on the contents of one or more checkpoint directories saved by nodebias:
// summary, learner configuration, variables, training history and the collected plot points.
//
// It can also export the history to CSV, render PNG plots, perturb the model weights or reset the
// optimizer states of a checkpoint.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/janpfeifer/must"
	"github.com/nodebias/nodebias/ml/data"
	"github.com/nodebias/nodebias/ml/models/node"
	"github.com/nodebias/nodebias/ml/train"
	"github.com/nodebias/nodebias/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagSummary  = flag.Bool("summary", false, "Display a summary of the checkpoints: runs, epochs, final losses and sizes.")
	flagParams   = flag.Bool("params", false, "Lists the learner configuration, highlighting values that differ across checkpoints.")
	flagHistory  = flag.Bool("history", false, "Lists the per-epoch training history.")
	flagLast     = flag.Int("last", 0, "If > 0, -history only lists the last <n> epochs of each checkpoint.")
	flagCSV      = flag.String("csv", "", "Exports the training history of all checkpoints to the given CSV file.")
	flagGlossary = flag.Bool("glossary", true, "Prints a glossary of the columns of the reports, where needed.")
)

// checkpoint holds the contents of one checkpoint directory.
type checkpoint struct {
	path, name   string
	learner      *node.Learner
	history      *train.History
	optStateNode optimizers.State
	optStateCtx  optimizers.State
	missingFiles []string
}

// loadCheckpoint reads the learner and, if present, the histories and optimizer states.
func loadCheckpoint(path, name string) (*checkpoint, error) {
	c := &checkpoint{path: path, name: name}
	var err error
	c.learner, err = node.LoadLearner(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading learner of checkpoint %q", path)
	}
	if data.FileExists(filepath.Join(path, train.HistoriesFile)) {
		if c.history, err = train.LoadHistory(path); err != nil {
			return nil, errors.WithMessagef(err, "checkpoint %q", path)
		}
	} else {
		c.missingFiles = append(c.missingFiles, train.HistoriesFile)
		c.history = &train.History{}
	}
	for _, s := range []struct {
		file  string
		state *optimizers.State
	}{{train.OptStateNodeFile, &c.optStateNode}, {train.OptStateCtxFile, &c.optStateCtx}} {
		filePath := filepath.Join(path, s.file)
		if !data.FileExists(filePath) {
			c.missingFiles = append(c.missingFiles, s.file)
			continue
		}
		if *s.state, err = optimizers.LoadState(filePath); err != nil {
			return nil, errors.WithMessagef(err, "checkpoint %q", path)
		}
	}
	return c, nil
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint directory to read from. See 'nodebias_checkpoints -help'")
		os.Exit(1)
	}
	paths := make([]string, len(args))
	for ii, arg := range args {
		paths[ii] = data.ReplaceTildeInDir(arg)
	}

	if *flagPerturb != 0 || *flagResetOptimizer {
		if len(paths) > 1 {
			klog.Errorf("-perturb and -reset_optimizer can only be used with one checkpoint at a time.")
			os.Exit(1)
		}
		if *flagResetOptimizer {
			must.M(ResetOptimizer(os.Stdout, paths[0]))
		}
		if *flagPerturb != 0 {
			must.M(PerturbVars(os.Stdout, paths[0], *flagPerturb, *flagSeed))
		}
	}

	names := MinimalUniquePaths(paths...)
	checkpoints := make([]*checkpoint, len(paths))
	for ii, path := range paths {
		checkpoints[ii] = must.M1(loadCheckpoint(path, names[ii]))
		for _, file := range checkpoints[ii].missingFiles {
			klog.Warningf("checkpoint %q has no %q", path, file)
		}
	}

	noReport := !*flagSummary && !*flagParams && !*flagVars && !*flagHistory && !*flagMetrics && !*flagMetricsLabels &&
		*flagCSV == "" && *flagPlot == ""
	if *flagSummary || noReport {
		Summary(os.Stdout, checkpoints)
	}
	if *flagParams {
		must.M(Params(os.Stdout, checkpoints))
	}
	if *flagVars {
		for _, c := range checkpoints {
			ListVariables(os.Stdout, c)
		}
	}
	if *flagHistory {
		for _, c := range checkpoints {
			ReportHistory(os.Stdout, c, *flagLast)
		}
	}
	if *flagCSV != "" {
		must.M(ExportCSV(*flagCSV, checkpoints))
		fmt.Printf("History exported to %q\n", *flagCSV)
	}
	if *flagMetrics || *flagMetricsLabels || *flagPlot != "" {
		must.M(metrics(os.Stdout, checkpoints))
	}
}
