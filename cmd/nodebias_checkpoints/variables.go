package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/nodebias/nodebias/ml/models/node"
	"github.com/nodebias/nodebias/ml/params"
	"github.com/nodebias/nodebias/ml/train"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

var (
	flagVars           = flag.Bool("vars", false, "Lists the model and context variables.")
	flagResetOptimizer = flag.Bool("reset_optimizer", false, "Deletes the optimizer states of the checkpoint, so training restarts them from scratch.")
	flagPerturb        = flag.Float64("perturb", 0,
		"Perturbs the model weights by <x>: it multiplies the weights by 1.0+(RandomUniform(-1, 1)*x). "+
			"If using Adam optimizer (or other optimizers) remember to clear their running moving averages with -reset_optimizer. "+
			"Contexts are not changed.")
	flagSeed = flag.Uint64("seed", 0, "Seed used by -perturb. If 0 a random seed is used.")
)

// ListVariables list the variables of the model and the contexts, with their shape and MAV (mean absolute value),
// RMS (root-mean-square) and MaxAV (max absolute value) values.
func ListVariables(w io.Writer, c *checkpoint) {
	_, _ = fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Variables of %q", c.name)))
	table := newPlainTable(true)
	table.Headers("Scope", "Name", "Shape", "Size", "Bytes", "Scalar/MAV", "RMS", "MaxAV")
	addVariables := func(scope string, tree *params.Tree) {
		tree.EnumerateVariables(func(v *params.Variable) {
			mav, rms, maxAV := variableStats(v.Value)
			table.Row(scope, v.Name, v.ShapeString(),
				humanize.Comma(int64(v.Size())),
				humanize.Bytes(uint64(8*v.Size())),
				mav, rms, maxAV)
		})
	}
	addVariables("model", c.learner.Model().Trainable())
	addVariables("contexts", c.learner.Contexts())
	_, _ = fmt.Fprintln(w, table.Render())
	if *flagGlossary {
		_, _ = fmt.Fprintf(w, "  %s:\n", sectionStyle.Render("Glossary"))
		_, _ = fmt.Fprintf(w, "   ◦ %s: %s\n", emphasisStyle.Render("Scalar/MAV"), italicStyle.Render("If variable is a scalar then the value itself, else the Mean Absolute Value"))
		_, _ = fmt.Fprintf(w, "   ◦ %s: %s\n", emphasisStyle.Render("RMS"), italicStyle.Render("Root Mean Square"))
		_, _ = fmt.Fprintf(w, "   ◦ %s: %s\n", emphasisStyle.Render("MaxAV"), italicStyle.Render("Max Absolute Value"))
	}
}

func variableStats(values []float64) (mav, rms, maxAV string) {
	switch len(values) {
	case 0:
		return
	case 1:
		mav = fmt.Sprintf("%8v", values[0])
		return
	}
	n := float64(len(values))
	mav = fmt.Sprintf("%.3g", floats.Norm(values, 1)/n)
	rms = fmt.Sprintf("%.3g", floats.Norm(values, 2)/math.Sqrt(n))
	maxAV = fmt.Sprintf("%.3g", floats.Norm(values, math.Inf(1)))
	return
}

// ResetOptimizer deletes the optimizer state files of the checkpoint.
func ResetOptimizer(w io.Writer, checkpointPath string) error {
	var numDeleted int
	for _, file := range []string{train.OptStateNodeFile, train.OptStateCtxFile} {
		filePath := filepath.Join(checkpointPath, file)
		err := os.Remove(filePath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "failed to delete optimizer state %q", filePath)
		}
		numDeleted++
	}
	_, _ = fmt.Fprintf(w, "%d optimizer states deleted from %q.\n", numDeleted, checkpointPath)
	return nil
}

// PerturbVars multiplies every model weight by a random factor in [1-x, 1+x] and saves the learner back.
func PerturbVars(w io.Writer, checkpointPath string, x float64, seed uint64) error {
	learner, err := node.LoadLearner(checkpointPath)
	if err != nil {
		return err
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	model := learner.Model()
	perturbed := params.Map(model.Trainable(), func(v *params.Variable) []float64 {
		values := make([]float64, len(v.Value))
		for ii, value := range v.Value {
			values[ii] = value * (1 + (2*rng.Float64()-1)*x)
		}
		return values
	})
	learner.SetModel(model.WithTrainable(perturbed))
	if err = learner.Save(checkpointPath); err != nil {
		return errors.WithMessagef(err, "saving perturbed learner")
	}
	_, _ = fmt.Fprintf(w, "%d variables perturbed, learner saved to %q.\n", perturbed.NumVariables(), checkpointPath)
	return nil
}
