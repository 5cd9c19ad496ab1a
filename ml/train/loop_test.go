package train

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopCallbacks(t *testing.T) {
	trainer := newTestTrainer(t, newFakeLearner())
	loop := trainer.Loop()

	var everyN, nTimes, exponential []int
	var epochs []int
	var periodic, starts, ends int
	EveryNSteps(loop, 5, "every", 0, func(loop *Loop, info StepInfo) error {
		everyN = append(everyN, loop.LoopStep)
		return nil
	})
	NTimesDuringLoop(loop, 3, "ntimes", 0, func(loop *Loop, info StepInfo) error {
		nTimes = append(nTimes, loop.LoopStep)
		return nil
	})
	ExponentialCallback(loop, 2, 2.0, "exponential", 0, func(loop *Loop, info StepInfo) error {
		exponential = append(exponential, loop.LoopStep)
		return nil
	})
	EveryNEpochs(loop, 2, "epochs", 0, func(loop *Loop, info EpochInfo) error {
		epochs = append(epochs, info.Epoch)
		return nil
	})
	PeriodicCallback(loop, 0, true, "periodic", 0, func(loop *Loop, info StepInfo) error {
		periodic++
		return nil
	})
	loop.OnStart("start", -1, func(loop *Loop) error {
		starts++
		assert.Equal(t, 12, loop.TotalSteps)
		assert.Equal(t, 4, loop.StepsPerEpoch)
		return nil
	})
	loop.OnEnd("end", 0, func(loop *Loop, history *History) error {
		ends++
		assert.Equal(t, 1, history.NumRuns())
		return nil
	})

	require.NoError(t, trainer.Train(trainConfig(3, 1)))
	assert.Equal(t, []int{4, 9}, everyN)
	assert.Equal(t, []int{0, 3, 7, 11}, nTimes)
	assert.Equal(t, []int{1, 5}, exponential)
	assert.Equal(t, []int{0, 2}, epochs)
	assert.Equal(t, 12, periodic) // 11 steps after the clock started, plus the end.
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, ends)

	// One duration per node step and per context step.
	assert.Len(t, loop.TrainStepDurations, 24)
	assert.Greater(t, loop.MedianTrainStepDuration(), time.Duration(0))

	metrics := loop.TrainMetrics()
	require.Len(t, metrics, 4)
	assert.Equal(t, "~node", metrics[0].ShortName())
	assert.Equal(t, "~ctx", metrics[1].ShortName())
	maxWeight := metrics[2].Value()
	assert.True(t, maxWeight >= 1.0/testNumEnvs && maxWeight <= 1.0, "max weight %g", maxWeight)
	assert.Equal(t, 6.0, metrics[3].Value(), "all batches take 6 solver steps")
}

func TestStepKind(t *testing.T) {
	assert.Equal(t, "node", NodeStep.String())
	assert.Equal(t, "ctx", ContextStep.String())
	assert.Equal(t, "unknown", StepKind(7).String())
}

func TestConfigShouldLog(t *testing.T) {
	cfg := Config{NumEpochs: 250, UpdateContextEvery: 1, PrintErrorEvery: 100}
	var logged []int
	for epoch := range cfg.NumEpochs {
		if cfg.shouldLog(epoch) {
			logged = append(logged, epoch)
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 100, 200, 249}, logged)
	require.NoError(t, cfg.Validate(1))
}
