/*
 *	Copyright 2025 Jan Pfeifer
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

package optimizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSchedule(t *testing.T) {
	schedule := CosineSchedule(4, 0.0)
	assert.InDelta(t, 1.0, schedule(1), 1e-9)
	assert.InDelta(t, 0.5, schedule(3), 1e-9)
	assert.InDelta(t, 1.0, schedule(5), 1e-9, "new period should restart at 1")
	for step := 1; step <= 8; step++ {
		f := schedule(step)
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
	}

	assert.Nil(t, ScheduleFromParams(nil))
	assert.Equal(t, 1.0, scheduleFactor(nil, 10))
	fromParams := ScheduleFromParams(Params{ParamCosineScheduleSteps: 10, ParamCosineScheduleMinFactor: 0.1})
	require.NotNil(t, fromParams)
	assert.InDelta(t, 1.0, fromParams(1), 1e-9)
	assert.Greater(t, fromParams(10), 0.1)
}

func TestScheduledSGD(t *testing.T) {
	opt := StochasticGradientDescent().LearningRate(1).Schedule(CosineSchedule(2, 0.0)).Done()
	p := quadraticParams()
	state, err := opt.Init(p)
	require.NoError(t, err)
	u1, state, err := opt.Update(quadraticGrads(p), state)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 2}, u1.MustGet("a").Value)
	u2, _, err := opt.Update(quadraticGrads(p), state)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-0.5, 1}, u2.MustGet("a").Value, 1e-9)
}
