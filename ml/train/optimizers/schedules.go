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
	"math"
)

// This file implements learning rate schedules.

// Schedule returns a multiplicative factor for the learning rate, given the 1-based step number
// of the update being computed.
type Schedule func(step int) float64

var (
	// ParamCosineScheduleSteps will enable cosine annealing (aka. "cosine schedule")
	// of the learning rate, if set to a value > 0. It defines the number of steps of the
	// period of the cosine annealing schedule.
	// It is very commonly to use the same value as the number of steps being trained.
	ParamCosineScheduleSteps = "cosine_schedule_steps"

	// ParamCosineScheduleMinFactor is the minimum value of the learning rate factor, during
	// cosine annealing schedule. Defaults to 10^-3.
	ParamCosineScheduleMinFactor = "cosine_schedule_min_factor"
)

// CosineSchedule returns a cosine annealing schedule, that decays the learning rate factor from 1 to
// minFactor over periodSteps steps, and then starts a new period.
// See details in https://paperswithcode.com/method/cosine-annealing.
func CosineSchedule(periodSteps int, minFactor float64) Schedule {
	return func(step int) float64 {
		if periodSteps <= 0 {
			return 1.0
		}
		cycle := float64((step-1)%periodSteps) / float64(periodSteps)
		return minFactor + (1.0-minFactor)*0.5*(1.0+math.Cos(math.Pi*cycle))
	}
}

// ScheduleFromParams returns the schedule configured in the hyperparameters, or nil (constant learning rate)
// if none is configured.
func ScheduleFromParams(p Params) Schedule {
	periodSteps := GetParamOr(p, ParamCosineScheduleSteps, 0)
	if periodSteps <= 0 {
		return nil
	}
	return CosineSchedule(periodSteps, GetParamOr(p, ParamCosineScheduleMinFactor, 1e-3))
}

func scheduleFactor(schedule Schedule, step int) float64 {
	if schedule == nil {
		return 1.0
	}
	return schedule(step)
}
