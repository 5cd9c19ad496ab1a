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

package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// Column names of the CSV format: one row per (environment, trajectory, time) followed by one column
// per state dimension, named "x0", "x1", ...
const (
	EnvCol       = "env"
	TrajCol      = "traj"
	TimeCol      = "t"
	StateColBase = "x"
)

// ToDataFrame converts trajectories indexed as [env][traj][time][dim] to a DataFrame with one row
// per (env, traj, time).
func ToDataFrame(trajectories [][][][]float64, times []float64) dataframe.DataFrame {
	var envs, trajs []int
	var ts []float64
	var states [][]float64
	for env, envTrajs := range trajectories {
		for traj, trajStates := range envTrajs {
			for tIdx, state := range trajStates {
				envs = append(envs, env)
				trajs = append(trajs, traj)
				ts = append(ts, times[tIdx])
				for dim, v := range state {
					if dim >= len(states) {
						states = append(states, nil)
					}
					states[dim] = append(states[dim], v)
				}
			}
		}
	}
	cols := []series.Series{
		series.New(envs, series.Int, EnvCol),
		series.New(trajs, series.Int, TrajCol),
		series.New(ts, series.Float, TimeCol),
	}
	for dim, values := range states {
		cols = append(cols, series.New(values, series.Float, fmt.Sprintf("%s%d", StateColBase, dim)))
	}
	return dataframe.New(cols...)
}

// FromDataFrame converts a DataFrame in the format created by ToDataFrame back to trajectories
// indexed as [env][traj][time][dim] and their times.
//
// Environments and trajectories indices must be contiguous starting from 0, and every trajectory
// must be sampled at the same times. Rows can be in any order.
func FromDataFrame(df dataframe.DataFrame) (trajectories [][][][]float64, times []float64, err error) {
	if df.Err != nil {
		return nil, nil, errors.Wrap(df.Err, "invalid trajectories data frame")
	}
	names := df.Names()
	for _, required := range []string{EnvCol, TrajCol, TimeCol} {
		if !slices.Contains(names, required) {
			return nil, nil, errors.Errorf("trajectories data frame is missing column %q, it has columns %q", required, names)
		}
	}
	var stateCols []string
	for dim := 0; ; dim++ {
		name := fmt.Sprintf("%s%d", StateColBase, dim)
		if !slices.Contains(names, name) {
			break
		}
		stateCols = append(stateCols, name)
	}
	if len(stateCols) == 0 {
		return nil, nil, errors.Errorf("trajectories data frame has no state columns (%q, %q, ...)",
			StateColBase+"0", StateColBase+"1")
	}

	envs, err := df.Col(EnvCol).Int()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "column %q", EnvCol)
	}
	trajs, err := df.Col(TrajCol).Int()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "column %q", TrajCol)
	}
	ts := df.Col(TimeCol).Float()
	values := make([][]float64, len(stateCols))
	for dim, name := range stateCols {
		values[dim] = df.Col(name).Float()
	}

	// Distinct sorted times.
	times = slices.Clone(ts)
	slices.Sort(times)
	times = slices.Compact(times)
	numEnvs := slices.Max(envs) + 1
	numTrajs := slices.Max(trajs) + 1
	if slices.Min(envs) < 0 || slices.Min(trajs) < 0 {
		return nil, nil, errors.New("trajectories data frame has negative environment or trajectory indices")
	}
	if expected := numEnvs * numTrajs * len(times); expected != df.Nrow() {
		return nil, nil, errors.Errorf("trajectories data frame has %d rows, but %d environments x %d trajectories x %d times = %d were expected",
			df.Nrow(), numEnvs, numTrajs, len(times), expected)
	}

	trajectories = make([][][][]float64, numEnvs)
	for env := range trajectories {
		trajectories[env] = make([][][]float64, numTrajs)
		for traj := range trajectories[env] {
			trajectories[env][traj] = make([][]float64, len(times))
		}
	}
	for row := range df.Nrow() {
		tIdx, found := slices.BinarySearch(times, ts[row])
		if !found {
			return nil, nil, errors.Errorf("row %d: time %g not found", row, ts[row])
		}
		state := make([]float64, len(stateCols))
		for dim := range stateCols {
			state[dim] = values[dim][row]
		}
		slot := &trajectories[envs[row]][trajs[row]][tIdx]
		if *slot != nil {
			return nil, nil, errors.Errorf("row %d: duplicate entry for env=%d, traj=%d, t=%g", row, envs[row], trajs[row], ts[row])
		}
		*slot = state
	}
	return trajectories, times, nil
}

// WriteCSV writes the trajectories in CSV format, with a header.
//
// Values are written with encoding/csv in the shortest representation that reads back exactly, since
// DataFrame.WriteCSV formats floats with a fixed 6 decimal digits.
func WriteCSV(w io.Writer, trajectories [][][][]float64, times []float64) error {
	var dim int
	if len(trajectories) > 0 && len(trajectories[0]) > 0 && len(trajectories[0][0]) > 0 {
		dim = len(trajectories[0][0][0])
	}
	header := []string{EnvCol, TrajCol, TimeCol}
	for ii := range dim {
		header = append(header, fmt.Sprintf("%s%d", StateColBase, ii))
	}
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(header); err != nil {
		return errors.Wrap(err, "failed to write trajectories CSV header")
	}
	record := make([]string, 0, len(header))
	for env, envTrajs := range trajectories {
		for traj, trajStates := range envTrajs {
			for tIdx, state := range trajStates {
				record = record[:0]
				record = append(record, strconv.Itoa(env), strconv.Itoa(traj), strconv.FormatFloat(times[tIdx], 'g', -1, 64))
				for _, v := range state {
					record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
				}
				if err := csvWriter.Write(record); err != nil {
					return errors.Wrap(err, "failed to write trajectories CSV")
				}
			}
		}
	}
	csvWriter.Flush()
	return errors.Wrap(csvWriter.Error(), "failed to write trajectories CSV")
}

// ReadCSV reads trajectories from a CSV written by WriteCSV.
func ReadCSV(r io.Reader) (trajectories [][][][]float64, times []float64, err error) {
	df := dataframe.ReadCSV(r, dataframe.HasHeader(true),
		dataframe.WithTypes(map[string]series.Type{
			EnvCol:  series.Int,
			TrajCol: series.Int,
			TimeCol: series.Float,
		}),
		dataframe.DefaultType(series.Float))
	return FromDataFrame(df)
}

// SaveCSV saves the dataset trajectories to a CSV file.
func SaveCSV(filePath string, ds *InMemory) error {
	filePath = ReplaceTildeInDir(filePath)
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", filePath)
	}
	if err = WriteCSV(f, ds.Trajectories(), ds.Times()); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "saving %q", filePath)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", filePath)
}

// LoadCSV loads a CSV file written by SaveCSV (or WriteCSV) as an InMemory dataset. The name of the
// dataset is the file name without the ".csv" suffix.
func LoadCSV(filePath string, batchSize int) (*InMemory, error) {
	filePath = ReplaceTildeInDir(filePath)
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()
	trajectories, times, err := ReadCSV(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %q", filePath)
	}
	name := strings.TrimSuffix(filepath.Base(filePath), ".csv")
	return NewInMemory(name, trajectories, times, batchSize)
}
