package polymorphicjson_test

import (
	"encoding/json"
	"fmt"
	"testing"

	. "github.com/nodebias/nodebias/models/polymorphicjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SolverIface is the interface definition used as the generic constraint (the contract).
type SolverIface interface {
	JSONIdentifiable
	Describe() string
}

// SchedulerIface is a second interface, with a concrete type sharing the same type name.
type SchedulerIface interface {
	JSONIdentifiable
	Plan() string
}

type fixedSolver struct {
	SubSteps int `json:"sub_steps"`
}

func (s *fixedSolver) Describe() string { return fmt.Sprintf("fixed with %d sub-steps", s.SubSteps) }

func (s *fixedSolver) JSONTags() (typeName string, interfaceName string) {
	return "fixed", "SolverIface"
}

type adaptiveSolver struct {
	RTol float64 `json:"rtol"`
}

func (s *adaptiveSolver) Describe() string { return fmt.Sprintf("adaptive with rtol=%g", s.RTol) }

func (s *adaptiveSolver) JSONTags() (typeName string, interfaceName string) {
	return "adaptive", "SolverIface"
}

type fixedScheduler struct {
	WarmupSteps int `json:"warmup_steps"`
}

func (s *fixedScheduler) Plan() string { return fmt.Sprintf("warmup of %d steps", s.WarmupSteps) }

func (s *fixedScheduler) JSONTags() (typeName string, interfaceName string) {
	return "fixed", "SchedulerIface"
}

func init() {
	Register(func() SolverIface { return &fixedSolver{} })
	Register(func() SolverIface { return &adaptiveSolver{} })
	Register(func() SchedulerIface { return &fixedScheduler{} })
}

type testConfig struct {
	Solver    Wrapper[SolverIface]    `json:"solver"`
	Scheduler Wrapper[SchedulerIface] `json:"scheduler"`
}

func TestSameJSONTypeResolution(t *testing.T) {
	original := testConfig{
		Solver:    Wrap[SolverIface](&fixedSolver{SubSteps: 4}),
		Scheduler: Wrap[SchedulerIface](&fixedScheduler{WarmupSteps: 500}),
	}
	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"solver": {"interface_name": "SolverIface", "json_type": "fixed", "sub_steps": 4},
		"scheduler": {"interface_name": "SchedulerIface", "json_type": "fixed", "warmup_steps": 500}
	}`, string(jsonData))

	var loaded testConfig
	require.NoError(t, json.Unmarshal(jsonData, &loaded))
	assert.Equal(t, "fixed with 4 sub-steps", loaded.Solver.Get().Describe())
	assert.Equal(t, "warmup of 500 steps", loaded.Scheduler.Get().Plan())
	assert.IsType(t, &fixedSolver{}, loaded.Solver.Value)
}

func TestOtherConcreteType(t *testing.T) {
	jsonData, err := json.Marshal(testConfig{Solver: Wrap[SolverIface](&adaptiveSolver{RTol: 1e-3})})
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"scheduler":null`)

	var loaded testConfig
	require.NoError(t, json.Unmarshal(jsonData, &loaded))
	assert.Equal(t, "adaptive with rtol=0.001", loaded.Solver.Value.Describe())
	assert.Nil(t, loaded.Scheduler.Value)
}

func TestUnmarshalErrors(t *testing.T) {
	var loaded testConfig
	err := json.Unmarshal([]byte(`{"solver": {"interface_name": "SolverIface", "json_type": "implicit"}}`), &loaded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "implicit")

	err = json.Unmarshal([]byte(`{"solver": {"interface_name": "Unknown", "json_type": "fixed"}}`), &loaded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")

	// Registered for a different interface.
	err = json.Unmarshal([]byte(`{"solver": {"interface_name": "SchedulerIface", "json_type": "fixed"}}`), &loaded)
	require.Error(t, err)
}
