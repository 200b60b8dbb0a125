package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ryansname/mlsim/src/mlsim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAveragingSim(t *testing.T) *mlsim.Simulator {
	t.Helper()
	c, err := LoadSimConfig(lookup(averagingEnv()))
	require.NoError(t, err)
	sim, err := c.NewSimulator()
	require.NoError(t, err)
	return sim
}

func receiveResult(t *testing.T, ch <-chan StepResult) StepResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("no step result")
	}
	return StepResult{}
}

func TestSimWorker_StepsControls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controlChan := make(chan ControlCommand, 2)
	resultChan := make(chan StepResult, 2)
	go simWorker(ctx, cancel, "test", newAveragingSim(t), controlChan, resultChan)

	controlChan <- ControlCommand{Control: []float64{4}, Source: "test"}
	r := receiveResult(t, resultChan)
	assert.Equal(t, 1, r.Step)
	assert.InDelta(t, 1.0, r.Clock, 1e-12)
	assert.Equal(t, []float64{4}, r.Control)
	assert.Equal(t, []float64{4}, r.Applied)
	assert.InDelta(t, 3.0, r.State[0], 1e-9)
	require.Len(t, r.Window, 1)
	assert.InDelta(t, 0.3, r.Window[0][0], 1e-9)

	controlChan <- ControlCommand{Control: []float64{4}, Source: "test"}
	r = receiveResult(t, resultChan)
	assert.Equal(t, 2, r.Step)
	assert.InDelta(t, 3.5, r.State[0], 1e-9)
}

func TestSimWorker_ReportsClippedControl(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := averagingEnv()
	env["SIM_UT_MIN"] = "0"
	env["SIM_UT_MAX"] = "6"
	c, err := LoadSimConfig(lookup(env))
	require.NoError(t, err)
	sim, err := c.NewSimulator()
	require.NoError(t, err)

	controlChan := make(chan ControlCommand, 1)
	resultChan := make(chan StepResult, 1)
	go simWorker(ctx, cancel, "test", sim, controlChan, resultChan)

	controlChan <- ControlCommand{Control: []float64{9}, Source: "test"}
	r := receiveResult(t, resultChan)
	assert.Equal(t, []float64{9}, r.Control)
	assert.Equal(t, []float64{6}, r.Applied)
	assert.InDelta(t, 4.0, r.State[0], 1e-9) // (2 + 6) / 2
}

func TestSimWorker_RejectsWrongWidth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controlChan := make(chan ControlCommand, 2)
	resultChan := make(chan StepResult, 2)
	go simWorker(ctx, cancel, "test", newAveragingSim(t), controlChan, resultChan)

	controlChan <- ControlCommand{Control: []float64{1, 2}, Source: "test"}
	controlChan <- ControlCommand{Control: []float64{4}, Source: "test"}

	r := receiveResult(t, resultChan)
	assert.Equal(t, 1, r.Step)
	assert.InDelta(t, 3.0, r.State[0], 1e-9)
	assert.NoError(t, ctx.Err())
}

// brokenStepper fails every step and reports itself discarded
type brokenStepper struct{}

func (brokenStepper) Step([]float64) (float64, []float64, error) {
	return 0, nil, errors.New("model exploded")
}
func (brokenStepper) Steps() int { return 0 }
func (brokenStepper) Phase() mlsim.Phase { return mlsim.PhaseFailed }
func (brokenStepper) StateWindow() [][]float64 { return nil }
func (brokenStepper) AppliedControl() []float64 { return nil }

func TestSimWorker_FailureCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controlChan := make(chan ControlCommand, 1)
	resultChan := make(chan StepResult, 1)
	done := make(chan struct{})
	go func() {
		simWorker(ctx, cancel, "test", brokenStepper{}, controlChan, resultChan)
		close(done)
	}()

	controlChan <- ControlCommand{Control: []float64{1}, Source: "test"}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sim worker did not exit")
	}
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Empty(t, resultChan)
}
