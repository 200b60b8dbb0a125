package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrajectory(n int) *Trajectory {
	traj := &Trajectory{}
	for i := 1; i <= n; i++ {
		traj.Add(StepResult{
			Step:    i,
			Clock:   float64(i) * 0.5,
			Control: []float64{float64(n - i)},
			State:   []float64{float64(i), float64(2 * i)},
		})
	}
	return traj
}

func TestWeightedPercentiles_Empty(t *testing.T) {
	assert.Equal(t, []float64{0, 0}, weightedPercentiles(nil, 0, 0.5, 0.99))
}

func TestWeightedPercentiles_LongValueDominates(t *testing.T) {
	pairs := []weightedValue{
		{value: 10, duration: 1},
		{value: 20, duration: 8},
		{value: 30, duration: 1},
	}
	p := weightedPercentiles(pairs, 10, 0.05, 0.50, 0.95)
	assert.Equal(t, []float64{10, 20, 30}, p)
}

func TestSummarizeColumn(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[len(values)-1-i] = float64(i + 1) // Unsorted input
	}

	s := summarizeColumn("x0", values, 0.5)
	assert.Equal(t, "x0", s.Name)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 1.0, s.P1)
	assert.Equal(t, 50.0, s.P50)
	assert.Equal(t, 99.0, s.P99)
	assert.Equal(t, 100.0, s.Max)
}

func TestSummarizeColumn_Empty(t *testing.T) {
	assert.Equal(t, ColumnStats{Name: "u0"}, summarizeColumn("u0", nil, 1))
}

func TestTrajectory_Summarize(t *testing.T) {
	traj := sampleTrajectory(4)
	stats := traj.Summarize(0.5, 2, 1)

	require.Len(t, stats, 3)
	assert.Equal(t, "x0", stats[0].Name)
	assert.Equal(t, 4.0, stats[0].Max)
	assert.Equal(t, "x1", stats[1].Name)
	assert.Equal(t, 8.0, stats[1].Max)
	assert.Equal(t, "u0", stats[2].Name)
	assert.Equal(t, 0.0, stats[2].Min)
	assert.Equal(t, 3.0, stats[2].Max)
}

func TestTrajectory_WriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleTrajectory(2).WriteCSV(&buf, 2, 1))

	assert.Equal(t, "clock,x0,x1,u0,u0_requested\n0.5,1,2,1,1\n1,2,4,0,0\n", buf.String())
}

func TestTrajectory_RecordsAppliedControl(t *testing.T) {
	traj := &Trajectory{}
	traj.Add(StepResult{Step: 1, Clock: 1, Control: []float64{9}, Applied: []float64{6}, State: []float64{4}})

	assert.Equal(t, []float64{6}, traj.ControlColumn(0))
	assert.Equal(t, [][]float64{{9}}, traj.Requested)

	var buf bytes.Buffer
	require.NoError(t, traj.WriteCSV(&buf, 1, 1))
	assert.Equal(t, "clock,x0,u0,u0_requested\n1,4,6,9\n", buf.String())
}

func TestWriteTrajectoryOutputs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	config := TrajectoryConfig{Name: "Test", XLen: 2, ULen: 1, Interval: 0.5, OutputDir: dir}

	require.NoError(t, writeTrajectoryOutputs(config, sampleTrajectory(10)))

	for _, name := range []string{"trajectory.csv", "state_x0.png", "state_x1.png", "control_u0.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}
}

func TestSaveLinePlot_InvalidData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	assert.Error(t, saveLinePlot(path, "bad", "y", []float64{1, 2}, []float64{1}))
	assert.Error(t, saveLinePlot(path, "bad", "y", nil, nil))
}

func TestTrajectoryWorker_CancelsWhenExpectedReached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	config := TrajectoryConfig{Name: "Test", XLen: 2, ULen: 1, Interval: 1, OutputDir: dir, Expected: 2}
	resultChan := make(chan StepResult, 2)
	done := make(chan struct{})
	go func() {
		trajectoryWorker(ctx, cancel, config, resultChan)
		close(done)
	}()

	traj := sampleTrajectory(2)
	for i := range traj.Len() {
		resultChan <- StepResult{Step: i + 1, Clock: traj.Clock[i], Control: traj.Controls[i], State: traj.States[i]}
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("trajectory worker did not finish")
	}
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	data, err := os.ReadFile(filepath.Join(dir, "trajectory.csv"))
	require.NoError(t, err)
	assert.Equal(t, "clock,x0,x1,u0,u0_requested\n0.5,1,2,1,1\n1,2,4,0,0\n", string(data))
}
