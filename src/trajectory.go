package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Trajectory is the recorded history of a simulation run
type Trajectory struct {
	Clock     []float64
	States    [][]float64
	Controls  [][]float64 // Applied, after clipping
	Requested [][]float64 // As sent, before clipping
}

// Add appends a step result
func (t *Trajectory) Add(r StepResult) {
	applied := r.Applied
	if applied == nil {
		applied = r.Control
	}
	t.Clock = append(t.Clock, r.Clock)
	t.States = append(t.States, r.State)
	t.Controls = append(t.Controls, applied)
	t.Requested = append(t.Requested, r.Control)
}

// Len returns the number of recorded steps
func (t *Trajectory) Len() int {
	return len(t.Clock)
}

// StateColumn returns state column i over time
func (t *Trajectory) StateColumn(i int) []float64 {
	return column(t.States, i)
}

// ControlColumn returns control column i over time
func (t *Trajectory) ControlColumn(i int) []float64 {
	return column(t.Controls, i)
}

func column(rows [][]float64, i int) []float64 {
	out := make([]float64, len(rows))
	for k, r := range rows {
		out[k] = r[i]
	}
	return out
}

// ColumnStats summarises one recorded column
type ColumnStats struct {
	Name string
	Min  float64
	P1   float64 // 1st percentile (filters out low outliers)
	P50  float64 // median
	P99  float64 // 99th percentile (filters out high outliers)
	Max  float64
}

// weightedValue represents a value with its duration weight for percentile calculation
type weightedValue struct {
	value    float64
	duration float64
}

// weightedPercentiles returns one value per quantile in a single pass, where
// each value is weighted by how long it persisted.
// The pairs slice must be sorted by value and quantiles in ascending order.
func weightedPercentiles(pairs []weightedValue, totalDuration float64, quantiles ...float64) []float64 {
	out := make([]float64, len(quantiles))
	if len(pairs) == 0 {
		return out
	}

	// Walk through sorted pairs once, capturing values as we cross thresholds
	var cumulative float64
	next := 0
	for _, pair := range pairs {
		cumulative += pair.duration
		for next < len(quantiles) && cumulative >= totalDuration*quantiles[next] {
			out[next] = pair.value
			next++
		}
		if next == len(quantiles) {
			break
		}
	}

	// Fallback to last value for any not found (rounding at the top end)
	for ; next < len(quantiles); next++ {
		out[next] = pairs[len(pairs)-1].value
	}
	return out
}

// summarizeColumn computes duration-weighted statistics; every step lasts interval
func summarizeColumn(name string, values []float64, interval float64) ColumnStats {
	stats := ColumnStats{Name: name}
	if len(values) == 0 {
		return stats
	}

	pairs := make([]weightedValue, 0, len(values))
	for _, v := range values {
		pairs = append(pairs, weightedValue{value: v, duration: interval})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value < pairs[j].value
	})

	p := weightedPercentiles(pairs, interval*float64(len(pairs)), 0.01, 0.50, 0.99)
	stats.Min = pairs[0].value
	stats.P1, stats.P50, stats.P99 = p[0], p[1], p[2]
	stats.Max = pairs[len(pairs)-1].value
	return stats
}

// Summarize returns statistics for every state column followed by every control column
func (t *Trajectory) Summarize(interval float64, xlen, ulen int) []ColumnStats {
	out := make([]ColumnStats, 0, xlen+ulen)
	for i := range xlen {
		out = append(out, summarizeColumn(stateKey(i), t.StateColumn(i), interval))
	}
	for i := range ulen {
		out = append(out, summarizeColumn(controlKey(i), t.ControlColumn(i), interval))
	}
	return out
}

// controlKey is the column name for control column i
func controlKey(i int) string {
	return fmt.Sprintf("u%d", i)
}

// WriteCSV writes one row per step: clock, states, applied controls, requested controls
func (t *Trajectory) WriteCSV(w io.Writer, xlen, ulen int) error {
	cw := csv.NewWriter(w)

	header := []string{"clock"}
	for i := range xlen {
		header = append(header, stateKey(i))
	}
	for i := range ulen {
		header = append(header, controlKey(i))
	}
	for i := range ulen {
		header = append(header, controlKey(i)+"_requested")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for k := range t.Clock {
		record := make([]string, 0, 1+xlen+2*ulen)
		record = append(record, strconv.FormatFloat(t.Clock[k], 'g', -1, 64))
		for _, v := range t.States[k] {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		for _, v := range t.Controls[k] {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		for _, v := range t.Requested[k] {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func stylePlot(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(18)
	p.Title.Padding = vg.Points(10)
	p.X.Label.TextStyle.Font.Size = vg.Points(14)
	p.Y.Label.TextStyle.Font.Size = vg.Points(14)
	p.X.Padding = vg.Points(12)
	p.Y.Padding = vg.Points(12)
	p.Add(plotter.NewGrid())
}

func savePlotPNG(p *plot.Plot, widthIn, heightIn float64, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(150),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return bw.Flush()
}

func saveLinePlot(filename, title, ylabel string, xs, ys []float64) error {
	if len(xs) != len(ys) || len(xs) == 0 {
		return fmt.Errorf("plot data invalid")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "clock"
	p.Y.Label.Text = ylabel
	stylePlot(p)

	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i].X = xs[i]
		pts[i].Y = ys[i]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.LineStyle.Width = vg.Points(2)
	p.Add(line)

	return savePlotPNG(p, 8.0, 5.0, filename)
}

// saveTrajectoryPlots writes one PNG per state and control column into dir
func saveTrajectoryPlots(dir, name string, traj *Trajectory, xlen, ulen int) error {
	for i := range xlen {
		key := stateKey(i)
		err := saveLinePlot(filepath.Join(dir, "state_"+key+".png"), name+" state "+key, key, traj.Clock, traj.StateColumn(i))
		if err != nil {
			return err
		}
	}
	for i := range ulen {
		key := controlKey(i)
		err := saveLinePlot(filepath.Join(dir, "control_"+key+".png"), name+" control "+key, key, traj.Clock, traj.ControlColumn(i))
		if err != nil {
			return err
		}
	}
	return nil
}

// writeTrajectoryOutputs saves the CSV and plots for a finished run
func writeTrajectoryOutputs(config TrajectoryConfig, traj *Trajectory) error {
	if err := os.MkdirAll(config.OutputDir, 0o755); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(config.OutputDir, "trajectory.csv"))
	if err != nil {
		return err
	}
	if err := traj.WriteCSV(f, config.XLen, config.ULen); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return saveTrajectoryPlots(config.OutputDir, config.Name, traj, config.XLen, config.ULen)
}

// trajectoryWorker records every step. When Expected steps have been seen it
// cancels ctx; on shutdown it logs a summary and writes outputs.
func trajectoryWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	config TrajectoryConfig,
	resultChan <-chan StepResult,
) {
	log.Printf("%s trajectory recorder started\n", config.Name)

	traj := &Trajectory{}

	for {
		select {
		case result := <-resultChan:
			traj.Add(result)
			if config.Expected > 0 && traj.Len() >= config.Expected {
				log.Printf("%s: all %d scheduled steps recorded\n", config.Name, config.Expected)
				cancel()
				finishTrajectory(config, traj)
				return
			}

		case <-ctx.Done():
			finishTrajectory(config, traj)
			return
		}
	}
}

func finishTrajectory(config TrajectoryConfig, traj *Trajectory) {
	if traj.Len() == 0 {
		log.Printf("%s trajectory recorder stopped (no steps)\n", config.Name)
		return
	}

	for _, s := range traj.Summarize(config.Interval, config.XLen, config.ULen) {
		log.Printf("%s %s: min=%s p1=%s p50=%s p99=%s max=%s\n", config.Name, s.Name,
			formatDebugValue(s.Min), formatDebugValue(s.P1), formatDebugValue(s.P50),
			formatDebugValue(s.P99), formatDebugValue(s.Max))
	}

	if config.OutputDir != "" {
		if err := writeTrajectoryOutputs(config, traj); err != nil {
			log.Printf("%s: failed to write trajectory outputs: %v\n", config.Name, err)
		} else {
			log.Printf("%s: wrote %d steps to %s\n", config.Name, traj.Len(), config.OutputDir)
		}
	}
	log.Printf("%s trajectory recorder stopped\n", config.Name)
}
