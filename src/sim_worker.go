package main

import (
	"context"
	"errors"
	"log"

	"github.com/ryansname/mlsim/src/mlsim"
)

// ControlCommand is a raw control vector to apply for one step
type ControlCommand struct {
	Control []float64
	Source  string // "mqtt", "console" or "schedule"
}

// StepResult is the outcome of one simulated step
type StepResult struct {
	Step    int
	Clock   float64
	Control []float64   // As requested, before clipping
	Applied []float64   // As used by the model input, after clipping
	State   []float64   // Raw state at the end of the step
	Window  [][]float64 // Scaled state window after the step, oldest first
}

// stepper is the part of mlsim.Simulator the worker needs
type stepper interface {
	Step(control []float64) (float64, []float64, error)
	Steps() int
	Phase() mlsim.Phase
	StateWindow() [][]float64
	AppliedControl() []float64
}

// simWorker owns the simulator and applies controls one at a time.
// A rejected control is logged and skipped; any failure that discards the
// simulator cancels ctx so the application shuts down.
func simWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	sim stepper,
	controlChan <-chan ControlCommand,
	resultChan chan<- StepResult,
) {
	log.Printf("%s simulator worker started\n", name)

	for {
		select {
		case cmd := <-controlChan:
			clock, state, err := sim.Step(cmd.Control)
			if err != nil {
				if errors.Is(err, mlsim.ErrShape) && sim.Phase() != mlsim.PhaseFailed {
					log.Printf("%s: rejected %s control %v: %v\n", name, cmd.Source, cmd.Control, err)
					continue
				}
				log.Printf("%s: simulator failed at step %d, shutting down: %v\n", name, sim.Steps()+1, err)
				cancel()
				return
			}

			result := StepResult{
				Step:    sim.Steps(),
				Clock:   clock,
				Control: cmd.Control,
				Applied: sim.AppliedControl(),
				State:   state,
				Window:  sim.StateWindow(),
			}
			select {
			case resultChan <- result:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			log.Printf("%s simulator worker stopped\n", name)
			return
		}
	}
}
