package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Schedule is a fixed sequence of raw controls to replay
type Schedule struct {
	Repeat   int         `yaml:"repeat"` // Number of passes, 0 means 1
	Controls [][]float64 `yaml:"controls"`
}

// LoadSchedule reads and validates a YAML schedule for controls of width ulen
func LoadSchedule(path string, ulen int) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSchedule(data, ulen)
}

// ParseSchedule decodes and validates a YAML schedule
func ParseSchedule(data []byte, ulen int) (*Schedule, error) {
	var s Schedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	if s.Repeat < 0 {
		return nil, fmt.Errorf("schedule repeat must not be negative, got %d", s.Repeat)
	}
	if s.Repeat == 0 {
		s.Repeat = 1
	}
	if len(s.Controls) == 0 {
		return nil, fmt.Errorf("schedule has no controls")
	}
	for i, c := range s.Controls {
		if len(c) != ulen {
			return nil, fmt.Errorf("schedule control %d has %d values, want %d", i, len(c), ulen)
		}
	}
	return &s, nil
}

// Len returns the total number of steps the schedule drives
func (s *Schedule) Len() int {
	return s.Repeat * len(s.Controls)
}

// scheduleWorker feeds every scheduled control to the simulator in order
func scheduleWorker(ctx context.Context, schedule *Schedule, controlChan chan<- ControlCommand) {
	log.Printf("Schedule worker started (%d steps)\n", schedule.Len())

	for pass := range schedule.Repeat {
		for _, control := range schedule.Controls {
			select {
			case controlChan <- ControlCommand{Control: control, Source: "schedule"}:
			case <-ctx.Done():
				log.Printf("Schedule worker stopped during pass %d\n", pass+1)
				return
			}
		}
	}
	log.Println("Schedule worker finished")
}
