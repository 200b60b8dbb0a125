package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ryansname/mlsim/src/mlsim"
	"github.com/ryansname/mlsim/src/mlsim/linear"
)

// SimConfig holds the shared configuration for one simulated system
type SimConfig struct {
	Name         string
	XLag, ULag   int
	XLen, ULen   int
	Interval     float64
	InitialClock float64
	InitialState [][]float64
	PriorActions [][]float64
	UtMin, UtMax []float64

	// Fitted offline; supplied as configuration values
	ScalerMin      []float64
	ScalerMax      []float64
	ModelCoef      [][]float64
	ModelIntercept []float64

	SchedulePath string // YAML control schedule, empty for interactive/MQTT only
	OutputDir    string // Trajectory CSV and plots, empty to skip
	Debug        bool   // Interactive console
}

// MQTTConfig holds broker connection settings; an empty Broker disables MQTT
type MQTTConfig struct {
	Broker   string
	Username string
	Password string
	ClientID string
}

// PublisherConfig holds configuration for the state publisher worker
type PublisherConfig struct {
	Name       string
	DeviceID   string
	StateTopic string
	XLen       int
}

// TrajectoryConfig holds configuration for the trajectory recorder worker
type TrajectoryConfig struct {
	Name      string
	XLen      int
	ULen      int
	Interval  float64
	OutputDir string
	Expected  int // Stop after this many steps, 0 = until shutdown
}

// LoadSimConfig reads SIM_* variables through getenv
func LoadSimConfig(getenv func(string) string) (SimConfig, error) {
	c := SimConfig{
		Name:         getenv("SIM_NAME"),
		SchedulePath: getenv("SIM_SCHEDULE"),
		OutputDir:    getenv("SIM_OUTPUT_DIR"),
		Debug:        getenv("SIM_DEBUG") == "true" || getenv("SIM_DEBUG") == "1",
	}
	if c.Name == "" {
		c.Name = "ML Sim"
	}

	var err error
	ints := []struct {
		key string
		dst *int
	}{
		{"SIM_XLAG", &c.XLag},
		{"SIM_ULAG", &c.ULag},
		{"SIM_XLEN", &c.XLen},
		{"SIM_ULEN", &c.ULen},
	}
	for _, f := range ints {
		if *f.dst, err = strconv.Atoi(strings.TrimSpace(getenv(f.key))); err != nil {
			return c, fmt.Errorf("%s: %w", f.key, err)
		}
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"SIM_INTERVAL", &c.Interval},
		{"SIM_INITIAL_CLOCK", &c.InitialClock},
	}
	for _, f := range floats {
		v := strings.TrimSpace(getenv(f.key))
		if v == "" {
			continue
		}
		if *f.dst, err = strconv.ParseFloat(v, 64); err != nil {
			return c, fmt.Errorf("%s: %w", f.key, err)
		}
	}

	vectors := []struct {
		key string
		dst *[]float64
	}{
		{"SIM_UT_MIN", &c.UtMin},
		{"SIM_UT_MAX", &c.UtMax},
		{"SIM_SCALER_MIN", &c.ScalerMin},
		{"SIM_SCALER_MAX", &c.ScalerMax},
		{"SIM_MODEL_INTERCEPT", &c.ModelIntercept},
	}
	for _, f := range vectors {
		if *f.dst, err = parseVector(getenv(f.key)); err != nil {
			return c, fmt.Errorf("%s: %w", f.key, err)
		}
	}

	blocks := []struct {
		key string
		dst *[][]float64
	}{
		{"SIM_INITIAL_STATE", &c.InitialState},
		{"SIM_PRIOR_ACTIONS", &c.PriorActions},
		{"SIM_MODEL_COEF", &c.ModelCoef},
	}
	for _, f := range blocks {
		if *f.dst, err = parseBlock(getenv(f.key)); err != nil {
			return c, fmt.Errorf("%s: %w", f.key, err)
		}
	}

	return c, nil
}

// LoadMQTTConfig reads MQTT_* variables through getenv
func LoadMQTTConfig(getenv func(string) string, deviceID string) (MQTTConfig, error) {
	c := MQTTConfig{
		Broker:   getenv("MQTT_BROKER"),
		Username: getenv("MQTT_USERNAME"),
		Password: getenv("MQTT_PASSWORD"),
		ClientID: getenv("MQTT_CLIENT_ID"),
	}
	if c.Broker == "" {
		return c, nil
	}
	if c.Username == "" || c.Password == "" {
		return c, fmt.Errorf("MQTT_USERNAME and MQTT_PASSWORD must be set when MQTT_BROKER is")
	}
	if c.ClientID == "" {
		c.ClientID = "mlsim_" + deviceID
	}
	return c, nil
}

// parseVector parses "1,2.5,-3"; empty input yields nil
func parseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// parseBlock parses "1,2;3,4" into rows; empty input yields nil
func parseBlock(s string) ([][]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var rows [][]float64 //nolint:prealloc // row count unknown until split
	for _, part := range strings.Split(s, ";") {
		row, err := parseVector(part)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, fmt.Errorf("empty row in %q", s)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DeviceID returns the lowercase, underscore-separated name used in topics
func (c *SimConfig) DeviceID() string {
	return strings.ReplaceAll(strings.ToLower(c.Name), " ", "_")
}

// ControlTopic is where raw controls are received
func (c *SimConfig) ControlTopic() string {
	return "mlsim/" + c.DeviceID() + "/control/set"
}

// StateTopic is where each step's raw state is published
func (c *SimConfig) StateTopic() string {
	return "homeassistant/sensor/" + c.DeviceID() + "/state"
}

// NewSimulator builds the scaler, model and simulator described by the config
func (c *SimConfig) NewSimulator() (*mlsim.Simulator, error) {
	scaler, err := linear.NewMinMaxScaler(c.ScalerMin, c.ScalerMax)
	if err != nil {
		return nil, err
	}
	if len(c.ScalerMin) != c.XLen+c.ULen {
		return nil, fmt.Errorf("scaler spans %d columns, want xlen+ulen=%d", len(c.ScalerMin), c.XLen+c.ULen)
	}
	model, err := linear.NewRegression(c.ModelCoef, c.ModelIntercept)
	if err != nil {
		return nil, err
	}
	if model.Features() != c.XLag*c.XLen+c.ULag*c.ULen || model.Outputs() != c.XLen {
		return nil, fmt.Errorf("model maps %d features to %d outputs, want %d to %d",
			model.Features(), model.Outputs(), c.XLag*c.XLen+c.ULag*c.ULen, c.XLen)
	}

	return mlsim.New(mlsim.Config{
		Scaler:       scaler,
		Model:        model,
		InitialState: c.InitialState,
		XLag:         c.XLag,
		ULag:         c.ULag,
		XLen:         c.XLen,
		ULen:         c.ULen,
		Interval:     c.Interval,
		InitialClock: c.InitialClock,
		PriorActions: c.PriorActions,
		UtMin:        c.UtMin,
		UtMax:        c.UtMax,
	})
}

// PublisherConfig creates a PublisherConfig from the shared SimConfig
func (c *SimConfig) PublisherConfig() PublisherConfig {
	return PublisherConfig{
		Name:       c.Name,
		DeviceID:   c.DeviceID(),
		StateTopic: c.StateTopic(),
		XLen:       c.XLen,
	}
}

// TrajectoryConfig creates a TrajectoryConfig from the shared SimConfig
func (c *SimConfig) TrajectoryConfig(expected int) TrajectoryConfig {
	interval := c.Interval
	if interval == 0 {
		interval = 1
	}
	return TrajectoryConfig{
		Name:      c.Name,
		XLen:      c.XLen,
		ULen:      c.ULen,
		Interval:  interval,
		OutputDir: c.OutputDir,
		Expected:  expected,
	}
}
