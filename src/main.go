package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// Returned normally, either on cancellation or because the work is done
			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// outputFlushTimeout bounds how long shutdown waits for trajectory outputs
const outputFlushTimeout = 30 * time.Second

func main() {
	log.Println("Starting mlsim...")

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	simConfig, err := LoadSimConfig(os.Getenv)
	if err != nil {
		log.Fatalf("Invalid simulator configuration: %v", err)
	}
	mqttConfig, err := LoadMQTTConfig(os.Getenv, simConfig.DeviceID())
	if err != nil {
		log.Fatalf("Invalid MQTT configuration: %v", err)
	}

	sim, err := simConfig.NewSimulator()
	if err != nil {
		log.Fatalf("Failed to build simulator: %v", err)
	}
	log.Printf("%s: xlag=%d ulag=%d xlen=%d ulen=%d interval=%v\n",
		simConfig.Name, simConfig.XLag, simConfig.ULag, sim.XLen(), sim.ULen(), sim.Interval())

	var schedule *Schedule
	if simConfig.SchedulePath != "" {
		schedule, err = LoadSchedule(simConfig.SchedulePath, simConfig.ULen)
		if err != nil {
			log.Fatalf("Failed to load schedule: %v", err)
		}
	}

	useMQTT := mqttConfig.Broker != ""
	if schedule == nil && !useMQTT && !simConfig.Debug {
		log.Fatal("Nothing to drive the simulator: set SIM_SCHEDULE, SIM_DEBUG or MQTT_BROKER")
	}

	// A schedule on its own is a batch run that ends when every step is recorded
	expected := 0
	if schedule != nil && !useMQTT && !simConfig.Debug {
		expected = schedule.Len()
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Create channels for communication between workers
	controlChan := make(chan ControlCommand, 10)
	resultChan := make(chan StepResult, 10)
	trajectoryChan := make(chan StepResult, 100)

	// Launch trajectory recorder, which must see every step
	trajectoryConfig := simConfig.TrajectoryConfig(expected)
	trajectoryDone := make(chan struct{})
	SafeGo(ctx, cancel, "trajectory-worker", func(ctx context.Context) {
		trajectoryWorker(ctx, cancel, trajectoryConfig, trajectoryChan)
		close(trajectoryDone)
	})

	recorderChans := []chan<- StepResult{trajectoryChan}
	var outputChans []chan<- StepResult //nolint:prealloc // depends on enabled workers

	if useMQTT {
		mqttOutgoingChan := make(chan MQTTMessage, 100) // Larger buffer for queuing
		mqttClientChan := make(chan mqtt.Client, 1)     // Buffered to prevent blocking onConnect

		SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
			mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan)
		})

		mqttSender := NewMQTTSender(mqttOutgoingChan)
		publisherConfig := simConfig.PublisherConfig()

		log.Println("Creating Home Assistant entities...")
		for i := range simConfig.XLen {
			if err := mqttSender.CreateStateEntity(publisherConfig, i); err != nil {
				cancel()
				log.Fatalf("Failed to create %s entity: %v", stateKey(i), err)
			}
		}
		log.Println("Home Assistant entities created")

		publisherChan := make(chan StepResult, 10)
		outputChans = append(outputChans, publisherChan)
		SafeGo(ctx, cancel, "state-publisher", func(ctx context.Context) {
			statePublisherWorker(ctx, publisherChan, publisherConfig, mqttSender)
		})

		controlTopic := simConfig.ControlTopic()
		SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
			mqttWorker(ctx, mqttConfig, controlTopic, simConfig.ULen, controlChan, mqttClientChan)
		})
		log.Println("MQTT worker started")
	}

	if simConfig.Debug {
		consoleChan := make(chan StepResult, 10)
		outputChans = append(outputChans, consoleChan)
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, simConfig.XLen, simConfig.ULen, consoleChan, controlChan)
		})
	}

	// Launch broadcast worker (fans out to all downstream workers)
	SafeGo(ctx, cancel, "broadcast-worker", func(ctx context.Context) {
		broadcastWorker(ctx, resultChan, recorderChans, outputChans)
	})
	log.Println("Broadcast worker started")

	// The simulator is not restarted on panic; its windows would be inconsistent
	go simWorker(ctx, cancel, simConfig.Name, sim, controlChan, resultChan)

	if schedule != nil {
		SafeGo(ctx, cancel, "schedule-worker", func(ctx context.Context) {
			scheduleWorker(ctx, schedule, controlChan)
		})
	}

	// Wait for interrupt signal or context cancellation (from failure or batch completion)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\nShutting down...")
	case <-ctx.Done():
		log.Println("\nShutting down...")
	}
	cancel()

	select {
	case <-trajectoryDone:
	case <-time.After(outputFlushTimeout):
		log.Println("Timed out waiting for trajectory outputs")
	}
}
