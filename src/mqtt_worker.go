package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// parseControlPayload accepts a bare number (broadcast when ulen is 1) or a JSON array of ulen numbers
func parseControlPayload(payload []byte, ulen int) ([]float64, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, fmt.Errorf("empty control payload")
	}

	if strings.HasPrefix(text, "[") {
		var control []float64
		if err := json.Unmarshal([]byte(text), &control); err != nil {
			return nil, fmt.Errorf("invalid control array: %w", err)
		}
		if len(control) != ulen {
			return nil, fmt.Errorf("control has %d values, want %d", len(control), ulen)
		}
		return control, nil
	}

	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid control value %q", text)
	}
	if ulen != 1 {
		return nil, fmt.Errorf("scalar control needs ulen 1, have %d", ulen)
	}
	return []float64{value}, nil
}

// mqttWorker manages the MQTT connection and forwards control messages to a channel
func mqttWorker(
	ctx context.Context,
	config MQTTConfig,
	controlTopic string,
	ulen int,
	controlChan chan<- ControlCommand,
	clientChan chan<- mqtt.Client,
) {
	// Connect to MQTT broker
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:1883", config.Broker))
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s\n", config.Broker)

		// Send the new client to the sender worker
		select {
		case clientChan <- client:
			log.Println("Sent new MQTT client to sender worker")
		case <-ctx.Done():
			return
		}

		token := client.Subscribe(controlTopic, 1, func(client mqtt.Client, msg mqtt.Message) {
			control, err := parseControlPayload(msg.Payload(), ulen)
			if err != nil {
				log.Printf("Ignoring control on %s: %v\n", msg.Topic(), err)
				return
			}

			select {
			case controlChan <- ControlCommand{Control: control, Source: "mqtt"}:
			case <-ctx.Done():
				return
			}
		})

		if token.Wait() && token.Error() != nil {
			log.Printf("Failed to subscribe to topic %s: %v\n", controlTopic, token.Error())
		} else {
			log.Printf("Subscribed to topic: %s\n", controlTopic)
		}
	})

	client := mqtt.NewClient(opts)

	log.Printf("Connecting to MQTT broker at %s...\n", config.Broker)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("Failed to connect to MQTT broker: %v\n", token.Error())
		return
	}

	// Keep worker alive until context is done
	<-ctx.Done()

	if client.IsConnected() {
		client.Disconnect(250)
		log.Println("Disconnected from MQTT broker")
	}
}
