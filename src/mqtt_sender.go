package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send sends a raw MQTTMessage
func (s *MQTTSender) Send(msg MQTTMessage) {
	s.ch <- msg
}

// stateKey is the JSON key for state column i
func stateKey(i int) string {
	return fmt.Sprintf("x%d", i)
}

// CreateStateEntity creates a Home Assistant sensor for one state column via MQTT discovery
func (s *MQTTSender) CreateStateEntity(config PublisherConfig, column int) error {
	type haDeviceConfig struct {
		Identifiers  []string `json:"identifiers"`
		Name         string   `json:"name"`
		Manufacturer string   `json:"manufacturer,omitempty"`
		Model        string   `json:"model,omitempty"`
	}

	type haEntityConfig struct {
		Name             string         `json:"name,omitempty"`
		StateTopic       string         `json:"state_topic"`
		ValueTemplate    string         `json:"value_template"`
		UniqueId         string         `json:"unique_id"`
		StateClass       string         `json:"state_class,omitempty"`
		DisplayPrecision int            `json:"suggested_display_precision,omitempty"`
		Device           haDeviceConfig `json:"device"`
	}

	key := stateKey(column)
	entity := haEntityConfig{
		Name:             "State " + key,
		StateTopic:       config.StateTopic,
		ValueTemplate:    "{{ value_json." + key + "}}",
		UniqueId:         config.DeviceID + "_" + key,
		StateClass:       "measurement",
		DisplayPrecision: 3,
		Device: haDeviceConfig{
			Identifiers:  []string{config.DeviceID},
			Name:         config.Name,
			Manufacturer: "mlsim",
			Model:        fmt.Sprintf("%d-state simulator", config.XLen),
		},
	}

	payload, err := json.Marshal(entity)
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   "homeassistant/sensor/" + config.DeviceID + "_" + key + "/config",
		Payload: payload,
		QoS:     2,
		Retain:  true,
	})
	return nil
}

// statePayload builds the JSON state message for one step
func statePayload(result StepResult) ([]byte, error) {
	payload := map[string]any{
		"clock": result.Clock,
		"step":  result.Step,
	}
	for i, v := range result.State {
		payload[stateKey(i)] = v
	}
	return json.Marshal(payload)
}

// statePublisherWorker publishes every step result to the state topic
func statePublisherWorker(
	ctx context.Context,
	resultChan <-chan StepResult,
	config PublisherConfig,
	sender *MQTTSender,
) {
	log.Printf("%s state publisher started\n", config.Name)

	for {
		select {
		case result := <-resultChan:
			payload, err := statePayload(result)
			if err != nil {
				log.Printf("%s: Failed to marshal state payload: %v\n", config.Name, err)
				continue
			}
			sender.Send(MQTTMessage{
				Topic:   config.StateTopic,
				Payload: payload,
				QoS:     0,
				Retain:  false,
			})

		case <-ctx.Done():
			log.Printf("%s state publisher stopped\n", config.Name)
			return
		}
	}
}

const maxQueuedMessages = 1000

// mqttSenderWorker publishes outgoing messages, queueing them until a connected client arrives
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	log.Println("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	for {
		select {
		case newClient := <-clientChan:
			log.Println("MQTT sender worker received new client")
			client = newClient

			// Process any queued messages now that we have a client
			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					publish(client, msg)
				}
				messageQueue = nil
				if queuedCount > 0 {
					log.Printf("MQTT sender worker processed %d queued messages\n", queuedCount)
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				publish(client, msg)
			} else {
				// Discovery configs are always kept; state updates are capped
				if len(messageQueue) >= maxQueuedMessages && !isDiscoveryTopic(msg.Topic) {
					log.Printf("MQTT sender worker queue full, dropping message to %s\n", msg.Topic)
					continue
				}
				messageQueue = append(messageQueue, msg)
				log.Printf("MQTT sender worker queued message (total queued: %d)\n", len(messageQueue))
			}

		case <-ctx.Done():
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}

func publish(client mqtt.Client, msg MQTTMessage) {
	token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	token.Wait()
	if token.Error() != nil {
		log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
	}
}

// isDiscoveryTopic checks if a topic is an MQTT discovery config topic
func isDiscoveryTopic(topic string) bool {
	return strings.HasSuffix(topic, "/config")
}
