// Package transport subscribes to the LoRaWAN network server's MQTT bridge
// and feeds decoded uplinks to the status ingestor. It owns the broker
// connection lifecycle; payload trust decisions live in the ingestor.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/skeops/diwatch/internal/config"
	"github.com/skeops/diwatch/internal/log"
)

// EventSink receives one decoded uplink per MQTT message.
type EventSink interface {
	OnEvent(devEUI, raw string)
}

// Subscriber connects to the MQTT broker and routes device uplinks.
type Subscriber struct {
	cfg         config.MQTTConfig
	statusField string
	sink        EventSink
	logger      *slog.Logger
}

// New creates a Subscriber that extracts statusField from uplink objects and
// hands the value to sink.
func New(cfg config.MQTTConfig, statusField string, sink EventSink) *Subscriber {
	return &Subscriber{
		cfg:         cfg,
		statusField: statusField,
		sink:        sink,
		logger:      log.WithComponent("mqtt"),
	}
}

// Start connects, subscribes, and blocks until ctx is cancelled. The paho
// client reconnects on its own; subscriptions are re-established from the
// OnConnect hook so a broker restart does not silence the daemon.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		s.logger.Info("connected to broker", "broker", s.cfg.Broker)
		token := client.Subscribe(s.cfg.Topic, 0, s.handleMessage)
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				s.logger.Error("subscribe failed", "topic", s.cfg.Topic, "error", err)
				return
			}
			s.logger.Info("subscribed", "topic", s.cfg.Topic)
		}()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect mqtt broker %s: %w", s.cfg.Broker, token.Error())
	}

	<-ctx.Done()
	client.Disconnect(250)
	s.logger.Info("disconnected from broker")
	return nil
}

// handleMessage filters the event stream down to uplinks and decodes them.
// Decode failures are logged and dropped; the subscription stays up.
func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) < 6 || parts[5] != "up" {
		return
	}

	devEUI, raw, err := decodeUplink(msg.Payload(), s.statusField)
	if err != nil {
		s.logger.Warn("dropping undecodable uplink", "topic", msg.Topic(), "error", err)
		return
	}
	s.sink.OnEvent(devEUI, raw)
}

// decodeUplink extracts the device EUI and the status field value from an
// uplink event payload.
func decodeUplink(payload []byte, statusField string) (devEUI, raw string, err error) {
	var event struct {
		DeviceInfo struct {
			DevEUI string `json:"devEui"`
		} `json:"deviceInfo"`
		Object map[string]json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", "", fmt.Errorf("parse uplink event: %w", err)
	}
	if event.DeviceInfo.DevEUI == "" {
		return "", "", fmt.Errorf("uplink event missing deviceInfo.devEui")
	}

	value, ok := event.Object[statusField]
	if !ok {
		return "", "", fmt.Errorf("uplink object missing %q", statusField)
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return "", "", fmt.Errorf("uplink field %q is not a string: %w", statusField, err)
	}
	return event.DeviceInfo.DevEUI, s, nil
}
