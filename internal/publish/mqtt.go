package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"dresswatch/internal/config"
	"dresswatch/internal/model"
)

type MQTT struct {
	client mqtt.Client
	prefix string
}

// NewMQTT connects to the broker. The client reconnects on its own after a lost connection.
func NewMQTT(cfg config.MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
		}
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, errors.New("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MQTT{client: client, prefix: strings.Trim(cfg.TopicPrefix, "/")}, nil
}

func (m *MQTT) Name() string {
	return "mqtt"
}

// Topic is <prefix>/<camera>/<kind>.
func (m *MQTT) Topic(ev model.DetectionEvent) string {
	return m.prefix + "/" + ev.CameraID + "/" + string(ev.Kind)
}

func (m *MQTT) Publish(ctx context.Context, ev model.DetectionEvent) error {
	if !m.client.IsConnected() {
		return errors.New("mqtt not connected")
	}
	payload, err := encode(ev)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.Topic(ev), 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return errors.New("mqtt publish timeout")
	}
}

func (m *MQTT) Close() error {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}
