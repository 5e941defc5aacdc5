package objects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/robofit/arcor2-sub003/internal/runtime"
)

// MqttDevice forwards commands to a device controller listening on an
// MQTT topic. Settings: command_topic (required) and signals, a JSON list
// of allowed signal names (empty allows all).
type MqttDevice struct {
	generic
	pub     Publisher
	topic   string
	signals []string
	logger  *slog.Logger
}

// DeviceCommand is the payload published for every command.
type DeviceCommand struct {
	DeviceID string `json:"device_id"`
	Signal   string `json:"signal"`
	Payload  any    `json:"payload,omitempty"`
}

func mqttDeviceType(deps Deps) runtime.TypeDef {
	return runtime.TypeDef{
		Name: "MqttDevice",
		Factory: func(ctx context.Context, args runtime.ConstructArgs) (runtime.Object, error) {
			return NewMqttDevice(args, deps.Publisher, deps.Logger)
		},
		Actions: map[string]runtime.ActionDef{
			"send": {Fn: action(deviceSend)},
		},
	}
}

func NewMqttDevice(args runtime.ConstructArgs, pub Publisher, logger *slog.Logger) (*MqttDevice, error) {
	if pub == nil {
		return nil, errors.New("mqtt transport is not configured")
	}
	topic := args.Settings.String("command_topic", "")
	if topic == "" {
		return nil, errors.New("setting command_topic is required")
	}
	var signals []string
	if raw, ok := args.Settings["signals"]; ok {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid setting signals: %w", err)
		}
		if err := json.Unmarshal(b, &signals); err != nil {
			return nil, fmt.Errorf("invalid setting signals: %w", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MqttDevice{
		generic: newGeneric(args),
		pub:     pub,
		topic:   topic,
		signals: signals,
		logger:  logger.With("object", args.ID, "topic", topic),
	}, nil
}

// Send publishes one command.
func (d *MqttDevice) Send(signal string, payload any) error {
	if signal == "" {
		return errors.New("signal is required")
	}
	if len(d.signals) > 0 && !slices.Contains(d.signals, signal) {
		return fmt.Errorf("signal %s is not allowed for device %s", signal, d.ID())
	}
	b, err := json.Marshal(DeviceCommand{DeviceID: d.ID(), Signal: signal, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	if err := d.pub.Publish(d.topic, b); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", signal, d.topic, err)
	}
	d.logger.Debug("command sent", "signal", signal)
	return nil
}

func deviceSend(ctx context.Context, d *MqttDevice, args runtime.Args) (any, error) {
	signal, err := args.String("signal", 0)
	if err != nil {
		return nil, err
	}
	payload, _ := args.Lookup("payload", 1)
	return nil, d.Send(signal, payload)
}
