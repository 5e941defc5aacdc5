package mqtt

import (
	"log/slog"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/robofit/arcor2-sub003/internal/control"
)

// ControlTopic is the topic a package listens on for pause, resume and
// step commands.
func ControlTopic(packageID string) string {
	return "arcor2/" + packageID + "/control"
}

// EventTopic is the topic telemetry records of a package are mirrored to.
func EventTopic(packageID string) string {
	return "arcor2/" + packageID + "/events"
}

type subscriber interface {
	Subscribe(topic string, handler paho.MessageHandler) error
}

type publisher interface {
	Publish(topic string, payload []byte) error
}

// ControlHandler returns a handler feeding message payloads to mux.
// Payloads that are not a command token are dropped.
func ControlHandler(mux *control.Mux, logger *slog.Logger) paho.MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ paho.Client, msg paho.Message) {
		payload := strings.TrimSpace(string(msg.Payload()))
		if !mux.Send(payload) {
			logger.Debug("control message ignored", "topic", msg.Topic(), "payload", payload)
		}
	}
}

// SubscribeControl subscribes mux to the control topic of a package.
func SubscribeControl(c subscriber, packageID string, mux *control.Mux, logger *slog.Logger) error {
	return c.Subscribe(ControlTopic(packageID), ControlHandler(mux, logger))
}

// EventPublisher mirrors telemetry lines to an MQTT topic. It implements
// events.Publisher.
type EventPublisher struct {
	client publisher
	topic  string
}

func NewEventPublisher(c publisher, packageID string) *EventPublisher {
	return &EventPublisher{client: c, topic: EventTopic(packageID)}
}

// Topic returns the topic events are published to.
func (p *EventPublisher) Topic() string { return p.topic }

// Publish sends one serialized event. The event name is carried inside
// the line.
func (p *EventPublisher) Publish(_ string, line []byte) error {
	return p.client.Publish(p.topic, line)
}
