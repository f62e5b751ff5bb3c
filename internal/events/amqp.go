package events

import (
	"encoding/json"

	"healthvoice/pkg/logger"

	"go.uber.org/zap"
)

// Publisher is the part of the message queue the AMQP sink needs
type Publisher interface {
	Publish(routingKey string, body []byte) error
}

// AMQPSink publishes every event as JSON with the event type as routing key,
// so dashboards and the monitor command can follow a session remotely.
type AMQPSink struct {
	pub Publisher
}

func NewAMQPSink(pub Publisher) *AMQPSink {
	return &AMQPSink{pub: pub}
}

func (s *AMQPSink) Emit(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to marshal event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	if err := s.pub.Publish(string(event.Type), body); err != nil {
		logger.Warn("Failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
