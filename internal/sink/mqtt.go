package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/homely-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/homely-sync/internal/snapshot"
)

// CommandRefresh requests an immediate poll.
const CommandRefresh = "refresh"

// MQTTClient is the subset of *mqtt.Client the sink uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// valueMessage is the retained payload of one key.
type valueMessage struct {
	Value     any       `json:"value"`
	Previous  any       `json:"previous,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Source    string    `json:"source"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	At        time.Time `json:"at"`
}

// MQTTSink publishes every change as a retained message so late
// subscribers see current state.
type MQTTSink struct {
	client MQTTClient
	topics mqtt.Topics
	qos    byte
	log    Logger
}

// NewMQTTSink creates a sink publishing under topics.
func NewMQTTSink(client MQTTClient, topics mqtt.Topics, qos byte, logger Logger) *MQTTSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTSink{client: client, topics: topics, qos: qos, log: logger}
}

// Topic returns the topic a change key is published on.
func (s *MQTTSink) Topic(key snapshot.Key) string {
	if key.DeviceID == "" {
		return s.topics.LocationKey(key.Capability)
	}
	return s.topics.Capability(key.DeviceID, key.Capability)
}

// Handle publishes one change. It has the notify.Handler signature.
func (s *MQTTSink) Handle(c snapshot.Change) {
	payload, err := json.Marshal(valueMessage{
		Value:     c.New,
		Previous:  c.Old,
		Reason:    c.Reason,
		Source:    string(c.Source),
		Seq:       c.Seq,
		Timestamp: c.Timestamp,
		At:        c.At,
	})
	if err != nil {
		s.log.Warn("encoding mqtt payload failed", "key", c.Key.String(), "error", err)
		return
	}
	topic := s.Topic(c.Key)
	if err := s.client.Publish(topic, payload, s.qos, true); err != nil {
		s.log.Warn("mqtt publish failed", "topic", topic, "error", err)
		return
	}
	s.log.Debug("mqtt published", "topic", topic, "seq", c.Seq)
}

// SubscribeCommands routes inbound commands for the location. refresh
// calls onRefresh; unknown commands are rejected.
func (s *MQTTSink) SubscribeCommands(onRefresh func()) error {
	err := s.client.Subscribe(s.topics.AllCommands(), s.qos, func(topic string, _ []byte) error {
		switch topic {
		case s.topics.Command(CommandRefresh):
			onRefresh()
			return nil
		default:
			return fmt.Errorf("unknown command %q", s.topics.CommandName(topic))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}
