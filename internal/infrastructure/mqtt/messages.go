package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outgoing payloads; a full location view stays far below it.
const maxPayloadSize = 1 << 20

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// statusMessage is the retained payload on {prefix}/{location}/status.
type statusMessage struct {
	Status     string    `json:"status"`
	ClientID   string    `json:"client_id"`
	LocationID string    `json:"location_id"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func statusPayload(status, clientID, locationID, reason string) []byte {
	// Marshalling a flat struct of strings and a time cannot fail.
	b, _ := json.Marshal(statusMessage{
		Status:     status,
		ClientID:   clientID,
		LocationID: locationID,
		Reason:     reason,
		Timestamp:  time.Now().UTC().Truncate(time.Second),
	})
	return b
}

// MessageHandler receives inbound messages. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Publish sends payload to topic and waits for the broker acknowledgement.
//
// Parameters:
//   - topic: e.g. Topics().Capability("dev-1", "temperature")
//   - payload: JSON body, at most 1 MiB
//   - qos: 0, 1 or 2
//   - retained: true for state topics so late subscribers see current values
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or ErrPublishFailed
//     (joined with ErrTimeout when the acknowledgement did not arrive)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return awaitToken(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// Subscribe registers handler for topic, which may contain wildcards. The
// subscription is remembered and restored after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := awaitToken(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		return err
	}
	c.mu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	return nil
}

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

func awaitToken(token pahomqtt.Token, opErr error) error {
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: %w after %v", opErr, ErrTimeout, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", opErr, err)
	}
	return nil
}

// wrapHandler adds panic recovery and error logging to a handler.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		log := c.logger()
		defer func() {
			if r := recover(); r != nil && log != nil {
				log.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil && log != nil {
			log.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
