package sink

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homely-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/homely-sync/internal/snapshot"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakeMQTT struct {
	mu         sync.Mutex
	msgs       []published
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

func (f *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.msgs = append(f.msgs, published{topic, payload, qos, retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]mqtt.MessageHandler)
	}
	f.handlers[topic] = h
	return nil
}

type logRecorder struct {
	mu    sync.Mutex
	warns []string
}

func (l *logRecorder) Debug(string, ...any) {}
func (l *logRecorder) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMQTTSink_Topic(t *testing.T) {
	s := NewMQTTSink(&fakeMQTT{}, mqtt.NewTopics("homely", "loc-1"), 1, nil)

	assert.Equal(t, "homely/loc-1/dev-1/temperature",
		s.Topic(snapshot.Key{LocationID: "loc-1", DeviceID: "dev-1", Capability: "temperature"}))
	assert.Equal(t, "homely/loc-1/alarm_state",
		s.Topic(snapshot.Key{LocationID: "loc-1", Capability: snapshot.KeyAlarmState}))
}

func TestMQTTSink_HandlePublishesRetained(t *testing.T) {
	client := &fakeMQTT{}
	s := NewMQTTSink(client, mqtt.NewTopics("homely", "loc-1"), 1, nil)

	s.Handle(snapshot.Change{
		Seq:       7,
		Key:       snapshot.Key{LocationID: "loc-1", DeviceID: "dev-1", Capability: "battery_low"},
		Old:       false,
		New:       true,
		Source:    snapshot.SourcePush,
		Timestamp: at.Add(-time.Second),
		At:        at,
	})

	require.Len(t, client.msgs, 1)
	msg := client.msgs[0]
	assert.Equal(t, "homely/loc-1/dev-1/battery_low", msg.topic)
	assert.True(t, msg.retained)
	assert.Equal(t, byte(1), msg.qos)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, true, body["value"])
	assert.Equal(t, false, body["previous"])
	assert.Equal(t, "push", body["source"])
	assert.Equal(t, float64(7), body["seq"])
	assert.Equal(t, "2026-03-01T11:59:59Z", body["timestamp"])
}

func TestMQTTSink_ConnectionReason(t *testing.T) {
	client := &fakeMQTT{}
	s := NewMQTTSink(client, mqtt.NewTopics("homely", "loc-1"), 0, nil)

	s.Handle(snapshot.Change{
		Key:    snapshot.Key{LocationID: "loc-1", Capability: snapshot.KeyConnectionState},
		Old:    "Connected",
		New:    "Disconnected",
		Reason: "transport close",
		Source: snapshot.SourceSupervisor,
		At:     at,
	})

	require.Len(t, client.msgs, 1)
	assert.Equal(t, "homely/loc-1/connection_state", client.msgs[0].topic)
	assert.Contains(t, string(client.msgs[0].payload), `"reason":"transport close"`)
	assert.NotContains(t, string(client.msgs[0].payload), `"timestamp"`)
}

func TestMQTTSink_PublishFailureIsLogged(t *testing.T) {
	logger := &logRecorder{}
	client := &fakeMQTT{publishErr: mqtt.ErrNotConnected}
	s := NewMQTTSink(client, mqtt.NewTopics("homely", "loc-1"), 1, logger)

	s.Handle(snapshot.Change{Key: snapshot.Key{LocationID: "loc-1", Capability: snapshot.KeyAlarmState}, New: "disarmed"})

	assert.Equal(t, []string{"mqtt publish failed"}, logger.warns)
}

func TestMQTTSink_Commands(t *testing.T) {
	client := &fakeMQTT{}
	topics := mqtt.NewTopics("homely", "loc-1")
	s := NewMQTTSink(client, topics, 1, nil)

	refreshes := 0
	require.NoError(t, s.SubscribeCommands(func() { refreshes++ }))

	h := client.handlers["homely/loc-1/cmd/+"]
	require.NotNil(t, h)

	require.NoError(t, h(topics.Command("refresh"), nil))
	assert.Equal(t, 1, refreshes)

	assert.Error(t, h(topics.Command("reboot"), nil))
	assert.Equal(t, 1, refreshes)
}

type influxCall struct {
	kind, loc, dev, capability, reason string
	value                              any
	ts                                 time.Time
}

type fakeInflux struct {
	calls []influxCall
	err   error
}

func (f *fakeInflux) WriteCapability(loc, dev, capability string, value any, ts time.Time) error {
	f.calls = append(f.calls, influxCall{kind: "capability", loc: loc, dev: dev, capability: capability, value: value, ts: ts})
	return f.err
}

func (f *fakeInflux) WriteAlarmState(loc, state string, ts time.Time) error {
	f.calls = append(f.calls, influxCall{kind: "alarm", loc: loc, value: state, ts: ts})
	return f.err
}

func (f *fakeInflux) WriteConnectionState(loc, state, reason string, ts time.Time) error {
	f.calls = append(f.calls, influxCall{kind: "connection", loc: loc, value: state, reason: reason, ts: ts})
	return f.err
}

func TestInfluxSink_Routing(t *testing.T) {
	w := &fakeInflux{}
	s := NewInfluxSink(w, nil)
	observed := at.Add(-time.Minute)

	s.Handle(snapshot.Change{
		Key:       snapshot.Key{LocationID: "loc-1", DeviceID: "dev-1", Capability: "temperature"},
		New:       21.5,
		Timestamp: observed,
		At:        at,
	})
	s.Handle(snapshot.Change{
		Key: snapshot.Key{LocationID: "loc-1", Capability: snapshot.KeyAlarmState},
		New: "armed_away",
		At:  at,
	})
	s.Handle(snapshot.Change{
		Key:    snapshot.Key{LocationID: "loc-1", Capability: snapshot.KeyConnectionState},
		New:    snapshot.ConnDisconnected,
		Reason: "connect timeout",
		At:     at,
	})
	s.Handle(snapshot.Change{
		Key: snapshot.Key{LocationID: "loc-1", Capability: snapshot.KeyAggregateBattery},
		New: "Defective",
		At:  at,
	})

	require.Len(t, w.calls, 3)
	assert.Equal(t, influxCall{kind: "capability", loc: "loc-1", dev: "dev-1", capability: "temperature", value: 21.5, ts: observed}, w.calls[0])
	assert.Equal(t, influxCall{kind: "alarm", loc: "loc-1", value: "armed_away", ts: at}, w.calls[1])
	assert.Equal(t, influxCall{kind: "connection", loc: "loc-1", value: "Disconnected", reason: "connect timeout", ts: at}, w.calls[2])
}

func TestInfluxSink_ErrorIsLogged(t *testing.T) {
	logger := &logRecorder{}
	s := NewInfluxSink(&fakeInflux{err: errors.New("not connected")}, logger)

	s.Handle(snapshot.Change{Key: snapshot.Key{LocationID: "loc-1", DeviceID: "d", Capability: "c"}, New: 1.0, At: at})

	assert.Equal(t, []string{"influx write failed"}, logger.warns)
}
