// Package mqtt connects homely-sync to an MQTT broker for one location.
//
// The client wraps paho.mqtt.golang with auto-reconnect, subscription
// restore after reconnect, and a retained status topic whose offline
// variant is registered as the Last Will:
//
//	{prefix}/{location}/status   {"status":"online","client_id":...,"location_id":...}
//
// Value publishing and the command subscription live in internal/sink;
// this package only knows topics, payload limits and the connection.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.NewTopics(cfg.MQTT.TopicPrefix, locationID))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().Capability("dev-1", "temperature")
//	err = client.Publish(topic, []byte(`{"value":21.5}`), 1, true)
//
// Enable TLS (cfg.Broker.TLS) whenever the broker is not on localhost.
package mqtt
