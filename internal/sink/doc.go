// Package sink forwards change notifications to external systems.
//
// Each sink exposes a Handle method with the notify.Handler signature and
// is subscribed to the notifier at startup. Handlers run on the notifier's
// per-location dispatch goroutine, so a slow or failing sink delays only
// its own location's later notifications and never the snapshot store.
//
//   - MQTTSink publishes retained JSON per key and accepts commands.
//   - InfluxSink records capability, alarm and connection history.
package sink

// Logger is the logging surface the sinks need.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
