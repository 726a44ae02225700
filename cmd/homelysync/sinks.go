package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/homely-sync/internal/api"
	"github.com/nerrad567/homely-sync/internal/history"
	"github.com/nerrad567/homely-sync/internal/infrastructure/config"
	"github.com/nerrad567/homely-sync/internal/infrastructure/database"
	"github.com/nerrad567/homely-sync/internal/infrastructure/influxdb"
	"github.com/nerrad567/homely-sync/internal/infrastructure/logging"
	"github.com/nerrad567/homely-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/homely-sync/internal/mirror"
	"github.com/nerrad567/homely-sync/internal/notify"
	"github.com/nerrad567/homely-sync/internal/sink"
	"github.com/nerrad567/homely-sync/migrations"
)

// historyRetention is how long change history rows are kept.
const historyRetention = 30 * 24 * time.Hour

// sinks holds the optional change consumers and their connections.
type sinks struct {
	mqtt    *mqtt.Client
	influx  *influxdb.Client
	db      *database.DB
	history *history.Repository
	mirror  *mirror.Mirror
	closers []func() error
}

// startSinks connects every enabled sink and subscribes it to the notifier.
// On error the sinks already started are closed.
//
// Parameters:
//   - ctx: Bounds connection and migration work
//   - cfg: Application configuration
//   - locationID: Location the instance manages
//   - views: Source of full views for the Redis mirror
//   - n: Notifier to subscribe to
//   - refresh: Called for MQTT refresh commands
//   - log: Logger instance
func startSinks(ctx context.Context, cfg *config.Config, locationID string, views mirror.ViewSource, n *notify.Notifier, refresh func(), log *logging.Logger) (*sinks, error) {
	s := &sinks{}
	filter := notify.Filter{LocationID: locationID}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT, mqtt.NewTopics(cfg.MQTT.TopicPrefix, locationID))
		if err != nil {
			s.close(log)
			return nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttLog := log.Component("mqtt")
		client.SetLogger(mqttLog)
		client.SetOnConnect(func() { mqttLog.Info("MQTT connected") })
		client.SetOnDisconnect(func(err error) { mqttLog.Warn("MQTT disconnected", "error", err) })
		s.mqtt = client
		s.closers = append(s.closers, client.Close)

		mqttSink := sink.NewMQTTSink(client, client.Topics(), byte(cfg.MQTT.QoS), mqttLog)
		if err := mqttSink.SubscribeCommands(refresh); err != nil {
			s.close(log)
			return nil, fmt.Errorf("subscribing to MQTT commands: %w", err)
		}
		if _, err := n.Subscribe("mqtt", filter, mqttSink.Handle); err != nil {
			s.close(log)
			return nil, fmt.Errorf("subscribing MQTT sink: %w", err)
		}
		log.Info("MQTT sink enabled",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"topic", client.Topics().Location(),
		)
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			s.close(log)
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxLog := log.Component("influxdb")
		client.SetOnError(func(err error) {
			influxLog.Error("InfluxDB write error", "error", err)
		})
		s.influx = client
		s.closers = append(s.closers, client.Close)

		if _, err := n.Subscribe("influxdb", filter, sink.NewInfluxSink(client, influxLog).Handle); err != nil {
			s.close(log)
			return nil, fmt.Errorf("subscribing InfluxDB sink: %w", err)
		}
		log.Info("InfluxDB sink enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database)
		if err != nil {
			s.close(log)
			return nil, fmt.Errorf("opening database: %w", err)
		}
		s.db = db
		s.closers = append(s.closers, db.Close)

		if err := db.Migrate(ctx, migrations.FS); err != nil {
			s.close(log)
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		s.history = history.NewRepository(db.DB)
		if _, err := n.Subscribe("history", filter, s.history.Handler(log.Component("history"))); err != nil {
			s.close(log)
			return nil, fmt.Errorf("subscribing history recorder: %w", err)
		}
		log.Info("change history enabled", "path", cfg.Database.Path)
	}

	if cfg.Redis.Enabled {
		rdb := mirror.NewRedisClient(cfg.Redis)
		s.closers = append(s.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			s.close(log)
			return nil, fmt.Errorf("connecting to Redis: %w", err)
		}

		ttl := time.Duration(cfg.Redis.TTL) * time.Second
		s.mirror = mirror.New(mirror.NewRedisKVStore(rdb), views, cfg.Redis.KeyPrefix, ttl, log.Component("mirror"))
		if _, err := n.Subscribe("redis", filter, s.mirror.Handle); err != nil {
			s.close(log)
			return nil, fmt.Errorf("subscribing Redis mirror: %w", err)
		}
		log.Info("Redis mirror enabled", "addr", cfg.Redis.Addr, "key", s.mirror.Key(locationID))
	}

	return s, nil
}

// healthCheck verifies every connected sink.
func (s *sinks) healthCheck(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if s.mqtt != nil {
		if err := s.mqtt.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if s.influx != nil {
		if err := s.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// pruneHistory deletes old history rows once a day until ctx is cancelled.
func (s *sinks) pruneHistory(ctx context.Context, log *logging.Logger) error {
	if s.history == nil {
		return nil
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		n, err := s.history.Prune(ctx, historyRetention)
		if err != nil && ctx.Err() == nil {
			log.Warn("pruning change history failed", "error", err)
		} else if n > 0 {
			log.Info("pruned change history", "rows", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// historyReader returns the repository as an API dependency, or nil.
func (s *sinks) historyReader() api.HistoryReader {
	if s.history == nil {
		return nil
	}
	return s.history
}

// close releases sink connections in reverse order of creation.
func (s *sinks) close(log *logging.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Error("error closing sink", "error", err)
		}
	}
	s.closers = nil
}
