// homelysync keeps a local, continuously updated copy of a Homely alarm
// location and fans every change out to MQTT, InfluxDB, SQLite history,
// Redis and a read-only HTTP/WebSocket API.
//
// State arrives through two channels: a periodic REST poll that is the
// source of truth, and a Socket.IO push connection for low-latency
// updates. The push connection is optional; polling always runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/homely-sync/internal/aggregate"
	"github.com/nerrad567/homely-sync/internal/api"
	"github.com/nerrad567/homely-sync/internal/homely"
	"github.com/nerrad567/homely-sync/internal/infrastructure/config"
	"github.com/nerrad567/homely-sync/internal/infrastructure/logging"
	"github.com/nerrad567/homely-sync/internal/notify"
	"github.com/nerrad567/homely-sync/internal/poller"
	"github.com/nerrad567/homely-sync/internal/push"
	"github.com/nerrad567/homely-sync/internal/snapshot"
	"github.com/nerrad567/homely-sync/internal/supervisor"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when HOMELYSYNC_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds the drain of queued mutations and notifications.
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting homelysync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"poll_interval", cfg.PollInterval(),
		"websocket_enabled", cfg.Location.WebSocketEnabled,
	)

	// Authenticate and resolve the location before anything starts; bad
	// credentials are fatal here rather than retried forever.
	client := homely.NewClient(cfg.Homely.BaseURL, cfg.RequestTimeout(), log.Component("homely"))
	session := homely.NewSession(client, cfg.Homely.Username, cfg.Homely.Password, log.Component("homely"))

	token, err := session.Login(ctx)
	if err != nil {
		if errors.Is(err, homely.ErrAuth) {
			return fmt.Errorf("homely login rejected, check credentials: %w", err)
		}
		return fmt.Errorf("homely login: %w", err)
	}
	loc, err := client.ResolveLocation(ctx, token, cfg.Location.HomeIndex)
	if err != nil {
		return fmt.Errorf("resolving location: %w", err)
	}
	log = log.With("location_id", loc.LocationID)
	log.Info("location resolved", "name", loc.Name, "home_index", cfg.Location.HomeIndex)

	notifier := notify.New(log.Component("notify"))
	store := snapshot.NewStore(snapshot.Options{
		Aggregate: aggregate.Compute,
		Publisher: notifier,
		Logger:    log.Component("snapshot"),
	})
	var out *sinks
	defer func() {
		// Store first so its last batches reach the notifier, then drain the
		// notifier before the sinks it delivers to are closed.
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := store.Close(drainCtx); closeErr != nil {
			log.Error("error closing snapshot store", "error", closeErr)
		}
		if closeErr := notifier.Close(drainCtx); closeErr != nil {
			log.Error("error draining notifier", "error", closeErr)
		}
		if out != nil {
			out.close(log)
		}
	}()

	poll, err := poller.New(poller.Config{
		LocationID: loc.LocationID,
		Interval:   cfg.PollInterval(),
		StaleAfter: cfg.StaleAfter(),
		Fetcher:    client,
		Tokens:     session,
		Store:      store,
		Logger:     log.Component("poller"),
	})
	if err != nil {
		return fmt.Errorf("creating poller: %w", err)
	}

	out, err = startSinks(ctx, cfg, loc.LocationID, store, notifier, poll.Trigger, log)
	if err != nil {
		return err
	}

	if err := out.healthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	events := &pushEvents{
		ctx:        ctx,
		locationID: loc.LocationID,
		store:      store,
		refresh:    poll.Trigger,
		log:        log.Component("push"),
	}
	sup, err := supervisor.New(supervisor.Config{
		LocationID: loc.LocationID,
		Token:      token,
		Enabled:    cfg.Location.WebSocketEnabled,
		Connector: push.NewListener(push.Config{
			URL:    cfg.Homely.SocketURL,
			Logger: log.Component("push"),
		}),
		OnMessage: events.onMessage,
		OnState:   events.onState,
		Logger:    log.Component("supervisor"),
	})
	if err != nil {
		return fmt.Errorf("creating push supervisor: %w", err)
	}
	session.OnTokenChange(sup.UpdateToken)

	var apiServer *api.Server
	var hubSub string
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.Component("api"),
			Store:    store,
			History:  out.historyReader(),
			Poller:   poll,
			Push:     sup,
			Notifier: notifier,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		hubSub, err = notifier.Subscribe("websocket", notify.Filter{}, apiServer.Hub().Handle)
		if err != nil {
			return fmt.Errorf("subscribing websocket hub: %w", err)
		}
	}

	reload := &reloader{active: cfg, poll: poll, push: sup, log: log.Component("config")}
	watcher, err := config.NewWatcher(configPath, reload.apply, log.Component("config"))
	if err != nil {
		log.Warn("config hot reload unavailable", "error", err)
	} else {
		defer watcher.Close() //nolint:errcheck // shutdown path
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poll.Run(gctx) })
	g.Go(func() error { return out.pruneHistory(gctx, log) })

	sup.Start(gctx)
	if apiServer != nil {
		if err := apiServer.Start(gctx); err != nil {
			sup.Stop()
			return fmt.Errorf("starting API server: %w", err)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	sup.Stop()
	if apiServer != nil {
		// No more broadcasts to a hub whose clients are gone.
		notifier.Unsubscribe(hubSub)
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("homelysync stopped")
	return nil
}

// pollSettings and pushSwitch are the hot-reloadable knobs of the poller
// and the push supervisor.
type pollSettings interface {
	SetInterval(d time.Duration)
	SetStaleAfter(d time.Duration)
}

type pushSwitch interface {
	Enable()
	Disable()
}

// reloader hands hot-reloadable settings to running components and warns
// about edits that only take effect after a restart.
type reloader struct {
	mu     sync.Mutex
	active *config.Config
	poll   pollSettings
	push   pushSwitch
	log    *logging.Logger
}

// apply is the config watcher callback.
func (r *reloader) apply(next *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range restartRequired(r.active, next) {
		r.log.Warn("config change requires a restart, keeping running value", "key", key)
	}

	r.poll.SetInterval(next.PollInterval())
	r.poll.SetStaleAfter(next.StaleAfter())
	if next.Location.WebSocketEnabled {
		r.push.Enable()
	} else {
		r.push.Disable()
	}
	r.log.Info("settings applied",
		"poll_interval", next.PollInterval(),
		"stale_after", next.StaleAfter(),
		"websocket_enabled", next.Location.WebSocketEnabled,
	)
	r.active = next
}

// restartRequired lists the config keys that differ between old and next
// but are only read at startup.
func restartRequired(old, next *config.Config) []string {
	if old == nil || next == nil {
		return nil
	}
	keys := []struct {
		name      string
		old, next any
	}{
		{"homely", old.Homely, next.Homely},
		{"location.home_index", old.Location.HomeIndex, next.Location.HomeIndex},
		{"database", old.Database, next.Database},
		{"mqtt", old.MQTT, next.MQTT},
		{"api", old.API, next.API},
		{"websocket", old.WebSocket, next.WebSocket},
		{"influxdb", old.InfluxDB, next.InfluxDB},
		{"redis", old.Redis, next.Redis},
		{"logging", old.Logging, next.Logging},
	}
	var changed []string
	for _, k := range keys {
		if !reflect.DeepEqual(k.old, k.next) {
			changed = append(changed, k.name)
		}
	}
	return changed
}

// getConfigPath returns the configuration file path.
// Uses HOMELYSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HOMELYSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
