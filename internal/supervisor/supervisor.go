package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/homely-sync/internal/infrastructure/config"
	"github.com/nerrad567/homely-sync/internal/push"
	"github.com/nerrad567/homely-sync/internal/snapshot"
)

// warnEvery sets how often a run of failed attempts is logged at warn
// level: the first failure, then every warnEvery-th.
const warnEvery = 12

// ReasonEventReceived is recorded when an event arrives before the
// namespace connect acknowledgement.
const ReasonEventReceived = "event received"

// Connector opens one push connection and blocks until it ends.
// push.Listener implements it.
type Connector interface {
	Run(ctx context.Context, locationID, token string, h push.Handler) error
}

// Logger is the logging surface the supervisor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds the supervisor's collaborators.
type Config struct {
	LocationID string
	Token      string
	Enabled    bool

	Connector Connector

	// OnMessage receives every raw event. Called from the connection
	// goroutine.
	OnMessage func(raw []byte)

	// OnState observes every state transition, in order. It must not call
	// back into the Supervisor.
	OnState func(state snapshot.ConnectionState, reason string)

	// Interval between attempts. Default: config.ReconnectInterval.
	Interval time.Duration

	Logger Logger
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	State               snapshot.ConnectionState `json:"state"`
	Reason              string                   `json:"reason,omitempty"`
	Since               time.Time                `json:"since,omitzero"`
	Enabled             bool                     `json:"enabled"`
	Attempts            uint64                   `json:"attempts"`
	ConsecutiveFailures uint64                   `json:"consecutive_failures"`
	Messages            uint64                   `json:"messages"`
}

// Supervisor keeps the push connection alive.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	locationID string
	connector  Connector
	onMessage  func([]byte)
	onState    func(snapshot.ConnectionState, string)
	interval   time.Duration
	log        Logger

	// transMu orders transitions and their OnState callbacks.
	transMu sync.Mutex

	// lifeMu serialises starting and stopping the loop, so a new loop
	// never starts before the previous one has exited.
	lifeMu sync.Mutex

	mu       sync.Mutex
	state    snapshot.ConnectionState
	reason   string
	since    time.Time
	token    string
	enabled  bool
	parent   context.Context
	gen      uint64
	cancel   context.CancelFunc
	loopDone chan struct{}
	stopped  bool

	inFlight    atomic.Bool
	attempts    atomic.Uint64
	consecutive atomic.Uint64
	messages    atomic.Uint64
}

// New creates a Supervisor in the Not initialized state.
func New(cfg Config) (*Supervisor, error) {
	if cfg.LocationID == "" {
		return nil, errors.New("supervisor: location id is required")
	}
	if cfg.Connector == nil {
		return nil, errors.New("supervisor: connector is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = config.ReconnectInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Supervisor{
		locationID: cfg.LocationID,
		connector:  cfg.Connector,
		onMessage:  cfg.OnMessage,
		onState:    cfg.OnState,
		interval:   cfg.Interval,
		log:        cfg.Logger,
		state:      snapshot.ConnNotInitialized,
		token:      cfg.Token,
		enabled:    cfg.Enabled,
	}, nil
}

// Start begins connecting if the feature is enabled. ctx bounds the
// supervisor's lifetime; Stop is still required for a clean shutdown.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.parent = ctx
	enabled := s.enabled
	s.mu.Unlock()

	if enabled {
		s.startLoop()
	}
}

// Enable turns the push channel on. It restarts from Connecting if it
// was previously disabled; it is a no-op when already enabled.
func (s *Supervisor) Enable() {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	s.startLoop()
}

// Disable turns the push channel off, closing any live connection and
// recording Disconnected with reason "manual disconnect".
func (s *Supervisor) Disable() {
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
	s.stopLoop()
}

// Stop shuts the supervisor down permanently.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.stopLoop()
}

// UpdateToken replaces the token used by the next connection attempt.
// It does not trigger an early attempt.
func (s *Supervisor) UpdateToken(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	changed := token != s.token
	s.token = token
	s.mu.Unlock()
	if changed {
		s.log.Debug("push token updated", "location_id", s.locationID)
	}
}

// State returns the current connection state and reason.
func (s *Supervisor) State() (snapshot.ConnectionState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.reason
}

// Status returns the current state and counters.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:               s.state,
		Reason:              s.reason,
		Since:               s.since,
		Enabled:             s.enabled,
		Attempts:            s.attempts.Load(),
		ConsecutiveFailures: s.consecutive.Load(),
		Messages:            s.messages.Load(),
	}
}

func (s *Supervisor) startLoop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	if s.cancel != nil || s.parent == nil || s.stopped || !s.enabled {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.parent)
	s.gen++
	gen := s.gen
	done := make(chan struct{})
	s.cancel = cancel
	s.loopDone = done
	s.mu.Unlock()

	go s.loop(ctx, gen, done)
}

func (s *Supervisor) stopLoop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.cancel, s.loopDone = nil, nil
	initialised := s.state != snapshot.ConnNotInitialized
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if initialised {
		s.transition(0, snapshot.ConnDisconnected, push.ReasonManual)
	}
}

// loop runs attempts back to back with a fixed pause in between. Because
// each attempt blocks until its connection ends, attempts never overlap.
func (s *Supervisor) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	for {
		s.transition(gen, snapshot.ConnConnecting, "")
		s.attempt(ctx, gen)
		if ctx.Err() != nil {
			return
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Supervisor) attempt(ctx context.Context, gen uint64) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Debug("push connection attempt already in flight", "location_id", s.locationID)
		return
	}
	defer s.inFlight.Store(false)

	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	n := s.attempts.Add(1)
	s.log.Debug("push connection attempt started", "location_id", s.locationID, "attempt", n)

	h := &attemptHandler{s: s, gen: gen}
	err := s.connector.Run(ctx, s.locationID, token, h)
	if ctx.Err() != nil {
		return
	}

	// A connector that returned without reporting still counts as a drop.
	if state, _ := s.State(); state != snapshot.ConnDisconnected {
		reason := "connection closed"
		if err != nil {
			reason = "connect exception: " + err.Error()
		}
		s.transition(gen, snapshot.ConnDisconnected, reason)
	}

	if h.connected.Load() {
		s.consecutive.Store(0)
		return
	}

	failures := s.consecutive.Add(1)
	args := []any{
		"location_id", s.locationID,
		"attempt", failures,
		"retry_in", s.interval,
		"error", err,
	}
	if failures == 1 || failures%warnEvery == 0 {
		s.log.Warn("push connection attempt failed", args...)
	} else {
		s.log.Debug("push connection attempt failed", args...)
	}
}

// transition moves to state to. gen 0 is a forced transition from Stop or
// Disable; any other value must match the current loop generation so that
// callbacks from a cancelled attempt are ignored.
func (s *Supervisor) transition(gen uint64, to snapshot.ConnectionState, reason string) bool {
	s.transMu.Lock()
	defer s.transMu.Unlock()

	s.mu.Lock()
	if gen != 0 && gen != s.gen {
		s.mu.Unlock()
		return false
	}
	from := s.state
	if from == to && s.reason == reason {
		s.mu.Unlock()
		return false
	}
	if from != to && !validTransition(from, to) {
		s.mu.Unlock()
		s.log.Debug("ignoring invalid connection transition",
			"location_id", s.locationID, "from", from, "to", to, "reason", reason)
		return false
	}
	s.state, s.reason, s.since = to, reason, time.Now()
	s.mu.Unlock()

	s.logTransition(from, to, reason)
	if s.onState != nil {
		s.onState(to, reason)
	}
	return true
}

func validTransition(from, to snapshot.ConnectionState) bool {
	switch from {
	case snapshot.ConnNotInitialized:
		return to == snapshot.ConnConnecting
	case snapshot.ConnConnecting:
		return to == snapshot.ConnConnected || to == snapshot.ConnDisconnected
	case snapshot.ConnConnected:
		return to == snapshot.ConnDisconnected
	case snapshot.ConnDisconnected:
		return to == snapshot.ConnConnecting
	}
	return false
}

func (s *Supervisor) logTransition(from, to snapshot.ConnectionState, reason string) {
	args := []any{"location_id", s.locationID, "from", from, "reason", reason}
	switch {
	case from == to:
		s.log.Debug("push status reason updated", args...)
	case to == snapshot.ConnConnected:
		s.log.Info("push connected", args...)
	case to == snapshot.ConnDisconnected && shouldWarnDisconnect(reason):
		s.log.Warn("push disconnected", args...)
	case to == snapshot.ConnDisconnected:
		s.log.Debug("push disconnected", args...)
	default:
		s.log.Debug("push status changed", append(args, "to", to)...)
	}
}

// transientPrefixes mark disconnect reasons that are expected while the
// network or the cloud is briefly unavailable.
var transientPrefixes = []string{
	"connect timeout",
	"network error:",
	"connect exception:",
	"connect_error",
}

func shouldWarnDisconnect(reason string) bool {
	if reason == "" {
		return true
	}
	if reason == push.ReasonManual {
		return false
	}
	for _, p := range transientPrefixes {
		if strings.HasPrefix(reason, p) {
			return false
		}
	}
	return true
}

// attemptHandler adapts one connection attempt to push.Handler.
type attemptHandler struct {
	s         *Supervisor
	gen       uint64
	connected atomic.Bool
}

func (h *attemptHandler) OnConnected() {
	if h.s.transition(h.gen, snapshot.ConnConnected, "") {
		h.connected.Store(true)
		if failures := h.s.consecutive.Load(); failures > 0 {
			h.s.log.Info("push reconnect succeeded", "location_id", h.s.locationID, "after_failures", failures)
		}
	}
}

func (h *attemptHandler) OnDisconnected(reason string) {
	h.s.transition(h.gen, snapshot.ConnDisconnected, reason)
}

func (h *attemptHandler) OnMessage(raw []byte) {
	if state, _ := h.s.State(); state != snapshot.ConnConnected {
		if h.s.transition(h.gen, snapshot.ConnConnected, ReasonEventReceived) {
			h.connected.Store(true)
		}
	}
	h.s.messages.Add(1)
	if h.s.onMessage != nil {
		h.s.onMessage(raw)
	}
}
