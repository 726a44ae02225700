package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/homely-sync/internal/homely"
	"github.com/nerrad567/homely-sync/internal/snapshot"
)

// Fetcher retrieves a complete observation of a location.
type Fetcher interface {
	FetchFullSnapshot(ctx context.Context, locationID, accessToken string) (snapshot.DeviceSet, error)
}

// TokenSource supplies access tokens. Invalidate is called when the API
// rejects a token so the next poll renews it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Store is the subset of the snapshot store the poller mutates.
type Store interface {
	ApplyFull(ctx context.Context, set snapshot.DeviceSet) (snapshot.Result, error)
	Sweep(ctx context.Context, locationID string, staleAfter time.Duration) (snapshot.Result, error)
}

// Logger is the logging surface the poller needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds the poller's collaborators and timing.
type Config struct {
	LocationID string

	// Interval between polls. Required.
	Interval time.Duration

	// StaleAfter is passed to Store.Sweep after each poll attempt,
	// including failed ones, so silent devices are flagged while the
	// cloud is unreachable. Zero disables the sweep; absence from a poll
	// still flags a device stale.
	StaleAfter time.Duration

	Fetcher Fetcher
	Tokens  TokenSource
	Store   Store
	Logger  Logger
}

// Stats summarises poll outcomes.
type Stats struct {
	Successes           uint64    `json:"successes"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures uint64    `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	Interval            string    `json:"interval"`
}

// Poller fetches a full snapshot on a fixed interval.
//
// Thread Safety: Run must be called once; the other methods are safe for
// concurrent use.
type Poller struct {
	locationID string
	fetcher    Fetcher
	tokens     TokenSource
	store      Store
	log        Logger

	interval   atomic.Int64 // time.Duration
	staleAfter atomic.Int64 // time.Duration

	intervalCh chan struct{}
	triggerCh  chan struct{}

	successes   atomic.Uint64
	failures    atomic.Uint64
	consecutive atomic.Uint64

	mu          sync.Mutex
	lastSuccess time.Time
	lastErr     string
}

// New creates a Poller.
//
// Returns:
//   - *Poller: Ready to Run
//   - error: If a required collaborator or the interval is missing
func New(cfg Config) (*Poller, error) {
	switch {
	case cfg.LocationID == "":
		return nil, errors.New("poller: location id is required")
	case cfg.Interval <= 0:
		return nil, errors.New("poller: interval must be positive")
	case cfg.Fetcher == nil || cfg.Tokens == nil || cfg.Store == nil:
		return nil, errors.New("poller: fetcher, tokens and store are required")
	}
	log := cfg.Logger
	if log == nil {
		log = noopLogger{}
	}

	p := &Poller{
		locationID: cfg.LocationID,
		fetcher:    cfg.Fetcher,
		tokens:     cfg.Tokens,
		store:      cfg.Store,
		log:        log,
		intervalCh: make(chan struct{}, 1),
		triggerCh:  make(chan struct{}, 1),
	}
	p.interval.Store(int64(cfg.Interval))
	p.staleAfter.Store(int64(cfg.StaleAfter))
	return p, nil
}

// Run polls immediately, then on every tick until ctx is cancelled.
// It always returns nil; poll failures are counted, never returned.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(p.interval.Load()))
	defer ticker.Stop()

	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.intervalCh:
			d := time.Duration(p.interval.Load())
			ticker.Reset(d)
			p.log.Info("poll interval changed", "location_id", p.locationID, "interval", d)
		case <-p.triggerCh:
			p.Poll(ctx)
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// SetInterval changes the polling period without restarting the loop.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 || time.Duration(p.interval.Swap(int64(d))) == d {
		return
	}
	select {
	case p.intervalCh <- struct{}{}:
	default:
	}
}

// SetStaleAfter changes the sweep threshold.
func (p *Poller) SetStaleAfter(d time.Duration) {
	p.staleAfter.Store(int64(d))
}

// Trigger requests an immediate poll. Requests made while one is already
// pending are coalesced.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Poll performs one fetch-and-merge cycle followed by a stale sweep and
// reports whether the fetch succeeded. Run is the normal caller; Poll is
// exported for tests and one-off use.
func (p *Poller) Poll(ctx context.Context) bool {
	ok := p.fetch(ctx)
	p.sweep(ctx)
	return ok
}

func (p *Poller) fetch(ctx context.Context) bool {
	err := p.poll(ctx)
	if err == nil {
		p.successes.Add(1)
		p.consecutive.Store(0)
		p.mu.Lock()
		p.lastSuccess = time.Now()
		p.lastErr = ""
		p.mu.Unlock()
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	failures := p.failures.Add(1)
	consecutive := p.consecutive.Add(1)
	p.mu.Lock()
	p.lastErr = err.Error()
	p.mu.Unlock()
	p.log.Warn("poll failed, retrying at next interval",
		"location_id", p.locationID,
		"error", err,
		"failures", failures,
		"consecutive_failures", consecutive,
	)
	return false
}

func (p *Poller) poll(ctx context.Context) error {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtaining token: %w", err)
	}

	set, err := p.fetcher.FetchFullSnapshot(ctx, p.locationID, token)
	if err != nil {
		if errors.Is(err, homely.ErrAuth) {
			p.tokens.Invalidate()
		}
		return err
	}
	set.LocationID = p.locationID

	res, err := p.store.ApplyFull(ctx, set)
	if err != nil {
		return fmt.Errorf("applying snapshot: %w", err)
	}
	p.log.Debug("poll applied",
		"location_id", p.locationID,
		"devices", len(set.Devices),
		"changes", len(res.Changes),
		"rejected", res.Rejected,
		"dropped", res.Dropped,
	)
	return nil
}

func (p *Poller) sweep(ctx context.Context) {
	staleAfter := time.Duration(p.staleAfter.Load())
	if staleAfter <= 0 || ctx.Err() != nil {
		return
	}
	res, err := p.store.Sweep(ctx, p.locationID, staleAfter)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("stale sweep failed", "location_id", p.locationID, "error", err)
		}
		return
	}
	if len(res.Changes) > 0 {
		p.log.Info("device staleness changed", "location_id", p.locationID, "changes", len(res.Changes))
	}
}

// Stats returns poll counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Successes:           p.successes.Load(),
		Failures:            p.failures.Load(),
		ConsecutiveFailures: p.consecutive.Load(),
		LastSuccess:         p.lastSuccess,
		LastError:           p.lastErr,
		Interval:            time.Duration(p.interval.Load()).String(),
	}
}
