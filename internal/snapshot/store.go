package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger is the logging surface the Store needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher receives every non-empty change batch, in acceptance order per
// location. It is called from the location's owning goroutine and must not
// block on downstream consumers.
type Publisher interface {
	Publish(locationID string, changes []Change)
}

// Options configures a Store.
type Options struct {
	// Aggregate derives location-level values after each mutation.
	Aggregate AggregateFunc

	// Publisher receives change batches. Optional.
	Publisher Publisher

	// Logger for dropped units and lifecycle events. Optional.
	Logger Logger

	// Now overrides the wall clock. Optional.
	Now func() time.Time
}

// Store is the per-location state cache.
//
// Each location gets a dedicated goroutine that applies mutations one at a
// time. Readers take a copy under the location's read lock and never wait
// for queued mutations.
//
// Thread Safety: All methods are safe for concurrent use.
type Store struct {
	opts Options
	log  Logger
	now  func() time.Time

	mu        sync.Mutex
	locations map[string]*location
	closed    bool
	wg        sync.WaitGroup
}

type location struct {
	mu    sync.RWMutex
	state *state

	reqs chan request
	quit chan struct{}
}

type request struct {
	source Source
	apply  func(*batch)
	reply  chan Result
}

// NewStore creates an empty Store.
func NewStore(opts Options) *Store {
	s := &Store{
		opts:      opts,
		log:       opts.Logger,
		now:       opts.Now,
		locations: make(map[string]*location),
	}
	if s.log == nil {
		s.log = noopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ApplyFull merges a complete poll observation for a location.
//
// Devices new to the cache are added, devices missing from set are flagged
// stale, and every capability goes through the timestamp ordering rule.
//
// Parameters:
//   - ctx: Bounds the wait for the location's goroutine
//   - set: Full observation; set.LocationID selects the location
//
// Returns:
//   - Result: Accepted changes plus rejected/dropped counters
//   - error: ErrClosed after Close, or the context error
func (s *Store) ApplyFull(ctx context.Context, set DeviceSet) (Result, error) {
	return s.submit(ctx, set.LocationID, SourcePoll, func(b *batch) {
		b.applyFull(set)
	})
}

// ApplyDelta merges one incremental observation for a location.
func (s *Store) ApplyDelta(ctx context.Context, locationID string, obs Observation) (Result, error) {
	return s.ApplyDeltas(ctx, locationID, []Observation{obs})
}

// ApplyDeltas merges several observations as one mutation, so a multi-change
// push event yields a single ordered batch. Malformed units are dropped
// individually.
func (s *Store) ApplyDeltas(ctx context.Context, locationID string, obs []Observation) (Result, error) {
	return s.submit(ctx, locationID, SourcePush, func(b *batch) {
		for _, o := range obs {
			b.applyDelta(o)
		}
	})
}

// ApplyAlarm merges an alarm state change reported by the push channel.
func (s *Store) ApplyAlarm(ctx context.Context, locationID, raw string, ts time.Time) (Result, error) {
	return s.submit(ctx, locationID, SourcePush, func(b *batch) {
		if raw == "" {
			b.drop("empty alarm state")
			return
		}
		b.mergeAlarm(raw, ts, SourcePush)
	})
}

// ApplyConnection mirrors a push connection transition so that
// connection_state notifications are ordered with data notifications.
// Only the push supervisor should call it.
func (s *Store) ApplyConnection(ctx context.Context, locationID string, cs ConnectionState, reason string) (Result, error) {
	return s.submit(ctx, locationID, SourceSupervisor, func(b *batch) {
		b.applyConnection(cs, reason)
	})
}

// Sweep flags devices not observed within staleAfter.
func (s *Store) Sweep(ctx context.Context, locationID string, staleAfter time.Duration) (Result, error) {
	return s.submit(ctx, locationID, SourceSweep, func(b *batch) {
		b.sweep(staleAfter)
	})
}

// View returns a copy of a location's current state.
func (s *Store) View(locationID string) (View, error) {
	s.mu.Lock()
	loc, ok := s.locations[locationID]
	s.mu.Unlock()
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrUnknownLocation, locationID)
	}

	loc.mu.RLock()
	defer loc.mu.RUnlock()
	return loc.state.view(), nil
}

// Locations returns the ids of all known locations, sorted.
func (s *Store) Locations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.locations))
	for id := range s.locations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops accepting mutations and waits for in-flight ones to finish.
//
// Parameters:
//   - ctx: Bounds the wait
//
// Returns:
//   - error: The context error if the grace period ran out
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for _, loc := range s.locations {
			close(loc.quit)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing snapshot store: %w", ctx.Err())
	}
}

// location returns the named location, starting its goroutine on first use.
func (s *Store) location(id string) (*location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if loc, ok := s.locations[id]; ok {
		return loc, nil
	}

	loc := &location{
		state: newState(id),
		reqs:  make(chan request),
		quit:  make(chan struct{}),
	}
	s.locations[id] = loc
	s.wg.Add(1)
	go s.run(loc)
	return loc, nil
}

func (s *Store) submit(ctx context.Context, locationID string, src Source, apply func(*batch)) (Result, error) {
	if locationID == "" {
		return Result{}, fmt.Errorf("%w: empty location id", ErrMalformed)
	}
	loc, err := s.location(locationID)
	if err != nil {
		return Result{}, err
	}

	req := request{source: src, apply: apply, reply: make(chan Result, 1)}
	select {
	case loc.reqs <- req:
	case <-loc.quit:
		return Result{}, ErrClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	// Once accepted the mutation always completes; the caller may stop waiting.
	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// run is the single writer for one location.
func (s *Store) run(loc *location) {
	defer s.wg.Done()
	for {
		select {
		case <-loc.quit:
			return
		case req := <-loc.reqs:
			req.reply <- s.apply(loc, req)
		}
	}
}

func (s *Store) apply(loc *location, req request) Result {
	loc.mu.Lock()
	b := &batch{st: loc.state, now: s.now(), log: s.log}
	req.apply(b)
	b.reaggregate(s.opts.Aggregate, req.source)
	loc.mu.Unlock()

	if b.result.Dropped > 0 {
		s.log.Debug("mutation dropped malformed units",
			"location_id", loc.state.id,
			"source", req.source,
			"dropped", b.result.Dropped,
		)
	}

	if len(b.result.Changes) > 0 && s.opts.Publisher != nil {
		s.opts.Publisher.Publish(loc.state.id, b.result.Changes)
	}
	return b.result
}
