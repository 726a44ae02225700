package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nerrad567/homely-sync/internal/snapshot"
)

// Handler receives one change. It runs on the location's dispatcher
// goroutine; a panic is recovered and logged.
type Handler func(change snapshot.Change)

// Filter selects changes. Empty fields match anything.
type Filter struct {
	LocationID string
	DeviceID   string
	Capability string
}

// Matches reports whether the filter selects key.
func (f Filter) Matches(key snapshot.Key) bool {
	if f.LocationID != "" && f.LocationID != key.LocationID {
		return false
	}
	if f.DeviceID != "" && f.DeviceID != key.DeviceID {
		return false
	}
	if f.Capability != "" && f.Capability != key.Capability {
		return false
	}
	return true
}

// Logger is the logging surface the Notifier needs.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// Stats is a snapshot of delivery counters.
type Stats struct {
	Published     uint64 `json:"published"`
	Delivered     uint64 `json:"delivered"`
	HandlerPanics uint64 `json:"handler_panics"`
	Pending       int64  `json:"pending"` // published but not yet dispatched
	Subscribers   int    `json:"subscribers"`
}

type subscriber struct {
	id      string
	name    string
	filter  Filter
	handler Handler
}

// queue is an unbounded FIFO of batches for one location. Publish never
// waits on consumers; memory is the only limit on a stalled subscriber.
type queue struct {
	mu      sync.Mutex
	batches [][]snapshot.Change
	closed  bool
	signal  chan struct{} // capacity 1, wakes the dispatcher
}

// push appends a batch and reports false once the queue is closed.
func (q *queue) push(changes []snapshot.Change) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.batches = append(q.batches, changes)
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// take removes every queued batch.
func (q *queue) take() (batches [][]snapshot.Change, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	batches, q.batches = q.batches, nil
	return batches, q.closed
}

// Notifier delivers change batches to subscribers in per-location order.
//
// Thread Safety: All methods are safe for concurrent use.
type Notifier struct {
	log Logger

	subMu sync.RWMutex
	subs  map[string]*subscriber

	qMu    sync.Mutex
	queues map[string]*queue
	closed bool
	wg     sync.WaitGroup

	published     atomic.Uint64
	delivered     atomic.Uint64
	handlerPanics atomic.Uint64
	pending       atomic.Int64
}

// New creates a Notifier. A nil logger discards output.
func New(logger Logger) *Notifier {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Notifier{
		log:    logger,
		subs:   make(map[string]*subscriber),
		queues: make(map[string]*queue),
	}
}

// Subscribe registers handler for changes selected by filter.
//
// Parameters:
//   - name: Label used in logs (e.g. "mqtt", "history")
//   - filter: Which changes to deliver
//   - handler: Callback, invoked sequentially per location
//
// Returns:
//   - string: Subscription id for Unsubscribe
//   - error: ErrNilHandler or ErrClosed
func (n *Notifier) Subscribe(name string, filter Filter, handler Handler) (string, error) {
	if handler == nil {
		return "", ErrNilHandler
	}
	n.qMu.Lock()
	closed := n.closed
	n.qMu.Unlock()
	if closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	n.subMu.Lock()
	n.subs[id] = &subscriber{id: id, name: name, filter: filter, handler: handler}
	n.subMu.Unlock()
	return id, nil
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (n *Notifier) Unsubscribe(id string) {
	n.subMu.Lock()
	delete(n.subs, id)
	n.subMu.Unlock()
}

// Publish enqueues a batch for a location. It implements snapshot.Publisher.
// It never blocks on subscribers, and drops the batch once the Notifier is
// closed.
func (n *Notifier) Publish(locationID string, changes []snapshot.Change) {
	if len(changes) == 0 {
		return
	}

	n.qMu.Lock()
	if n.closed {
		n.qMu.Unlock()
		n.log.Debug("notifier closed, dropping batch", "location_id", locationID, "changes", len(changes))
		return
	}
	q, ok := n.queues[locationID]
	if !ok {
		q = &queue{signal: make(chan struct{}, 1)}
		n.queues[locationID] = q
		n.wg.Add(1)
		go n.dispatch(locationID, q)
	}
	n.qMu.Unlock()

	n.pending.Add(int64(len(changes)))
	if !q.push(changes) {
		n.pending.Add(-int64(len(changes)))
		return
	}
	n.published.Add(uint64(len(changes)))
}

// Close stops accepting batches and waits for queued ones to be delivered.
//
// Parameters:
//   - ctx: Bounds the drain
//
// Returns:
//   - error: The context error if delivery did not finish in time
func (n *Notifier) Close(ctx context.Context) error {
	n.qMu.Lock()
	var queues []*queue
	if !n.closed {
		n.closed = true
		for _, q := range n.queues {
			queues = append(queues, q)
		}
	}
	n.qMu.Unlock()

	for _, q := range queues {
		q.close()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining notifier: %w", ctx.Err())
	}
}

// Stats returns delivery counters.
func (n *Notifier) Stats() Stats {
	n.subMu.RLock()
	subs := len(n.subs)
	n.subMu.RUnlock()
	return Stats{
		Published:     n.published.Load(),
		Delivered:     n.delivered.Load(),
		HandlerPanics: n.handlerPanics.Load(),
		Pending:       n.pending.Load(),
		Subscribers:   subs,
	}
}

func (n *Notifier) dispatch(locationID string, q *queue) {
	defer n.wg.Done()
	for {
		batches, closed := q.take()
		if len(batches) == 0 {
			if closed {
				return
			}
			<-q.signal
			continue
		}
		for _, batch := range batches {
			subs := n.snapshotSubscribers()
			for _, change := range batch {
				for _, sub := range subs {
					if sub.filter.Matches(change.Key) {
						n.deliver(locationID, sub, change)
					}
				}
			}
			n.pending.Add(-int64(len(batch)))
		}
	}
}

func (n *Notifier) snapshotSubscribers() []*subscriber {
	n.subMu.RLock()
	defer n.subMu.RUnlock()
	out := make([]*subscriber, 0, len(n.subs))
	for _, s := range n.subs {
		out = append(out, s)
	}
	return out
}

func (n *Notifier) deliver(locationID string, sub *subscriber, change snapshot.Change) {
	defer func() {
		if r := recover(); r != nil {
			n.handlerPanics.Add(1)
			n.log.Error("notification handler panic recovered",
				"subscriber", sub.name,
				"location_id", locationID,
				"key", change.Key.String(),
				"panic", r,
			)
		}
	}()
	sub.handler(change)
	n.delivered.Add(1)
}
