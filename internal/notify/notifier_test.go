package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homely-sync/internal/snapshot"
)

func change(loc, device, capability string, seq uint64) snapshot.Change {
	return snapshot.Change{
		Seq: seq,
		Key: snapshot.Key{LocationID: loc, DeviceID: device, Capability: capability},
	}
}

// collector is a thread-safe handler sink.
type collector struct {
	mu  sync.Mutex
	got []snapshot.Change
	wg  sync.WaitGroup
}

func (c *collector) handle(ch snapshot.Change) {
	c.mu.Lock()
	c.got = append(c.got, ch)
	c.mu.Unlock()
	c.wg.Done()
}

func (c *collector) changes() []snapshot.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]snapshot.Change(nil), c.got...)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
}

func TestFilter_Matches(t *testing.T) {
	key := snapshot.Key{LocationID: "l1", DeviceID: "d1", Capability: "battery_low"}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"wildcard", Filter{}, true},
		{"location", Filter{LocationID: "l1"}, true},
		{"other location", Filter{LocationID: "l2"}, false},
		{"device and capability", Filter{LocationID: "l1", DeviceID: "d1", Capability: "battery_low"}, true},
		{"other capability", Filter{Capability: "temperature"}, false},
		{"synthetic key", Filter{Capability: snapshot.KeyAlarmState}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.filter.Matches(key), tt.name)
	}

	alarm := snapshot.Key{LocationID: "l1", Capability: snapshot.KeyAlarmState}
	assert.True(t, Filter{Capability: snapshot.KeyAlarmState}.Matches(alarm))
	assert.False(t, Filter{DeviceID: "d1"}.Matches(alarm))
}

func TestNotifier_DeliversInOrderPerLocation(t *testing.T) {
	n := New(nil)
	c := &collector{}
	_, err := n.Subscribe("test", Filter{LocationID: "l1"}, c.handle)
	require.NoError(t, err)

	const total = 500
	c.wg.Add(total)
	for i := 1; i <= total; i++ {
		n.Publish("l1", []snapshot.Change{change("l1", "d", "temperature", uint64(i))})
	}
	waitTimeout(t, &c.wg)

	got := c.changes()
	require.Len(t, got, total)
	for i, ch := range got {
		assert.Equal(t, uint64(i+1), ch.Seq)
	}
	require.NoError(t, n.Close(context.Background()))
}

func TestNotifier_FiltersAndUnsubscribe(t *testing.T) {
	n := New(nil)
	defer n.Close(context.Background()) //nolint:errcheck

	alarm := &collector{}
	alarmID, err := n.Subscribe("alarm", Filter{Capability: snapshot.KeyAlarmState}, alarm.handle)
	require.NoError(t, err)

	all := &collector{}
	_, err = n.Subscribe("all", Filter{}, all.handle)
	require.NoError(t, err)

	alarm.wg.Add(1)
	all.wg.Add(2)
	n.Publish("l1", []snapshot.Change{
		change("l1", "", snapshot.KeyAlarmState, 1),
		change("l1", "d1", "temperature", 2),
	})
	waitTimeout(t, &alarm.wg)
	waitTimeout(t, &all.wg)

	assert.Len(t, alarm.changes(), 1)
	assert.Len(t, all.changes(), 2)

	n.Unsubscribe(alarmID)
	all.wg.Add(1)
	n.Publish("l1", []snapshot.Change{change("l1", "", snapshot.KeyAlarmState, 3)})
	waitTimeout(t, &all.wg)
	assert.Len(t, alarm.changes(), 1, "unsubscribed handler must not be called")
	assert.Equal(t, 1, n.Stats().Subscribers)
}

func TestNotifier_SlowLocationDoesNotBlockOthers(t *testing.T) {
	n := New(nil)
	release := make(chan struct{})
	fast := make(chan snapshot.Change, 1)

	_, err := n.Subscribe("blocking", Filter{}, func(ch snapshot.Change) {
		if ch.Key.LocationID == "slow" {
			<-release
			return
		}
		fast <- ch
	})
	require.NoError(t, err)

	n.Publish("slow", []snapshot.Change{change("slow", "d", "x", 1)})
	n.Publish("fast", []snapshot.Change{change("fast", "d", "x", 1)})

	select {
	case ch := <-fast:
		assert.Equal(t, "fast", ch.Key.LocationID)
	case <-time.After(2 * time.Second):
		t.Fatal("fast location starved by slow handler")
	}

	close(release)
	require.NoError(t, n.Close(context.Background()))
}

func TestNotifier_StalledSubscriberDoesNotBlockPublish(t *testing.T) {
	n := New(nil)
	release := make(chan struct{})
	c := &collector{}
	const batches = 1000

	_, err := n.Subscribe("stalled", Filter{}, func(ch snapshot.Change) {
		<-release
		c.handle(ch)
	})
	require.NoError(t, err)
	c.wg.Add(batches)

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 1; i <= batches; i++ {
			n.Publish("l1", []snapshot.Change{change("l1", "d", "x", uint64(i))})
		}
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked behind a stalled subscriber")
	}

	stats := n.Stats()
	assert.Equal(t, uint64(batches), stats.Published)
	assert.Positive(t, stats.Pending)

	close(release)
	waitTimeout(t, &c.wg)
	require.NoError(t, n.Close(context.Background()))

	got := c.changes()
	require.Len(t, got, batches)
	for i, ch := range got {
		assert.Equal(t, uint64(i+1), ch.Seq)
	}
	assert.Zero(t, n.Stats().Pending)
}

func TestNotifier_RecoversHandlerPanic(t *testing.T) {
	n := New(nil)
	c := &collector{}

	_, err := n.Subscribe("panicky", Filter{}, func(ch snapshot.Change) {
		if ch.Seq == 1 {
			panic("boom")
		}
	})
	require.NoError(t, err)
	_, err = n.Subscribe("steady", Filter{}, c.handle)
	require.NoError(t, err)

	c.wg.Add(2)
	n.Publish("l1", []snapshot.Change{change("l1", "d", "x", 1), change("l1", "d", "x", 2)})
	waitTimeout(t, &c.wg)
	require.NoError(t, n.Close(context.Background()))

	assert.Equal(t, uint64(1), n.Stats().HandlerPanics)
	assert.Len(t, c.changes(), 2)
}

func TestNotifier_CloseDrainsAndRejects(t *testing.T) {
	n := New(nil)
	var mu sync.Mutex
	count := 0
	_, err := n.Subscribe("count", Filter{}, func(snapshot.Change) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		n.Publish(fmt.Sprintf("l%d", i%3), []snapshot.Change{change("l", "d", "x", uint64(i))})
	}
	require.NoError(t, n.Close(context.Background()))

	mu.Lock()
	assert.Equal(t, 10, count, "queued batches are delivered before Close returns")
	mu.Unlock()

	n.Publish("l0", []snapshot.Change{change("l0", "d", "x", 99)})
	_, err = n.Subscribe("late", Filter{}, func(snapshot.Change) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, uint64(10), n.Stats().Published)
}

func TestNotifier_NilHandler(t *testing.T) {
	n := New(nil)
	_, err := n.Subscribe("nil", Filter{}, nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}
