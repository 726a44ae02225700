package main

import (
	"context"
	"time"

	"github.com/nerrad567/homely-sync/internal/infrastructure/logging"
	"github.com/nerrad567/homely-sync/internal/push"
	"github.com/nerrad567/homely-sync/internal/snapshot"
)

// applyTimeout bounds one store mutation triggered by a push event.
const applyTimeout = 10 * time.Second

// eventStore is the subset of the snapshot store push events mutate.
type eventStore interface {
	ApplyAlarm(ctx context.Context, locationID, raw string, ts time.Time) (snapshot.Result, error)
	ApplyDeltas(ctx context.Context, locationID string, obs []snapshot.Observation) (snapshot.Result, error)
	ApplyConnection(ctx context.Context, locationID string, cs snapshot.ConnectionState, reason string) (snapshot.Result, error)
}

// pushEvents routes decoded push events into the store. Event types the
// store does not understand trigger an immediate poll instead.
type pushEvents struct {
	ctx        context.Context
	locationID string
	store      eventStore
	refresh    func()
	log        *logging.Logger
}

// onMessage is the supervisor's OnMessage callback.
func (p *pushEvents) onMessage(raw []byte) {
	u, err := push.Decode(raw)
	if err != nil {
		p.log.Warn("dropping undecodable push event", "location_id", p.locationID, "error", err)
		return
	}
	if u.Dropped > 0 {
		p.log.Debug("push event contained unusable changes", "type", u.Type, "dropped", u.Dropped)
	}

	if !u.Known() {
		p.log.Debug("unhandled push event, refreshing", "type", u.Type)
		if p.refresh != nil {
			p.refresh()
		}
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, applyTimeout)
	defer cancel()

	switch u.Type {
	case push.EventAlarmStateChanged:
		_, err = p.store.ApplyAlarm(ctx, p.locationID, u.AlarmState, u.AlarmTimestamp)
	case push.EventDeviceStateChanged:
		if len(u.Observations) == 0 {
			return
		}
		_, err = p.store.ApplyDeltas(ctx, p.locationID, u.Observations)
	}
	if err != nil {
		p.log.Warn("applying push event failed", "type", u.Type, "location_id", p.locationID, "error", err)
	}
}

// onState is the supervisor's OnState callback. It mirrors the transition
// into the store so readers and sinks see it in order with data changes.
// The final Disconnected arrives after shutdown cancels p.ctx, so it gets
// a context of its own.
func (p *pushEvents) onState(state snapshot.ConnectionState, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()
	if _, err := p.store.ApplyConnection(ctx, p.locationID, state, reason); err != nil {
		p.log.Debug("recording connection state failed", "state", state, "error", err)
	}
}
