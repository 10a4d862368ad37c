// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"time"

	"github.com/aiku/moodle-rocketchat/pkg/moodle"
)

// EventLog is the part of the Moodle store the log watcher polls.
type EventLog interface {
	MaxLogID(ctx context.Context) (int64, error)
	GetLogEvents(ctx context.Context, afterID int64, eventNames []string, limit int) ([]*moodle.Event, error)
}

var _ EventLog = (*moodle.Store)(nil)

// logCursor tracks the poller position. Entries above floor and at most
// lookback ids below last are re-read on every poll; seen holds the ids of
// that window already dispatched.
type logCursor struct {
	floor    int64
	last     int64
	lookback int64
	seen     map[int64]struct{}
}

func newLogCursor(start int64, lookback int) *logCursor {
	return &logCursor{
		floor:    start,
		last:     start,
		lookback: int64(lookback),
		seen:     make(map[int64]struct{}),
	}
}

// from is the afterID of the next query.
func (lc *logCursor) from() int64 {
	return max(lc.floor, lc.last-lc.lookback)
}

// take filters out already dispatched entries, records up to limit new ones
// and returns them.
func (lc *logCursor) take(events []*moodle.Event, limit int) []*moodle.Event {
	fresh := make([]*moodle.Event, 0, min(len(events), limit))
	for _, evt := range events {
		if len(fresh) >= limit {
			break
		}
		if evt.ID <= lc.floor {
			continue
		}
		if _, ok := lc.seen[evt.ID]; ok {
			continue
		}
		fresh = append(fresh, evt)
		lc.seen[evt.ID] = struct{}{}
		lc.last = max(lc.last, evt.ID)
	}
	for id := range lc.seen {
		if id <= lc.from() {
			delete(lc.seen, id)
		}
	}
	return fresh
}

// WatchEventLog polls Moodle's standard logstore and dispatches new events
// in id order. It starts after logstore.start_id, or after the newest entry
// present at startup when start_id is 0. Entries that commit out of id order
// are picked up while they are within logstore.lookback ids of the newest
// dispatched entry.
//
// The interval parameter controls how often the check runs. Pass 0 to use
// the configured logstore.interval.
func (c *Connector) WatchEventLog(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Duration(c.Config.Logstore.Interval) * time.Second
	}
	start := c.Config.Logstore.StartID
	if start <= 0 {
		var err error
		if start, err = c.EventLog.MaxLogID(ctx); err != nil {
			return err
		}
	}
	cursor := newLogCursor(start, c.Config.Logstore.Lookback)

	c.Log.Info().
		Dur("interval", interval).
		Int64("after_id", start).
		Int("lookback", c.Config.Logstore.Lookback).
		Msg("Starting event log watcher")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Log.Info().Int64("last_id", cursor.last).Msg("Event log watcher stopped")
			return nil
		case <-ticker.C:
			c.pollEventLog(ctx, cursor)
		}
	}
}

// pollEventLog dispatches one batch of log entries not yet seen by cursor.
func (c *Connector) pollEventLog(ctx context.Context, cursor *logCursor) {
	batch := c.Config.Logstore.BatchSize
	afterID := cursor.from()
	// The window below last holds at most lookback rows, so the query always
	// reaches up to batch entries past it.
	limit := batch + int(cursor.last-afterID)
	events, err := c.EventLog.GetLogEvents(ctx, afterID, HandledEvents, limit)
	if err != nil {
		c.Log.Err(err).Int64("after_id", afterID).Msg("Failed to read event log")
		return
	}
	prevLast := cursor.last
	fresh := cursor.take(events, batch)
	if len(fresh) == 0 {
		return
	}
	for _, evt := range fresh {
		if evt.ID < prevLast {
			c.Log.Debug().Int64("log_id", evt.ID).Msg("Picked up late event log entry")
		}
	}
	c.dispatchEvents(ctx, "logstore", fresh)
}
