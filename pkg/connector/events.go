// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"go.mau.fi/util/exhttp"

	"github.com/aiku/moodle-rocketchat/pkg/moodle"
)

// maxEventBodySize is the maximum allowed request body for event delivery (1 MB).
const maxEventBodySize = 1 << 20

// EventHandler handles one Moodle event. Observer implements it.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt *moodle.Event) (bool, error)
}

var _ EventHandler = (*Observer)(nil)

var ErrInvalidEventPayload = errors.New("payload is not a JSON event object or array of events")

// DecodeEvents parses a webhook or NATS payload holding a single event
// object or an array of them.
func DecodeEvents(body []byte) ([]*moodle.Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidEventPayload
	}
	parsed := gjson.ParseBytes(body)
	switch {
	case parsed.IsArray():
		var events []*moodle.Event
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEventPayload, err)
		}
		for i, evt := range events {
			if evt == nil || evt.EventName == "" {
				return nil, fmt.Errorf("%w: event %d has no eventname", ErrInvalidEventPayload, i)
			}
		}
		return events, nil
	case parsed.IsObject():
		var evt moodle.Event
		if err := json.Unmarshal(body, &evt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidEventPayload, err)
		}
		if evt.EventName == "" {
			return nil, fmt.Errorf("%w: missing eventname", ErrInvalidEventPayload)
		}
		return []*moodle.Event{&evt}, nil
	default:
		return nil, ErrInvalidEventPayload
	}
}

// dispatchEvents hands events to the handler in order and returns how many
// were recognised. Handler errors are logged by the handler and do not stop
// the batch.
func (c *Connector) dispatchEvents(ctx context.Context, source string, events []*moodle.Event) int {
	handled := 0
	for _, evt := range events {
		ok, _ := c.Events.HandleEvent(ctx, evt)
		if ok {
			handled++
		}
	}
	c.handledEvents.Add(int64(handled))
	if handled > 0 {
		c.Log.Debug().
			Str("source", source).
			Int("received", len(events)).
			Int("handled", handled).
			Msg("Dispatched Moodle events")
	}
	return handled
}

// HandleEvents is an HTTP handler for POST /api/events. It accepts one event
// or an array of events and dispatches them synchronously.
func (c *Connector) HandleEvents(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEventBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	events, err := DecodeEvents(body)
	if err != nil {
		c.Log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected event payload")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	handled := c.dispatchEvents(r.Context(), "webhook", events)
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]int{"handled": handled})
}
