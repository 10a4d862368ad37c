// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/aiku/moodle-rocketchat/pkg/moodle"
)

func TestHandleNATSMessage(t *testing.T) {
	t.Parallel()
	handler := newCountingHandler(HandledEvents...)
	c := newTestConnector(nil, handler)

	c.handleNATSMessage(context.Background(), &nats.Msg{Subject: "moodle.events", Data: []byte(roleAssignedJSON)})
	c.handleNATSMessage(context.Background(), &nats.Msg{Subject: "moodle.events", Data: []byte(`not json`)})
	c.handleNATSMessage(context.Background(), &nats.Msg{
		Subject: "moodle.events",
		Data:    []byte(`[{"eventname":"\\core\\event\\user_deleted","other":{"username":"bob"}},{"eventname":"\\core\\event\\course_viewed"}]`),
	})

	events := handler.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 dispatched events, got %d", len(events))
	}
	if events[0].EventName != moodle.EventRoleAssigned || events[1].EventName != moodle.EventUserDeleted {
		t.Errorf("unexpected events %s, %s", events[0].EventName, events[1].EventName)
	}
	if c.HandledEventCount() != 2 {
		t.Errorf("expected 2 handled events, got %d", c.HandledEventCount())
	}
}

func TestNATSMessageHandler_AfterCancel(t *testing.T) {
	t.Parallel()
	handler := newCountingHandler(HandledEvents...)
	c := newTestConnector(nil, handler)

	ctx, cancel := context.WithCancel(context.Background())
	handle := c.natsMessageHandler(ctx)
	cancel()
	handle(&nats.Msg{Subject: "moodle.events", Data: []byte(roleAssignedJSON)})

	errs := handler.ContextErrors()
	if len(errs) != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", len(errs))
	}
	if errs[0] != nil {
		t.Errorf("expected a live context while draining, got %v", errs[0])
	}
	if c.HandledEventCount() != 1 {
		t.Errorf("expected 1 handled event, got %d", c.HandledEventCount())
	}
}

func TestSubscribeNATS_Errors(t *testing.T) {
	t.Parallel()
	c := newTestConnector(nil, newCountingHandler())

	if err := c.SubscribeNATS(context.Background(), nats.DefaultURL, "", ""); err == nil {
		t.Error("expected error for empty subject")
	}
	if err := c.SubscribeNATS(context.Background(), "nats://127.0.0.1:1", "moodle.events", ""); err == nil {
		t.Error("expected error when no server is listening")
	}
}
