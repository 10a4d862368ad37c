// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const natsDrainTimeout = 30 * time.Second

// SubscribeNATS receives Moodle events published on subject, one JSON event
// (or array of events) per message. With a queue group, several instances
// share the stream. It blocks until ctx is cancelled, then drains the
// connection and waits for in-flight messages to be handled.
func (c *Connector) SubscribeNATS(ctx context.Context, url, subject, queue string) error {
	if subject == "" {
		return errors.New("nats subject is empty")
	}
	log := c.Log.With().Str("component", "nats").Str("subject", subject).Logger()
	closed := make(chan struct{})
	nc, err := nats.Connect(url,
		nats.Name("moodle-rocketchat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DrainTimeout(natsDrainTimeout),
		nats.ClosedHandler(func(*nats.Conn) {
			close(closed)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	handler := c.natsMessageHandler(ctx)
	if queue != "" {
		_, err = nc.QueueSubscribe(subject, queue, handler)
	} else {
		_, err = nc.Subscribe(subject, handler)
	}
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	log.Info().Str("url", nc.ConnectedUrl()).Str("queue", queue).Msg("Subscribed to NATS events")

	<-ctx.Done()
	if err = nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("Failed to drain NATS connection")
		nc.Close()
	}
	select {
	case <-closed:
	case <-time.After(natsDrainTimeout + time.Second):
		log.Warn().Msg("Timed out waiting for NATS drain")
	}
	log.Info().Msg("NATS subscriber stopped")
	return nil
}

// natsMessageHandler handles messages with a context that outlives ctx, so
// messages delivered while the subscription drains are still processed.
func (c *Connector) natsMessageHandler(ctx context.Context) nats.MsgHandler {
	handlerCtx := context.WithoutCancel(ctx)
	return func(msg *nats.Msg) {
		c.handleNATSMessage(handlerCtx, msg)
	}
}

func (c *Connector) handleNATSMessage(ctx context.Context, msg *nats.Msg) {
	events, err := DecodeEvents(msg.Data)
	if err != nil {
		c.Log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping invalid NATS event payload")
		return
	}
	c.dispatchEvents(ctx, "nats", events)
}
