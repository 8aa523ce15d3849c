// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport subscribes to the tenant-scoped reading streams on
// the event bus. One subject per company id; handlers run on the
// client library's delivery goroutines, so the downstream pipeline must
// be safe for concurrent invocation.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"sentinel/internal/alerting/model"
)

// subjectPrefix scopes reading streams per company:
// readings.<company_id>.
const subjectPrefix = "readings."

// EventHandler receives each decoded readings event.
type EventHandler func(ctx context.Context, ev model.ReadingsEvent)

// Ingress owns the bus connection and the per-company subscriptions.
// Reconnection is the client library's concern; the service does not
// implement its own policy.
type Ingress struct {
	conn    *nats.Conn
	subs    []*nats.Subscription
	handler EventHandler
	log     zerolog.Logger
}

// Connect dials the event bus. Startup fails when the bus is
// unreachable after the initial attempts; after that the client
// reconnects forever on its own.
func Connect(url string, handler EventHandler, log zerolog.Logger) (*Ingress, error) {
	lg := log.With().Str("component", "ingress").Logger()

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			lg.Error().Err(err).Msg("disconnected from event bus")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			lg.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to event bus")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", url, err)
	}
	lg.Info().Str("url", url).Msg("connected to event bus")

	return &Ingress{conn: conn, handler: handler, log: lg}, nil
}

// Subscribe registers one reading-stream subscription per company id.
func (i *Ingress) Subscribe(companyIDs []string) error {
	for _, id := range companyIDs {
		subject := subjectPrefix + id
		sub, err := i.conn.Subscribe(subject, i.onMessage)
		if err != nil {
			return fmt.Errorf("transport: subscribe %s: %w", subject, err)
		}
		i.subs = append(i.subs, sub)
	}
	i.log.Info().Int("companies", len(companyIDs)).Msg("listening on company reading streams")
	return nil
}

// onMessage decodes and dispatches one event. Malformed events are
// logged and dropped; they never stall the stream.
func (i *Ingress) onMessage(msg *nats.Msg) {
	var ev model.ReadingsEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		i.log.Debug().Err(err).Str("subject", msg.Subject).Msg("malformed event dropped")
		return
	}
	if ev.DeviceID == "" || len(ev.Readings) == 0 {
		i.log.Debug().Str("subject", msg.Subject).Msg("event missing device or readings, dropped")
		return
	}
	i.log.Debug().Str("subject", msg.Subject).Str("device", ev.DeviceID).Msg("received new readings")
	i.handler(context.Background(), ev)
}

// Close drains the subscriptions and closes the connection. Call
// before stopping the downstream workers so in-flight events get a
// final drain cycle.
func (i *Ingress) Close() {
	for _, sub := range i.subs {
		_ = sub.Unsubscribe()
	}
	if i.conn != nil {
		i.conn.Close()
	}
	i.log.Info().Msg("disconnected from event bus")
}
