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

// Package classifier maps incoming sensor readings onto breaches.
// Red fires immediately on the first sample at or above the red level;
// Orange and Yellow must sustain their level for a configured dwell
// before a warning breach is emitted.
package classifier

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sentinel/internal/alerting/model"
	"sentinel/internal/alerting/queue"
	"sentinel/internal/alerting/state"
	"sentinel/internal/alerting/telemetry"
)

// Catalog is the lookup surface the classifier needs; *store.Catalog
// satisfies it.
type Catalog interface {
	Thresholds(ctx context.Context, deviceID, sensorID string) (model.Thresholds, error)
	EntityNames(ctx context.Context, deviceID string) (model.EntityNames, error)
}

// Config carries the classifier's dwell settings.
type Config struct {
	YellowDwell time.Duration
	OrangeDwell time.Duration
}

// Classifier is the only producer for the breach queues. It is safe to
// run concurrently across distinct (device, sensor) keys; racing on the
// same key coalesces into last-writer-wins state, which is acceptable
// for point-in-time snapshots.
type Classifier struct {
	catalog  Catalog
	state    *state.Manager
	critical *queue.Queue
	warning  *queue.Queue
	cfg      Config
	log      zerolog.Logger
}

// New creates a classifier feeding the given queues.
func New(catalog Catalog, st *state.Manager, critical, warning *queue.Queue, cfg Config, log zerolog.Logger) *Classifier {
	return &Classifier{
		catalog:  catalog,
		state:    st,
		critical: critical,
		warning:  warning,
		cfg:      cfg,
		log:      log.With().Str("component", "classifier").Logger(),
	}
}

// Classify evaluates every reading of an event against its thresholds.
// Malformed readings and readings without configured thresholds are
// logged and skipped; the rest of the event still processes.
func (c *Classifier) Classify(ctx context.Context, ev model.ReadingsEvent) {
	c.log.Debug().
		Str("device", ev.DeviceID).
		Int("readings", len(ev.Readings)).
		Msg("checking thresholds")

	for _, reading := range ev.Readings {
		value, err := reading.Float()
		if err != nil {
			c.log.Debug().Err(err).Str("device", ev.DeviceID).Msg("malformed reading skipped")
			continue
		}

		th, err := c.catalog.Thresholds(ctx, ev.DeviceID, reading.SensorID)
		if err != nil {
			c.log.Error().Err(err).
				Str("device", ev.DeviceID).
				Str("sensor", reading.SensorID).
				Msg("failed to get thresholds")
			continue
		}

		// First-match ladder, compared with >=. A value at a higher
		// tier only observes that tier: an orange-level value resets
		// nothing below it this tick, by the elif structure.
		switch {
		case value >= th.Red:
			// Red is stateless: fire on the first sample, leave the
			// sustained state untouched.
			b := c.makeBreach(ctx, ev, reading, value, model.SeverityRed, th.Red)
			if c.critical.TryEnqueue(b) {
				telemetry.BreachesTotal.WithLabelValues(string(model.SeverityRed)).Inc()
				c.log.Info().
					Str("device", ev.DeviceID).
					Str("sensor", reading.SensorID).
					Float64("value", value).
					Msg("red threshold breach detected")
			}

		case value >= th.Orange:
			b := c.makeBreach(ctx, ev, reading, value, model.SeverityOrange, th.Orange)
			c.observeSustained(ev.DeviceID, reading.SensorID, model.SeverityOrange, b, c.cfg.OrangeDwell)

		case value >= th.Yellow:
			b := c.makeBreach(ctx, ev, reading, value, model.SeverityYellow, th.Yellow)
			c.observeSustained(ev.DeviceID, reading.SensorID, model.SeverityYellow, b, c.cfg.YellowDwell)

		default:
			c.state.Observe(ev.DeviceID, reading.SensorID, model.SeverityYellow, false, nil)
			c.state.Observe(ev.DeviceID, reading.SensorID, model.SeverityOrange, false, nil)
		}
	}
}

// observeSustained records the above-observation and emits the pending
// breach when the dwell has been reached. On the very first
// above-reading the crossing instant is just being set, so the dwell
// cannot fire in the same call.
func (c *Classifier) observeSustained(deviceID, sensorID string, level model.Severity, b *model.Breach, dwell time.Duration) {
	c.state.Observe(deviceID, sensorID, level, true, b)

	fired := c.state.TakeIfSustained(deviceID, sensorID, level, dwell)
	if fired == nil {
		return
	}
	if c.warning.TryEnqueue(fired) {
		telemetry.BreachesTotal.WithLabelValues(string(level)).Inc()
		c.log.Info().
			Str("device", deviceID).
			Str("sensor", sensorID).
			Str("severity", string(level)).
			Msg("sustained breach detected")
	}
}

// makeBreach snapshots a breach record with the device's naming
// context. Entity resolution failures fall back to the Unknown
// placeholders rather than losing the breach.
func (c *Classifier) makeBreach(ctx context.Context, ev model.ReadingsEvent, r model.Reading, value float64, severity model.Severity, threshold float64) *model.Breach {
	names, err := c.catalog.EntityNames(ctx, ev.DeviceID)
	if err != nil {
		c.log.Error().Err(err).Str("device", ev.DeviceID).Msg("failed to resolve entity names")
		names = model.UnknownEntityNames
	}
	return &model.Breach{
		DeviceID:       ev.DeviceID,
		SensorID:       r.SensorID,
		FactoryName:    names.Factory,
		ZoneName:       names.Zone,
		MachineName:    names.Machine,
		SensorType:     r.SensorType,
		SensorValue:    value,
		Timestamp:      string(ev.Time),
		Severity:       severity,
		ThresholdValue: threshold,
	}
}
