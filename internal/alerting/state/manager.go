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

// Package state tracks the sustained-breach machine for every
// (device, sensor) pair. Yellow and Orange require a minimum dwell
// above their threshold before a breach fires; Red never enters here.
package state

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sentinel/internal/alerting/model"
)

// levelState is one severity sub-state of a sensor.
//
// Invariants: above == false implies since and breach are zero;
// above == true implies both are set.
type levelState struct {
	above  bool
	since  time.Time
	breach *model.Breach
}

type sensorState struct {
	levels map[model.Severity]*levelState
}

func newSensorState() *sensorState {
	return &sensorState{levels: map[model.Severity]*levelState{
		model.SeverityYellow: {},
		model.SeverityOrange: {},
	}}
}

// Manager holds the per-device sustained-breach state. One mutex guards
// both the state map and the last-access map; every read-modify-write
// sequence (Observe, TakeIfSustained, EvictIdle) runs under it.
type Manager struct {
	mu         sync.Mutex
	states     map[string]map[string]*sensorState // device -> sensor
	lastAccess map[string]time.Time               // device -> last touch
	now        func() time.Time
	log        zerolog.Logger
}

// NewManager creates an empty state manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		states:     make(map[string]map[string]*sensorState),
		lastAccess: make(map[string]time.Time),
		now:        time.Now,
		log:        log.With().Str("component", "device_state").Logger(),
	}
}

// WithClock replaces the time source. Intended for tests that need to
// drive the dwell measurement deterministically.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// sensorLocked returns the state record for a (device, sensor),
// creating it on first observation and refreshing the device's
// last-access stamp. Caller holds m.mu.
func (m *Manager) sensorLocked(deviceID, sensorID string) *sensorState {
	device, ok := m.states[deviceID]
	if !ok {
		device = make(map[string]*sensorState)
		m.states[deviceID] = device
	}
	st, ok := device[sensorID]
	if !ok {
		st = newSensorState()
		device[sensorID] = st
	}
	m.lastAccess[deviceID] = m.now()
	return st
}

// Observe records whether a sensor is above the given warning level.
// On the first above-observation the crossing instant and the breach
// snapshot are captured; re-observations are no-ops so the original
// crossing time keeps measuring the dwell. A below-observation clears
// the sub-state entirely.
func (m *Manager) Observe(deviceID, sensorID string, level model.Severity, above bool, breach *model.Breach) {
	if !level.Valid() || level.Critical() {
		m.log.Error().Str("level", string(level)).Msg("observe called with non-warning level")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.sensorLocked(deviceID, sensorID).levels[level]
	if above {
		if !st.above {
			st.above = true
			st.since = m.now()
			st.breach = breach
		}
		return
	}
	st.above = false
	st.since = time.Time{}
	st.breach = nil
}

// TakeIfSustained atomically consumes and returns the pending breach
// when the sensor has been above the level for at least dwell.
// Consuming clears the sub-state, so the value must drop below the
// threshold and cross again before the same level can fire again.
func (m *Manager) TakeIfSustained(deviceID, sensorID string, level model.Severity, dwell time.Duration) *model.Breach {
	if !level.Valid() || level.Critical() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.sensorLocked(deviceID, sensorID).levels[level]
	if !st.above || st.since.IsZero() || m.now().Sub(st.since) < dwell {
		return nil
	}

	breach := st.breach
	st.above = false
	st.since = time.Time{}
	st.breach = nil
	return breach
}

// EvictIdle removes every device whose state has not been touched for
// longer than maxIdle. It returns the number of devices evicted.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	evicted := 0
	for deviceID, last := range m.lastAccess {
		if now.Sub(last) > maxIdle {
			delete(m.states, deviceID)
			delete(m.lastAccess, deviceID)
			evicted++
		}
	}
	if evicted > 0 {
		m.log.Info().Int("devices", evicted).Msg("evicted stale device state")
	}
	return evicted
}

// DeviceCount reports how many devices currently hold state.
func (m *Manager) DeviceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}
