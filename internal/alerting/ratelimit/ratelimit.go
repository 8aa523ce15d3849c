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

// Package ratelimit suppresses duplicate notifications. Each
// (device, sensor, severity) gets at most one allowed send per
// suppression window.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sentinel/internal/alerting/model"
	"sentinel/internal/alerting/telemetry"
)

// fallbackTimeout applies when a severity has no configured window.
const fallbackTimeout = time.Hour

type key struct {
	deviceID string
	sensorID string
	severity model.Severity
}

// Limiter records the last allowed send per key. The timestamp is only
// refreshed on an allow decision, which yields at most one
// notification per window.
type Limiter struct {
	mu       sync.Mutex
	history  map[key]time.Time
	timeouts map[model.Severity]time.Duration
	now      func() time.Time
	log      zerolog.Logger

	sweepInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
	stopped       uint32
}

// New creates a limiter with the given per-severity windows.
func New(timeouts map[model.Severity]time.Duration, log zerolog.Logger) *Limiter {
	return &Limiter{
		history:       make(map[key]time.Time),
		timeouts:      timeouts,
		now:           time.Now,
		log:           log.With().Str("component", "rate_limiter").Logger(),
		sweepInterval: time.Hour,
		stopChan:      make(chan struct{}),
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) timeout(severity model.Severity) time.Duration {
	if t, ok := l.timeouts[severity]; ok && t > 0 {
		return t
	}
	return fallbackTimeout
}

// ShouldSend reports whether a notification for the key is allowed and,
// if so, opens a new suppression window. A deny never touches the
// recorded timestamp.
func (l *Limiter) ShouldSend(deviceID, sensorID string, severity model.Severity) bool {
	k := key{deviceID, sensorID, severity}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	last, seen := l.history[k]
	if !seen || now.Sub(last) >= l.timeout(severity) {
		l.history[k] = now
		return true
	}
	telemetry.RateLimitSuppressed.WithLabelValues(string(severity)).Inc()
	return false
}

// Sweep drops entries older than twice their severity window and
// returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, last := range l.history {
		if now.Sub(last) > 2*l.timeout(k.severity) {
			delete(l.history, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// StartSweeper launches the hourly history sweep.
func (l *Limiter) StartSweeper() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					l.log.Debug().Int("entries", n).Msg("swept stale rate limiter history")
				}
			case <-l.stopChan:
				return
			}
		}
	}()
}

// Stop terminates the sweeper. Safe to call more than once.
func (l *Limiter) Stop() {
	if !atomic.CompareAndSwapUint32(&l.stopped, 0, 1) {
		return
	}
	close(l.stopChan)
	l.wg.Wait()
}
