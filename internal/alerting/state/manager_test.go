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

package state

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sentinel/internal/alerting/model"
)

// fakeClock is a settable time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager() (*Manager, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)}
	return NewManager(zerolog.Nop()).WithClock(clk.now), clk
}

func breach(severity model.Severity) *model.Breach {
	return &model.Breach{DeviceID: "dev-1", SensorID: "s1", Severity: severity}
}

func TestTakeIfSustained_FiresOnlyAfterDwell(t *testing.T) {
	m, clk := newTestManager()
	dwell := 10 * time.Second

	m.Observe("dev-1", "s1", model.SeverityYellow, true, breach(model.SeverityYellow))
	if got := m.TakeIfSustained("dev-1", "s1", model.SeverityYellow, dwell); got != nil {
		t.Fatal("breach fired at the crossing instant")
	}

	clk.advance(9 * time.Second)
	if got := m.TakeIfSustained("dev-1", "s1", model.SeverityYellow, dwell); got != nil {
		t.Fatal("breach fired before dwell elapsed")
	}

	clk.advance(time.Second)
	got := m.TakeIfSustained("dev-1", "s1", model.SeverityYellow, dwell)
	if got == nil {
		t.Fatal("breach did not fire after dwell elapsed")
	}
	if got.Severity != model.SeverityYellow {
		t.Fatalf("wrong breach severity %q", got.Severity)
	}
}

func TestTakeIfSustained_ConsumesOnFire(t *testing.T) {
	m, clk := newTestManager()

	m.Observe("dev-1", "s1", model.SeverityOrange, true, breach(model.SeverityOrange))
	clk.advance(5 * time.Second)
	if m.TakeIfSustained("dev-1", "s1", model.SeverityOrange, 5*time.Second) == nil {
		t.Fatal("expected breach to fire")
	}

	// Consumed state must not re-fire without a fresh crossing.
	clk.advance(time.Hour)
	if m.TakeIfSustained("dev-1", "s1", model.SeverityOrange, 5*time.Second) != nil {
		t.Fatal("consumed breach fired again")
	}
}

func TestObserve_ReobservationKeepsCrossingInstant(t *testing.T) {
	m, clk := newTestManager()
	dwell := 10 * time.Second

	first := breach(model.SeverityYellow)
	m.Observe("dev-1", "s1", model.SeverityYellow, true, first)

	// A later above-observation must not restart the dwell clock or
	// replace the pending breach snapshot.
	clk.advance(6 * time.Second)
	m.Observe("dev-1", "s1", model.SeverityYellow, true, breach(model.SeverityYellow))

	clk.advance(4 * time.Second)
	got := m.TakeIfSustained("dev-1", "s1", model.SeverityYellow, dwell)
	if got != first {
		t.Fatal("expected the original crossing snapshot after 10s total above")
	}
}

func TestObserve_BelowResetsDwell(t *testing.T) {
	m, clk := newTestManager()
	dwell := 10 * time.Second

	m.Observe("dev-1", "s1", model.SeverityYellow, true, breach(model.SeverityYellow))
	clk.advance(9 * time.Second)
	m.Observe("dev-1", "s1", model.SeverityYellow, false, nil)

	// Crossing again starts a fresh dwell measurement.
	m.Observe("dev-1", "s1", model.SeverityYellow, true, breach(model.SeverityYellow))
	clk.advance(9 * time.Second)
	if m.TakeIfSustained("dev-1", "s1", model.SeverityYellow, dwell) != nil {
		t.Fatal("breach fired though the streak was broken")
	}
	clk.advance(time.Second)
	if m.TakeIfSustained("dev-1", "s1", model.SeverityYellow, dwell) == nil {
		t.Fatal("breach did not fire after a full fresh dwell")
	}
}

func TestObserve_LevelsAreIndependent(t *testing.T) {
	m, clk := newTestManager()

	m.Observe("dev-1", "s1", model.SeverityYellow, true, breach(model.SeverityYellow))
	m.Observe("dev-1", "s1", model.SeverityOrange, true, breach(model.SeverityOrange))
	clk.advance(5 * time.Second)

	if m.TakeIfSustained("dev-1", "s1", model.SeverityOrange, 5*time.Second) == nil {
		t.Fatal("orange did not fire at its own dwell")
	}
	// Yellow keeps measuring independently of the orange consume.
	clk.advance(5 * time.Second)
	if m.TakeIfSustained("dev-1", "s1", model.SeverityYellow, 10*time.Second) == nil {
		t.Fatal("yellow did not fire at its own dwell")
	}
}

func TestTakeIfSustained_RejectsNonWarningLevel(t *testing.T) {
	m, _ := newTestManager()
	for _, level := range []model.Severity{model.SeverityRed, model.Severity("purple")} {
		m.Observe("dev-1", "s1", level, true, breach(level))
		if m.DeviceCount() != 0 {
			t.Fatalf("%s observation must not create state", level)
		}
		if m.TakeIfSustained("dev-1", "s1", level, 0) != nil {
			t.Fatalf("%s must never fire from the sustained machine", level)
		}
	}
}

func TestEvictIdle(t *testing.T) {
	m, clk := newTestManager()

	m.Observe("dev-old", "s1", model.SeverityYellow, true, breach(model.SeverityYellow))
	clk.advance(2 * time.Hour)
	m.Observe("dev-new", "s1", model.SeverityYellow, true, breach(model.SeverityYellow))

	if n := m.EvictIdle(time.Hour); n != 1 {
		t.Fatalf("evicted %d devices, want 1", n)
	}
	if m.DeviceCount() != 1 {
		t.Fatalf("device count %d after eviction, want 1", m.DeviceCount())
	}

	// The evicted device starts over with a fresh dwell.
	m.Observe("dev-old", "s1", model.SeverityYellow, true, breach(model.SeverityYellow))
	if m.TakeIfSustained("dev-old", "s1", model.SeverityYellow, 10*time.Second) != nil {
		t.Fatal("evicted device retained its crossing instant")
	}
}
