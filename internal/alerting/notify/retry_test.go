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

package notify

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestScheduler(send SendFunc) (*RetryScheduler, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRetryScheduler(send, 3, zerolog.Nop())
	r.now = clk.now
	return r, clk
}

func TestRetry_NotDueStaysQueued(t *testing.T) {
	sends := 0
	r, clk := newTestScheduler(func([]string, string, string) error {
		sends++
		return nil
	})

	r.Enqueue([]string{"a@x.com"}, "subj", "body")
	r.runCycle()
	if sends != 0 {
		t.Fatal("message sent before its retry delay elapsed")
	}

	clk.advance(retryDelay)
	r.runCycle()
	if sends != 1 {
		t.Fatalf("sends %d after delay, want 1", sends)
	}
	if r.Len() != 0 {
		t.Fatalf("queue length %d after success, want 0", r.Len())
	}
}

func TestRetry_AbandonsAfterMaxAttempts(t *testing.T) {
	sends := 0
	r, clk := newTestScheduler(func([]string, string, string) error {
		sends++
		return errors.New("relay down")
	})

	r.Enqueue([]string{"a@x.com"}, "subj", "body")

	// Each cycle after the delay performs one attempt; after the third
	// failure the message is dropped, never retried again.
	for i := 0; i < 6; i++ {
		clk.advance(retryDelay)
		r.runCycle()
	}

	if sends != 3 {
		t.Fatalf("attempts %d, want exactly 3", sends)
	}
	if r.Len() != 0 {
		t.Fatalf("queue length %d after abandonment, want 0", r.Len())
	}
}

func TestRetry_SuccessAfterFailure(t *testing.T) {
	sends := 0
	r, clk := newTestScheduler(func([]string, string, string) error {
		sends++
		if sends == 1 {
			return errors.New("transient")
		}
		return nil
	})

	r.Enqueue([]string{"a@x.com"}, "subj", "body")
	clk.advance(retryDelay)
	r.runCycle() // fails, requeued
	clk.advance(retryDelay)
	r.runCycle() // succeeds

	if sends != 2 {
		t.Fatalf("attempts %d, want 2", sends)
	}
	if r.Len() != 0 {
		t.Fatalf("queue length %d, want 0", r.Len())
	}
}

func TestRetry_DueOrderByNextTry(t *testing.T) {
	var mu sync.Mutex
	var order []string
	r, clk := newTestScheduler(func(recipients []string, _, _ string) error {
		mu.Lock()
		order = append(order, recipients[0])
		mu.Unlock()
		return nil
	})

	r.Enqueue([]string{"first@x.com"}, "s", "b")
	clk.advance(time.Second)
	r.Enqueue([]string{"second@x.com"}, "s", "b")

	clk.advance(retryDelay)
	r.runCycle()

	if len(order) != 2 || order[0] != "first@x.com" || order[1] != "second@x.com" {
		t.Fatalf("delivery order %v", order)
	}
}

func TestRetry_StopIsIdempotent(t *testing.T) {
	r, _ := newTestScheduler(func([]string, string, string) error { return nil })
	r.Start()
	r.Stop()
	r.Stop()
}
