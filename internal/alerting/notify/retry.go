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
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sentinel/internal/alerting/telemetry"
)

const (
	// retryDelay spaces successive attempts for one message.
	retryDelay = 30 * time.Second
	// pollInterval is the idle wait when nothing is due.
	pollInterval = 5 * time.Second
)

// retryMessage is one scheduled re-delivery.
type retryMessage struct {
	id         string
	recipients []string
	subject    string
	body       string
	attempt    int
	nextTry    time.Time
}

// retryHeap orders messages by nextTry so the worker never starves a
// later-scheduled item behind an earlier-but-not-due one.
type retryHeap []*retryMessage

func (h retryHeap) Len() int           { return len(h) }
func (h retryHeap) Less(i, j int) bool { return h[i].nextTry.Before(h[j].nextTry) }
func (h retryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x any)        { *h = append(*h, x.(*retryMessage)) }
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return m
}

// SendFunc attempts one delivery of a composed message.
type SendFunc func(recipients []string, subject, body string) error

// RetryScheduler re-attempts failed sends with bounded attempts and
// fixed spacing. It is single-consumer; pending items are abandoned at
// shutdown (no in-flight state survives a restart).
type RetryScheduler struct {
	mu          sync.Mutex
	pending     retryHeap
	send        SendFunc
	maxAttempts int
	now         func() time.Time
	log         zerolog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewRetryScheduler creates a scheduler delivering through send.
// maxAttempts defaults to 3 when non-positive.
func NewRetryScheduler(send SendFunc, maxAttempts int, log zerolog.Logger) *RetryScheduler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RetryScheduler{
		send:        send,
		maxAttempts: maxAttempts,
		now:         time.Now,
		log:         log.With().Str("component", "email_retry").Logger(),
		stopChan:    make(chan struct{}),
	}
}

// Enqueue schedules the first retry of a failed message.
func (r *RetryScheduler) Enqueue(recipients []string, subject, body string) {
	m := &retryMessage{
		id:         uuid.NewString(),
		recipients: recipients,
		subject:    subject,
		body:       body,
		attempt:    1,
		nextTry:    r.now().Add(retryDelay),
	}

	r.mu.Lock()
	heap.Push(&r.pending, m)
	r.mu.Unlock()

	telemetry.EmailsRetried.Inc()
	r.log.Info().
		Str("message", m.id).
		Int("attempt", m.attempt).
		Int("max_attempts", r.maxAttempts).
		Msg("email queued for retry")
}

// Len reports the number of pending messages.
func (r *RetryScheduler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// popDue removes and returns the head when it is due, else nil.
func (r *RetryScheduler) popDue() *retryMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 || r.pending[0].nextTry.After(r.now()) {
		return nil
	}
	return heap.Pop(&r.pending).(*retryMessage)
}

// runCycle drains every due message once. Failures re-enqueue with an
// incremented attempt until the budget is spent.
func (r *RetryScheduler) runCycle() {
	for {
		m := r.popDue()
		if m == nil {
			return
		}

		err := r.send(m.recipients, m.subject, m.body)
		if err == nil {
			r.log.Info().Str("message", m.id).Int("attempt", m.attempt).Msg("email retry succeeded")
			continue
		}

		if m.attempt < r.maxAttempts {
			m.attempt++
			m.nextTry = r.now().Add(retryDelay)
			r.mu.Lock()
			heap.Push(&r.pending, m)
			r.mu.Unlock()
			r.log.Info().
				Str("message", m.id).
				Int("attempt", m.attempt).
				Int("max_attempts", r.maxAttempts).
				Msg("email queued for retry")
			continue
		}

		telemetry.EmailsAbandoned.Inc()
		r.log.Error().
			Err(err).
			Str("message", m.id).
			Strs("recipients", m.recipients).
			Int("attempts", m.attempt).
			Msg("email permanently failed")
	}
}

// Start launches the retry worker.
func (r *RetryScheduler) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.runCycle()
			case <-r.stopChan:
				return
			}
		}
	}()
}

// Stop terminates the worker, abandoning pending messages.
func (r *RetryScheduler) Stop() {
	if !atomic.CompareAndSwapUint32(&r.stopped, 0, 1) {
		return
	}
	close(r.stopChan)
	r.wg.Wait()
}
