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

package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sentinel/internal/alerting/model"
)

// Handler receives one drained batch. channel is ChannelRed or
// ChannelWarning.
type Handler func(batch []*model.Breach, channel string)

// Drainer is the single consumer of one queue. Each cycle drains the
// batch present at cycle start, hands it to the handler, then waits
// out the channel's interval. Handler failures are confined to the
// cycle so one bad batch cannot kill the worker.
type Drainer struct {
	queue    *Queue
	channel  string
	interval time.Duration
	handler  Handler
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
	log      zerolog.Logger
}

// NewDrainer configures a drainer for one queue. The design assumes at
// most one drainer per queue.
func NewDrainer(q *Queue, channel string, interval time.Duration, handler Handler, log zerolog.Logger) *Drainer {
	return &Drainer{
		queue:    q,
		channel:  channel,
		interval: interval,
		handler:  handler,
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "drainer").Str("channel", channel).Logger(),
	}
}

// Start launches the drain loop.
func (d *Drainer) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			d.runCycle()
			timer := time.NewTimer(d.interval)
			select {
			case <-timer.C:
			case <-d.stopChan:
				timer.Stop()
				// Flush whatever arrived during the last interval.
				d.runCycle()
				return
			}
		}
	}()
}

// Stop terminates the loop after one final flush cycle.
func (d *Drainer) Stop() {
	if !atomic.CompareAndSwapUint32(&d.stopped, 0, 1) {
		return
	}
	close(d.stopChan)
	d.wg.Wait()
}

// runCycle drains one batch and invokes the handler.
func (d *Drainer) runCycle() {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("drain cycle panicked")
		}
	}()

	batch := d.queue.DrainBatch()
	if len(batch) == 0 {
		return
	}
	d.log.Info().Int("breaches", len(batch)).Msg("processing drained batch")
	d.handler(batch, d.channel)
}
