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

// Package queue implements the two bounded breach queues and the
// periodic drainers that feed the notifier. Producers are many and
// never block; each queue has exactly one drainer.
package queue

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"sentinel/internal/alerting/model"
	"sentinel/internal/alerting/telemetry"
)

// Channel names handed to the drain handler.
const (
	ChannelRed     = "red"
	ChannelWarning = "warning"
)

// endOfBatch is the sentinel delimiting a drain cycle. It is a distinct
// allocation; producers can never enqueue it.
var endOfBatch = &model.Breach{}

// Queue is a bounded FIFO breach queue. Enqueueing is non-blocking:
// when the queue is full the breach is dropped, which is deliberate
// backpressure in favour of keeping ingress responsive.
type Queue struct {
	name      string
	ch        chan *model.Breach
	highWater int64
	log       zerolog.Logger
}

// New creates a queue. Capacity defaults to 100 when non-positive.
func New(name string, capacity int, log zerolog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 100
	}
	return &Queue{
		name: name,
		ch:   make(chan *model.Breach, capacity),
		log:  log.With().Str("queue", name).Logger(),
	}
}

// TryEnqueue offers a breach to the queue. It returns false when the
// queue is full and the breach was discarded.
func (q *Queue) TryEnqueue(b *model.Breach) bool {
	select {
	case q.ch <- b:
	default:
		telemetry.BreachesDropped.WithLabelValues(q.name).Inc()
		q.log.Error().
			Str("device", b.DeviceID).
			Str("sensor", b.SensorID).
			Msg("queue full, breach discarded")
		return false
	}

	depth := int64(len(q.ch))
	telemetry.QueueDepth.WithLabelValues(q.name).Set(float64(depth))
	for {
		hw := atomic.LoadInt64(&q.highWater)
		if depth <= hw {
			break
		}
		if atomic.CompareAndSwapInt64(&q.highWater, hw, depth) {
			telemetry.QueueHighWater.WithLabelValues(q.name).Set(float64(depth))
			if depth*10 > int64(cap(q.ch))*8 {
				q.log.Warn().
					Int64("depth", depth).
					Int("capacity", cap(q.ch)).
					Msg("queue occupancy above 80%")
			}
			break
		}
	}
	return true
}

// Len returns the current occupancy.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// HighWater returns the highest occupancy seen since startup.
func (q *Queue) HighWater() int { return int(atomic.LoadInt64(&q.highWater)) }

// DrainBatch collects exactly the breaches present at cycle start.
// It places the end-of-batch sentinel at the tail and pops until the
// sentinel reappears; anything enqueued after the sentinel belongs to
// the next cycle. When the queue is full the sentinel cannot be placed
// without blocking the sole consumer, so the drainer takes a full
// capacity's worth instead, which is the same observable boundary.
func (q *Queue) DrainBatch() []*model.Breach {
	var batch []*model.Breach

	select {
	case q.ch <- endOfBatch:
		for {
			b := <-q.ch
			if b == endOfBatch {
				break
			}
			batch = append(batch, b)
		}
	default:
	drain:
		for i := 0; i < cap(q.ch); i++ {
			select {
			case b := <-q.ch:
				if b == endOfBatch {
					continue
				}
				batch = append(batch, b)
			default:
				break drain
			}
		}
	}

	telemetry.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
	return batch
}
