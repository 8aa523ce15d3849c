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
	"sync"
	"sync/atomic"
	"time"
)

// Sweeper is the background task that keeps the state manager bounded,
// evicting devices that have been idle longer than maxIdle.
type Sweeper struct {
	mgr      *Manager
	maxIdle  time.Duration
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// NewSweeper configures an eviction sweeper. maxIdle defaults to 1h and
// interval to 30m when zero.
func NewSweeper(mgr *Manager, maxIdle, interval time.Duration) *Sweeper {
	if maxIdle <= 0 {
		maxIdle = time.Hour
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Sweeper{
		mgr:      mgr,
		maxIdle:  maxIdle,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mgr.EvictIdle(s.maxIdle)
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop terminates the sweep loop. Safe to call more than once.
func (s *Sweeper) Stop() {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}
	close(s.stopChan)
	s.wg.Wait()
}
