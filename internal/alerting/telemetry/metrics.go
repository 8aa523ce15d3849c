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

// Package telemetry exposes the Prometheus instrumentation for the
// alerting pipeline. Collectors are package-level and registered
// eagerly; if no metrics endpoint is exposed the registration is
// harmless.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// BreachesTotal counts breaches emitted by the classifier, by severity.
	BreachesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_breaches_total",
		Help: "Total threshold breaches emitted to the queues, by severity",
	}, []string{"severity"})

	// BreachesDropped counts breaches discarded because a bounded queue was full.
	BreachesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_breaches_dropped_total",
		Help: "Total breaches discarded on queue overflow, by queue",
	}, []string{"queue"})

	// QueueDepth tracks current occupancy of each bounded breach queue.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "alert_queue_depth",
		Help: "Current number of breaches waiting in each queue",
	}, []string{"queue"})

	// QueueHighWater tracks the high-water mark of each queue since startup.
	QueueHighWater = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "alert_queue_high_water_mark",
		Help: "Highest observed occupancy of each queue since startup",
	}, []string{"queue"})

	// RateLimitSuppressed counts notifications dropped by the suppression window.
	RateLimitSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_rate_limit_suppressed_total",
		Help: "Total breach notifications suppressed by the rate limiter, by severity",
	}, []string{"severity"})

	// EmailsSent counts successfully delivered notification emails.
	EmailsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_emails_sent_total",
		Help: "Total notification emails handed to the SMTP relay successfully",
	})

	// EmailsFailed counts send attempts that returned an error.
	EmailsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_emails_failed_total",
		Help: "Total notification email attempts that failed",
	})

	// EmailsRetried counts messages placed on the retry queue.
	EmailsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_emails_retried_total",
		Help: "Total messages scheduled for SMTP retry",
	})

	// EmailsAbandoned counts messages dropped after exhausting retries.
	EmailsAbandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_emails_abandoned_total",
		Help: "Total messages permanently failed after the retry budget",
	})

	// CacheHits and CacheMisses record lookup cache effectiveness, by cache name.
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_cache_hits_total",
		Help: "Total cache hits, by cache",
	}, []string{"cache"})
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_cache_misses_total",
		Help: "Total cache misses, by cache",
	}, []string{"cache"})
)

func init() {
	prometheus.MustRegister(
		BreachesTotal, BreachesDropped,
		QueueDepth, QueueHighWater,
		RateLimitSuppressed,
		EmailsSent, EmailsFailed, EmailsRetried, EmailsAbandoned,
		CacheHits, CacheMisses,
	)
}

// Serve starts a standalone /metrics endpoint on addr. It returns the
// server so the caller can shut it down; a nil server is returned when
// addr is empty (metrics disabled).
func Serve(addr string, log zerolog.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()
	return srv
}
