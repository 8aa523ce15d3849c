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

// Package alerting wires the alert-processing pipeline into a single
// service context: cache-fronted store, sustained-breach state, the
// bounded queues and their drainers, rate limiting, and the notifier
// with its retry scheduler. Everything hangs off the Service value so
// tests can construct isolated instances.
package alerting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"sentinel/internal/alerting/classifier"
	"sentinel/internal/alerting/config"
	"sentinel/internal/alerting/model"
	"sentinel/internal/alerting/notify"
	"sentinel/internal/alerting/queue"
	"sentinel/internal/alerting/ratelimit"
	"sentinel/internal/alerting/state"
	"sentinel/internal/alerting/store"
	"sentinel/internal/alerting/telemetry"
	"sentinel/internal/alerting/transport"
)

// monitorInterval paces the periodic queue-status log line.
const monitorInterval = time.Minute

// Service owns every component of the pipeline.
type Service struct {
	cfg *config.Config
	log zerolog.Logger

	db      *store.Postgres
	catalog *store.Catalog

	stateMgr     *state.Manager
	stateSweeper *state.Sweeper
	limiter      *ratelimit.Limiter

	critical *queue.Queue
	warning  *queue.Queue
	drainers []*queue.Drainer

	notifier   *notify.Notifier
	retry      *notify.RetryScheduler
	classifier *classifier.Classifier

	ingress    *transport.Ingress
	metricsSrv *http.Server
}

// New builds the pipeline from configuration. It connects to the store
// but not yet to the event bus; Run does that.
func New(cfg *config.Config, log zerolog.Logger) (*Service, error) {
	db, err := store.Open(cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	catalog := store.NewCatalog(db, cfg.ThresholdCacheTTL, cfg.EmailCacheTTL)

	stateMgr := state.NewManager(log)
	limiter := ratelimit.New(cfg.EmailTimeouts, log)

	critical := queue.New(queue.ChannelRed, cfg.QueueSize, log)
	warning := queue.New(queue.ChannelWarning, cfg.QueueSize, log)

	mailer := notify.NewMailer(cfg.SMTPServer, cfg.SMTPPort, cfg.SenderEmail, cfg.EmailPassword, log)
	notifier := notify.New(limiter, catalog, mailer, nil, notify.Config{
		LoggerEmails:  cfg.LoggerEmails,
		UseTestEmail:  cfg.UseTestEmail,
		TestRecipient: cfg.TestEmailRecipient,
	}, log)
	retry := notify.NewRetryScheduler(notifier.Deliver, cfg.MaxEmailRetryAttempts, log)
	notifier.AttachRetry(retry)

	cls := classifier.New(catalog, stateMgr, critical, warning, classifier.Config{
		YellowDwell: cfg.YellowSustenancePeriod,
		OrangeDwell: cfg.OrangeSustenancePeriod,
	}, log)

	return &Service{
		cfg:          cfg,
		log:          log.With().Str("component", "service").Logger(),
		db:           db,
		catalog:      catalog,
		stateMgr:     stateMgr,
		stateSweeper: state.NewSweeper(stateMgr, cfg.StateMaxIdle, cfg.StateCleanupInterval),
		limiter:      limiter,
		critical:     critical,
		warning:      warning,
		drainers: []*queue.Drainer{
			queue.NewDrainer(critical, queue.ChannelRed, cfg.CriticalCheckInterval, notifier.ProcessBreaches, log),
			queue.NewDrainer(warning, queue.ChannelWarning, cfg.WarningCheckInterval, notifier.ProcessBreaches, log),
		},
		notifier:   notifier,
		retry:      retry,
		classifier: cls,
	}, nil
}

// HandleEvent is the ingress entry point into the pipeline.
func (s *Service) HandleEvent(ctx context.Context, ev model.ReadingsEvent) {
	s.classifier.Classify(ctx, ev)
}

// Run connects the transport, starts every background worker, and
// blocks until ctx is cancelled. Shutdown disconnects the transport
// first, lets each drainer flush one final cycle, then stops the
// remaining workers; pending retries are abandoned.
func (s *Service) Run(ctx context.Context) error {
	companyIDs, err := s.db.GetAllCompanyIDs(ctx)
	if err != nil {
		return fmt.Errorf("resolve subscription set: %w", err)
	}

	ingress, err := transport.Connect(s.cfg.TransportURL(), s.HandleEvent, s.log)
	if err != nil {
		return err
	}
	s.ingress = ingress
	if err := ingress.Subscribe(companyIDs); err != nil {
		ingress.Close()
		return err
	}

	s.retry.Start()
	for _, d := range s.drainers {
		d.Start()
	}
	s.stateSweeper.Start()
	s.limiter.StartSweeper()
	s.metricsSrv = telemetry.Serve(s.cfg.MetricsAddr, s.log)

	monitorDone := make(chan struct{})
	go s.monitorLoop(monitorDone)

	s.log.Info().Int("companies", len(companyIDs)).Msg("threshold alert service running")
	<-ctx.Done()
	s.log.Info().Msg("shutting down")

	s.ingress.Close()
	for _, d := range s.drainers {
		d.Stop()
	}
	s.retry.Stop()
	s.stateSweeper.Stop()
	s.limiter.Stop()
	close(monitorDone)
	if s.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	return s.db.Close()
}

// monitorLoop periodically logs queue occupancy so a stalled drainer
// shows up in the service log before the queues overflow.
func (s *Service) monitorLoop(done <-chan struct{}) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.log.Info().
				Int("red_queue", s.critical.Len()).
				Int("red_high_water", s.critical.HighWater()).
				Int("warning_queue", s.warning.Len()).
				Int("warning_high_water", s.warning.HighWater()).
				Int("tracked_devices", s.stateMgr.DeviceCount()).
				Msg("queue status")
		case <-done:
			return
		}
	}
}
