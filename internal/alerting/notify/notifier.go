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

// Package notify turns drained breach batches into email: rate-limit
// filtering, recipient fan-in, deterministic rendering, SMTP delivery
// and bounded retry.
package notify

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"sentinel/internal/alerting/auditlog"
	"sentinel/internal/alerting/model"
	"sentinel/internal/alerting/queue"
	"sentinel/internal/alerting/telemetry"
)

// Limiter gates each (device, sensor, severity) behind its suppression
// window; *ratelimit.Limiter satisfies it.
type Limiter interface {
	ShouldSend(deviceID, sensorID string, severity model.Severity) bool
}

// RecipientSource resolves severity-tiered recipients; *store.Catalog
// satisfies it.
type RecipientSource interface {
	Emails(ctx context.Context, deviceID string, severity model.Severity) ([]string, error)
}

// Config carries the notifier's delivery policy.
type Config struct {
	// LoggerEmails are audit-copy recipients appended to every
	// envelope outside test mode.
	LoggerEmails []string
	// UseTestEmail replaces every envelope with TestRecipient. It
	// short-circuits before recipient resolution output can reach the
	// relay, so real addresses never leak from a test deployment.
	UseTestEmail  bool
	TestRecipient string
}

// Notifier consumes drained batches and produces one composite email
// per recipient.
type Notifier struct {
	limiter    Limiter
	recipients RecipientSource
	sender     Sender
	retry      *RetryScheduler
	cfg        Config
	redAudit   *auditlog.File
	warnAudit  *auditlog.File
	log        zerolog.Logger
}

// New creates a notifier. retry may be nil, in which case failed sends
// are dropped after logging.
func New(limiter Limiter, recipients RecipientSource, sender Sender, retry *RetryScheduler, cfg Config, log zerolog.Logger) *Notifier {
	return &Notifier{
		limiter:    limiter,
		recipients: recipients,
		sender:     sender,
		retry:      retry,
		cfg:        cfg,
		redAudit:   auditlog.Open("logs/red.log"),
		warnAudit:  auditlog.Open("logs/non_red.log"),
		log:        log.With().Str("component", "notifier").Logger(),
	}
}

// AttachRetry wires the retry scheduler after construction. The
// scheduler delivers through Deliver, so the two reference each other.
func (n *Notifier) AttachRetry(r *RetryScheduler) { n.retry = r }

func (n *Notifier) auditFor(channel string) *auditlog.File {
	if channel == queue.ChannelRed {
		return n.redAudit
	}
	return n.warnAudit
}

// ProcessBreaches is the drain handler: it filters the batch through
// the rate limiter, fans breaches in per recipient, and sends one
// email per recipient. Send failures go to the retry scheduler.
func (n *Notifier) ProcessBreaches(batch []*model.Breach, channel string) {
	ctx := context.Background()
	audit := n.auditFor(channel)

	n.log.Info().Int("breaches", len(batch)).Str("channel", channel).Msg("processing breaches")
	_ = audit.Printf("Processing %d %s breaches", len(batch), channel)
	for i, b := range batch {
		_ = audit.Printf("Breach %d: Device=%s, Sensor=%s, Severity=%s", i+1, b.DeviceID, b.SensorID, b.Severity)
	}

	// Group by device so rate limiting and recipient lookups walk the
	// batch device by device.
	byDevice := make(map[string][]*model.Breach)
	for _, b := range batch {
		byDevice[b.DeviceID] = append(byDevice[b.DeviceID], b)
	}

	// Invert to recipient -> breaches: a recipient subscribed across
	// devices gets a single composite email.
	byRecipient := make(map[string][]*model.Breach)
	for deviceID, breaches := range byDevice {
		var allowed []*model.Breach
		for _, b := range breaches {
			if n.limiter.ShouldSend(b.DeviceID, b.SensorID, b.Severity) {
				allowed = append(allowed, b)
			}
		}
		if len(allowed) == 0 {
			n.log.Info().Str("device", deviceID).Msg("no breaches passed rate limiting")
			continue
		}

		for _, b := range allowed {
			recipients, err := n.recipients.Emails(ctx, deviceID, b.Severity)
			if err != nil {
				n.log.Error().Err(err).
					Str("device", deviceID).
					Str("sensor", b.SensorID).
					Msg("failed to resolve recipients")
				continue
			}
			for _, r := range recipients {
				if r = strings.TrimSpace(r); r != "" {
					byRecipient[r] = append(byRecipient[r], b)
				}
			}
		}
	}

	if len(byRecipient) == 0 {
		n.log.Warn().Str("channel", channel).Msg("no emails to send after processing breaches")
		return
	}

	// Sorted recipient order keeps delivery and logs reproducible.
	recipients := make([]string, 0, len(byRecipient))
	for r := range byRecipient {
		recipients = append(recipients, r)
	}
	sort.Strings(recipients)

	n.log.Info().Int("recipients", len(recipients)).Msg("sending breach notifications")
	for _, recipient := range recipients {
		breaches := byRecipient[recipient]
		subject := Subject(breaches)
		body := HTMLBody(breaches)

		_ = audit.Printf("Sending email to %s with %d breaches", recipient, len(breaches))
		if err := n.Deliver([]string{recipient}, subject, body); err != nil {
			if n.retry != nil {
				n.retry.Enqueue([]string{recipient}, subject, body)
			}
		}
	}
}

// Deliver applies the envelope policy and sends. In test mode the
// envelope is the single test recipient; otherwise the audit-copy
// recipients ride along. The retry scheduler delivers through this
// same path so the policy holds on re-sends.
func (n *Notifier) Deliver(recipients []string, subject, body string) error {
	var envelope []string
	if n.cfg.UseTestEmail {
		n.log.Info().Str("recipient", n.cfg.TestRecipient).Msg("test mode: overriding envelope")
		envelope = []string{n.cfg.TestRecipient}
	} else {
		envelope = append(envelope, recipients...)
		envelope = append(envelope, n.cfg.LoggerEmails...)
	}

	if err := n.sender.Send(envelope, subject, body); err != nil {
		telemetry.EmailsFailed.Inc()
		return err
	}
	telemetry.EmailsSent.Inc()
	return nil
}
