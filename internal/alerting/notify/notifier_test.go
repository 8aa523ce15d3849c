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
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"sentinel/internal/alerting/auditlog"
	"sentinel/internal/alerting/model"
	"sentinel/internal/alerting/queue"
)

// fakeSender records every delivery.
type fakeSender struct {
	sends [][]string
	err   error
}

func (f *fakeSender) Send(recipients []string, subject, body string) error {
	f.sends = append(f.sends, recipients)
	return f.err
}

// allowAll passes every breach through.
type allowAll struct{}

func (allowAll) ShouldSend(string, string, model.Severity) bool { return true }

// denySensor suppresses one sensor id.
type denySensor struct {
	sensor string
}

func (d denySensor) ShouldSend(_, sensorID string, _ model.Severity) bool {
	return sensorID != d.sensor
}

// fakeRecipients maps device id to a fixed recipient list.
type fakeRecipients struct {
	byDevice map[string][]string
	err      error
}

func (f *fakeRecipients) Emails(_ context.Context, deviceID string, _ model.Severity) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byDevice[deviceID], nil
}

func notifierBreach(device, sensor string, severity model.Severity) *model.Breach {
	return &model.Breach{
		DeviceID:    device,
		SensorID:    sensor,
		FactoryName: "Plant A",
		ZoneName:    "Zone 1",
		MachineName: "Press 7",
		SensorType:  "temperature",
		SensorValue: 60,
		Timestamp:   "2025-10-01 12:00:00",
		Severity:    severity,
	}
}

func newTestNotifier(t *testing.T, limiter Limiter, recipients RecipientSource, sender Sender, cfg Config) *Notifier {
	t.Helper()
	n := New(limiter, recipients, sender, nil, cfg, zerolog.Nop())
	dir := t.TempDir()
	n.redAudit = auditlog.Open(filepath.Join(dir, "red.log"))
	n.warnAudit = auditlog.Open(filepath.Join(dir, "non_red.log"))
	return n
}

func TestProcessBreaches_FansInPerRecipient(t *testing.T) {
	sender := &fakeSender{}
	recipients := &fakeRecipients{byDevice: map[string][]string{
		"dev-1": {"shared@x.com", "one@x.com"},
		"dev-2": {"shared@x.com"},
	}}
	n := newTestNotifier(t, allowAll{}, recipients, sender, Config{})

	n.ProcessBreaches([]*model.Breach{
		notifierBreach("dev-1", "s1", model.SeverityRed),
		notifierBreach("dev-2", "s1", model.SeverityRed),
	}, queue.ChannelRed)

	// One email per distinct recipient, sorted: one@x.com then
	// shared@x.com, the latter carrying both devices' breaches.
	if len(sender.sends) != 2 {
		t.Fatalf("sent %d emails, want 2", len(sender.sends))
	}
	if !reflect.DeepEqual(sender.sends[0], []string{"one@x.com"}) {
		t.Fatalf("first envelope %v", sender.sends[0])
	}
	if !reflect.DeepEqual(sender.sends[1], []string{"shared@x.com"}) {
		t.Fatalf("second envelope %v", sender.sends[1])
	}
}

func TestProcessBreaches_RateLimitedBreachesExcluded(t *testing.T) {
	sender := &fakeSender{}
	recipients := &fakeRecipients{byDevice: map[string][]string{"dev-1": {"op@x.com"}}}
	n := newTestNotifier(t, denySensor{sensor: "s1"}, recipients, sender, Config{})

	n.ProcessBreaches([]*model.Breach{
		notifierBreach("dev-1", "s1", model.SeverityRed),
	}, queue.ChannelRed)
	if len(sender.sends) != 0 {
		t.Fatal("fully suppressed batch still produced email")
	}

	n.ProcessBreaches([]*model.Breach{
		notifierBreach("dev-1", "s1", model.SeverityRed),
		notifierBreach("dev-1", "s2", model.SeverityRed),
	}, queue.ChannelRed)
	if len(sender.sends) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sender.sends))
	}
}

func TestProcessBreaches_RecipientLookupFailureSkipsBreach(t *testing.T) {
	sender := &fakeSender{}
	recipients := &fakeRecipients{err: errors.New("store down")}
	n := newTestNotifier(t, allowAll{}, recipients, sender, Config{})

	n.ProcessBreaches([]*model.Breach{
		notifierBreach("dev-1", "s1", model.SeverityRed),
	}, queue.ChannelRed)

	if len(sender.sends) != 0 {
		t.Fatal("breach without resolvable recipients was sent")
	}
}

func TestDeliver_TestModeOverridesEnvelope(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(t, allowAll{}, &fakeRecipients{}, sender, Config{
		LoggerEmails:  []string{"audit@x.com"},
		UseTestEmail:  true,
		TestRecipient: "test@example.com",
	})

	if err := n.Deliver([]string{"real@x.com"}, "subj", "body"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(sender.sends) != 1 || !reflect.DeepEqual(sender.sends[0], []string{"test@example.com"}) {
		t.Fatalf("test mode envelope %v", sender.sends)
	}
}

func TestDeliver_LoggerEmailsAppended(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(t, allowAll{}, &fakeRecipients{}, sender, Config{
		LoggerEmails: []string{"audit@x.com"},
	})

	n.Deliver([]string{"real@x.com"}, "subj", "body")

	want := []string{"real@x.com", "audit@x.com"}
	if len(sender.sends) != 1 || !reflect.DeepEqual(sender.sends[0], want) {
		t.Fatalf("envelope %v, want %v", sender.sends, want)
	}
}

func TestProcessBreaches_FailedSendGoesToRetry(t *testing.T) {
	sender := &fakeSender{err: errors.New("relay down")}
	recipients := &fakeRecipients{byDevice: map[string][]string{"dev-1": {"op@x.com"}}}
	n := newTestNotifier(t, allowAll{}, recipients, sender, Config{})

	retry := NewRetryScheduler(n.Deliver, 3, zerolog.Nop())
	n.AttachRetry(retry)

	n.ProcessBreaches([]*model.Breach{
		notifierBreach("dev-1", "s1", model.SeverityRed),
	}, queue.ChannelRed)

	if retry.Len() != 1 {
		t.Fatalf("retry queue length %d, want 1", retry.Len())
	}
}

func TestProcessBreaches_WritesAuditTrail(t *testing.T) {
	sender := &fakeSender{}
	recipients := &fakeRecipients{byDevice: map[string][]string{"dev-1": {"op@x.com"}}}
	n := newTestNotifier(t, allowAll{}, recipients, sender, Config{})

	dir := t.TempDir()
	redPath := filepath.Join(dir, "red.log")
	n.redAudit = auditlog.Open(redPath)

	n.ProcessBreaches([]*model.Breach{
		notifierBreach("dev-1", "s1", model.SeverityRed),
	}, queue.ChannelRed)

	got, err := os.ReadFile(redPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	for _, want := range []string{
		"Processing 1 red breaches",
		"Breach 1: Device=dev-1, Sensor=s1, Severity=red",
		"Sending email to op@x.com with 1 breaches",
	} {
		if !strings.Contains(string(got), want) {
			t.Errorf("audit log missing %q, got:\n%s", want, got)
		}
	}
}
