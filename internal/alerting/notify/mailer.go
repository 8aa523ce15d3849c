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
	"bytes"
	"crypto/tls"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Sender delivers one composed message. *Mailer is the production
// implementation; tests substitute fakes.
type Sender interface {
	Send(recipients []string, subject, htmlBody string) error
}

// Mailer submits mail over SMTP with STARTTLS. Sends are synchronous
// and may block for tens of seconds; they run on the drainer's
// goroutine, serialising batches per channel. A circuit breaker keeps
// a dead relay from hanging every cycle.
type Mailer struct {
	host     string
	port     int
	sender   string
	password string
	breaker  *gobreaker.CircuitBreaker
	log      zerolog.Logger
}

// NewMailer configures the SMTP submission client.
func NewMailer(host string, port int, sender, password string, log zerolog.Logger) *Mailer {
	return &Mailer{
		host:     host,
		port:     port,
		sender:   sender,
		password: password,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "smtp",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		log: log.With().Str("component", "mailer").Logger(),
	}
}

// Send delivers one multipart/alternative HTML message.
func (m *Mailer) Send(recipients []string, subject, htmlBody string) error {
	m.log.Info().Strs("recipients", recipients).Msg("sending email")
	_, err := m.breaker.Execute(func() (any, error) {
		return nil, m.submit(recipients, subject, htmlBody)
	})
	if err != nil {
		m.log.Error().Err(err).Msg("failed to send email")
	}
	return err
}

// submit performs the SMTP session: EHLO, STARTTLS, AUTH, then the
// envelope and message data.
func (m *Mailer) submit(recipients []string, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}
	auth := smtp.PlainAuth("", m.sender, m.password, m.host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := client.Mail(m.sender); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	msg, err := composeMessage(m.sender, recipients, subject, htmlBody)
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

// composeMessage renders the RFC 5322 message: multipart/alternative
// with a single HTML part.
func composeMessage(from string, to []string, subject, htmlBody string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ","))
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary())
	fmt.Fprintf(&buf, "\r\n")

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=UTF-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}
	if _, err := part.Write([]byte(htmlBody)); err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}
	return buf.Bytes(), nil
}
