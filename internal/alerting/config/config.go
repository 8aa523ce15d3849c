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

// Package config loads the service configuration from the environment.
// An optional .env file is read first so local deployments can keep
// their settings next to the binary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"sentinel/internal/alerting/model"
)

// Database holds the Postgres connection settings.
type Database struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// DSN renders the lib/pq connection string. The original schema lives
// in the "sentinel" search path.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable search_path=sentinel",
		d.Host, d.Port, d.Name, d.User, d.Password,
	)
}

// Config is the full runtime configuration of the alerting service.
type Config struct {
	// Transport endpoint (host and port of the event bus).
	ServerURL  string
	ServerPort string

	Database Database

	// SMTP submission settings.
	SMTPServer    string
	SMTPPort      int
	SenderEmail   string
	EmailPassword string

	// Audit-copy recipients appended to every outgoing alert.
	LoggerEmails []string

	// Per-severity notification suppression windows.
	EmailTimeouts map[model.Severity]time.Duration

	// Minimum continuous time above a warning threshold before a
	// breach is emitted.
	YellowSustenancePeriod time.Duration
	OrangeSustenancePeriod time.Duration

	// Drain cadence of the two breach queues.
	WarningCheckInterval  time.Duration
	CriticalCheckInterval time.Duration

	QueueSize int

	// Device-state eviction policy.
	StateMaxIdle         time.Duration
	StateCleanupInterval time.Duration

	// Lookup cache TTLs.
	ThresholdCacheTTL time.Duration
	EmailCacheTTL     time.Duration

	MaxEmailRetryAttempts int

	// Test-mode override: when set, every envelope is replaced with
	// the single test recipient.
	UseTestEmail       bool
	TestEmailRecipient string

	LogLevel    string
	MetricsAddr string
}

// TransportURL is the endpoint the service subscribes to for readings.
func (c *Config) TransportURL() string {
	return fmt.Sprintf("nats://%s:%s", c.ServerURL, c.ServerPort)
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present. Missing required
// keys and unparseable numeric values are a startup failure.
func Load() (*Config, error) {
	_ = godotenv.Load()

	r := &envReader{}
	cfg := &Config{
		SMTPServer: envOr("SMTP_SERVER", "smtp.gmail.com"),
		SMTPPort:   r.intOr("SMTP_PORT", 587),

		LoggerEmails: splitList(envOr("LOGGER_EMAILS", "connect@klvin.ai")),

		EmailTimeouts: map[model.Severity]time.Duration{
			model.SeverityRed:    r.secondsOr("RED_EMAIL_TIMEOUT_IN_SECONDS", 300),
			model.SeverityOrange: r.secondsOr("ORANGE_EMAIL_TIMEOUT_IN_SECONDS", 1800),
			model.SeverityYellow: r.secondsOr("YELLOW_EMAIL_TIMEOUT_IN_SECONDS", 3600),
		},

		YellowSustenancePeriod: r.secondsOr("YELLOW_SUSTENANCE_PERIOD", 10),
		OrangeSustenancePeriod: r.secondsOr("ORANGE_SUSTENANCE_PERIOD", 5),

		WarningCheckInterval:  r.secondsOr("WARNING_BREACH_CHECK_INTERVAL", 60),
		CriticalCheckInterval: r.secondsOr("CRITICAL_BREACH_CHECK_INTERVAL", 30),

		QueueSize: r.intOr("QUEUE_SIZE", 100),

		StateMaxIdle:         r.secondsOr("STATE_MAX_IDLE", 3600),
		StateCleanupInterval: r.secondsOr("STATE_CLEANUP_INTERVAL", 1800),

		ThresholdCacheTTL: r.secondsOr("THRESHOLD_CACHE_TTL", 3600),
		EmailCacheTTL:     r.secondsOr("EMAIL_CACHE_TTL", 86400),

		MaxEmailRetryAttempts: r.intOr("MAX_EMAIL_RETRY_ATTEMPTS", 3),

		UseTestEmail:       strings.EqualFold(envOr("USE_TEST_EMAIL", "false"), "true"),
		TestEmailRecipient: envOr("TEST_EMAIL_RECIPIENT", "test@example.com"),

		LogLevel:    envOr("LOG_LEVEL", "info"),
		MetricsAddr: envOr("METRICS_ADDR", ""),
	}
	if r.err != nil {
		return nil, r.err
	}

	var err error
	if cfg.ServerURL, err = required("SERVER_URL"); err != nil {
		return nil, err
	}
	if cfg.ServerPort, err = required("SERVER_PORT"); err != nil {
		return nil, err
	}
	if cfg.Database.Host, err = required("DATABASE_HOST"); err != nil {
		return nil, err
	}
	if cfg.Database.Port, err = required("DATABASE_PORT"); err != nil {
		return nil, err
	}
	if cfg.Database.Name, err = required("DATABASE_NAME"); err != nil {
		return nil, err
	}
	if cfg.Database.User, err = required("DATABASE_USER"); err != nil {
		return nil, err
	}
	if cfg.Database.Password, err = required("DATABASE_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.SenderEmail, err = required("SENDER_EMAIL"); err != nil {
		return nil, err
	}
	if cfg.EmailPassword, err = required("EMAIL_PASSWORD"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func required(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("config: %s is required", key)
	}
	return v, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envReader parses numeric keys and holds the first failure so Load
// reports it after the whole environment has been read. A set but
// unparseable value is a startup error, never a silent default.
type envReader struct {
	err error
}

func (r *envReader) intOr(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("config: %s: invalid integer %q", key, v)
		}
		return fallback
	}
	return n
}

func (r *envReader) secondsOr(key string, fallback int) time.Duration {
	return time.Duration(r.intOr(key, fallback)) * time.Second
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
