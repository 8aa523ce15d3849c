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

// Package store wraps the relational tables the alerting core reads:
// per-sensor thresholds, per-device recipient tiers, the entity
// hierarchy used for naming, and the company registry that drives the
// transport subscription set.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"sentinel/internal/alerting/model"
)

// Referenced schema (search_path=sentinel):
//
//   sensors(device_id, sensor_id, threshold_yellow, threshold_orange, threshold_red)
//   devices(device_id, machine_entity_id, yellow_email TEXT[], orange_email TEXT[], red_email TEXT[])
//   machines(machine_entity_id, machine_name)
//   zones(zone_entity_id, zone_name)
//   factorys(factory_entity_id, factory_name)
//   entitys(entity_id, parent_entity_id)
//   companys(company_entity_id)
//   device_readings(device_id, time, sensor_readings JSONB)

// ErrThresholdsMissing reports that no threshold row exists for a
// (device, sensor) pair. The offending reading is skipped.
var ErrThresholdsMissing = errors.New("thresholds not configured")

// ErrRecipientsMissing reports that a device has no recipients
// configured for the requested severity tier.
var ErrRecipientsMissing = errors.New("recipients not configured")

// Postgres is the read-mostly data access facade. All queries are
// point lookups by device_id and/or sensor_id.
type Postgres struct {
	db             *sqlx.DB
	defaultTimeout time.Duration
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	return &Postgres{db: db, defaultTimeout: 10 * time.Second}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

// withTimeout bounds a query when the caller did not.
func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok && p.defaultTimeout > 0 {
		return context.WithTimeout(ctx, p.defaultTimeout)
	}
	return ctx, func() {}
}

// GetThresholds returns the yellow/orange/red levels for a sensor.
func (p *Postgres) GetThresholds(ctx context.Context, deviceID, sensorID string) (model.Thresholds, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var t model.Thresholds
	err := p.db.GetContext(ctx, &t,
		`SELECT threshold_yellow, threshold_orange, threshold_red
		   FROM sensors
		  WHERE sensor_id = $1 AND device_id = $2`,
		sensorID, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Thresholds{}, fmt.Errorf("%s/%s: %w", deviceID, sensorID, ErrThresholdsMissing)
	}
	if err != nil {
		return model.Thresholds{}, fmt.Errorf("store: thresholds %s/%s: %w", deviceID, sensorID, err)
	}
	return t, nil
}

// GetEntityNames resolves the factory/zone/machine names for a device.
// A device with no entity rows gets the Unknown placeholders; absence
// is never an error.
func (p *Postgres) GetEntityNames(ctx context.Context, deviceID string) (model.EntityNames, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var n model.EntityNames
	err := p.db.GetContext(ctx, &n,
		`SELECT factorys.factory_name, zones.zone_name, machines.machine_name
		   FROM devices
		   JOIN machines ON devices.machine_entity_id = machines.machine_entity_id
		   JOIN entitys AS entity ON machines.machine_entity_id = entity.entity_id
		   JOIN zones ON entity.parent_entity_id = zones.zone_entity_id
		   JOIN entitys AS e ON zones.zone_entity_id = e.entity_id
		   JOIN factorys ON e.parent_entity_id = factorys.factory_entity_id
		  WHERE devices.device_id = $1`,
		deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UnknownEntityNames, nil
	}
	if err != nil {
		return model.EntityNames{}, fmt.Errorf("store: entity names %s: %w", deviceID, err)
	}
	return n, nil
}

// GetEmails returns the notification recipients for a device, filtered
// by severity tier: yellow gets tier 1, orange tiers 1+2, red all
// three tiers.
func (p *Postgres) GetEmails(ctx context.Context, deviceID string, severity model.Severity) ([]string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var tiers struct {
		Yellow pq.StringArray `db:"yellow_email"`
		Orange pq.StringArray `db:"orange_email"`
		Red    pq.StringArray `db:"red_email"`
	}
	err := p.db.GetContext(ctx, &tiers,
		`SELECT yellow_email, orange_email, red_email FROM devices WHERE device_id = $1`,
		deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", deviceID, ErrRecipientsMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("store: emails %s: %w", deviceID, err)
	}

	emails := tierRecipients(tiers.Yellow, tiers.Orange, tiers.Red, severity)
	if len(emails) == 0 {
		return nil, fmt.Errorf("%s: %w", deviceID, ErrRecipientsMissing)
	}
	return emails, nil
}

// tierRecipients selects recipient tiers cumulatively by severity rank:
// yellow gets only the first tier, orange the first two, red all three.
// Blank entries are dropped.
func tierRecipients(yellow, orange, red []string, severity model.Severity) []string {
	raw := append([]string(nil), yellow...)
	if severity.Rank() >= model.SeverityOrange.Rank() {
		raw = append(raw, orange...)
	}
	if severity.Rank() >= model.SeverityRed.Rank() {
		raw = append(raw, red...)
	}

	emails := make([]string, 0, len(raw))
	for _, e := range raw {
		if e = strings.TrimSpace(e); e != "" {
			emails = append(emails, e)
		}
	}
	return emails
}

// GetAllCompanyIDs lists every company id. The transport subscribes to
// one channel per id at startup.
func (p *Postgres) GetAllCompanyIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var ids []string
	if err := p.db.SelectContext(ctx, &ids, `SELECT company_entity_id FROM companys`); err != nil {
		return nil, fmt.Errorf("store: company ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, errors.New("store: no companies configured")
	}
	return ids, nil
}

// GetSensorIDs lists the sensors configured for a device.
func (p *Postgres) GetSensorIDs(ctx context.Context, deviceID string) ([]string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var ids []string
	if err := p.db.SelectContext(ctx, &ids,
		`SELECT sensor_id FROM sensors WHERE device_id = $1`, deviceID); err != nil {
		return nil, fmt.Errorf("store: sensor ids %s: %w", deviceID, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("store: device %s has no sensors configured", deviceID)
	}
	return ids, nil
}

// GetCompanyFromDeviceID walks the entity hierarchy up to the root to
// find the company a device belongs to.
func (p *Postgres) GetCompanyFromDeviceID(ctx context.Context, deviceID string) (string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var companyID string
	err := p.db.GetContext(ctx, &companyID,
		`WITH RECURSIVE parent_entity AS (
		    SELECT e.entity_id, e.parent_entity_id
		      FROM devices d
		      JOIN machines m ON d.machine_entity_id = m.machine_entity_id
		      JOIN entitys e ON e.entity_id = m.machine_entity_id
		     WHERE d.device_id = $1
		    UNION ALL
		    SELECT e.entity_id, e.parent_entity_id
		      FROM entitys e
		      JOIN parent_entity pe ON e.entity_id = pe.parent_entity_id
		 )
		 SELECT entity_id FROM parent_entity WHERE parent_entity_id IS NULL`,
		deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store: device %s has no company", deviceID)
	}
	if err != nil {
		return "", fmt.Errorf("store: company for %s: %w", deviceID, err)
	}
	return companyID, nil
}

// InsertReading persists a raw readings payload for later analysis.
func (p *Postgres) InsertReading(ctx context.Context, deviceID string, ts string, readings model.ReadingList) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(readings)
	if err != nil {
		return fmt.Errorf("store: encode readings %s: %w", deviceID, err)
	}
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO device_readings (device_id, time, sensor_readings) VALUES ($1, $2, $3)`,
		deviceID, ts, payload); err != nil {
		return fmt.Errorf("store: insert reading %s: %w", deviceID, err)
	}
	return nil
}
