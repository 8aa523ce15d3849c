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

package store

import (
	"context"
	"time"

	"sentinel/internal/alerting/cache"
	"sentinel/internal/alerting/model"
)

// Querier is the store surface the catalog fronts. *Postgres satisfies
// it; tests substitute fakes.
type Querier interface {
	GetThresholds(ctx context.Context, deviceID, sensorID string) (model.Thresholds, error)
	GetEntityNames(ctx context.Context, deviceID string) (model.EntityNames, error)
	GetEmails(ctx context.Context, deviceID string, severity model.Severity) ([]string, error)
}

// Catalog fronts the store with TTL caches for the two slow lookups on
// the hot path. Entity names are resolved per breach and left uncached;
// they ride along with the threshold fetch frequency in practice.
type Catalog struct {
	q          Querier
	thresholds *cache.Cache[model.Thresholds]
	emails     *cache.Cache[[]string]
}

// NewCatalog builds the cached facade. thresholdTTL defaults to 1h and
// emailTTL to 24h when zero.
func NewCatalog(q Querier, thresholdTTL, emailTTL time.Duration) *Catalog {
	if thresholdTTL <= 0 {
		thresholdTTL = time.Hour
	}
	if emailTTL <= 0 {
		emailTTL = 24 * time.Hour
	}
	return &Catalog{
		q:          q,
		thresholds: cache.New[model.Thresholds]("thresholds", thresholdTTL),
		emails:     cache.New[[]string]("emails", emailTTL),
	}
}

// Thresholds returns the cached threshold triple for a sensor.
func (c *Catalog) Thresholds(ctx context.Context, deviceID, sensorID string) (model.Thresholds, error) {
	return c.thresholds.GetOrLoad(deviceID+"/"+sensorID, func() (model.Thresholds, error) {
		return c.q.GetThresholds(ctx, deviceID, sensorID)
	})
}

// EntityNames resolves the naming context for a device.
func (c *Catalog) EntityNames(ctx context.Context, deviceID string) (model.EntityNames, error) {
	return c.q.GetEntityNames(ctx, deviceID)
}

// Emails returns the cached recipient list for a device and severity.
func (c *Catalog) Emails(ctx context.Context, deviceID string, severity model.Severity) ([]string, error) {
	return c.emails.GetOrLoad(deviceID+"/"+string(severity), func() ([]string, error) {
		return c.q.GetEmails(ctx, deviceID, severity)
	})
}

// ClearCaches drops all cached lookups.
func (c *Catalog) ClearCaches() {
	c.thresholds.Clear()
	c.emails.Clear()
}
