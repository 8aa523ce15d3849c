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

// Package model defines the closed record types that flow through the
// alert-processing pipeline: sensor readings as they arrive on the wire,
// the thresholds and entity names resolved from the store, and the breach
// records produced by the classifier and consumed by the notifier.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Severity identifies one of the three fixed alert tiers.
// Red is critical; Orange and Yellow are warnings.
type Severity string

const (
	SeverityRed    Severity = "red"
	SeverityOrange Severity = "orange"
	SeverityYellow Severity = "yellow"
)

// Rank returns the total ordering of severities: Red > Orange > Yellow.
func (s Severity) Rank() int {
	switch s {
	case SeverityRed:
		return 3
	case SeverityOrange:
		return 2
	case SeverityYellow:
		return 1
	}
	return 0
}

// Critical reports whether the severity routes to the critical queue.
func (s Severity) Critical() bool { return s == SeverityRed }

// Valid reports whether s is one of the three known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Thresholds holds the three per-(device, sensor) breach levels,
// ordered yellow <= orange <= red.
type Thresholds struct {
	Yellow float64 `db:"threshold_yellow"`
	Orange float64 `db:"threshold_orange"`
	Red    float64 `db:"threshold_red"`
}

// EntityNames is the factory/zone/machine naming context for a device.
type EntityNames struct {
	Factory string `db:"factory_name"`
	Zone    string `db:"zone_name"`
	Machine string `db:"machine_name"`
}

// UnknownEntityNames is the fallback used when a device has no
// entity rows configured.
var UnknownEntityNames = EntityNames{
	Factory: "Unknown Factory",
	Zone:    "Unknown Zone",
	Machine: "Unknown Machine",
}

// Reading is a single sensor sample as published on the event bus.
// Value is kept raw because publishers send both numbers and
// numeric strings; Float performs the coercion.
type Reading struct {
	SensorID   string          `json:"sensor_id"`
	SensorType string          `json:"sensor_type"`
	Value      json.RawMessage `json:"value"`
}

// Float coerces the raw value into a float64. It accepts JSON numbers
// and quoted numeric strings; anything else is a malformed reading.
func (r Reading) Float() (float64, error) {
	raw := strings.TrimSpace(string(r.Value))
	if raw == "" || raw == "null" {
		return 0, fmt.Errorf("reading %s: missing value", r.SensorID)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(r.Value, &s); err != nil {
			return 0, fmt.Errorf("reading %s: %w", r.SensorID, err)
		}
		raw = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("reading %s: non-numeric value %q", r.SensorID, raw)
	}
	return v, nil
}

// ReadingList accepts either a single reading object or an array of
// readings on the wire.
type ReadingList []Reading

func (l *ReadingList) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		var many []Reading
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*l = many
		return nil
	}
	var one Reading
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*l = ReadingList{one}
	return nil
}

// FlexTime accepts the publisher's wall-clock timestamp as either a
// JSON string or an integer. It is carried verbatim through the
// pipeline and into rendering; the service never parses it.
type FlexTime string

func (t *FlexTime) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "null" {
		*t = ""
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = FlexTime(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = FlexTime(n.String())
	return nil
}

// ReadingsEvent is the payload of a NewReadingsEvent message.
type ReadingsEvent struct {
	DeviceID string      `json:"device_id"`
	Time     FlexTime    `json:"time"`
	Readings ReadingList `json:"readings"`
}

// Breach asserts that a sensor reading crossed a threshold. Breaches are
// immutable once enqueued and live for a single pipeline traversal.
type Breach struct {
	DeviceID       string
	SensorID       string
	FactoryName    string
	ZoneName       string
	MachineName    string
	SensorType     string
	SensorValue    float64
	Timestamp      string
	Severity       Severity
	ThresholdValue float64
}
