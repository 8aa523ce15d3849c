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
	"fmt"
	"sort"
	"strconv"
	"strings"

	"sentinel/internal/alerting/model"
)

// Subject renders the alert subject line for a recipient's batch.
func Subject(breaches []*model.Breach) string {
	return fmt.Sprintf("[Threshold Breach Alert] %d breach(es) detected.", len(breaches))
}

// sortKey orders rows deterministically so the same multiset of
// breaches always renders the same table.
func sortKey(b *model.Breach) string {
	return strings.Join([]string{b.Timestamp, b.FactoryName, b.ZoneName, b.DeviceID, b.SensorID}, "\x00")
}

// HTMLBody renders the breach table for one recipient. Rows are sorted
// lexicographically by (timestamp, factory, zone, device, sensor).
func HTMLBody(breaches []*model.Breach) string {
	sorted := make([]*model.Breach, len(breaches))
	copy(sorted, breaches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sortKey(sorted[i]) < sortKey(sorted[j])
	})

	var rows strings.Builder
	for _, b := range sorted {
		rows.WriteString("<tr>")
		for _, cell := range []string{
			b.FactoryName,
			b.ZoneName,
			b.MachineName,
			b.DeviceID,
			b.SensorType,
			strconv.FormatFloat(b.SensorValue, 'g', -1, 64),
			string(b.Severity),
			strconv.FormatFloat(b.ThresholdValue, 'g', -1, 64),
			b.Timestamp,
		} {
			rows.WriteString("<td>")
			rows.WriteString(cell)
			rows.WriteString("</td>")
		}
		rows.WriteString("</tr>")
	}

	return fmt.Sprintf(`<html>
<head>
<style>
    table { width: 100%%; border-collapse: collapse; }
    th, td { border: 1px solid black; padding: 8px; text-align: left; }
    th { background-color: #f2f2f2; }
    tr:nth-child(even) { background-color: #f9f9f9; }
</style>
</head>
<body>
    <p><strong>Attention:</strong></p>
    <p>The following devices have crossed their standard thresholds:</p>

    <table>
        <thead>
            <tr>
                <th>Factory Name</th>
                <th>Zone Name</th>
                <th>Machine Name</th>
                <th>Device ID</th>
                <th>Sensor Name</th>
                <th>Sensor Value</th>
                <th>Threshold Breached</th>
                <th>Threshold Value</th>
                <th>Timestamp</th>
            </tr>
        </thead>
        <tbody>
            %s
        </tbody>
    </table>

    <br><br>
    <p>Regards,<br><strong>Klvin Support Team</strong></p>
</body>
</html>`, rows.String())
}
