// Copyright 2023 Intel Corporation. All Rights Reserved.
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

// Package stats holds latency snapshots and the buffer collecting them.
package stats

import (
	"fmt"
	"time"
)

// Snapshot is a summary of the batch latencies recorded in one report window.
// Latencies are per-page nanoseconds.
type Snapshot struct {
	// Timestamp is the wall-clock time the window was closed, in nanoseconds
	// since the Unix epoch.
	Timestamp int64   `json:"timestamp"`
	Mean      float64 `json:"mean"`
	Min       int64   `json:"min"`
	P50       int64   `json:"p50"`
	P90       int64   `json:"p90"`
	P99       int64   `json:"p99"`
	Max       int64   `json:"max"`
}

// Time returns the timestamp of the snapshot as a time.Time.
func (s Snapshot) Time() time.Time {
	return time.Unix(0, s.Timestamp)
}

// IsZero returns true if the snapshot summarizes an empty window.
func (s Snapshot) IsZero() bool {
	return s.Min == 0 && s.Max == 0 && s.Mean == 0
}

// Ordered checks that min <= p50 <= p90 <= p99 <= max and min <= mean <= max.
func (s Snapshot) Ordered() bool {
	if !(s.Min <= s.P50 && s.P50 <= s.P90 && s.P90 <= s.P99 && s.P99 <= s.Max) {
		return false
	}
	return float64(s.Min) <= s.Mean && s.Mean <= float64(s.Max)
}

// String returns the snapshot in a human readable form.
func (s Snapshot) String() string {
	return fmt.Sprintf("mean=%.2f min=%d p50=%d p90=%d p99=%d max=%d @%d",
		s.Mean, s.Min, s.P50, s.P90, s.P99, s.Max, s.Timestamp)
}
