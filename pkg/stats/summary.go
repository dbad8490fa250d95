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

package stats

import (
	"fmt"
	"strings"
	"time"
)

const (
	// trendLength is the number of pre-invalidation windows kept for display.
	trendLength = 8
)

// Summary is the digest of a run, computed from its snapshots.
type Summary struct {
	// Snapshots is the number of snapshots collected.
	Snapshots int `json:"snapshots"`
	// Truncated is set if the buffer refused snapshots.
	Truncated bool `json:"truncated"`
	// WorstP99 is the highest p99 of any window.
	WorstP99 int64 `json:"worstP99"`
	// WorstWindow is the index of the window with the highest p99, or -1.
	WorstWindow int `json:"worstWindow"`
	// InvalidationWindow is the index of the window containing the
	// invalidation, or -1 if it was not captured.
	InvalidationWindow int `json:"invalidationWindow"`
	// InvalidationP99 is the p99 of the invalidation window.
	InvalidationP99 int64 `json:"invalidationP99"`
	// BaselineP99 is the moving average of p99 over the preceding windows.
	BaselineP99 float64 `json:"baselineP99"`
	// SpikeRatio is InvalidationP99 relative to BaselineP99, or 0.
	SpikeRatio float64 `json:"spikeRatio"`
	// Preceding are the p99s of the last windows before the invalidation.
	Preceding []float64 `json:"preceding,omitempty"`
}

// Summarize digests snapshots against the invalidation time, given in
// nanoseconds since the Unix epoch. A window is closed by its snapshot, so
// the invalidation falls into the first window closed at or after it.
func Summarize(snaps []Snapshot, invalidatedAt int64) *Summary {
	s := &Summary{
		Snapshots:          len(snaps),
		WorstWindow:        -1,
		InvalidationWindow: -1,
	}

	baseline := NewTrend(trendLength)
	for idx, snap := range snaps {
		if s.WorstWindow < 0 || snap.P99 > s.WorstP99 {
			s.WorstP99 = snap.P99
			s.WorstWindow = idx
		}
		if s.InvalidationWindow >= 0 {
			continue
		}
		if invalidatedAt > 0 && snap.Timestamp >= invalidatedAt {
			s.InvalidationWindow = idx
			s.InvalidationP99 = snap.P99
			continue
		}
		if !snap.IsZero() {
			baseline.Push(float64(snap.P99))
		}
	}

	s.BaselineP99 = baseline.EWMA()
	s.Preceding = baseline.Last(trendLength)
	if s.InvalidationWindow >= 0 && s.BaselineP99 > 0 {
		s.SpikeRatio = float64(s.InvalidationP99) / s.BaselineP99
	}

	return s
}

// Table formats the summary as an aligned, human readable table.
func (s *Summary) Table(extra ...[2]string) string {
	rows := [][2]string{
		{"snapshots", fmt.Sprintf("%d", s.Snapshots)},
		{"truncated", fmt.Sprintf("%v", s.Truncated)},
		{"worst p99", fmt.Sprintf("%v (window #%d)", time.Duration(s.WorstP99), s.WorstWindow)},
	}
	if s.InvalidationWindow >= 0 {
		rows = append(rows,
			[2]string{"invalidation window", fmt.Sprintf("#%d", s.InvalidationWindow)},
			[2]string{"invalidation p99", time.Duration(s.InvalidationP99).String()},
			[2]string{"baseline p99 (ewma)", fmt.Sprintf("%.2fns", s.BaselineP99)},
			[2]string{"spike ratio", fmt.Sprintf("%.2fx", s.SpikeRatio)},
		)
	} else {
		rows = append(rows, [2]string{"invalidation window", "not captured"})
	}
	rows = append(rows, extra...)

	width := 0
	for _, row := range rows {
		if len(row[0]) > width {
			width = len(row[0])
		}
	}

	b := &strings.Builder{}
	for _, row := range rows {
		fmt.Fprintf(b, "%-*s : %s\n", width, row[0], row[1])
	}
	return strings.TrimRight(b.String(), "\n")
}
