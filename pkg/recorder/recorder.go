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

// Package recorder aggregates batch latencies into percentile snapshots.
package recorder

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/intel/tlb-shootdown/pkg/stats"
)

const (
	// LowestValue is the lowest recordable latency in nanoseconds.
	LowestValue = 1
	// HighestValue is the highest recordable latency in nanoseconds (1 hour).
	HighestValue = 3600000000
	// SignificantFigures is the precision of recorded values.
	SignificantFigures = 3
)

// Recorder is a latency histogram drained into snapshots. It is not safe
// for concurrent use: only the measurement worker records and drains.
type Recorder struct {
	h       *hdrhistogram.Histogram
	dropped int64
	now     func() time.Time
}

// New creates a recorder for the range [LowestValue, HighestValue].
func New() *Recorder {
	return &Recorder{
		h:   hdrhistogram.New(LowestValue, HighestValue, SignificantFigures),
		now: time.Now,
	}
}

// Record adds a latency in nanoseconds. Values out of range are dropped.
func (r *Recorder) Record(ns int64) {
	if ns < LowestValue || ns > HighestValue {
		r.dropped++
		return
	}
	if err := r.h.RecordValue(ns); err != nil {
		r.dropped++
	}
}

// Count returns the number of values recorded since the last drain.
func (r *Recorder) Count() int64 {
	return r.h.TotalCount()
}

// Dropped returns the number of values dropped as out of range.
func (r *Recorder) Dropped() int64 {
	return r.dropped
}

// Drain returns a snapshot of the values recorded since the last drain,
// then resets the histogram. An empty histogram drains to an all-zero
// snapshot with only the timestamp set.
func (r *Recorder) Drain() stats.Snapshot {
	s := stats.Snapshot{
		Timestamp: r.now().UnixNano(),
	}

	if r.h.TotalCount() > 0 {
		s.Mean = r.h.Mean()
		s.Min = r.h.Min()
		s.P50 = r.h.ValueAtQuantile(50)
		s.P90 = r.h.ValueAtQuantile(90)
		s.P99 = r.h.ValueAtQuantile(99)
		s.Max = r.h.Max()
	}

	r.h.Reset()

	return s
}
