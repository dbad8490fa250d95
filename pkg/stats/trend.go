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
	"container/ring"

	"github.com/VividCortex/ewma"
)

// Trend tracks the recent history of a latency series together with its
// exponentially weighted moving average.
type Trend struct {
	r  *ring.Ring
	n  int // number of samples in the ring
	ma ewma.MovingAverage
}

// NewTrend creates a trend keeping the last ringlen samples.
func NewTrend(ringlen int) *Trend {
	if ringlen < 1 {
		ringlen = 1
	}
	// Note: a simple EWMA has no warm-up period, its first sample seeds it.
	return &Trend{
		r:  ring.New(ringlen),
		ma: ewma.NewMovingAverage(),
	}
}

// Push adds a sample to the trend.
func (t *Trend) Push(v float64) {
	t.r.Value = v
	t.ma.Add(v)
	t.r = t.r.Next()
	if t.n < t.r.Len() {
		t.n++
	}
}

// EWMA returns the current moving average.
func (t *Trend) EWMA() float64 {
	return t.ma.Value()
}

// Len returns the number of samples kept.
func (t *Trend) Len() int {
	return t.n
}

// Last returns the last count samples, oldest first.
func (t *Trend) Last(count int) []float64 {
	if count > t.n {
		count = t.n
	}
	if count < 0 {
		count = 0
	}

	samples := make([]float64, count)
	r := t.r.Move(-count)
	for i := 0; i < count; i++ {
		samples[i] = r.Value.(float64)
		r = r.Next()
	}

	return samples
}
