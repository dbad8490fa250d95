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

// Package trigger tears down a memory region from a pinned thread while the
// measurement worker runs, recording when it happened.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/intel/tlb-shootdown/pkg/affinity"
	logger "github.com/intel/tlb-shootdown/pkg/log"
)

// Target is the memory region torn down by the trigger. Only Unmap is
// bracketed by the marker timestamps.
type Target interface {
	Unmap() error
}

// Releaser is implemented by targets holding resources beyond the mapping.
// Release is called once the marker is taken.
type Releaser interface {
	Release() error
}

// Marker brackets the teardown call with timestamps taken right before and
// after it. Both carry a monotonic clock reading.
type Marker struct {
	Before time.Time
	After  time.Time
}

// Trigger fires a single teardown once its gate opens.
type Trigger struct {
	sync.Mutex
	logger.Logger
	cpu   int
	gate  ReadyGate
	pin   affinity.PinFn
	fired bool
}

// ErrFired is returned when a trigger is fired twice.
var ErrFired = errors.New("trigger already fired")

// New creates a trigger pinning to cpu and waiting on gate.
func New(cpu int, gate ReadyGate, pin affinity.PinFn) *Trigger {
	if pin == nil {
		pin = affinity.Pin
	}
	return &Trigger{
		Logger: logger.NewLogger("trigger"),
		cpu:    cpu,
		gate:   gate,
		pin:    pin,
	}
}

// Fire waits for the gate, pins the calling goroutine to the trigger CPU and
// tears target down, recording timestamps around the teardown. The calling
// goroutine is unpinned before Fire returns.
func (t *Trigger) Fire(ctx context.Context, target Target) (Marker, error) {
	t.Lock()
	defer t.Unlock()

	if t.fired {
		return Marker{}, ErrFired
	}

	t.Debug("waiting for gate (%s)", t.gate)
	if err := t.gate.Wait(ctx); err != nil {
		return Marker{}, errors.Wrap(err, "ready gate failed")
	}

	pinned, err := t.pin(t.cpu)
	if err != nil {
		return Marker{}, errors.Wrapf(err, "failed to pin trigger to CPU #%d", t.cpu)
	}
	defer func() {
		if err := pinned.Unpin(); err != nil {
			t.Warn("%v", err)
		}
	}()

	t.fired = true

	before := time.Now()
	err = target.Unmap()
	after := time.Now()

	m := Marker{Before: before, After: after}
	if err != nil {
		return m, errors.Wrap(err, "teardown failed")
	}

	if r, ok := target.(Releaser); ok {
		if err := r.Release(); err != nil {
			return m, errors.Wrap(err, "teardown failed")
		}
	}

	t.Debug("teardown took %v", m.Duration())

	return m, nil
}

// Duration returns how long the teardown took.
func (m Marker) Duration() time.Duration {
	return m.After.Sub(m.Before)
}

// IsZero returns true if the marker was never recorded.
func (m Marker) IsZero() bool {
	return m.Before.IsZero() && m.After.IsZero()
}

// RaceWon reports whether the worker had entered its steady state, at
// steadySince, before the teardown started.
func (m Marker) RaceWon(steadySince time.Time) bool {
	if steadySince.IsZero() || m.Before.IsZero() {
		return false
	}
	return steadySince.Before(m.Before)
}
