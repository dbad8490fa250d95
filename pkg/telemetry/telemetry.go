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

// Package telemetry publishes the results of a measurement run.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	logger "github.com/intel/tlb-shootdown/pkg/log"
	"github.com/intel/tlb-shootdown/pkg/stats"
)

const (
	// Measurement is the name results are published under.
	Measurement = "tlb_test"
	// OpBefore tags the timestamp taken right before the teardown.
	OpBefore = "before"
	// OpAfter tags the timestamp taken right after the teardown.
	OpAfter = "after"
)

var log = logger.NewLogger("telemetry")

// Report is the outcome of a measurement run.
type Report struct {
	// Snapshots are the collected latency snapshots, in order.
	Snapshots []stats.Snapshot `json:"snapshots"`
	// Before and After bracket the teardown, in nanoseconds since the epoch.
	Before int64 `json:"before"`
	After  int64 `json:"after"`
	// Summary is the digest of the snapshots.
	Summary *stats.Summary `json:"summary,omitempty"`
	// Dropped is the number of latencies dropped as out of range.
	Dropped int64 `json:"dropped"`
	// RaceWon is set if the worker was measuring when the teardown started.
	RaceWon bool `json:"raceWon"`
	// Backing is the region backing kind.
	Backing string `json:"backing"`
	// WorkerCPU and TriggerCPU are the CPUs of the two threads.
	WorkerCPU  int `json:"workerCPU"`
	TriggerCPU int `json:"triggerCPU"`
}

// TeardownDuration returns how long the teardown took.
func (r *Report) TeardownDuration() time.Duration {
	return time.Duration(r.After - r.Before)
}

// Publisher publishes a report to a destination.
type Publisher interface {
	// Name returns the name of the destination.
	Name() string
	// Publish sends the report.
	Publish(ctx context.Context, r *Report) error
	// Close releases the resources of the publisher.
	Close() error
}

// PublishAll publishes the report with every publisher. Publishing is best
// effort: a failing publisher does not stop the others, and all errors are
// collected into the returned one.
func PublishAll(ctx context.Context, r *Report, publishers ...Publisher) error {
	var result *multierror.Error
	for _, p := range publishers {
		log.Debug("publishing with %s...", p.Name())
		if err := p.Publish(ctx, r); err != nil {
			log.Warn("failed to publish with %s: %v", p.Name(), err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// CloseAll closes all publishers.
func CloseAll(publishers ...Publisher) error {
	var result *multierror.Error
	for _, p := range publishers {
		if err := p.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

func telemetryError(format string, args ...interface{}) error {
	return fmt.Errorf("telemetry: "+format, args...)
}
