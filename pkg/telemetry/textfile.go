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

package telemetry

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// TextfileName is the name of the Prometheus textfile publisher.
	TextfileName = "prom-textfile"
)

// Textfile writes the run summary for the node exporter textfile collector.
type Textfile struct {
	path string
}

// NewTextfile creates a publisher writing to path.
func NewTextfile(path string) *Textfile {
	return &Textfile{path: path}
}

// Name returns the name of the publisher.
func (p *Textfile) Name() string {
	return TextfileName
}

// Publish writes the summary of the report as gauges.
func (p *Textfile) Publish(ctx context.Context, r *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	gauge := func(name, help string, value float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Measurement,
			Name:      name,
			Help:      help,
		})
		g.Set(value)
		reg.MustRegister(g)
	}
	window := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Measurement,
		Name:      "window_p99_nanoseconds",
		Help:      "Per-page batch latency p99 of selected report windows.",
	}, []string{"window"})
	reg.MustRegister(window)

	gauge("snapshots", "Number of latency snapshots collected.", float64(len(r.Snapshots)))
	gauge("dropped_samples", "Number of latencies dropped as out of range.", float64(r.Dropped))
	gauge("teardown_seconds", "Duration of the region teardown.", r.TeardownDuration().Seconds())
	gauge("race_won", "Whether the worker was measuring when the teardown started.", boolValue(r.RaceWon))

	if s := r.Summary; s != nil {
		gauge("truncated", "Whether snapshots were dropped for lack of buffer space.", boolValue(s.Truncated))
		gauge("baseline_p99_nanoseconds", "Moving average of p99 before the teardown.", s.BaselineP99)
		gauge("spike_ratio", "Teardown window p99 relative to the baseline.", s.SpikeRatio)
		if s.WorstWindow >= 0 {
			window.WithLabelValues("worst").Set(float64(s.WorstP99))
		}
		if s.InvalidationWindow >= 0 {
			window.WithLabelValues("invalidation").Set(float64(s.InvalidationP99))
		}
	}

	if err := prometheus.WriteToTextfile(p.path, reg); err != nil {
		return errors.Wrapf(err, "failed to write %s", p.path)
	}
	return nil
}

// Close is a no-op.
func (p *Textfile) Close() error {
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
