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

	ddgostatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/pkg/errors"
)

const (
	// StatsdName is the name of the DogStatsD publisher.
	StatsdName = "statsd"
)

// Statsd publishes reports as timestamped DogStatsD gauges.
type Statsd struct {
	client ddgostatsd.ClientInterface
}

// NewStatsd creates a publisher sending to the DogStatsD server at addr.
func NewStatsd(addr string) (*Statsd, error) {
	client, err := ddgostatsd.New(addr,
		ddgostatsd.WithNamespace(Measurement+"."),
		ddgostatsd.WithoutTelemetry(),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create statsd client for %s", addr)
	}
	return NewStatsdWithClient(client), nil
}

// NewStatsdWithClient creates a publisher using an existing client.
func NewStatsdWithClient(client ddgostatsd.ClientInterface) *Statsd {
	return &Statsd{client: client}
}

// Name returns the name of the publisher.
func (p *Statsd) Name() string {
	return StatsdName
}

// Publish sends a gauge per snapshot statistic, stamped with the snapshot
// time, and a gauge per teardown marker.
func (p *Statsd) Publish(ctx context.Context, r *Report) error {
	for _, s := range r.Snapshots {
		if err := ctx.Err(); err != nil {
			return err
		}
		ts := s.Time()
		for _, g := range []struct {
			name  string
			value float64
		}{
			{"mean", s.Mean},
			{"min", float64(s.Min)},
			{"p50", float64(s.P50)},
			{"p90", float64(s.P90)},
			{"p99", float64(s.P99)},
			{"max", float64(s.Max)},
		} {
			if err := p.client.GaugeWithTimestamp(g.name, g.value, nil, 1, ts); err != nil {
				return errors.Wrapf(err, "failed to send %s", g.name)
			}
		}
	}

	for _, m := range []struct {
		op string
		ns int64
	}{
		{OpBefore, r.Before},
		{OpAfter, r.After},
	} {
		tags := []string{"op_name:" + m.op}
		if err := p.client.GaugeWithTimestamp("foo", 1, tags, 1, timeOf(m.ns)); err != nil {
			return errors.Wrapf(err, "failed to send %s marker", m.op)
		}
	}

	return p.client.Flush()
}

// Close flushes and closes the client.
func (p *Statsd) Close() error {
	return p.client.Close()
}
