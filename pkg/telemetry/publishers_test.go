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
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	ddgostatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/stretchr/testify/require"
)

type gauge struct {
	name  string
	value float64
	tags  []string
	ts    time.Time
}

type fakeStatsd struct {
	*ddgostatsd.NoOpClient
	gauges  []gauge
	flushed bool
}

func (f *fakeStatsd) GaugeWithTimestamp(name string, value float64, tags []string, rate float64, ts time.Time) error {
	f.gauges = append(f.gauges, gauge{name: name, value: value, tags: tags, ts: ts})
	return nil
}

func (f *fakeStatsd) Flush() error {
	f.flushed = true
	return nil
}

func TestStatsd(t *testing.T) {
	client := &fakeStatsd{NoOpClient: &ddgostatsd.NoOpClient{}}
	p := NewStatsdWithClient(client)
	require.Equal(t, StatsdName, p.Name())

	require.NoError(t, p.Publish(context.Background(), testReport()))
	require.True(t, client.flushed)
	require.Len(t, client.gauges, 2*6+2)

	require.Equal(t, gauge{name: "mean", value: 200, ts: time.Unix(0, testSnapshots[0].Timestamp)}, client.gauges[0])
	require.Equal(t, "max", client.gauges[11].name)
	require.Equal(t, 1023.0, client.gauges[11].value)

	before := client.gauges[12]
	require.Equal(t, "foo", before.name)
	require.Equal(t, []string{"op_name:before"}, before.tags)
	require.Equal(t, int64(1700000000000000010), before.ts.UnixNano())
}

func TestTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tlb_test.prom")
	p := NewTextfile(path)
	require.Equal(t, TextfileName, p.Name())
	require.NoError(t, p.Publish(context.Background(), testReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	require.Contains(t, text, "# TYPE tlb_test_snapshots gauge")
	require.Contains(t, text, "tlb_test_snapshots 2\n")
	require.Contains(t, text, "tlb_test_dropped_samples 2\n")
	require.Contains(t, text, "tlb_test_race_won 1\n")
	require.Contains(t, text, `tlb_test_window_p99_nanoseconds{window="invalidation"} 87`)
	require.Contains(t, text, `tlb_test_window_p99_nanoseconds{window="worst"} 300`)
}

func TestResultsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	p := NewResultsFile(path)
	require.Equal(t, ResultsName, p.Name())

	report := testReport()
	require.NoError(t, p.Publish(context.Background(), report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	read, err := ReadResultsFile(data)
	require.NoError(t, err)
	require.Equal(t, report.Snapshots, read.Snapshots)
	require.Equal(t, report.Before, read.Before)
	require.Equal(t, report.After, read.After)
	require.Equal(t, report.Summary.InvalidationWindow, read.Summary.InvalidationWindow)
	require.Equal(t, 50*time.Microsecond, read.TeardownDuration())
}

type failingPublisher struct {
	published int
	err       error
}

func (f *failingPublisher) Name() string { return "failing" }
func (f *failingPublisher) Close() error { return f.err }
func (f *failingPublisher) Publish(context.Context, *Report) error {
	f.published++
	return f.err
}

func TestPublishAll(t *testing.T) {
	bad := &failingPublisher{err: fmt.Errorf("unreachable")}
	good := &failingPublisher{}

	err := PublishAll(context.Background(), testReport(), bad, good)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failing: unreachable")
	require.Equal(t, 1, bad.published)
	require.Equal(t, 1, good.published)

	require.NoError(t, PublishAll(context.Background(), testReport(), good))
	require.Error(t, CloseAll(good, bad))
}
