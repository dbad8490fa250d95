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

package toucher

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/tlb-shootdown/pkg/affinity"
	"github.com/intel/tlb-shootdown/pkg/recorder"
	"github.com/intel/tlb-shootdown/pkg/stats"
)

type memory []byte

func (m memory) Bytes() []byte {
	return m
}

func fakePin(pinned *int) affinity.PinFn {
	return func(cpu int) (*affinity.Pinned, error) {
		*pinned = cpu
		return &affinity.Pinned{CPU: cpu}, nil
	}
}

func runToCompletion(t *testing.T, w *Worker) {
	require.NoError(t, w.Start())
	select {
	case <-w.Done():
	case <-time.After(30 * time.Second):
		w.Stop()
		t.Fatalf("worker did not finish")
	}
	require.NoError(t, w.Err())
	require.Equal(t, Stopped, w.State())
}

func TestGeometry(t *testing.T) {
	g := Geometry{PageSize: 4096, BatchPages: 16, ReportBytes: 128 << 20}
	require.NoError(t, g.Validate())
	require.Equal(t, 64<<10, g.BatchBytes())
	require.Equal(t, 16384, g.FullBatches(1<<30))
	require.Equal(t, 2048, g.BatchesPerReport())

	require.Equal(t, 0, g.FullBatches(g.BatchBytes()-1))
	require.Equal(t, 1, g.FullBatches(2*g.BatchBytes()-1))
	require.Equal(t, 0, g.FullBatches(0))

	require.Error(t, Geometry{PageSize: 0, BatchPages: 16, ReportBytes: 1 << 20}.Validate())
	require.Error(t, Geometry{PageSize: 4096, BatchPages: 0, ReportBytes: 1 << 20}.Validate())
	require.Error(t, Geometry{PageSize: 4096, BatchPages: 16, ReportBytes: 4096}.Validate())
}

func TestTraversalBounds(t *testing.T) {
	g := Geometry{PageSize: 64, BatchPages: 4, ReportBytes: 1024}
	warm := make(memory, 1000)
	steady := make(memory, 2100)
	cpu := -1

	w, err := New(Options{
		CPU:       7,
		Geometry:  g,
		Warmup:    warm,
		Steady:    steady,
		Recorder:  recorder.New(),
		Buffer:    stats.NewBuffer(100),
		Pin:       fakePin(&cpu),
		MaxPasses: 1,
	})
	require.NoError(t, err)
	runToCompletion(t, w)
	require.Equal(t, 7, cpu)

	check := func(name string, mem memory, full int) {
		for off, b := range mem {
			switch {
			case off >= full*g.BatchBytes():
				require.Equal(t, byte(0), b, "%s: byte %d beyond the last full batch", name, off)
			case off%g.PageSize == 0:
				require.Equal(t, byte(Marker), b, "%s: first byte of page at %d", name, off)
			default:
				require.Equal(t, byte(0), b, "%s: byte %d inside a page", name, off)
			}
		}
	}
	check("warm-up", warm, 3)
	check("steady", steady, 8)

	require.Equal(t, Batches{Warmup: 3, Steady: 8, Passes: 1}, w.Batches())
}

func TestRecordsOnlySteadyBatches(t *testing.T) {
	g := Geometry{PageSize: 64, BatchPages: 4, ReportBytes: 1 << 20}
	rec := recorder.New()
	cpu := -1

	w, err := New(Options{
		Geometry:  g,
		Warmup:    make(memory, 4096),
		Steady:    make(memory, 2048),
		Recorder:  rec,
		Buffer:    stats.NewBuffer(10),
		Pin:       fakePin(&cpu),
		MaxPasses: 2,
	})
	require.NoError(t, err)
	runToCompletion(t, w)

	b := w.Batches()
	require.Equal(t, int64(16), b.Warmup)
	require.Equal(t, int64(16), b.Steady)
	require.Equal(t, b.Steady, rec.Count()+rec.Dropped(), "one record per steady batch")
}

// The first snapshot is taken exactly when ReportBytes have been touched.
func TestReportCadence(t *testing.T) {
	// 1 GiB regions, 64 KiB batches and 128 MiB reports, scaled down 1024x
	g := Geometry{PageSize: 64, BatchPages: 16, ReportBytes: 128 << 10}
	require.Equal(t, 1024, g.FullBatches(1<<20))
	require.Equal(t, 128, g.BatchesPerReport())

	tcases := []struct {
		batches   int
		passes    int
		snapshots int
	}{
		{batches: 127, passes: 1, snapshots: 0},
		{batches: 128, passes: 1, snapshots: 1},
		{batches: 255, passes: 1, snapshots: 1},
		{batches: 256, passes: 1, snapshots: 2},
		{batches: 1024, passes: 1, snapshots: 8},
		// bytes since the last snapshot carry over into the next pass
		{batches: 96, passes: 4, snapshots: 3},
	}
	for _, tc := range tcases {
		t.Run(fmt.Sprintf("%d batches x %d passes", tc.batches, tc.passes), func(t *testing.T) {
			buf := stats.NewBuffer(100)
			cpu := -1
			w, err := New(Options{
				Geometry:  g,
				Warmup:    make(memory, 1<<20),
				Steady:    make(memory, tc.batches*g.BatchBytes()),
				Recorder:  recorder.New(),
				Buffer:    buf,
				Pin:       fakePin(&cpu),
				MaxPasses: tc.passes,
			})
			require.NoError(t, err)
			runToCompletion(t, w)

			require.Equal(t, int64(1024), w.Batches().Warmup)
			require.Equal(t, int64(tc.batches*tc.passes), w.Batches().Steady)
			require.Equal(t, tc.snapshots, buf.Len())
			for _, s := range buf.Snapshots() {
				require.True(t, s.Ordered(), "snapshot %s", s)
			}
		})
	}
}

func TestStop(t *testing.T) {
	g := Geometry{PageSize: 64, BatchPages: 4, ReportBytes: 1024}
	cpu := -1
	w, err := New(Options{
		Geometry: g,
		Warmup:   make(memory, 4096),
		Steady:   make(memory, 4096),
		Recorder: recorder.New(),
		Buffer:   stats.NewBuffer(10),
		Pin:      fakePin(&cpu),
	})
	require.NoError(t, err)
	require.Equal(t, Pinning, w.State())
	require.True(t, w.SteadySince().IsZero())

	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return w.opts.Buffer.Truncated() },
		10*time.Second, time.Millisecond)
	require.Equal(t, Steady, w.State())
	require.False(t, w.SteadySince().IsZero())

	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("worker did not stop")
	}
	require.NoError(t, w.Err())
	require.Equal(t, Stopped, w.State())

	// the buffer overflowed while running unbounded, existing data is kept
	require.Equal(t, 10, w.opts.Buffer.Len())
	require.Greater(t, w.Batches().Steady, int64(40))
}

func TestPinFailure(t *testing.T) {
	w, err := New(Options{
		CPU:      3,
		Geometry: Geometry{PageSize: 64, BatchPages: 4, ReportBytes: 1024},
		Warmup:   make(memory, 4096),
		Steady:   make(memory, 4096),
		Recorder: recorder.New(),
		Buffer:   stats.NewBuffer(10),
		Pin: func(cpu int) (*affinity.Pinned, error) {
			return nil, fmt.Errorf("no CPU #%d", cpu)
		},
	})
	require.NoError(t, err)
	require.Error(t, w.Start())
	<-w.Done()
	require.Error(t, w.Err())
	require.Equal(t, Stopped, w.State())
	require.Equal(t, Batches{}, w.Batches())
}

func TestNewInvalid(t *testing.T) {
	g := Geometry{PageSize: 64, BatchPages: 4, ReportBytes: 1024}
	tcases := []struct {
		name string
		opts Options
	}{
		{
			name: "invalid geometry",
			opts: Options{Geometry: Geometry{}, Warmup: make(memory, 4096), Steady: make(memory, 4096),
				Recorder: recorder.New(), Buffer: stats.NewBuffer(1)},
		},
		{
			name: "missing region",
			opts: Options{Geometry: g, Warmup: make(memory, 4096),
				Recorder: recorder.New(), Buffer: stats.NewBuffer(1)},
		},
		{
			name: "missing buffer",
			opts: Options{Geometry: g, Warmup: make(memory, 4096), Steady: make(memory, 4096),
				Recorder: recorder.New()},
		},
		{
			name: "steady region below a batch",
			opts: Options{Geometry: g, Warmup: make(memory, 4096), Steady: make(memory, 255),
				Recorder: recorder.New(), Buffer: stats.NewBuffer(1)},
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.opts)
			require.Error(t, err)
		})
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "warm-up", Warmup.String())
	require.Equal(t, "steady", Steady.String())
}
