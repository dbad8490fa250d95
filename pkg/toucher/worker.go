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
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/intel/tlb-shootdown/pkg/affinity"
	logger "github.com/intel/tlb-shootdown/pkg/log"
	"github.com/intel/tlb-shootdown/pkg/recorder"
	"github.com/intel/tlb-shootdown/pkg/stats"
)

// Marker is the byte written to the first byte of every touched page.
const Marker = 0xAA

// State is the state of the worker.
type State int32

const (
	// Pinning is the state before the worker thread is pinned.
	Pinning State = iota
	// Warmup is the untimed pass over the warm-up region.
	Warmup
	// Steady is the endless, timed traversal of the steady region.
	Steady
	// Stopped is the final state.
	Stopped
)

// ErrRegionFault is the worker error when a region faults under it, which
// happens when the warm-up region is torn down before the warm-up pass ends.
var ErrRegionFault = errors.New("memory region faulted during traversal")

// Memory is a region of memory traversed by the worker.
type Memory interface {
	Bytes() []byte
}

// Options configure a Worker.
type Options struct {
	// CPU is the CPU to pin the worker to.
	CPU int
	// Geometry is the traversal geometry.
	Geometry Geometry
	// Warmup is the region traversed once, untimed (region A). The memory of
	// both regions is captured when the worker is created.
	Warmup Memory
	// Steady is the region traversed endlessly, timed (region B).
	Steady Memory
	// Recorder receives per-page batch latencies.
	Recorder *recorder.Recorder
	// Buffer receives a snapshot every Geometry.ReportBytes.
	Buffer *stats.Buffer
	// Pin overrides affinity.Pin.
	Pin affinity.PinFn
	// MaxPasses stops the worker after this many steady passes, if non-zero.
	MaxPasses int
}

// Batches are the per-phase batch counters of a worker.
type Batches struct {
	Warmup int64
	Steady int64
	Passes int64
}

// Worker touches one byte per page of its regions in fixed-size batches,
// timing each steady batch.
type Worker struct {
	logger.Logger
	opts        Options
	warmMem     []byte
	steadyMem   []byte
	state       int32
	stop        int32
	steadySince int64
	warmup      int64
	steady      int64
	passes      int64
	err         error
	started     chan error
	done        chan struct{}
}

// New creates a worker.
func New(opts Options) (*Worker, error) {
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}
	if opts.Warmup == nil || opts.Steady == nil {
		return nil, toucherError("both a warm-up and a steady region are needed")
	}
	if opts.Recorder == nil || opts.Buffer == nil {
		return nil, toucherError("a recorder and a snapshot buffer are needed")
	}
	warmMem, steadyMem := opts.Warmup.Bytes(), opts.Steady.Bytes()
	if opts.Geometry.FullBatches(len(steadyMem)) == 0 {
		return nil, toucherError("steady region smaller than a single batch")
	}
	if opts.Pin == nil {
		opts.Pin = affinity.Pin
	}

	return &Worker{
		Logger:    logger.NewLogger("toucher"),
		opts:      opts,
		warmMem:   warmMem,
		steadyMem: steadyMem,
		started:   make(chan error, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start spawns the worker and waits until it is pinned to its CPU.
func (w *Worker) Start() error {
	go w.run()

	if err := <-w.started; err != nil {
		<-w.done
		return err
	}
	return nil
}

// Stop asks the worker to stop. The worker notices it before its next batch.
func (w *Worker) Stop() {
	atomic.StoreInt32(&w.stop, 1)
}

// Done returns a channel closed once the worker has stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the error which stopped the worker, if any. It is only valid
// once Done is closed.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// State returns the current state of the worker.
func (w *Worker) State() State {
	return State(atomic.LoadInt32(&w.state))
}

// SteadySince returns the time the worker entered Steady, or the zero time.
func (w *Worker) SteadySince() time.Time {
	ns := atomic.LoadInt64(&w.steadySince)
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Batches returns the batch counters. Steady counters are published at every
// snapshot and when the worker stops.
func (w *Worker) Batches() Batches {
	return Batches{
		Warmup: atomic.LoadInt64(&w.warmup),
		Steady: atomic.LoadInt64(&w.steady),
		Passes: atomic.LoadInt64(&w.passes),
	}
}

func (w *Worker) setState(state State) {
	atomic.StoreInt32(&w.state, int32(state))
}

func (w *Worker) stopping() bool {
	return atomic.LoadInt32(&w.stop) != 0
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.setState(Stopped)

	if _, err := w.opts.Pin(w.opts.CPU); err != nil {
		w.err = errors.Wrapf(err, "failed to pin worker to CPU #%d", w.opts.CPU)
		w.started <- w.err
		return
	}
	// The thread stays pinned and locked until the goroutine exits, then
	// the runtime discards it.
	w.started <- nil

	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if p := recover(); p != nil {
			if _, ok := p.(interface{ Addr() uintptr }); !ok {
				panic(p)
			}
			w.err = errors.Wrapf(ErrRegionFault, "in %s state: %v", w.State(), p)
			w.Error("%v", w.err)
		}
	}()

	w.Debug("pinned to CPU #%d, %s", w.opts.CPU, w.opts.Geometry)

	w.setState(Warmup)
	if !w.warmupPass(w.warmMem) {
		return
	}

	atomic.StoreInt64(&w.steadySince, time.Now().UnixNano())
	w.setState(Steady)
	w.Info("Finished writing into the first file. Switching to the second...")

	w.steadyPasses(w.steadyMem)
}

// warmupPass traverses mem once without timing. It returns false if the
// worker was stopped before completing the pass.
func (w *Worker) warmupPass(mem []byte) bool {
	var (
		pageSize   = w.opts.Geometry.PageSize
		batchBytes = w.opts.Geometry.BatchBytes()
		batches    int64
	)

	defer func() { atomic.StoreInt64(&w.warmup, batches) }()

	for off := 0; off+batchBytes <= len(mem); off += batchBytes {
		if w.stopping() {
			return false
		}
		touch(mem[off:off+batchBytes], pageSize)
		batches++
	}

	return true
}

// steadyPasses traverses mem repeatedly, timing every batch, until stopped.
func (w *Worker) steadyPasses(mem []byte) {
	var (
		pageSize    = w.opts.Geometry.PageSize
		batchBytes  = w.opts.Geometry.BatchBytes()
		batchPages  = int64(w.opts.Geometry.BatchPages)
		reportBytes = w.opts.Geometry.ReportBytes
		rec         = w.opts.Recorder
		sinceReport = 0
		batches     int64
		passes      int64
	)

	defer func() {
		atomic.StoreInt64(&w.steady, batches)
		atomic.StoreInt64(&w.passes, passes)
	}()

	for {
		for off := 0; off+batchBytes <= len(mem); off += batchBytes {
			if w.stopping() {
				return
			}

			start := time.Now()
			touch(mem[off:off+batchBytes], pageSize)
			elapsed := time.Since(start)

			rec.Record(int64(elapsed) / batchPages)
			batches++

			sinceReport += batchBytes
			if sinceReport >= reportBytes {
				sinceReport -= reportBytes
				w.snapshot()
				atomic.StoreInt64(&w.steady, batches)
			}
		}

		passes++
		atomic.StoreInt64(&w.passes, passes)
		if w.opts.MaxPasses > 0 && passes >= int64(w.opts.MaxPasses) {
			return
		}
	}
}

func (w *Worker) snapshot() {
	// overflow is logged once by the buffer, the worker keeps measuring
	_ = w.opts.Buffer.Append(w.opts.Recorder.Drain())
}

// touch writes Marker into the first byte of every page of batch.
func touch(batch []byte, pageSize int) {
	for i := 0; i < len(batch); i += pageSize {
		batch[i] = Marker
	}
}

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case Pinning:
		return "pinning"
	case Warmup:
		return "warm-up"
	case Steady:
		return "steady"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("<unknown state %d>", int32(s))
}
