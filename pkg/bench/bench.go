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

// Package bench runs a single TLB shootdown measurement, from allocating the
// memory regions to publishing the results.
package bench

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/intel/tlb-shootdown/pkg/affinity"
	"github.com/intel/tlb-shootdown/pkg/config"
	logger "github.com/intel/tlb-shootdown/pkg/log"
	"github.com/intel/tlb-shootdown/pkg/recorder"
	"github.com/intel/tlb-shootdown/pkg/region"
	"github.com/intel/tlb-shootdown/pkg/stats"
	"github.com/intel/tlb-shootdown/pkg/sysfs"
	"github.com/intel/tlb-shootdown/pkg/telemetry"
	"github.com/intel/tlb-shootdown/pkg/toucher"
	"github.com/intel/tlb-shootdown/pkg/trigger"
)

// Region is a memory region of a run.
type Region interface {
	Bytes() []byte
	Unmap() error
	Release() error
	Teardown() error
	String() string
}

// RegionFn creates the region with the given index (0 for A, 1 for B).
type RegionFn func(cfg *config.Config, idx, node, size int) (Region, error)

// Run is the context of a single measurement run.
type Run struct {
	logger.Logger
	cfg        *config.Config
	geometry   toucher.Geometry
	regionSize int
	capacity   int
	newRegion  RegionFn
	pin        affinity.PinFn
	gate       trigger.ReadyGate
	publishers []telemetry.Publisher
	sys        *sysfs.System
	out        io.Writer

	phase    int32
	node     int
	regions  []Region
	recorder *recorder.Recorder
	buffer   *stats.Buffer
	worker   *toucher.Worker
	marker   trigger.Marker
}

// Option is an option for a Run.
type Option func(*Run)

// WithGeometry overrides the traversal geometry and the size of the regions.
func WithGeometry(g toucher.Geometry, regionSize int) Option {
	return func(r *Run) {
		r.geometry = g
		r.regionSize = regionSize
	}
}

// WithBufferCapacity overrides the capacity of the snapshot buffer.
func WithBufferCapacity(capacity int) Option {
	return func(r *Run) {
		r.capacity = capacity
	}
}

// WithRegionFn overrides how regions are created.
func WithRegionFn(fn RegionFn) Option {
	return func(r *Run) {
		r.newRegion = fn
	}
}

// WithPin overrides how threads are pinned to CPUs.
func WithPin(pin affinity.PinFn) Option {
	return func(r *Run) {
		r.pin = pin
	}
}

// WithGate overrides the ready gate derived from the configuration.
func WithGate(gate trigger.ReadyGate) Option {
	return func(r *Run) {
		r.gate = gate
	}
}

// WithPublishers sets the destinations of the results.
func WithPublishers(publishers ...telemetry.Publisher) Option {
	return func(r *Run) {
		r.publishers = publishers
	}
}

// WithSystem sets the system used for the topology preflight. Without it the
// topology is discovered from sysfs.
func WithSystem(sys *sysfs.System) Option {
	return func(r *Run) {
		r.sys = sys
	}
}

// WithOutput redirects the progress messages of the run.
func WithOutput(w io.Writer) Option {
	return func(r *Run) {
		r.out = w
	}
}

// New creates a run for the given configuration.
func New(cfg *config.Config, opts ...Option) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Run{
		Logger:     logger.NewLogger("bench"),
		cfg:        cfg,
		geometry:   toucher.DefaultGeometry(),
		regionSize: config.RegionSize,
		capacity:   config.SnapshotCapacity,
		newRegion:  NewRegion,
		pin:        affinity.Pin,
		out:        os.Stdout,
		node:       -1,
	}
	for _, o := range opts {
		o(r)
	}

	if r.gate == nil {
		r.gate = NewGate(cfg)
	}
	if err := r.geometry.Validate(); err != nil {
		return nil, err
	}
	if r.geometry.FullBatches(r.regionSize) == 0 {
		return nil, benchError("region size %d is smaller than a batch (%d)",
			r.regionSize, r.geometry.BatchBytes())
	}

	return r, nil
}

// NewRegion creates a region with the backing configured in cfg.
func NewRegion(cfg *config.Config, idx, node, size int) (Region, error) {
	var (
		reg *region.Region
		err error
	)
	switch cfg.Backing {
	case config.BackingNUMA:
		reg, err = region.NewNUMALocal(node, size)
	default:
		reg, err = region.NewMappedFile(cfg.RegionFiles[idx], size)
	}
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// NewGate creates the ready gate configured in cfg.
func NewGate(cfg *config.Config) trigger.ReadyGate {
	if cfg.Gate == config.GatePrompt {
		return &trigger.PromptGate{}
	}
	return &trigger.DelayGate{Delay: cfg.WarmupDelay.Std()}
}

// Phase returns the current phase of the run.
func (r *Run) Phase() Phase {
	return Phase(atomic.LoadInt32(&r.phase))
}

func (r *Run) enter(phase Phase) {
	old := Phase(atomic.SwapInt32(&r.phase, int32(phase)))
	r.Info("%s -> %s", old, phase)
}

func (r *Run) console(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

// Execute performs the run and returns its report. Execute can only be
// called once. Any failure before publishing aborts the run.
func (r *Run) Execute(ctx context.Context) (*telemetry.Report, error) {
	if r.Phase() != Init || r.recorder != nil {
		return nil, benchError("run already executed")
	}
	defer r.cleanup()

	steps := []struct {
		phase Phase
		fn    func(context.Context) error
	}{
		{Init, r.init},
		{AllocateRegions, r.allocateRegions},
		{SpawnWorker, r.spawnWorker},
		{AwaitWarmup, r.invalidate},
		{DrainSettle, r.drainSettle},
	}

	for _, step := range steps {
		if step.phase != Init {
			r.enter(step.phase)
		}
		if err := step.fn(ctx); err != nil {
			return nil, errors.Wrapf(err, "%s failed", r.Phase())
		}
	}

	r.enter(Publish)
	report := r.report()
	r.console("Publishing %d data points...", len(report.Snapshots))
	if err := telemetry.PublishAll(ctx, report, r.publishers...); err != nil {
		r.Warn("failed to publish some results: %v", err)
	}

	r.enter(Done)
	r.console("Finished")

	return report, nil
}

func (r *Run) init(ctx context.Context) error {
	r.recorder = recorder.New()
	r.buffer = stats.NewBuffer(r.capacity)

	if r.sys == nil {
		sys, err := sysfs.DiscoverSystem()
		if err != nil {
			if r.cfg.Backing == config.BackingNUMA {
				return errors.Wrap(err, "failed to discover NUMA topology")
			}
			r.Warn("skipping topology checks: %v", err)
			return nil
		}
		r.sys = sys
	}

	notIsolated, err := r.sys.CheckCPUs(r.cfg.WorkerCPU, r.cfg.TriggerCPU)
	if err != nil {
		return err
	}
	if notIsolated.Size() > 0 {
		r.Warn("CPUs %s are not isolated, expect noisy results", notIsolated.String())
	}

	if r.cfg.Backing == config.BackingNUMA {
		if r.node, err = r.sys.CPUNode(r.cfg.WorkerCPU); err != nil {
			return err
		}
		r.Info("worker CPU #%d is on NUMA node #%d", r.cfg.WorkerCPU, r.node)
	}

	return nil
}

func (r *Run) allocateRegions(ctx context.Context) error {
	r.console("Creating mappings...")
	for idx := 0; idx < 2; idx++ {
		reg, err := r.newRegion(r.cfg, idx, r.node, r.regionSize)
		if err != nil {
			return errors.Wrapf(err, "failed to create region %c", 'A'+idx)
		}
		r.regions = append(r.regions, reg)
		r.Debug("created region %c: %s", 'A'+idx, reg)
	}
	return nil
}

func (r *Run) spawnWorker(ctx context.Context) error {
	w, err := toucher.New(toucher.Options{
		CPU:      r.cfg.WorkerCPU,
		Geometry: r.geometry,
		Warmup:   r.regions[0],
		Steady:   r.regions[1],
		Recorder: r.recorder,
		Buffer:   r.buffer,
		Pin:      r.pin,
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	r.worker = w
	r.console("Spawned writer thread...")
	return nil
}

// phaseGate enters TriggerInvalidation once the gate of the run opens.
type phaseGate struct {
	trigger.ReadyGate
	r *Run
}

func (g *phaseGate) Wait(ctx context.Context) error {
	if err := g.ReadyGate.Wait(ctx); err != nil {
		return err
	}
	g.r.enter(TriggerInvalidation)
	return nil
}

// invalidate fires the trigger once the gate opens, aborting if the worker
// exits while the gate is closed.
func (r *Run) invalidate(ctx context.Context) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-r.worker.Done():
			cancel()
		case <-wctx.Done():
		}
	}()

	t := trigger.New(r.cfg.TriggerCPU, &phaseGate{ReadyGate: r.gate, r: r}, r.pin)
	marker, err := t.Fire(wctx, r.regions[0])
	if err != nil {
		if r.Phase() == AwaitWarmup && ctx.Err() == nil {
			select {
			case <-r.worker.Done():
				if werr := r.worker.Err(); werr != nil {
					return werr
				}
				return benchError("worker exited prematurely")
			default:
			}
		}
		return err
	}

	r.marker = marker
	if !marker.RaceWon(r.worker.SteadySince()) {
		r.Warn("region A was torn down before the worker started measuring")
	}
	return nil
}

func (r *Run) drainSettle(ctx context.Context) error {
	if settle := r.cfg.SettleDelay.Std(); settle > 0 {
		timer := time.NewTimer(settle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	r.worker.Stop()
	if !r.waitWorker(r.cfg.StopTimeout.Std()) {
		r.Warn("worker did not stop in %v, using the snapshots published so far",
			r.cfg.StopTimeout.Std())
		return nil
	}

	b := r.worker.Batches()
	r.Debug("worker stopped: %d warm-up batches, %d steady batches in %d passes",
		b.Warmup, b.Steady, b.Passes)

	return r.worker.Err()
}

func (r *Run) waitWorker(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.worker.Done():
		return true
	case <-timer.C:
		return false
	}
}

func (r *Run) report() *telemetry.Report {
	snaps := r.buffer.Snapshots()
	summary := stats.Summarize(snaps, r.marker.Before.UnixNano())
	summary.Truncated = r.buffer.Truncated()

	return &telemetry.Report{
		Snapshots:  snaps,
		Before:     r.marker.Before.UnixNano(),
		After:      r.marker.After.UnixNano(),
		Summary:    summary,
		Dropped:    r.recorder.Dropped(),
		RaceWon:    r.marker.RaceWon(r.worker.SteadySince()),
		Backing:    string(r.cfg.Backing),
		WorkerCPU:  r.cfg.WorkerCPU,
		TriggerCPU: r.cfg.TriggerCPU,
	}
}

// cleanup stops the worker and tears down the regions still mapped.
func (r *Run) cleanup() {
	if r.worker != nil {
		r.worker.Stop()
		if !r.waitWorker(r.cfg.StopTimeout.Std()) {
			r.Error("worker still running, leaving regions mapped")
			return
		}
	}
	for idx, reg := range r.regions {
		if err := reg.Teardown(); err != nil && !errors.Is(err, region.ErrTornDown) {
			r.Warn("failed to tear down region %c: %v", 'A'+idx, err)
		}
	}
}

func benchError(format string, args ...interface{}) error {
	return fmt.Errorf("bench: "+format, args...)
}
