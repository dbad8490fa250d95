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

package affinity

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MaxCPUs is the number of CPUs a CPU affinity mask can hold.
const MaxCPUs = int(unsafe.Sizeof(unix.CPUSet{})) * 8

// Pin locks the calling goroutine to its OS thread and restricts the thread
// to cpu. On failure the goroutine is unlocked from its thread again. On
// success the lock is kept until Unpin: a thread exiting while still locked
// is destroyed by the runtime, so a modified affinity never leaks into the
// thread pool.
func Pin(cpu int) (*Pinned, error) {
	if cpu < 0 || cpu >= MaxCPUs {
		return nil, affinityError("invalid CPU #%d", cpu)
	}

	runtime.LockOSThread()

	previous, err := Current()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}

	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		runtime.UnlockOSThread()
		return nil, affinityError("failed to pin thread to CPU #%d: %v", cpu, err)
	}

	return &Pinned{CPU: cpu, Previous: previous}, nil
}

// Unpin restores the previous affinity of the thread and unlocks the calling
// goroutine from it. It must be called from the goroutine that pinned.
func (p *Pinned) Unpin() error {
	if p == nil {
		return nil
	}
	if len(p.Previous) == 0 {
		runtime.UnlockOSThread()
		return nil
	}

	var mask unix.CPUSet
	for _, cpu := range p.Previous {
		mask.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		// keep the thread locked, it dies with the goroutine
		return affinityError("failed to restore thread affinity: %v", err)
	}

	runtime.UnlockOSThread()
	return nil
}

// Current returns the CPUs the calling thread is allowed to run on.
func Current() ([]int, error) {
	var mask unix.CPUSet
	if err := unix.SchedGetaffinity(0, &mask); err != nil {
		return nil, affinityError("failed to get thread affinity: %v", err)
	}

	cpus := make([]int, 0, mask.Count())
	for cpu := 0; cpu < MaxCPUs && len(cpus) < cap(cpus); cpu++ {
		if mask.IsSet(cpu) {
			cpus = append(cpus, cpu)
		}
	}
	return cpus, nil
}
