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

// Package region provides the pre-faulted memory regions touched by the
// measurement worker and torn down by the invalidation trigger.
package region

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	logger "github.com/intel/tlb-shootdown/pkg/log"
)

// Kind is the backing kind of a memory region.
type Kind int

const (
	// MappedFile is a shared, writable mapping of a backing file.
	MappedFile Kind = iota
	// NUMALocal is anonymous memory bound to a single NUMA node.
	NUMALocal
)

// ErrTornDown is returned when tearing down an already torn down region.
var ErrTornDown = errors.New("region already torn down")

var log = logger.NewLogger("region")

// Region is a fully committed and resident memory region.
type Region struct {
	sync.Mutex
	kind     Kind
	mem      []byte
	size     int
	pageSize int
	path     string // backing file, for MappedFile
	node     int    // NUMA node, for NUMALocal
	release  func() error
	torn     bool
}

// String returns the name of the backing kind.
func (k Kind) String() string {
	switch k {
	case MappedFile:
		return "mapped-file"
	case NUMALocal:
		return "numa-local"
	}
	return fmt.Sprintf("<unknown region kind %d>", int(k))
}

// Prefault writes the first byte of every page in ascending address order.
func (r *Region) Prefault() {
	for off := 0; off < r.size-1; off += r.pageSize {
		r.mem[off] = 0
	}
}

// Bytes returns the memory of the region. It must not be accessed after
// Teardown.
func (r *Region) Bytes() []byte {
	return r.mem
}

// Size returns the size of the region in bytes.
func (r *Region) Size() int {
	return r.size
}

// PageSize returns the page size the region was pre-faulted with.
func (r *Region) PageSize() int {
	return r.pageSize
}

// Base returns the start address of the region.
func (r *Region) Base() uintptr {
	if len(r.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.mem[0]))
}

// Kind returns the backing kind of the region.
func (r *Region) Kind() Kind {
	return r.kind
}

// Path returns the backing file of a MappedFile region.
func (r *Region) Path() string {
	return r.path
}

// Node returns the NUMA node of a NUMALocal region, or -1.
func (r *Region) Node() int {
	if r.kind != NUMALocal {
		return -1
	}
	return r.node
}

// TornDown returns whether the region has been unmapped.
func (r *Region) TornDown() bool {
	r.Lock()
	defer r.Unlock()
	return r.torn
}

// Unmap unmaps the region, keeping its backing resources. Only the first
// call unmaps, any later one returns ErrTornDown.
func (r *Region) Unmap() error {
	r.Lock()
	defer r.Unlock()

	if r.torn {
		return ErrTornDown
	}
	r.torn = true

	err := munmap(r.mem)
	r.mem = nil
	if err != nil {
		return errors.Wrapf(err, "failed to unmap %s region", r.kind)
	}
	return nil
}

// Release releases the backing resources of an unmapped region, such as
// the lock of its backing file. Releasing a mapped region fails.
func (r *Region) Release() error {
	r.Lock()
	defer r.Unlock()

	if !r.torn {
		return regionError("cannot release mapped %s region", r.kind)
	}
	if r.release == nil {
		return nil
	}
	release := r.release
	r.release = nil
	if err := release(); err != nil {
		return errors.Wrapf(err, "failed to release %s region", r.kind)
	}
	return nil
}

// Teardown unmaps the region and releases its backing resources. Backing
// resources are released even if the region was already unmapped, in which
// case ErrTornDown is returned.
func (r *Region) Teardown() error {
	err := r.Unmap()
	if rerr := r.Release(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// String returns a short description of the region.
func (r *Region) String() string {
	switch r.kind {
	case MappedFile:
		return fmt.Sprintf("%s:%s(%d bytes)", r.kind, r.path, r.size)
	case NUMALocal:
		return fmt.Sprintf("%s:node%d(%d bytes)", r.kind, r.node, r.size)
	}
	return fmt.Sprintf("%s(%d bytes)", r.kind, r.size)
}

func checkSize(size int) error {
	if size <= 0 {
		return regionError("invalid region size %d", size)
	}
	if size%os.Getpagesize() != 0 {
		return regionError("region size %d is not a multiple of the page size %d",
			size, os.Getpagesize())
	}
	return nil
}

func regionError(format string, args ...interface{}) error {
	return fmt.Errorf("region: "+format, args...)
}
