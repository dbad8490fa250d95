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

package region

import (
	"os"
	"unsafe"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	// mbind(2) memory policy binding allocations to the given nodes
	mpolBind = 2
)

// NewMappedFile creates or extends the backing file at path to size bytes,
// locks it against concurrent runs, maps it shared and writable, then
// pre-faults every page.
func NewMappedFile(path string, size int) (*Region, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to lock backing file %q", path)
	}
	if !locked {
		return nil, regionError("backing file %q is in use by another run", path)
	}

	mem, err := mapFile(path, size)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	r := &Region{
		kind:     MappedFile,
		mem:      mem,
		size:     size,
		pageSize: os.Getpagesize(),
		path:     path,
		release:  lock.Unlock,
	}
	r.Prefault()

	log.Debug("created %s", r)

	return r, nil
}

func mapFile(path string, size int) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open backing file %q", path)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return nil, errors.Wrapf(err, "failed to extend backing file %q to %d bytes", path, size)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map backing file %q", path)
	}

	return mem, nil
}

// NewNUMALocal allocates size bytes of anonymous memory bound to NUMA node
// node, then pre-faults every page.
func NewNUMALocal(node int, size int) (*Region, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if node < 0 {
		return nil, regionError("invalid NUMA node %d", node)
	}

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %d bytes", size)
	}

	if err := mbind(mem, node); err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}

	r := &Region{
		kind:     NUMALocal,
		mem:      mem,
		size:     size,
		pageSize: os.Getpagesize(),
		node:     node,
	}
	r.Prefault()

	log.Debug("created %s", r)

	return r, nil
}

func mbind(mem []byte, node int) error {

	// syscall:
	// long mbind(void *addr, unsigned long len, int mode,
	//            const unsigned long *nodemask, unsigned long maxnode,
	//            unsigned int flags);

	mask := make([]uint64, node/64+1)
	mask[node/64] |= 1 << uint(node%64)
	maxnode := uintptr(len(mask)*64 + 1)

	_, _, en := unix.Syscall6(unix.SYS_MBIND, uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)),
		mpolBind, uintptr(unsafe.Pointer(&mask[0])), maxnode, 0)
	if en != 0 {
		return errors.Wrapf(unix.Errno(en), "failed to bind memory to NUMA node %d", node)
	}

	return nil
}

func munmap(mem []byte) error {
	if mem == nil {
		return nil
	}
	return unix.Munmap(mem)
}
