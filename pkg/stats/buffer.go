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

package stats

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	logger "github.com/intel/tlb-shootdown/pkg/log"
)

// ErrBufferFull is returned when appending to a full snapshot buffer.
var ErrBufferFull = errors.New("snapshot buffer full")

var log = logger.NewLogger("stats")

// Buffer is a fixed capacity, pre-allocated snapshot buffer with a single
// writer. The write cursor is published atomically after each append, so a
// reader always sees a fully written prefix, even while the writer runs.
type Buffer struct {
	slots     []Snapshot
	cursor    int64
	truncated int32
	refused   int64
	once      sync.Once
}

// NewBuffer creates a buffer for capacity snapshots.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{
		slots: make([]Snapshot, capacity),
	}
}

// Append stores s at the write cursor and advances the cursor. If the buffer
// is full s is refused with ErrBufferFull, the buffer is flagged truncated
// and the stored snapshots are left intact. Append must only be called from
// a single goroutine.
func (b *Buffer) Append(s Snapshot) error {
	idx := atomic.LoadInt64(&b.cursor)
	if idx >= int64(len(b.slots)) {
		atomic.StoreInt32(&b.truncated, 1)
		atomic.AddInt64(&b.refused, 1)
		b.once.Do(func() {
			log.Error("snapshot buffer full (capacity %d), further snapshots are dropped",
				len(b.slots))
		})
		return ErrBufferFull
	}

	b.slots[idx] = s
	atomic.StoreInt64(&b.cursor, idx+1)

	return nil
}

// Len returns the number of snapshots stored.
func (b *Buffer) Len() int {
	return int(atomic.LoadInt64(&b.cursor))
}

// Cap returns the capacity of the buffer.
func (b *Buffer) Cap() int {
	return len(b.slots)
}

// Truncated returns true if any snapshot has been refused.
func (b *Buffer) Truncated() bool {
	return atomic.LoadInt32(&b.truncated) != 0
}

// Refused returns the number of snapshots refused.
func (b *Buffer) Refused() int64 {
	return atomic.LoadInt64(&b.refused)
}

// Snapshots returns a copy of the stored snapshots, in append order.
func (b *Buffer) Snapshots() []Snapshot {
	n := b.Len()
	snaps := make([]Snapshot, n)
	copy(snaps, b.slots[:n])
	return snaps
}
