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

// Package toucher implements the pinned worker timing page-touch batches.
package toucher

import (
	"fmt"

	"github.com/intel/tlb-shootdown/pkg/config"
)

// Geometry is the traversal geometry of the worker.
type Geometry struct {
	// PageSize is the distance between two touched bytes.
	PageSize int
	// BatchPages is the number of pages touched per timed batch.
	BatchPages int
	// ReportBytes is the number of bytes touched between two snapshots.
	ReportBytes int
}

// DefaultGeometry returns the build-time traversal geometry.
func DefaultGeometry() Geometry {
	return Geometry{
		PageSize:    config.PageSize,
		BatchPages:  config.BatchPages,
		ReportBytes: config.ReportBytes,
	}
}

// BatchBytes returns the number of bytes covered by a single batch.
func (g Geometry) BatchBytes() int {
	return g.PageSize * g.BatchPages
}

// FullBatches returns the number of complete batches fitting into size
// bytes. A trailing partial batch is never executed.
func (g Geometry) FullBatches(size int) int {
	if g.BatchBytes() <= 0 || size <= 0 {
		return 0
	}
	return size / g.BatchBytes()
}

// BatchesPerReport returns the number of batches between two snapshots.
func (g Geometry) BatchesPerReport() int {
	bb := g.BatchBytes()
	if bb <= 0 {
		return 0
	}
	return (g.ReportBytes + bb - 1) / bb
}

// Validate checks the geometry.
func (g Geometry) Validate() error {
	if g.PageSize <= 0 {
		return toucherError("invalid page size %d", g.PageSize)
	}
	if g.BatchPages <= 0 {
		return toucherError("invalid batch size of %d pages", g.BatchPages)
	}
	if g.ReportBytes < g.BatchBytes() {
		return toucherError("report cadence %d is below the batch size %d",
			g.ReportBytes, g.BatchBytes())
	}
	return nil
}

// String returns the geometry in a human readable form.
func (g Geometry) String() string {
	return fmt.Sprintf("%d x %d-byte pages per batch, report every %d bytes",
		g.BatchPages, g.PageSize, g.ReportBytes)
}

func toucherError(format string, args ...interface{}) error {
	return fmt.Errorf("toucher: "+format, args...)
}
