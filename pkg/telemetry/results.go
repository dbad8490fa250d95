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
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

const (
	// ResultsName is the name of the JSON results publisher.
	ResultsName = "results-file"
)

// ResultsFile writes the full report as JSON, replacing the file atomically.
type ResultsFile struct {
	path string
}

// NewResultsFile creates a publisher writing to path.
func NewResultsFile(path string) *ResultsFile {
	return &ResultsFile{path: path}
}

// Name returns the name of the publisher.
func (p *ResultsFile) Name() string {
	return ResultsName
}

// Publish writes the report.
func (p *ResultsFile) Publish(ctx context.Context, r *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal results")
	}
	if err := atomic.WriteFile(p.path, bytes.NewReader(append(data, '\n'))); err != nil {
		return errors.Wrapf(err, "failed to write results to %s", p.path)
	}
	return nil
}

// Close is a no-op.
func (p *ResultsFile) Close() error {
	return nil
}

// ReadResultsFile reads a report written by a ResultsFile.
func ReadResultsFile(data []byte) (*Report, error) {
	r := &Report{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal results")
	}
	return r, nil
}

func timeOf(ns int64) time.Time {
	return time.Unix(0, ns)
}
