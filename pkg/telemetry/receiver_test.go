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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/tlb-shootdown/pkg/testutils"
)

func TestDecodeLines(t *testing.T) {
	var data []byte
	for _, s := range testSnapshots {
		data = AppendSnapshot(data, s)
	}
	data = AppendMarker(data, OpBefore, 10)
	data = AppendMarker(data, OpAfter, 20)

	records, err := DecodeLines(data)
	require.NoError(t, err)
	require.Len(t, records, 4)

	for _, rec := range records {
		require.NoError(t, rec.Check(), "record %s", rec)
		require.Equal(t, Measurement, rec.Measurement)
	}

	require.False(t, records[1].IsMarker())
	require.Equal(t, 12.35, records[1].Fields["mean"])
	require.Equal(t, 1023.0, records[1].Fields["max"])
	require.Equal(t, testSnapshots[1].Timestamp, records[1].Time)

	require.True(t, records[2].IsMarker())
	require.Equal(t, OpBefore, records[2].Tags["op_name"])
	require.Equal(t, int64(10), records[2].Time)
	require.Equal(t, OpAfter, records[3].Tags["op_name"])
	require.Equal(t, "tlb_test,op_name=after foo=1 1970-01-01T00:00:00.00000002Z", records[3].String())
}

func TestDecodeLinesInvalid(t *testing.T) {
	for _, data := range []string{
		"tlb_test mean=1.00 \n",
		"tlb_test mean=\"x\" 1\n",
		"tlb_test,op_name foo=1 1\n",
	} {
		_, err := DecodeLines([]byte(data))
		require.Error(t, err, "%q", data)
	}
}

func TestRecordCheck(t *testing.T) {
	snapshot := func() Record {
		return Record{
			Measurement: Measurement,
			Tags:        map[string]string{},
			Fields:      map[string]float64{"mean": 2, "min": 1, "p50": 2, "p90": 3, "p99": 3, "max": 4},
			Time:        1,
		}
	}
	tcases := []struct {
		name   string
		modify func(*Record)
		errors int
	}{
		{name: "valid snapshot", modify: func(*Record) {}},
		{name: "wrong measurement", modify: func(r *Record) { r.Measurement = "cpu" }, errors: 1},
		{name: "missing p90", modify: func(r *Record) { delete(r.Fields, "p90") }, errors: 1},
		{
			name:   "missing p50 and p99",
			modify: func(r *Record) { delete(r.Fields, "p50"); delete(r.Fields, "p99") },
			errors: 2,
		},
		{name: "unordered", modify: func(r *Record) { r.Fields["p50"] = 5 }, errors: 1},
		{name: "mean above max", modify: func(r *Record) { r.Fields["mean"] = 5 }, errors: 1},
		{
			name: "valid marker",
			modify: func(r *Record) {
				r.Tags["op_name"] = OpAfter
				r.Fields = map[string]float64{"foo": 1}
			},
		},
		{
			name: "unknown marker",
			modify: func(r *Record) {
				r.Tags["op_name"] = "during"
				r.Fields = map[string]float64{"foo": 1}
			},
			errors: 1,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := snapshot()
			tc.modify(&r)
			testutils.RequireErrors(t, r.Check(), tc.errors)
		})
	}
}

func TestReceiver(t *testing.T) {
	r, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer r.Close()

	p, err := NewInfluxUDP(r.Addr().String(), 0)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := make(chan []Record, 1)
	go func() {
		var records []Record
		_ = r.Receive(ctx, func(rec Record) error {
			records = append(records, rec)
			if len(records) == 4 {
				cancel()
			}
			return nil
		})
		received <- records
	}()

	require.NoError(t, p.Publish(context.Background(), testReport()))

	records := <-received
	require.Len(t, records, 4)
	require.Equal(t, OpAfter, records[3].Tags["op_name"])
}
