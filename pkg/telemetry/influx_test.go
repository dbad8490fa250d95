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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/tlb-shootdown/pkg/stats"
)

var testSnapshots = []stats.Snapshot{
	{Timestamp: 1700000000000000001, Mean: 200, Min: 100, P50: 200, P90: 300, P99: 300, Max: 300},
	{Timestamp: 1700000000000000002, Mean: 12.3456, Min: 3, P50: 11, P90: 19, P99: 87, Max: 1023},
}

func testReport() *Report {
	return &Report{
		Snapshots:  testSnapshots,
		Before:     1700000000000000010,
		After:      1700000000000050010,
		Dropped:    2,
		RaceWon:    true,
		Backing:    "mapped-file",
		WorkerCPU:  23,
		TriggerCPU: 22,
		Summary:    stats.Summarize(testSnapshots, 1700000000000000002),
	}
}

func TestAppendSnapshot(t *testing.T) {
	require.Equal(t,
		"tlb_test mean=200.00,min=100,p50=200,p90=300,p99=300,max=300 1700000000000000001\n",
		string(AppendSnapshot(nil, testSnapshots[0])))
	require.Equal(t,
		"tlb_test mean=12.35,min=3,p50=11,p90=19,p99=87,max=1023 1700000000000000002\n",
		string(AppendSnapshot(nil, testSnapshots[1])))
	require.Equal(t,
		"tlb_test mean=0.00,min=0,p50=0,p90=0,p99=0,max=0 5\n",
		string(AppendSnapshot(nil, stats.Snapshot{Timestamp: 5})))
}

func TestAppendMarker(t *testing.T) {
	require.Equal(t, "tlb_test,op_name=before foo=1 1700000000000000010\n",
		string(AppendMarker(nil, OpBefore, 1700000000000000010)))
	require.Equal(t, "tlb_test,op_name=after foo=1 42\n",
		string(AppendMarker([]byte{}, OpAfter, 42)))
}

func TestInfluxUDPPublish(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	p, err := NewInfluxUDP(conn.LocalAddr().String(), time.Millisecond)
	require.NoError(t, err)
	defer p.Close()
	require.Equal(t, InfluxName, p.Name())

	start := time.Now()
	require.NoError(t, p.Publish(context.Background(), testReport()))
	require.GreaterOrEqual(t, time.Since(start), 4*time.Millisecond, "pacing after every datagram")
	require.Equal(t, int64(4), p.Sent())
	require.Equal(t, int64(0), p.Failed())

	expected := []string{
		"tlb_test mean=200.00,min=100,p50=200,p90=300,p99=300,max=300 1700000000000000001\n",
		"tlb_test mean=12.35,min=3,p50=11,p90=19,p99=87,max=1023 1700000000000000002\n",
		"tlb_test,op_name=before foo=1 1700000000000000010\n",
		"tlb_test,op_name=after foo=1 1700000000000050010\n",
	}
	buf := make([]byte, 2*MaxLineBytes)
	for _, line := range expected {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		n, _, err := conn.ReadFrom(buf)
		require.NoError(t, err)
		require.Equal(t, line, string(buf[:n]))
	}
}

func TestInfluxUDPUnreachable(t *testing.T) {
	// nothing listens on the port, sends fail or vanish but never abort
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())

	p, err := NewInfluxUDP(addr, 0)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), testReport()))
	require.NoError(t, p.Publish(context.Background(), testReport()))
	require.Equal(t, int64(8), p.Sent()+p.Failed())
}

func TestInfluxUDPCancelled(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	p, err := NewInfluxUDP(conn.LocalAddr().String(), time.Hour)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Publish(ctx, testReport()), context.DeadlineExceeded)
	require.Equal(t, int64(1), p.Sent())
}

func TestInfluxUDPInvalidEndpoint(t *testing.T) {
	_, err := NewInfluxUDP("localhost:notaport", 0)
	require.Error(t, err)
}
