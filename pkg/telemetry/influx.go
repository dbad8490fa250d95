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
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	logger "github.com/intel/tlb-shootdown/pkg/log"
	"github.com/intel/tlb-shootdown/pkg/stats"
)

const (
	// MaxLineBytes bounds a single line, and datagram, to the default MTU.
	MaxLineBytes = 1500
	// InfluxName is the name of the line protocol publisher.
	InfluxName = "influx-udp"
)

// AppendSnapshot appends the line protocol form of s, newline included:
//
//	tlb_test mean=<float>,min=<int>,p50=<int>,p90=<int>,p99=<int>,max=<int> <ns>
func AppendSnapshot(buf []byte, s stats.Snapshot) []byte {
	buf = append(buf, Measurement...)
	buf = append(buf, " mean="...)
	buf = strconv.AppendFloat(buf, s.Mean, 'f', 2, 64)
	buf = append(buf, ",min="...)
	buf = strconv.AppendInt(buf, s.Min, 10)
	buf = append(buf, ",p50="...)
	buf = strconv.AppendInt(buf, s.P50, 10)
	buf = append(buf, ",p90="...)
	buf = strconv.AppendInt(buf, s.P90, 10)
	buf = append(buf, ",p99="...)
	buf = strconv.AppendInt(buf, s.P99, 10)
	buf = append(buf, ",max="...)
	buf = strconv.AppendInt(buf, s.Max, 10)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, s.Timestamp, 10)
	return append(buf, '\n')
}

// AppendMarker appends the line protocol form of a teardown timestamp:
//
//	tlb_test,op_name=<op> foo=1 <ns>
func AppendMarker(buf []byte, op string, ns int64) []byte {
	buf = append(buf, Measurement...)
	buf = append(buf, ",op_name="...)
	buf = append(buf, op...)
	buf = append(buf, " foo=1 "...)
	buf = strconv.AppendInt(buf, ns, 10)
	return append(buf, '\n')
}

// InfluxUDP publishes reports as line protocol datagrams, one line each.
type InfluxUDP struct {
	logger.Logger
	conn   net.Conn
	buf    []byte
	pacing time.Duration
	sent   int64
	failed int64
	errlog logger.Logger
}

// NewInfluxUDP creates a publisher sending to endpoint, resolved once here.
// Every datagram is followed by a pause of pacing.
func NewInfluxUDP(endpoint string, pacing time.Duration) (*InfluxUDP, error) {
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %q", endpoint)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to set up UDP socket for %s", addr)
	}

	l := logger.NewLogger("influx")
	return &InfluxUDP{
		Logger: l,
		conn:   conn,
		buf:    make([]byte, 0, MaxLineBytes),
		pacing: pacing,
		errlog: logger.RateLimit(l, logger.Interval(time.Second)),
	}, nil
}

// Name returns the name of the publisher.
func (p *InfluxUDP) Name() string {
	return InfluxName
}

// Publish sends every snapshot, then the before and after teardown markers.
// Send failures are counted, never returned.
func (p *InfluxUDP) Publish(ctx context.Context, r *Report) error {
	for _, s := range r.Snapshots {
		p.buf = AppendSnapshot(p.buf[:0], s)
		if err := p.transmit(ctx); err != nil {
			return err
		}
	}

	p.buf = AppendMarker(p.buf[:0], OpBefore, r.Before)
	if err := p.transmit(ctx); err != nil {
		return err
	}
	p.buf = AppendMarker(p.buf[:0], OpAfter, r.After)
	if err := p.transmit(ctx); err != nil {
		return err
	}

	if failed := p.Failed(); failed > 0 {
		p.Warn("%d of %d datagrams could not be sent", failed, failed+p.Sent())
	}

	return nil
}

// transmit sends the buffered line and paces. It only fails if ctx is done.
func (p *InfluxUDP) transmit(ctx context.Context) error {
	if len(p.buf) > MaxLineBytes {
		atomic.AddInt64(&p.failed, 1)
		p.errlog.Debug("line of %d bytes exceeds %d bytes, dropped", len(p.buf), MaxLineBytes)
	} else if _, err := p.conn.Write(p.buf); err != nil {
		atomic.AddInt64(&p.failed, 1)
		p.errlog.Debug("send failed: %v", err)
	} else {
		atomic.AddInt64(&p.sent, 1)
	}

	if p.pacing <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(p.pacing)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent returns the number of datagrams sent.
func (p *InfluxUDP) Sent() int64 {
	return atomic.LoadInt64(&p.sent)
}

// Failed returns the number of datagrams which could not be sent.
func (p *InfluxUDP) Failed() int64 {
	return atomic.LoadInt64(&p.failed)
}

// Close closes the socket.
func (p *InfluxUDP) Close() error {
	return p.conn.Close()
}
