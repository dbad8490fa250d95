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
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"github.com/pkg/errors"

	logger "github.com/intel/tlb-shootdown/pkg/log"
)

// Record is a decoded line protocol point.
type Record struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]float64
	Time        int64
}

// DecodeLines decodes line protocol data into records. Integer and unsigned
// fields are converted to float64.
func DecodeLines(data []byte) ([]Record, error) {
	var records []Record

	dec := lineprotocol.NewDecoderWithBytes(data)
	for dec.Next() {
		m, err := dec.Measurement()
		if err != nil {
			return records, errors.Wrap(err, "invalid measurement")
		}
		rec := Record{
			Measurement: string(m),
			Tags:        map[string]string{},
			Fields:      map[string]float64{},
		}

		for {
			key, val, err := dec.NextTag()
			if err != nil {
				return records, errors.Wrap(err, "invalid tag")
			}
			if key == nil {
				break
			}
			rec.Tags[string(key)] = string(val)
		}

		for {
			key, val, err := dec.NextField()
			if err != nil {
				return records, errors.Wrap(err, "invalid field")
			}
			if key == nil {
				break
			}
			switch val.Kind() {
			case lineprotocol.Float:
				rec.Fields[string(key)] = val.FloatV()
			case lineprotocol.Int:
				rec.Fields[string(key)] = float64(val.IntV())
			case lineprotocol.Uint:
				rec.Fields[string(key)] = float64(val.UintV())
			default:
				return records, telemetryError("unexpected %s field %q", val.Kind(), key)
			}
		}

		t, err := dec.Time(lineprotocol.Nanosecond, time.Time{})
		if err != nil {
			return records, errors.Wrap(err, "invalid timestamp")
		}
		if t.IsZero() {
			return records, telemetryError("%s point without timestamp", rec.Measurement)
		}
		rec.Time = t.UnixNano()

		records = append(records, rec)
	}

	return records, nil
}

// IsMarker returns true if the record is a teardown marker.
func (r Record) IsMarker() bool {
	_, ok := r.Tags["op_name"]
	return ok
}

// Check verifies that the record is a well-formed snapshot or marker.
func (r Record) Check() error {
	var result *multierror.Error

	if r.Measurement != Measurement {
		result = multierror.Append(result, telemetryError("unexpected measurement %q", r.Measurement))
	}

	if r.IsMarker() {
		if op := r.Tags["op_name"]; op != OpBefore && op != OpAfter {
			result = multierror.Append(result, telemetryError("unexpected op_name %q", op))
		}
		if v, ok := r.Fields["foo"]; !ok || v != 1 {
			result = multierror.Append(result, telemetryError("marker without foo=1"))
		}
		return result.ErrorOrNil()
	}

	names := []string{"mean", "min", "p50", "p90", "p99", "max"}
	for _, name := range names {
		if _, ok := r.Fields[name]; !ok {
			result = multierror.Append(result, telemetryError("missing field %q", name))
		}
	}
	if result.ErrorOrNil() != nil {
		return result
	}

	f := r.Fields
	if !(f["min"] <= f["p50"] && f["p50"] <= f["p90"] && f["p90"] <= f["p99"] && f["p99"] <= f["max"]) {
		result = multierror.Append(result, telemetryError("percentiles out of order"))
	}
	if f["mean"] < f["min"] || f["mean"] > f["max"] {
		result = multierror.Append(result, telemetryError("mean outside [min, max]"))
	}

	return result.ErrorOrNil()
}

// String returns the record in a compact human readable form.
func (r Record) String() string {
	var tags, fields []string
	for k, v := range r.Tags {
		tags = append(tags, k+"="+v)
	}
	for k, v := range r.Fields {
		fields = append(fields, k+"="+strconv.FormatFloat(v, 'f', -1, 64))
	}
	sort.Strings(tags)
	sort.Strings(fields)

	name := r.Measurement
	if len(tags) > 0 {
		name += "," + strings.Join(tags, ",")
	}
	return name + " " + strings.Join(fields, ",") + " " +
		time.Unix(0, r.Time).UTC().Format(time.RFC3339Nano)
}

// Receiver listens for line protocol datagrams.
type Receiver struct {
	logger.Logger
	conn net.PacketConn
}

// Listen creates a receiver bound to addr.
func Listen(addr string) (*Receiver, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return &Receiver{
		Logger: logger.NewLogger("receiver"),
		conn:   conn,
	}, nil
}

// Addr returns the address the receiver is bound to.
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Receive decodes incoming datagrams and passes every record to fn until ctx
// is done or fn fails. Undecodable datagrams are logged and skipped.
func (r *Receiver) Receive(ctx context.Context, fn func(Record) error) error {
	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return errors.Wrap(err, "failed to set read deadline")
		}

		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			return errors.Wrap(err, "failed to receive")
		}

		records, err := DecodeLines(buf[:n])
		if err != nil {
			r.Warn("invalid datagram from %s: %v", from, err)
		}
		for _, rec := range records {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
}

// Close closes the receiver.
func (r *Receiver) Close() error {
	return r.conn.Close()
}
