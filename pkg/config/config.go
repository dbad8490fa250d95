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

package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"
)

// Fixed measurement geometry. These are build-time constants on purpose:
// results are only comparable across runs with identical geometry.
const (
	// RegionSize is the size of each of the two memory regions.
	RegionSize = 1 << 30
	// BatchPages is the number of pages touched per timed batch.
	BatchPages = 16
	// ReportBytes is the number of bytes touched between two snapshots.
	ReportBytes = 128 << 20
	// SnapshotCapacity is the hard capacity of the snapshot buffer.
	SnapshotCapacity = 10000
)

// PageSize is the system page size.
var PageSize = os.Getpagesize()

// Backing selects how memory regions are provided.
type Backing string

const (
	// BackingFile maps a shared, file-backed region (tmpfs by default).
	BackingFile Backing = "file"
	// BackingNUMA allocates anonymous memory bound to the worker's NUMA node.
	BackingNUMA Backing = "numa"
)

// Gate selects how the invalidation trigger waits before firing.
type Gate string

const (
	// GateDelay waits for a fixed warm-up delay.
	GateDelay Gate = "delay"
	// GatePrompt waits for the operator to confirm on the console.
	GatePrompt Gate = "prompt"
)

// Config is the runtime configuration of a measurement run.
type Config struct {
	// WorkerCPU is the CPU the page-touching worker is pinned to.
	WorkerCPU int `json:"workerCPU"`
	// TriggerCPU is the CPU the invalidation trigger is pinned to.
	TriggerCPU int `json:"triggerCPU"`
	// Backing is the memory region backing kind.
	Backing Backing `json:"backing"`
	// RegionFiles are the backing files of regions A and B.
	RegionFiles []string `json:"regionFiles,omitempty"`
	// Gate is the ready gate policy of the invalidation trigger.
	Gate Gate `json:"gate"`
	// WarmupDelay is how long the delay gate waits before firing.
	WarmupDelay Duration `json:"warmupDelay"`
	// SettleDelay is how long to keep measuring after the teardown.
	SettleDelay Duration `json:"settleDelay"`
	// StopTimeout bounds waiting for the worker to stop.
	StopTimeout Duration `json:"stopTimeout"`
	// PidFile is the path of the PID file guarding against concurrent runs.
	PidFile string `json:"pidFile,omitempty"`
	// Telemetry configures where results are published.
	Telemetry Telemetry `json:"telemetry"`
}

// Telemetry configures result publishing.
type Telemetry struct {
	// Endpoint is the host:port of the line protocol UDP listener.
	Endpoint string `json:"endpoint"`
	// SendPacing is the delay inserted after each datagram.
	SendPacing Duration `json:"sendPacing"`
	// Statsd is an optional DogStatsD host:port to publish gauges to.
	Statsd string `json:"statsd,omitempty"`
	// PromTextfile is an optional Prometheus textfile collector output path.
	PromTextfile string `json:"promTextfile,omitempty"`
	// ResultsFile is an optional JSON results output path.
	ResultsFile string `json:"resultsFile,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WorkerCPU:   23,
		TriggerCPU:  22,
		Backing:     BackingFile,
		RegionFiles: []string{"/dev/shm/file01", "/dev/shm/file02"},
		Gate:        GateDelay,
		WarmupDelay: Duration(2 * time.Second),
		SettleDelay: Duration(1 * time.Second),
		StopTimeout: Duration(5 * time.Second),
		Telemetry: Telemetry{
			Endpoint:   "localhost:8089",
			SendPacing: Duration(time.Millisecond),
		},
	}
}

// LoadFile merges the YAML (or JSON) configuration file at path into c.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return configError("failed to read file %q: %v", path, err)
	}
	if err := yaml.UnmarshalStrict(raw, c); err != nil {
		return configError("failed to load configuration from file %q: %v", path, err)
	}
	return nil
}

// Bind binds the configuration to command line flags of fs.
func (c *Config) Bind(fs *flag.FlagSet) {
	fs.IntVar(&c.WorkerCPU, "worker-cpu", c.WorkerCPU, "CPU to pin the page-touching worker to")
	fs.IntVar(&c.TriggerCPU, "trigger-cpu", c.TriggerCPU, "CPU to pin the invalidation trigger to")
	fs.Var(&stringValue{(*string)(&c.Backing)}, "backing", "region backing: file or numa")
	fs.Var(&listValue{&c.RegionFiles}, "region-files", "comma-separated backing files of regions A and B")
	fs.Var(&stringValue{(*string)(&c.Gate)}, "gate", "ready gate: delay or prompt")
	fs.Var(&c.WarmupDelay, "warmup-delay", "delay before triggering the invalidation")
	fs.Var(&c.SettleDelay, "settle-delay", "delay after the invalidation before publishing")
	fs.Var(&c.StopTimeout, "stop-timeout", "maximum time to wait for the worker to stop")
	fs.StringVar(&c.PidFile, "pid-file", c.PidFile, "PID file guarding against concurrent runs")
	fs.StringVar(&c.Telemetry.Endpoint, "telemetry", c.Telemetry.Endpoint, "line protocol UDP endpoint host:port")
	fs.Var(&c.Telemetry.SendPacing, "send-pacing", "delay after each telemetry datagram")
	fs.StringVar(&c.Telemetry.Statsd, "statsd", c.Telemetry.Statsd, "optional DogStatsD endpoint host:port")
	fs.StringVar(&c.Telemetry.PromTextfile, "prom-textfile", c.Telemetry.PromTextfile, "optional Prometheus textfile output path")
	fs.StringVar(&c.Telemetry.ResultsFile, "results-file", c.Telemetry.ResultsFile, "optional JSON results output path")
}

// Validate checks the configuration, collecting every problem found.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.WorkerCPU < 0 {
		result = multierror.Append(result, configError("invalid worker CPU %d", c.WorkerCPU))
	}
	if c.TriggerCPU < 0 {
		result = multierror.Append(result, configError("invalid trigger CPU %d", c.TriggerCPU))
	}
	if c.WorkerCPU == c.TriggerCPU {
		result = multierror.Append(result,
			configError("worker and trigger must use different CPUs, both are %d", c.WorkerCPU))
	}

	switch c.Backing {
	case BackingFile:
		if len(c.RegionFiles) != 2 {
			result = multierror.Append(result,
				configError("file backing needs exactly 2 region files, got %d", len(c.RegionFiles)))
		} else if c.RegionFiles[0] == c.RegionFiles[1] {
			result = multierror.Append(result,
				configError("regions A and B must use different files, both are %q", c.RegionFiles[0]))
		}
	case BackingNUMA:
	default:
		result = multierror.Append(result, configError("invalid backing %q", c.Backing))
	}

	switch c.Gate {
	case GateDelay:
		if c.WarmupDelay <= 0 {
			result = multierror.Append(result, configError("warm-up delay must be positive"))
		}
	case GatePrompt:
	default:
		result = multierror.Append(result, configError("invalid gate %q", c.Gate))
	}

	if c.SettleDelay < 0 {
		result = multierror.Append(result, configError("settle delay must not be negative"))
	}
	if c.StopTimeout <= 0 {
		result = multierror.Append(result, configError("stop timeout must be positive"))
	}
	if c.Telemetry.SendPacing < 0 {
		result = multierror.Append(result, configError("send pacing must not be negative"))
	}

	if err := validateEndpoint(c.Telemetry.Endpoint); err != nil {
		result = multierror.Append(result, configError("invalid telemetry endpoint: %v", err))
	}
	if c.Telemetry.Statsd != "" {
		if err := validateEndpoint(c.Telemetry.Statsd); err != nil {
			result = multierror.Append(result, configError("invalid statsd endpoint: %v", err))
		}
	}

	return result.ErrorOrNil()
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<failed to marshal configuration: %v>", err)
	}
	return strings.TrimRight(string(raw), "\n")
}

func validateEndpoint(endpoint string) error {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("missing host in %q", endpoint)
	}
	if p, err := strconv.ParseUint(port, 10, 16); err != nil || p == 0 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

// configError returns a formatted configuration error.
func configError(format string, args ...interface{}) error {
	return fmt.Errorf("config: "+format, args...)
}
