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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intel/tlb-shootdown/pkg/testutils"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 23, cfg.WorkerCPU)
	require.Equal(t, 22, cfg.TriggerCPU)
	require.Equal(t, 2*time.Second, cfg.WarmupDelay.Std())
	require.Equal(t, time.Second, cfg.SettleDelay.Std())
	require.Equal(t, "localhost:8089", cfg.Telemetry.Endpoint)
}

func TestValidate(t *testing.T) {
	tcases := []struct {
		name   string
		modify func(*Config)
		errors int
		substr string
	}{
		{
			name:   "numa backing needs no files",
			modify: func(c *Config) { c.Backing = BackingNUMA; c.RegionFiles = nil },
		},
		{
			name:   "prompt gate ignores warm-up delay",
			modify: func(c *Config) { c.Gate = GatePrompt; c.WarmupDelay = 0 },
		},
		{
			name:   "same CPUs",
			modify: func(c *Config) { c.TriggerCPU = c.WorkerCPU },
			errors: 1,
			substr: "different CPUs",
		},
		{
			name:   "negative CPU",
			modify: func(c *Config) { c.WorkerCPU = -1 },
			errors: 1,
			substr: "invalid worker CPU",
		},
		{
			name:   "unknown backing",
			modify: func(c *Config) { c.Backing = "hugetlb" },
			errors: 1,
			substr: "invalid backing",
		},
		{
			name:   "single region file",
			modify: func(c *Config) { c.RegionFiles = []string{"/dev/shm/a"} },
			errors: 1,
			substr: "exactly 2 region files",
		},
		{
			name:   "shared region file",
			modify: func(c *Config) { c.RegionFiles = []string{"/dev/shm/a", "/dev/shm/a"} },
			errors: 1,
			substr: "different files",
		},
		{
			name:   "zero warm-up delay",
			modify: func(c *Config) { c.WarmupDelay = 0 },
			errors: 1,
			substr: "warm-up delay",
		},
		{
			name:   "unknown gate",
			modify: func(c *Config) { c.Gate = "signal" },
			errors: 1,
			substr: "invalid gate",
		},
		{
			name:   "missing port",
			modify: func(c *Config) { c.Telemetry.Endpoint = "localhost" },
			errors: 1,
			substr: "telemetry endpoint",
		},
		{
			name:   "non-numeric port",
			modify: func(c *Config) { c.Telemetry.Endpoint = "localhost:influx" },
			errors: 1,
			substr: "invalid port",
		},
		{
			name:   "bad statsd endpoint",
			modify: func(c *Config) { c.Telemetry.Statsd = ":8125" },
			errors: 1,
			substr: "statsd endpoint",
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			if tc.substr == "" {
				testutils.RequireErrors(t, cfg.Validate(), tc.errors)
			} else {
				testutils.RequireErrors(t, cfg.Validate(), tc.errors, tc.substr)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.TriggerCPU = cfg.WorkerCPU
	cfg.Backing = "bogus"
	cfg.Gate = "bogus"
	cfg.StopTimeout = 0
	testutils.RequireErrors(t, cfg.Validate(), 4,
		"different CPUs", "invalid backing", "invalid gate", "stop timeout")
}

func TestParse(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "tlb.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
workerCPU: 3
triggerCPU: 2
warmupDelay: 500ms
telemetry:
  endpoint: 127.0.0.1:9999
`), 0644))

	tcases := []struct {
		name    string
		args    []string
		check   func(*testing.T, *Config)
		invalid bool
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c *Config) {
				require.Equal(t, Default(), c)
			},
		},
		{
			name: "flags",
			args: []string{"-worker-cpu", "5", "-trigger-cpu", "4", "-backing", "numa", "-settle-delay", "250ms"},
			check: func(t *testing.T, c *Config) {
				require.Equal(t, 5, c.WorkerCPU)
				require.Equal(t, 4, c.TriggerCPU)
				require.Equal(t, BackingNUMA, c.Backing)
				require.Equal(t, 250*time.Millisecond, c.SettleDelay.Std())
			},
		},
		{
			name: "file",
			args: []string{"-config", file},
			check: func(t *testing.T, c *Config) {
				require.Equal(t, 3, c.WorkerCPU)
				require.Equal(t, 2, c.TriggerCPU)
				require.Equal(t, 500*time.Millisecond, c.WarmupDelay.Std())
				require.Equal(t, "127.0.0.1:9999", c.Telemetry.Endpoint)
				require.Equal(t, time.Millisecond, c.Telemetry.SendPacing.Std())
			},
		},
		{
			name: "flags override file",
			args: []string{"-worker-cpu", "7", "-config", file, "-region-files", "/tmp/a, /tmp/b"},
			check: func(t *testing.T, c *Config) {
				require.Equal(t, 7, c.WorkerCPU)
				require.Equal(t, 2, c.TriggerCPU)
				require.Equal(t, []string{"/tmp/a", "/tmp/b"}, c.RegionFiles)
			},
		},
		{
			name:    "invalid result",
			args:    []string{"-trigger-cpu", "23"},
			invalid: true,
		},
		{
			name:    "stray arguments",
			args:    []string{"extra"},
			invalid: true,
		},
		{
			name:    "missing file",
			args:    []string{"-config", filepath.Join(dir, "missing.yaml")},
			invalid: true,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Parse("test", tc.args)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestParseExtraFlags(t *testing.T) {
	verbose := false
	register := func(fs *flag.FlagSet) {
		fs.BoolVar(&verbose, "verbose", false, "")
	}
	_, err := Parse("test", []string{"-verbose"}, register)
	require.NoError(t, err)
	require.True(t, verbose)
}

func TestLoadFileStrict(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tlb.yaml")
	require.NoError(t, os.WriteFile(file, []byte("workerCore: 3\n"), 0644))
	require.Error(t, Default().LoadFile(file))
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	require.Equal(t, 90*time.Second, d.Std())
	raw, err := d.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"1m30s"`, string(raw))
	require.Error(t, d.UnmarshalJSON([]byte(`90`)))
}
