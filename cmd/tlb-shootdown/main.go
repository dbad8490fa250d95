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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/intel/tlb-shootdown/pkg/bench"
	"github.com/intel/tlb-shootdown/pkg/config"
	logger "github.com/intel/tlb-shootdown/pkg/log"
	"github.com/intel/tlb-shootdown/pkg/pidfile"
	"github.com/intel/tlb-shootdown/pkg/telemetry"
	"github.com/intel/tlb-shootdown/pkg/version"
)

func main() {
	log := logger.Default()

	cfg, err := config.Parse(os.Args[0], os.Args[1:], logger.RegisterFlags, version.RegisterFlags)
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal("%v", err)
	}

	logger.SetupDebugToggleSignal(syscall.SIGUSR1, "bench", "toucher", "trigger", "region")
	log.DebugBlock("  ", "configuration:\n%s", cfg)

	pid := pidfile.New(cfg.PidFile)
	if err := pid.Acquire(); err != nil {
		log.Fatal("%v", err)
	}

	report, err := run(cfg)
	if relErr := pid.Release(); relErr != nil {
		log.Warn("%v", relErr)
	}
	if err != nil {
		log.Fatal("%v", err)
	}

	fmt.Println(report.Summary.Table(
		[2]string{"dropped samples", fmt.Sprintf("%d", report.Dropped)},
		[2]string{"teardown", report.TeardownDuration().String()},
		[2]string{"race won", fmt.Sprintf("%v", report.RaceWon)},
	))
}

func run(cfg *config.Config) (*telemetry.Report, error) {
	publishers, err := setupPublishers(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := telemetry.CloseAll(publishers...); err != nil {
			logger.Warn("%v", err)
		}
	}()

	r, err := bench.New(cfg, bench.WithPublishers(publishers...))
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return r.Execute(ctx)
}

func setupPublishers(cfg *config.Config) ([]telemetry.Publisher, error) {
	var publishers []telemetry.Publisher

	influx, err := telemetry.NewInfluxUDP(cfg.Telemetry.Endpoint, cfg.Telemetry.SendPacing.Std())
	if err != nil {
		return nil, err
	}
	publishers = append(publishers, influx)

	if cfg.Telemetry.Statsd != "" {
		s, err := telemetry.NewStatsd(cfg.Telemetry.Statsd)
		if err != nil {
			telemetry.CloseAll(publishers...)
			return nil, err
		}
		publishers = append(publishers, s)
	}
	if cfg.Telemetry.PromTextfile != "" {
		publishers = append(publishers, telemetry.NewTextfile(cfg.Telemetry.PromTextfile))
	}
	if cfg.Telemetry.ResultsFile != "" {
		publishers = append(publishers, telemetry.NewResultsFile(cfg.Telemetry.ResultsFile))
	}

	return publishers, nil
}
