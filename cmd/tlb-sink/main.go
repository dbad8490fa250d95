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
	"strings"
	"syscall"

	logger "github.com/intel/tlb-shootdown/pkg/log"
	"github.com/intel/tlb-shootdown/pkg/telemetry"
	"github.com/intel/tlb-shootdown/pkg/version"
)

// errEnough stops receiving once the requested number of records arrived.
var errEnough = fmt.Errorf("enough records")

func main() {
	log := logger.Default()

	optListen := flag.String("listen", "localhost:8089", "UDP address to receive line protocol on")
	optCount := flag.Int("count", 0, "exit after this many records, 0 for no limit")
	optStrict := flag.Bool("strict", false, "exit with an error if any record is malformed")
	logger.RegisterFlags(flag.CommandLine)
	version.RegisterFlags(flag.CommandLine)

	flag.Parse()

	if len(flag.Args()) != 0 {
		log.Error("unknown command-line arguments: %s", strings.Join(flag.Args(), ","))
		flag.Usage()
		os.Exit(1)
	}

	r, err := telemetry.Listen(*optListen)
	if err != nil {
		log.Fatal("%v", err)
	}
	defer r.Close()

	log.Info("listening on %s", r.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var snapshots, markers, malformed int
	err = r.Receive(ctx, func(rec telemetry.Record) error {
		if err := rec.Check(); err != nil {
			malformed++
			log.Warn("malformed record %s: %v", rec, err)
		}
		if rec.IsMarker() {
			markers++
		} else {
			snapshots++
		}
		fmt.Println(rec)

		if *optCount > 0 && snapshots+markers >= *optCount {
			return errEnough
		}
		return nil
	})
	stop()

	if err != nil && err != errEnough && err != context.Canceled {
		log.Fatal("%v", err)
	}

	log.Info("received %d snapshots, %d markers, %d malformed records",
		snapshots, markers, malformed)

	if *optStrict && malformed > 0 {
		r.Close()
		log.Fatal("%d malformed records", malformed)
	}
}
