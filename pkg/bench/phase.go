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

package bench

import "fmt"

// Phase is the progress of a measurement run.
type Phase int

const (
	// Init sets up the run context and checks the CPU topology.
	Init Phase = iota
	// AllocateRegions creates and pre-faults regions A and B.
	AllocateRegions
	// SpawnWorker starts the page-touching worker on its CPU.
	SpawnWorker
	// AwaitWarmup waits on the ready gate while the worker warms up.
	AwaitWarmup
	// TriggerInvalidation tears down region A from the trigger CPU.
	TriggerInvalidation
	// DrainSettle keeps measuring for a while, then stops the worker.
	DrainSettle
	// Publish hands the collected data to the publishers.
	Publish
	// Done is the final phase of a run.
	Done
)

var phaseNames = map[Phase]string{
	Init:                "init",
	AllocateRegions:     "allocate-regions",
	SpawnWorker:         "spawn-worker",
	AwaitWarmup:         "await-warmup",
	TriggerInvalidation: "trigger-invalidation",
	DrainSettle:         "drain-settle",
	Publish:             "publish",
	Done:                "done",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("<unknown phase %d>", int(p))
}
